// Package main is the entrypoint for the comms-gateway dead-letter daemon
// (binary name "gateway").
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/comms-gateway/internal/config"
	"github.com/morezero/comms-gateway/internal/server"
	"github.com/morezero/comms-gateway/pkg/bootstrap"
	"github.com/morezero/comms-gateway/pkg/deadletter"
	"github.com/morezero/comms-gateway/pkg/route"
)

const usage = `Usage: gateway [command]
       gateway serve            Start the dead-letter daemon (NATS intake, HTTP status).
       gateway migrate up       Run database migrations.
       gateway migrate down     Roll back one migration (migrations are forward-only).
       gateway migrate status   Show migration status.
       gateway purge            Delete all stored dead letters; schema is preserved.
       gateway check-config     Load and validate the gateway config file.

Commands:
  serve           (default) Start the dead-letter daemon.
  migrate up      Run database migrations only.
  migrate down    Roll back last migration (not supported; prints a message).
  migrate status  Show current migration status.
  purge           Delete dead-letter data; schema preserved.
  check-config    Load the gateway config file and print the resolved methods.

Environment: DATABASE_URL (required), COMMS_URL, DEAD_LETTER_SUBJECT, GATEWAY_CONFIG_FILE, GATEWAY_HTTP_ADDR (default :8080). See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("gateway migrate: require subcommand (up, down, status)")
		}
		sub := args[1]
		switch sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("gateway migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("gateway migrate status: %v", err)
			}
		case "down":
			if err := runMigrateDown(); err != nil {
				log.Fatalf("gateway migrate down: %v", err)
			}
		default:
			log.Fatalf("gateway migrate: unknown subcommand %q (use up, down, status)", sub)
		}
		return
	case "purge":
		if err := runPurge(); err != nil {
			log.Fatalf("gateway purge: %v", err)
		}
		return
	case "check-config":
		if err := runCheckConfig(os.Stdout); err != nil {
			log.Fatalf("gateway check-config: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("gateway: %v", err)
	}
}

// openDB loads config, validates the DB settings, and connects the pool.
// Every DB-dependent command goes through it.
func openDB() (context.Context, *pgxpool.Pool, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return nil, nil, err
	}
	ctx := context.Background()
	pool, err := deadletter.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return ctx, pool, nil
}

func runMigrateUp() error {
	ctx, pool, err := openDB()
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := deadletter.RunMigrations(ctx, pool); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrateStatus() error {
	ctx, pool, err := openDB()
	if err != nil {
		return err
	}
	defer pool.Close()

	return deadletter.MigrationStatus(ctx, pool)
}

func runMigrateDown() error {
	ctx, pool, err := openDB()
	if err != nil {
		return err
	}
	defer pool.Close()

	return deadletter.MigrationDown(ctx, pool)
}

func runPurge() error {
	ctx, pool, err := openDB()
	if err != nil {
		return err
	}
	defer pool.Close()

	removed, err := deadletter.NewStore(pool).Purge(ctx)
	if err != nil {
		return fmt.Errorf("purge dead letters: %w", err)
	}
	fmt.Printf("Purged %d dead letters.\n", removed)
	return nil
}

// runCheckConfig loads the gateway config file (GATEWAY_CONFIG_FILE or the
// default paths), builds the engine config from it, and prints the
// resolved methods. It fails on unknown modes, bad route keys, and
// unresolvable versioned targets, so a broken file is caught before serve.
func runCheckConfig(out io.Writer) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	file, err := bootstrap.LoadGatewayFile(cfg.GatewayFile)
	if err != nil {
		return err
	}
	gwCfg, err := bootstrap.BuildConfig(file)
	if err != nil {
		return err
	}

	if file.Name != "" {
		fmt.Fprintf(out, "Gateway: %s\n", file.Name)
	}
	fmt.Fprintf(out, "Defaults: timeout=%s errorSubject=%q\n",
		gwCfg.DefaultTimeout, gwCfg.DefaultErrorSubject)
	fmt.Fprintf(out, "Methods (%d):\n", len(gwCfg.Methods))
	for _, m := range gwCfg.Methods {
		subject := m.Target
		if route.IsVersionedRef(m.Target) {
			if gwCfg.Routes == nil {
				return fmt.Errorf("method %q: versioned target %q but no routes declared", m.Name, m.Target)
			}
			resolved, err := gwCfg.Routes.Resolve(m.Target)
			if err != nil {
				return fmt.Errorf("method %q: %w", m.Name, err)
			}
			subject = resolved.Subject
		}
		fmt.Fprintf(out, "  %-24s %-12s -> %s\n", m.Name, m.Mode, subject)
	}
	return nil
}
