package deadletter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const migrationsLogPrefix = "deadletter:migrations"

// migrations are applied in order; each entry runs at most once, tracked in
// schema_migrations by name.
var migrations = []struct {
	Name string
	SQL  string
}{
	{
		Name: "001_dead_letters",
		SQL: `
CREATE TABLE IF NOT EXISTS dead_letters (
	id          BIGSERIAL PRIMARY KEY,
	request_id  TEXT NOT NULL DEFAULT '',
	method      TEXT NOT NULL DEFAULT '',
	subject     TEXT NOT NULL DEFAULT '',
	code        TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	causes      JSONB,
	received_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS dead_letters_method_idx ON dead_letters (method);
CREATE INDEX IF NOT EXISTS dead_letters_received_at_idx ON dead_letters (received_at DESC);
`,
	},
}

// RunMigrations applies the embedded migrations that have not run yet.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name       TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("%s - failed to create schema_migrations: %w", migrationsLogPrefix, err)
	}

	applied := 0
	for _, m := range migrations {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, m.Name).Scan(&exists)
		if err != nil {
			return fmt.Errorf("%s - failed to check migration %s: %w", migrationsLogPrefix, m.Name, err)
		}
		if exists {
			continue
		}
		if _, err := pool.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("%s - migration %s failed: %w", migrationsLogPrefix, m.Name, err)
		}
		if _, err := pool.Exec(ctx,
			`INSERT INTO schema_migrations (name) VALUES ($1)`, m.Name); err != nil {
			return fmt.Errorf("%s - failed to record migration %s: %w", migrationsLogPrefix, m.Name, err)
		}
		applied++
	}

	slog.Info(fmt.Sprintf("%s - Migrations complete (%d applied, %d total)", migrationsLogPrefix, applied, len(migrations)))
	return nil
}

// MigrationStatus prints which embedded migrations have been applied.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool) error {
	var exists bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'schema_migrations')`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%s - failed to check schema: %w", migrationsLogPrefix, err)
	}
	if !exists {
		fmt.Printf("Migration status: not applied (run 'gateway migrate up'). %d embedded migrations\n", len(migrations))
		return nil
	}

	for _, m := range migrations {
		var applied bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, m.Name).Scan(&applied)
		if err != nil {
			return fmt.Errorf("%s - failed to check migration %s: %w", migrationsLogPrefix, m.Name, err)
		}
		state := "pending"
		if applied {
			state = "applied"
		}
		fmt.Printf("%-24s %s\n", m.Name, state)
	}
	return nil
}

// MigrationDown rolls back the last migration. Migrations are forward-only;
// this is a no-op with a message.
func MigrationDown(_ context.Context, _ *pgxpool.Pool) error {
	fmt.Println("Migration down: not supported (migrations are forward-only). Use a database backup to roll back.")
	return nil
}
