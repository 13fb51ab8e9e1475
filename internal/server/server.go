// Package server orchestrates the dead-letter daemon: NATS client, DB,
// dead-letter intake, HTTP status.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/morezero/comms-gateway/internal/config"
	"github.com/morezero/comms-gateway/pkg/channel"
	"github.com/morezero/comms-gateway/pkg/commsutil"
	"github.com/morezero/comms-gateway/pkg/deadletter"
	"github.com/morezero/comms-gateway/pkg/envelope"
	"github.com/morezero/comms-gateway/pkg/events"
)

const logPrefix = "server:server"

// Server is the dead-letter daemon orchestrator.
type Server struct {
	cfg        *config.Config
	pool       *pgxpool.Pool
	store      *deadletter.Store
	httpServer *http.Server

	received prometheus.Counter
	stored   prometheus.Counter
	failed   prometheus.Counter
	dropped  prometheus.Counter
}

// SetupLogging configures slog from the LOG_LEVEL setting.
func SetupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// Run starts the daemon, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	SetupLogging(cfg.LogLevel)
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting comms-gateway dead-letter daemon", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Server{cfg: cfg}
	s.registerMetrics(prometheus.DefaultRegisterer)

	// Step 1: Connect to NATS
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	}
	ch := channel.NewNATSChannel(nc)
	slog.Info(fmt.Sprintf("%s - Connected to NATS at %s", logPrefix, cfg.COMMSURL))

	// Step 2: Connect to database
	pool, err := deadletter.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		nc.Close()
		return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}
	s.pool = pool
	s.store = deadletter.NewStore(pool)

	// Step 2b: Run migrations if enabled
	if cfg.RunMigrations {
		if err := deadletter.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			nc.Close()
			return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
		}
	}

	// Step 3: Subscribe to the dead-letter subject
	err = ch.Subscribe(cfg.DeadLetterSubject, func(env *envelope.Envelope) {
		s.intake(ctx, env)
	})
	if err != nil {
		pool.Close()
		nc.Close()
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, cfg.DeadLetterSubject, err)
	}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, cfg.DeadLetterSubject))

	// Step 4: Start HTTP status server
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		healthCtx, cancel := context.WithTimeout(r.Context(), cfg.HealthCheckTimeout)
		defer cancel()
		w.Header().Set("Content-Type", "application/json")
		status := "healthy"
		dbOK := pool.Ping(healthCtx) == nil
		if !dbOK {
			status = "unhealthy"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status":    status,
			"checks":    map[string]bool{"database": dbOK, "comms": nc.IsConnected()},
			"timestamp": time.Now().UTC(),
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	mux.Handle("/metrics", promhttp.Handler())

	httpAddr := cfg.HTTPAddr
	if httpAddr == "" {
		httpAddr = fmt.Sprintf(":%d", cfg.HTTPPort)
	}
	s.httpServer = &http.Server{Addr: httpAddr, Handler: mux}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP status server listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - Dead-letter daemon is ready", logPrefix))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	// Graceful shutdown
	ch.Close()
	s.httpServer.Shutdown(ctx)
	nc.Drain()
	pool.Close()

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// intake decodes one dead-letter envelope and persists it. Only gateway
// error events and error-marked envelopes qualify; anything else on the
// subject is dropped, not stored.
func (s *Server) intake(ctx context.Context, env *envelope.Envelope) {
	s.received.Inc()

	event := eventFromEnvelope(env)
	if event == nil {
		s.dropped.Inc()
		slog.Warn(fmt.Sprintf("%s - dropping non-failure envelope on the dead-letter subject (method=%s)",
			logPrefix, env.Header(envelope.HeaderMethod)))
		return
	}
	dl, err := s.store.Insert(ctx, event)
	if err != nil {
		s.failed.Inc()
		slog.Error(fmt.Sprintf("%s - failed to store dead letter for method %s: %v", logPrefix, event.Method, err))
		return
	}
	s.stored.Inc()
	slog.Info(fmt.Sprintf("%s - Stored dead letter %d (method=%s code=%s)", logPrefix, dl.ID, dl.Method, dl.Code))
}

// eventFromEnvelope rebuilds a GatewayErrorEvent from a dead-letter
// envelope: the published-event form when the payload decodes as one, the
// error headers when the envelope is error-marked, nil for anything else.
func eventFromEnvelope(env *envelope.Envelope) *events.GatewayErrorEvent {
	if data, ok := env.Payload.([]byte); ok && len(data) > 0 {
		var event events.GatewayErrorEvent
		if err := commsutil.DecodePayload(data, &event); err == nil && event.EventType == events.EventTypeGatewayError {
			return &event
		}
	}
	if event, ok := env.Payload.(*events.GatewayErrorEvent); ok {
		return event
	}

	if !env.IsError() {
		return nil
	}
	causes, _ := env.FailureCauses()
	return events.NewGatewayErrorEvent(
		env.Header(envelope.HeaderMethod),
		"",
		env.RequestID(),
		env.Header(envelope.HeaderErrorCode),
		env.Header(envelope.HeaderErrorMessage),
		causes,
	)
}

func (s *Server) registerMetrics(reg prometheus.Registerer) {
	s.received = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "deadletter", Name: "received_total",
		Help: "Dead-letter envelopes received.",
	})
	s.stored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "deadletter", Name: "stored_total",
		Help: "Dead letters persisted.",
	})
	s.failed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "deadletter", Name: "store_failures_total",
		Help: "Dead letters that could not be persisted.",
	})
	s.dropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "deadletter", Name: "dropped_total",
		Help: "Non-failure envelopes dropped from the dead-letter subject.",
	})
	reg.MustRegister(s.received, s.stored, s.failed, s.dropped)
}

// homePageTemplate is the HTML for the daemon home page (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Gateway Dead Letters</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2 { color: #0066cc; }
    table { border-collapse: collapse; width: 100%; max-width: 1100px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .stat { font-weight: bold; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
    .error { color: #cc0000; }
    code { background: #f5f5f5; padding: 0 0.25rem; }
  </style>
</head>
<body>
  <h1>Gateway Dead Letters</h1>
  <p class="meta">Downstream failures routed to <code>{{.Subject}}</code>.</p>

  <section>
    <h2>Statistics</h2>
    {{if .ListError}}
    <p class="error">Could not load dead letters: {{.ListError}}</p>
    {{else}}
    <p>Total dead letters: <span class="stat">{{.Total}}</span></p>
    <p>Showing the {{len .Letters}} most recent.</p>
    {{end}}
  </section>

  <section>
    <h2>Recent</h2>
    {{if .ListError}}
    <p class="error">No contents available.</p>
    {{else}}
    {{if not .Letters}}
    <p>No dead letters recorded.</p>
    {{else}}
    <table>
      <thead>
        <tr><th>ID</th><th>Received</th><th>Method</th><th>Code</th><th>Message</th><th>Request</th></tr>
      </thead>
      <tbody>
        {{range .Letters}}
        <tr>
          <td>{{.ID}}</td>
          <td>{{.ReceivedAt.Format "2006-01-02 15:04:05"}}</td>
          <td>{{.Method}}</td>
          <td>{{.Code}}</td>
          <td>{{.Message}}</td>
          <td><code>{{.RequestID}}</code></td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
    {{end}}
  </section>
</body>
</html>
`

// homeData is the data passed to the home page template.
type homeData struct {
	Subject   string
	Total     int64
	Letters   []deadletter.DeadLetter
	ListError string
}

// handleHome returns an HTTP handler for the daemon home page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{Subject: s.cfg.DeadLetterSubject}

		letters, err := s.store.List(ctx, 50)
		if err != nil {
			data.ListError = err.Error()
		} else {
			data.Letters = letters
			if total, err := s.store.Count(ctx); err == nil {
				data.Total = total
			}
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
