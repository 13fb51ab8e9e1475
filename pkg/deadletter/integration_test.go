package deadletter

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/morezero/comms-gateway/pkg/envelope"
	"github.com/morezero/comms-gateway/pkg/events"
)

const dlIntegrationPrefix = "deadletter:integration_test"

// Integration tests use DATABASE_URL (e.g. .../gateway_test). They migrate
// and purge the dead_letters table, so point them at a dedicated database.

func setupIntegrationStore(t *testing.T) (context.Context, *Store, func()) {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skipf("%s - DATABASE_URL not set, skipping", dlIntegrationPrefix)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := NewPool(ctx, url)
	if err != nil {
		cancel()
		t.Fatalf("%s - NewPool failed: %v", dlIntegrationPrefix, err)
	}
	if err := RunMigrations(ctx, pool); err != nil {
		pool.Close()
		cancel()
		t.Fatalf("%s - RunMigrations failed: %v", dlIntegrationPrefix, err)
	}

	store := NewStore(pool)
	if _, err := store.Purge(ctx); err != nil {
		pool.Close()
		cancel()
		t.Fatalf("%s - Purge failed: %v", dlIntegrationPrefix, err)
	}
	return ctx, store, func() {
		pool.Close()
		cancel()
	}
}

func TestIntegration_InsertListCount(t *testing.T) {
	ctx, store, cleanup := setupIntegrationStore(t)
	defer cleanup()

	event := events.NewGatewayErrorEvent("submitOrder", "orders.submit", "req-1",
		"DOWNSTREAM_FAILURE", "handler raised",
		[]envelope.CauseEntry{{Code: "DOWNSTREAM_FAILURE", Message: "handler raised"}})

	dl, err := store.Insert(ctx, event)
	if err != nil {
		t.Fatalf("%s - Insert failed: %v", dlIntegrationPrefix, err)
	}
	if dl.ID == 0 || dl.ReceivedAt.IsZero() {
		t.Errorf("%s - expected generated id and timestamp, got %+v", dlIntegrationPrefix, dl)
	}

	letters, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("%s - List failed: %v", dlIntegrationPrefix, err)
	}
	if len(letters) != 1 {
		t.Fatalf("%s - expected 1 dead letter, got %d", dlIntegrationPrefix, len(letters))
	}
	got := letters[0]
	if got.Method != "submitOrder" || got.Code != "DOWNSTREAM_FAILURE" || got.RequestID != "req-1" {
		t.Errorf("%s - unexpected row: %+v", dlIntegrationPrefix, got)
	}
	if len(got.Causes) == 0 {
		t.Errorf("%s - expected causes persisted", dlIntegrationPrefix)
	}

	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("%s - Count failed: %v", dlIntegrationPrefix, err)
	}
	if n != 1 {
		t.Errorf("%s - expected count 1, got %d", dlIntegrationPrefix, n)
	}
}

func TestIntegration_ListNewestFirst(t *testing.T) {
	ctx, store, cleanup := setupIntegrationStore(t)
	defer cleanup()

	for _, method := range []string{"first", "second", "third"} {
		event := events.NewGatewayErrorEvent(method, "s", "", "TIMEOUT", "no reply", nil)
		if _, err := store.Insert(ctx, event); err != nil {
			t.Fatalf("%s - Insert failed: %v", dlIntegrationPrefix, err)
		}
	}

	letters, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("%s - List failed: %v", dlIntegrationPrefix, err)
	}
	if len(letters) != 2 {
		t.Fatalf("%s - expected limit respected, got %d rows", dlIntegrationPrefix, len(letters))
	}
}

func TestIntegration_Purge(t *testing.T) {
	ctx, store, cleanup := setupIntegrationStore(t)
	defer cleanup()

	event := events.NewGatewayErrorEvent("m", "s", "", "CODE", "msg", nil)
	if _, err := store.Insert(ctx, event); err != nil {
		t.Fatalf("%s - Insert failed: %v", dlIntegrationPrefix, err)
	}

	removed, err := store.Purge(ctx)
	if err != nil {
		t.Fatalf("%s - Purge failed: %v", dlIntegrationPrefix, err)
	}
	if removed != 1 {
		t.Errorf("%s - expected 1 row purged, got %d", dlIntegrationPrefix, removed)
	}
	n, _ := store.Count(ctx)
	if n != 0 {
		t.Errorf("%s - expected empty table after purge, got %d", dlIntegrationPrefix, n)
	}
}

func TestNewPool_InvalidURL(t *testing.T) {
	ctx := context.Background()
	pool, err := NewPool(ctx, "invalid://not-a-valid-database-url")
	if err == nil {
		if pool != nil {
			pool.Close()
		}
		t.Fatal("expected error for invalid URL")
	}
}
