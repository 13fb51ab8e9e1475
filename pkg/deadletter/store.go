package deadletter

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/comms-gateway/pkg/commsutil"
	"github.com/morezero/comms-gateway/pkg/events"
)

const storeLogPrefix = "deadletter:store"

// Store reads and writes dead letters.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store over an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Insert records a gateway error event as a dead letter.
func (s *Store) Insert(ctx context.Context, event *events.GatewayErrorEvent) (*DeadLetter, error) {
	var causes []byte
	if len(event.Causes) > 0 {
		var err error
		causes, err = commsutil.EncodePayload(event.Causes)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to encode causes: %w", storeLogPrefix, err)
		}
	}

	dl := &DeadLetter{
		RequestID: event.RequestID,
		Method:    event.Method,
		Subject:   event.Subject,
		Code:      event.Code,
		Message:   event.Message,
		Causes:    causes,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO dead_letters (request_id, method, subject, code, message, causes)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, received_at`,
		dl.RequestID, dl.Method, dl.Subject, dl.Code, dl.Message, dl.Causes,
	).Scan(&dl.ID, &dl.ReceivedAt)
	if err != nil {
		return nil, fmt.Errorf("%s - insert failed: %w", storeLogPrefix, err)
	}
	return dl, nil
}

// List returns the most recent dead letters, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, request_id, method, subject, code, message, causes, received_at
		 FROM dead_letters
		 ORDER BY received_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("%s - list failed: %w", storeLogPrefix, err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var dl DeadLetter
		if err := rows.Scan(&dl.ID, &dl.RequestID, &dl.Method, &dl.Subject,
			&dl.Code, &dl.Message, &dl.Causes, &dl.ReceivedAt); err != nil {
			return nil, fmt.Errorf("%s - scan failed: %w", storeLogPrefix, err)
		}
		out = append(out, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - list failed: %w", storeLogPrefix, err)
	}
	return out, nil
}

// Count returns the total number of dead letters.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%s - count failed: %w", storeLogPrefix, err)
	}
	return n, nil
}

// Purge deletes all dead letters and returns how many were removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dead_letters`)
	if err != nil {
		return 0, fmt.Errorf("%s - purge failed: %w", storeLogPrefix, err)
	}
	return tag.RowsAffected(), nil
}
