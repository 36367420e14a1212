// Package idempotency provides durable implementations of the dispatcher's
// idempotency store, for deployments that need at-most-once effective
// processing to survive restarts. Both stores implement the same atomic
// "mark if not already marked" contract.
package idempotency

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/catalog-sdk/dispatch"
)

// PostgresStore records completed event IDs in a single table, using
// INSERT ... ON CONFLICT DO NOTHING so concurrent workers agree on exactly
// one first completion.
type PostgresStore struct {
	pool     *pgxpool.Pool
	consumer string
}

// NewPostgresStore creates a store scoped to one consumer name, so several
// agents can share a database without seeing each other's marks.
func NewPostgresStore(pool *pgxpool.Pool, consumer string) *PostgresStore {
	return &PostgresStore{pool: pool, consumer: consumer}
}

// EnsureSchema creates the backing table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS processed_events (
  consumer     text        NOT NULL,
  event_id     text        NOT NULL,
  completed_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (consumer, event_id)
);`)
	if err != nil {
		return fmt.Errorf("idempotency: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsCompleted(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE consumer = $1 AND event_id = $2)`,
		s.consumer, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("idempotency: lookup %q: %w", eventID, err)
	}
	return exists, nil
}

// MarkCompleted returns true when this call inserted the mark, false when
// another worker got there first.
func (s *PostgresStore) MarkCompleted(ctx context.Context, eventID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO processed_events (consumer, event_id) VALUES ($1, $2)
         ON CONFLICT (consumer, event_id) DO NOTHING`,
		s.consumer, eventID)
	if err != nil {
		return false, fmt.Errorf("idempotency: mark %q: %w", eventID, err)
	}
	return tag.RowsAffected() > 0, nil
}

var _ dispatch.IdempotencyStore = (*PostgresStore)(nil)
