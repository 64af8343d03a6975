package postgres

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pubflow/publications-platform/pkg/outbox"
)

// OutboxStore is the pgx implementation of outbox.Store. SaveEvent and
// SaveEvents take the caller's transaction so event creation commits or
// rolls back together with the business write.
type OutboxStore struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewOutboxStore(log *slog.Logger, pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{log: log, pool: pool}
}

func (s *OutboxStore) SaveEvent(ctx context.Context, tx pgx.Tx, ev outbox.Event) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_id, aggregate_type, event_type, payload, status, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8)`,
		ev.ID, ev.AggregateID, ev.AggregateType, ev.EventType, string(ev.Payload), string(ev.Status), ev.RetryCount, ev.CreatedAt)
	if err != nil {
		return &outbox.StorageError{Op: "save_event", Err: err}
	}
	return nil
}

func (s *OutboxStore) SaveEvents(ctx context.Context, tx pgx.Tx, events []outbox.Event) error {
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(`
			INSERT INTO outbox (id, aggregate_id, aggregate_type, event_type, payload, status, retry_count, created_at)
			VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8)`,
			ev.ID, ev.AggregateID, ev.AggregateType, ev.EventType, string(ev.Payload), string(ev.Status), ev.RetryCount, ev.CreatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return &outbox.StorageError{Op: "save_events", Err: err}
	}
	return nil
}

const eventColumns = `id, aggregate_id, aggregate_type, event_type, payload, status, retry_count, created_at, processed_at`

func (s *OutboxStore) FindPending(ctx context.Context, limit int) ([]outbox.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, &outbox.StorageError{Op: "find_pending", Err: err}
	}
	return scanEvents(rows, "find_pending")
}

func (s *OutboxStore) FindFailed(ctx context.Context, limit, maxRetries int) ([]outbox.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM outbox
		WHERE status = 'failed' AND retry_count < $2
		ORDER BY created_at
		LIMIT $1`, limit, maxRetries)
	if err != nil {
		return nil, &outbox.StorageError{Op: "find_failed", Err: err}
	}
	return scanEvents(rows, "find_failed")
}

func scanEvents(rows pgx.Rows, op string) ([]outbox.Event, error) {
	defer rows.Close()
	var events []outbox.Event
	for rows.Next() {
		var ev outbox.Event
		var status string
		if err := rows.Scan(&ev.ID, &ev.AggregateID, &ev.AggregateType, &ev.EventType,
			&ev.Payload, &status, &ev.RetryCount, &ev.CreatedAt, &ev.ProcessedAt); err != nil {
			return nil, &outbox.StorageError{Op: op, Err: err}
		}
		ev.Status = outbox.Status(status)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &outbox.StorageError{Op: op, Err: err}
	}
	return events, nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, ids []string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox SET status = 'sent', processed_at = now()
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return &outbox.StorageError{Op: "mark_sent", Err: err}
	}
	return nil
}

func (s *OutboxStore) MarkFailed(ctx context.Context, ids []string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox SET status = 'failed', retry_count = retry_count + 1
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return &outbox.StorageError{Op: "mark_failed", Err: err}
	}
	return nil
}

func (s *OutboxStore) CountByStatus(ctx context.Context, status outbox.Status) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM outbox WHERE status = $1`, string(status)).Scan(&n)
	if err != nil {
		return 0, &outbox.StorageError{Op: "count_by_status", Err: err}
	}
	return n, nil
}

// DeleteSentOlderThan purges sent rows whose processed_at is older than the
// cutoff. Rows in any other status are kept regardless of age.
func (s *OutboxStore) DeleteSentOlderThan(ctx context.Context, days int) (int64, error) {
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM outbox
		WHERE status = 'sent' AND processed_at < now() - ($1 * interval '1 day')`, days)
	if err != nil {
		return 0, &outbox.StorageError{Op: "delete_sent", Err: err}
	}
	return ct.RowsAffected(), nil
}
