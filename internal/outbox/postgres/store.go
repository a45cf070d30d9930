// Package postgres implements the outbox store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chronicle/internal/outbox"
	"chronicle/internal/sentinel"
	"chronicle/pkg/domain"
)

// Store implements outbox.Store using PostgreSQL.
//
// The outbox table carries tenant_id as payload metadata but is not under
// row-level security: the relay worker drains entries for every tenant using
// the maintenance role.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL outbox store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// AppendTx inserts entries within an existing transaction.
func (s *Store) AppendTx(ctx context.Context, tx *sql.Tx, entries []*outbox.Entry) error {
	const query = `
		INSERT INTO outbox (id, tenant_id, aggregate_type, aggregate_id, event_type, version, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, entry := range entries {
		_, err := tx.ExecContext(ctx, query,
			entry.ID,
			uuid.UUID(entry.TenantID),
			entry.AggregateType,
			uuid.UUID(entry.AggregateID),
			entry.EventType,
			entry.Version,
			entry.Payload,
			entry.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert outbox entry: %w", err)
		}
	}
	return nil
}

// FetchUnprocessed returns up to limit entries that haven't been published,
// oldest first.
//
// Delivery is at least once: the row locks from SKIP LOCKED only last for the
// statement itself, so concurrent relays can fetch the same entry. The
// processed_at guard in MarkProcessed lets exactly one of them record the
// publish, and consumers dedupe on the entry_id header.
func (s *Store) FetchUnprocessed(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	const maxBatch = 1000
	if limit > maxBatch {
		limit = maxBatch
	}

	const query = `
		SELECT id, tenant_id, aggregate_type, aggregate_id, event_type, version, payload, created_at
		FROM outbox
		WHERE processed_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unprocessed entries: %w", err)
	}
	defer rows.Close()

	var entries []*outbox.Entry
	for rows.Next() {
		var (
			entry       outbox.Entry
			tenantID    uuid.UUID
			aggregateID uuid.UUID
		)
		err := rows.Scan(
			&entry.ID,
			&tenantID,
			&entry.AggregateType,
			&aggregateID,
			&entry.EventType,
			&entry.Version,
			&entry.Payload,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entry.TenantID = domain.TenantID(tenantID)
		entry.AggregateID = domain.AggregateID(aggregateID)
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}
	return entries, nil
}

// MarkProcessed marks an entry as successfully published.
func (s *Store) MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET processed_at = $2
		WHERE id = $1 AND processed_at IS NULL
	`, id, processedAt)
	if err != nil {
		return fmt.Errorf("mark outbox entry processed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("outbox entry not found or already processed: %s: %w", id, sentinel.ErrInvalidState)
	}
	return nil
}

// CountPending returns the number of unpublished entries.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE processed_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending entries: %w", err)
	}
	return count, nil
}

// DeleteProcessedBefore removes old published entries.
func (s *Store) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM outbox WHERE processed_at IS NOT NULL AND processed_at < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("delete processed entries: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return rowsAffected, nil
}

var _ outbox.Store = (*Store)(nil)
