package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"chronicle/internal/eventstore/metrics"
	"chronicle/internal/outbox"
	"chronicle/internal/sentinel"
	"chronicle/internal/tenantguard"
	"chronicle/internal/tracing"
	"chronicle/pkg/domain"
	"chronicle/pkg/tenantcontext"
)

// OutboxAppender writes outbox entries inside the append transaction.
type OutboxAppender interface {
	AppendTx(ctx context.Context, tx *sql.Tx, entries []*outbox.Entry) error
}

// PostgresStore persists events in PostgreSQL.
//
// Every operation runs on a tenant-bound connection from the Binder, so
// row-level security scopes reads and writes to the ambient tenant. The
// events table carries a primary key on (tenant_id, aggregate_id, version);
// that uniqueness constraint is the only concurrency control - the store
// takes no row locks and performs no compare-and-swap of its own.
type PostgresStore struct {
	binder  *tenantguard.Binder
	outbox  OutboxAppender
	tracer  tracing.Tracer
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// PostgresOption configures the PostgresStore.
type PostgresOption func(*PostgresStore)

// WithOutbox makes Append write relay entries in the same transaction as the
// event rows.
func WithOutbox(appender OutboxAppender) PostgresOption {
	return func(s *PostgresStore) {
		s.outbox = appender
	}
}

// WithTracer sets the tracer for store operations.
func WithTracer(tracer tracing.Tracer) PostgresOption {
	return func(s *PostgresStore) {
		s.tracer = tracer
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) PostgresOption {
	return func(s *PostgresStore) {
		s.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) PostgresOption {
	return func(s *PostgresStore) {
		s.logger = logger
	}
}

// NewPostgres constructs a PostgreSQL-backed event store.
func NewPostgres(binder *tenantguard.Binder, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		binder: binder,
		tracer: tracing.NewNoop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append atomically persists events with versions expectedVersion+1..+n.
//
// All events in the batch commit together or none do. A unique violation on
// (tenant_id, aggregate_id, version) rolls the whole batch back and surfaces
// as *ConflictError; the Actual version in the error is read back afterwards
// and may be stale under continued contention.
func (s *PostgresStore) Append(ctx context.Context, aggregateType string, aggregateID domain.AggregateID, events []Event, expectedVersion int64) (newVersion int64, err error) {
	start := s.now()

	ctx, span := s.tracer.Start(ctx, tracing.SpanEventAppend,
		tracing.String(tracing.AttrAggregateType, aggregateType),
		tracing.String(tracing.AttrAggregateID, aggregateID.String()),
		tracing.Int64(tracing.AttrEventCount, int64(len(events))),
	)
	defer func() { span.End(err) }()

	if len(events) == 0 {
		return 0, fmt.Errorf("append requires at least one event: %w", sentinel.ErrInvalidInput)
	}
	if expectedVersion < 0 {
		return 0, fmt.Errorf("expected version must not be negative: %w", sentinel.ErrInvalidInput)
	}

	// Appending to nobody's stream is meaningless; reject before touching
	// storage rather than letting the RLS write check produce an opaque error.
	tenantID, err := tenantcontext.Require(ctx)
	if err != nil {
		return 0, fmt.Errorf("append events: %w", err)
	}

	meta := s.metadataFrom(ctx, tenantID)

	conn, err := s.binder.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("append events: %w", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	const insert = `
		INSERT INTO events (tenant_id, aggregate_type, aggregate_id, version, event_type, payload, user_id, correlation_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	entries := make([]*outbox.Entry, 0, len(events))
	for i, event := range events {
		payload, err := Encode(event)
		if err != nil {
			return 0, err
		}
		version := expectedVersion + int64(i) + 1

		_, err = tx.ExecContext(ctx, insert,
			uuid.UUID(tenantID),
			aggregateType,
			uuid.UUID(aggregateID),
			version,
			event.EventType(),
			payload,
			nullableUUID(uuid.UUID(meta.UserID)),
			nullableUUID(uuid.UUID(meta.CorrelationID)),
			meta.OccurredAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return 0, s.conflict(ctx, conn, tx, aggregateID, expectedVersion, span)
			}
			return 0, fmt.Errorf("insert event version %d: %w", version, err)
		}

		entries = append(entries, outbox.NewEntry(tenantID, aggregateType, aggregateID, event.EventType(), version, payload, meta.OccurredAt))
	}

	if s.outbox != nil {
		if err := s.outbox.AppendTx(ctx, tx, entries); err != nil {
			return 0, fmt.Errorf("append outbox entries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return 0, s.conflict(ctx, conn, nil, aggregateID, expectedVersion, span)
		}
		return 0, fmt.Errorf("commit append transaction: %w", err)
	}

	newVersion = expectedVersion + int64(len(events))
	span.SetAttributes(tracing.Int64(tracing.AttrNewVersion, newVersion))
	if s.metrics != nil {
		s.metrics.ObserveAppend(start, len(events))
	}
	return newVersion, nil
}

// conflict rolls back the failed batch and builds a ConflictError with a
// best-effort read of the current version.
func (s *PostgresStore) conflict(ctx context.Context, conn *tenantguard.Conn, tx *sql.Tx, aggregateID domain.AggregateID, expectedVersion int64, span tracing.Span) error {
	if tx != nil {
		_ = tx.Rollback()
	}
	span.SetAttributes(tracing.Bool(tracing.AttrConflict, true))
	if s.metrics != nil {
		s.metrics.IncConflicts()
	}

	var actual int64
	err := conn.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1`,
		uuid.UUID(aggregateID),
	).Scan(&actual)
	if err != nil && s.logger != nil {
		// The conflict is authoritative either way; the actual version is
		// diagnostic only.
		s.logger.Warn("failed to read back version after conflict",
			"aggregate_id", aggregateID.String(),
			"error", err,
		)
	}

	return &ConflictError{
		AggregateID: aggregateID,
		Expected:    expectedVersion,
		Actual:      actual,
	}
}

// Load returns all events for the aggregate in ascending version order.
func (s *PostgresStore) Load(ctx context.Context, aggregateID domain.AggregateID) ([]StoredEvent, error) {
	return s.LoadFrom(ctx, aggregateID, 0)
}

// LoadFrom returns events with version strictly greater than fromVersion.
//
// With no tenant context bound the row-level security policy matches zero
// rows, so the result is empty - never another tenant's history.
func (s *PostgresStore) LoadFrom(ctx context.Context, aggregateID domain.AggregateID, fromVersion int64) (stored []StoredEvent, err error) {
	start := s.now()

	ctx, span := s.tracer.Start(ctx, tracing.SpanEventLoad,
		tracing.String(tracing.AttrAggregateID, aggregateID.String()),
		tracing.Int64(tracing.AttrFromVersion, fromVersion),
	)
	defer func() { span.End(err) }()

	conn, err := s.binder.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer conn.Release()

	const query = `
		SELECT tenant_id, aggregate_type, version, event_type, payload, user_id, correlation_id, occurred_at
		FROM events
		WHERE aggregate_id = $1 AND version > $2
		ORDER BY version
	`
	rows, err := conn.QueryContext(ctx, query, uuid.UUID(aggregateID), fromVersion)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			event         StoredEvent
			tenantID      uuid.UUID
			userID        *uuid.UUID
			correlationID *uuid.UUID
		)
		err := rows.Scan(
			&tenantID,
			&event.AggregateType,
			&event.Version,
			&event.EventType,
			&event.Payload,
			&userID,
			&correlationID,
			&event.Metadata.OccurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.AggregateID = aggregateID
		event.Metadata.TenantID = domain.TenantID(tenantID)
		if userID != nil {
			event.Metadata.UserID = domain.UserID(*userID)
		}
		if correlationID != nil {
			event.Metadata.CorrelationID = domain.CorrelationID(*correlationID)
		}
		stored = append(stored, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ObserveLoad(start, len(stored))
	}
	return stored, nil
}

// metadataFrom builds event metadata from the ambient context.
func (s *PostgresStore) metadataFrom(ctx context.Context, tenantID domain.TenantID) Metadata {
	meta := Metadata{
		TenantID:   tenantID,
		OccurredAt: s.now().UTC(),
	}
	if userID, ok := tenantcontext.UserFromContext(ctx); ok {
		meta.UserID = userID
	}
	if correlationID, ok := tenantcontext.CorrelationFromContext(ctx); ok {
		meta.CorrelationID = correlationID
	}
	return meta
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
