package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"chronicle/internal/sentinel"
	"chronicle/internal/tenantguard"
	"chronicle/internal/tracing"
	"chronicle/pkg/domain"
	"chronicle/pkg/tenantcontext"
)

// PostgresStore persists snapshots in PostgreSQL.
//
// Operations run on tenant-bound connections, so row-level security scopes
// both the upsert and the read to the ambient tenant.
type PostgresStore struct {
	binder *tenantguard.Binder
	tracer tracing.Tracer
}

// PostgresOption configures the PostgresStore.
type PostgresOption func(*PostgresStore)

// WithTracer sets the tracer for store operations.
func WithTracer(tracer tracing.Tracer) PostgresOption {
	return func(s *PostgresStore) {
		s.tracer = tracer
	}
}

// NewPostgres constructs a PostgreSQL-backed snapshot store.
func NewPostgres(binder *tenantguard.Binder, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		binder: binder,
		tracer: tracing.NewNoop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save upserts the snapshot by (tenant, aggregate).
func (s *PostgresStore) Save(ctx context.Context, snap *Snapshot) (err error) {
	if snap == nil {
		return fmt.Errorf("snapshot is required: %w", sentinel.ErrInvalidInput)
	}

	ctx, span := s.tracer.Start(ctx, tracing.SpanSnapshotSave,
		tracing.String(tracing.AttrAggregateID, snap.AggregateID.String()),
		tracing.Int64(tracing.AttrNewVersion, snap.Version),
	)
	defer func() { span.End(err) }()

	tenantID, err := tenantcontext.Require(ctx)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	conn, err := s.binder.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	defer conn.Release()

	const query = `
		INSERT INTO snapshots (tenant_id, aggregate_id, aggregate_type, version, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, aggregate_id) DO UPDATE
		SET aggregate_type = EXCLUDED.aggregate_type,
		    version = EXCLUDED.version,
		    state = EXCLUDED.state,
		    created_at = EXCLUDED.created_at
	`
	_, err = conn.ExecContext(ctx, query,
		uuid.UUID(tenantID),
		uuid.UUID(snap.AggregateID),
		snap.AggregateType,
		snap.Version,
		snap.State,
		snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Load retrieves the single most recent snapshot for the aggregate.
func (s *PostgresStore) Load(ctx context.Context, aggregateID domain.AggregateID) (snap *Snapshot, err error) {
	ctx, span := s.tracer.Start(ctx, tracing.SpanSnapshotLoad,
		tracing.String(tracing.AttrAggregateID, aggregateID.String()),
	)
	defer func() { span.End(err) }()

	conn, err := s.binder.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	defer conn.Release()

	const query = `
		SELECT tenant_id, aggregate_type, version, state, created_at
		FROM snapshots
		WHERE aggregate_id = $1
	`
	var (
		row      Snapshot
		tenantID uuid.UUID
	)
	err = conn.QueryRowContext(ctx, query, uuid.UUID(aggregateID)).Scan(
		&tenantID,
		&row.AggregateType,
		&row.Version,
		&row.State,
		&row.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	row.AggregateID = aggregateID
	row.TenantID = domain.TenantID(tenantID)
	return &row, nil
}

var _ Store = (*PostgresStore)(nil)
