package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chronicle/internal/eventstore"
	"chronicle/internal/sentinel"
	"chronicle/internal/snapshot"
	"chronicle/pkg/domain"
	"chronicle/pkg/tenantcontext"
)

// Factory builds an empty aggregate instance for reconstitution.
type Factory[T Aggregate] func(id domain.AggregateID) T

// Repository orchestrates loading and saving of one aggregate type:
// snapshot lookup, incremental event replay, optimistic append, and the
// opportunistic snapshot policy.
type Repository[T Aggregate] struct {
	events    eventstore.Store
	snapshots snapshot.Store
	registry  *eventstore.Registry
	factory   Factory[T]
	threshold int64
	logger    *slog.Logger
	now       func() time.Time
}

// RepositoryOption configures a Repository.
type RepositoryOption[T Aggregate] func(*Repository[T])

// WithSnapshots enables snapshot-accelerated loading and the post-save
// snapshot policy.
func WithSnapshots[T Aggregate](store snapshot.Store) RepositoryOption[T] {
	return func(r *Repository[T]) {
		r.snapshots = store
	}
}

// WithSnapshotThreshold overrides the default snapshot interval.
func WithSnapshotThreshold[T Aggregate](threshold int64) RepositoryOption[T] {
	return func(r *Repository[T]) {
		if threshold > 0 {
			r.threshold = threshold
		}
	}
}

// WithRepositoryLogger sets the logger for best-effort snapshot failures.
func WithRepositoryLogger[T Aggregate](logger *slog.Logger) RepositoryOption[T] {
	return func(r *Repository[T]) {
		r.logger = logger
	}
}

// NewRepository creates a repository for one aggregate type.
func NewRepository[T Aggregate](events eventstore.Store, registry *eventstore.Registry, factory Factory[T], opts ...RepositoryOption[T]) *Repository[T] {
	r := &Repository[T]{
		events:    events,
		registry:  registry,
		factory:   factory,
		threshold: snapshot.DefaultThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load reconstitutes the aggregate: latest snapshot (if any), then all events
// past it. Returns sentinel.ErrNotFound when no history exists - callers
// create fresh aggregates through their own factories, not through Load.
func (r *Repository[T]) Load(ctx context.Context, id domain.AggregateID) (T, error) {
	var zero T

	var snap *snapshot.Snapshot
	if r.snapshots != nil {
		loaded, err := r.snapshots.Load(ctx, id)
		switch {
		case err == nil:
			snap = loaded
		case errors.Is(err, sentinel.ErrNotFound):
			// No snapshot yet; replay from the beginning.
		default:
			return zero, fmt.Errorf("load aggregate %s: %w", id, err)
		}
	}

	fromVersion := int64(0)
	if snap != nil {
		fromVersion = snap.Version
	}
	events, err := r.events.LoadFrom(ctx, id, fromVersion)
	if err != nil {
		return zero, fmt.Errorf("load aggregate %s: %w", id, err)
	}
	if snap == nil && len(events) == 0 {
		return zero, fmt.Errorf("aggregate %s: %w", id, sentinel.ErrNotFound)
	}

	agg := r.factory(id)
	if err := Reconstitute(agg, snap, events, r.registry); err != nil {
		return zero, err
	}
	return agg, nil
}

// Save appends the aggregate's uncommitted events with the optimistic version
// check, clears the buffer on success, and takes a snapshot when the version
// crosses a threshold boundary. Returns the new persisted version.
//
// A *eventstore.ConflictError means a concurrent writer won; the caller must
// reload the aggregate and retry the mutation from fresh state.
func (r *Repository[T]) Save(ctx context.Context, agg T) (int64, error) {
	pending := agg.UncommittedEvents()
	if len(pending) == 0 {
		return agg.Version(), nil
	}

	expected := agg.Version() - int64(len(pending))
	newVersion, err := r.events.Append(ctx, agg.AggregateType(), agg.AggregateID(), pending, expected)
	if err != nil {
		return 0, err
	}

	agg.ClearUncommittedEvents()
	r.maybeSnapshot(ctx, agg, expected, newVersion)
	return newVersion, nil
}

// maybeSnapshot writes a snapshot when this save crossed a threshold
// boundary. Best-effort: snapshots bound replay cost, they are never needed
// for correctness, so failures are logged and swallowed.
func (r *Repository[T]) maybeSnapshot(ctx context.Context, agg T, previousVersion, newVersion int64) {
	if r.snapshots == nil {
		return
	}
	snapshotter, ok := any(agg).(Snapshotter)
	if !ok {
		return
	}
	if newVersion/r.threshold <= previousVersion/r.threshold {
		return
	}

	state, err := snapshotter.SnapshotState()
	if err != nil {
		r.warnSnapshot(agg, err)
		return
	}
	tenantID, _ := tenantcontext.FromContext(ctx)
	snap := &snapshot.Snapshot{
		AggregateID:   agg.AggregateID(),
		AggregateType: agg.AggregateType(),
		Version:       newVersion,
		State:         state,
		TenantID:      tenantID,
		CreatedAt:     r.now().UTC(),
	}
	if err := r.snapshots.Save(ctx, snap); err != nil {
		r.warnSnapshot(agg, err)
	}
}

func (r *Repository[T]) warnSnapshot(agg T, err error) {
	if r.logger != nil {
		r.logger.Warn("snapshot write failed",
			"aggregate_type", agg.AggregateType(),
			"aggregate_id", agg.AggregateID().String(),
			"error", err,
		)
	}
}
