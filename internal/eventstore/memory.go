package eventstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chronicle/internal/sentinel"
	"chronicle/pkg/domain"
	"chronicle/pkg/tenantcontext"
)

// InMemoryStore is a tenant-scoped event store for tests and local development.
//
// It mirrors the PostgreSQL store's semantics: contiguous version assignment
// guarded by a per-(tenant, aggregate) uniqueness check, and fail-closed
// behavior when no tenant context is bound. In strict mode a missing tenant
// context errors loudly instead of yielding empty results, so tests cannot
// silently pass on an empty read.
type InMemoryStore struct {
	mu      sync.Mutex
	streams map[streamKey][]StoredEvent
	strict  bool
	now     func() time.Time
}

type streamKey struct {
	tenantID    domain.TenantID
	aggregateID domain.AggregateID
}

// MemoryOption configures the InMemoryStore.
type MemoryOption func(*InMemoryStore)

// WithStrictTenant makes reads with no tenant context fail loudly instead of
// returning empty results. Use in test harnesses.
func WithStrictTenant() MemoryOption {
	return func(s *InMemoryStore) {
		s.strict = true
	}
}

// WithClock overrides the wall clock used for event metadata timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *InMemoryStore) {
		s.now = now
	}
}

// NewInMemory creates an empty in-memory event store.
func NewInMemory(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		streams: make(map[streamKey][]StoredEvent),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append persists events with versions expectedVersion+1..+n, all or nothing.
func (s *InMemoryStore) Append(ctx context.Context, aggregateType string, aggregateID domain.AggregateID, events []Event, expectedVersion int64) (int64, error) {
	if len(events) == 0 {
		return 0, fmt.Errorf("append requires at least one event: %w", sentinel.ErrInvalidInput)
	}
	if expectedVersion < 0 {
		return 0, fmt.Errorf("expected version must not be negative: %w", sentinel.ErrInvalidInput)
	}
	tenantID, err := tenantcontext.Require(ctx)
	if err != nil {
		return 0, fmt.Errorf("append events: %w", err)
	}

	metadata := Metadata{
		TenantID:   tenantID,
		OccurredAt: s.now().UTC(),
	}
	if userID, ok := tenantcontext.UserFromContext(ctx); ok {
		metadata.UserID = userID
	}
	if correlationID, ok := tenantcontext.CorrelationFromContext(ctx); ok {
		metadata.CorrelationID = correlationID
	}

	// Encode before taking the lock; a marshal failure must not leave a
	// partially appended batch behind.
	batch := make([]StoredEvent, 0, len(events))
	for i, event := range events {
		payload, err := Encode(event)
		if err != nil {
			return 0, err
		}
		batch = append(batch, StoredEvent{
			AggregateID:   aggregateID,
			AggregateType: aggregateType,
			Version:       expectedVersion + int64(i) + 1,
			EventType:     event.EventType(),
			Payload:       payload,
			Metadata:      metadata,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey{tenantID: tenantID, aggregateID: aggregateID}
	current := int64(len(s.streams[key]))
	if current != expectedVersion {
		return 0, &ConflictError{
			AggregateID: aggregateID,
			Expected:    expectedVersion,
			Actual:      current,
		}
	}

	s.streams[key] = append(s.streams[key], batch...)
	return current + int64(len(batch)), nil
}

// Load returns all events for the aggregate in ascending version order.
func (s *InMemoryStore) Load(ctx context.Context, aggregateID domain.AggregateID) ([]StoredEvent, error) {
	return s.LoadFrom(ctx, aggregateID, 0)
}

// LoadFrom returns events with version strictly greater than fromVersion.
func (s *InMemoryStore) LoadFrom(ctx context.Context, aggregateID domain.AggregateID, fromVersion int64) ([]StoredEvent, error) {
	if fromVersion < 0 {
		// Versions start at 1, so any negative bound reads the full history,
		// same as the PostgreSQL store's version > $2 predicate.
		fromVersion = 0
	}
	tenantID, ok := tenantcontext.FromContext(ctx)
	if !ok {
		if s.strict {
			return nil, fmt.Errorf("load events: %w", sentinel.ErrNoTenant)
		}
		// Fail closed: no tenant context reads as an empty history, never as
		// another tenant's rows.
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[streamKey{tenantID: tenantID, aggregateID: aggregateID}]
	if int64(len(stream)) <= fromVersion {
		return nil, nil
	}
	out := make([]StoredEvent, len(stream)-int(fromVersion))
	copy(out, stream[fromVersion:])
	return out, nil
}

// CurrentVersion returns the persisted version of an aggregate (0 if absent).
func (s *InMemoryStore) CurrentVersion(ctx context.Context, aggregateID domain.AggregateID) (int64, error) {
	tenantID, ok := tenantcontext.FromContext(ctx)
	if !ok {
		if s.strict {
			return 0, fmt.Errorf("current version: %w", sentinel.ErrNoTenant)
		}
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.streams[streamKey{tenantID: tenantID, aggregateID: aggregateID}])), nil
}

var _ Store = (*InMemoryStore)(nil)
