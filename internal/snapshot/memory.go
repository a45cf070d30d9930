package snapshot

import (
	"context"
	"fmt"
	"sync"

	"chronicle/internal/sentinel"
	"chronicle/pkg/domain"
	"chronicle/pkg/tenantcontext"
)

// InMemoryStore is a snapshot store for tests, with the same tenant semantics
// as the PostgreSQL store: writes require a tenant, reads without one fail
// closed to "not found" (or loudly in strict mode).
type InMemoryStore struct {
	mu        sync.Mutex
	snapshots map[snapKey]*Snapshot
	strict    bool
}

type snapKey struct {
	tenantID    domain.TenantID
	aggregateID domain.AggregateID
}

// InMemoryOption configures the InMemoryStore.
type InMemoryOption func(*InMemoryStore)

// WithStrictTenant makes reads with no tenant context fail loudly.
func WithStrictTenant() InMemoryOption {
	return func(s *InMemoryStore) {
		s.strict = true
	}
}

// NewInMemory creates an empty in-memory snapshot store.
func NewInMemory(opts ...InMemoryOption) *InMemoryStore {
	s := &InMemoryStore{snapshots: make(map[snapKey]*Snapshot)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save upserts the snapshot by (tenant, aggregate).
func (s *InMemoryStore) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot is required: %w", sentinel.ErrInvalidInput)
	}
	tenantID, err := tenantcontext.Require(ctx)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	copied := *snap
	copied.TenantID = tenantID

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapKey{tenantID: tenantID, aggregateID: snap.AggregateID}] = &copied
	return nil
}

// Load retrieves the single most recent snapshot for the aggregate.
func (s *InMemoryStore) Load(ctx context.Context, aggregateID domain.AggregateID) (*Snapshot, error) {
	tenantID, ok := tenantcontext.FromContext(ctx)
	if !ok {
		if s.strict {
			return nil, fmt.Errorf("load snapshot: %w", sentinel.ErrNoTenant)
		}
		return nil, sentinel.ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap, found := s.snapshots[snapKey{tenantID: tenantID, aggregateID: aggregateID}]
	if !found {
		return nil, sentinel.ErrNotFound
	}
	copied := *snap
	return &copied, nil
}

var _ Store = (*InMemoryStore)(nil)
