package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chronicle/internal/sentinel"
)

// InMemoryStore is an outbox store for tests. AppendTx ignores the transaction
// argument; atomicity with the event rows is a property of the PostgreSQL
// implementation only.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
}

// NewInMemoryStore creates an empty in-memory outbox store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[uuid.UUID]*Entry)}
}

// AppendTx stores entries; tx may be nil.
func (s *InMemoryStore) AppendTx(_ context.Context, _ *sql.Tx, entries []*Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range entries {
		copied := *entry
		s.entries[entry.ID] = &copied
	}
	return nil
}

// FetchUnprocessed returns up to limit unpublished entries, oldest first.
func (s *InMemoryStore) FetchUnprocessed(_ context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*Entry
	for _, entry := range s.entries {
		if entry.ProcessedAt == nil {
			copied := *entry
			pending = append(pending, &copied)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// MarkProcessed records that an entry was published.
func (s *InMemoryStore) MarkProcessed(_ context.Context, id uuid.UUID, processedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok || entry.ProcessedAt != nil {
		return fmt.Errorf("outbox entry not found or already processed: %s: %w", id, sentinel.ErrInvalidState)
	}
	entry.ProcessedAt = &processedAt
	return nil
}

// CountPending returns the number of unpublished entries.
func (s *InMemoryStore) CountPending(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, entry := range s.entries {
		if entry.ProcessedAt == nil {
			count++
		}
	}
	return count, nil
}

// DeleteProcessedBefore removes old published entries.
func (s *InMemoryStore) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, entry := range s.entries {
		if entry.ProcessedAt != nil && entry.ProcessedAt.Before(before) {
			delete(s.entries, id)
			deleted++
		}
	}
	return deleted, nil
}

var _ Store = (*InMemoryStore)(nil)
