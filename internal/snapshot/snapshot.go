// Package snapshot caches aggregate state at a point in its event history.
//
// Snapshots are purely a replay-cost optimization: at most one row exists per
// (tenant, aggregate), newer snapshots overwrite older ones, and losing a
// snapshot costs a longer replay, never correctness.
package snapshot

import (
	"context"
	"encoding/json"
	"time"

	"chronicle/pkg/domain"
)

// DefaultThreshold is the number of events applied since the last snapshot
// after which callers should take a new one. The policy is caller-owned; the
// store never snapshots on its own.
const DefaultThreshold = 100

// Snapshot is serialized aggregate state at a given version.
type Snapshot struct {
	AggregateID   domain.AggregateID `json:"aggregate_id"`
	AggregateType string             `json:"aggregate_type"`
	Version       int64              `json:"version"`
	State         json.RawMessage    `json:"state"`
	TenantID      domain.TenantID    `json:"tenant_id"`
	CreatedAt     time.Time          `json:"created_at"`
}

// Store persists at most one snapshot per (tenant, aggregate).
type Store interface {
	// Save upserts the snapshot, replacing any older one for the aggregate.
	Save(ctx context.Context, snap *Snapshot) error

	// Load returns the most recent snapshot, or sentinel.ErrNotFound when the
	// aggregate has none. Simple absence is not an exceptional condition.
	Load(ctx context.Context, aggregateID domain.AggregateID) (*Snapshot, error)
}
