package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"chronicle/internal/tracing"
	"chronicle/pkg/domain"
	"chronicle/pkg/tenantcontext"
)

// Cache is the subset of the Redis client the cached store uses. Satisfied by
// *redis.Client; tests substitute a fake.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CachedStore is a read-through/write-through Redis cache in front of a
// snapshot store.
//
// Cache keys embed the tenant identity, and every cache access requires a
// bound tenant context: with none bound the cache is bypassed entirely and
// the inner store's fail-closed behavior applies. Cache errors degrade to
// the inner store - a cold or broken cache costs latency, never correctness.
type CachedStore struct {
	inner  Store
	client Cache
	ttl    time.Duration
	tracer tracing.Tracer
	logger *slog.Logger
}

// CacheOption configures the CachedStore.
type CacheOption func(*CachedStore)

// WithCacheTracer sets the tracer for cache lookups.
func WithCacheTracer(tracer tracing.Tracer) CacheOption {
	return func(s *CachedStore) {
		s.tracer = tracer
	}
}

// WithCacheLogger sets the logger for degraded-cache warnings.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(s *CachedStore) {
		s.logger = logger
	}
}

// NewCached wraps inner with a Redis snapshot cache.
func NewCached(inner Store, client Cache, ttl time.Duration, opts ...CacheOption) *CachedStore {
	s := &CachedStore{
		inner:  inner,
		client: client,
		ttl:    ttl,
		tracer: tracing.NewNoop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save writes through: the durable store first, then the cache best-effort.
func (s *CachedStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := s.inner.Save(ctx, snap); err != nil {
		return err
	}

	tenantID, ok := tenantcontext.FromContext(ctx)
	if !ok {
		// Inner.Save requires a tenant, so this is unreachable in practice;
		// keep the cache out of any unscoped path regardless.
		return nil
	}

	encoded, err := json.Marshal(snap)
	if err != nil {
		s.warn("encode snapshot for cache", snap.AggregateID, err)
		return nil
	}
	if err := s.client.Set(ctx, s.key(tenantID, snap.AggregateID), encoded, s.ttl).Err(); err != nil {
		s.warn("cache snapshot", snap.AggregateID, err)
	}
	return nil
}

// Load reads through: cache hit short-circuits, miss falls back to the inner
// store and repopulates.
func (s *CachedStore) Load(ctx context.Context, aggregateID domain.AggregateID) (snap *Snapshot, err error) {
	tenantID, ok := tenantcontext.FromContext(ctx)
	if !ok {
		return s.inner.Load(ctx, aggregateID)
	}

	ctx, span := s.tracer.Start(ctx, tracing.SpanSnapshotLoad,
		tracing.String(tracing.AttrAggregateID, aggregateID.String()),
	)
	defer func() { span.End(err) }()

	cached, err := s.client.Get(ctx, s.key(tenantID, aggregateID)).Bytes()
	if err == nil {
		var hit Snapshot
		if err := json.Unmarshal(cached, &hit); err == nil {
			span.SetAttributes(tracing.Bool(tracing.AttrCacheHit, true))
			return &hit, nil
		}
		// Corrupt cache entry: drop it and fall through to the inner store.
		_ = s.client.Del(ctx, s.key(tenantID, aggregateID)).Err()
	} else if !errors.Is(err, redis.Nil) {
		s.warn("read snapshot cache", aggregateID, err)
	}
	span.SetAttributes(tracing.Bool(tracing.AttrCacheHit, false))

	snap, err = s.inner.Load(ctx, aggregateID)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(snap); err == nil {
		if err := s.client.Set(ctx, s.key(tenantID, aggregateID), encoded, s.ttl).Err(); err != nil {
			s.warn("repopulate snapshot cache", aggregateID, err)
		}
	}
	return snap, nil
}

func (s *CachedStore) key(tenantID domain.TenantID, aggregateID domain.AggregateID) string {
	return fmt.Sprintf("chronicle:snap:%s:%s", tenantID, aggregateID)
}

func (s *CachedStore) warn(op string, aggregateID domain.AggregateID, err error) {
	if s.logger != nil {
		s.logger.Warn(op+" failed", "aggregate_id", aggregateID.String(), "error", err)
	}
}

var _ Store = (*CachedStore)(nil)
