// Package tracing provides a lightweight tracing abstraction for the
// persistence core.
//
// The storage path emits spans through an internal interface instead of
// depending on OpenTelemetry APIs directly, so stores stay testable with a
// no-op tracer and production wiring swaps in the OTel adapter.
package tracing

import "context"

// Span represents an active trace span.
type Span interface {
	// End completes the span, recording any error that occurred.
	// End must be called exactly once, typically via defer.
	End(err error)

	// SetAttributes adds key-value pairs to the span.
	SetAttributes(attrs ...Attribute)

	// AddEvent records a timestamped event within the span.
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans for distributed tracing.
// Implementations must be safe for concurrent use.
type Tracer interface {
	// Start creates a new span with the given name and attributes.
	// The returned context contains the new span and should be passed to
	// child operations. The span must be ended by calling Span.End().
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute represents a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

// String creates a string attribute.
func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

// Bool creates a boolean attribute.
func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

// Int64 creates an int64 attribute.
func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Span names used by the storage path.
const (
	SpanEventAppend   = "eventstore.append"
	SpanEventLoad     = "eventstore.load"
	SpanSnapshotSave  = "snapshot.save"
	SpanSnapshotLoad  = "snapshot.load"
	SpanOutboxPublish = "outbox.publish"
)

// Attribute keys used by the storage path.
const (
	AttrAggregateType = "aggregate.type"
	AttrAggregateID   = "aggregate.id"
	AttrEventCount    = "event.count"
	AttrFromVersion   = "version.from"
	AttrNewVersion    = "version.new"
	AttrConflict      = "append.conflict"
	AttrCacheHit      = "cache.hit"
)
