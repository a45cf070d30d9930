// Package eventstore provides append-only persistence for domain events.
//
// Events are keyed by (tenant, aggregate, version). Versions form a contiguous
// 1-based sequence per aggregate; the uniqueness constraint on that triple is
// the sole concurrency-control mechanism. Rows are never updated or deleted.
package eventstore

import (
	"encoding/json"
	"fmt"
	"time"

	"chronicle/pkg/domain"
)

// Event is an immutable fact produced by aggregate logic at mutation time.
// Concrete event types are plain structs with JSON-serializable fields; the
// EventType string is the discriminator used for storage and replay.
type Event interface {
	EventType() string
}

// Metadata captures the context an event was recorded under.
// TenantID comes from the ambient tenant context, never from the caller.
type Metadata struct {
	TenantID      domain.TenantID      `json:"tenant_id"`
	UserID        domain.UserID        `json:"user_id,omitempty"`
	CorrelationID domain.CorrelationID `json:"correlation_id,omitempty"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// StoredEvent is the durable, retrieved form of an Event.
type StoredEvent struct {
	AggregateID   domain.AggregateID
	AggregateType string
	Version       int64
	EventType     string
	Payload       json.RawMessage
	Metadata      Metadata
}

// Registry maps event-type discriminators to variant constructors.
//
// The set of valid event types for an aggregate is closed: decoding a
// discriminator with no registered constructor is a data-integrity error, not
// a recoverable condition. Register all constructors at startup; the registry
// is read-only afterwards and safe for concurrent use.
type Registry struct {
	factories map[string]func() Event
}

// NewRegistry creates an empty event registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func() Event)}
}

// Register binds an event-type discriminator to its constructor.
// Registering the same discriminator twice panics: it indicates two event
// types claiming one name, which would corrupt replay.
func (r *Registry) Register(eventType string, factory func() Event) {
	if _, exists := r.factories[eventType]; exists {
		panic("eventstore: duplicate event type registration: " + eventType)
	}
	r.factories[eventType] = factory
}

// MustRegister registers a constructor derived from a prototype event.
func (r *Registry) MustRegister(prototype Event, factory func() Event) {
	r.Register(prototype.EventType(), factory)
}

// Decode materializes a stored event into its concrete type.
// Unknown discriminators and malformed payloads are fatal integrity errors.
func (r *Registry) Decode(stored StoredEvent) (Event, error) {
	factory, ok := r.factories[stored.EventType]
	if !ok {
		return nil, &IntegrityError{
			AggregateID: stored.AggregateID,
			Version:     stored.Version,
			Reason:      fmt.Sprintf("unknown event type %q", stored.EventType),
		}
	}
	event := factory()
	if err := json.Unmarshal(stored.Payload, event); err != nil {
		return nil, &IntegrityError{
			AggregateID: stored.AggregateID,
			Version:     stored.Version,
			Reason:      fmt.Sprintf("malformed payload for event type %q", stored.EventType),
			Err:         err,
		}
	}
	return event, nil
}

// Encode serializes an event payload for storage.
func Encode(event Event) (json.RawMessage, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event %q: %w", event.EventType(), err)
	}
	return payload, nil
}
