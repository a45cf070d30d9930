// Package aggregate provides the event-sourced reconstruction engine.
//
// An aggregate's state is derived entirely from its event history: the same
// mutation logic (ApplyEvent) runs whether an event is applied live for the
// first time or replayed from storage, so reconstituted state is equivalent
// to state built live. Each aggregate instance is exclusively owned by the
// operation that loaded it; concurrent mutations are arbitrated by the event
// store's version check at append time, never by sharing instances.
package aggregate

import (
	"encoding/json"
	"fmt"

	"chronicle/internal/eventstore"
	"chronicle/internal/snapshot"
	"chronicle/pkg/domain"
)

// Aggregate is an event-sourced entity. Concrete types embed Root for the
// bookkeeping methods and implement ApplyEvent with their mutation logic.
//
// ApplyEvent must never fail for an event type the aggregate itself produces;
// it is the exclusive emitter of its own events.
type Aggregate interface {
	AggregateID() domain.AggregateID
	AggregateType() string
	Version() int64
	SetVersion(version int64)
	IncrementVersion()
	Record(event eventstore.Event)
	UncommittedEvents() []eventstore.Event
	ClearUncommittedEvents()

	// ApplyEvent mutates internal state for the given event. It must be
	// deterministic: replay depends on it producing identical state.
	ApplyEvent(event eventstore.Event) error
}

// Snapshotter is implemented by aggregates that support snapshot-accelerated
// reconstitution. Optional: an aggregate without it always replays in full.
type Snapshotter interface {
	// SnapshotState serializes the aggregate's internal fields.
	SnapshotState() (json.RawMessage, error)

	// RestoreSnapshot initializes internal fields from a serialized snapshot.
	RestoreSnapshot(state json.RawMessage) error
}

// Root provides the bookkeeping half of the Aggregate interface.
// Embed it in concrete aggregate types.
type Root struct {
	id          domain.AggregateID
	version     int64
	uncommitted []eventstore.Event
}

// NewRoot creates the bookkeeping state for a fresh aggregate at version 0.
func NewRoot(id domain.AggregateID) Root {
	return Root{id: id}
}

// AggregateID returns the aggregate's identifier.
func (r *Root) AggregateID() domain.AggregateID { return r.id }

// Version returns the number of events applied so far.
func (r *Root) Version() int64 { return r.version }

// SetVersion sets the version directly. Used when restoring from a snapshot.
func (r *Root) SetVersion(version int64) { r.version = version }

// IncrementVersion bumps the version by one applied event.
func (r *Root) IncrementVersion() { r.version++ }

// Record buffers an event for persistence.
func (r *Root) Record(event eventstore.Event) {
	r.uncommitted = append(r.uncommitted, event)
}

// UncommittedEvents returns events applied since the last commit, in order.
func (r *Root) UncommittedEvents() []eventstore.Event { return r.uncommitted }

// ClearUncommittedEvents empties the buffer. Call only after the event store
// has confirmed the append for exactly these events - never speculatively.
func (r *Root) ClearUncommittedEvents() { r.uncommitted = nil }

// HasUncommittedEvents reports whether events are waiting to be persisted.
func (r *Root) HasUncommittedEvents() bool { return len(r.uncommitted) > 0 }

// Apply runs an event through the aggregate's mutation logic live: state
// mutates, the version increments, and the event is buffered for persistence.
func Apply(agg Aggregate, event eventstore.Event) error {
	if err := agg.ApplyEvent(event); err != nil {
		return fmt.Errorf("apply event %q: %w", event.EventType(), err)
	}
	agg.IncrementVersion()
	agg.Record(event)
	return nil
}

// Reconstitute rebuilds aggregate state from an optional snapshot plus the
// events recorded after it, in strict ascending version order.
//
// Postcondition: the aggregate's version equals snapshot.Version (or 0) plus
// the number of replayed events. Any gap or misordering in the supplied
// events is a fatal integrity error - it means the history is corrupt or was
// fetched incorrectly, and no best-guess state may be built from it.
func Reconstitute(agg Aggregate, snap *snapshot.Snapshot, events []eventstore.StoredEvent, registry *eventstore.Registry) error {
	if snap != nil {
		snapshotter, ok := agg.(Snapshotter)
		if !ok {
			return &eventstore.IntegrityError{
				AggregateID: agg.AggregateID(),
				Version:     snap.Version,
				Reason:      fmt.Sprintf("snapshot exists but aggregate type %q cannot restore one", agg.AggregateType()),
			}
		}
		if err := snapshotter.RestoreSnapshot(snap.State); err != nil {
			return &eventstore.IntegrityError{
				AggregateID: agg.AggregateID(),
				Version:     snap.Version,
				Reason:      "snapshot state failed to deserialize",
				Err:         err,
			}
		}
		agg.SetVersion(snap.Version)
	}

	for _, stored := range events {
		if stored.Version != agg.Version()+1 {
			return &eventstore.IntegrityError{
				AggregateID: agg.AggregateID(),
				Version:     stored.Version,
				Reason:      fmt.Sprintf("event sequence gap: have version %d, next event is %d", agg.Version(), stored.Version),
			}
		}
		event, err := registry.Decode(stored)
		if err != nil {
			return err
		}
		if err := agg.ApplyEvent(event); err != nil {
			return &eventstore.IntegrityError{
				AggregateID: agg.AggregateID(),
				Version:     stored.Version,
				Reason:      fmt.Sprintf("replay of event %q failed", stored.EventType),
				Err:         err,
			}
		}
		agg.IncrementVersion()
	}
	return nil
}
