package eventstore

import (
	"context"
	"errors"
	"fmt"

	"chronicle/pkg/domain"
)

// Store is the append-only event store contract.
//
// The tenant identity is read from the ambient tenant context on ctx; callers
// never pass a tenant filter the store could fail to apply. All I/O happens
// inside these calls - the store holds no locks and runs no background work.
type Store interface {
	// Append atomically persists events with versions expectedVersion+1..+n.
	// expectedVersion must equal the aggregate's currently persisted version
	// (0 if never persisted). Returns the new current version on success, or
	// a *ConflictError when a concurrent writer won the version race.
	Append(ctx context.Context, aggregateType string, aggregateID domain.AggregateID, events []Event, expectedVersion int64) (int64, error)

	// Load returns all events for the aggregate in ascending version order.
	// An aggregate with no events yields an empty slice, not an error.
	Load(ctx context.Context, aggregateID domain.AggregateID) ([]StoredEvent, error)

	// LoadFrom returns events with version strictly greater than fromVersion,
	// in ascending order. Used after a snapshot to bound replay cost.
	LoadFrom(ctx context.Context, aggregateID domain.AggregateID, fromVersion int64) ([]StoredEvent, error)
}

// ConflictError signals that the caller's expected version lost a race with a
// concurrent writer. Recoverable: reload the aggregate and retry the mutation.
//
// Actual is read back best-effort after the failed insert and may itself be
// stale under continued contention. It is diagnostic only - retry decisions
// must come from a fresh load, never from this value.
type ConflictError struct {
	AggregateID domain.AggregateID
	Expected    int64
	Actual      int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on aggregate %s: expected version %d, actual %d",
		e.AggregateID, e.Expected, e.Actual)
}

// IsConflict reports whether err is (or wraps) a concurrency conflict.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// IntegrityError signals corrupted or inconsistent event data: an unknown
// event type, a malformed payload, or a version sequence with gaps. Fatal -
// the operation must abort, never fall back to a best-guess state.
type IntegrityError struct {
	AggregateID domain.AggregateID
	Version     int64
	Reason      string
	Err         error
}

func (e *IntegrityError) Error() string {
	msg := fmt.Sprintf("event data integrity violation on aggregate %s at version %d: %s",
		e.AggregateID, e.Version, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IntegrityError) Unwrap() error { return e.Err }
