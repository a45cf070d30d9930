package aggregate

import (
	"context"

	"chronicle/internal/eventstore"
)

// Retry runs fn up to attempts times, retrying only on concurrency conflicts.
//
// fn must reload the aggregate from storage on each attempt: the actual
// version reported inside a conflict is diagnostic and may be stale, so a
// retry that merely re-submits with the reported version would race again.
// Any non-conflict error aborts immediately.
func Retry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fn(ctx)
		if err == nil || !eventstore.IsConflict(err) {
			return err
		}
	}
	return err
}
