package outbox

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Store persists and drains outbox entries.
//
// AppendTx runs inside the event append transaction; the remaining methods are
// used by the relay worker, which operates across tenants and therefore
// outside the tenant-bound connection path.
type Store interface {
	// AppendTx inserts entries within an existing transaction so they commit
	// atomically with the event rows they describe.
	AppendTx(ctx context.Context, tx *sql.Tx, entries []*Entry) error

	// FetchUnprocessed returns up to limit unpublished entries, oldest first.
	FetchUnprocessed(ctx context.Context, limit int) ([]*Entry, error)

	// MarkProcessed records that an entry was successfully published.
	MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error

	// CountPending returns the number of unpublished entries.
	CountPending(ctx context.Context) (int64, error)

	// DeleteProcessedBefore removes old published entries and reports how many.
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}
