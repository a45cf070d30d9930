// Package tenantguard binds the ambient tenant identity to database
// connections at checkout time.
//
// Row-level security policies on the tenant-scoped tables filter on the
// session setting app.tenant_id. The Binder is the only way the storage layer
// obtains connections, so every query structurally carries the correct tenant
// filter: a caller that forgot to attach a tenant context gets either zero
// rows (the unset setting matches nothing) or, in strict mode, an immediate
// error. No code path can read another tenant's rows, whatever the SQL says.
package tenantguard

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"

	"chronicle/internal/sentinel"
	"chronicle/pkg/tenantcontext"
)

// Mode selects the behavior when no tenant context is bound.
type Mode int

const (
	// ModeFailClosed binds the empty setting so row-level security matches
	// zero rows. Production default: a propagation bug degrades to "see
	// nothing", never to "see everything".
	ModeFailClosed Mode = iota

	// ModeStrict returns sentinel.ErrNoTenant immediately. Used by tests and
	// verification harnesses, where a silently empty result set would mask a
	// missing-context bug.
	ModeStrict
)

// Binder checks out pooled connections with the tenant setting bound.
//
// Connection lifecycle: UNBOUND -> Acquire (set_config) -> BOUND to tenant ->
// Release (reset) -> UNBOUND. A connection is never returned to the pool still
// carrying a prior borrower's tenant; Acquire always overwrites the setting
// and Release resets it, discarding the connection if the reset fails.
type Binder struct {
	db     *sql.DB
	mode   Mode
	logger *slog.Logger
}

// BinderOption configures the Binder.
type BinderOption func(*Binder)

// WithMode sets the missing-tenant behavior.
func WithMode(mode Mode) BinderOption {
	return func(b *Binder) {
		b.mode = mode
	}
}

// WithLogger sets the logger used for release failures.
func WithLogger(logger *slog.Logger) BinderOption {
	return func(b *Binder) {
		b.logger = logger
	}
}

// New creates a Binder over the given pool.
func New(db *sql.DB, opts ...BinderOption) *Binder {
	b := &Binder{db: db, mode: ModeFailClosed}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Acquire checks out a dedicated connection and binds the ambient tenant to
// it. The caller must call Release exactly once, typically via defer.
func (b *Binder) Acquire(ctx context.Context) (*Conn, error) {
	tenantValue := ""
	if tenantID, ok := tenantcontext.FromContext(ctx); ok {
		tenantValue = tenantID.String()
	} else if b.mode == ModeStrict {
		return nil, fmt.Errorf("acquire connection: %w", sentinel.ErrNoTenant)
	}

	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("checkout connection: %w", err)
	}

	// Bind unconditionally, even to the empty value: the connection may carry
	// a stale setting from a prior borrower and must never inherit it.
	if _, err := conn.ExecContext(ctx, `SELECT set_config('app.tenant_id', $1, false)`, tenantValue); err != nil {
		_ = discard(conn)
		return nil, fmt.Errorf("bind tenant setting: %w", err)
	}

	return &Conn{conn: conn, binder: b}, nil
}

// Conn is a tenant-bound database connection.
type Conn struct {
	conn   *sql.Conn
	binder *Binder
}

// ExecContext executes a statement on the bound connection.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on the bound connection.
func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on the bound connection.
func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.conn.QueryRowContext(ctx, query, args...)
}

// BeginTx starts a transaction on the bound connection. The tenant setting is
// session-scoped, so it stays in effect across the transaction.
func (c *Conn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.conn.BeginTx(ctx, opts)
}

// Release resets the tenant setting and returns the connection to the pool.
// If the reset fails the connection is discarded rather than returned bound.
func (c *Conn) Release() {
	if _, err := c.conn.ExecContext(context.Background(), `RESET app.tenant_id`); err != nil {
		if c.binder.logger != nil {
			c.binder.logger.Warn("discarding connection: tenant setting reset failed", "error", err)
		}
		_ = discard(c.conn)
		return
	}
	_ = c.conn.Close()
}

// discard poisons the underlying driver connection so the pool drops it
// instead of recycling it.
func discard(conn *sql.Conn) error {
	defer conn.Close() //nolint:errcheck // the conn is being thrown away
	return conn.Raw(func(driverConn any) error {
		return driver.ErrBadConn
	})
}
