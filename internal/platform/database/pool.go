// Package database owns the shared PostgreSQL connection pool.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"chronicle/internal/sentinel"
)

// pingTimeout bounds the connectivity check taken at pool creation.
const pingTimeout = 5 * time.Second

// Config tunes the connection pool. The event store checks out dedicated
// connections per operation, so MaxOpenConns also caps concurrent appends.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns pool defaults suitable for a single relay process.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
	}
}

// Pool wraps the *sql.DB handle with lifecycle and health checks.
type Pool struct {
	db *sql.DB
}

// New opens a pool against cfg.URL and verifies connectivity once before
// returning, so a bad DSN fails at startup instead of on the first query.
func New(cfg Config) (*Pool, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is required: %w", sentinel.ErrInvalidInput)
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck // best-effort cleanup on init failure
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{db: db}, nil
}

// DB exposes the underlying handle for the stores and the binder.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Health reports whether the database is reachable, for readiness checks.
func (p *Pool) Health(ctx context.Context) error {
	if p == nil || p.db == nil {
		return fmt.Errorf("database not configured: %w", sentinel.ErrUnavailable)
	}
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %v: %w", err, sentinel.ErrUnavailable)
	}
	return nil
}

// Close releases all pooled connections.
func (p *Pool) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
