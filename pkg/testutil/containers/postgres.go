//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"chronicle/migrations"
)

// PostgresContainer wraps a testcontainers Postgres instance with migrations
// applied.
//
// It exposes two pools on purpose: AdminDB connects as the container
// superuser, which bypasses row-level security, so it is only suitable for
// setup and for asserting raw table contents. AppDB connects as the
// chronicle_app role the migrations create, which is subject to every policy;
// all store-level integration tests must run through it or they would pass
// even with isolation broken.
type PostgresContainer struct {
	Container testcontainers.Container
	AdminDSN  string
	AppDSN    string
	AdminDB   *sql.DB
	AppDB     *sql.DB
}

// NewPostgresContainer starts a new Postgres container with migrations applied.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("chronicle_test"),
		postgres.WithUsername("chronicle"),
		postgres.WithPassword("chronicle_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	adminDSN, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	adminDB, err := sql.Open("pgx", adminDSN)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to connect to postgres: %v", err)
	}

	pc := &PostgresContainer{
		Container: container,
		AdminDSN:  adminDSN,
		AdminDB:   adminDB,
	}

	if err := pc.runMigrations(ctx); err != nil {
		_ = adminDB.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to run migrations: %v", err)
	}

	appDSN, err := appDSN(adminDSN)
	if err != nil {
		_ = adminDB.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to build app dsn: %v", err)
	}
	appDB, err := sql.Open("pgx", appDSN)
	if err != nil {
		_ = adminDB.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to connect as chronicle_app: %v", err)
	}

	pc.AppDSN = appDSN
	pc.AppDB = appDB

	// No t.Cleanup: the container is managed by the singleton Manager and
	// shared across test suites. Ryuk reaps it when the test process exits.

	return pc
}

// appDSN rewrites the admin connection string to authenticate as the
// chronicle_app role created by the migrations.
func appDSN(adminDSN string) (string, error) {
	u, err := url.Parse(adminDSN)
	if err != nil {
		return "", fmt.Errorf("parse admin dsn: %w", err)
	}
	u.User = url.UserPassword("chronicle_app", "chronicle_app")
	return u.String(), nil
}

// runMigrations executes all *.up.sql migrations from the embedded migrations.FS.
func (p *PostgresContainer) runMigrations(ctx context.Context) error {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := fs.ReadFile(migrations.FS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		if _, err := p.AdminDB.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", file, err)
		}
	}

	return nil
}

// TruncateAll clears all module tables between tests. Runs as admin; the
// append-only trigger fires per row, so TRUNCATE is the one mutation path
// left open to the superuser.
func (p *PostgresContainer) TruncateAll(ctx context.Context) error {
	for _, table := range []string{"events", "snapshots", "outbox"} {
		if _, err := p.AdminDB.ExecContext(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return nil
}

// Exec runs a SQL statement as admin and returns the result.
func (p *PostgresContainer) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return p.AdminDB.ExecContext(ctx, query, args...)
}

// QueryRow runs a single-row SQL query as admin.
func (p *PostgresContainer) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return p.AdminDB.QueryRowContext(ctx, query, args...)
}

// CountEvents returns the raw row count for an aggregate, bypassing
// row-level security. Use it to assert what is physically stored.
func (p *PostgresContainer) CountEvents(ctx context.Context, aggregateID string) (int, error) {
	var n int
	err := p.AdminDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE aggregate_id = $1`, aggregateID,
	).Scan(&n)
	return n, err
}
