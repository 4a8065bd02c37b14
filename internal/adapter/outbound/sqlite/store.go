// Package sqlite provides the SQLite-backed authoritative impersonation
// store and tenant directory, using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// schema creates the tables on first open. impersonations holds at most
// one row per operator (primary key enforces it); impersonation_watermarks
// keeps the last StartedAt per operator across ended sessions so restarts
// stay monotonic.
const schema = `
CREATE TABLE IF NOT EXISTS impersonations (
	operator_id      TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL,
	tenant_id        TEXT NOT NULL,
	tenant_name      TEXT NOT NULL,
	tenant_subdomain TEXT NOT NULL,
	started_at       INTEGER NOT NULL,
	reason           TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS impersonation_watermarks (
	operator_id TEXT PRIMARY KEY,
	last_started_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tenants (
	id        TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	subdomain TEXT NOT NULL,
	token     TEXT NOT NULL,
	disabled  INTEGER NOT NULL DEFAULT 0
);
`

// Store wraps the SQLite handle shared by the impersonation store and the
// tenant directory.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at dsn and applies the
// schema. Use ":memory:" for tests.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// The driver serializes access per connection; a single connection
	// avoids SQLITE_BUSY on concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Impersonations returns the authoritative impersonation store.
func (s *Store) Impersonations() *ImpersonationStore {
	return &ImpersonationStore{db: s.db}
}

// Tenants returns the tenant directory.
func (s *Store) Tenants() *TenantDirectory {
	return &TenantDirectory{db: s.db}
}
