package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	// Pure-Go SQLite driver registered as "sqlite".
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory SQLite database.
const MemoryPath = ":memory:"

// SQLite wraps a database/sql handle on a SQLite database.
// The pool is limited to a single connection so writes are serialized and an
// in-memory database survives for the lifetime of the handle.
type SQLite struct {
	DB *sql.DB
}

// NewSQLite opens (creating if needed) the SQLite database at path and checks
// that it is usable.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	return &SQLite{DB: db}, nil
}

// sqliteDSN adds the pragmas every connection needs. Timestamps are written in
// the sqlite text format so DATETIME columns scan back into time.Time.
func sqliteDSN(path string) string {
	params := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
		"_time_format=sqlite",
	}
	if path != MemoryPath {
		params = append(params, "_pragma=journal_mode(WAL)")
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(params, "&")
}

// Ping checks if the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	if s.DB == nil {
		return fmt.Errorf("sqlite database is not initialized")
	}
	return s.DB.PingContext(ctx)
}

// Close releases the database handle.
func (s *SQLite) Close() {
	if s.DB != nil {
		_ = s.DB.Close()
	}
}

// Migrate applies the embedded sqlite migrations that have not run yet.
func (s *SQLite) Migrate(ctx context.Context) ([]string, error) {
	return applyMigrations(ctx, sqlMigrator{db: s.DB}, "sqlite")
}
