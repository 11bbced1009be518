package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations
var migrationFiles embed.FS

// Migration is one embedded schema change.
type Migration struct {
	Version string
	SQL     string
}

// Migrations returns the embedded up-migrations for a dialect ("postgres" or
// "sqlite") sorted by version.
func Migrations(dialect string) ([]Migration, error) {
	dir := path.Join("migrations", dialect)
	entries, err := fs.ReadDir(migrationFiles, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		contents, err := fs.ReadFile(migrationFiles, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		migrations = append(migrations, Migration{Version: entry.Name(), SQL: string(contents)})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// migrator is the per-driver part of applying migrations.
type migrator interface {
	exec(ctx context.Context, stmt string) error
	isApplied(ctx context.Context, version string) (bool, error)
	apply(ctx context.Context, m Migration) error
}

// applyMigrations runs every migration not yet recorded in schema_migrations,
// each in its own transaction, and returns the versions it applied.
func applyMigrations(ctx context.Context, m migrator, dialect string) ([]string, error) {
	if err := m.exec(ctx, createMigrationsTable); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	migrations, err := Migrations(dialect)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, mig := range migrations {
		done, err := m.isApplied(ctx, mig.Version)
		if err != nil {
			return applied, fmt.Errorf("check migration %s: %w", mig.Version, err)
		}
		if done {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", mig.Version, err)
		}
		applied = append(applied, mig.Version)
	}
	return applied, nil
}

// pgxMigrator runs on the single connection that holds the migration lock.
type pgxMigrator struct {
	conn *pgxpool.Conn
}

func (p pgxMigrator) exec(ctx context.Context, stmt string) error {
	_, err := p.conn.Exec(ctx, stmt)
	return err
}

func (p pgxMigrator) isApplied(ctx context.Context, version string) (bool, error) {
	var found string
	err := p.conn.QueryRow(ctx, `SELECT version FROM schema_migrations WHERE version = $1`, version).Scan(&found)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p pgxMigrator) apply(ctx context.Context, m Migration) error {
	tx, err := p.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.Version); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return tx.Commit(ctx)
}

type sqlMigrator struct {
	db *sql.DB
}

func (s sqlMigrator) exec(ctx context.Context, stmt string) error {
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s sqlMigrator) isApplied(ctx context.Context, version string) (bool, error) {
	var found string
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_migrations WHERE version = ?`, version).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s sqlMigrator) apply(ctx context.Context, m Migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, m.Version); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return tx.Commit()
}
