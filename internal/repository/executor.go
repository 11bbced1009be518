package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// querier runs statements either on the pool or inside a transaction.
type querier interface {
	queryRow(ctx context.Context, query string, args ...any) rowScanner
	query(ctx context.Context, query string, each func(rowScanner) error, args ...any) error
	exec(ctx context.Context, query string, args ...any) (int64, error)
}

type executor interface {
	querier
	withTx(ctx context.Context, fn func(q querier) error) error
}

// dialect holds the SQL differences between postgres and sqlite.
type dialect struct {
	name       string
	lockSuffix string
	bind       func(n int) string
	jsonArg    func(raw json.RawMessage) any
}

var postgresDialect = dialect{
	name:       "postgres",
	lockSuffix: " FOR UPDATE",
	bind:       func(n int) string { return fmt.Sprintf("$%d", n) },
	jsonArg: func(raw json.RawMessage) any {
		if len(raw) == 0 {
			return nil
		}
		return []byte(raw)
	},
}

var sqliteDialect = dialect{
	name: "sqlite",
	bind: func(int) string { return "?" },
	jsonArg: func(raw json.RawMessage) any {
		if len(raw) == 0 {
			return nil
		}
		return string(raw)
	},
}

// placeholders returns n bind markers starting at position from.
func (d dialect) placeholders(from, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = d.bind(from + i)
	}
	return out
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation detects unique constraint failures from either driver.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 23505 = unique_violation
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE"))
	}
	return false
}

// pgxExecutor runs queries on a pgx pool.
type pgxExecutor struct {
	pool *pgxpool.Pool
}

func (e pgxExecutor) queryRow(ctx context.Context, query string, args ...any) rowScanner {
	return e.pool.QueryRow(ctx, query, args...)
}

func (e pgxExecutor) query(ctx context.Context, query string, each func(rowScanner) error, args ...any) error {
	return pgxQuery(ctx, e.pool, query, each, args...)
}

func (e pgxExecutor) exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := e.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (e pgxExecutor) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// Safe after commit
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(pgxTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type pgxTx struct {
	tx pgx.Tx
}

func (t pgxTx) queryRow(ctx context.Context, query string, args ...any) rowScanner {
	return t.tx.QueryRow(ctx, query, args...)
}

func (t pgxTx) query(ctx context.Context, query string, each func(rowScanner) error, args ...any) error {
	return pgxQuery(ctx, t.tx, query, each, args...)
}

func (t pgxTx) exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type pgxQueryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func pgxQuery(ctx context.Context, q pgxQueryer, query string, each func(rowScanner) error, args ...any) error {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := each(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// sqlExecutor runs queries on a database/sql handle.
type sqlExecutor struct {
	db *sql.DB
}

func (e sqlExecutor) queryRow(ctx context.Context, query string, args ...any) rowScanner {
	return e.db.QueryRowContext(ctx, query, args...)
}

func (e sqlExecutor) query(ctx context.Context, query string, each func(rowScanner) error, args ...any) error {
	return sqlQuery(ctx, e.db, query, each, args...)
}

func (e sqlExecutor) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := e.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (e sqlExecutor) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(sqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type sqlTx struct {
	tx *sql.Tx
}

func (t sqlTx) queryRow(ctx context.Context, query string, args ...any) rowScanner {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t sqlTx) query(ctx context.Context, query string, each func(rowScanner) error, args ...any) error {
	return sqlQuery(ctx, t.tx, query, each, args...)
}

func (t sqlTx) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type sqlQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func sqlQuery(ctx context.Context, q sqlQueryer, query string, each func(rowScanner) error, args ...any) error {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := each(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
