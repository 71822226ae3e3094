// Package store implements the relational persistence layer: a narrow
// create-table / bind+exec / query-rows surface any SQL-backed store could
// satisfy. This repo backs it with modernc.org/sqlite, a pure-Go (cgo-free)
// SQLite driver.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a *sql.DB with a narrow operation set, so every index
// implementation depends only on this interface rather than on
// database/sql or SQLite directly.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (creating if necessary) a SQLite database at path.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn
	return &DB{conn: conn, path: path}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error { return d.conn.Close() }

// Path reports the filesystem path backing this DB, used by cache
// freshness checks.
func (d *DB) Path() string { return d.path }

// CreateTableIfNotExists runs an idempotent CREATE TABLE statement. Any SQL
// error here is treated as fatal.
func (d *DB) CreateTableIfNotExists(ctx context.Context, schema string) error {
	if _, err := d.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: create table: %s", ErrSQLFatal, err)
	}
	return nil
}

// Exec runs a statement with bound args; fatal on error.
func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := d.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: exec: %s", ErrSQLFatal, err)
	}
	return res, nil
}

// QueryRows runs a query and returns *sql.Rows for the caller to scan.
func (d *DB) QueryRows(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %s", ErrSQLFatal, err)
	}
	return rows, nil
}

// Begin starts a transaction. The scanner's batched writer (Sink) does not
// use it; it writes each row with Exec.
func (d *DB) Begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %s", ErrSQLFatal, err)
	}
	return tx, nil
}

// ErrSQLFatal tags any database-layer error as fatal: always unrecoverable,
// never retried in place.
var ErrSQLFatal = fmt.Errorf("sql fatal error")
