// Package store is the authoritative relational store: domain entities with
// monotonic row versions, plus the sync bookkeeping tables (client, client
// group, client view) the pull/push protocol depends on.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database backing the server of record.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath, applies pragmas and runs
// migrations. Transactions take the write lock up front (_txlock=immediate)
// so a pull's multi-table read set observes one consistent snapshot even
// under concurrent pushes.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// enablePragmas sets SQLite pragmas for performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginTx starts a write transaction.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// DB exposes the underlying handle for read-only paths that do not need a
// transaction (CVR snapshot load before the pull transaction begins).
func (s *Store) DB() *sql.DB {
	return s.db
}

// BackupTo writes a consistent copy of the database to path using
// VACUUM INTO. The destination must not already exist.
func (s *Store) BackupTo(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("backup database: %w", err)
	}
	return nil
}

// Queryer is satisfied by *sql.DB and *sql.Tx. Store query functions accept
// it so mutators can run the same queries inside their transaction.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NextRowVersion advances the store-wide monotonic version counter and
// returns the new value. Every observable write stamps its row with one.
func NextRowVersion(ctx context.Context, q Queryer) (int64, error) {
	var version int64
	err := q.QueryRowContext(ctx,
		`UPDATE row_version SET value = value + 1 WHERE id = 1 RETURNING value`,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("next row version: %w", err)
	}
	return version, nil
}

// inPlaceholders returns "?,?,..." for n arguments.
func inPlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}

// stringArgs converts ids to the []any form database/sql wants.
func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
