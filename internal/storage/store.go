// Package storage provides the persistent SQLite store for tasks,
// dependency edges, and per-session workspace state.
//
// The Store owns the schema and the transaction helpers. All domain
// packages (task, deps, plan) run their statements through a DBTX so the
// same code serves both standalone operations and multi-step transactions
// such as a plan reconciliation.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the SQLite-backed persistent store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite-backed store.
// Use ":memory:" for an in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// A single connection serializes writers in-process; SQLite's own
	// busy handler covers contention from other processes.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		name           TEXT NOT NULL,
		spec           TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL DEFAULT 'todo',
		owner          TEXT NOT NULL DEFAULT 'human',
		complexity     INTEGER NOT NULL DEFAULT 1,
		priority       INTEGER NOT NULL DEFAULT 5,
		parent_id      INTEGER REFERENCES tasks(id),
		first_todo_at  TEXT,
		first_doing_at TEXT,
		first_done_at  TEXT,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL,
		CHECK (parent_id IS NULL OR parent_id != id)
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

	CREATE TABLE IF NOT EXISTS dependencies (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		blocking_task_id INTEGER NOT NULL REFERENCES tasks(id),
		blocked_task_id  INTEGER NOT NULL REFERENCES tasks(id),
		created_at       TEXT NOT NULL,
		UNIQUE (blocking_task_id, blocked_task_id),
		CHECK (blocking_task_id != blocked_task_id)
	);
	CREATE INDEX IF NOT EXISTS idx_deps_blocked ON dependencies(blocked_task_id);
	CREATE INDEX IF NOT EXISTS idx_deps_blocking ON dependencies(blocking_task_id);

	CREATE TABLE IF NOT EXISTS workspace_state (
		session_id      TEXT PRIMARY KEY,
		current_task_id INTEGER REFERENCES tasks(id),
		updated_at      TEXT NOT NULL
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS tasks_fts USING fts5(
		name, spec, content='tasks', content_rowid='id'
	);
	CREATE TRIGGER IF NOT EXISTS tasks_ai AFTER INSERT ON tasks BEGIN
		INSERT INTO tasks_fts(rowid, name, spec) VALUES (new.id, new.name, new.spec);
	END;
	CREATE TRIGGER IF NOT EXISTS tasks_ad AFTER DELETE ON tasks BEGIN
		INSERT INTO tasks_fts(tasks_fts, rowid, name, spec) VALUES ('delete', old.id, old.name, old.spec);
	END;
	CREATE TRIGGER IF NOT EXISTS tasks_au AFTER UPDATE ON tasks BEGIN
		INSERT INTO tasks_fts(tasks_fts, rowid, name, spec) VALUES ('delete', old.id, old.name, old.spec);
		INSERT INTO tasks_fts(rowid, name, spec) VALUES (new.id, new.name, new.spec);
	END;`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying handle for single-statement reads.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a transaction. The transaction is rolled back on
// any error from fn, committed otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// SearchTasks performs a full-text search over task names and specs and
// returns matching task ids, best match first.
func (s *Store) SearchTasks(ctx context.Context, query string, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 20
	}

	// Sanitize query for FTS5.
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return nil, nil
	}
	ftsQuery := strings.Join(terms, " OR ")

	rows, err := s.db.QueryContext(ctx, `
		SELECT rowid FROM tasks_fts
		WHERE tasks_fts MATCH ?
		ORDER BY rank
		LIMIT ?`,
		ftsQuery, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close shuts down the database.
func (s *Store) Close() error {
	return s.db.Close()
}
