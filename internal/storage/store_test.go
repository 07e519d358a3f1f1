package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func insertTask(t *testing.T, s *Store, name, spec string) int64 {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.DB().Exec(
		"INSERT INTO tasks (name, spec, created_at, updated_at) VALUES (?, ?, ?, ?)",
		name, spec, now, now,
	)
	if err != nil {
		t.Fatalf("insert task: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("last insert id: %v", err)
	}
	return id
}

func TestOpenCreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"tasks", "dependencies", "workspace_state"} {
		var name string
		err := s.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	// Reopening an existing database must not fail on the schema.
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	s2.Close()
}

func TestSearchTasks(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	apiID := insertTask(t, s, "build api", "wire up the http endpoints")
	dbID := insertTask(t, s, "database schema", "sqlite tables and indexes")

	ids, err := s.SearchTasks(ctx, "api", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(ids) != 1 || ids[0] != apiID {
		t.Errorf("search api = %v, want [%d]", ids, apiID)
	}

	// Spec text is indexed too.
	ids, err = s.SearchTasks(ctx, "indexes", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(ids) != 1 || ids[0] != dbID {
		t.Errorf("search indexes = %v, want [%d]", ids, dbID)
	}

	// Multiple terms are OR-joined.
	ids, err = s.SearchTasks(ctx, "api schema", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("search api schema = %v, want both tasks", ids)
	}
}

func TestSearchTracksUpdatesAndDeletes(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	id := insertTask(t, s, "original", "")

	if _, err := s.DB().Exec("UPDATE tasks SET name = 'renamed' WHERE id = ?", id); err != nil {
		t.Fatalf("update: %v", err)
	}
	ids, err := s.SearchTasks(ctx, "original", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("stale name still indexed: %v", ids)
	}
	ids, err = s.SearchTasks(ctx, "renamed", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("renamed not indexed: %v", ids)
	}

	if _, err := s.DB().Exec("DELETE FROM tasks WHERE id = ?", id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ids, err = s.SearchTasks(ctx, "renamed", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("deleted row still indexed: %v", ids)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ids, err := s.SearchTasks(context.Background(), "   ", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if ids != nil {
		t.Errorf("blank query = %v, want nil", ids)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tasks (name, created_at, updated_at) VALUES ('ghost', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')",
		); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx error = %v, want boom", err)
	}

	var count int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM tasks").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("rolled back tx left %d rows", count)
	}
}
