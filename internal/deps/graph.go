// Package deps maintains the directed "blocks" edges between tasks and
// answers whether a task may start.
//
// Cycle safety is a write-time reachability search over the stored edges,
// not an incrementally maintained topological order.
package deps

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/taskdeck/taskdeck/internal/observability"
	"github.com/taskdeck/taskdeck/internal/storage"
	"github.com/taskdeck/taskdeck/internal/task"
)

// Dependency is a directed edge: BlockedTaskID cannot start while
// BlockingTaskID is not done.
type Dependency struct {
	ID             int64     `json:"id"`
	BlockingTaskID int64     `json:"blocking_task_id"`
	BlockedTaskID  int64     `json:"blocked_task_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Graph owns the dependency edges.
type Graph struct {
	store *storage.Store
	repo  *task.Repository
	log   *observability.Logger
}

// NewGraph creates the dependency graph over the shared store.
func NewGraph(store *storage.Store, repo *task.Repository, log *observability.Logger) *Graph {
	return &Graph{store: store, repo: repo, log: log}
}

// Add creates a blocking edge after validating both endpoints exist and
// the edge would not close a cycle of any length.
func (g *Graph) Add(ctx context.Context, blockingID, blockedID int64) (*Dependency, error) {
	var dep *Dependency
	err := g.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		dep, err = g.AddTx(ctx, tx, blockingID, blockedID)
		return err
	})
	if err != nil {
		return nil, err
	}
	g.log.Op("dependency_added", blockedID, "blocking", blockingID)
	return dep, nil
}

// AddTx creates a blocking edge inside an existing transaction. State is
// left untouched on any validation failure.
func (g *Graph) AddTx(ctx context.Context, q storage.DBTX, blockingID, blockedID int64) (*Dependency, error) {
	if blockingID == blockedID {
		return nil, &task.CircularDependencyError{BlockingID: blockingID, BlockedID: blockedID}
	}
	if _, err := g.repo.GetTx(ctx, q, blockingID); err != nil {
		return nil, err
	}
	if _, err := g.repo.GetTx(ctx, q, blockedID); err != nil {
		return nil, err
	}

	// The new edge closes a cycle exactly when the blocked task already
	// blocks the blocking task, directly or transitively.
	reachable, err := g.reachableTx(ctx, q, blockedID, blockingID)
	if err != nil {
		return nil, err
	}
	if reachable {
		return nil, &task.CircularDependencyError{BlockingID: blockingID, BlockedID: blockedID}
	}

	now := time.Now().UTC()
	res, err := q.ExecContext(ctx, `
		INSERT INTO dependencies (blocking_task_id, blocked_task_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(blocking_task_id, blocked_task_id) DO NOTHING`,
		blockingID, blockedID, now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("add dependency %d -> %d: %w", blockingID, blockedID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("add dependency %d -> %d: %w", blockingID, blockedID, err)
	}
	if n == 0 {
		// Edge already exists; LastInsertId is meaningless after a no-op
		// conflict, so read the stored row back.
		return g.getTx(ctx, q, blockingID, blockedID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("add dependency %d -> %d: %w", blockingID, blockedID, err)
	}
	return &Dependency{ID: id, BlockingTaskID: blockingID, BlockedTaskID: blockedID, CreatedAt: now}, nil
}

// getTx loads one edge by its endpoints.
func (g *Graph) getTx(ctx context.Context, q storage.DBTX, blockingID, blockedID int64) (*Dependency, error) {
	var (
		d  Dependency
		at string
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, blocking_task_id, blocked_task_id, created_at FROM dependencies WHERE blocking_task_id = ? AND blocked_task_id = ?",
		blockingID, blockedID,
	).Scan(&d.ID, &d.BlockingTaskID, &d.BlockedTaskID, &at)
	if err != nil {
		return nil, fmt.Errorf("get dependency %d -> %d: %w", blockingID, blockedID, err)
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339, at)
	return &d, nil
}

// Remove deletes a blocking edge.
func (g *Graph) Remove(ctx context.Context, blockingID, blockedID int64) error {
	err := g.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM dependencies WHERE blocking_task_id = ? AND blocked_task_id = ?",
			blockingID, blockedID,
		)
		if err != nil {
			return fmt.Errorf("remove dependency %d -> %d: %w", blockingID, blockedID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &task.InvalidInputError{
				Reason: fmt.Sprintf("no dependency %d -> %d", blockingID, blockedID),
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	g.log.Op("dependency_removed", blockedID, "blocking", blockingID)
	return nil
}

// reachableTx walks blocking -> blocked edges from start and reports
// whether target is reachable.
func (g *Graph) reachableTx(ctx context.Context, q storage.DBTX, start, target int64) (bool, error) {
	seen := map[int64]bool{start: true}
	frontier := []int64{start}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]

		rows, err := q.QueryContext(ctx,
			"SELECT blocked_task_id FROM dependencies WHERE blocking_task_id = ?", next)
		if err != nil {
			return false, fmt.Errorf("walk dependencies from %d: %w", next, err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return false, err
			}
			if id == target {
				rows.Close()
				return true, nil
			}
			if !seen[id] {
				seen[id] = true
				frontier = append(frontier, id)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return false, err
		}
		rows.Close()
	}
	return false, nil
}

// Blocking returns the direct blockers of a task that are not yet done.
// Empty means the task may start.
func (g *Graph) Blocking(ctx context.Context, taskID int64) ([]task.Task, error) {
	return g.BlockingTx(ctx, g.store.DB(), taskID)
}

// BlockingTx implements task.BlockChecker.
func (g *Graph) BlockingTx(ctx context.Context, q storage.DBTX, taskID int64) ([]task.Task, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT t.id, t.name, t.spec, t.status, t.owner, t.complexity, t.priority, t.parent_id,
			t.first_todo_at, t.first_doing_at, t.first_done_at, t.created_at, t.updated_at
		FROM dependencies d
		JOIN tasks t ON t.id = d.blocking_task_id
		WHERE d.blocked_task_id = ? AND t.status != ?
		ORDER BY t.id`,
		taskID, string(task.StatusDone),
	)
	if err != nil {
		return nil, fmt.Errorf("blockers of task %d: %w", taskID, err)
	}
	defer rows.Close()

	var blockers []task.Task
	for rows.Next() {
		t, err := task.ScanRow(rows)
		if err != nil {
			return nil, err
		}
		blockers = append(blockers, *t)
	}
	return blockers, rows.Err()
}

// List returns every edge touching taskID, or all edges when taskID is nil.
func (g *Graph) List(ctx context.Context, taskID *int64) ([]Dependency, error) {
	query := "SELECT id, blocking_task_id, blocked_task_id, created_at FROM dependencies"
	var args []any
	if taskID != nil {
		query += " WHERE blocking_task_id = ? OR blocked_task_id = ?"
		args = append(args, *taskID, *taskID)
	}
	query += " ORDER BY id"

	rows, err := g.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	defer rows.Close()

	var deps []Dependency
	for rows.Next() {
		var (
			d  Dependency
			at string
		)
		if err := rows.Scan(&d.ID, &d.BlockingTaskID, &d.BlockedTaskID, &at); err != nil {
			return nil, err
		}
		d.CreatedAt, _ = time.Parse(time.RFC3339, at)
		deps = append(deps, d)
	}
	return deps, rows.Err()
}
