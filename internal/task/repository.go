package task

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/taskdeck/taskdeck/internal/observability"
	"github.com/taskdeck/taskdeck/internal/storage"
)

// BlockChecker answers whether a task has unmet blockers. Implemented by
// the dependency graph; injected so the repository stays free of a
// package cycle.
type BlockChecker interface {
	// BlockingTx returns the direct blocking tasks of taskID whose
	// status is not done. Empty means the task may start.
	BlockingTx(ctx context.Context, q storage.DBTX, taskID int64) ([]Task, error)
}

// Repository owns CRUD over tasks, the status state machine with its
// cascades, and the focus/pause workspace slot for one session.
type Repository struct {
	store   *storage.Store
	log     *observability.Logger
	blocks  BlockChecker
	session string
}

// NewRepository creates a repository scoped to the given workspace session.
func NewRepository(store *storage.Store, log *observability.Logger, session string) *Repository {
	if session == "" {
		session = "default"
	}
	return &Repository{store: store, log: log, session: session}
}

// SetBlockChecker wires the dependency graph in. Start refuses blocked
// tasks only when a checker is present.
func (r *Repository) SetBlockChecker(bc BlockChecker) {
	r.blocks = bc
}

// Session returns the workspace session this repository operates on.
func (r *Repository) Session() string {
	return r.session
}

const taskColumns = `id, name, spec, status, owner, complexity, priority, parent_id,
	first_todo_at, first_doing_at, first_done_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// ScanRow scans one task row selected in taskColumns order. Shared with
// packages that join against the tasks table.
func ScanRow(row rowScanner) (*Task, error) {
	return scanTask(row)
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t          Task
		parentID   sql.NullInt64
		firstTodo  sql.NullString
		firstDoing sql.NullString
		firstDone  sql.NullString
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(
		&t.ID, &t.Name, &t.Spec, &t.Status, &t.Owner, &t.Complexity, &t.Priority,
		&parentID, &firstTodo, &firstDoing, &firstDone, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		t.ParentID = &parentID.Int64
	}
	t.FirstTodoAt = parseTimePtr(firstTodo)
	t.FirstDoingAt = parseTimePtr(firstDoing)
	t.FirstDoneAt = parseTimePtr(firstDone)
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &t, nil
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &ts
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// --- reads ---

// Get returns a task by id, with the derived Paused flag filled in.
func (r *Repository) Get(ctx context.Context, id int64) (*Task, error) {
	db := r.store.DB()
	t, err := r.GetTx(ctx, db, id)
	if err != nil {
		return nil, err
	}
	cur, err := r.currentTaskIDTx(ctx, db)
	if err != nil {
		return nil, err
	}
	markPaused(cur, t)
	return t, nil
}

// GetTx returns a task by id without derived fields.
func (r *Repository) GetTx(ctx context.Context, q storage.DBTX, id int64) (*Task, error) {
	row := q.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return t, nil
}

// Find returns tasks matching the filter, ordered by id, with the
// derived Paused flag filled in.
func (r *Repository) Find(ctx context.Context, f Filter) ([]Task, error) {
	db := r.store.DB()
	tasks, err := r.FindTx(ctx, db, f)
	if err != nil {
		return nil, err
	}
	cur, err := r.currentTaskIDTx(ctx, db)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		markPaused(cur, &tasks[i])
	}
	return tasks, nil
}

// FindTx returns tasks matching the filter, ordered by id.
func (r *Repository) FindTx(ctx context.Context, q storage.DBTX, f Filter) ([]Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks"
	var (
		where []string
		args  []any
	)
	if f.Status != nil {
		if _, err := ParseStatus(string(*f.Status)); err != nil {
			return nil, err
		}
		where = append(where, "status = ?")
		args = append(args, string(*f.Status))
	}
	if f.Parent != nil {
		if f.Parent.ID == nil {
			where = append(where, "parent_id IS NULL")
		} else {
			where = append(where, "parent_id = ?")
			args = append(args, *f.Parent.ID)
		}
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func markPaused(current *int64, t *Task) {
	t.Paused = t.Status == StatusDoing && (current == nil || *current != t.ID)
}

// --- create / update / delete ---

// Create inserts a new task.
func (r *Repository) Create(ctx context.Context, in CreateInput) (*Task, error) {
	var created *Task
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		created, err = r.CreateTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.log.Op("task_created", created.ID, "name", created.Name, "owner", string(created.Owner))
	return created, nil
}

// CreateTx inserts a new task inside an existing transaction.
func (r *Repository) CreateTx(ctx context.Context, q storage.DBTX, in CreateInput) (*Task, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, &InvalidInputError{Reason: "task name cannot be empty"}
	}
	status := in.Status
	if status == "" {
		status = StatusTodo
	}
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, err
	}
	owner := in.Owner
	if owner == "" {
		owner = OwnerHuman
	}
	if _, err := ParseOwner(string(owner)); err != nil {
		return nil, err
	}
	priority := DefaultPriority
	if in.Priority != nil {
		priority = *in.Priority
	}
	complexity := DefaultComplexity
	if in.Complexity != nil {
		complexity = *in.Complexity
	}
	if in.ParentID != nil {
		if _, err := r.GetTx(ctx, q, *in.ParentID); err != nil {
			return nil, err
		}
	}

	now := nowString()
	var firstTodo, firstDoing, firstDone any
	switch status {
	case StatusTodo:
		firstTodo = now
	case StatusDoing:
		firstDoing = now
	case StatusDone:
		firstDone = now
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO tasks (name, spec, status, owner, complexity, priority, parent_id,
			first_todo_at, first_doing_at, first_done_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.Name, in.Spec, string(status), string(owner), complexity, priority,
		in.ParentID, firstTodo, firstDoing, firstDone, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create task %q: %w", in.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create task %q: %w", in.Name, err)
	}
	return r.GetTx(ctx, q, id)
}

// Update applies a partial update. A direct status write bypasses all
// cascade logic; it is meant for administrative correction only.
func (r *Repository) Update(ctx context.Context, id int64, in UpdateInput) (*Task, error) {
	var updated *Task
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		updated, err = r.UpdateTx(ctx, tx, id, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.log.Op("task_updated", id)
	return updated, nil
}

// UpdateTx applies a partial update inside an existing transaction.
func (r *Repository) UpdateTx(ctx context.Context, q storage.DBTX, id int64, in UpdateInput) (*Task, error) {
	t, err := r.GetTx(ctx, q, id)
	if err != nil {
		return nil, err
	}

	var (
		sets []string
		args []any
	)
	if in.Name != nil {
		if strings.TrimSpace(*in.Name) == "" {
			return nil, &InvalidInputError{Reason: "task name cannot be empty"}
		}
		sets = append(sets, "name = ?")
		args = append(args, *in.Name)
	}
	if in.Spec != nil {
		sets = append(sets, "spec = ?")
		args = append(args, *in.Spec)
	}
	if in.Status != nil {
		status, err := ParseStatus(string(*in.Status))
		if err != nil {
			return nil, err
		}
		sets = append(sets, "status = ?")
		args = append(args, string(status))
		if col := firstStatusColumn(status); col != "" {
			// High-water mark: only filled if never set.
			sets = append(sets, col+" = COALESCE("+col+", ?)")
			args = append(args, nowString())
		}
	}
	if in.Parent != nil {
		if in.Parent.ID == nil {
			sets = append(sets, "parent_id = NULL")
		} else {
			newParent := *in.Parent.ID
			if newParent == id {
				return nil, &InvalidInputError{Reason: fmt.Sprintf("task %d cannot be its own parent", id)}
			}
			if _, err := r.GetTx(ctx, q, newParent); err != nil {
				return nil, err
			}
			// Reject re-parenting under the task's own subtree.
			onChain, err := r.onAncestorChainTx(ctx, q, newParent, id)
			if err != nil {
				return nil, err
			}
			if onChain {
				return nil, &InvalidInputError{Reason: fmt.Sprintf("task %d cannot become its own ancestor", id)}
			}
			sets = append(sets, "parent_id = ?")
			args = append(args, newParent)
		}
	}
	if in.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *in.Priority)
	}
	if in.Complexity != nil {
		sets = append(sets, "complexity = ?")
		args = append(args, *in.Complexity)
	}
	if len(sets) == 0 {
		return t, nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, nowString())
	args = append(args, id)
	if _, err := q.ExecContext(ctx, "UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
		return nil, fmt.Errorf("update task %d: %w", id, err)
	}
	return r.GetTx(ctx, q, id)
}

func firstStatusColumn(s Status) string {
	switch s {
	case StatusTodo:
		return "first_todo_at"
	case StatusDoing:
		return "first_doing_at"
	case StatusDone:
		return "first_done_at"
	}
	return ""
}

// onAncestorChainTx reports whether target appears on the parent chain
// starting at from (inclusive).
func (r *Repository) onAncestorChainTx(ctx context.Context, q storage.DBTX, from, target int64) (bool, error) {
	cur := &from
	for cur != nil {
		if *cur == target {
			return true, nil
		}
		t, err := r.GetTx(ctx, q, *cur)
		if err != nil {
			return false, err
		}
		cur = t.ParentID
	}
	return false, nil
}

// DeleteResult reports a cascading delete. Cascaded counts descendants
// only, not the directly deleted task.
type DeleteResult struct {
	TaskID   int64 `json:"task_id"`
	Deleted  int   `json:"deleted"`
	Cascaded int   `json:"cascaded"`
}

// Delete removes a task and all its descendants, along with every
// dependency edge touching the deleted set. Focus is cleared if it
// pointed into the set.
func (r *Repository) Delete(ctx context.Context, id int64) (*DeleteResult, error) {
	var res *DeleteResult
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		res, err = r.DeleteTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.log.Op("task_deleted", id, "cascaded", res.Cascaded)
	return res, nil
}

// DeleteTx performs a cascading delete inside an existing transaction.
func (r *Repository) DeleteTx(ctx context.Context, q storage.DBTX, id int64) (*DeleteResult, error) {
	if _, err := r.GetTx(ctx, q, id); err != nil {
		return nil, err
	}

	levels, err := r.descendantLevelsTx(ctx, q, id)
	if err != nil {
		return nil, err
	}

	var all []int64
	for _, level := range levels {
		all = append(all, level...)
	}

	ph, args := placeholders(all)
	if _, err := q.ExecContext(ctx,
		"DELETE FROM dependencies WHERE blocking_task_id IN ("+ph+") OR blocked_task_id IN ("+ph+")",
		append(args, args...)...); err != nil {
		return nil, fmt.Errorf("delete dependencies of task %d: %w", id, err)
	}
	if _, err := q.ExecContext(ctx,
		"UPDATE workspace_state SET current_task_id = NULL, updated_at = ? WHERE current_task_id IN ("+ph+")",
		append([]any{nowString()}, args...)...); err != nil {
		return nil, fmt.Errorf("clear focus for task %d: %w", id, err)
	}

	// Deepest level first so parent rows never outlive their children's
	// foreign keys mid-delete.
	for i := len(levels) - 1; i >= 0; i-- {
		ph, args := placeholders(levels[i])
		if _, err := q.ExecContext(ctx, "DELETE FROM tasks WHERE id IN ("+ph+")", args...); err != nil {
			return nil, fmt.Errorf("delete task %d: %w", id, err)
		}
	}

	return &DeleteResult{TaskID: id, Deleted: 1, Cascaded: len(all) - 1}, nil
}

// descendantLevelsTx returns the ids of root and all its descendants,
// grouped by depth (root first).
func (r *Repository) descendantLevelsTx(ctx context.Context, q storage.DBTX, root int64) ([][]int64, error) {
	levels := [][]int64{{root}}
	frontier := []int64{root}
	for len(frontier) > 0 {
		ph, args := placeholders(frontier)
		rows, err := q.QueryContext(ctx, "SELECT id FROM tasks WHERE parent_id IN ("+ph+")", args...)
		if err != nil {
			return nil, fmt.Errorf("descendants of %d: %w", root, err)
		}
		var next []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			next = append(next, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
		if len(next) == 0 {
			break
		}
		levels = append(levels, next)
		frontier = next
	}
	return levels, nil
}

func placeholders(ids []int64) (string, []any) {
	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = "?"
		args[i] = id
	}
	return strings.Join(ph, ", "), args
}
