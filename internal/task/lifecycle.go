package task

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/taskdeck/taskdeck/internal/storage"
)

// Start moves a task into doing and focuses it. A todo task transitions
// to doing; a task already doing (or done) keeps its status. Ancestors
// that are still todo are pulled into doing as well; the walk stops at
// the first ancestor that is already doing or done. Whatever was focused
// before simply stops being focused and thereby becomes paused.
func (r *Repository) Start(ctx context.Context, id int64) (*Task, error) {
	var started *Task
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		started, err = r.StartTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.log.Op("task_started", id)
	return started, nil
}

// StartTx performs the start transition inside an existing transaction.
func (r *Repository) StartTx(ctx context.Context, q storage.DBTX, id int64) (*Task, error) {
	t, err := r.GetTx(ctx, q, id)
	if err != nil {
		return nil, err
	}

	if r.blocks != nil {
		blocking, err := r.blocks.BlockingTx(ctx, q, id)
		if err != nil {
			return nil, err
		}
		if len(blocking) > 0 {
			return nil, &BlockedError{TaskID: id, Blocking: blocking}
		}
	}

	if t.Status == StatusTodo {
		if err := r.setStatusTx(ctx, q, id, StatusDoing); err != nil {
			return nil, err
		}
	}

	// Pull todo ancestors into doing; a doing or done ancestor ends the
	// walk. A done ancestor would violate the done-cascade invariant, so
	// it is treated as a no-op rather than an error.
	parent := t.ParentID
	for parent != nil {
		anc, err := r.GetTx(ctx, q, *parent)
		if err != nil {
			return nil, err
		}
		if anc.Status != StatusTodo {
			break
		}
		if err := r.setStatusTx(ctx, q, anc.ID, StatusDoing); err != nil {
			return nil, err
		}
		parent = anc.ParentID
	}

	if err := r.SetCurrentTx(ctx, q, &id); err != nil {
		return nil, err
	}
	return r.GetTx(ctx, q, id)
}

// setStatusTx writes a status and stamps its first-seen high-water mark.
func (r *Repository) setStatusTx(ctx context.Context, q storage.DBTX, id int64, s Status) error {
	col := firstStatusColumn(s)
	now := nowString()
	_, err := q.ExecContext(ctx,
		"UPDATE tasks SET status = ?, "+col+" = COALESCE("+col+", ?), updated_at = ? WHERE id = ?",
		string(s), now, now, id,
	)
	if err != nil {
		return fmt.Errorf("set task %d status %s: %w", id, s, err)
	}
	return nil
}

// CompleteResult reports a completion and the ancestors it pulled to done.
type CompleteResult struct {
	Task         *Task  `json:"task"`
	CascadedDone []Task `json:"cascaded_done,omitempty"`
}

// Complete finishes the focused task. It requires the task to be in
// progress with no incomplete children, and refuses AI callers on
// human-owned tasks. Every ancestor whose children are now all done is
// pulled to done as well; the walk stops at the first ancestor with an
// incomplete child. Focus is cleared.
func (r *Repository) Complete(ctx context.Context, isAICaller bool) (*CompleteResult, error) {
	var res *CompleteResult
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		res, err = r.CompleteTx(ctx, tx, isAICaller)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.log.Op("task_completed", res.Task.ID, "cascaded_done", len(res.CascadedDone))
	return res, nil
}

// CompleteTx performs the completion inside an existing transaction.
func (r *Repository) CompleteTx(ctx context.Context, q storage.DBTX, isAICaller bool) (*CompleteResult, error) {
	cur, err := r.currentTaskIDTx(ctx, q)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, ErrNoCurrentTask
	}
	t, err := r.GetTx(ctx, q, *cur)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusDoing {
		return nil, &InvalidInputError{Reason: fmt.Sprintf("task %d is not in progress", t.ID)}
	}

	incomplete, err := r.incompleteChildrenTx(ctx, q, t.ID)
	if err != nil {
		return nil, err
	}
	if len(incomplete) > 0 {
		return nil, &UncompletedChildrenError{TaskID: t.ID, Children: incomplete}
	}

	if t.Owner == OwnerHuman && isAICaller {
		return nil, &PermissionDeniedError{TaskID: t.ID}
	}

	if err := r.setStatusTx(ctx, q, t.ID, StatusDone); err != nil {
		return nil, err
	}
	if err := r.SetCurrentTx(ctx, q, nil); err != nil {
		return nil, err
	}

	// Ancestor cascade: keep climbing while every direct child of the
	// ancestor is done.
	var cascaded []Task
	parent := t.ParentID
	for parent != nil {
		anc, err := r.GetTx(ctx, q, *parent)
		if err != nil {
			return nil, err
		}
		remaining, err := r.incompleteChildrenTx(ctx, q, anc.ID)
		if err != nil {
			return nil, err
		}
		if len(remaining) > 0 {
			break
		}
		if anc.Status != StatusDone {
			if err := r.setStatusTx(ctx, q, anc.ID, StatusDone); err != nil {
				return nil, err
			}
			done, err := r.GetTx(ctx, q, anc.ID)
			if err != nil {
				return nil, err
			}
			cascaded = append(cascaded, *done)
		}
		parent = anc.ParentID
	}

	completed, err := r.GetTx(ctx, q, t.ID)
	if err != nil {
		return nil, err
	}
	return &CompleteResult{Task: completed, CascadedDone: cascaded}, nil
}

func (r *Repository) incompleteChildrenTx(ctx context.Context, q storage.DBTX, id int64) ([]Task, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE parent_id = ? AND status != ? ORDER BY id",
		id, string(StatusDone),
	)
	if err != nil {
		return nil, fmt.Errorf("children of task %d: %w", id, err)
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

// SpawnResult pairs a new subtask with the task it paused.
type SpawnResult struct {
	Subtask  *Task `json:"subtask"`
	Previous *Task `json:"previous,omitempty"`
}

// SpawnSubtask creates a child of the focused task and immediately starts
// it, so focus moves to the child and the former focus becomes paused.
func (r *Repository) SpawnSubtask(ctx context.Context, name, spec string, owner Owner) (*SpawnResult, error) {
	var res *SpawnResult
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		cur, err := r.currentTaskIDTx(ctx, tx)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrNoCurrentTask
		}
		child, err := r.CreateTx(ctx, tx, CreateInput{
			Name:     name,
			Spec:     spec,
			Owner:    owner,
			ParentID: cur,
		})
		if err != nil {
			return err
		}
		child, err = r.StartTx(ctx, tx, child.ID)
		if err != nil {
			return err
		}
		prev, err := r.GetTx(ctx, tx, *cur)
		if err != nil {
			return err
		}
		prev.Paused = prev.Status == StatusDoing
		res = &SpawnResult{Subtask: child, Previous: prev}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.Op("subtask_spawned", res.Subtask.ID, "parent", res.Previous.ID)
	return res, nil
}

// SwitchTo reassigns focus without touching any status. Used to resume a
// paused task.
func (r *Repository) SwitchTo(ctx context.Context, id int64) (*Task, error) {
	var t *Task
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		t, err = r.GetTx(ctx, tx, id)
		if err != nil {
			return err
		}
		return r.SetCurrentTx(ctx, tx, &id)
	})
	if err != nil {
		return nil, err
	}
	r.log.Op("task_switched", id)
	return t, nil
}
