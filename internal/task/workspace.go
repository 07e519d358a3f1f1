package task

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/taskdeck/taskdeck/internal/storage"
)

// The workspace slot is a single row per session holding the focused task
// id. A task that is doing but not focused is paused; that property is
// derived at read time and never stored.

// Current returns the focused task, or nil if the session has no focus.
func (r *Repository) Current(ctx context.Context) (*Task, error) {
	db := r.store.DB()
	id, err := r.currentTaskIDTx(ctx, db)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, nil
	}
	return r.GetTx(ctx, db, *id)
}

// CurrentTaskIDTx returns the focused task id for the session, or nil.
func (r *Repository) CurrentTaskIDTx(ctx context.Context, q storage.DBTX) (*int64, error) {
	return r.currentTaskIDTx(ctx, q)
}

func (r *Repository) currentTaskIDTx(ctx context.Context, q storage.DBTX) (*int64, error) {
	var id sql.NullInt64
	err := q.QueryRowContext(ctx,
		"SELECT current_task_id FROM workspace_state WHERE session_id = ?",
		r.session,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read workspace %q: %w", r.session, err)
	}
	if !id.Valid {
		return nil, nil
	}
	return &id.Int64, nil
}

// SetCurrentTx writes the focus slot. A nil id clears focus.
func (r *Repository) SetCurrentTx(ctx context.Context, q storage.DBTX, id *int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO workspace_state (session_id, current_task_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			current_task_id = excluded.current_task_id,
			updated_at = excluded.updated_at`,
		r.session, id, nowString(),
	)
	if err != nil {
		return fmt.Errorf("write workspace %q: %w", r.session, err)
	}
	return nil
}
