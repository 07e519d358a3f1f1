package task

import (
	"context"
	"fmt"
	"sort"
)

// RecommendationKind tags what a pick was.
type RecommendationKind string

const (
	// RecFocusedSubTask is an unblocked todo child of the focused task.
	RecFocusedSubTask RecommendationKind = "FOCUSED_SUB_TASK"
	// RecTopLevelTask is the best unblocked todo task project-wide.
	RecTopLevelTask RecommendationKind = "TOP_LEVEL_TASK"
	// RecNone means there is nothing to recommend; Reason says why.
	RecNone RecommendationKind = "NONE"
)

// NoneReason explains an empty recommendation.
type NoneReason string

const (
	ReasonNoTasks          NoneReason = "NO_TASKS_IN_PROJECT"
	ReasonAllCompleted     NoneReason = "ALL_TASKS_COMPLETED"
	ReasonNoAvailableTodos NoneReason = "NO_AVAILABLE_TODOS"
)

// Recommendation is the result of PickNext.
type Recommendation struct {
	Kind   RecommendationKind `json:"kind"`
	Reason NoneReason         `json:"reason,omitempty"`
	Task   *Task              `json:"task,omitempty"`
}

// PickNext recommends the single best task to work on. Preference goes to
// an unblocked todo child of the focused task; otherwise the best
// unblocked todo project-wide. Lower priority value wins, ties break on
// lower id. Blocked tasks are skipped silently, never surfaced.
func (r *Repository) PickNext(ctx context.Context) (*Recommendation, error) {
	db := r.store.DB()

	cur, err := r.currentTaskIDTx(ctx, db)
	if err != nil {
		return nil, err
	}
	if cur != nil {
		todo := StatusTodo
		children, err := r.FindTx(ctx, db, Filter{Status: &todo, Parent: &ParentRef{ID: cur}})
		if err != nil {
			return nil, err
		}
		pick, err := r.firstUnblocked(ctx, children)
		if err != nil {
			return nil, err
		}
		if pick != nil {
			return &Recommendation{Kind: RecFocusedSubTask, Task: pick}, nil
		}
	}

	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks").Scan(&total); err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	if total == 0 {
		return &Recommendation{Kind: RecNone, Reason: ReasonNoTasks}, nil
	}

	todo := StatusTodo
	todos, err := r.FindTx(ctx, db, Filter{Status: &todo})
	if err != nil {
		return nil, err
	}
	if len(todos) == 0 {
		return &Recommendation{Kind: RecNone, Reason: ReasonAllCompleted}, nil
	}

	pick, err := r.firstUnblocked(ctx, todos)
	if err != nil {
		return nil, err
	}
	if pick != nil {
		return &Recommendation{Kind: RecTopLevelTask, Task: pick}, nil
	}
	return &Recommendation{Kind: RecNone, Reason: ReasonNoAvailableTodos}, nil
}

// firstUnblocked orders candidates by (priority, id) and returns the
// first one without unmet blockers.
func (r *Repository) firstUnblocked(ctx context.Context, candidates []Task) (*Task, error) {
	sorted := make([]Task, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})

	db := r.store.DB()
	for i := range sorted {
		if r.blocks != nil {
			blocking, err := r.blocks.BlockingTx(ctx, db, sorted[i].ID)
			if err != nil {
				return nil, err
			}
			if len(blocking) > 0 {
				continue
			}
		}
		return &sorted[i], nil
	}
	return nil, nil
}
