// Package task implements the task lifecycle engine: the todo/doing/done
// state machine with cascading transitions across the task tree, the
// single-focus workspace model, and the priority-driven next-task picker.
//
// All state lives in the SQLite store; the tree is traversed through
// parent pointers at read time, never held as an in-memory graph.
package task

import "time"

// Status is the lifecycle state of a task.
type Status string

const (
	StatusTodo  Status = "todo"
	StatusDoing Status = "doing"
	StatusDone  Status = "done"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusTodo, StatusDoing, StatusDone:
		return Status(s), nil
	}
	return "", &InvalidInputError{Reason: "invalid status: " + s}
}

// Owner identifies which actor a task belongs to. It is set at creation
// time by the creating actor and never changes.
type Owner string

const (
	OwnerHuman Owner = "human"
	OwnerAI    Owner = "ai"
)

// ParseOwner validates an owner string.
func ParseOwner(s string) (Owner, error) {
	switch Owner(s) {
	case OwnerHuman, OwnerAI:
		return Owner(s), nil
	}
	return "", &InvalidInputError{Reason: "invalid owner: " + s}
}

// Default small-integer scales. Lower priority value means more urgent;
// new tasks start at the least urgent level.
const (
	DefaultPriority   = 5
	DefaultComplexity = 1
)

// Task is a unit of work in the hierarchy.
type Task struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Spec       string `json:"spec,omitempty"`
	Status     Status `json:"status"`
	Owner      Owner  `json:"owner"`
	Complexity int    `json:"complexity"`
	Priority   int    `json:"priority"`
	ParentID   *int64 `json:"parent_id"`

	// High-water marks: set the first time the task enters a status,
	// never overwritten even if the status cycles.
	FirstTodoAt  *time.Time `json:"first_todo_at,omitempty"`
	FirstDoingAt *time.Time `json:"first_doing_at,omitempty"`
	FirstDoneAt  *time.Time `json:"first_done_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Paused is derived at read time: doing but not the focused task.
	Paused bool `json:"paused,omitempty"`
}

// IsRoot reports whether the task has no parent.
func (t *Task) IsRoot() bool {
	return t.ParentID == nil
}

// ParentRef is a tri-state parent reference. A nil *ParentRef means "no
// parent given"; a ParentRef with nil ID means "explicitly no parent"
// (root); a ParentRef with an ID points at a task.
type ParentRef struct {
	ID *int64
}

// Filter selects tasks for Find. A nil Status means any status. Parent
// follows ParentRef tri-state semantics: nil = no parent filter,
// &ParentRef{} = root tasks only, &ParentRef{ID: &n} = children of n.
type Filter struct {
	Status *Status
	Parent *ParentRef
}

// CreateInput carries the fields for a new task. Zero values fall back to
// defaults: empty Owner becomes human, empty Status becomes todo, nil
// Priority/Complexity become the package defaults.
type CreateInput struct {
	Name       string
	Spec       string
	Owner      Owner
	ParentID   *int64
	Status     Status
	Priority   *int
	Complexity *int
}

// UpdateInput is a partial update; nil fields are left untouched. A
// non-nil Parent re-parents the task (nil Parent.ID detaches it to root).
// A non-nil Status is a direct administrative write that bypasses the
// cascade logic.
type UpdateInput struct {
	Name       *string
	Spec       *string
	Status     *Status
	Parent     *ParentRef
	Priority   *int
	Complexity *int
}
