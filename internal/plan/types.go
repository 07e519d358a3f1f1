// Package plan implements the declarative reconciler: a whole desired
// task tree is applied against current state in one atomic, idempotent
// transaction.
package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/taskdeck/taskdeck/internal/task"
)

// Node is one desired task in a plan. Name is the matching identity; an
// explicit ID forces an update of that task. DependsOn holds names
// resolved across the whole request after all creates.
type Node struct {
	Name      string       `json:"name,omitempty"`
	ID        *int64       `json:"id,omitempty"`
	Status    *task.Status `json:"status,omitempty"`
	Spec      *string      `json:"spec,omitempty"`
	Priority  *int         `json:"priority,omitempty"`
	Parent    OptionalID   `json:"parent_id,omitzero"`
	Children  []Node       `json:"children,omitempty"`
	DependsOn []string     `json:"depends_on,omitempty"`
	Delete    bool         `json:"delete,omitempty"`
}

// OptionalID distinguishes an absent parent_id from an explicit null.
// Absent means "infer" (enclosing node, or current focus for roots);
// explicit null forces a root task.
type OptionalID struct {
	Set   bool
	Value *int64
}

// IsZero lets encoding/json omit unset values via omitzero.
func (o OptionalID) IsZero() bool {
	return !o.Set
}

// UnmarshalJSON records that the field was present.
func (o *OptionalID) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v int64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("parent_id must be an integer or null: %w", err)
	}
	o.Value = &v
	return nil
}

// MarshalJSON renders the tri-state back out.
func (o OptionalID) MarshalJSON() ([]byte, error) {
	if !o.Set || o.Value == nil {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(*o.Value, 10)), nil
}

// Result reports what a successful reconciliation did.
type Result struct {
	Created        int        `json:"created"`
	Updated        int        `json:"updated"`
	Deleted        int        `json:"deleted"`
	CascadeDeleted int        `json:"cascade_deleted"`
	Dependencies   int        `json:"dependencies"`
	Focused        *task.Task `json:"focused,omitempty"`
}

// DuplicateNamesError reports a name used twice in one request.
type DuplicateNamesError struct {
	Names []string
}

func (e *DuplicateNamesError) Error() string {
	return "duplicate task names in plan: " + strings.Join(e.Names, ", ")
}

// Code implements task.Coder.
func (e *DuplicateNamesError) Code() string { return task.CodeDuplicateNames }

// MissingSpecError reports a task asked to be doing without a spec.
type MissingSpecError struct {
	Name string
}

func (e *MissingSpecError) Error() string {
	return fmt.Sprintf("task %q cannot be in progress without a spec", e.Name)
}

// Code implements task.Coder.
func (e *MissingSpecError) Code() string { return task.CodeMissingSpecForDoing }

// MultipleInProgressError reports a plan that would leave more than one
// task in progress across the project.
type MultipleInProgressError struct {
	Names []string
}

func (e *MultipleInProgressError) Error() string {
	return "plan would leave multiple tasks in progress: " + strings.Join(e.Names, ", ")
}

// Code implements task.Coder.
func (e *MultipleInProgressError) Code() string { return task.CodeMultipleInProgress }
