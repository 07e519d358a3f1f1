package task

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoCurrentTask is returned by operations that require a focused task
// when the workspace slot is empty.
var ErrNoCurrentTask = errors.New("no current task")

// NotFoundError reports an unknown task id.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %d not found", e.ID)
}

// BlockedError reports a start attempt on a task with unmet blockers.
type BlockedError struct {
	TaskID   int64
	Blocking []Task
}

func (e *BlockedError) Error() string {
	names := make([]string, len(e.Blocking))
	for i, t := range e.Blocking {
		names[i] = fmt.Sprintf("%d (%s)", t.ID, t.Name)
	}
	return fmt.Sprintf("task %d is blocked by: %s", e.TaskID, strings.Join(names, ", "))
}

// UncompletedChildrenError reports a completion attempt while direct
// children are still incomplete.
type UncompletedChildrenError struct {
	TaskID   int64
	Children []Task
}

func (e *UncompletedChildrenError) Error() string {
	names := make([]string, len(e.Children))
	for i, t := range e.Children {
		names[i] = fmt.Sprintf("%d (%s)", t.ID, t.Name)
	}
	return fmt.Sprintf("task %d has uncompleted children: %s", e.TaskID, strings.Join(names, ", "))
}

// PermissionDeniedError reports an AI caller completing a human-owned task.
type PermissionDeniedError struct {
	TaskID int64
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("task %d is human-owned and cannot be completed by the AI", e.TaskID)
}

// CircularDependencyError reports a dependency edge that would create a
// cycle, including a self-reference.
type CircularDependencyError struct {
	BlockingID int64
	BlockedID  int64
}

func (e *CircularDependencyError) Error() string {
	if e.BlockingID == e.BlockedID {
		return fmt.Sprintf("task %d cannot block itself", e.BlockingID)
	}
	return fmt.Sprintf("dependency %d -> %d would create a cycle", e.BlockingID, e.BlockedID)
}

// InvalidInputError reports malformed caller input.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return e.Reason
}

// Error codes exposed to adapters. Each engine error kind maps to exactly
// one code so the CLI, JSON-RPC, and HTTP layers render uniformly.
const (
	CodeNotFound            = "NOT_FOUND"
	CodeTaskBlocked         = "TASK_BLOCKED"
	CodeUncompletedChildren = "UNCOMPLETED_CHILDREN"
	CodePermissionDenied    = "PERMISSION_DENIED"
	CodeNoCurrentTask       = "NO_CURRENT_TASK"
	CodeCircularDependency  = "CIRCULAR_DEPENDENCY"
	CodeDuplicateNames      = "DUPLICATE_NAMES"
	CodeMultipleInProgress  = "MULTIPLE_IN_PROGRESS"
	CodeMissingSpecForDoing = "MISSING_SPEC_FOR_DOING"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeInternal            = "INTERNAL"
)

// Coder is implemented by engine errors that carry their own code.
// The plan package uses it for its reconciliation errors.
type Coder interface {
	Code() string
}

// ErrorCode maps an engine error to its adapter-facing code.
func ErrorCode(err error) string {
	var (
		notFound *NotFoundError
		blocked  *BlockedError
		children *UncompletedChildrenError
		denied   *PermissionDeniedError
		circular *CircularDependencyError
		input    *InvalidInputError
		withCode Coder
	)
	switch {
	case errors.Is(err, ErrNoCurrentTask):
		return CodeNoCurrentTask
	case errors.As(err, &notFound):
		return CodeNotFound
	case errors.As(err, &blocked):
		return CodeTaskBlocked
	case errors.As(err, &children):
		return CodeUncompletedChildren
	case errors.As(err, &denied):
		return CodePermissionDenied
	case errors.As(err, &circular):
		return CodeCircularDependency
	case errors.As(err, &input):
		return CodeInvalidInput
	case errors.As(err, &withCode):
		return withCode.Code()
	}
	return CodeInternal
}
