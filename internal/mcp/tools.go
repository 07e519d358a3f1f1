package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taskdeck/taskdeck/internal/app"
	"github.com/taskdeck/taskdeck/internal/plan"
	"github.com/taskdeck/taskdeck/internal/task"
)

// toolHandler dispatches tools/call to the engine.
type toolHandler struct {
	c *app.Container
}

func (h *toolHandler) handle(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "task_create":
		return h.create(ctx, args)
	case "task_get":
		return h.get(ctx, args)
	case "task_list":
		return h.list(ctx, args)
	case "task_start":
		return h.start(ctx, args)
	case "task_complete":
		return h.c.Tasks.Complete(ctx, true)
	case "task_switch":
		return h.switchTo(ctx, args)
	case "task_spawn":
		return h.spawn(ctx, args)
	case "task_update":
		return h.update(ctx, args)
	case "task_delete":
		return h.delete(ctx, args)
	case "task_next":
		return h.c.Tasks.PickNext(ctx)
	case "task_current":
		return h.c.Tasks.Current(ctx)
	case "task_search":
		return h.search(ctx, args)
	case "task_blocked":
		return h.blocked(ctx, args)
	case "dep_add":
		return h.depAdd(ctx, args)
	case "dep_remove":
		return h.depRemove(ctx, args)
	case "dep_list":
		return h.depList(ctx, args)
	case "plan_apply":
		return h.planApply(ctx, args)
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func (h *toolHandler) create(ctx context.Context, args map[string]any) (any, error) {
	name, _ := args["name"].(string)
	spec, _ := args["spec"].(string)
	in := task.CreateInput{
		Name:       name,
		Spec:       spec,
		Owner:      task.OwnerAI,
		ParentID:   argID(args, "parent_id"),
		Priority:   argInt(args, "priority"),
		Complexity: argInt(args, "complexity"),
	}
	return h.c.Tasks.Create(ctx, in)
}

func (h *toolHandler) get(ctx context.Context, args map[string]any) (any, error) {
	id, err := requireID(args, "id")
	if err != nil {
		return nil, err
	}
	return h.c.Tasks.Get(ctx, id)
}

func (h *toolHandler) list(ctx context.Context, args map[string]any) (any, error) {
	var f task.Filter
	if s, ok := args["status"].(string); ok && s != "" {
		status, err := task.ParseStatus(s)
		if err != nil {
			return nil, err
		}
		f.Status = &status
	}
	// Tri-state parent filter: key absent = no filter, explicit null =
	// roots only, number = children of that task.
	if v, ok := args["parent_id"]; ok {
		if v == nil {
			f.Parent = &task.ParentRef{}
		} else {
			f.Parent = &task.ParentRef{ID: argID(args, "parent_id")}
		}
	}
	tasks, err := h.c.Tasks.Find(ctx, f)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tasks": tasks, "count": len(tasks)}, nil
}

func (h *toolHandler) start(ctx context.Context, args map[string]any) (any, error) {
	id, err := requireID(args, "id")
	if err != nil {
		return nil, err
	}
	return h.c.Tasks.Start(ctx, id)
}

func (h *toolHandler) switchTo(ctx context.Context, args map[string]any) (any, error) {
	id, err := requireID(args, "id")
	if err != nil {
		return nil, err
	}
	return h.c.Tasks.SwitchTo(ctx, id)
}

func (h *toolHandler) spawn(ctx context.Context, args map[string]any) (any, error) {
	name, _ := args["name"].(string)
	spec, _ := args["spec"].(string)
	return h.c.Tasks.SpawnSubtask(ctx, name, spec, task.OwnerAI)
}

func (h *toolHandler) update(ctx context.Context, args map[string]any) (any, error) {
	id, err := requireID(args, "id")
	if err != nil {
		return nil, err
	}
	var in task.UpdateInput
	if v, ok := args["name"].(string); ok {
		in.Name = &v
	}
	if v, ok := args["spec"].(string); ok {
		in.Spec = &v
	}
	if v, ok := args["status"].(string); ok {
		status, err := task.ParseStatus(v)
		if err != nil {
			return nil, err
		}
		in.Status = &status
	}
	if v, ok := args["parent_id"]; ok {
		if v == nil {
			in.Parent = &task.ParentRef{}
		} else {
			in.Parent = &task.ParentRef{ID: argID(args, "parent_id")}
		}
	}
	in.Priority = argInt(args, "priority")
	in.Complexity = argInt(args, "complexity")
	return h.c.Tasks.Update(ctx, id, in)
}

func (h *toolHandler) delete(ctx context.Context, args map[string]any) (any, error) {
	id, err := requireID(args, "id")
	if err != nil {
		return nil, err
	}
	return h.c.Tasks.Delete(ctx, id)
}

func (h *toolHandler) search(ctx context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, &task.InvalidInputError{Reason: "query is required"}
	}
	limit := 20
	if v := argInt(args, "limit"); v != nil {
		limit = *v
	}
	ids, err := h.c.Store.SearchTasks(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"task_ids": ids}, nil
}

func (h *toolHandler) blocked(ctx context.Context, args map[string]any) (any, error) {
	id, err := requireID(args, "id")
	if err != nil {
		return nil, err
	}
	blocking, err := h.c.Graph.Blocking(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{"blocked": len(blocking) > 0, "blocking": blocking}, nil
}

func (h *toolHandler) depList(ctx context.Context, args map[string]any) (any, error) {
	deps, err := h.c.Graph.List(ctx, argID(args, "task_id"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"dependencies": deps}, nil
}

func (h *toolHandler) depAdd(ctx context.Context, args map[string]any) (any, error) {
	blocking, err := requireID(args, "blocking_id")
	if err != nil {
		return nil, err
	}
	blocked, err := requireID(args, "blocked_id")
	if err != nil {
		return nil, err
	}
	return h.c.Graph.Add(ctx, blocking, blocked)
}

func (h *toolHandler) depRemove(ctx context.Context, args map[string]any) (any, error) {
	blocking, err := requireID(args, "blocking_id")
	if err != nil {
		return nil, err
	}
	blocked, err := requireID(args, "blocked_id")
	if err != nil {
		return nil, err
	}
	if err := h.c.Graph.Remove(ctx, blocking, blocked); err != nil {
		return nil, err
	}
	return map[string]any{"removed": true}, nil
}

func (h *toolHandler) planApply(ctx context.Context, args map[string]any) (any, error) {
	raw, err := json.Marshal(args["tasks"])
	if err != nil {
		return nil, &task.InvalidInputError{Reason: "tasks must be an array of plan nodes"}
	}
	var nodes []plan.Node
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil, &task.InvalidInputError{Reason: "tasks must be an array of plan nodes: " + err.Error()}
	}
	return h.c.Reconciler.Apply(ctx, nodes, task.OwnerAI)
}

// --- argument decoding ---

func requireID(args map[string]any, key string) (int64, error) {
	id := argID(args, key)
	if id == nil {
		return 0, &task.InvalidInputError{Reason: key + " is required"}
	}
	return *id, nil
}

func argID(args map[string]any, key string) *int64 {
	if v, ok := args[key].(float64); ok {
		id := int64(v)
		return &id
	}
	return nil
}

func argInt(args map[string]any, key string) *int {
	if v, ok := args[key].(float64); ok {
		n := int(v)
		return &n
	}
	return nil
}

// toolDefinitions lists every exposed tool with its JSON schema.
func toolDefinitions() []ToolDefinition {
	def := func(name, desc, schema string) ToolDefinition {
		return ToolDefinition{Name: name, Description: desc, InputSchema: json.RawMessage(schema)}
	}
	idSchema := `{"type":"object","properties":{"id":{"type":"integer"}},"required":["id"]}`
	return []ToolDefinition{
		def("task_create", "Create a new task (owned by the AI).",
			`{"type":"object","properties":{"name":{"type":"string"},"spec":{"type":"string"},"parent_id":{"type":"integer"},"priority":{"type":"integer"},"complexity":{"type":"integer"}},"required":["name"]}`),
		def("task_get", "Get a task by id.", idSchema),
		def("task_list", "List tasks, optionally filtered by status and parent (parent_id null = roots only).",
			`{"type":"object","properties":{"status":{"type":"string","enum":["todo","doing","done"]},"parent_id":{"type":["integer","null"]}}}`),
		def("task_start", "Start a task and focus it. Fails if the task is blocked.", idSchema),
		def("task_complete", "Complete the currently focused task.",
			`{"type":"object","properties":{}}`),
		def("task_switch", "Move focus to a task without changing any status.", idSchema),
		def("task_spawn", "Create a subtask under the focused task and start it.",
			`{"type":"object","properties":{"name":{"type":"string"},"spec":{"type":"string"}},"required":["name"]}`),
		def("task_update", "Apply a partial update to a task.",
			`{"type":"object","properties":{"id":{"type":"integer"},"name":{"type":"string"},"spec":{"type":"string"},"status":{"type":"string"},"parent_id":{"type":["integer","null"]},"priority":{"type":"integer"},"complexity":{"type":"integer"}},"required":["id"]}`),
		def("task_delete", "Delete a task and all its descendants.", idSchema),
		def("task_next", "Recommend the next task to work on.",
			`{"type":"object","properties":{}}`),
		def("task_current", "Return the currently focused task, if any.",
			`{"type":"object","properties":{}}`),
		def("task_blocked", "List the unfinished tasks blocking a task.", idSchema),
		def("dep_list", "List dependency edges, optionally only those touching one task.",
			`{"type":"object","properties":{"task_id":{"type":"integer"}}}`),
		def("task_search", "Full-text search over task names and specs.",
			`{"type":"object","properties":{"query":{"type":"string"},"limit":{"type":"integer"}},"required":["query"]}`),
		def("dep_add", "Add a blocking dependency: blocked cannot start until blocking is done.",
			`{"type":"object","properties":{"blocking_id":{"type":"integer"},"blocked_id":{"type":"integer"}},"required":["blocking_id","blocked_id"]}`),
		def("dep_remove", "Remove a blocking dependency.",
			`{"type":"object","properties":{"blocking_id":{"type":"integer"},"blocked_id":{"type":"integer"}},"required":["blocking_id","blocked_id"]}`),
		def("plan_apply", "Reconcile a desired task tree in one atomic operation.",
			`{"type":"object","properties":{"tasks":{"type":"array"}},"required":["tasks"]}`),
	}
}
