package plan_test

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/taskdeck/internal/app"
	"github.com/taskdeck/taskdeck/internal/plan"
	"github.com/taskdeck/taskdeck/internal/task"
)

func newEngine(t *testing.T) *app.Container {
	t.Helper()
	c, err := app.NewInMemory("test", io.Discard)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func strPtr(s string) *string { return &s }

func statusPtr(s task.Status) *task.Status { return &s }

func TestApplyCreatesTree(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()

	res, err := c.Reconciler.Apply(ctx, []plan.Node{{
		Name: "release",
		Children: []plan.Node{
			{Name: "write changelog"},
			{Name: "tag build"},
		},
	}}, task.OwnerHuman)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Created)
	assert.Equal(t, 0, res.Updated)

	roots, err := c.Tasks.Find(ctx, task.Filter{Parent: &task.ParentRef{}})
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "release", roots[0].Name)

	children, err := c.Tasks.Find(ctx, task.Filter{Parent: &task.ParentRef{ID: &roots[0].ID}})
	require.NoError(t, err)
	assert.Len(t, children, 2)
}

func TestApplyIsIdempotent(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()

	nodes := []plan.Node{{
		Name:     "epic",
		Spec:     strPtr("big effort"),
		Children: []plan.Node{{Name: "step one"}},
	}}

	first, err := c.Reconciler.Apply(ctx, nodes, task.OwnerHuman)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)

	second, err := c.Reconciler.Apply(ctx, nodes, task.OwnerHuman)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created, "re-applying the same plan creates nothing")
	assert.Equal(t, 2, second.Updated)

	all, err := c.Tasks.Find(ctx, task.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestApplyRollsBackOnMissingSpec(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()

	_, err := c.Reconciler.Apply(ctx, []plan.Node{
		{Name: "fine"},
		{Name: "broken", Status: statusPtr(task.StatusDoing)},
	}, task.OwnerHuman)
	var missing *plan.MissingSpecError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "broken", missing.Name)

	all, err := c.Tasks.Find(ctx, task.Filter{})
	require.NoError(t, err)
	assert.Empty(t, all, "a failed plan leaves the store untouched")
}

func TestApplyRejectsDuplicateNames(t *testing.T) {
	c := newEngine(t)

	_, err := c.Reconciler.Apply(context.Background(), []plan.Node{
		{Name: "same"},
		{Name: "other", Children: []plan.Node{{Name: "same"}}},
	}, task.OwnerHuman)
	var dup *plan.DuplicateNamesError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, []string{"same"}, dup.Names)
}

func TestApplyRejectsMultipleInProgress(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()

	_, err := c.Reconciler.Apply(ctx, []plan.Node{
		{Name: "one", Spec: strPtr("a"), Status: statusPtr(task.StatusDoing)},
		{Name: "two", Spec: strPtr("b"), Status: statusPtr(task.StatusDoing)},
	}, task.OwnerHuman)
	var multi *plan.MultipleInProgressError
	require.ErrorAs(t, err, &multi)
	assert.Len(t, multi.Names, 2)

	all, err := c.Tasks.Find(ctx, task.Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestApplySingleDoingTakesFocus(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()

	res, err := c.Reconciler.Apply(ctx, []plan.Node{
		{Name: "active", Spec: strPtr("the work"), Status: statusPtr(task.StatusDoing)},
		{Name: "waiting"},
	}, task.OwnerAI)
	require.NoError(t, err)
	require.NotNil(t, res.Focused)
	assert.Equal(t, "active", res.Focused.Name)
	assert.Equal(t, task.OwnerAI, res.Focused.Owner)

	cur, err := c.Tasks.Current(ctx)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, res.Focused.ID, cur.ID)
}

func TestApplyWiresDependencies(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()

	res, err := c.Reconciler.Apply(ctx, []plan.Node{
		{Name: "schema"},
		{Name: "api", DependsOn: []string{"schema"}},
	}, task.OwnerHuman)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dependencies)

	api, err := c.Tasks.Find(ctx, task.Filter{})
	require.NoError(t, err)
	blocking, err := c.Graph.Blocking(ctx, api[1].ID)
	require.NoError(t, err)
	require.Len(t, blocking, 1)
	assert.Equal(t, "schema", blocking[0].Name)
}

func TestApplyDependencyCycleRollsBack(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()

	_, err := c.Reconciler.Apply(ctx, []plan.Node{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"a"}},
	}, task.OwnerHuman)
	var circular *task.CircularDependencyError
	require.ErrorAs(t, err, &circular)

	all, err := c.Tasks.Find(ctx, task.Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestApplyUnknownDependencyName(t *testing.T) {
	c := newEngine(t)

	_, err := c.Reconciler.Apply(context.Background(), []plan.Node{
		{Name: "a", DependsOn: []string{"ghost"}},
	}, task.OwnerHuman)
	var inputErr *task.InvalidInputError
	require.ErrorAs(t, err, &inputErr)
}

func TestApplyDeleteNode(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()

	root, err := c.Tasks.Create(ctx, task.CreateInput{Name: "root"})
	require.NoError(t, err)
	_, err = c.Tasks.Create(ctx, task.CreateInput{Name: "child", ParentID: &root.ID})
	require.NoError(t, err)

	res, err := c.Reconciler.Apply(ctx, []plan.Node{
		{ID: &root.ID, Delete: true},
	}, task.OwnerHuman)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 1, res.CascadeDeleted)

	all, err := c.Tasks.Find(ctx, task.Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestApplyDeletesRunBeforeUpserts(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()

	old, err := c.Tasks.Create(ctx, task.CreateInput{Name: "foo"})
	require.NoError(t, err)

	// The name node must not match the task the same plan deletes.
	res, err := c.Reconciler.Apply(ctx, []plan.Node{
		{Name: "foo"},
		{ID: &old.ID, Delete: true},
	}, task.OwnerHuman)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 0, res.Updated)

	all, err := c.Tasks.Find(ctx, task.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "foo", all[0].Name)
	assert.NotEqual(t, old.ID, all[0].ID)
}

func TestApplyDeleteRequiresID(t *testing.T) {
	c := newEngine(t)

	_, err := c.Reconciler.Apply(context.Background(), []plan.Node{
		{Name: "by name", Delete: true},
	}, task.OwnerHuman)
	var inputErr *task.InvalidInputError
	require.ErrorAs(t, err, &inputErr)
}

// Roots with no parent_id key at all land under the current focus; an
// explicit null forces a root task.
func TestApplyParentInference(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()

	focus, err := c.Tasks.Create(ctx, task.CreateInput{Name: "focus"})
	require.NoError(t, err)
	_, err = c.Tasks.Start(ctx, focus.ID)
	require.NoError(t, err)

	var nodes []plan.Node
	raw := `[{"name": "inferred"}, {"name": "forced root", "parent_id": null}]`
	require.NoError(t, json.Unmarshal([]byte(raw), &nodes))

	_, err = c.Reconciler.Apply(ctx, nodes, task.OwnerHuman)
	require.NoError(t, err)

	all, err := c.Tasks.Find(ctx, task.Filter{})
	require.NoError(t, err)
	byName := make(map[string]task.Task, len(all))
	for _, tk := range all {
		byName[tk.Name] = tk
	}

	inferred := byName["inferred"]
	require.NotNil(t, inferred.ParentID)
	assert.Equal(t, focus.ID, *inferred.ParentID)
	assert.Nil(t, byName["forced root"].ParentID)
}

func TestApplyUpdateByID(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()

	created, err := c.Tasks.Create(ctx, task.CreateInput{Name: "old name"})
	require.NoError(t, err)

	prio := 1
	res, err := c.Reconciler.Apply(ctx, []plan.Node{
		{ID: &created.ID, Name: "new name", Priority: &prio, Spec: strPtr("now specified")},
	}, task.OwnerHuman)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	got, err := c.Tasks.Get(ctx, created.ID)
	require.NoError(t, err)
	want := &task.Task{
		ID:         created.ID,
		Name:       "new name",
		Spec:       "now specified",
		Status:     task.StatusTodo,
		Owner:      task.OwnerHuman,
		Complexity: task.DefaultComplexity,
		Priority:   1,
	}
	ignore := cmpopts.IgnoreFields(task.Task{},
		"FirstTodoAt", "FirstDoingAt", "FirstDoneAt", "CreatedAt", "UpdatedAt")
	if diff := cmp.Diff(want, got, ignore); diff != "" {
		t.Errorf("updated task mismatch (-want +got):\n%s", diff)
	}
}
