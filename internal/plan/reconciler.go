package plan

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/taskdeck/taskdeck/internal/deps"
	"github.com/taskdeck/taskdeck/internal/observability"
	"github.com/taskdeck/taskdeck/internal/storage"
	"github.com/taskdeck/taskdeck/internal/task"
)

// Reconciler applies a desired task tree in one transaction. Any
// validation or dependency failure rolls the whole plan back.
type Reconciler struct {
	store *storage.Store
	repo  *task.Repository
	graph *deps.Graph
	log   *observability.Logger
}

// NewReconciler wires the reconciler over the shared store.
func NewReconciler(store *storage.Store, repo *task.Repository, graph *deps.Graph, log *observability.Logger) *Reconciler {
	return &Reconciler{store: store, repo: repo, graph: graph, log: log}
}

// pendingDep is a depends_on reference queued until all creates ran.
type pendingDep struct {
	blockedID int64
	name      string
}

// applyState accumulates across one Apply call.
type applyState struct {
	result   Result
	nameToID map[string]int64
	doing    []task.Task
	deps     []pendingDep
	owner    task.Owner
}

// Apply reconciles the desired trees against current state. The creating
// actor's owner is recorded on every task the plan creates.
func (r *Reconciler) Apply(ctx context.Context, nodes []Node, owner task.Owner) (*Result, error) {
	if err := validateNames(nodes); err != nil {
		return nil, err
	}

	st := &applyState{
		nameToID: make(map[string]int64),
		owner:    owner,
	}
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := r.applyDeletes(ctx, tx, nodes, st); err != nil {
			return err
		}
		for _, n := range nodes {
			if err := r.applyNode(ctx, tx, n, nil, st); err != nil {
				return err
			}
		}
		if err := r.validateInProgress(ctx, tx, st); err != nil {
			return err
		}
		if err := r.wireDependencies(ctx, tx, st); err != nil {
			return err
		}
		cur, err := r.repo.CurrentTaskIDTx(ctx, tx)
		if err != nil {
			return err
		}
		if cur != nil {
			focused, err := r.repo.GetTx(ctx, tx, *cur)
			if err != nil {
				return err
			}
			st.result.Focused = focused
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Info("plan applied",
		"created", st.result.Created,
		"updated", st.result.Updated,
		"deleted", st.result.Deleted,
		"cascade_deleted", st.result.CascadeDeleted,
		"dependencies", st.result.Dependencies,
	)
	return &st.result, nil
}

// validateNames rejects any name appearing twice anywhere in the request,
// before the store is touched.
func validateNames(nodes []Node) error {
	seen := make(map[string]int)
	var walk func(ns []Node)
	walk = func(ns []Node) {
		for _, n := range ns {
			if n.Name != "" {
				seen[n.Name]++
			}
			walk(n.Children)
		}
	}
	walk(nodes)

	var dups []string
	for name, count := range seen {
		if count > 1 {
			dups = append(dups, name)
		}
	}
	if len(dups) > 0 {
		sort.Strings(dups)
		return &DuplicateNamesError{Names: dups}
	}
	return nil
}

// applyDeletes removes every delete-marked node in the request before
// any upsert runs, so a deleted task's name is free for the same plan
// to reuse. Children of a delete node go with the cascade.
func (r *Reconciler) applyDeletes(ctx context.Context, tx *sql.Tx, nodes []Node, st *applyState) error {
	for _, n := range nodes {
		if n.Delete {
			if n.ID == nil {
				return &task.InvalidInputError{Reason: fmt.Sprintf("delete node %q requires an id", n.Name)}
			}
			res, err := r.repo.DeleteTx(ctx, tx, *n.ID)
			if err != nil {
				return err
			}
			st.result.Deleted += res.Deleted
			st.result.CascadeDeleted += res.Cascaded
			continue
		}
		if err := r.applyDeletes(ctx, tx, n.Children, st); err != nil {
			return err
		}
	}
	return nil
}

// applyNode processes one node depth-first. parent is the enclosing
// node's task id, nil for roots. Delete nodes were already handled.
func (r *Reconciler) applyNode(ctx context.Context, tx *sql.Tx, n Node, parent *int64, st *applyState) error {
	if n.Delete {
		return nil
	}

	id, err := r.upsertNode(ctx, tx, n, parent, st)
	if err != nil {
		return err
	}
	if n.Name != "" {
		st.nameToID[n.Name] = id
	}

	if n.Status != nil && *n.Status == task.StatusDoing {
		applied, err := r.repo.GetTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if strings.TrimSpace(applied.Spec) == "" {
			return &MissingSpecError{Name: applied.Name}
		}
		st.doing = append(st.doing, *applied)
	}

	for _, dep := range n.DependsOn {
		st.deps = append(st.deps, pendingDep{blockedID: id, name: dep})
	}

	for _, child := range n.Children {
		if err := r.applyNode(ctx, tx, child, &id, st); err != nil {
			return err
		}
	}
	return nil
}

// upsertNode updates the matched task or creates a new one, returning its id.
func (r *Reconciler) upsertNode(ctx context.Context, tx *sql.Tx, n Node, parent *int64, st *applyState) (int64, error) {
	target, err := r.matchNode(ctx, tx, n, st)
	if err != nil {
		return 0, err
	}

	if target == nil {
		parentID, err := r.createParent(ctx, tx, n, parent)
		if err != nil {
			return 0, err
		}
		in := task.CreateInput{
			Name:     n.Name,
			Owner:    st.owner,
			ParentID: parentID,
			Priority: n.Priority,
		}
		if n.Spec != nil {
			in.Spec = *n.Spec
		}
		if n.Status != nil {
			in.Status = *n.Status
		}
		created, err := r.repo.CreateTx(ctx, tx, in)
		if err != nil {
			return 0, err
		}
		st.result.Created++
		return created.ID, nil
	}

	up := task.UpdateInput{
		Spec:     n.Spec,
		Status:   n.Status,
		Priority: n.Priority,
	}
	if n.ID != nil && n.Name != "" {
		// Matched by id; the name is a field to apply, not an identity.
		name := n.Name
		up.Name = &name
	}
	switch {
	case parent != nil:
		up.Parent = &task.ParentRef{ID: parent}
	case n.Parent.Set:
		up.Parent = &task.ParentRef{ID: n.Parent.Value}
	}
	if _, err := r.repo.UpdateTx(ctx, tx, target.ID, up); err != nil {
		return 0, err
	}
	st.result.Updated++
	return target.ID, nil
}

// matchNode finds the existing task a node refers to: by explicit id, or
// by exact name (lowest id wins when names collide). Nil means create.
func (r *Reconciler) matchNode(ctx context.Context, tx *sql.Tx, n Node, st *applyState) (*task.Task, error) {
	if n.ID != nil {
		return r.repo.GetTx(ctx, tx, *n.ID)
	}
	if n.Name == "" {
		return nil, &task.InvalidInputError{Reason: "plan node requires a name or an id"}
	}
	if id, ok := st.nameToID[n.Name]; ok {
		return r.repo.GetTx(ctx, tx, id)
	}

	var id int64
	err := tx.QueryRowContext(ctx,
		"SELECT id FROM tasks WHERE name = ? ORDER BY id LIMIT 1", n.Name,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("match task %q: %w", n.Name, err)
	}
	return r.repo.GetTx(ctx, tx, id)
}

// createParent resolves the parent for a newly created node: the
// enclosing node, an explicit parent_id (null forces a root), or the
// current focus when the field is omitted entirely.
func (r *Reconciler) createParent(ctx context.Context, tx *sql.Tx, n Node, parent *int64) (*int64, error) {
	if parent != nil {
		return parent, nil
	}
	if n.Parent.Set {
		return n.Parent.Value, nil
	}
	return r.repo.CurrentTaskIDTx(ctx, tx)
}

// validateInProgress enforces the single-doing rule and moves focus to
// the one task the plan explicitly set in progress.
func (r *Reconciler) validateInProgress(ctx context.Context, tx *sql.Tx, st *applyState) error {
	doing := task.StatusDoing
	inProgress, err := r.repo.FindTx(ctx, tx, task.Filter{Status: &doing})
	if err != nil {
		return err
	}
	if len(inProgress) > 1 {
		names := make([]string, len(inProgress))
		for i, t := range inProgress {
			names[i] = fmt.Sprintf("%d (%s)", t.ID, t.Name)
		}
		return &MultipleInProgressError{Names: names}
	}
	if len(st.doing) == 1 && len(inProgress) == 1 {
		return r.repo.SetCurrentTx(ctx, tx, &inProgress[0].ID)
	}
	return nil
}

// wireDependencies resolves depends_on names and adds the edges. Names
// resolve against the request first, then against existing tasks.
func (r *Reconciler) wireDependencies(ctx context.Context, tx *sql.Tx, st *applyState) error {
	for _, dep := range st.deps {
		blockingID, ok := st.nameToID[dep.name]
		if !ok {
			err := tx.QueryRowContext(ctx,
				"SELECT id FROM tasks WHERE name = ? ORDER BY id LIMIT 1", dep.name,
			).Scan(&blockingID)
			if err == sql.ErrNoRows {
				return &task.InvalidInputError{Reason: fmt.Sprintf("depends_on references unknown task %q", dep.name)}
			}
			if err != nil {
				return fmt.Errorf("resolve depends_on %q: %w", dep.name, err)
			}
		}
		if _, err := r.graph.AddTx(ctx, tx, blockingID, dep.blockedID); err != nil {
			return err
		}
		st.result.Dependencies++
	}
	return nil
}
