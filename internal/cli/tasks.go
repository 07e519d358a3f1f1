package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/taskdeck/taskdeck/internal/task"
)

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, &task.InvalidInputError{Reason: "invalid task id: " + arg}
	}
	return id, nil
}

func newCreateCommand(e *env) *cobra.Command {
	var (
		spec       string
		owner      string
		parent     int64
		priority   int
		complexity int
	)
	cmd := &cobra.Command{
		Use:     "create <name>",
		Short:   "Create a new task",
		GroupID: groupTask,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := task.CreateInput{Name: args[0], Spec: spec}
			switch {
			case owner != "":
				parsed, err := task.ParseOwner(owner)
				if err != nil {
					return err
				}
				in.Owner = parsed
			case e.ai:
				in.Owner = task.OwnerAI
			default:
				in.Owner = task.OwnerHuman
			}
			if cmd.Flags().Changed("parent") {
				in.ParentID = &parent
			}
			if cmd.Flags().Changed("priority") {
				in.Priority = &priority
			}
			if cmd.Flags().Changed("complexity") {
				in.Complexity = &complexity
			}
			created, err := e.c.Tasks.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), created)
		},
	}
	cmd.Flags().StringVar(&spec, "spec", "", "long-form description of the work")
	cmd.Flags().StringVar(&owner, "owner", "", "task owner: human or ai (default follows --ai)")
	cmd.Flags().Int64Var(&parent, "parent", 0, "parent task id")
	cmd.Flags().IntVar(&priority, "priority", task.DefaultPriority, "priority (lower is more urgent)")
	cmd.Flags().IntVar(&complexity, "complexity", task.DefaultComplexity, "complexity estimate")
	return cmd
}

func newListCommand(e *env) *cobra.Command {
	var (
		status string
		parent string
	)
	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List tasks",
		GroupID: groupTask,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var f task.Filter
			if status != "" {
				parsed, err := task.ParseStatus(status)
				if err != nil {
					return err
				}
				f.Status = &parsed
			}
			// --parent none selects root tasks; --parent <id> selects
			// children; unset applies no parent filter.
			if parent != "" {
				if parent == "none" {
					f.Parent = &task.ParentRef{}
				} else {
					id, err := parseID(parent)
					if err != nil {
						return err
					}
					f.Parent = &task.ParentRef{ID: &id}
				}
			}
			tasks, err := e.c.Tasks.Find(cmd.Context(), f)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"tasks": tasks,
				"count": len(tasks),
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status: todo, doing, done")
	cmd.Flags().StringVar(&parent, "parent", "", `filter by parent id, or "none" for root tasks`)
	return cmd
}

func newShowCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:     "show <id>",
		Short:   "Show a task",
		GroupID: groupTask,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			t, err := e.c.Tasks.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), t)
		},
	}
}

func newUpdateCommand(e *env) *cobra.Command {
	var (
		name       string
		spec       string
		status     string
		parent     string
		priority   int
		complexity int
	)
	cmd := &cobra.Command{
		Use:     "update <id>",
		Short:   "Apply a partial update to a task",
		GroupID: groupTask,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var in task.UpdateInput
			if cmd.Flags().Changed("name") {
				in.Name = &name
			}
			if cmd.Flags().Changed("spec") {
				in.Spec = &spec
			}
			if cmd.Flags().Changed("status") {
				parsed, err := task.ParseStatus(status)
				if err != nil {
					return err
				}
				in.Status = &parsed
			}
			if cmd.Flags().Changed("parent") {
				if parent == "none" {
					in.Parent = &task.ParentRef{}
				} else {
					pid, err := parseID(parent)
					if err != nil {
						return err
					}
					in.Parent = &task.ParentRef{ID: &pid}
				}
			}
			if cmd.Flags().Changed("priority") {
				in.Priority = &priority
			}
			if cmd.Flags().Changed("complexity") {
				in.Complexity = &complexity
			}
			updated, err := e.c.Tasks.Update(cmd.Context(), id, in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), updated)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&spec, "spec", "", "new spec")
	cmd.Flags().StringVar(&status, "status", "", "direct status write (bypasses cascades)")
	cmd.Flags().StringVar(&parent, "parent", "", `new parent id, or "none" to detach to root`)
	cmd.Flags().IntVar(&priority, "priority", 0, "new priority")
	cmd.Flags().IntVar(&complexity, "complexity", 0, "new complexity")
	return cmd
}

func newDeleteCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Short:   "Delete a task and all its descendants",
		GroupID: groupTask,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			res, err := e.c.Tasks.Delete(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newSearchCommand(e *env) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "search <query>",
		Short:   "Full-text search over task names and specs",
		GroupID: groupTask,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := e.c.Store.SearchTasks(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"task_ids": ids})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results")
	return cmd
}
