package cli

import (
	"github.com/spf13/cobra"

	"github.com/taskdeck/taskdeck/internal/task"
)

func newStartCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:     "start <id>",
		Short:   "Start a task and make it the current focus",
		GroupID: groupFlow,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			t, err := e.c.Tasks.Start(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), t)
		},
	}
}

func newDoneCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:     "done",
		Short:   "Complete the current task",
		GroupID: groupFlow,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := e.c.Tasks.Complete(cmd.Context(), e.ai)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newSwitchCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:     "switch <id>",
		Short:   "Move focus to another in-progress task",
		GroupID: groupFlow,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			t, err := e.c.Tasks.SwitchTo(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), t)
		},
	}
}

func newSpawnCommand(e *env) *cobra.Command {
	var spec string
	cmd := &cobra.Command{
		Use:     "spawn <name>",
		Short:   "Create a subtask of the current task and start it",
		GroupID: groupFlow,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner := task.OwnerHuman
			if e.ai {
				owner = task.OwnerAI
			}
			res, err := e.c.Tasks.SpawnSubtask(cmd.Context(), args[0], spec, owner)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&spec, "spec", "", "long-form description of the work")
	return cmd
}

func newNextCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:     "next",
		Short:   "Recommend what to work on next",
		GroupID: groupFlow,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rec, err := e.c.Tasks.PickNext(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func newCurrentCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:     "current",
		Short:   "Show the currently focused task",
		GroupID: groupFlow,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := e.c.Tasks.Current(cmd.Context())
			if err != nil {
				return err
			}
			if t == nil {
				return printJSON(cmd.OutOrStdout(), map[string]any{"current": nil})
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"current": t})
		},
	}
}

func newBlockedCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:     "blocked <id>",
		Short:   "List unfinished tasks blocking a task",
		GroupID: groupFlow,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			blocking, err := e.c.Graph.Blocking(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"task_id":  id,
				"blocked":  len(blocking) > 0,
				"blocking": blocking,
			})
		},
	}
}
