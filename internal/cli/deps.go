package cli

import (
	"github.com/spf13/cobra"
)

func newDepCommand(e *env) *cobra.Command {
	dep := &cobra.Command{
		Use:     "dep",
		Short:   "Manage dependencies between tasks",
		GroupID: groupTask,
	}
	dep.AddCommand(newDepAddCommand(e), newDepRemoveCommand(e), newDepListCommand(e))
	return dep
}

func newDepAddCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "add <blocking-id> <blocked-id>",
		Short: "Declare that one task blocks another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			blocking, err := parseID(args[0])
			if err != nil {
				return err
			}
			blocked, err := parseID(args[1])
			if err != nil {
				return err
			}
			d, err := e.c.Graph.Add(cmd.Context(), blocking, blocked)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), d)
		},
	}
}

func newDepRemoveCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <blocking-id> <blocked-id>",
		Aliases: []string{"remove"},
		Short:   "Remove a dependency edge",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			blocking, err := parseID(args[0])
			if err != nil {
				return err
			}
			blocked, err := parseID(args[1])
			if err != nil {
				return err
			}
			if err := e.c.Graph.Remove(cmd.Context(), blocking, blocked); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"blocking_task_id": blocking,
				"blocked_task_id":  blocked,
				"removed":          true,
			})
		},
	}
}

func newDepListCommand(e *env) *cobra.Command {
	var taskID int64
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List dependency edges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter *int64
			if cmd.Flags().Changed("task") {
				filter = &taskID
			}
			edges, err := e.c.Graph.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"dependencies": edges})
		},
	}
	cmd.Flags().Int64Var(&taskID, "task", 0, "only edges touching this task")
	return cmd
}
