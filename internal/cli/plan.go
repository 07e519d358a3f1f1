package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskdeck/taskdeck/internal/plan"
	"github.com/taskdeck/taskdeck/internal/task"
)

// planFile is the on-disk shape accepted by `taskdeck plan apply`. A bare
// JSON array of nodes is accepted too.
type planFile struct {
	Tasks []plan.Node `json:"tasks"`
}

func newPlanCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plan",
		Short:   "Reconcile a declarative task plan",
		GroupID: groupFlow,
	}
	cmd.AddCommand(newPlanApplyCommand(e))
	return cmd
}

func newPlanApplyCommand(e *env) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a plan document atomically",
		Long: `Apply reads a JSON plan document and reconciles the task tree to
match it in a single transaction. The document is either
{"tasks": [...]} or a bare array of task nodes; nodes without an id are
matched by name or created.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := readPlanInput(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			nodes, err := decodePlan(raw)
			if err != nil {
				return err
			}
			owner := task.OwnerHuman
			if e.ai {
				owner = task.OwnerAI
			}
			res, err := e.c.Reconciler.Apply(cmd.Context(), nodes, owner)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", `plan document, "-" for stdin`)
	return cmd
}

func readPlanInput(file string, stdin io.Reader) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(file)
}

func decodePlan(raw []byte) ([]plan.Node, error) {
	var doc planFile
	if err := json.Unmarshal(raw, &doc); err == nil && doc.Tasks != nil {
		return doc.Tasks, nil
	}
	var nodes []plan.Node
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil, &task.InvalidInputError{Reason: fmt.Sprintf("invalid plan document: %v", err)}
	}
	return nodes, nil
}
