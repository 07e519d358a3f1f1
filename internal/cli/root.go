// Package cli provides the taskdeck command-line interface. Every engine
// operation maps to one subcommand; results are JSON on stdout and
// failures are a structured JSON error object on stderr.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/taskdeck/taskdeck/internal/app"
	"github.com/taskdeck/taskdeck/internal/config"
)

// Command group IDs.
const (
	groupTask  = "task"
	groupFlow  = "flow"
	groupServe = "serve"
)

// env carries the lazily built container and caller identity into
// subcommands.
type env struct {
	c  *app.Container
	ai bool
}

// NewRootCommand creates the root command. The engine container is built
// in PersistentPreRunE so flag values are settled first.
func NewRootCommand(version string) *cobra.Command {
	var (
		cfgPath string
		session string
		dbPath  string
	)
	e := &env{}

	root := &cobra.Command{
		Use:     "taskdeck",
		Short:   "Hierarchical task tracking for human/AI collaboration",
		Long: `taskdeck tracks a tree of tasks shared between a human and an AI
agent and decides what should be worked on next. Dependencies gate which
tasks may start; a single focused task models what is being worked on
right now; plans reconcile a whole desired tree in one atomic call.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch cmd.Name() {
			case "version", "help", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
				return nil
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if session != "" {
				cfg.Session = session
			}
			if dbPath != "" {
				cfg.DBPath = dbPath
			}
			c, err := app.New(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			e.c = c
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if e.c != nil {
				return e.c.Close()
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgPath, "config", "", "config file (default ./taskdeck.toml)")
	pf.StringVar(&session, "session", "", "workspace session id (default from config)")
	pf.StringVar(&dbPath, "db", "", "database file (default from config)")
	pf.BoolVar(&e.ai, "ai", false, "act as the AI caller")

	root.AddGroup(
		&cobra.Group{ID: groupTask, Title: "Task commands:"},
		&cobra.Group{ID: groupFlow, Title: "Workflow commands:"},
		&cobra.Group{ID: groupServe, Title: "Server commands:"},
	)

	root.AddCommand(
		newCreateCommand(e),
		newListCommand(e),
		newShowCommand(e),
		newUpdateCommand(e),
		newDeleteCommand(e),
		newSearchCommand(e),
		newStartCommand(e),
		newDoneCommand(e),
		newSwitchCommand(e),
		newSpawnCommand(e),
		newNextCommand(e),
		newCurrentCommand(e),
		newBlockedCommand(e),
		newDepCommand(e),
		newPlanCommand(e),
		newServeCommand(e),
		newMCPCommand(e),
	)
	return root
}
