package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/taskdeck/taskdeck/internal/mcp"
	"github.com/taskdeck/taskdeck/internal/web"
)

func newServeCommand(e *env) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP API and WebSocket server",
		GroupID: groupServe,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = e.c.Config.ListenAddr
			}
			srv := web.NewServer(e.c)
			e.c.Log.Info("http server listening", "addr", addr)
			return srv.Run(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func newMCPCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:     "mcp",
		Short:   "Run the MCP server on stdin/stdout",
		GroupID: groupServe,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			srv := mcp.NewServer(e.c)
			return srv.Run(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}
