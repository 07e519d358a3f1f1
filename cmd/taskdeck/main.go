package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/taskdeck/taskdeck/internal/cli"
)

var version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(version)
	if err := root.ExecuteContext(ctx); err != nil {
		cli.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}
