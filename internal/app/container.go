// Package app wires the engine components together for the adapters.
package app

import (
	"fmt"
	"io"

	"github.com/taskdeck/taskdeck/internal/config"
	"github.com/taskdeck/taskdeck/internal/deps"
	"github.com/taskdeck/taskdeck/internal/observability"
	"github.com/taskdeck/taskdeck/internal/plan"
	"github.com/taskdeck/taskdeck/internal/storage"
	"github.com/taskdeck/taskdeck/internal/task"
)

// Container holds the constructed engine. Adapters receive one of these
// and call straight into the components.
type Container struct {
	Config     *config.Config
	Log        *observability.Logger
	Store      *storage.Store
	Tasks      *task.Repository
	Graph      *deps.Graph
	Reconciler *plan.Reconciler
}

// New builds a container from config. logOut defaults to stderr when nil.
func New(cfg *config.Config, logOut io.Writer) (*Container, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}

	log := observability.NewLogger("engine", logOut)

	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	repo := task.NewRepository(store, log, cfg.Session)
	graph := deps.NewGraph(store, repo, log)
	repo.SetBlockChecker(graph)
	reconciler := plan.NewReconciler(store, repo, graph, log)

	return &Container{
		Config:     cfg,
		Log:        log,
		Store:      store,
		Tasks:      repo,
		Graph:      graph,
		Reconciler: reconciler,
	}, nil
}

// NewInMemory builds a container against an in-memory database. Used by
// tests and by adapters that need a throwaway engine.
func NewInMemory(session string, logOut io.Writer) (*Container, error) {
	log := observability.NewLogger("engine", logOut)
	store, err := storage.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	repo := task.NewRepository(store, log, session)
	graph := deps.NewGraph(store, repo, log)
	repo.SetBlockChecker(graph)
	return &Container{
		Config:     &config.Config{Session: session},
		Log:        log,
		Store:      store,
		Tasks:      repo,
		Graph:      graph,
		Reconciler: plan.NewReconciler(store, repo, graph, log),
	}, nil
}

// Close releases the store.
func (c *Container) Close() error {
	return c.Store.Close()
}
