// Package web serves the REST dashboard API and mirrors successful
// mutations to WebSocket sessions as change notifications.
package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskdeck/taskdeck/internal/app"
	"github.com/taskdeck/taskdeck/internal/observability"
)

// Server is the dashboard HTTP server.
type Server struct {
	c      *app.Container
	hub    *Hub
	router *gin.Engine
	log    *observability.Logger
}

// NewServer builds the router over the engine container.
func NewServer(c *app.Container) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	log := c.Log.WithComponent("web")
	s := &Server{
		c:      c,
		hub:    NewHub(log),
		router: router,
		log:    log,
	}

	router.GET("/ws", func(gc *gin.Context) {
		s.hub.HandleUpgrade(gc.Writer, gc.Request)
	})

	api := router.Group("/api")
	{
		api.GET("/tasks", s.handleList)
		api.POST("/tasks", s.handleCreate)
		api.GET("/tasks/:id", s.handleGet)
		api.PATCH("/tasks/:id", s.handleUpdate)
		api.DELETE("/tasks/:id", s.handleDelete)
		api.POST("/tasks/:id/start", s.handleStart)
		api.POST("/tasks/:id/switch", s.handleSwitch)
		api.GET("/tasks/:id/blocked", s.handleBlocked)
		api.POST("/complete", s.handleComplete)
		api.POST("/spawn", s.handleSpawn)
		api.GET("/current", s.handleCurrent)
		api.GET("/next", s.handleNext)
		api.GET("/search", s.handleSearch)
		api.GET("/deps", s.handleDepList)
		api.POST("/deps", s.handleDepAdd)
		api.DELETE("/deps", s.handleDepRemove)
		api.POST("/plan", s.handlePlan)
	}

	return s
}

// Run starts the HTTP server. Blocks until the listener fails.
func (s *Server) Run(addr string) error {
	s.log.Info("dashboard listening", "addr", addr)
	return s.router.Run(addr)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub exposes the WebSocket hub for tests.
func (s *Server) Hub() *Hub {
	return s.hub
}

// notify broadcasts a change event. Failures are invisible to callers.
func (s *Server) notify(ev Event) {
	s.hub.Broadcast(ev)
}
