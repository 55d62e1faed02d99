// Package server exposes jobs and executions over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/rendis/jobflow/internal/engine"
	"github.com/rendis/jobflow/internal/store"
	"github.com/rendis/jobflow/internal/streaming"
)

// Deps holds the dependencies of the HTTP server.
type Deps struct {
	Launcher *engine.Launcher
	Store    store.Store
	Hub      streaming.EventHub // optional; enables live event streams
	Logger   *slog.Logger
}

// Server serves the jobflow HTTP API.
type Server struct {
	deps Deps
}

// New creates a Server.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{deps: deps}
}

// Handler returns the router with every route registered.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(_ *gin.Context, _ *slog.Logger) *slog.Logger {
			return s.deps.Logger
		}),
	))

	router.GET("/health", s.handleHealth)

	jobs := router.Group("/jobs")
	{
		jobs.GET("", s.listJobs)
		jobs.GET("/:name", s.getJob)
		jobs.GET("/:name/diagram", s.jobDiagram)
		jobs.POST("/:name/executions", s.launchJob)
		jobs.POST("/:name/restart", s.restartJob)
	}

	execs := router.Group("/executions")
	{
		execs.GET("", s.listExecutions)
		execs.GET("/:id", s.getExecution)
		execs.GET("/:id/events", s.executionEvents)
		execs.GET("/:id/diagram", s.executionDiagram)
	}
	return router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "ok",
		Jobs:   len(s.deps.Launcher.Jobs()),
		Pool:   s.deps.Launcher.Metrics(),
	})
}
