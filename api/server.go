// Package api is the thin HTTP/JSON wrapper spec §6 describes: routes
// map directly onto storage.Storage, confidence.Service, planner.Planner,
// and asyncexec.Manager calls, with no orchestration logic of their own.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/adaptiveqa/browserpilot/asyncexec"
	"github.com/adaptiveqa/browserpilot/confidence"
	"github.com/adaptiveqa/browserpilot/core"
	"github.com/adaptiveqa/browserpilot/planner"
	"github.com/adaptiveqa/browserpilot/storage"
)

// Options wires a Server's collaborators.
type Options struct {
	Store      storage.Storage
	Planner    *planner.Planner
	Confidence *confidence.Service
	Async      *asyncexec.Manager
	Logger     core.Logger
}

// Server is the gin-backed HTTP/JSON surface over the orchestration core.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	store      storage.Storage
	planner    *planner.Planner
	confidence *confidence.Service
	async      *asyncexec.Manager
	logger     core.Logger
}

// NewServer builds a Server and registers every route.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestrator/api")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))

	s := &Server{
		engine:     engine,
		store:      opts.Store,
		planner:    opts.Planner,
		confidence: opts.Confidence,
		async:      opts.Async,
		logger:     logger,
	}
	s.setupRoutes()
	return s
}

// Engine exposes the underlying gin.Engine, e.g. for tests driving
// requests via httptest without a listening socket.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) setupRoutes() {
	s.engine.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	s.engine.POST("/execute", s.handleExecute)
	s.engine.POST("/execute-async", s.handleExecuteAsync)
	s.engine.GET("/get-status/:testId", s.handleGetStatus)
	s.engine.GET("/get-history/:scenarioId", s.handleGetHistory)
	s.engine.GET("/get-latest/:scenarioId", s.handleGetLatest)
	s.engine.DELETE("/executions/:testId", s.handleDeleteExecution)
	s.engine.DELETE("/executions", s.handleDeleteAllExecutions)

	s.engine.POST("/plan", s.handlePlan)
	s.engine.GET("/list-plans", s.handleListPlans)
	s.engine.GET("/get-plan/:planId", s.handleGetPlan)
	s.engine.PUT("/plans/:planId", s.handleUpdatePlan)
	s.engine.DELETE("/plans/:planId", s.handleDeletePlan)
	s.engine.DELETE("/plans", s.handleDeleteAllPlans)

	s.engine.GET("/confidence-thresholds", s.handleListThresholds)
	s.engine.GET("/confidence-thresholds/:actionType", s.handleGetThreshold)
	s.engine.PUT("/confidence-thresholds/:actionType", s.handleSetThreshold)
	s.engine.DELETE("/confidence-thresholds/:actionType", s.handleDeleteThreshold)
	s.engine.DELETE("/confidence-thresholds", s.handleDeleteAllThresholds)
}

// requestLogger mirrors every request's method/path/status/latency
// through the injected core.Logger instead of gin's default writer, so
// HTTP access lines share the orchestrator's structured log sink.
func requestLogger(logger core.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.InfoWithContext(c.Request.Context(), "http request", map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
	}
}

// Start serves on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on an already-bound listener, letting tests
// pick a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
