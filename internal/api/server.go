// Package api serves switchboard's JSON HTTP interface.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/bus"
	"github.com/zulandar/switchboard/internal/integration"
	"github.com/zulandar/switchboard/internal/knowledge"
	"github.com/zulandar/switchboard/internal/logging"
	"github.com/zulandar/switchboard/internal/memory"
	"github.com/zulandar/switchboard/internal/orchestrator"
	"github.com/zulandar/switchboard/internal/recommend"
	"github.com/zulandar/switchboard/internal/scheduler"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Server is the HTTP API.
type Server struct {
	sched     *scheduler.Scheduler
	recs      *recommend.Store
	orch      *orchestrator.Orchestrator
	knowledge *knowledge.Manager
	memory    *memory.Store
	suite     *integration.Suite
	bus       *bus.Bus
	logger    *zap.Logger
	port      int
	router    *gin.Engine
}

// Opts holds parameters for creating a Server.
type Opts struct {
	Scheduler       *scheduler.Scheduler
	Recommendations *recommend.Store
	Orchestrator    *orchestrator.Orchestrator
	Knowledge       *knowledge.Manager
	Memory          *memory.Store
	Integrations    *integration.Suite // nil reports every capability disconnected
	Bus             *bus.Bus           // nil disables /api/events
	Logger          *zap.Logger
	Port            int // defaults to 8080
}

// New creates a Server and registers its routes.
func New(opts Opts) (*Server, error) {
	switch {
	case opts.Scheduler == nil:
		return nil, fmt.Errorf("api: scheduler is required")
	case opts.Recommendations == nil:
		return nil, fmt.Errorf("api: recommendations are required")
	case opts.Orchestrator == nil:
		return nil, fmt.Errorf("api: orchestrator is required")
	case opts.Knowledge == nil:
		return nil, fmt.Errorf("api: knowledge is required")
	case opts.Memory == nil:
		return nil, fmt.Errorf("api: memory is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	s := &Server{
		sched:     opts.Scheduler,
		recs:      opts.Recommendations,
		orch:      opts.Orchestrator,
		knowledge: opts.Knowledge,
		memory:    opts.Memory,
		suite:     opts.Integrations,
		bus:       opts.Bus,
		logger:    logging.OrNop(opts.Logger).Named("api"),
		port:      opts.Port,
	}

	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery(), s.accessLog())
	s.registerRoutes(s.router)
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api listening", zap.Int("port", s.port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// accessLog logs one line per request.
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("elapsed", time.Since(start)),
		}
		if status >= http.StatusInternalServerError {
			s.logger.Warn("request failed", append(fields, zap.Strings("errors", c.Errors.Errors()))...)
			return
		}
		s.logger.Debug("request", fields...)
	}
}
