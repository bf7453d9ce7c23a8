// Package http provides the HTTP API for the council.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/council/internal/council"
	"github.com/fyrsmithlabs/council/internal/cycle"
	"github.com/fyrsmithlabs/council/internal/logging"
	"github.com/fyrsmithlabs/council/internal/memory"
)

// Advisor answers questions and records feedback.
type Advisor interface {
	Ask(ctx context.Context, req council.AskRequest) (*council.Answer, error)
	Feedback(ctx context.Context, fb memory.Feedback) (int, error)
}

// Cycles manages per-corporation cycle settings and state.
type Cycles interface {
	GetConfiguration(ctx context.Context, corporationID string) (*cycle.Configuration, error)
	SetConfiguration(ctx context.Context, cfg *cycle.Configuration) (*cycle.Configuration, error)
	CurrentStatus(ctx context.Context, corporationID string) (*cycle.Status, error)
}

// Memory exposes pattern mining and decision history.
type Memory interface {
	Mine(ctx context.Context, corporationID string) ([]*memory.MemoryPattern, error)
	ListPatterns(ctx context.Context, corporationID string) ([]*memory.MemoryPattern, error)
	ApplyPattern(ctx context.Context, corporationID, pattern string) (*memory.MemoryPattern, error)
	RecentDecisions(ctx context.Context, corporationID string, limit int) ([]*memory.StrategicDecision, error)
}

// Server provides HTTP endpoints for the council.
type Server struct {
	echo    *echo.Echo
	advisor Advisor
	cycles  Cycles
	memory  Memory
	logger  *zap.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// RequestTimeout bounds each request. Consultation rounds can take a
	// while; the default is 2 minutes.
	RequestTimeout time.Duration
}

// Deps groups the services behind the API.
type Deps struct {
	Advisor Advisor
	Cycles  Cycles
	Memory  Memory
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	switch {
	case deps.Advisor == nil:
		return nil, fmt.Errorf("advisor cannot be nil")
	case deps.Cycles == nil:
		return nil, fmt.Errorf("cycle service cannot be nil")
	case deps.Memory == nil:
		return nil, fmt.Errorf("memory service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(e, logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			c.SetRequest(c.Request().WithContext(logging.WithRequestID(c.Request().Context(), rid)))
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", rid),
			)

			return err
		}
	})
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(middleware.ContextTimeoutWithConfig(middleware.ContextTimeoutConfig{
		Timeout: cfg.RequestTimeout,
	}))

	s := &Server{
		echo:    e,
		advisor: deps.Advisor,
		cycles:  deps.Cycles,
		memory:  deps.Memory,
		logger:  logger,
		config:  cfg,
	}
	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/consult", s.handleConsult)
	v1.POST("/feedback", s.handleFeedback)

	corp := v1.Group("/corporations/:corp")
	corp.GET("/cycle/config", s.handleGetCycleConfig)
	corp.PUT("/cycle/config", s.handlePutCycleConfig)
	corp.GET("/cycle/status", s.handleCycleStatus)
	corp.GET("/decisions", s.handleDecisions)
	corp.GET("/patterns", s.handleListPatterns)
	corp.POST("/patterns/mine", s.handleMinePatterns)
	corp.POST("/patterns/:pattern/apply", s.handleApplyPattern)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
