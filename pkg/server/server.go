// Package server provides the relayd HTTP API.
//
// This package implements a graceful HTTP server with Echo router, the
// run management endpoints, SSE event streaming, and context-aware
// shutdown.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relay/internal/config"
	"github.com/fyrsmithlabs/relay/internal/logging"
	"github.com/fyrsmithlabs/relay/internal/runstore"
	"github.com/fyrsmithlabs/relay/internal/telemetry"
)

// Server represents the relayd HTTP server.
type Server struct {
	config *config.Config
	echo   *echo.Echo
	runner *Runner
	store  *runstore.Store
	nats   *nats.Conn
	tel    *telemetry.Telemetry
	logger *logging.Logger
}

// HealthResponse is the JSON response for the /healthz endpoint.
type HealthResponse struct {
	Status    string           `json:"status"`
	Service   string           `json:"service"`
	Workflows []string         `json:"workflows"`
	Events    bool             `json:"events"`
	Telemetry telemetry.Status `json:"telemetry"`
}

// ErrorResponse is the JSON body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger. The default discards everything.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEventsConn provides the NATS connection backing SSE streams.
// Without it, GET /v1/runs/{id}/events replays finished runs only.
func WithEventsConn(nc *nats.Conn) Option {
	return func(s *Server) {
		s.nats = nc
	}
}

// WithTelemetry surfaces the export pipeline's status in /healthz.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(s *Server) {
		s.tel = tel
	}
}

// NewServer creates the relayd HTTP server.
//
// The server includes:
//   - Echo router for HTTP routing
//   - Standard middleware (logger, recoverer, request ID)
//   - Run management endpoints under /v1/runs
//   - Health check endpoint at GET /healthz
//   - Graceful shutdown support
//
// Example:
//
//	runner := server.NewRunner(cfg, store)
//	srv := server.NewServer(cfg, runner)
//	if err := srv.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
func NewServer(cfg *config.Config, runner *Runner, opts ...Option) *Server {
	e := echo.New()

	// Disable Echo's default logger and recover middleware
	e.HideBanner = true
	e.HidePort = true

	// Setup middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		config: cfg,
		echo:   e,
		runner: runner,
		store:  runner.Store(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Request-level metrics ride the OTel meter. With telemetry off the
	// global meter is a no-op and the middleware costs nothing.
	if hm, err := newHTTPMetrics(s.tel.Meter(httpMeterScope)); err != nil {
		s.logger.Warn(context.Background(), "http metrics disabled", zap.Error(err))
	} else {
		e.Use(hm.middleware())
	}

	// Register routes
	s.registerRoutes()

	return s
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)

	v1 := s.echo.Group("/v1")
	v1.POST("/runs", s.handleStartRun)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.GET("/runs/:id/events", s.handleRunEvents)
}

// handleHealth handles GET /healthz requests.
func (s *Server) handleHealth(c echo.Context) error {
	response := HealthResponse{
		Status:    "ok",
		Service:   "relayd",
		Workflows: s.runner.Workflows(),
		Events:    s.nats != nil && s.nats.IsConnected(),
		Telemetry: s.tel.Status(),
	}

	return c.JSON(http.StatusOK, response)
}

// Start starts the HTTP server and blocks until context is cancelled.
//
// The server listens on the port specified in the configuration.
// When the context is cancelled, the server performs graceful shutdown
// with the configured timeout.
//
// Returns http.ErrServerClosed on graceful shutdown, or any other
// error encountered during startup or shutdown.
//
// Example:
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//
//	if err := srv.Start(ctx); err != nil && err != http.ErrServerClosed {
//	    log.Fatalf("server error: %v", err)
//	}
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Server.Port)

	// Channel to receive server errors
	errCh := make(chan error, 1)

	// Start server in goroutine
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	// Wait for context cancellation or server error
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		// Context cancelled, perform graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			s.config.Server.ShutdownTimeout.Duration(),
		)
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}

		// Let in-flight runs finish before reporting shutdown
		if err := s.runner.Drain(shutdownCtx); err != nil {
			s.logger.Warn(shutdownCtx, "shutdown with runs still in flight")
		}

		return http.ErrServerClosed
	}
}

// Echo returns the underlying Echo instance for registering additional
// routes, such as the Prometheus metrics handler.
//
// Example:
//
//	srv := server.NewServer(cfg, runner)
//	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
