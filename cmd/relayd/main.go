// Relayd is the relay pipeline daemon with an HTTP run API and SSE streaming.
//
// The daemon executes three-stage agent workflows, keeps a bounded run
// history with on-disk snapshots, publishes run lifecycle events to NATS,
// and serves Prometheus metrics.
//
// Configuration is loaded from ~/.config/relay/config.yaml and RELAY_*
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start daemon with defaults
//	relayd
//
//	# Start with a specific config file
//	relayd -config /etc/relay/config.yaml
//
//	# Configure via environment
//	RELAY_SERVER_PORT=9430 RELAY_EVENTS_URL=nats://localhost:4222 relayd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relay/internal/config"
	"github.com/fyrsmithlabs/relay/internal/events"
	"github.com/fyrsmithlabs/relay/internal/logging"
	"github.com/fyrsmithlabs/relay/internal/runstore"
	"github.com/fyrsmithlabs/relay/internal/telemetry"
	"github.com/fyrsmithlabs/relay/pkg/redact"
	"github.com/fyrsmithlabs/relay/pkg/server"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	// Parse command-line arguments
	configPath := flag.String("config", "", "path to config file (default ~/.config/relay/config.yaml)")
	flag.Parse()
	args := flag.Args()

	// Handle subcommands
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  relayd           Start the relay daemon\n")
			fmt.Fprintf(os.Stderr, "  relayd version   Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	// Run server
	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("relayd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the relay daemon and blocks until context is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes telemetry and the structured logger
//  3. Connects infrastructure (NATS, redaction, run store)
//  4. Restores persisted run snapshots
//  5. Wires the run launcher with events and metrics
//  6. Starts the HTTP server
//  7. Performs graceful shutdown on context cancellation
//
// Returns http.ErrServerClosed on graceful shutdown.
func run(ctx context.Context, configPath string) error {
	// Load configuration
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Initialize telemetry before the logger so log records can be
	// exported through the OTLP pipeline when enabled
	tel, err := telemetry.New(ctx, telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	// Initialize logger
	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info(ctx, "Starting relayd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	// Initialize infrastructure dependencies
	deps, err := initDependencies(ctx, cfg, tel, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info(ctx, "Dependencies initialized",
		zap.Bool("events_connected", deps.natsConn != nil),
		zap.Bool("redaction_enabled", deps.redactor != nil),
		zap.Int("runs_restored", deps.restored))

	// Wire the run launcher
	runner := server.NewRunner(cfg, deps.store,
		server.WithPublisher(deps.publisher),
		server.WithRunMetrics(deps.runMetrics),
		server.WithRunnerTelemetry(tel),
		server.WithRunnerLogger(logger),
	)

	// Reload workflow budgets when the config file changes on disk.
	// Server, events, and agent settings still require a restart.
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, cfg)
		if err != nil {
			logger.Warn(ctx, "Failed to initialize config watcher", zap.Error(err))
		} else if err := watcher.Start(ctx); err != nil {
			logger.Warn(ctx, "Failed to start config watcher", zap.Error(err))
			watcher.Stop()
		} else {
			defer watcher.Stop()
			go applyConfigUpdates(ctx, watcher, runner, logger)

			logger.Info(ctx, "Watching config file", zap.String("path", configPath))
		}
	}

	// Create HTTP server
	srv := server.NewServer(cfg, runner,
		server.WithLogger(logger),
		server.WithEventsConn(deps.natsConn),
		server.WithTelemetry(tel),
	)

	// Register metrics endpoint
	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	logger.Info(ctx, "Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/healthz", cfg.Server.Port)),
		zap.String("runs_endpoint", "/v1/runs"),
		zap.String("metrics_endpoint", "/metrics"))

	// Start server (blocks until context cancellation)
	return srv.Start(ctx)
}

// applyConfigUpdates feeds reloaded configs into the running daemon.
//
// Only the workflow section takes effect at runtime; runs launched after
// a reload use the new budgets. Other sections require a restart.
func applyConfigUpdates(ctx context.Context, watcher *config.Watcher, runner *server.Runner, logger *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-watcher.Updates():
			if !ok {
				return
			}
			runner.SetWorkflowConfig(cfg.Workflow)

			logger.Info(ctx, "Config reloaded",
				zap.Duration("max_run_duration", cfg.Workflow.MaxRunDuration.Duration()),
				zap.Duration("stage_timeout", cfg.Workflow.StageTimeout.Duration()),
				zap.String("quality_policy", cfg.Workflow.QualityPolicy))
		}
	}
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	telemetry  *telemetry.Telemetry
	natsConn   *nats.Conn
	redactor   *redact.Redactor
	store      *runstore.Store
	publisher  *events.Publisher
	runMetrics *telemetry.RunMetrics
	restored   int
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.telemetry.Shutdown(shutdownCtx) // Best-effort flush
	}
}

// initLogger builds the structured logger from the logging config
// section.
func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logCfg.Level = level
	logCfg.Format = cfg.Logging.Format
	return logging.NewLogger(logCfg, tel.LoggerProvider())
}

// telemetryConfig maps the daemon's telemetry section onto the export
// pipeline config. Sampling and export cadence keep their defaults.
func telemetryConfig(cfg *config.Config) *telemetry.Config {
	tc := telemetry.NewDefaultConfig()
	tc.Enabled = cfg.Telemetry.Enabled
	if cfg.Telemetry.Endpoint != "" {
		tc.Endpoint = cfg.Telemetry.Endpoint
	}
	if cfg.Telemetry.Protocol != "" {
		tc.Protocol = cfg.Telemetry.Protocol
	}
	tc.Insecure = cfg.Telemetry.Insecure
	tc.TLSSkipVerify = cfg.Telemetry.TLSSkipVerify
	tc.ServiceVersion = version
	return tc
}

// initDependencies initializes all infrastructure dependencies.
//
// This function:
//  1. Builds the secret redactor from allowlists
//  2. Connects to NATS for run event streaming
//  3. Creates the run store and restores snapshots
//  4. Creates the run event publisher and metrics
func initDependencies(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, logger *logging.Logger) (*dependencies, error) {
	deps := &dependencies{telemetry: tel}

	// Secret redaction for everything leaving the engine
	if cfg.Redact.Enabled {
		allowlist, err := redact.LoadAllowlists(cfg.Redact.ProjectPath, cfg.Redact.UserPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load redaction allowlists: %w", err)
		}
		redactor, err := redact.New(allowlist)
		if err != nil {
			return nil, fmt.Errorf("failed to create redactor: %w", err)
		}
		deps.redactor = redactor
	}

	// Connect to NATS; an empty URL leaves event streaming disabled
	if cfg.Events.URL != "" {
		nc, err := events.Connect(cfg.Events)
		if err != nil {
			return nil, err
		}
		deps.natsConn = nc

		logger.Info(ctx, "Connected to NATS", zap.String("url", cfg.Events.URL))
	} else {
		logger.Info(ctx, "Event streaming disabled")
	}

	// Run store with bounded history
	storeOpts := []runstore.Option{runstore.WithLogger(logger)}
	if deps.redactor != nil {
		storeOpts = append(storeOpts, runstore.WithRedactor(deps.redactor))
	}
	store, err := runstore.New(cfg.Runs, storeOpts...)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create run store: %w", err)
	}
	deps.store = store

	// Restore finished runs persisted by a previous process
	restored, err := store.LoadSnapshots(ctx)
	if err != nil {
		logger.Warn(ctx, "Failed to restore run snapshots", zap.Error(err))
	} else if restored > 0 {
		logger.Info(ctx, "Run snapshots restored",
			zap.Int("runs", restored),
			zap.String("dir", cfg.Runs.SnapshotDir))
	}
	deps.restored = restored

	// Run event publisher (nil is valid and publishes nothing)
	if deps.natsConn != nil {
		pubOpts := []events.Option{events.WithLogger(logger)}
		if deps.redactor != nil {
			pubOpts = append(pubOpts, events.WithRedactor(deps.redactor))
		}
		deps.publisher = events.NewPublisher(deps.natsConn, pubOpts...)
	}

	// Run metrics through the OTel meter
	runMetrics, err := telemetry.NewRunMetrics(tel.Meter("relay/runs"))
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create run metrics: %w", err)
	}
	deps.runMetrics = runMetrics

	return deps, nil
}
