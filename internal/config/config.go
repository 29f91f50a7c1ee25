// Package config provides configuration loading for relayd.
//
// Configuration is loaded from a YAML file and overridden by RELAY_*
// environment variables, with sensible defaults for local development.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/relay/internal/logging"
	"github.com/fyrsmithlabs/relay/pkg/agents"
)

// Config holds the complete relayd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Events    EventsConfig    `koanf:"events"`
	Runs      RunsConfig      `koanf:"runs"`
	Redact    RedactConfig    `koanf:"redact"`
	Workflow  WorkflowConfig  `koanf:"workflow"`
	Agents    AgentsConfig    `koanf:"agents"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds the operator-facing logging knobs. Sampling
// budgets and log-field redaction rules are fixed in code; see
// internal/logging.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, or error.
	Level string `koanf:"level"`

	// Format selects the stdout encoding: "json" or "console".
	Format string `koanf:"format"`
}

// TelemetryConfig holds the OTLP collector connection. Trace sampling
// and export cadence are fixed in code; see internal/telemetry.
type TelemetryConfig struct {
	Enabled bool `koanf:"enabled"`

	// Endpoint is the collector address as host:port.
	Endpoint string `koanf:"endpoint"`

	// Protocol selects the transport: "grpc" or "http/protobuf".
	Protocol string `koanf:"protocol"`

	// Insecure disables TLS. Only allowed for loopback endpoints.
	Insecure bool `koanf:"insecure"`

	// TLSSkipVerify accepts any server certificate.
	TLSSkipVerify bool `koanf:"tls_skip_verify"`
}

// EventsConfig holds the NATS connection used for run event streaming.
// An empty URL disables event publishing.
type EventsConfig struct {
	URL           string   `koanf:"url"`
	MaxReconnects int      `koanf:"max_reconnects"`
	ReconnectWait Duration `koanf:"reconnect_wait"`
}

// RunsConfig holds run history retention and snapshot settings.
type RunsConfig struct {
	// HistoryLimit caps in-memory retained runs. Oldest finished runs
	// are evicted first.
	HistoryLimit int `koanf:"history_limit"`

	// SnapshotDir is where finished runs are written as JSON files.
	// Empty disables snapshots.
	SnapshotDir string `koanf:"snapshot_dir"`
}

// RedactConfig controls secret masking of payloads leaving the engine.
type RedactConfig struct {
	Enabled bool `koanf:"enabled"`

	// ProjectPath is the directory holding a .gitleaks.toml allowlist.
	ProjectPath string `koanf:"project_path"`

	// UserPath is the full path to a user allowlist file.
	UserPath string `koanf:"user_path"`
}

// Quality aggregation policy names accepted in WorkflowConfig.
const (
	QualityPolicyMinimum  = "minimum"
	QualityPolicyWeighted = "weighted"
)

// WorkflowConfig holds engine-level run settings.
type WorkflowConfig struct {
	// MaxRunDuration is the wall-clock budget for a whole run.
	// Zero disables the budget.
	MaxRunDuration Duration `koanf:"max_run_duration"`

	// StageTimeout bounds each stage. Zero disables per-stage timeouts.
	StageTimeout Duration `koanf:"stage_timeout"`

	// QualityPolicy selects quality aggregation: "minimum" or "weighted".
	QualityPolicy string `koanf:"quality_policy"`
}

// AgentsConfig wires the three stages to remote agent endpoints.
// When disabled, relayd runs workflows with its built-in local layers.
type AgentsConfig struct {
	Enabled      bool            `koanf:"enabled"`
	Leading      agents.Endpoint `koanf:"leading"`
	Intermediate agents.Endpoint `koanf:"intermediate"`
	Terminal     agents.Endpoint `koanf:"terminal"`
}

// NewDefaultConfig returns config with local-development defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            9430,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
			Insecure: true,
		},
		Events: EventsConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: 5,
			ReconnectWait: Duration(time.Second),
		},
		Runs: RunsConfig{
			HistoryLimit: 256,
		},
		Redact: RedactConfig{
			Enabled: true,
		},
		Workflow: WorkflowConfig{
			MaxRunDuration: Duration(5 * time.Minute),
			StageTimeout:   Duration(2 * time.Minute),
			QualityPolicy:  QualityPolicyMinimum,
		},
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("server shutdown_timeout must be positive")
	}

	if _, err := logging.LevelFromString(c.Logging.Level); err != nil {
		return fmt.Errorf("logging level: %w", err)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be %q or %q, got %q", "json", "console", c.Logging.Format)
	}

	// Endpoint reachability and TLS rules are checked when the export
	// pipeline starts; this catches typos at load time.
	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry endpoint is required when telemetry is enabled")
		}
		switch c.Telemetry.Protocol {
		case "", "grpc", "http/protobuf":
		default:
			return fmt.Errorf("telemetry protocol must be %q or %q, got %q",
				"grpc", "http/protobuf", c.Telemetry.Protocol)
		}
	}

	if c.Events.URL != "" {
		if c.Events.MaxReconnects < 0 {
			return fmt.Errorf("events max_reconnects cannot be negative")
		}
		if c.Events.ReconnectWait.Duration() <= 0 {
			return fmt.Errorf("events reconnect_wait must be positive")
		}
	}

	if c.Runs.HistoryLimit < 1 {
		return fmt.Errorf("runs history_limit must be at least 1, got %d", c.Runs.HistoryLimit)
	}

	switch c.Workflow.QualityPolicy {
	case QualityPolicyMinimum, QualityPolicyWeighted:
	default:
		return fmt.Errorf("workflow quality_policy must be %q or %q, got %q",
			QualityPolicyMinimum, QualityPolicyWeighted, c.Workflow.QualityPolicy)
	}

	if c.Agents.Enabled {
		stages := []struct {
			name string
			ep   agents.Endpoint
		}{
			{"leading", c.Agents.Leading},
			{"intermediate", c.Agents.Intermediate},
			{"terminal", c.Agents.Terminal},
		}
		for _, stage := range stages {
			if err := stage.ep.Validate(); err != nil {
				return fmt.Errorf("agents.%s: %w", stage.name, err)
			}
		}
	}

	return nil
}

// Duration wraps time.Duration for text unmarshaling (YAML, env vars).
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
