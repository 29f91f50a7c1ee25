package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/relay/internal/config"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

// initCmd creates a starter config file
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter config file",
	Long: `Create ~/.config/relay/config.yaml with commented defaults.

The file is created with 0600 permissions because it may hold agent
API keys. An existing file is never overwritten.

Examples:
  # Write the starter config
  relay init`,
	RunE: runInit,
}

// runInit handles the init command
func runInit(cmd *cobra.Command, args []string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	path := filepath.Join(home, ".config", "relay", "config.yaml")

	if _, err := os.Stat(path); err == nil {
		cmd.Printf("Config already exists at: %s\n", path)
		return nil
	}

	if err := os.WriteFile(path, []byte(starterConfig), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	cmd.Printf("Created config at: %s\n", path)
	return nil
}

const starterConfig = `# relayd configuration
server:
  port: 9430
  shutdown_timeout: 10s

logging:
  # level: trace, debug, info, warn, or error
  level: info
  format: json

# OTLP export of traces, metrics, and logs.
telemetry:
  enabled: false
#  endpoint: localhost:4317
#  protocol: grpc

events:
  # NATS URL for run event streaming. Empty disables events.
  url: nats://localhost:4222

runs:
  history_limit: 256
  # snapshot_dir persists finished runs across restarts.
  # snapshot_dir: /var/lib/relay/runs

redact:
  enabled: true

workflow:
  max_run_duration: 5m
  stage_timeout: 2m
  # quality_policy: minimum or weighted
  quality_policy: minimum

# Remote agent endpoints. When disabled, relayd runs workflows with its
# built-in local layers.
agents:
  enabled: false
#  leading:
#    kind: http
#    url: http://localhost:8701
#  intermediate:
#    kind: http
#    url: http://localhost:8702
#  terminal:
#    kind: http
#    url: http://localhost:8703
`
