package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/relay/internal/config"
)

func init() {
	rootCmd.AddCommand(validateCmd)
}

// validateCmd validates a config file without starting the daemon
var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a config file",
	Long: `Load and validate a relayd config file without starting the daemon.

Defaults to ~/.config/relay/config.yaml. The file must live under
~/.config/relay/ or /etc/relay/ and be readable only by its owner.

Examples:
  # Validate the default config
  relay validate

  # Validate a system config
  relay validate /etc/relay/config.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

// runValidate handles the validate command
func runValidate(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	}

	cfg, err := config.LoadWithFile(path)
	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	cmd.Printf("Config OK\n")
	cmd.Printf("  port:            %d\n", cfg.Server.Port)
	cmd.Printf("  events:          %s\n", eventsSummary(cfg.Events.URL))
	cmd.Printf("  history_limit:   %d\n", cfg.Runs.HistoryLimit)
	cmd.Printf("  quality_policy:  %s\n", cfg.Workflow.QualityPolicy)
	cmd.Printf("  agents:          %v\n", cfg.Agents.Enabled)
	return nil
}

// eventsSummary names the event stream target, "disabled" when unset
func eventsSummary(url string) string {
	if url == "" {
		return "disabled"
	}
	return url
}
