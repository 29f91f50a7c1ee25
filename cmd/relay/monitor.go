package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/relay/internal/monitor"
)

var monitorInterval time.Duration

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().DurationVarP(&monitorInterval, "interval", "i", 2*time.Second, "refresh interval")
}

// monitorCmd opens the live run dashboard
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Open the live run dashboard",
	Long: `Open a terminal dashboard showing live run activity on the relayd
server: run counters, throughput, quality trend, and recent runs.

Examples:
  # Watch the local daemon
  relay monitor

  # Slow down the refresh
  relay monitor --interval 10s`,
	RunE: runMonitor,
}

// runMonitor handles the monitor command
func runMonitor(cmd *cobra.Command, args []string) error {
	model := monitor.NewModel(serverURL, monitorInterval)

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard error: %w", err)
	}
	return nil
}
