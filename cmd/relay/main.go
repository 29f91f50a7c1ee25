// Package main implements the relay CLI for operations against the relayd HTTP server.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the relayd HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "CLI for relayd workflow operations",
	Long: `relay is a command-line interface for the relayd pipeline daemon.
It starts workflow runs, inspects run history, streams run events, and
opens a live dashboard.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9430", "relayd server URL")
}
