package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(healthCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check relayd server health",
	Long: `Check the health status of the relayd HTTP server.

Examples:
  # Check health
  relay health

  # Check health on a different server
  relay health --server http://localhost:8080`,
	RunE: runHealth,
}

// HealthResponse matches pkg/server HealthResponse
type HealthResponse struct {
	Status    string   `json:"status"`
	Service   string   `json:"service"`
	Workflows []string `json:"workflows"`
	Events    bool     `json:"events"`
	Telemetry struct {
		Enabled  bool   `json:"enabled"`
		Degraded bool   `json:"degraded"`
		Reason   string `json:"reason"`
	} `json:"telemetry"`
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/healthz", serverURL)

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect to %s: %v\n", url, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	telemetryState := "off"
	if healthResp.Telemetry.Enabled {
		telemetryState = "on"
		if healthResp.Telemetry.Degraded {
			telemetryState = "degraded: " + healthResp.Telemetry.Reason
		}
	}

	cmd.Printf("Server Status: %s\n", healthResp.Status)
	cmd.Printf("Service:       %s\n", healthResp.Service)
	cmd.Printf("Workflows:     %s\n", strings.Join(healthResp.Workflows, ", "))
	cmd.Printf("Events:        %v\n", healthResp.Events)
	cmd.Printf("Telemetry:     %s\n", telemetryState)
	cmd.Printf("Server URL:    %s\n", serverURL)

	return nil
}
