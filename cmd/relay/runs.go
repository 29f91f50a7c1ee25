package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(runsCmd)
}

// runsCmd lists run history or shows a single run
var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List runs or show one run",
	Long: `List the run history of the relayd server, newest first, or show
the full record of a single run including its execution log.

Examples:
  # List all retained runs
  relay runs

  # Show one run with its stage records
  relay runs 3f2c9d81-7a44-4e1b-9c2f-2b9a0d6f8e11`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

// RunSummary matches pkg/server RunSummary
type RunSummary struct {
	RunID        string    `json:"run_id"`
	Workflow     string    `json:"workflow"`
	State        string    `json:"state"`
	Status       string    `json:"status,omitempty"`
	AbortReason  string    `json:"abort_reason,omitempty"`
	QualityScore float64   `json:"quality_score,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ListRunsResponse matches pkg/server ListRunsResponse
type ListRunsResponse struct {
	Runs  []RunSummary `json:"runs"`
	Count int          `json:"count"`
}

// runRuns handles the runs command
func runRuns(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return showRun(cmd, args[0])
	}
	return listRuns(cmd)
}

// listRuns prints the run listing as a table
func listRuns(cmd *cobra.Command) error {
	url := fmt.Sprintf("%s/v1/runs", serverURL)

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var list ListRunsResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(list.Runs) == 0 {
		cmd.Println("No runs recorded.")
		return nil
	}

	now := time.Now()
	cmd.Printf("%-38s %-10s %-26s %-8s %-14s %s\n",
		"RUN", "WORKFLOW", "STATE", "QUALITY", "ABORT", "AGE")
	for _, run := range list.Runs {
		cmd.Printf("%-38s %-10s %-26s %-8s %-14s %s\n",
			run.RunID,
			truncate(run.Workflow, 10),
			run.State,
			formatQuality(run.QualityScore),
			formatAbort(run.AbortReason),
			formatAge(now.Sub(run.UpdatedAt)))
	}
	cmd.Printf("\n%d run(s)\n", list.Count)
	return nil
}

// showRun prints the full run record as indented JSON
func showRun(cmd *cobra.Command, runID string) error {
	url := fmt.Sprintf("%s/v1/runs/%s", serverURL, runID)

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		return fmt.Errorf("failed to format response: %w", err)
	}

	cmd.Println(pretty.String())
	return nil
}

// truncate shortens a string to maxLen, appending "..." when cut
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}

// formatQuality renders a quality score for the table, "-" when unset
func formatQuality(score float64) string {
	if score <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f", score)
}

// formatAbort renders an abort reason for the table, "-" when unset
func formatAbort(reason string) string {
	if reason == "" {
		return "-"
	}
	return reason
}

// formatAge renders a duration as a compact age like kubectl does
func formatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
