package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

// watchCmd streams run events over SSE
var watchCmd = &cobra.Command{
	Use:   "watch <run-id>",
	Short: "Stream run events",
	Long: `Stream run lifecycle events over SSE until the run finishes.

Runs that already finished replay their stored result as a single event.
Live streaming requires the daemon to be connected to NATS.

Examples:
  # Watch a run in flight
  relay watch 3f2c9d81-7a44-4e1b-9c2f-2b9a0d6f8e11

  # Start a run and watch it in one step
  relay run --file request.json --follow`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

// runWatch handles the watch command
func runWatch(cmd *cobra.Command, args []string) error {
	return streamEvents(cmd, args[0])
}

// streamEvents opens the SSE stream for one run and prints its events.
func streamEvents(cmd *cobra.Command, runID string) error {
	url := fmt.Sprintf("%s/v1/runs/%s/events", serverURL, runID)

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// No client timeout: the stream stays open for the whole run
	client := &http.Client{}

	resp, err := client.Do(req)
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

	return followStream(resp.Body, cmd.OutOrStdout())
}

// followStream parses the SSE stream and prints one line per event,
// returning once a terminal event arrives.
func followStream(r io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(r)

	var eventType, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, ":"):
			// Heartbeat comment, ignore
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "":
			// Event boundary
			if eventType == "" && data == "" {
				continue
			}
			text, err := formatEvent(eventType, data)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, text)
			if eventType == "completed" || eventType == "aborted" {
				return nil
			}
			eventType, data = "", ""
		}
	}
	return scanner.Err()
}

// formatEvent renders one SSE event as a log line.
func formatEvent(eventType, data string) (string, error) {
	switch eventType {
	case "started":
		var ev struct {
			RunID    string `json:"run_id"`
			Workflow string `json:"workflow"`
		}
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return "", fmt.Errorf("failed to decode %s event: %w", eventType, err)
		}
		return fmt.Sprintf("started    run=%s workflow=%s", ev.RunID, ev.Workflow), nil

	case "stage":
		var ev struct {
			State string `json:"state"`
			Stage *struct {
				Role     string        `json:"role"`
				Status   string        `json:"status"`
				Duration time.Duration `json:"duration"`
			} `json:"stage"`
		}
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return "", fmt.Errorf("failed to decode %s event: %w", eventType, err)
		}
		text := fmt.Sprintf("stage      state=%s", ev.State)
		if ev.Stage != nil {
			text += fmt.Sprintf(" (%s %s in %s)", ev.Stage.Role, ev.Stage.Status, ev.Stage.Duration)
		}
		return text, nil

	case "completed":
		var ev struct {
			QualityScore float64 `json:"quality_score"`
			DurationMS   int64   `json:"duration_ms"`
		}
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return "", fmt.Errorf("failed to decode %s event: %w", eventType, err)
		}
		return fmt.Sprintf("completed  quality=%.2f duration=%dms", ev.QualityScore, ev.DurationMS), nil

	case "aborted":
		var ev struct {
			AbortReason string `json:"abort_reason"`
			DurationMS  int64  `json:"duration_ms"`
		}
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return "", fmt.Errorf("failed to decode %s event: %w", eventType, err)
		}
		return fmt.Sprintf("aborted    reason=%s duration=%dms", ev.AbortReason, ev.DurationMS), nil

	default:
		// Forward unknown event types untouched
		return fmt.Sprintf("%s %s", eventType, data), nil
	}
}
