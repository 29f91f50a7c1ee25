package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	runWorkflow string
	runRequest  string
	runFile     string
	runFollow   bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runWorkflow, "workflow", "w", "", "workflow to run (default factcheck)")
	runCmd.Flags().StringVarP(&runRequest, "request", "r", "", "request payload as inline JSON")
	runCmd.Flags().StringVarP(&runFile, "file", "F", "", "read the request payload from a JSON file")
	runCmd.Flags().BoolVarP(&runFollow, "follow", "f", false, "stream run events until the run finishes")
}

// runCmd starts a workflow run
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a workflow run",
	Long: `Start a workflow run on the relayd server.

The request payload is read from --request, --file, or stdin.

Examples:
  # Start a factcheck run with an inline payload
  relay run --request '{"question":"How tall is the Eiffel Tower?","answer":"It is 330 metres tall."}'

  # Read the payload from a file and follow events until the run finishes
  relay run --file request.json --follow

  # Pipe the payload
  cat request.json | relay run`,
	RunE: runRun,
}

// StartRunRequest matches pkg/server StartRunRequest
type StartRunRequest struct {
	Workflow string         `json:"workflow,omitempty"`
	Request  map[string]any `json:"request"`
}

// StartRunResponse matches pkg/server StartRunResponse
type StartRunResponse struct {
	RunID    string `json:"run_id"`
	Workflow string `json:"workflow"`
	State    string `json:"state"`
}

// runRun handles the run command
func runRun(cmd *cobra.Command, args []string) error {
	payload, err := readRequestPayload(runRequest, runFile, cmd.InOrStdin())
	if err != nil {
		return err
	}

	reqJSON, err := json.Marshal(StartRunRequest{Workflow: runWorkflow, Request: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/runs", serverURL)
	httpReq, err := http.NewRequest("POST", url, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var startResp StartRunResponse
	if err := json.NewDecoder(resp.Body).Decode(&startResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	cmd.Printf("Run %s accepted (workflow %s)\n", startResp.RunID, startResp.Workflow)

	if runFollow {
		return streamEvents(cmd, startResp.RunID)
	}

	cmd.Printf("Poll with: relay runs %s\n", startResp.RunID)
	return nil
}

// readRequestPayload decodes the run request from the flag, a file, or stdin.
func readRequestPayload(inline, file string, stdin io.Reader) (map[string]any, error) {
	var raw []byte
	var err error

	switch {
	case inline != "" && file != "":
		return nil, fmt.Errorf("use either --request or --file, not both")
	case inline != "":
		raw = []byte(inline)
	case file != "":
		raw, err = os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", file, err)
		}
	default:
		raw, err = io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("no request payload given")
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("invalid request JSON: %w", err)
	}
	return payload, nil
}
