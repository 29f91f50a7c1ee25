// Package monitor provides a terminal dashboard for a running relayd.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/relay/pkg/pipeline"
)

// Client queries the relayd HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
}

// HealthInfo is the decoded /healthz response.
type HealthInfo struct {
	Status    string   `json:"status"`
	Service   string   `json:"service"`
	Workflows []string `json:"workflows"`
	Events    bool     `json:"events"`
}

// RunSummary is one entry of the run listing as served by relayd.
type RunSummary struct {
	RunID        string               `json:"run_id"`
	Workflow     string               `json:"workflow"`
	State        pipeline.State       `json:"state"`
	Status       pipeline.RunStatus   `json:"status,omitempty"`
	AbortReason  pipeline.AbortReason `json:"abort_reason,omitempty"`
	QualityScore float64              `json:"quality_score,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// runListResponse is the decoded GET /v1/runs response.
type runListResponse struct {
	Runs  []RunSummary `json:"runs"`
	Count int          `json:"count"`
}

// NewClient creates a new relayd API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// Health fetches the daemon health summary from GET /healthz.
func (c *Client) Health(ctx context.Context) (HealthInfo, error) {
	var health HealthInfo
	if err := c.get(ctx, "/healthz", &health); err != nil {
		return HealthInfo{}, err
	}
	return health, nil
}

// ListRuns fetches the run listing from GET /v1/runs, newest first.
func (c *Client) ListRuns(ctx context.Context) ([]RunSummary, error) {
	var list runListResponse
	if err := c.get(ctx, "/v1/runs", &list); err != nil {
		return nil, err
	}
	return list.Runs, nil
}

// get performs a GET request against the API and decodes the JSON body.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
