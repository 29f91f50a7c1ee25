package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/relay/internal/runstore"
	"github.com/fyrsmithlabs/relay/pkg/pipeline"
)

// StartRunRequest is the JSON body of POST /v1/runs. Workflow defaults
// to factcheck when empty.
type StartRunRequest struct {
	Workflow string         `json:"workflow"`
	Request  map[string]any `json:"request"`
}

// StartRunResponse is the JSON response for an accepted run.
type StartRunResponse struct {
	RunID    string         `json:"run_id"`
	Workflow string         `json:"workflow"`
	State    pipeline.State `json:"state"`
}

// RunSummary is one entry of the run listing.
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

// ListRunsResponse is the JSON response for GET /v1/runs.
type ListRunsResponse struct {
	Runs  []RunSummary `json:"runs"`
	Count int          `json:"count"`
}

// handleStartRun handles POST /v1/runs.
//
// The run executes asynchronously; the response carries the assigned
// run ID for polling GET /v1/runs/{id} or streaming
// GET /v1/runs/{id}/events.
func (s *Server) handleStartRun(c echo.Context) error {
	var req StartRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	rec, err := s.runner.Launch(c.Request().Context(), req.Workflow, req.Request)
	if err != nil {
		if errors.Is(err, ErrUnknownWorkflow) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}

	return c.JSON(http.StatusAccepted, StartRunResponse{
		RunID:    rec.RunID,
		Workflow: rec.Workflow,
		State:    rec.State,
	})
}

// handleListRuns handles GET /v1/runs. Runs are listed newest first.
func (s *Server) handleListRuns(c echo.Context) error {
	records := s.store.List()

	runs := make([]RunSummary, 0, len(records))
	for _, rec := range records {
		runs = append(runs, summarize(rec))
	}

	return c.JSON(http.StatusOK, ListRunsResponse{Runs: runs, Count: len(runs)})
}

// handleGetRun handles GET /v1/runs/:id, returning the full record with
// the execution log once the run finished.
func (s *Server) handleGetRun(c echo.Context) error {
	rec, ok := s.store.Get(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "run not found"})
	}

	return c.JSON(http.StatusOK, rec)
}

// summarize reduces a record to its listing entry.
func summarize(rec *runstore.Record) RunSummary {
	summary := RunSummary{
		RunID:     rec.RunID,
		Workflow:  rec.Workflow,
		State:     rec.State,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if rec.Result != nil {
		summary.Status = rec.Result.Status
		summary.AbortReason = rec.Result.AbortReason
		summary.QualityScore = rec.Result.QualityScore
	}
	return summary
}
