package events

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/relay/pkg/pipeline"
)

// Event names appended to the per-run subject.
const (
	// EventStarted is published when a run is accepted for execution.
	EventStarted = "started"

	// EventStage is published on every orchestrator state transition.
	EventStage = "stage"

	// EventCompleted is published when all three stages finish.
	EventCompleted = "completed"

	// EventAborted is published when a run stops early.
	EventAborted = "aborted"
)

// RunSubject returns the NATS subject for one event of one run.
func RunSubject(runID, event string) string {
	return fmt.Sprintf("runs.%s.%s", runID, event)
}

// RunWildcard returns the subject matching every event of one run.
func RunWildcard(runID string) string {
	return fmt.Sprintf("runs.%s.*", runID)
}

// AllRunsWildcard matches every event of every run.
const AllRunsWildcard = "runs.>"

// StartedEvent is the payload of a started event.
type StartedEvent struct {
	RunID     string         `json:"run_id"`
	Workflow  string         `json:"workflow"`
	Request   map[string]any `json:"request,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// StageEvent is the payload of a stage event. Stage is set when the
// transition closed out a stage and carries its execution record.
type StageEvent struct {
	RunID     string                `json:"run_id"`
	State     pipeline.State        `json:"state"`
	Stage     *pipeline.StageRecord `json:"stage,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// FinishedEvent is the payload of a completed or aborted event.
type FinishedEvent struct {
	RunID        string               `json:"run_id"`
	Status       pipeline.RunStatus   `json:"status"`
	AbortReason  pipeline.AbortReason `json:"abort_reason,omitempty"`
	QualityScore float64              `json:"quality_score"`
	FinalOutput  map[string]any       `json:"final_output,omitempty"`
	DurationMS   int64                `json:"duration_ms"`
	Redactions   int                  `json:"redactions,omitempty"`
	Timestamp    time.Time            `json:"timestamp"`
}
