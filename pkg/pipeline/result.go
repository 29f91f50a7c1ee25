package pipeline

import (
	"fmt"
	"time"
)

// StageRecord captures the outcome of one stage execution for the run's
// execution log.
type StageRecord struct {
	Role              Role               `json:"role"`
	Status            StageStatus        `json:"status"`
	StartedAt         time.Time          `json:"started_at"`
	Duration          time.Duration      `json:"duration"`
	ValidationRecords []ValidationRecord `json:"validation_records,omitempty"`
	Error             string             `json:"error,omitempty"`
}

// Result is the outcome of a workflow run: the final output on success,
// the abort reason otherwise, and the per-stage execution log either way.
type Result struct {
	RunID        string         `json:"run_id"`
	Status       RunStatus      `json:"status"`
	AbortReason  AbortReason    `json:"abort_reason,omitempty"`
	FinalOutput  map[string]any `json:"final_output,omitempty"`
	QualityScore float64        `json:"quality_score"`
	Stages       []StageRecord  `json:"stages"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
}

// Completed reports whether the run finished all three stages.
func (r *Result) Completed() bool { return r.Status == RunCompleted }

// Stage returns the execution record for the given role, or nil when the
// run aborted before that stage started.
func (r *Result) Stage(role Role) *StageRecord {
	for i := range r.Stages {
		if r.Stages[i].Role == role {
			return &r.Stages[i]
		}
	}
	return nil
}

// Summary is a compact aggregation of a run for logs and listings.
type Summary struct {
	RunID          string                    `json:"run_id"`
	Status         RunStatus                 `json:"status"`
	AbortReason    AbortReason               `json:"abort_reason,omitempty"`
	QualityScore   float64                   `json:"quality_score"`
	TotalDuration  time.Duration             `json:"total_duration"`
	StageDurations map[Role]time.Duration    `json:"stage_durations"`
	Validations    map[ValidationOutcome]int `json:"validations"`
}

// Summarize aggregates the run into a Summary.
func (r *Result) Summarize() Summary {
	s := Summary{
		RunID:          r.RunID,
		Status:         r.Status,
		AbortReason:    r.AbortReason,
		QualityScore:   r.QualityScore,
		TotalDuration:  r.FinishedAt.Sub(r.StartedAt),
		StageDurations: make(map[Role]time.Duration, len(r.Stages)),
		Validations:    make(map[ValidationOutcome]int),
	}
	for _, stage := range r.Stages {
		s.StageDurations[stage.Role] = stage.Duration
		for _, rec := range stage.ValidationRecords {
			s.Validations[rec.Outcome]++
		}
	}
	return s
}

// QualitySample is one quality score observed during a run, tagged with
// the role whose output carried it.
type QualitySample struct {
	Role  Role
	Score float64
}

// QualityPolicy aggregates the quality scores observed at validated hops
// and in the final output into the run's single quality score. Policies
// must be deterministic: the same samples always produce the same score.
type QualityPolicy interface {
	// Name identifies the policy in configuration and logs.
	Name() string

	// Aggregate folds the observed samples into one score. Called with
	// the samples in pipeline order; an empty slice must return 0.
	Aggregate(samples []QualitySample) float64
}

// qualityFields are the payload fields the engine samples for quality
// aggregation, in priority order per payload.
var qualityFields = [...]string{"quality_score", "quality"}

// sampleQuality extracts the quality score a payload carries, if any.
func sampleQuality(role Role, payload map[string]any) (QualitySample, bool) {
	for _, field := range qualityFields {
		if v, ok := payload[field]; ok {
			if score, ok := numericValue(v); ok {
				return QualitySample{Role: role, Score: score}, true
			}
		}
	}
	return QualitySample{}, false
}

// MinimumQuality scores a run by its weakest observed stage. This is the
// default policy: a pipeline is only as good as its worst hop.
type MinimumQuality struct{}

// Name implements QualityPolicy.
func (MinimumQuality) Name() string { return "minimum" }

// Aggregate implements QualityPolicy.
func (MinimumQuality) Aggregate(samples []QualitySample) float64 {
	if len(samples) == 0 {
		return 0
	}
	min := samples[0].Score
	for _, s := range samples[1:] {
		if s.Score < min {
			min = s.Score
		}
	}
	return min
}

// WeightedQuality scores a run as the weighted average of the observed
// samples. Weights are per role; roles that contributed no sample are
// excluded and the remaining weights renormalized, so the score stays
// deterministic for a given set of samples.
type WeightedQuality struct {
	Weights map[Role]float64
}

// NewWeightedQuality builds a weighted policy. Roles without an explicit
// weight default to 1.
func NewWeightedQuality(weights map[Role]float64) (*WeightedQuality, error) {
	for role, w := range weights {
		if !role.Valid() {
			return nil, fmt.Errorf("weighted quality: invalid role %q", role)
		}
		if w < 0 {
			return nil, fmt.Errorf("weighted quality: negative weight %v for %s", w, role)
		}
	}
	return &WeightedQuality{Weights: weights}, nil
}

// Name implements QualityPolicy.
func (*WeightedQuality) Name() string { return "weighted" }

// Aggregate implements QualityPolicy.
func (p *WeightedQuality) Aggregate(samples []QualitySample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum, total float64
	for _, s := range samples {
		w, ok := p.Weights[s.Role]
		if !ok {
			w = 1
		}
		sum += s.Score * w
		total += w
	}
	if total == 0 {
		return 0
	}
	return sum / total
}

var (
	_ QualityPolicy = MinimumQuality{}
	_ QualityPolicy = (*WeightedQuality)(nil)
)
