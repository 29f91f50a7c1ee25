// Package factcheck implements the reference three-stage workflow for
// the pipeline engine: an auditor extracts claims from an answer, a
// critic verifies them against evidence, and a reviser produces the
// corrected answer with a quality score.
package factcheck

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/relay/pkg/pipeline"
)

// WorkflowName is the name this workflow registers under.
const WorkflowName = "factcheck"

// Option configures the workflow's stages.
type Option func(*options)

type options struct {
	finder       EvidenceFinder
	stageTimeout time.Duration
	pipelineOpts []pipeline.Option
}

// WithEvidenceFinder replaces the critic's evidence source.
func WithEvidenceFinder(finder EvidenceFinder) Option {
	return func(o *options) { o.finder = finder }
}

// WithStageTimeout bounds every stage with the same duration budget.
func WithStageTimeout(d time.Duration) Option {
	return func(o *options) { o.stageTimeout = d }
}

// WithPipelineOptions forwards options to the orchestrator, such as the
// logger, observer, and quality policy.
func WithPipelineOptions(opts ...pipeline.Option) Option {
	return func(o *options) { o.pipelineOpts = append(o.pipelineOpts, opts...) }
}

// NewLayers builds a fresh auditor, critic, and reviser. Layer values
// hold per-run state inside the engine, so every run gets its own trio.
func NewLayers(opts ...Option) (pipeline.Layer, pipeline.Layer, pipeline.Layer, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var expOpts []pipeline.ExpectationOption
	if o.stageTimeout > 0 {
		expOpts = append(expOpts, pipeline.WithMaxStageDuration(o.stageTimeout))
	}

	auditor, err := NewAuditor(expOpts...)
	if err != nil {
		return nil, nil, nil, err
	}
	critic, err := NewCritic(o.finder, expOpts...)
	if err != nil {
		return nil, nil, nil, err
	}
	reviser, err := NewReviser(expOpts...)
	if err != nil {
		return nil, nil, nil, err
	}
	return auditor, critic, reviser, nil
}

// NewOrchestrator wires a fresh stage trio into a fresh orchestrator.
// Call it once per run; orchestrator instances execute one run at a
// time.
func NewOrchestrator(opts ...Option) (*pipeline.Orchestrator, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	leading, intermediate, terminal, err := NewLayers(opts...)
	if err != nil {
		return nil, fmt.Errorf("build %s layers: %w", WorkflowName, err)
	}
	orch, err := pipeline.New(leading, intermediate, terminal, o.pipelineOpts...)
	if err != nil {
		return nil, fmt.Errorf("build %s orchestrator: %w", WorkflowName, err)
	}
	return orch, nil
}

// BuildRequest shapes a fact-check request into the workflow input
// payload.
func BuildRequest(req Request) map[string]any {
	payload := map[string]any{
		"question": req.Question,
		"answer":   req.Answer,
	}
	if req.Context != "" {
		payload["context"] = req.Context
	}
	return payload
}

// ParseRevision reads the reviser's product back out of a completed
// run's final output.
func ParseRevision(finalOutput map[string]any) (*Revision, error) {
	if finalOutput == nil {
		return nil, fmt.Errorf("run produced no final output")
	}
	revised, ok := finalOutput["final_output"].(string)
	if !ok {
		return nil, fmt.Errorf("final output carries no revised text")
	}
	score, ok := numericField(finalOutput, "quality_score")
	if !ok {
		return nil, fmt.Errorf("final output carries no quality score")
	}

	revision := &Revision{Revised: revised, QualityScore: score}
	if reasoning, ok := finalOutput["revision_reasoning"].(string); ok {
		revision.Reasoning = reasoning
	}
	if rawChanges, ok := finalOutput["changes_made"]; ok {
		if err := fromPayloadValue(rawChanges, &revision.Changes); err != nil {
			return nil, fmt.Errorf("decode change list: %w", err)
		}
	}
	return revision, nil
}

func numericField(payload map[string]any, field string) (float64, bool) {
	switch n := payload[field].(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
