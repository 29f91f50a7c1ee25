package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"

	"github.com/fyrsmithlabs/relay/internal/config"
	"github.com/fyrsmithlabs/relay/internal/telemetry"
	"github.com/fyrsmithlabs/relay/pkg/factcheck"
	"github.com/fyrsmithlabs/relay/pkg/pipeline"
)

// answerWithClaims completes the factcheck workflow at quality 0.85.
const answerWithClaims = "The Eiffel Tower is 330 metres tall. It was completed in 1889."

func factcheckRequest() map[string]any {
	return map[string]any{
		"question": "How tall is the Eiffel Tower?",
		"answer":   answerWithClaims,
	}
}

func drainRunner(t *testing.T, r *Runner) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Drain(ctx))
}

func TestRunner_Workflows(t *testing.T) {
	cfg := testConfig(9430)
	runner := newTestRunner(t, cfg)

	assert.Equal(t, []string{factcheck.WorkflowName}, runner.Workflows())
}

func TestRunner_Launch_Completes(t *testing.T) {
	cfg := testConfig(9430)
	runner := newTestRunner(t, cfg)

	rec, err := runner.Launch(context.Background(), "", factcheckRequest())
	require.NoError(t, err)
	assert.Equal(t, factcheck.WorkflowName, rec.Workflow, "empty workflow defaults to factcheck")
	assert.Equal(t, pipeline.StateIdle, rec.State)
	assert.NotEmpty(t, rec.RunID)

	drainRunner(t, runner)

	finished, ok := runner.Store().Get(rec.RunID)
	require.True(t, ok)
	assert.Equal(t, pipeline.StateCompleted, finished.State)
	require.NotNil(t, finished.Result)
	assert.Equal(t, pipeline.RunCompleted, finished.Result.Status)
	assert.InDelta(t, 0.85, finished.Result.QualityScore, 1e-9)
	assert.Len(t, finished.Result.Stages, 3)
}

func TestRunner_Launch_UnknownWorkflow(t *testing.T) {
	cfg := testConfig(9430)
	runner := newTestRunner(t, cfg)

	_, err := runner.Launch(context.Background(), "translation", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownWorkflow)
}

func TestRunner_Launch_AbortRecorded(t *testing.T) {
	cfg := testConfig(9430)
	runner := newTestRunner(t, cfg)

	// No answer text makes the leading stage fail outright.
	rec, err := runner.Launch(context.Background(), factcheck.WorkflowName, map[string]any{
		"question": "How tall is the Eiffel Tower?",
	})
	require.NoError(t, err)

	drainRunner(t, runner)

	finished, ok := runner.Store().Get(rec.RunID)
	require.True(t, ok)
	assert.Equal(t, pipeline.StateAborted, finished.State)
	require.NotNil(t, finished.Result)
	assert.Equal(t, pipeline.RunAborted, finished.Result.Status)
	assert.Equal(t, pipeline.AbortInternalError, finished.Result.AbortReason)
}

func TestRunner_Launch_WeightedQualityPolicy(t *testing.T) {
	cfg := testConfig(9430)
	cfg.Workflow.QualityPolicy = config.QualityPolicyWeighted
	runner := newTestRunner(t, cfg)

	rec, err := runner.Launch(context.Background(), "", factcheckRequest())
	require.NoError(t, err)

	drainRunner(t, runner)

	finished, ok := runner.Store().Get(rec.RunID)
	require.True(t, ok)
	require.NotNil(t, finished.Result)
	// Critic scores 0.85, reviser 0.935; equal weights average them.
	assert.InDelta(t, 0.8925, finished.Result.QualityScore, 1e-9)
}

func TestRunner_Drain_Expired(t *testing.T) {
	cfg := testConfig(9430)
	runner := newTestRunner(t, cfg)

	runner.wg.Add(1)
	defer runner.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := runner.Drain(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// passthroughTrio builds a trio whose stages forward their input
// untouched, with no contract constraints.
func passthroughTrio() (pipeline.Layer, pipeline.Layer, pipeline.Layer, error) {
	forward := func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return input, nil
	}
	var layers [3]pipeline.Layer
	for i, role := range pipeline.AllRoles() {
		exp, err := pipeline.NewExpectation(role)
		if err != nil {
			return nil, nil, nil, err
		}
		layer, err := pipeline.NewLayerFunc(exp, forward, nil)
		if err != nil {
			return nil, nil, nil, err
		}
		layers[i] = layer
	}
	return layers[0], layers[1], layers[2], nil
}

func TestRunner_RegisterWorkflow(t *testing.T) {
	cfg := testConfig(9430)
	runner := newTestRunner(t, cfg)

	require.NoError(t, runner.RegisterWorkflow("echo", passthroughTrio))
	assert.Equal(t, []string{"echo", factcheck.WorkflowName}, runner.Workflows())

	rec, err := runner.Launch(context.Background(), "echo", map[string]any{"payload": "hello"})
	require.NoError(t, err)

	drainRunner(t, runner)

	finished, ok := runner.Store().Get(rec.RunID)
	require.True(t, ok)
	assert.Equal(t, pipeline.StateCompleted, finished.State)
	require.NotNil(t, finished.Result)
	assert.Equal(t, "hello", finished.Result.FinalOutput["payload"])
}

func TestRunner_RegisterWorkflow_Rejected(t *testing.T) {
	cfg := testConfig(9430)
	runner := newTestRunner(t, cfg)

	assert.Error(t, runner.RegisterWorkflow("", passthroughTrio), "empty name")
	assert.Error(t, runner.RegisterWorkflow("echo", nil), "nil factory")
	assert.Error(t, runner.RegisterWorkflow(factcheck.WorkflowName, passthroughTrio), "built-in name taken")
}

func TestRunner_TracesCompletedRun(t *testing.T) {
	cfg := testConfig(9430)
	tt := telemetry.NewTestTelemetry()
	runner := newTestRunner(t, cfg, WithRunnerTelemetry(tt.Telemetry))

	rec, err := runner.Launch(context.Background(), "", factcheckRequest())
	require.NoError(t, err)

	drainRunner(t, runner)

	tt.AssertSpanExists(t, "workflow.run")
	tt.AssertSpanAttribute(t, "workflow.run", "relay.run_id", rec.RunID)
	tt.AssertSpanAttribute(t, "workflow.run", "relay.workflow", "factcheck")

	span := tt.SpanByName("workflow.run")
	assert.Equal(t, codes.Unset, span.Status().Code, "completed runs leave the span status unset")

	quality := -1.0
	for _, attr := range span.Attributes() {
		if string(attr.Key) == "relay.quality" {
			quality = attr.Value.AsFloat64()
		}
	}
	assert.InDelta(t, 0.85, quality, 1e-9)
}

func TestRunner_TracesAbortedRun(t *testing.T) {
	cfg := testConfig(9430)
	tt := telemetry.NewTestTelemetry()
	runner := newTestRunner(t, cfg, WithRunnerTelemetry(tt.Telemetry))

	_, err := runner.Launch(context.Background(), factcheck.WorkflowName, map[string]any{
		"question": "How tall is the Eiffel Tower?",
	})
	require.NoError(t, err)

	drainRunner(t, runner)

	span := tt.SpanByName("workflow.run")
	require.NotNil(t, span)
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Equal(t, string(pipeline.AbortInternalError), span.Status().Description)
}

func TestRunner_SetWorkflowConfig(t *testing.T) {
	cfg := testConfig(9430)
	runner := newTestRunner(t, cfg)

	// An impossible stage budget forces a timeout abort on the next run
	runner.SetWorkflowConfig(config.WorkflowConfig{
		MaxRunDuration: cfg.Workflow.MaxRunDuration,
		StageTimeout:   config.Duration(time.Nanosecond),
		QualityPolicy:  config.QualityPolicyMinimum,
	})

	rec, err := runner.Launch(context.Background(), "", factcheckRequest())
	require.NoError(t, err)

	drainRunner(t, runner)

	finished, ok := runner.Store().Get(rec.RunID)
	require.True(t, ok)
	require.NotNil(t, finished.Result)
	assert.Equal(t, pipeline.RunAborted, finished.Result.Status)
	assert.Equal(t, pipeline.AbortTimeout, finished.Result.AbortReason)
}
