package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/relay/pkg/pipeline"
)

func completedResult() *pipeline.Result {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &pipeline.Result{
		RunID:        "run-1",
		Status:       pipeline.RunCompleted,
		QualityScore: 0.85,
		StartedAt:    started,
		FinishedAt:   started.Add(2 * time.Second),
		Stages: []pipeline.StageRecord{
			{Role: pipeline.RoleLeading, Status: pipeline.StageSucceeded, Duration: 500 * time.Millisecond},
			{Role: pipeline.RoleIntermediate, Status: pipeline.StageSucceeded, Duration: time.Second},
			{Role: pipeline.RoleTerminal, Status: pipeline.StageSucceeded, Duration: 500 * time.Millisecond},
		},
	}
}

func TestRunMetrics_RecordResult(t *testing.T) {
	tt := NewTestTelemetry()
	rm, err := NewRunMetrics(tt.Meter("relay.pipeline"))
	require.NoError(t, err)

	ctx := context.Background()
	rm.RunStarted(ctx)
	rm.RecordResult(ctx, completedResult())

	runs, found, err := tt.Metrics.Find(ctx, "relay.runs")
	require.NoError(t, err)
	require.True(t, found, "relay.runs not recorded")

	sum, ok := runs.Data.(metricdata.Sum[int64])
	require.True(t, ok, "relay.runs should be an int64 sum")
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)

	status, ok := sum.DataPoints[0].Attributes.Value(attribute.Key("status"))
	require.True(t, ok)
	assert.Equal(t, "completed", status.AsString())
}

func TestRunMetrics_StageDurations(t *testing.T) {
	tt := NewTestTelemetry()
	rm, err := NewRunMetrics(tt.Meter("relay.pipeline"))
	require.NoError(t, err)

	ctx := context.Background()
	rm.RecordResult(ctx, completedResult())

	stages, found, err := tt.Metrics.Find(ctx, "relay.stage.duration")
	require.NoError(t, err)
	require.True(t, found, "relay.stage.duration not recorded")

	hist, ok := stages.Data.(metricdata.Histogram[float64])
	require.True(t, ok, "stage duration should be a float64 histogram")
	// One datapoint per stage role
	assert.Len(t, hist.DataPoints, 3)
}

func TestRunMetrics_ValidationFailures(t *testing.T) {
	tt := NewTestTelemetry()
	rm, err := NewRunMetrics(tt.Meter("relay.pipeline"))
	require.NoError(t, err)

	res := completedResult()
	res.Status = pipeline.RunAborted
	res.AbortReason = pipeline.AbortContractViolation
	res.Stages = []pipeline.StageRecord{
		{
			Role:   pipeline.RoleLeading,
			Status: pipeline.StageSucceeded,
			ValidationRecords: []pipeline.ValidationRecord{
				{Rule: "schema:claim_count", Outcome: pipeline.OutcomePassed},
				{Rule: "claim_count > 0", Outcome: pipeline.OutcomeFailed},
				{Rule: "quality >= 0.8", Outcome: pipeline.OutcomeSkipped},
			},
		},
	}

	ctx := context.Background()
	rm.RecordResult(ctx, res)

	failures, found, err := tt.Metrics.Find(ctx, "relay.validation.failures")
	require.NoError(t, err)
	require.True(t, found, "relay.validation.failures not recorded")

	sum, ok := failures.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value, "only failed outcomes count")
}

func TestRunMetrics_QualityOnlyForCompletedRuns(t *testing.T) {
	tt := NewTestTelemetry()
	rm, err := NewRunMetrics(tt.Meter("relay.pipeline"))
	require.NoError(t, err)

	res := completedResult()
	res.Status = pipeline.RunAborted
	res.AbortReason = pipeline.AbortTimeout
	res.QualityScore = 0

	ctx := context.Background()
	rm.RecordResult(ctx, res)

	_, found, err := tt.Metrics.Find(ctx, "relay.run.quality")
	require.NoError(t, err)
	assert.False(t, found, "aborted runs should not record quality")
}

func TestRunMetrics_Observer(t *testing.T) {
	tt := NewTestTelemetry()
	rm, err := NewRunMetrics(tt.Meter("relay.pipeline"))
	require.NoError(t, err)

	obs := rm.Observer()
	obs(pipeline.Event{RunID: "run-1", State: pipeline.StateRunningLeading})
	obs(pipeline.Event{RunID: "run-1", State: pipeline.StateCompleted})

	ctx := context.Background()
	transitions, found, err := tt.Metrics.Find(ctx, "relay.run.transitions")
	require.NoError(t, err)
	require.True(t, found, "relay.run.transitions not recorded")

	sum, ok := transitions.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	// One datapoint per distinct state
	assert.Len(t, sum.DataPoints, 2)
}

func TestRunMetrics_NilSafe(t *testing.T) {
	var rm *RunMetrics

	assert.NotPanics(t, func() {
		rm.RunStarted(context.Background())
		rm.RecordResult(context.Background(), completedResult())
		rm.Observer()(pipeline.Event{State: pipeline.StateCompleted})
	})
}
