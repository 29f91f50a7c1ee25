package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fyrsmithlabs/relay/pkg/pipeline"
)

// RunMetrics records workflow run outcomes on an OTEL meter.
//
// All methods are nil-safe so call sites don't need to guard against
// disabled telemetry.
type RunMetrics struct {
	runsTotal          metric.Int64Counter
	runsInFlight       metric.Int64UpDownCounter
	runDuration        metric.Float64Histogram
	stageDuration      metric.Float64Histogram
	validationFailures metric.Int64Counter
	qualityScore       metric.Float64Histogram
	transitions        metric.Int64Counter
}

// NewRunMetrics registers the run instruments on the given meter.
func NewRunMetrics(meter metric.Meter) (*RunMetrics, error) {
	m := &RunMetrics{}
	var err error

	m.runsTotal, err = meter.Int64Counter(
		"relay.runs",
		metric.WithDescription("Finished workflow runs by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("runs counter: %w", err)
	}

	m.runsInFlight, err = meter.Int64UpDownCounter(
		"relay.runs.in_flight",
		metric.WithDescription("Workflow runs currently executing"),
	)
	if err != nil {
		return nil, fmt.Errorf("in-flight counter: %w", err)
	}

	m.runDuration, err = meter.Float64Histogram(
		"relay.run.duration",
		metric.WithDescription("End-to-end run duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("run duration histogram: %w", err)
	}

	m.stageDuration, err = meter.Float64Histogram(
		"relay.stage.duration",
		metric.WithDescription("Per-stage execution duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("stage duration histogram: %w", err)
	}

	m.validationFailures, err = meter.Int64Counter(
		"relay.validation.failures",
		metric.WithDescription("Failed contract validation checks by stage"),
	)
	if err != nil {
		return nil, fmt.Errorf("validation failures counter: %w", err)
	}

	m.qualityScore, err = meter.Float64Histogram(
		"relay.run.quality",
		metric.WithDescription("Aggregated quality score of completed runs"),
	)
	if err != nil {
		return nil, fmt.Errorf("quality histogram: %w", err)
	}

	m.transitions, err = meter.Int64Counter(
		"relay.run.transitions",
		metric.WithDescription("Orchestrator state transitions"),
	)
	if err != nil {
		return nil, fmt.Errorf("transitions counter: %w", err)
	}

	return m, nil
}

// RunStarted marks a run as in flight. Pair with RecordResult.
func (m *RunMetrics) RunStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.runsInFlight.Add(ctx, 1)
}

// RecordResult records a finished run: totals, durations, per-stage
// durations, validation failures, and quality.
func (m *RunMetrics) RecordResult(ctx context.Context, res *pipeline.Result) {
	if m == nil || res == nil {
		return
	}

	m.runsInFlight.Add(ctx, -1)

	statusAttr := attribute.String("status", string(res.Status))
	runAttrs := []attribute.KeyValue{statusAttr}
	if res.AbortReason != "" {
		runAttrs = append(runAttrs, attribute.String("abort_reason", string(res.AbortReason)))
	}
	m.runsTotal.Add(ctx, 1, metric.WithAttributes(runAttrs...))
	m.runDuration.Record(ctx, res.FinishedAt.Sub(res.StartedAt).Seconds(), metric.WithAttributes(statusAttr))

	for _, stage := range res.Stages {
		m.stageDuration.Record(ctx, stage.Duration.Seconds(), metric.WithAttributes(
			attribute.String("stage", string(stage.Role)),
			attribute.String("status", string(stage.Status)),
		))
		for _, rec := range stage.ValidationRecords {
			if rec.Outcome == pipeline.OutcomeFailed {
				m.validationFailures.Add(ctx, 1, metric.WithAttributes(
					attribute.String("stage", string(stage.Role)),
				))
			}
		}
	}

	if res.Completed() {
		m.qualityScore.Record(ctx, res.QualityScore)
	}
}

// Observer returns a pipeline observer counting state transitions.
// Safe to pass to pipeline.WithObserver even when m is nil.
func (m *RunMetrics) Observer() pipeline.Observer {
	return func(ev pipeline.Event) {
		if m == nil {
			return
		}
		m.transitions.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("state", string(ev.State)),
		))
	}
}
