package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fyrsmithlabs/relay/pkg/pipeline"
)

var (
	// runsActive tracks runs accepted but not yet finished.
	runsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "relay",
			Subsystem: "runs",
			Name:      "active",
			Help:      "Number of workflow runs currently in flight",
		},
	)

	// runsTotal counts finished runs.
	// Labels: workflow, status (completed, aborted)
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "runs",
			Name:      "total",
			Help:      "Total number of finished workflow runs",
		},
		[]string{"workflow", "status"},
	)

	// runAborts counts aborted runs by reason.
	// Labels: reason (precondition_failed, contract_violation, timeout, ...)
	runAborts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "runs",
			Name:      "aborts_total",
			Help:      "Total number of aborted runs by abort reason",
		},
		[]string{"reason"},
	)

	// runDuration tracks end-to-end run duration.
	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "runs",
			Name:      "duration_seconds",
			Help:      "End-to-end duration of workflow runs in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"workflow"},
	)

	// runQuality tracks the aggregated quality score of completed runs.
	runQuality = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "runs",
			Name:      "quality_score",
			Help:      "Aggregated quality score of completed runs",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"workflow"},
	)

	// stageDuration tracks per-stage execution time.
	// Labels: role (leading, intermediate, terminal), status
	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "stages",
			Name:      "duration_seconds",
			Help:      "Duration of individual pipeline stages in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"role", "status"},
	)

	// validationFailures counts failed validation checks by rule.
	validationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "validation",
			Name:      "failures_total",
			Help:      "Total number of failed hop validation checks",
		},
		[]string{"rule"},
	)
)

// observeResult records a finished run into the Prometheus metrics.
func observeResult(workflow string, res *pipeline.Result) {
	runsActive.Dec()
	if res == nil {
		return
	}

	runsTotal.WithLabelValues(workflow, string(res.Status)).Inc()
	runDuration.WithLabelValues(workflow).Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())

	if res.Completed() {
		runQuality.WithLabelValues(workflow).Observe(res.QualityScore)
	} else {
		runAborts.WithLabelValues(string(res.AbortReason)).Inc()
	}

	for _, stage := range res.Stages {
		stageDuration.WithLabelValues(string(stage.Role), string(stage.Status)).Observe(stage.Duration.Seconds())
		for _, rec := range stage.ValidationRecords {
			if rec.Outcome == pipeline.OutcomeFailed {
				validationFailures.WithLabelValues(rec.Rule).Inc()
			}
		}
	}
}
