// Command generate_metrics serves synthetic relayd metrics so Grafana
// dashboards can be developed without driving real workflow runs.
//
// Series names and label values match what relayd exports on /metrics;
// point Prometheus at this process instead of a live daemon:
//
//	go run grafana/testdata/generate_metrics.go -addr :9431
package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay", Subsystem: "runs", Name: "active",
		Help: "Number of workflow runs currently in flight",
	})
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay", Subsystem: "runs", Name: "total",
		Help: "Total number of finished workflow runs",
	}, []string{"workflow", "status"})
	runAborts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay", Subsystem: "runs", Name: "aborts_total",
		Help: "Total number of aborted runs by abort reason",
	}, []string{"reason"})
	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relay", Subsystem: "runs", Name: "duration_seconds",
		Help:    "End-to-end duration of workflow runs in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"workflow"})
	runQuality = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relay", Subsystem: "runs", Name: "quality_score",
		Help:    "Aggregated quality score of completed runs",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	}, []string{"workflow"})
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relay", Subsystem: "stages", Name: "duration_seconds",
		Help:    "Duration of individual pipeline stages in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"role", "status"})
	validationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay", Subsystem: "validation", Name: "failures_total",
		Help: "Total number of failed hop validation checks",
	}, []string{"rule"})
)

var (
	workflows = []string{"factcheck", "summarize", "triage"}
	roles     = []string{"leading", "intermediate", "terminal"}
	reasons   = []string{
		"precondition_failed", "contract_violation", "timeout",
		"internal_error", "remote_unreachable", "adapter_translation",
	}
	rules = []string{"claims_present", "min_confidence"}
)

// simulateRun walks one synthetic run through the three stages and
// records the same observations relayd would.
func simulateRun() {
	workflow := pick(workflows)
	runsActive.Inc()

	var total float64
	for i, role := range roles {
		d := 0.2 + rand.Float64()*2.5
		total += d

		// A hop occasionally fails validation and aborts the run.
		if i > 0 && rand.Float64() < 0.06 {
			validationFailures.WithLabelValues(pick(rules)).Inc()
			stageDuration.WithLabelValues(role, "failed").Observe(d)
			runsActive.Dec()
			runsTotal.WithLabelValues(workflow, "aborted").Inc()
			runAborts.WithLabelValues(pick(reasons)).Inc()
			runDuration.WithLabelValues(workflow).Observe(total)
			return
		}
		stageDuration.WithLabelValues(role, "succeeded").Observe(d)
	}

	runsActive.Dec()
	runsTotal.WithLabelValues(workflow, "completed").Inc()
	runDuration.WithLabelValues(workflow).Observe(total)
	runQuality.WithLabelValues(workflow).Observe(0.55 + rand.Float64()*0.45)
}

func pick(choices []string) string {
	return choices[rand.Intn(len(choices))]
}

func main() {
	addr := flag.String("addr", ":9431", "listen address for the /metrics endpoint")
	interval := flag.Duration("interval", 2*time.Second, "delay between simulated run batches")
	backfill := flag.Int("backfill", 300, "runs to simulate at startup so panels have history")
	flag.Parse()

	for i := 0; i < *backfill; i++ {
		simulateRun()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for i := 0; i < 1+rand.Intn(3); i++ {
					simulateRun()
				}
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("serving synthetic relayd metrics on %s/metrics", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
