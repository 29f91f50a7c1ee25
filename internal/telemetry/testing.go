package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry is a Telemetry whose exporters are swapped for
// in-memory recorders, so tests can assert on spans and metrics
// without a collector.
type TestTelemetry struct {
	*Telemetry

	SpanRecorder *tracetest.SpanRecorder
	Metrics      *MetricRecorder
}

// NewTestTelemetry builds an enabled instance backed by a span
// recorder and a manual metric reader. It does not touch the otel
// globals.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	spans := tracetest.NewSpanRecorder()
	metrics := &MetricRecorder{reader: sdkmetric.NewManualReader()}

	return &TestTelemetry{
		Telemetry: &Telemetry{
			config:         cfg,
			tracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)),
			meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(metrics.reader)),
		},
		SpanRecorder: spans,
		Metrics:      metrics,
	}
}

// Spans returns every ended span in recording order.
func (t *TestTelemetry) Spans() []sdktrace.ReadOnlySpan {
	return t.SpanRecorder.Ended()
}

// SpanByName returns the first ended span with the given name, or nil.
func (t *TestTelemetry) SpanByName(name string) sdktrace.ReadOnlySpan {
	for _, span := range t.Spans() {
		if span.Name() == name {
			return span
		}
	}
	return nil
}

// AssertSpanExists fails the test when no span with the given name was
// recorded.
func (t *TestTelemetry) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	if t.SpanByName(name) != nil {
		return
	}
	var names []string
	for _, span := range t.Spans() {
		names = append(names, span.Name())
	}
	tb.Errorf("no span named %q; recorded spans: %v", name, names)
}

// AssertSpanAttribute fails the test when the named span is missing or
// carries a different value under the attribute key.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, spanName, key string, want any) {
	tb.Helper()
	span := t.SpanByName(spanName)
	if span == nil {
		tb.Fatalf("no span named %q", spanName)
	}
	for _, attr := range span.Attributes() {
		if string(attr.Key) != key {
			continue
		}
		if got := attr.Value.AsInterface(); got != want {
			tb.Errorf("span %q attribute %q = %v, want %v", spanName, key, got, want)
		}
		return
	}
	tb.Errorf("span %q has no attribute %q", spanName, key)
}

// MetricRecorder collects instrument state on demand through a manual
// reader.
type MetricRecorder struct {
	reader *sdkmetric.ManualReader
}

// Collect gathers the current cumulative state of all instruments.
func (r *MetricRecorder) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	err := r.reader.Collect(ctx, &rm)
	return rm, err
}

// Names collects and returns the instrument names with recorded data.
func (r *MetricRecorder) Names(ctx context.Context) ([]string, error) {
	rm, err := r.Collect(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			names = append(names, m.Name)
		}
	}
	return names, nil
}

// Find collects and returns the named metric, or false if nothing was
// recorded under that name.
func (r *MetricRecorder) Find(ctx context.Context, name string) (metricdata.Metrics, bool, error) {
	rm, err := r.Collect(ctx)
	if err != nil {
		return metricdata.Metrics{}, false, err
	}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == name {
				return m, true, nil
			}
		}
	}
	return metricdata.Metrics{}, false, nil
}
