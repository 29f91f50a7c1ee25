// Package telemetry wires relayd's OTLP export pipeline: traces,
// metrics, and logs through a single collector endpoint.
//
// Telemetry is disabled by default and everything stays usable without
// it: Tracer and Meter hand back the otel globals (no-op unless
// something else installed providers) and LoggerProvider returns nil,
// which internal/logging reads as "no OTLP log output".
//
// When enabled, New installs global tracer and meter providers plus
// W3C trace-context propagation, so instrumented code can use
// otel.Tracer directly. Exporters dial lazily; a collector that is
// down at startup does not fail New. Export failures surface later
// through Status, which /healthz includes:
//
//	{"enabled": true, "degraded": true, "reason": "..."}
//
// Run-level instruments live in RunMetrics. Tests assert on spans and
// metrics through NewTestTelemetry, which swaps the OTLP exporters for
// in-memory recorders.
package telemetry
