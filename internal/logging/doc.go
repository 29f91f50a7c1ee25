// Package logging wraps zap for relayd: context correlation, secret
// redaction, sampling, and an OTLP log bridge.
//
// A Logger takes a context on every call and stamps entries with the
// active span's trace and span ids plus the run id, workflow, and
// stage placed there by the run launcher:
//
//	ctx := logging.WithRunID(ctx, runID)
//	ctx = logging.WithWorkflow(ctx, "factcheck")
//	logger.Info(ctx, "stage finished", zap.Duration("duration", d))
//
//	{"ts":"2026-08-25T10:15:30Z","level":"info","msg":"stage finished",
//	 "trace_id":"4bf9...","run.id":"3f2c9d81-...","workflow":"factcheck",
//	 "duration":"45ms"}
//
// Output goes to stdout and, when the daemon runs with telemetry
// enabled, through the otelzap bridge to the OTLP log exporter.
//
// Field values under sensitive keys (password, token, api_key, ...)
// and string values matching credential patterns are masked on the
// stdout encoder. This is a last line of defense for log fields; run
// payloads get gitleaks-based masking in pkg/redact before they are
// published or persisted.
//
// Sampling applies to the stdout core only and never drops entries at
// Error or above. Disable it when debugging:
//
//	cfg := logging.NewDefaultConfig()
//	cfg.Sampling.Enabled = false
//
// The package adds a "trace" level below debug for wire-level detail;
// LevelFromString accepts it alongside the standard names.
package logging
