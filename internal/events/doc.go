// Package events publishes run lifecycle events to NATS.
//
// # Overview
//
// Every workflow run emits a stream of events that the HTTP server bridges
// to SSE clients and the terminal monitor renders live. Events are published
// to per-run subjects:
//
//   - runs.{run_id}.started    run accepted, request payload attached
//   - runs.{run_id}.stage      orchestrator state transition
//   - runs.{run_id}.completed  run finished, final output attached
//   - runs.{run_id}.aborted    run aborted, reason attached
//
// Subscribers use runs.{run_id}.* to follow a single run or runs.> to
// follow everything.
//
// # Redaction
//
// Request and final output payloads pass through the secret redactor
// before publishing. NATS subjects are observable infrastructure; raw
// payloads never leave the process unmasked.
//
// # Usage
//
//	nc, err := events.Connect(cfg.Events)
//	if err != nil { ... }
//	pub := events.NewPublisher(nc, events.WithRedactor(redactor))
//
//	pub.RunStarted(ctx, runID, "factcheck", request)
//	orch, _ := pipeline.New(l, i, t, pipeline.WithObserver(pub.Observer(ctx)))
//	res, _ := orch.Execute(ctx, request)
//	pub.RunFinished(ctx, res)
//
// Publish failures are logged and never abort a run; the event stream is
// best-effort while the Result remains authoritative.
package events
