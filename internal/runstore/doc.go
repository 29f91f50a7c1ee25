// Package runstore tracks workflow runs in memory with JSON snapshots
// on disk.
//
// # Overview
//
// The store holds every in-flight run plus a bounded history of finished
// ones. The HTTP server reads it to answer run queries; the orchestrator
// feeds it through an observer so stored state tracks the live state
// machine.
//
// Finished runs beyond the history limit are evicted from memory oldest
// first. In-flight runs are never evicted. When a snapshot directory is
// configured each finished run is also written to {run_id}.json with an
// atomic temp-file rename, and those files outlive eviction as an
// on-disk archive.
//
// # Usage
//
//	store, err := runstore.New(cfg.Runs, runstore.WithRedactor(redactor))
//	if err != nil { ... }
//	if _, err := store.LoadSnapshots(ctx); err != nil { ... }
//
//	store.Create(runID, "factcheck", request)
//	orch, _ := pipeline.New(l, i, t, pipeline.WithObserver(store.Observer()))
//	res, err := orch.Execute(ctx, request)
//	store.Finish(runID, res)
//
// # Redaction
//
// Request and final output payloads pass through the secret redactor
// before they are stored or snapshotted. Reads return copies, so callers
// can never mutate store state through a returned record.
package runstore
