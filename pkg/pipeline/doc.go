// Package pipeline implements a three-stage agent workflow engine with
// enforced data contracts between stages.
//
// # Overview
//
// A pipeline moves a workflow request through exactly three layers,
// leading, intermediate, and terminal, in that order. Every hop between
// layers travels in a directional Buffer that must validate against the
// downstream layer's Expectation before the downstream layer may consume
// it. Validation is structural and rule-based; the engine never inspects
// payload semantics.
//
// # Architecture
//
// Execution is a fixed state machine:
//
//	Idle → RunningLeading → ValidatingToIntermediate → RunningIntermediate
//	     → ValidatingToTerminal → RunningTerminal → Completed
//
// Aborted is reachable from every running and validating state. A run
// aborts on a failed readiness check (precondition_failed, before any
// stage executes), a failed hop validation (contract_violation), a stage
// error (internal_error, remote_unreachable, adapter_translation), an
// exceeded stage budget (timeout), or caller cancellation (canceled).
//
// # Key Components
//
// ## Expectation
//
// The immutable contract a layer declares: input and output schemas,
// validation rules, quality gates, and the stage time budget. Built once
// through NewExpectation; accessors return copies.
//
// ## Buffer
//
// The carrier for one hop between adjacent layers. Buffers accumulate
// append-only validation records, must pass validation exactly once
// before consumption, and never have their payload rewritten. Validation
// order is fixed: input schema, then quality gates, then rules in
// declaration order. A failed fatal rule skips the rules behind it;
// non-fatal failures keep evaluating so diagnostics accumulate.
//
// ## Layer
//
// The stage contract. Implementations hold only domain logic; BindInput
// and EmitOutput keep the buffer mechanics in the engine. Remote agents
// are placed behind this same interface by adapter packages.
//
// ## Orchestrator
//
// Drives one run at a time through the state machine. No internal
// retries: a failed stage aborts the run and retry policy stays with the
// caller or inside adapters. Concurrent runs need separate orchestrator
// instances with separate layer values.
//
// # Usage Example
//
//	leading, _ := pipeline.NewLayerFunc(leadingContract, extractClaims, nil)
//	intermediate, _ := pipeline.NewLayerFunc(intermediateContract, verifyClaims, nil)
//	terminal, _ := pipeline.NewLayerFunc(terminalContract, reviseAnswer, nil)
//
//	orch, err := pipeline.New(leading, intermediate, terminal,
//	    pipeline.WithLogger(logger),
//	    pipeline.WithQualityPolicy(pipeline.MinimumQuality{}),
//	)
//	if err != nil {
//	    return err
//	}
//	result, err := orch.Execute(ctx, map[string]any{"question": q, "answer": a})
//
// # Design Decisions
//
// 1. Engine-Owned Buffers: layers transform payloads; the engine builds,
// validates, and consumes buffers. This keeps layer implementations
// trivial to test and makes the validate-before-consume invariant
// impossible to bypass from a layer.
//
// 2. Target-Side Validation: a hop buffer validates against the
// consuming layer's contract. The producing layer's output schema is
// checked at emission, so a misbehaving producer is caught before its
// buffer ever reaches the validator.
//
// 3. Quality as Policy: the run quality score is a deterministic
// aggregation of the scores observed at validated hops and in the final
// output. MinimumQuality is the default; WeightedQuality is available
// where later stages should dominate.
//
// 4. No Engine Retries: transient-failure handling belongs to adapters
// at the boundary to a remote agent, where the failure is visible and
// classifiable. The engine sees exactly one Process call per stage.
package pipeline
