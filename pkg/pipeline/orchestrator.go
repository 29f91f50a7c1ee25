package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event reports an orchestrator state transition to the run observer.
// Stage is set when the transition closes out a stage.
type Event struct {
	RunID string       `json:"run_id"`
	State State        `json:"state"`
	Stage *StageRecord `json:"stage,omitempty"`
}

// Observer receives state transition events during a run. Observers run
// synchronously on the engine goroutine and must not block.
type Observer func(Event)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger for run and stage transitions.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source used for stage timing.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithQualityPolicy sets the aggregation policy for the run quality
// score. The default is MinimumQuality.
func WithQualityPolicy(policy QualityPolicy) Option {
	return func(o *Orchestrator) {
		if policy != nil {
			o.quality = policy
		}
	}
}

// WithObserver sets the state transition observer.
func WithObserver(observer Observer) Option {
	return func(o *Orchestrator) {
		o.observer = observer
	}
}

// WithRunID preassigns the run identifier for the next Execute call.
// Callers that register a run before executing it use this to keep
// their identifier; the default is a fresh UUID per run.
func WithRunID(id string) Option {
	return func(o *Orchestrator) {
		o.runID = id
	}
}

// Orchestrator drives one workflow at a time through the three stages,
// validating every hop against the downstream layer's contract.
//
// A run is strictly sequential: leading, validate, intermediate,
// validate, terminal. There are no internal retries; a failed stage or
// hop aborts the run and the caller decides whether to run again.
// An instance executes one run at a time. Concurrent runs need separate
// instances with separate layer values.
type Orchestrator struct {
	leading      Layer
	intermediate Layer
	terminal     Layer

	logger   *zap.Logger
	clock    func() time.Time
	quality  QualityPolicy
	observer Observer
	runID    string

	state   State
	running atomic.Bool
}

// New builds an orchestrator over the three layers. Each layer must
// occupy its declared role.
func New(leading, intermediate, terminal Layer, opts ...Option) (*Orchestrator, error) {
	for _, check := range []struct {
		layer Layer
		role  Role
	}{
		{leading, RoleLeading},
		{intermediate, RoleIntermediate},
		{terminal, RoleTerminal},
	} {
		if check.layer == nil {
			return nil, fmt.Errorf("nil %s layer", check.role)
		}
		if check.layer.Role() != check.role {
			return nil, fmt.Errorf("%s layer declares role %s", check.role, check.layer.Role())
		}
		if check.layer.Expectation() == nil {
			return nil, fmt.Errorf("%s layer has no expectation", check.role)
		}
	}

	o := &Orchestrator{
		leading:      leading,
		intermediate: intermediate,
		terminal:     terminal,
		logger:       zap.NewNop(),
		clock:        time.Now,
		quality:      MinimumQuality{},
		state:        StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// State returns the current execution state.
func (o *Orchestrator) State() State { return o.state }

// run tracks everything a single execution accumulates.
type run struct {
	id      string
	result  *Result
	samples []QualitySample
}

// Execute runs the workflow request through the pipeline and returns the
// result. The result is always non-nil and carries the execution log up
// to the point the run ended; the error is non-nil exactly when the run
// aborted, wrapping the typed cause.
//
// Readiness is checked on all three layers up front. Any failure aborts
// with reason precondition_failed before any Process call.
func (o *Orchestrator) Execute(ctx context.Context, request map[string]any) (*Result, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrRunInFlight
	}
	defer o.running.Store(false)

	runID := o.runID
	if runID == "" {
		runID = uuid.New().String()
	}
	r := &run{
		id: runID,
		result: &Result{
			RunID:     runID,
			Status:    RunAborted,
			StartedAt: o.clock(),
		},
	}

	o.logger.Info("workflow run starting", zap.String("run_id", runID))

	if err := o.checkPreconditions(ctx, r); err != nil {
		return o.abort(r, AbortPreconditionFailed, err)
	}

	// Leading stage consumes the workflow request directly; there is no
	// inbound buffer for the first stage.
	leadingOut, err := o.runStage(ctx, r, o.leading, request)
	if err != nil {
		return o.abort(r, classifyStageError(err), err)
	}

	toIntermediate, err := o.validateHop(ctx, r, o.leading, o.intermediate, leadingOut)
	if err != nil {
		return o.abortOnHop(r, err)
	}

	intermediateIn, err := BindInput(o.intermediate, toIntermediate)
	if err != nil {
		return o.abort(r, AbortContractViolation, err)
	}
	intermediateOut, err := o.runStage(ctx, r, o.intermediate, intermediateIn)
	if err != nil {
		return o.abort(r, classifyStageError(err), err)
	}

	toTerminal, err := o.validateHop(ctx, r, o.intermediate, o.terminal, intermediateOut)
	if err != nil {
		return o.abortOnHop(r, err)
	}

	terminalIn, err := BindInput(o.terminal, toTerminal)
	if err != nil {
		return o.abort(r, AbortContractViolation, err)
	}
	finalOutput, err := o.runStage(ctx, r, o.terminal, terminalIn)
	if err != nil {
		return o.abort(r, classifyStageError(err), err)
	}

	// The terminal stage has no outbound hop; its payload is checked
	// against its own output schema and becomes the final output.
	now := o.clock()
	if records := checkOutputSchema(o.terminal, finalOutput, now); records != nil {
		violation := &ContractViolation{Source: RoleTerminal, Target: RoleTerminal, Records: records}
		o.attachRecords(r, RoleTerminal, records)
		return o.abort(r, AbortContractViolation, violation)
	}
	if sample, ok := sampleQuality(RoleTerminal, finalOutput); ok {
		r.samples = append(r.samples, sample)
	}

	r.result.Status = RunCompleted
	r.result.AbortReason = ""
	r.result.FinalOutput = finalOutput
	r.result.QualityScore = o.quality.Aggregate(r.samples)
	r.result.FinishedAt = o.clock()
	o.transition(r, StateCompleted, r.lastStage())

	o.logger.Info("workflow run completed",
		zap.String("run_id", r.id),
		zap.Float64("quality_score", r.result.QualityScore),
		zap.Duration("duration", r.result.FinishedAt.Sub(r.result.StartedAt)),
	)
	return r.result, nil
}

// checkPreconditions runs readiness checks on all three layers before
// any stage executes.
func (o *Orchestrator) checkPreconditions(ctx context.Context, r *run) error {
	for _, layer := range []Layer{o.leading, o.intermediate, o.terminal} {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := layer.CheckReadiness(ctx); err != nil {
			return &PreconditionError{Role: layer.Role(), Err: err}
		}
	}
	return nil
}

// runStage executes one layer with its stage input, recording duration
// and enforcing the stage's maximum duration.
func (o *Orchestrator) runStage(ctx context.Context, r *run, layer Layer, input map[string]any) (map[string]any, error) {
	role := layer.Role()

	if err := ctx.Err(); err != nil {
		return nil, &StageError{Role: role, Reason: AbortCanceled, Err: err}
	}
	o.transition(r, runningState(role), nil)

	stageCtx := ctx
	maxDuration := layer.Expectation().Constraints().MaxDuration
	if maxDuration > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, maxDuration)
		defer cancel()
	}

	started := o.clock()
	output, err := layer.Process(stageCtx, input)
	elapsed := o.clock().Sub(started)

	record := StageRecord{
		Role:      role,
		Status:    StageSucceeded,
		StartedAt: started,
		Duration:  elapsed,
	}

	// A stage that returns in time but past its budget still failed its
	// performance constraint.
	if err == nil && maxDuration > 0 && elapsed > maxDuration {
		err = NewStageTimeout(role, fmt.Errorf("stage ran %v, budget %v", elapsed, maxDuration))
	}
	if err != nil {
		if stageCtx.Err() != nil && ctx.Err() == nil {
			err = NewStageTimeout(role, err)
		}
		record.Status = StageFailed
		record.Error = err.Error()
		r.result.Stages = append(r.result.Stages, record)
		o.logger.Warn("stage failed",
			zap.String("run_id", r.id),
			zap.String("role", string(role)),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return nil, err
	}

	r.result.Stages = append(r.result.Stages, record)
	o.logger.Debug("stage completed",
		zap.String("run_id", r.id),
		zap.String("role", string(role)),
		zap.Duration("duration", elapsed),
	)
	return output, nil
}

// validateHop emits the source stage's output buffer and validates it
// against the target layer's contract. The hop's validation records are
// attached to the source stage's record whether or not they pass.
func (o *Orchestrator) validateHop(ctx context.Context, r *run, source, target Layer, payload map[string]any) (*Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, &StageError{Role: source.Role(), Reason: AbortCanceled, Err: err}
	}
	o.transition(r, validatingState(target.Role()), r.lastStage())

	buf, err := EmitOutput(source, payload, r.id)
	if err != nil {
		var violation *ContractViolation
		if errors.As(err, &violation) {
			o.attachRecords(r, source.Role(), violation.Records)
		}
		return nil, err
	}

	passed, err := buf.Validate(target.Expectation())
	if err != nil {
		return nil, fmt.Errorf("validate %s hop: %w", target.Role(), err)
	}
	o.attachRecords(r, source.Role(), buf.Records())
	if !passed {
		return nil, &ContractViolation{
			Source:  source.Role(),
			Target:  target.Role(),
			Records: buf.Records(),
		}
	}

	if sample, ok := sampleQuality(source.Role(), payload); ok {
		r.samples = append(r.samples, sample)
	}
	return buf, nil
}

// attachRecords appends hop validation records to the producing stage's
// execution log entry.
func (o *Orchestrator) attachRecords(r *run, role Role, records []ValidationRecord) {
	if stage := r.result.Stage(role); stage != nil {
		stage.ValidationRecords = append(stage.ValidationRecords, records...)
	}
}

// abortOnHop maps a hop failure onto the right abort reason: contract
// violations keep their default reason, canceled contexts and stage
// errors keep theirs.
func (o *Orchestrator) abortOnHop(r *run, err error) (*Result, error) {
	var violation *ContractViolation
	if errors.As(err, &violation) {
		return o.abort(r, AbortContractViolation, err)
	}
	return o.abort(r, classifyStageError(err), err)
}

// abort finalizes the run as aborted with the given reason. The result
// keeps the stages executed so far and carries no final output.
func (o *Orchestrator) abort(r *run, reason AbortReason, cause error) (*Result, error) {
	r.result.Status = RunAborted
	r.result.AbortReason = reason
	r.result.FinalOutput = nil
	r.result.FinishedAt = o.clock()
	o.transition(r, StateAborted, r.lastStage())

	o.logger.Warn("workflow run aborted",
		zap.String("run_id", r.id),
		zap.String("reason", string(reason)),
		zap.Error(cause),
	)
	return r.result, fmt.Errorf("workflow run %s aborted (%s): %w", r.id, reason, cause)
}

// transition moves the state machine and notifies the observer. Stage
// carries the record just closed, when the transition closes one.
func (o *Orchestrator) transition(r *run, next State, stage *StageRecord) {
	o.state = next
	if o.observer != nil {
		o.observer(Event{RunID: r.id, State: next, Stage: stage})
	}
}

// lastStage returns the most recently closed stage record, or nil.
func (r *run) lastStage() *StageRecord {
	if len(r.result.Stages) == 0 {
		return nil
	}
	return &r.result.Stages[len(r.result.Stages)-1]
}
