package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relay/internal/config"
	"github.com/fyrsmithlabs/relay/internal/events"
	"github.com/fyrsmithlabs/relay/internal/logging"
	"github.com/fyrsmithlabs/relay/internal/runstore"
	"github.com/fyrsmithlabs/relay/internal/telemetry"
	"github.com/fyrsmithlabs/relay/pkg/agents"
	"github.com/fyrsmithlabs/relay/pkg/factcheck"
	"github.com/fyrsmithlabs/relay/pkg/pipeline"
)

// ErrUnknownWorkflow is returned when a run names a workflow the runner
// does not provide.
var ErrUnknownWorkflow = errors.New("unknown workflow")

// tracerScope is the instrumentation scope of the runner's spans.
const tracerScope = "relay/server"

// WorkflowFactory builds a fresh stage trio for one run. Factories are
// called once per run so concurrent runs never share layer state.
type WorkflowFactory func() (pipeline.Layer, pipeline.Layer, pipeline.Layer, error)

// Runner launches workflow runs in the background.
//
// Every run gets a fresh orchestrator and a fresh layer trio, so
// concurrent runs never share engine state. Results land in the run
// store; state transitions fan out to the event publisher and metrics.
type Runner struct {
	cfg     *config.Config
	store   *runstore.Store
	pub     *events.Publisher
	metrics *telemetry.RunMetrics
	tracer  trace.Tracer
	logger  *logging.Logger

	// workflow settings are swappable at runtime via SetWorkflowConfig
	workflow atomic.Pointer[config.WorkflowConfig]

	mu        sync.RWMutex
	factories map[string]WorkflowFactory

	wg sync.WaitGroup
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithPublisher sets the run event publisher.
func WithPublisher(pub *events.Publisher) RunnerOption {
	return func(r *Runner) {
		r.pub = pub
	}
}

// WithRunMetrics sets the run metrics recorder.
func WithRunMetrics(m *telemetry.RunMetrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithRunnerTelemetry sets the tracer runs are traced with. The
// default traces through the otel globals.
func WithRunnerTelemetry(tel *telemetry.Telemetry) RunnerOption {
	return func(r *Runner) {
		r.tracer = tel.Tracer(tracerScope)
	}
}

// WithRunnerLogger sets the runner logger. The default discards
// everything.
func WithRunnerLogger(l *logging.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner creates a runner over the given run store. The built-in
// factcheck workflow is always registered; callers add their own with
// RegisterWorkflow.
func NewRunner(cfg *config.Config, store *runstore.Store, opts ...RunnerOption) *Runner {
	r := &Runner{
		cfg:       cfg,
		store:     store,
		tracer:    otel.Tracer(tracerScope),
		logger:    logging.NewNop(),
		factories: make(map[string]WorkflowFactory),
	}
	wf := cfg.Workflow
	r.workflow.Store(&wf)
	r.factories[factcheck.WorkflowName] = r.factcheckLayers
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterWorkflow adds a named workflow. Names must be unique; the
// built-in names are taken.
func (r *Runner) RegisterWorkflow(name string, factory WorkflowFactory) error {
	if name == "" {
		return fmt.Errorf("register workflow: empty name")
	}
	if factory == nil {
		return fmt.Errorf("register workflow %s: nil factory", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("register workflow %s: already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Workflows lists the workflow names this runner can launch, sorted.
func (r *Runner) Workflows() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Store returns the run store runs are recorded in.
func (r *Runner) Store() *runstore.Store {
	return r.store
}

// SetWorkflowConfig swaps the engine-level run settings. Runs launched
// after the call use the new budgets; in-flight runs keep theirs.
func (r *Runner) SetWorkflowConfig(wf config.WorkflowConfig) {
	r.workflow.Store(&wf)
}

// workflowConfig returns the current engine-level run settings.
func (r *Runner) workflowConfig() config.WorkflowConfig {
	return *r.workflow.Load()
}

// Launch registers a new run and executes it in the background. The
// returned record carries the assigned run ID; the caller polls the
// store or subscribes to run events for progress.
func (r *Runner) Launch(ctx context.Context, workflow string, request map[string]any) (*runstore.Record, error) {
	if workflow == "" {
		workflow = factcheck.WorkflowName
	}
	r.mu.RLock()
	factory, ok := r.factories[workflow]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, workflow)
	}

	runID := uuid.New().String()
	rec := r.store.Create(runID, workflow, request)

	if err := r.pub.RunStarted(ctx, runID, workflow, request); err != nil {
		r.logger.Warn(ctx, "failed to publish run start",
			zap.String("run_id", runID), zap.Error(err))
	}
	r.metrics.RunStarted(ctx)
	runsActive.Inc()

	r.wg.Add(1)
	go r.execute(runID, workflow, factory, request)

	return rec, nil
}

// Drain blocks until all in-flight runs finish or ctx expires.
func (r *Runner) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain: %w", ctx.Err())
	}
}

// execute drives one run to completion. It runs detached from the HTTP
// request that launched it; the run budget is the only deadline.
func (r *Runner) execute(runID, workflow string, factory WorkflowFactory, request map[string]any) {
	defer r.wg.Done()

	ctx := logging.WithRunID(context.Background(), runID)
	ctx = logging.WithWorkflow(ctx, workflow)

	var cancel context.CancelFunc
	if budget := r.workflowConfig().MaxRunDuration.Duration(); budget > 0 {
		ctx, cancel = context.WithTimeout(ctx, budget)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	// The span context rides ctx into the engine, so every log line of
	// the run carries the trace and span IDs.
	ctx, span := r.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("relay.run_id", runID),
		attribute.String("relay.workflow", workflow),
	))
	defer span.End()

	orch, err := r.buildOrchestrator(ctx, runID, factory)
	if err != nil {
		r.logger.Error(ctx, "failed to build workflow", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "workflow construction failed")
		r.finish(ctx, runID, workflow, abortedResult(runID))
		return
	}

	res, err := orch.Execute(ctx, request)
	if err != nil {
		r.logger.Warn(ctx, "run aborted",
			zap.String("reason", string(res.AbortReason)), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(res.AbortReason))
	} else {
		span.SetAttributes(attribute.Float64("relay.quality", res.QualityScore))
	}
	r.finish(ctx, runID, workflow, res)
}

// finish records the result everywhere a finished run is visible.
func (r *Runner) finish(ctx context.Context, runID, workflow string, res *pipeline.Result) {
	if err := r.store.Finish(runID, res); err != nil {
		r.logger.Error(ctx, "failed to store run result", zap.Error(err))
	}
	if err := r.pub.RunFinished(ctx, res); err != nil {
		r.logger.Warn(ctx, "failed to publish run result", zap.Error(err))
	}
	r.metrics.RecordResult(ctx, res)
	observeResult(workflow, res)
}

// buildOrchestrator assembles a fresh engine for one run.
func (r *Runner) buildOrchestrator(ctx context.Context, runID string, factory WorkflowFactory) (*pipeline.Orchestrator, error) {
	leading, intermediate, terminal, err := factory()
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithRunID(runID),
		pipeline.WithLogger(r.logger.Underlying()),
		pipeline.WithObserver(r.observer(ctx)),
	}
	if r.workflowConfig().QualityPolicy == config.QualityPolicyWeighted {
		weighted, err := pipeline.NewWeightedQuality(nil)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithQualityPolicy(weighted))
	}

	return pipeline.New(leading, intermediate, terminal, opts...)
}

// factcheckLayers builds the built-in workflow's stage trio, remote when
// agent endpoints are configured and local otherwise.
func (r *Runner) factcheckLayers() (pipeline.Layer, pipeline.Layer, pipeline.Layer, error) {
	stageTimeout := r.workflowConfig().StageTimeout.Duration()

	if r.cfg.Agents.Enabled {
		var expOpts []pipeline.ExpectationOption
		if stageTimeout > 0 {
			expOpts = append(expOpts, pipeline.WithMaxStageDuration(stageTimeout))
		}

		leading, err := factcheck.AuditorExpectation(expOpts...)
		if err != nil {
			return nil, nil, nil, err
		}
		intermediate, err := factcheck.CriticExpectation(expOpts...)
		if err != nil {
			return nil, nil, nil, err
		}
		terminal, err := factcheck.ReviserExpectation(expOpts...)
		if err != nil {
			return nil, nil, nil, err
		}

		trio := agents.TrioConfig{
			Leading:      r.cfg.Agents.Leading,
			Intermediate: r.cfg.Agents.Intermediate,
			Terminal:     r.cfg.Agents.Terminal,
		}
		return agents.NewTrio(trio, leading, intermediate, terminal)
	}

	return factcheck.NewLayers(factcheck.WithStageTimeout(stageTimeout))
}

// observer fans engine transitions out to the store, the event
// publisher, and metrics.
func (r *Runner) observer(ctx context.Context) pipeline.Observer {
	observers := []pipeline.Observer{
		r.store.Observer(),
		r.pub.Observer(ctx),
		r.metrics.Observer(),
	}
	return func(ev pipeline.Event) {
		for _, obs := range observers {
			obs(ev)
		}
	}
}

// abortedResult synthesizes a result for a run that failed before the
// engine could start.
func abortedResult(runID string) *pipeline.Result {
	now := time.Now()
	return &pipeline.Result{
		RunID:       runID,
		Status:      pipeline.RunAborted,
		AbortReason: pipeline.AbortInternalError,
		StartedAt:   now,
		FinishedAt:  now,
	}
}
