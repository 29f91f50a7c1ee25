package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relay/internal/config"
	"github.com/fyrsmithlabs/relay/internal/logging"
	"github.com/fyrsmithlabs/relay/pkg/pipeline"
	"github.com/fyrsmithlabs/relay/pkg/redact"
)

// Connect dials the NATS server from config. The connection retries on
// startup so relayd can come up before the broker does.
func Connect(cfg config.EventsConfig) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait.Duration()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// Publisher publishes run lifecycle events to NATS.
//
// A nil Publisher is valid and publishes nothing, so callers can wire it
// unconditionally and leave events disabled by configuration.
type Publisher struct {
	nc       *nats.Conn
	redactor *redact.Redactor
	logger   *logging.Logger
	clock    func() time.Time
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithRedactor masks secrets in request and final output payloads before
// they are published.
func WithRedactor(r *redact.Redactor) Option {
	return func(p *Publisher) {
		p.redactor = r
	}
}

// WithLogger sets the logger for publish failures.
func WithLogger(l *logging.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(p *Publisher) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// NewPublisher creates a publisher over an established NATS connection.
func NewPublisher(nc *nats.Conn, opts ...Option) *Publisher {
	p := &Publisher{
		nc:     nc,
		logger: logging.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunStarted publishes the started event for a newly accepted run.
func (p *Publisher) RunStarted(ctx context.Context, runID, workflow string, request map[string]any) error {
	if p == nil {
		return nil
	}

	payload, _ := p.redactPayload(request)
	ev := StartedEvent{
		RunID:     runID,
		Workflow:  workflow,
		Request:   payload,
		Timestamp: p.clock(),
	}
	return p.publish(ctx, RunSubject(runID, EventStarted), ev)
}

// Transition publishes one orchestrator state transition as a stage event.
func (p *Publisher) Transition(ctx context.Context, ev pipeline.Event) error {
	if p == nil {
		return nil
	}

	return p.publish(ctx, RunSubject(ev.RunID, EventStage), StageEvent{
		RunID:     ev.RunID,
		State:     ev.State,
		Stage:     ev.Stage,
		Timestamp: p.clock(),
	})
}

// RunFinished publishes the completed or aborted event for a finished run.
func (p *Publisher) RunFinished(ctx context.Context, res *pipeline.Result) error {
	if p == nil || res == nil {
		return nil
	}

	output, redactions := p.redactPayload(res.FinalOutput)
	ev := FinishedEvent{
		RunID:        res.RunID,
		Status:       res.Status,
		AbortReason:  res.AbortReason,
		QualityScore: res.QualityScore,
		FinalOutput:  output,
		DurationMS:   res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
		Redactions:   redactions,
		Timestamp:    p.clock(),
	}

	event := EventCompleted
	if res.Status == pipeline.RunAborted {
		event = EventAborted
	}
	return p.publish(ctx, RunSubject(res.RunID, event), ev)
}

// Observer adapts the publisher to the orchestrator's observer hook.
// Publish failures are logged, never surfaced; observers must not block
// or fail the run.
func (p *Publisher) Observer(ctx context.Context) pipeline.Observer {
	return func(ev pipeline.Event) {
		if err := p.Transition(ctx, ev); err != nil {
			p.logger.Warn(ctx, "failed to publish stage event",
				zap.String("run_id", ev.RunID),
				zap.String("state", string(ev.State)),
				zap.Error(err))
		}
	}
}

// publish marshals and sends one event.
func (p *Publisher) publish(ctx context.Context, subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.logger.Trace(ctx, "published run event", zap.String("subject", subject))
	return nil
}

// redactPayload masks secrets when a redactor is configured.
func (p *Publisher) redactPayload(payload map[string]any) (map[string]any, int) {
	if p.redactor == nil || payload == nil {
		return payload, 0
	}
	masked, records := p.redactor.RedactPayload(payload)
	return masked, len(records)
}
