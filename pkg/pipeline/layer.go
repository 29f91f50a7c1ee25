package pipeline

import (
	"context"
	"fmt"
	"time"
)

// Layer is the contract every pipeline stage implements, whether it runs
// in-process or wraps a remote agent behind an adapter.
//
// Process receives the stage input as a plain payload and returns the
// stage output. Buffer mechanics stay in the engine: BindInput extracts
// the input from a validated buffer, and EmitOutput wraps the output
// into the next hop's buffer with provenance metadata.
type Layer interface {
	// Role returns the pipeline position this layer occupies.
	Role() Role

	// Expectation returns the immutable contract for this layer.
	Expectation() *Expectation

	// CheckReadiness verifies the layer can accept work. The engine calls
	// it on every layer before any stage runs; a failure aborts the run
	// with no Process call anywhere.
	CheckReadiness(ctx context.Context) error

	// Process transforms the stage input into the stage output. The
	// leading layer receives the workflow request as its input.
	Process(ctx context.Context, input map[string]any) (map[string]any, error)
}

// BindInput hands a validated buffer to its target layer and returns the
// stage input. A buffer aimed at a different layer, an unvalidated or
// failed buffer, and a buffer bound twice are all contract violations
// surfaced as errors.
func BindInput(l Layer, buf *Buffer) (map[string]any, error) {
	if buf == nil {
		return nil, fmt.Errorf("bind input for %s layer: nil buffer", l.Role())
	}
	if buf.Target() != l.Role() {
		return nil, fmt.Errorf("bind input for %s layer: buffer targets %s", l.Role(), buf.Target())
	}
	payload, err := buf.Consume()
	if err != nil {
		return nil, fmt.Errorf("bind input for %s layer: %w", l.Role(), err)
	}
	return payload, nil
}

// EmitOutput wraps a stage's output payload into the outbound buffer.
// The payload is first checked against the producing layer's output
// schema; a mismatch is a ContractViolation and no buffer is produced.
// The buffer carries provenance metadata and the run correlation id.
//
// The terminal layer has no outbound hop; its output goes straight into
// the run result, so calling EmitOutput on it is an error.
func EmitOutput(l Layer, payload map[string]any, runID string) (*Buffer, error) {
	role := l.Role()
	next, ok := role.Next()
	if !ok {
		return nil, fmt.Errorf("emit output: %s layer has no outbound hop", role)
	}

	now := time.Now().UTC()
	if records := checkOutputSchema(l, payload, now); records != nil {
		return nil, &ContractViolation{Source: role, Target: next, Records: records}
	}

	buf, err := NewBuffer(role, next, payload)
	if err != nil {
		return nil, fmt.Errorf("emit output from %s layer: %w", role, err)
	}
	buf.SetMetadata(MetaProducedBy, string(role))
	buf.SetMetadata(MetaProducedAt, now.Format(time.RFC3339Nano))
	buf.SetMetadata(MetaRunID, runID)
	return buf, nil
}

// checkOutputSchema validates payload against the layer's declared
// output schema. It returns nil when the payload conforms, otherwise the
// failing records.
func checkOutputSchema(l Layer, payload map[string]any, now time.Time) []ValidationRecord {
	schema := l.Expectation().OutputSchema()
	if len(schema) == 0 {
		return nil
	}
	records := schema.check(payload, now)
	for _, r := range records {
		if r.Outcome == OutcomeFailed {
			return records
		}
	}
	return nil
}

// LayerFunc adapts plain functions into a Layer. Useful for in-process
// stages and tests; adapters for remote agents implement Layer directly.
type LayerFunc struct {
	exp   *Expectation
	ready func(ctx context.Context) error
	run   func(ctx context.Context, input map[string]any) (map[string]any, error)
}

// NewLayerFunc builds a Layer from a contract and a processing function.
// The optional ready function backs CheckReadiness; when nil the layer
// is always ready.
func NewLayerFunc(
	exp *Expectation,
	run func(ctx context.Context, input map[string]any) (map[string]any, error),
	ready func(ctx context.Context) error,
) (*LayerFunc, error) {
	if exp == nil {
		return nil, fmt.Errorf("layer func: nil expectation")
	}
	if run == nil {
		return nil, fmt.Errorf("layer func for %s: nil run function", exp.Role())
	}
	return &LayerFunc{exp: exp, ready: ready, run: run}, nil
}

// Role implements Layer.
func (l *LayerFunc) Role() Role { return l.exp.Role() }

// Expectation implements Layer.
func (l *LayerFunc) Expectation() *Expectation { return l.exp }

// CheckReadiness implements Layer.
func (l *LayerFunc) CheckReadiness(ctx context.Context) error {
	if l.ready == nil {
		return nil
	}
	return l.ready(ctx)
}

// Process implements Layer.
func (l *LayerFunc) Process(ctx context.Context, input map[string]any) (map[string]any, error) {
	return l.run(ctx, input)
}

var _ Layer = (*LayerFunc)(nil)
