package pipeline

import (
	"fmt"
	"time"
)

// Metadata keys the engine attaches to every emitted buffer.
const (
	// MetaProducedBy records the role that emitted the buffer.
	MetaProducedBy = "produced_by"

	// MetaProducedAt records the emission time in RFC 3339 format.
	MetaProducedAt = "produced_at"

	// MetaRunID carries the workflow correlation id across hops.
	MetaRunID = "run_id"
)

// Buffer carries a payload across one hop between adjacent layers. A
// buffer knows its direction, accumulates validation records, and must
// pass validation exactly once before its target consumes it.
//
// Validation appends records and never touches the payload, so running
// Validate again is safe: the payload stays byte-identical and earlier
// records stay in place.
type Buffer struct {
	source   Role
	target   Role
	payload  map[string]any
	metadata map[string]any

	records    []ValidationRecord
	roundStart int
	rounds     int
	consumed   bool

	now func() time.Time
}

// NewBuffer constructs a buffer for the hop from source to target. Only
// the two neighboring hops are constructible; any other pair returns
// ErrNotAdjacent.
func NewBuffer(source, target Role, payload map[string]any) (*Buffer, error) {
	if !source.Valid() {
		return nil, fmt.Errorf("invalid source role %q", source)
	}
	if !target.Valid() {
		return nil, fmt.Errorf("invalid target role %q", target)
	}
	if !Adjacent(source, target) {
		return nil, fmt.Errorf("%w: %s to %s", ErrNotAdjacent, source, target)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return &Buffer{
		source:   source,
		target:   target,
		payload:  payload,
		metadata: map[string]any{},
		now:      time.Now,
	}, nil
}

// Source returns the emitting role.
func (b *Buffer) Source() Role { return b.source }

// Target returns the consuming role.
func (b *Buffer) Target() Role { return b.target }

// Payload returns the carried payload. The engine never mutates it after
// construction; consumers receive it as-is.
func (b *Buffer) Payload() map[string]any { return b.payload }

// Metadata returns the buffer metadata map.
func (b *Buffer) Metadata() map[string]any { return b.metadata }

// SetMetadata attaches a metadata entry. Provenance keys are written by
// the emitting side; validation never touches metadata.
func (b *Buffer) SetMetadata(key string, value any) { b.metadata[key] = value }

// RunID returns the correlation id carried in the buffer metadata, or
// the empty string when none is set.
func (b *Buffer) RunID() string {
	id, _ := b.metadata[MetaRunID].(string)
	return id
}

// Records returns all validation records accumulated so far, across
// every round, in evaluation order.
func (b *Buffer) Records() []ValidationRecord {
	return append([]ValidationRecord(nil), b.records...)
}

// Validated reports whether at least one validation round ran.
func (b *Buffer) Validated() bool { return b.rounds > 0 }

// Passed reports whether the most recent validation round accepted the
// payload. It is false until a round has run.
func (b *Buffer) Passed() bool {
	if b.rounds == 0 {
		return false
	}
	for _, r := range b.records[b.roundStart:] {
		if r.Outcome == OutcomeFailed {
			return false
		}
	}
	return true
}

// Validate checks the payload against the target layer's contract:
// first the input schema, then the quality gates, then the rules in
// declaration order. A failed fatal rule skips the rules behind it;
// non-fatal failures keep evaluating so every diagnostic is recorded.
//
// The round's records are appended to the buffer. The payload is never
// modified. The boolean reports whether the round passed. The error is
// non-nil only on misuse, when the expectation does not belong to the
// buffer's target role.
func (b *Buffer) Validate(exp *Expectation) (bool, error) {
	if exp == nil {
		return false, fmt.Errorf("validate %s to %s buffer: nil expectation", b.source, b.target)
	}
	if exp.Role() != b.target {
		return false, fmt.Errorf("validate %s to %s buffer: expectation belongs to %s, want %s",
			b.source, b.target, exp.Role(), b.target)
	}

	now := b.now()
	round := exp.inputSchema.check(b.payload, now)

	for _, q := range exp.quality {
		round = append(round, q.check(b.payload, now))
	}

	fatal := false
	for _, rule := range exp.rules {
		if fatal {
			round = append(round, ValidationRecord{
				Rule:    rule.Name,
				Outcome: OutcomeSkipped,
				Detail:  "skipped after fatal rule failure",
				At:      now,
			})
			continue
		}
		rec := ValidationRecord{Rule: rule.Name, Outcome: OutcomePassed, At: now}
		if err := rule.Check(b.payload); err != nil {
			rec.Outcome = OutcomeFailed
			rec.Detail = err.Error()
			if rule.Fatal {
				fatal = true
			}
		}
		round = append(round, rec)
	}

	b.roundStart = len(b.records)
	b.records = append(b.records, round...)
	b.rounds++

	return b.Passed(), nil
}

// Consume hands the payload to the target layer. It enforces the
// validate-before-consume contract: an unvalidated buffer returns
// ErrUnvalidatedBuffer, a failed buffer returns the ContractViolation
// carrying the failing records, and a second consume returns
// ErrBufferConsumed.
func (b *Buffer) Consume() (map[string]any, error) {
	if b.consumed {
		return nil, fmt.Errorf("%w: %s to %s", ErrBufferConsumed, b.source, b.target)
	}
	if !b.Validated() {
		return nil, fmt.Errorf("%w: %s to %s", ErrUnvalidatedBuffer, b.source, b.target)
	}
	if !b.Passed() {
		return nil, &ContractViolation{
			Source:  b.source,
			Target:  b.target,
			Records: b.Records(),
		}
	}
	b.consumed = true
	return b.payload, nil
}
