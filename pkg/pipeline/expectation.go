package pipeline

import (
	"fmt"
	"time"
)

// Expectation is the immutable contract a layer declares when it joins a
// pipeline: the role it occupies, the payload shapes it consumes and
// produces, the rules and quality gates its input must satisfy, and the
// time budget its stage may spend.
//
// Expectations are constructed once and never mutated. Accessors return
// copies so callers cannot reach the internal state.
type Expectation struct {
	role         Role
	inputSchema  Schema
	outputSchema Schema
	rules        []Rule
	quality      []QualityRequirement
	constraints  PerformanceConstraints
}

// ExpectationOption configures an Expectation under construction.
type ExpectationOption func(*Expectation) error

// WithInputSchema declares the payload shape the layer consumes.
func WithInputSchema(s Schema) ExpectationOption {
	return func(e *Expectation) error {
		e.inputSchema = s.clone()
		return nil
	}
}

// WithOutputSchema declares the payload shape the layer produces.
func WithOutputSchema(s Schema) ExpectationOption {
	return func(e *Expectation) error {
		e.outputSchema = s.clone()
		return nil
	}
}

// WithRules declares the validation rules applied to the layer's input,
// evaluated in the given order.
func WithRules(rules ...Rule) ExpectationOption {
	return func(e *Expectation) error {
		for _, r := range rules {
			if r.Name == "" {
				return fmt.Errorf("rule with empty name")
			}
			if r.Check == nil {
				return fmt.Errorf("rule %q has no check function", r.Name)
			}
		}
		e.rules = append([]Rule(nil), rules...)
		return nil
	}
}

// WithQualityRequirements declares the quality gates applied to the
// layer's input.
func WithQualityRequirements(reqs ...QualityRequirement) ExpectationOption {
	return func(e *Expectation) error {
		for _, q := range reqs {
			if q.Name == "" {
				return fmt.Errorf("quality requirement with empty name")
			}
			if q.Field == "" {
				return fmt.Errorf("quality requirement %q has no field", q.Name)
			}
		}
		e.quality = append([]QualityRequirement(nil), reqs...)
		return nil
	}
}

// WithMaxStageDuration bounds how long the layer's stage may run.
func WithMaxStageDuration(d time.Duration) ExpectationOption {
	return func(e *Expectation) error {
		if d < 0 {
			return fmt.Errorf("negative max stage duration %v", d)
		}
		e.constraints.MaxDuration = d
		return nil
	}
}

// NewExpectation builds the immutable contract for a layer in the given
// role.
func NewExpectation(role Role, opts ...ExpectationOption) (*Expectation, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	e := &Expectation{role: role}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("build expectation for %s: %w", role, err)
		}
	}
	return e, nil
}

// MustExpectation is NewExpectation that panics on error. Intended for
// package-level workflow definitions where the contract is static.
func MustExpectation(role Role, opts ...ExpectationOption) *Expectation {
	e, err := NewExpectation(role, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// Role returns the role this contract binds to.
func (e *Expectation) Role() Role { return e.role }

// InputSchema returns a copy of the declared input shape.
func (e *Expectation) InputSchema() Schema { return e.inputSchema.clone() }

// OutputSchema returns a copy of the declared output shape.
func (e *Expectation) OutputSchema() Schema { return e.outputSchema.clone() }

// Rules returns a copy of the declared validation rules in order.
func (e *Expectation) Rules() []Rule { return append([]Rule(nil), e.rules...) }

// QualityRequirements returns a copy of the declared quality gates.
func (e *Expectation) QualityRequirements() []QualityRequirement {
	return append([]QualityRequirement(nil), e.quality...)
}

// Constraints returns the stage performance bounds.
func (e *Expectation) Constraints() PerformanceConstraints { return e.constraints }
