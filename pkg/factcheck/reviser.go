package factcheck

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/relay/pkg/pipeline"
)

// Reviser is the terminal stage: it turns the critic's analysis into a
// revised answer with an explicit change list and a quality score.
type Reviser struct {
	exp *pipeline.Expectation
}

// ReviserExpectation is the terminal-stage contract. It gates on the
// critic's quality score: analyses below the floor abort the run
// instead of producing a low-confidence revision. Remote reviser
// implementations share this contract.
func ReviserExpectation(opts ...pipeline.ExpectationOption) (*pipeline.Expectation, error) {
	base := []pipeline.ExpectationOption{
		pipeline.WithInputSchema(pipeline.Schema{
			"verified": {Type: pipeline.FieldBoolean, Required: true},
			"quality":  {Type: pipeline.FieldNumber, Required: true},
			"analysis": {Type: pipeline.FieldObject, Required: true},
			"answer":   {Type: pipeline.FieldString, Required: true},
		}),
		pipeline.WithQualityRequirements(pipeline.QualityRequirement{
			Name:  "min_confidence",
			Field: "quality",
			Min:   0.8,
		}),
		pipeline.WithOutputSchema(pipeline.Schema{
			"final_output":       {Type: pipeline.FieldString, Required: true},
			"quality_score":      {Type: pipeline.FieldNumber, Required: true},
			"changes_made":       {Type: pipeline.FieldArray},
			"revision_reasoning": {Type: pipeline.FieldString},
		}),
	}
	return pipeline.NewExpectation(pipeline.RoleTerminal, append(base, opts...)...)
}

// NewReviser builds the terminal stage with its contract.
func NewReviser(opts ...pipeline.ExpectationOption) (*Reviser, error) {
	exp, err := ReviserExpectation(opts...)
	if err != nil {
		return nil, fmt.Errorf("reviser contract: %w", err)
	}
	return &Reviser{exp: exp}, nil
}

// Role implements pipeline.Layer.
func (r *Reviser) Role() pipeline.Role { return pipeline.RoleTerminal }

// Expectation implements pipeline.Layer.
func (r *Reviser) Expectation() *pipeline.Expectation { return r.exp }

// CheckReadiness implements pipeline.Layer.
func (r *Reviser) CheckReadiness(ctx context.Context) error { return nil }

// Process implements pipeline.Layer.
func (r *Reviser) Process(ctx context.Context, input map[string]any) (map[string]any, error) {
	var analysis Analysis
	if err := fromPayloadValue(input["analysis"], &analysis); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	answer, _ := input["answer"].(string)

	revision := Revise(answer, analysis)
	changes := revision.Changes
	if changes == nil {
		changes = []string{}
	}
	changesValue, err := toPayloadValue(changes)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"final_output":       revision.Revised,
		"quality_score":      revision.QualityScore,
		"changes_made":       changesValue,
		"revision_reasoning": revision.Reasoning,
	}, nil
}

// Revise derives the change list from the verdicts and produces the
// revised answer. The text itself is edited conservatively: claims stay
// in place and the change list says what an editor must rework, so the
// caller can route heavy rewrites to a human or a drafting model.
func Revise(answer string, analysis Analysis) Revision {
	var changes []string
	for _, v := range analysis.Verifications {
		switch v.Verdict {
		case VerdictInaccurate:
			changes = append(changes, fmt.Sprintf("Correct inaccurate claim: %s", v.Claim.Text))
		case VerdictDisputed:
			changes = append(changes, fmt.Sprintf("Add nuance to disputed claim: %s", v.Claim.Text))
		case VerdictUnsupported:
			changes = append(changes, fmt.Sprintf("Soften unsupported claim: %s", v.Claim.Text))
		}
	}

	revision := Revision{
		Original:     answer,
		Revised:      answer,
		Changes:      changes,
		QualityScore: qualityScore(analysis.Confidence),
	}
	if len(changes) == 0 {
		revision.Reasoning = fmt.Sprintf("No revisions needed. %s", analysis.Assessment)
		return revision
	}
	revision.Reasoning = fmt.Sprintf("Made %d revisions based on fact-checking analysis: %s. Changes: %s",
		len(changes), analysis.Assessment, strings.Join(changes, ", "))
	return revision
}

// qualityScore grants the revision process a slight boost over the raw
// verification confidence, capped at 1.
func qualityScore(confidence float64) float64 {
	score := confidence * 1.1
	if score > 1 {
		return 1
	}
	return score
}

var _ pipeline.Layer = (*Reviser)(nil)
