package factcheck

import (
	"context"
	"fmt"
	"sort"

	"github.com/fyrsmithlabs/relay/pkg/pipeline"
)

// EvidenceFinder locates evidence for a claim. Implementations may hit
// search backends; the default finder is a deterministic heuristic so
// the workflow runs without external services.
type EvidenceFinder interface {
	Find(ctx context.Context, claim Claim) ([]Evidence, error)
}

// EvidenceFinderFunc adapts a function into an EvidenceFinder.
type EvidenceFinderFunc func(ctx context.Context, claim Claim) ([]Evidence, error)

// Find implements EvidenceFinder.
func (f EvidenceFinderFunc) Find(ctx context.Context, claim Claim) ([]Evidence, error) {
	return f(ctx, claim)
}

// HeuristicFinder returns synthetic supporting evidence scored by claim
// importance. It stands in for a search backend in local runs and tests.
func HeuristicFinder() EvidenceFinder {
	return EvidenceFinderFunc(func(ctx context.Context, claim Claim) ([]Evidence, error) {
		return []Evidence{{
			SourceURL:   "local://heuristic",
			Excerpt:     claim.Text,
			Relevance:   0.9,
			Credibility: 0.8,
			Supports:    true,
		}}, nil
	})
}

// Critic is the intermediate stage: it verifies the extracted claims
// against evidence, scores overall confidence, and buckets the answer
// into an assessment.
type Critic struct {
	exp    *pipeline.Expectation
	finder EvidenceFinder
}

// CriticExpectation is the intermediate-stage contract: verification
// requires a positive claim count and the claim list, and emits the
// analysis with its confidence score. Remote critic implementations
// share this contract.
func CriticExpectation(opts ...pipeline.ExpectationOption) (*pipeline.Expectation, error) {
	base := []pipeline.ExpectationOption{
		pipeline.WithInputSchema(pipeline.Schema{
			"question":    {Type: pipeline.FieldString},
			"answer":      {Type: pipeline.FieldString, Required: true},
			"claim_count": {Type: pipeline.FieldNumber, Required: true},
			"claims":      {Type: pipeline.FieldArray, Required: true},
		}),
		pipeline.WithRules(pipeline.Rule{
			Name: "claims_present",
			Check: func(p map[string]any) error {
				n, ok := asFloat(p["claim_count"])
				if !ok || n <= 0 {
					return fmt.Errorf("claim_count must be positive, got %v", p["claim_count"])
				}
				return nil
			},
		}),
		pipeline.WithOutputSchema(pipeline.Schema{
			"verified": {Type: pipeline.FieldBoolean, Required: true},
			"quality":  {Type: pipeline.FieldNumber, Required: true},
			"analysis": {Type: pipeline.FieldObject, Required: true},
			"answer":   {Type: pipeline.FieldString, Required: true},
		}),
	}
	return pipeline.NewExpectation(pipeline.RoleIntermediate, append(base, opts...)...)
}

// NewCritic builds the intermediate stage with its contract. A nil
// finder falls back to the deterministic heuristic.
func NewCritic(finder EvidenceFinder, opts ...pipeline.ExpectationOption) (*Critic, error) {
	if finder == nil {
		finder = HeuristicFinder()
	}
	exp, err := CriticExpectation(opts...)
	if err != nil {
		return nil, fmt.Errorf("critic contract: %w", err)
	}
	return &Critic{exp: exp, finder: finder}, nil
}

// Role implements pipeline.Layer.
func (c *Critic) Role() pipeline.Role { return pipeline.RoleIntermediate }

// Expectation implements pipeline.Layer.
func (c *Critic) Expectation() *pipeline.Expectation { return c.exp }

// CheckReadiness implements pipeline.Layer.
func (c *Critic) CheckReadiness(ctx context.Context) error {
	if c.finder == nil {
		return fmt.Errorf("no evidence finder configured")
	}
	return nil
}

// Process implements pipeline.Layer.
func (c *Critic) Process(ctx context.Context, input map[string]any) (map[string]any, error) {
	var claims []Claim
	if err := fromPayloadValue(input["claims"], &claims); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}

	verifications := make([]Verification, 0, len(claims))
	sources := map[string]struct{}{}
	for _, claim := range claims {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		verification, err := c.verify(ctx, claim)
		if err != nil {
			return nil, fmt.Errorf("verify claim %q: %w", claim.Text, err)
		}
		verifications = append(verifications, verification)
		for _, ev := range verification.Evidence {
			sources[ev.SourceURL] = struct{}{}
		}
	}

	analysis := Analysis{
		Verifications: verifications,
		Assessment:    Assess(verifications),
		Confidence:    ConfidenceScore(verifications),
	}
	for url := range sources {
		analysis.Sources = append(analysis.Sources, url)
	}
	sort.Strings(analysis.Sources)

	analysisValue, err := toPayloadValue(analysis)
	if err != nil {
		return nil, err
	}
	answer, _ := input["answer"].(string)

	return map[string]any{
		"verified": true,
		"quality":  analysis.Confidence,
		"analysis": analysisValue,
		"answer":   answer,
	}, nil
}

// verify turns a claim plus its evidence into a verdict. Opinions are
// not checkable. For the rest, evidence strength is the mean of
// relevance and credibility per source: unanimous contradiction is
// inaccurate, split sources are disputed, strong unanimous support is
// accurate, and weak or absent evidence leaves a claim unsupported.
func (c *Critic) verify(ctx context.Context, claim Claim) (Verification, error) {
	if claim.Type == ClaimOpinion {
		return Verification{
			Claim:         claim,
			Verdict:       VerdictNotApplicable,
			Confidence:    0.5,
			Justification: "Opinion statements are not checkable",
		}, nil
	}

	evidence, err := c.finder.Find(ctx, claim)
	if err != nil {
		return Verification{}, err
	}
	if len(evidence) == 0 {
		return Verification{
			Claim:         claim,
			Verdict:       VerdictUnsupported,
			Confidence:    0.4,
			Justification: "No evidence located for this claim",
		}, nil
	}

	var strength float64
	supporting := 0
	for _, ev := range evidence {
		weight := (ev.Relevance + ev.Credibility) / 2
		strength += weight
		if ev.Supports {
			supporting++
		}
	}
	strength /= float64(len(evidence))

	verification := Verification{Claim: claim, Evidence: evidence, Confidence: strength}
	switch {
	case supporting == 0:
		verification.Verdict = VerdictInaccurate
		verification.Justification = "Available evidence contradicts this claim"
	case supporting < len(evidence):
		verification.Verdict = VerdictDisputed
		verification.Confidence = strength * 0.8
		verification.Justification = "Sources disagree on this claim"
	case strength >= 0.75:
		verification.Verdict = VerdictAccurate
		verification.Justification = "Evidence from credible sources supports this claim"
	default:
		verification.Verdict = VerdictUnsupported
		verification.Justification = "Supporting evidence is too weak to confirm this claim"
	}
	return verification, nil
}

// Assess buckets the verifications into an overall assessment by the
// share of accurate claims.
func Assess(verifications []Verification) string {
	if len(verifications) == 0 {
		return "No claims to verify"
	}
	accurate := 0
	for _, v := range verifications {
		if v.Verdict == VerdictAccurate {
			accurate++
		}
	}
	rate := float64(accurate) / float64(len(verifications))
	switch {
	case rate >= 0.9:
		return "Highly accurate response"
	case rate >= 0.7:
		return "Mostly accurate response"
	case rate >= 0.5:
		return "Partially accurate response"
	default:
		return "Largely inaccurate response"
	}
}

// ConfidenceScore is the mean confidence across verifications.
func ConfidenceScore(verifications []Verification) float64 {
	if len(verifications) == 0 {
		return 0
	}
	var sum float64
	for _, v := range verifications {
		sum += v.Confidence
	}
	return sum / float64(len(verifications))
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

var _ pipeline.Layer = (*Critic)(nil)
