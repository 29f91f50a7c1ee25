package factcheck

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/relay/pkg/pipeline"
)

// Auditor is the leading stage: it receives the fact-check request,
// extracts checkable claims from the answer, and hands them downstream
// with the original question and answer for context.
type Auditor struct {
	exp *pipeline.Expectation
}

// AuditorExpectation is the leading-stage contract: claim extraction
// emits the question, the answer, and the typed claim list. Remote
// auditor implementations share this contract.
func AuditorExpectation(opts ...pipeline.ExpectationOption) (*pipeline.Expectation, error) {
	base := []pipeline.ExpectationOption{
		pipeline.WithOutputSchema(pipeline.Schema{
			"question":    {Type: pipeline.FieldString, Required: true},
			"answer":      {Type: pipeline.FieldString, Required: true},
			"claim_count": {Type: pipeline.FieldInteger, Required: true},
			"claims":      {Type: pipeline.FieldArray, Required: true},
		}),
	}
	return pipeline.NewExpectation(pipeline.RoleLeading, append(base, opts...)...)
}

// NewAuditor builds the leading stage with its contract.
func NewAuditor(opts ...pipeline.ExpectationOption) (*Auditor, error) {
	exp, err := AuditorExpectation(opts...)
	if err != nil {
		return nil, fmt.Errorf("auditor contract: %w", err)
	}
	return &Auditor{exp: exp}, nil
}

// Role implements pipeline.Layer.
func (a *Auditor) Role() pipeline.Role { return pipeline.RoleLeading }

// Expectation implements pipeline.Layer.
func (a *Auditor) Expectation() *pipeline.Expectation { return a.exp }

// CheckReadiness implements pipeline.Layer. Claim extraction is local
// and always available.
func (a *Auditor) CheckReadiness(ctx context.Context) error { return nil }

// Process implements pipeline.Layer.
func (a *Auditor) Process(ctx context.Context, input map[string]any) (map[string]any, error) {
	question, _ := input["question"].(string)
	answer, _ := input["answer"].(string)
	if strings.TrimSpace(answer) == "" {
		return nil, fmt.Errorf("fact-check request carries no answer text")
	}

	claims := ExtractClaims(answer)
	claimsValue, err := toPayloadValue(claims)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"question":    question,
		"answer":      answer,
		"claim_count": len(claims),
		"claims":      claimsValue,
	}, nil
}

// ExtractClaims splits the answer into sentences and turns each into a
// typed claim. The typing is heuristic: numbers mark statistical claims,
// hedging phrases mark opinions, causal connectives mark arguments, and
// the rest counts as factual.
func ExtractClaims(answer string) []Claim {
	var claims []Claim
	for _, sentence := range splitSentences(answer) {
		ct := classifyClaim(sentence)
		claims = append(claims, Claim{
			Text:       sentence,
			Type:       ct,
			Source:     sentence,
			Importance: claimImportance(ct),
		})
	}
	return claims
}

// splitSentences breaks text on sentence-ending punctuation and drops
// fragments too short to check.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(current.String()); len(s) > 3 {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); len(s) > 3 {
		sentences = append(sentences, s)
	}
	return sentences
}

var (
	opinionMarkers = []string{"i think", "i believe", "in my opinion", "probably", "arguably", "it seems"}
	logicalMarkers = []string{"because", "therefore", "thus", "hence", "as a result"}
)

func classifyClaim(sentence string) ClaimType {
	lower := strings.ToLower(sentence)
	for _, marker := range opinionMarkers {
		if strings.Contains(lower, marker) {
			return ClaimOpinion
		}
	}
	if strings.ContainsFunc(sentence, unicode.IsDigit) {
		return ClaimStatistical
	}
	for _, marker := range logicalMarkers {
		if strings.Contains(lower, marker) {
			return ClaimLogical
		}
	}
	return ClaimFactual
}

func claimImportance(ct ClaimType) float64 {
	switch ct {
	case ClaimStatistical:
		return 0.9
	case ClaimFactual:
		return 0.8
	case ClaimLogical:
		return 0.7
	case ClaimOpinion:
		return 0.4
	}
	return 0.5
}

var _ pipeline.Layer = (*Auditor)(nil)
