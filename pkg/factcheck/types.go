package factcheck

import (
	"encoding/json"
	"fmt"
)

// Request is the workflow input: an answer to fact-check in the context
// of the question that produced it.
type Request struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Context  string `json:"context,omitempty"`
}

// ClaimType categorizes an extracted claim.
type ClaimType string

const (
	ClaimFactual     ClaimType = "factual"
	ClaimStatistical ClaimType = "statistical"
	ClaimOpinion     ClaimType = "opinion"
	ClaimLogical     ClaimType = "logical_argument"
)

// Claim is a checkable statement extracted from the answer.
type Claim struct {
	Text       string    `json:"text"`
	Type       ClaimType `json:"type"`
	Source     string    `json:"source"`
	Importance float64   `json:"importance"`
}

// Evidence is one source consulted while verifying a claim.
type Evidence struct {
	SourceURL   string  `json:"source_url"`
	Excerpt     string  `json:"excerpt"`
	Relevance   float64 `json:"relevance"`
	Credibility float64 `json:"credibility"`
	Supports    bool    `json:"supports"`
}

// Verdict is the outcome of verifying one claim.
type Verdict string

const (
	VerdictAccurate      Verdict = "accurate"
	VerdictInaccurate    Verdict = "inaccurate"
	VerdictDisputed      Verdict = "disputed"
	VerdictUnsupported   Verdict = "unsupported"
	VerdictNotApplicable Verdict = "not_applicable"
)

// Verification pairs a claim with its verdict and the evidence behind it.
type Verification struct {
	Claim         Claim      `json:"claim"`
	Verdict       Verdict    `json:"verdict"`
	Confidence    float64    `json:"confidence"`
	Evidence      []Evidence `json:"evidence,omitempty"`
	Justification string     `json:"justification"`
}

// Analysis is the critic's aggregate view over all verifications.
type Analysis struct {
	Verifications []Verification `json:"verifications"`
	Assessment    string         `json:"assessment"`
	Confidence    float64        `json:"confidence"`
	Sources       []string       `json:"sources,omitempty"`
}

// Revision is the reviser's final product.
type Revision struct {
	Original     string   `json:"original"`
	Revised      string   `json:"revised"`
	Changes      []string `json:"changes,omitempty"`
	Reasoning    string   `json:"reasoning"`
	QualityScore float64  `json:"quality_score"`
}

// toPayloadValue converts a typed value into the generic JSON shape
// payloads carry, so stage outputs survive buffer hops and HTTP
// boundaries identically.
func toPayloadValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode payload value: %w", err)
	}
	return out, nil
}

// fromPayloadValue converts a generic payload value back into a typed
// value.
func fromPayloadValue(v any, target any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload value: %w", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode payload value: %w", err)
	}
	return nil
}
