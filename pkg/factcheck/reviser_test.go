package factcheck

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/relay/pkg/pipeline"
)

func TestRevise_NoChanges(t *testing.T) {
	analysis := Analysis{
		Verifications: []Verification{
			{Claim: Claim{Text: "The tower is 330 metres tall."}, Verdict: VerdictAccurate, Confidence: 0.85},
		},
		Assessment: "Highly accurate response",
		Confidence: 0.85,
	}

	revision := Revise("The tower is 330 metres tall.", analysis)

	assert.Empty(t, revision.Changes)
	assert.Equal(t, "The tower is 330 metres tall.", revision.Revised)
	assert.Equal(t, "No revisions needed. Highly accurate response", revision.Reasoning)
	assert.InDelta(t, 0.935, revision.QualityScore, 1e-9)
}

func TestRevise_ChangeStrings(t *testing.T) {
	analysis := Analysis{
		Verifications: []Verification{
			{Claim: Claim{Text: "claim one"}, Verdict: VerdictInaccurate},
			{Claim: Claim{Text: "claim two"}, Verdict: VerdictDisputed},
			{Claim: Claim{Text: "claim three"}, Verdict: VerdictUnsupported},
			{Claim: Claim{Text: "claim four"}, Verdict: VerdictAccurate},
			{Claim: Claim{Text: "claim five"}, Verdict: VerdictNotApplicable},
		},
		Assessment: "Partially accurate response",
		Confidence: 0.6,
	}

	revision := Revise("original answer", analysis)

	require.Equal(t, []string{
		"Correct inaccurate claim: claim one",
		"Add nuance to disputed claim: claim two",
		"Soften unsupported claim: claim three",
	}, revision.Changes)
	assert.Contains(t, revision.Reasoning, "Made 3 revisions based on fact-checking analysis: Partially accurate response.")
	assert.Contains(t, revision.Reasoning, "Correct inaccurate claim: claim one")
	assert.Equal(t, "original answer", revision.Original)
}

func TestQualityScore_CappedAtOne(t *testing.T) {
	assert.InDelta(t, 0.55, qualityScore(0.5), 1e-9)
	assert.InDelta(t, 1.0, qualityScore(0.95), 1e-9)
}

func TestReviser_Process(t *testing.T) {
	reviser, err := NewReviser()
	require.NoError(t, err)

	analysisValue, err := toPayloadValue(Analysis{
		Verifications: []Verification{
			{Claim: Claim{Text: "The tower is 330 metres tall."}, Verdict: VerdictAccurate, Confidence: 0.85},
		},
		Assessment: "Highly accurate response",
		Confidence: 0.85,
	})
	require.NoError(t, err)

	output, err := reviser.Process(context.Background(), map[string]any{
		"verified": true,
		"quality":  0.85,
		"analysis": analysisValue,
		"answer":   "The tower is 330 metres tall.",
	})
	require.NoError(t, err)

	assert.Equal(t, "The tower is 330 metres tall.", output["final_output"])
	assert.InDelta(t, 0.935, output["quality_score"].(float64), 1e-9)
	assert.Contains(t, output["revision_reasoning"].(string), "No revisions needed.")
}

func TestReviser_Contract(t *testing.T) {
	reviser, err := NewReviser()
	require.NoError(t, err)

	exp := reviser.Expectation()
	assert.Equal(t, pipeline.RoleTerminal, exp.Role())

	reqs := exp.QualityRequirements()
	require.Len(t, reqs, 1)
	assert.Equal(t, "min_confidence", reqs[0].Name)
	assert.Equal(t, "quality", reqs[0].Field)
	assert.InDelta(t, 0.8, reqs[0].Min, 1e-9)

	input := exp.InputSchema()
	for _, field := range []string{"verified", "quality", "analysis", "answer"} {
		spec, ok := input[field]
		require.True(t, ok, "input schema missing %s", field)
		assert.True(t, spec.Required, "%s should be required", field)
	}
}
