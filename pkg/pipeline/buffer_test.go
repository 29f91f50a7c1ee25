package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBuffer_AdjacentHops(t *testing.T) {
	_, err := NewBuffer(RoleLeading, RoleIntermediate, nil)
	assert.NoError(t, err)

	_, err = NewBuffer(RoleIntermediate, RoleTerminal, nil)
	assert.NoError(t, err)
}

func TestNewBuffer_RejectsNonAdjacentHops(t *testing.T) {
	tests := []struct {
		source, target Role
	}{
		{RoleLeading, RoleTerminal},
		{RoleTerminal, RoleLeading},
		{RoleIntermediate, RoleLeading},
		{RoleLeading, RoleLeading},
		{RoleTerminal, RoleIntermediate},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_to_%s", tt.source, tt.target), func(t *testing.T) {
			_, err := NewBuffer(tt.source, tt.target, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrNotAdjacent)
		})
	}
}

func TestNewBuffer_RejectsUnknownRole(t *testing.T) {
	_, err := NewBuffer(Role("upstream"), RoleIntermediate, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid source role")
}

func TestBuffer_Validate_OrderAndOutcome(t *testing.T) {
	var order []string
	exp := MustExpectation(RoleIntermediate,
		WithInputSchema(Schema{"claim_count": {Type: FieldNumber, Required: true}}),
		WithQualityRequirements(QualityRequirement{Name: "floor", Field: "claim_count", Min: 1}),
		WithRules(
			Rule{Name: "first", Check: func(map[string]any) error {
				order = append(order, "first")
				return nil
			}},
			Rule{Name: "second", Check: func(map[string]any) error {
				order = append(order, "second")
				return nil
			}},
		),
	)

	buf, err := NewBuffer(RoleLeading, RoleIntermediate, map[string]any{"claim_count": 2})
	require.NoError(t, err)

	passed, err := buf.Validate(exp)
	require.NoError(t, err)
	assert.True(t, passed)
	assert.True(t, buf.Validated())
	assert.True(t, buf.Passed())
	assert.Equal(t, []string{"first", "second"}, order)

	records := buf.Records()
	require.Len(t, records, 4)
	assert.Equal(t, "schema", records[0].Rule)
	assert.Equal(t, "quality:floor", records[1].Rule)
	assert.Equal(t, "first", records[2].Rule)
	assert.Equal(t, "second", records[3].Rule)
}

func TestBuffer_Validate_FatalRuleSkipsRemaining(t *testing.T) {
	secondRan := false
	exp := MustExpectation(RoleIntermediate, WithRules(
		Rule{Name: "gatekeeper", Fatal: true, Check: func(map[string]any) error {
			return errors.New("rejected")
		}},
		Rule{Name: "later", Check: func(map[string]any) error {
			secondRan = true
			return nil
		}},
	))

	buf, err := NewBuffer(RoleLeading, RoleIntermediate, map[string]any{})
	require.NoError(t, err)

	passed, err := buf.Validate(exp)
	require.NoError(t, err)
	assert.False(t, passed)
	assert.False(t, secondRan)

	records := buf.Records()
	require.Len(t, records, 3)
	assert.Equal(t, OutcomeFailed, records[1].Outcome)
	assert.Equal(t, OutcomeSkipped, records[2].Outcome)
}

func TestBuffer_Validate_NonFatalFailuresAccumulate(t *testing.T) {
	exp := MustExpectation(RoleIntermediate, WithRules(
		Rule{Name: "a", Check: func(map[string]any) error { return errors.New("a failed") }},
		Rule{Name: "b", Check: func(map[string]any) error { return errors.New("b failed") }},
	))

	buf, err := NewBuffer(RoleLeading, RoleIntermediate, map[string]any{})
	require.NoError(t, err)

	passed, err := buf.Validate(exp)
	require.NoError(t, err)
	assert.False(t, passed)

	var failed int
	for _, rec := range buf.Records() {
		if rec.Outcome == OutcomeFailed {
			failed++
		}
	}
	assert.Equal(t, 2, failed)
}

func TestBuffer_Validate_AppendOnlyAndPayloadUntouched(t *testing.T) {
	exp := MustExpectation(RoleIntermediate,
		WithInputSchema(Schema{"claim_count": {Type: FieldNumber, Required: true}}),
	)
	payload := map[string]any{"claim_count": 2}
	buf, err := NewBuffer(RoleLeading, RoleIntermediate, payload)
	require.NoError(t, err)

	passed, err := buf.Validate(exp)
	require.NoError(t, err)
	require.True(t, passed)
	firstRound := buf.Records()

	// Re-validation appends a new round and leaves the payload alone.
	passed, err = buf.Validate(exp)
	require.NoError(t, err)
	assert.True(t, passed)
	assert.Len(t, buf.Records(), 2*len(firstRound))
	assert.Equal(t, firstRound, buf.Records()[:len(firstRound)])
	assert.Equal(t, map[string]any{"claim_count": 2}, buf.Payload())
}

func TestBuffer_Validate_WrongExpectationRole(t *testing.T) {
	exp := MustExpectation(RoleTerminal)
	buf, err := NewBuffer(RoleLeading, RoleIntermediate, nil)
	require.NoError(t, err)

	_, err = buf.Validate(exp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "belongs to terminal")
}

func TestBuffer_Consume_BeforeValidation(t *testing.T) {
	buf, err := NewBuffer(RoleLeading, RoleIntermediate, map[string]any{"x": 1})
	require.NoError(t, err)

	_, err = buf.Consume()
	assert.ErrorIs(t, err, ErrUnvalidatedBuffer)
}

func TestBuffer_Consume_AfterFailedValidation(t *testing.T) {
	exp := MustExpectation(RoleIntermediate,
		WithInputSchema(Schema{"claim_count": {Type: FieldNumber, Required: true}}),
	)
	buf, err := NewBuffer(RoleLeading, RoleIntermediate, map[string]any{})
	require.NoError(t, err)

	passed, err := buf.Validate(exp)
	require.NoError(t, err)
	require.False(t, passed)

	_, err = buf.Consume()
	var violation *ContractViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, RoleLeading, violation.Source)
	assert.Equal(t, RoleIntermediate, violation.Target)
	assert.NotEmpty(t, violation.FailedRecords())
}

func TestBuffer_Consume_Twice(t *testing.T) {
	exp := MustExpectation(RoleIntermediate)
	buf, err := NewBuffer(RoleLeading, RoleIntermediate, map[string]any{"x": 1})
	require.NoError(t, err)

	passed, err := buf.Validate(exp)
	require.NoError(t, err)
	require.True(t, passed)

	payload, err := buf.Consume()
	require.NoError(t, err)
	assert.Equal(t, 1, payload["x"])

	_, err = buf.Consume()
	assert.ErrorIs(t, err, ErrBufferConsumed)
}

func TestBuffer_RunID(t *testing.T) {
	buf, err := NewBuffer(RoleLeading, RoleIntermediate, nil)
	require.NoError(t, err)

	assert.Empty(t, buf.RunID())
	buf.SetMetadata(MetaRunID, "run-42")
	assert.Equal(t, "run-42", buf.RunID())
}
