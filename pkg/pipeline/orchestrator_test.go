package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockLayer is a mock implementation of Layer
type MockLayer struct {
	mock.Mock
	role Role
	exp  *Expectation
}

func NewMockLayer(role Role) *MockLayer {
	return &MockLayer{role: role, exp: MustExpectation(role)}
}

func (m *MockLayer) Role() Role { return m.role }

func (m *MockLayer) Expectation() *Expectation { return m.exp }

func (m *MockLayer) CheckReadiness(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockLayer) Process(ctx context.Context, input map[string]any) (map[string]any, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]any), args.Error(1)
}

// factCheckTrio builds the three stages of a claim verification flow:
// the leading stage counts claims, the intermediate stage verifies them
// and scores quality, the terminal stage produces the revised text.
func factCheckTrio(t *testing.T) (Layer, Layer, Layer) {
	t.Helper()

	leading, err := NewLayerFunc(
		MustExpectation(RoleLeading,
			WithOutputSchema(Schema{"claim_count": {Type: FieldInteger, Required: true}}),
		),
		func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{"claim_count": 2}, nil
		}, nil)
	require.NoError(t, err)

	intermediate, err := NewLayerFunc(
		MustExpectation(RoleIntermediate,
			WithInputSchema(Schema{"claim_count": {Type: FieldNumber, Required: true}}),
			WithRules(Rule{
				Name: "claims_present",
				Check: func(p map[string]any) error {
					if n, ok := numericValue(p["claim_count"]); !ok || n <= 0 {
						return fmt.Errorf("claim_count must be positive")
					}
					return nil
				},
			}),
		),
		func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{"verified": true, "quality": 0.85}, nil
		}, nil)
	require.NoError(t, err)

	terminal, err := NewLayerFunc(
		MustExpectation(RoleTerminal,
			WithQualityRequirements(QualityRequirement{Name: "min_quality", Field: "quality", Min: 0.8}),
			WithOutputSchema(Schema{
				"final_output":  {Type: FieldString, Required: true},
				"quality_score": {Type: FieldNumber, Required: true},
			}),
		),
		func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{"final_output": "revised text", "quality_score": 0.85}, nil
		}, nil)
	require.NoError(t, err)

	return leading, intermediate, terminal
}

func TestNew_Validation(t *testing.T) {
	leading, intermediate, terminal := factCheckTrio(t)

	_, err := New(nil, intermediate, terminal)
	assert.Error(t, err)

	// A layer in the wrong slot is rejected up front.
	_, err = New(intermediate, leading, terminal)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declares role")
}

func TestOrchestrator_Execute_Completes(t *testing.T) {
	leading, intermediate, terminal := factCheckTrio(t)
	orch, err := New(leading, intermediate, terminal)
	require.NoError(t, err)

	result, err := orch.Execute(context.Background(), map[string]any{
		"question": "How many moons does Mars have?",
		"answer":   "Mars has two moons.",
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, RunCompleted, result.Status)
	assert.Empty(t, result.AbortReason)
	assert.Equal(t, "revised text", result.FinalOutput["final_output"])
	assert.Equal(t, 0.85, result.QualityScore)
	assert.Equal(t, StateCompleted, orch.State())
	assert.NotEmpty(t, result.RunID)

	require.Len(t, result.Stages, 3)
	for i, role := range AllRoles() {
		assert.Equal(t, role, result.Stages[i].Role)
		assert.Equal(t, StageSucceeded, result.Stages[i].Status)
	}

	// Hop validation records land on the producing stage.
	assert.NotEmpty(t, result.Stage(RoleLeading).ValidationRecords)
	assert.NotEmpty(t, result.Stage(RoleIntermediate).ValidationRecords)
}

func TestOrchestrator_Execute_PreassignedRunID(t *testing.T) {
	leading, intermediate, terminal := factCheckTrio(t)
	orch, err := New(leading, intermediate, terminal, WithRunID("run-7f3a"))
	require.NoError(t, err)

	result, err := orch.Execute(context.Background(), map[string]any{"answer": "Mars has two moons."})
	require.NoError(t, err)
	assert.Equal(t, "run-7f3a", result.RunID)
}

func TestOrchestrator_Execute_PreconditionFailure(t *testing.T) {
	leading := NewMockLayer(RoleLeading)
	intermediate := NewMockLayer(RoleIntermediate)
	terminal := NewMockLayer(RoleTerminal)

	leading.On("CheckReadiness", mock.Anything).Return(nil)
	intermediate.On("CheckReadiness", mock.Anything).Return(errors.New("agent endpoint down"))

	orch, err := New(leading, intermediate, terminal)
	require.NoError(t, err)

	result, err := orch.Execute(context.Background(), map[string]any{})
	require.Error(t, err)

	var precondition *PreconditionError
	require.ErrorAs(t, err, &precondition)
	assert.Equal(t, RoleIntermediate, precondition.Role)

	assert.Equal(t, RunAborted, result.Status)
	assert.Equal(t, AbortPreconditionFailed, result.AbortReason)
	assert.Empty(t, result.Stages)
	assert.Nil(t, result.FinalOutput)

	// No stage may run when any readiness check fails.
	leading.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
	intermediate.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
	terminal.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
}

func TestOrchestrator_Execute_ContractViolation(t *testing.T) {
	_, intermediate, terminal := factCheckTrio(t)

	// Zero claims violates the claims_present rule on the intermediate
	// contract.
	leading, err := NewLayerFunc(MustExpectation(RoleLeading),
		func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{"claim_count": 0}, nil
		}, nil)
	require.NoError(t, err)

	orch, err := New(leading, intermediate, terminal)
	require.NoError(t, err)

	result, err := orch.Execute(context.Background(), map[string]any{})
	require.Error(t, err)

	var violation *ContractViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, RoleLeading, violation.Source)
	assert.Equal(t, RoleIntermediate, violation.Target)

	assert.Equal(t, RunAborted, result.Status)
	assert.Equal(t, AbortContractViolation, result.AbortReason)
	require.Len(t, result.Stages, 1)
	assert.NotEmpty(t, result.Stage(RoleLeading).ValidationRecords)
}

func TestOrchestrator_Execute_QualityGateFailure(t *testing.T) {
	leading, _, terminal := factCheckTrio(t)

	// Quality below the terminal gate's 0.8 floor.
	intermediate, err := NewLayerFunc(
		MustExpectation(RoleIntermediate,
			WithInputSchema(Schema{"claim_count": {Type: FieldNumber, Required: true}}),
		),
		func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{"verified": true, "quality": 0.4}, nil
		}, nil)
	require.NoError(t, err)

	orch, err := New(leading, intermediate, terminal)
	require.NoError(t, err)

	result, err := orch.Execute(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Equal(t, AbortContractViolation, result.AbortReason)
	require.Len(t, result.Stages, 2)
}

func TestOrchestrator_Execute_StageInternalError(t *testing.T) {
	leading, _, terminal := factCheckTrio(t)

	intermediate, err := NewLayerFunc(
		MustExpectation(RoleIntermediate,
			WithInputSchema(Schema{"claim_count": {Type: FieldNumber, Required: true}}),
		),
		func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return nil, errors.New("verification backend panic")
		}, nil)
	require.NoError(t, err)

	orch, err := New(leading, intermediate, terminal)
	require.NoError(t, err)

	result, err := orch.Execute(context.Background(), map[string]any{})
	require.Error(t, err)

	assert.Equal(t, AbortInternalError, result.AbortReason)
	require.Len(t, result.Stages, 2)
	assert.Equal(t, StageSucceeded, result.Stage(RoleLeading).Status)
	assert.Equal(t, StageFailed, result.Stage(RoleIntermediate).Status)
	assert.Contains(t, result.Stage(RoleIntermediate).Error, "verification backend")
}

func TestOrchestrator_Execute_AdapterReasonsPropagate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want AbortReason
	}{
		{"remote unreachable", NewRemoteUnreachable(RoleLeading, errors.New("dial tcp")), AbortRemoteUnreachable},
		{"adapter translation", NewAdapterTranslation(RoleLeading, errors.New("reply is not an object")), AbortAdapterTranslation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, intermediate, terminal := factCheckTrio(t)
			leading, err := NewLayerFunc(MustExpectation(RoleLeading),
				func(ctx context.Context, input map[string]any) (map[string]any, error) {
					return nil, tt.err
				}, nil)
			require.NoError(t, err)

			orch, err := New(leading, intermediate, terminal)
			require.NoError(t, err)

			result, execErr := orch.Execute(context.Background(), map[string]any{})
			require.Error(t, execErr)
			assert.Equal(t, tt.want, result.AbortReason)
		})
	}
}

func TestOrchestrator_Execute_StageTimeout(t *testing.T) {
	_, intermediate, terminal := factCheckTrio(t)

	leading, err := NewLayerFunc(
		MustExpectation(RoleLeading, WithMaxStageDuration(20*time.Millisecond)),
		func(ctx context.Context, input map[string]any) (map[string]any, error) {
			select {
			case <-time.After(500 * time.Millisecond):
				return map[string]any{"claim_count": 2}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}, nil)
	require.NoError(t, err)

	orch, err := New(leading, intermediate, terminal)
	require.NoError(t, err)

	result, execErr := orch.Execute(context.Background(), map[string]any{})
	require.Error(t, execErr)
	assert.Equal(t, AbortTimeout, result.AbortReason)
	assert.Equal(t, StageFailed, result.Stage(RoleLeading).Status)
}

func TestOrchestrator_Execute_BudgetOverrunWithoutCancellation(t *testing.T) {
	_, intermediate, terminal := factCheckTrio(t)

	// The stage ignores its context and finishes late anyway. The run
	// still fails its performance constraint.
	leading, err := NewLayerFunc(
		MustExpectation(RoleLeading, WithMaxStageDuration(10*time.Millisecond)),
		func(ctx context.Context, input map[string]any) (map[string]any, error) {
			time.Sleep(40 * time.Millisecond)
			return map[string]any{"claim_count": 2}, nil
		}, nil)
	require.NoError(t, err)

	orch, err := New(leading, intermediate, terminal)
	require.NoError(t, err)

	result, execErr := orch.Execute(context.Background(), map[string]any{})
	require.Error(t, execErr)
	assert.Equal(t, AbortTimeout, result.AbortReason)
}

func TestOrchestrator_Execute_Cancellation(t *testing.T) {
	_, intermediate, terminal := factCheckTrio(t)

	started := make(chan struct{})
	leading, err := NewLayerFunc(MustExpectation(RoleLeading),
		func(ctx context.Context, input map[string]any) (map[string]any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}, nil)
	require.NoError(t, err)

	orch, err := New(leading, intermediate, terminal)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	result, execErr := orch.Execute(ctx, map[string]any{})
	require.Error(t, execErr)
	assert.Equal(t, AbortCanceled, result.AbortReason)
	assert.Equal(t, RunAborted, result.Status)
}

func TestOrchestrator_Execute_RunInFlight(t *testing.T) {
	_, intermediate, terminal := factCheckTrio(t)

	release := make(chan struct{})
	started := make(chan struct{})
	leading, err := NewLayerFunc(MustExpectation(RoleLeading),
		func(ctx context.Context, input map[string]any) (map[string]any, error) {
			close(started)
			<-release
			return map[string]any{"claim_count": 1}, nil
		}, nil)
	require.NoError(t, err)

	orch, err := New(leading, intermediate, terminal)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = orch.Execute(context.Background(), map[string]any{})
	}()

	<-started
	_, err = orch.Execute(context.Background(), map[string]any{})
	assert.ErrorIs(t, err, ErrRunInFlight)

	close(release)
	<-done
}

func TestOrchestrator_Execute_ObserverSequence(t *testing.T) {
	leading, intermediate, terminal := factCheckTrio(t)

	var states []State
	var runIDs []string
	orch, err := New(leading, intermediate, terminal,
		WithObserver(func(ev Event) {
			states = append(states, ev.State)
			runIDs = append(runIDs, ev.RunID)
		}),
	)
	require.NoError(t, err)

	result, err := orch.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, []State{
		StateRunningLeading,
		StateValidatingIntermediate,
		StateRunningIntermediate,
		StateValidatingTerminal,
		StateRunningTerminal,
		StateCompleted,
	}, states)
	for _, id := range runIDs {
		assert.Equal(t, result.RunID, id)
	}
}

func TestOrchestrator_Execute_TerminalOutputViolation(t *testing.T) {
	leading, intermediate, _ := factCheckTrio(t)

	terminal, err := NewLayerFunc(
		MustExpectation(RoleTerminal,
			WithOutputSchema(Schema{"final_output": {Type: FieldString, Required: true}}),
		),
		func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{"unrelated": 1}, nil
		}, nil)
	require.NoError(t, err)

	orch, err := New(leading, intermediate, terminal)
	require.NoError(t, err)

	result, execErr := orch.Execute(context.Background(), map[string]any{})
	require.Error(t, execErr)
	assert.Equal(t, AbortContractViolation, result.AbortReason)
	assert.Nil(t, result.FinalOutput)
	assert.NotEmpty(t, result.Stage(RoleTerminal).ValidationRecords)
}

func TestOrchestrator_Execute_WeightedQuality(t *testing.T) {
	leading, _, _ := factCheckTrio(t)

	intermediate, err := NewLayerFunc(
		MustExpectation(RoleIntermediate,
			WithInputSchema(Schema{"claim_count": {Type: FieldNumber, Required: true}}),
		),
		func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{"quality": 0.6}, nil
		}, nil)
	require.NoError(t, err)

	terminal, err := NewLayerFunc(MustExpectation(RoleTerminal),
		func(ctx context.Context, input map[string]any) (map[string]any, error) {
			return map[string]any{"final_output": "ok", "quality_score": 0.9}, nil
		}, nil)
	require.NoError(t, err)

	policy, err := NewWeightedQuality(map[Role]float64{RoleTerminal: 3})
	require.NoError(t, err)

	orch, err := New(leading, intermediate, terminal, WithQualityPolicy(policy))
	require.NoError(t, err)

	result, err := orch.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)

	// (0.6*1 + 0.9*3) / 4
	assert.InDelta(t, 0.825, result.QualityScore, 1e-9)
}

func TestOrchestrator_Execute_SequentialReuse(t *testing.T) {
	leading, intermediate, terminal := factCheckTrio(t)
	orch, err := New(leading, intermediate, terminal)
	require.NoError(t, err)

	first, err := orch.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	second, err := orch.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, first.Status)
	assert.Equal(t, RunCompleted, second.Status)
	assert.NotEqual(t, first.RunID, second.RunID)
}
