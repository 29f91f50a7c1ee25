package pipeline

import (
	"fmt"
	"time"
)

// Role identifies a layer's position in the pipeline.
type Role string

const (
	// RoleLeading produces the first working payload from the workflow request.
	RoleLeading Role = "leading"

	// RoleIntermediate transforms the leading output into terminal input.
	RoleIntermediate Role = "intermediate"

	// RoleTerminal produces the final workflow output.
	RoleTerminal Role = "terminal"
)

// AllRoles returns the three roles in execution order.
func AllRoles() []Role {
	return []Role{RoleLeading, RoleIntermediate, RoleTerminal}
}

// Valid reports whether r is one of the three pipeline roles.
func (r Role) Valid() bool {
	switch r {
	case RoleLeading, RoleIntermediate, RoleTerminal:
		return true
	}
	return false
}

// Next returns the downstream role. Terminal has no successor and
// returns false.
func (r Role) Next() (Role, bool) {
	switch r {
	case RoleLeading:
		return RoleIntermediate, true
	case RoleIntermediate:
		return RoleTerminal, true
	}
	return "", false
}

// Adjacent reports whether a buffer may flow from source to target.
// Only the two neighboring hops exist; everything else is rejected at
// construction time.
func Adjacent(source, target Role) bool {
	next, ok := source.Next()
	return ok && next == target
}

// State represents the orchestrator execution state.
type State string

const (
	StateIdle                   State = "idle"
	StateRunningLeading         State = "running_leading"
	StateValidatingIntermediate State = "validating_to_intermediate"
	StateRunningIntermediate    State = "running_intermediate"
	StateValidatingTerminal     State = "validating_to_terminal"
	StateRunningTerminal        State = "running_terminal"
	StateCompleted              State = "completed"
	StateAborted                State = "aborted"
)

// runningState returns the state entered when the given role executes.
func runningState(role Role) State {
	switch role {
	case RoleLeading:
		return StateRunningLeading
	case RoleIntermediate:
		return StateRunningIntermediate
	case RoleTerminal:
		return StateRunningTerminal
	}
	return StateIdle
}

// validatingState returns the state entered while the hop into target
// is being validated.
func validatingState(target Role) State {
	switch target {
	case RoleIntermediate:
		return StateValidatingIntermediate
	case RoleTerminal:
		return StateValidatingTerminal
	}
	return StateIdle
}

// ValidationOutcome is the result of a single validation check.
type ValidationOutcome string

const (
	// OutcomePassed indicates the check succeeded.
	OutcomePassed ValidationOutcome = "passed"

	// OutcomeFailed indicates the check ran and rejected the payload.
	OutcomeFailed ValidationOutcome = "failed"

	// OutcomeSkipped indicates the check never ran because a fatal rule
	// failed earlier in the same round.
	OutcomeSkipped ValidationOutcome = "skipped"
)

// ValidationRecord captures the outcome of one validation check against
// a buffer. Records are append-only; re-validation adds a new round of
// records and never rewrites earlier ones.
type ValidationRecord struct {
	Rule    string            `json:"rule"`
	Outcome ValidationOutcome `json:"outcome"`
	Detail  string            `json:"detail,omitempty"`
	At      time.Time         `json:"at"`
}

func (r ValidationRecord) String() string {
	if r.Detail == "" {
		return fmt.Sprintf("%s=%s", r.Rule, r.Outcome)
	}
	return fmt.Sprintf("%s=%s (%s)", r.Rule, r.Outcome, r.Detail)
}

// StageStatus is the completion status of a single stage.
type StageStatus string

const (
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// RunStatus is the terminal status of a workflow run.
type RunStatus string

const (
	// RunCompleted means all three stages ran and both hops validated.
	RunCompleted RunStatus = "completed"

	// RunAborted means execution stopped early; Result.AbortReason says why.
	RunAborted RunStatus = "aborted"
)

// AbortReason classifies why a run aborted.
type AbortReason string

const (
	// AbortPreconditionFailed means a readiness check failed before any
	// stage executed.
	AbortPreconditionFailed AbortReason = "precondition_failed"

	// AbortContractViolation means a hop buffer or emitted payload failed
	// validation against its contract.
	AbortContractViolation AbortReason = "contract_violation"

	// AbortTimeout means a stage exceeded its maximum duration.
	AbortTimeout AbortReason = "timeout"

	// AbortInternalError means a stage returned an unclassified error.
	AbortInternalError AbortReason = "internal_error"

	// AbortRemoteUnreachable means a remote agent behind an adapter could
	// not be reached.
	AbortRemoteUnreachable AbortReason = "remote_unreachable"

	// AbortAdapterTranslation means a remote reply could not be translated
	// into a payload.
	AbortAdapterTranslation AbortReason = "adapter_translation"

	// AbortCanceled means the caller's context was canceled between states.
	AbortCanceled AbortReason = "canceled"
)
