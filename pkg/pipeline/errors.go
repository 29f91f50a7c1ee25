package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnvalidatedBuffer is returned when a buffer is consumed before
	// any validation round ran.
	ErrUnvalidatedBuffer = errors.New("buffer consumed before validation")

	// ErrBufferConsumed is returned when a buffer is bound a second time.
	ErrBufferConsumed = errors.New("buffer already consumed")

	// ErrNotAdjacent is returned when a buffer is constructed between
	// non-neighboring roles.
	ErrNotAdjacent = errors.New("buffer roles are not adjacent")

	// ErrRunInFlight is returned when Execute is called on an orchestrator
	// that is already executing. Concurrent runs need separate instances.
	ErrRunInFlight = errors.New("orchestrator run already in flight")
)

// PreconditionError reports a layer that failed its readiness check
// before any stage executed.
type PreconditionError struct {
	Role Role
	Err  error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed for %s layer: %v", e.Role, e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// ContractViolation reports a payload that failed validation against a
// layer contract. It carries the records of the failing round so callers
// can see exactly which checks rejected the payload.
type ContractViolation struct {
	Source  Role
	Target  Role
	Records []ValidationRecord
}

func (e *ContractViolation) Error() string {
	var failed []string
	for _, r := range e.Records {
		if r.Outcome == OutcomeFailed {
			failed = append(failed, r.String())
		}
	}
	if len(failed) == 0 {
		return fmt.Sprintf("contract violation on %s to %s hop", e.Source, e.Target)
	}
	return fmt.Sprintf("contract violation on %s to %s hop: %s", e.Source, e.Target, strings.Join(failed, "; "))
}

// FailedRecords returns only the records that rejected the payload.
func (e *ContractViolation) FailedRecords() []ValidationRecord {
	var out []ValidationRecord
	for _, r := range e.Records {
		if r.Outcome == OutcomeFailed {
			out = append(out, r)
		}
	}
	return out
}

// StageError reports a stage that ran and failed. Reason classifies the
// failure for abort reporting; Err carries the underlying cause.
type StageError struct {
	Role   Role
	Reason AbortReason
	Err    error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s stage failed: %s", e.Role, e.Reason)
	}
	return fmt.Sprintf("%s stage failed (%s): %v", e.Role, e.Reason, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageTimeout builds the StageError an adapter or the engine reports
// when a stage exceeds its duration bound.
func NewStageTimeout(role Role, err error) *StageError {
	return &StageError{Role: role, Reason: AbortTimeout, Err: err}
}

// NewRemoteUnreachable builds the StageError an adapter reports when its
// remote endpoint cannot be reached.
func NewRemoteUnreachable(role Role, err error) *StageError {
	return &StageError{Role: role, Reason: AbortRemoteUnreachable, Err: err}
}

// NewAdapterTranslation builds the StageError an adapter reports when a
// remote reply cannot be translated into a payload.
func NewAdapterTranslation(role Role, err error) *StageError {
	return &StageError{Role: role, Reason: AbortAdapterTranslation, Err: err}
}

// classifyStageError maps an error returned by Layer.Process onto the
// abort reason recorded in the result. Typed stage errors keep their
// reason; everything else is an internal error.
func classifyStageError(err error) AbortReason {
	var se *StageError
	if errors.As(err, &se) {
		return se.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return AbortTimeout
	}
	if errors.Is(err, context.Canceled) {
		return AbortCanceled
	}
	return AbortInternalError
}
