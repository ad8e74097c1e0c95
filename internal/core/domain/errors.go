package domain

import (
	"fmt"
	"time"
)

// PlanNotFound cause tags, carried for observability. Both mean the same
// thing to the caller: no action sequence reaches the goal.
const (
	PlanCauseExhausted   = "frontier_exhausted"
	PlanCauseCapExceeded = "expansion_cap_exceeded"
)

// PlanNotFoundError means no sequence of catalog actions reaches the goal
// within the search bound.
type PlanNotFoundError struct {
	Cause      string
	Expansions int
}

func (e *PlanNotFoundError) Error() string {
	return fmt.Sprintf("no plan found (%s after %d expansions)", e.Cause, e.Expansions)
}

// UnknownActionError means an action id was referenced that is missing from
// the catalog. This is a configuration error and is always fatal.
type UnknownActionError struct {
	ID ActionID
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q", e.ID)
}

// PreconditionViolationError is an internal signal: a plan step's
// precondition no longer holds against the current state. It triggers
// replanning and is never surfaced to the caller.
type PreconditionViolationError struct {
	ID ActionID
}

func (e *PreconditionViolationError) Error() string {
	return fmt.Sprintf("precondition for action %q no longer holds", e.ID)
}

// CircuitOpenError means the circuit breaker for an action rejected the call
// before the executor was reached. It feeds the recovery decision exactly
// like any other domain failure.
type CircuitOpenError struct {
	ID      ActionID
	RetryAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for action %q", e.ID)
}

// TimeoutError means a single action invocation exceeded its deadline.
// Subject to the same recovery path as any domain failure.
type TimeoutError struct {
	ID      ActionID
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("action %q timed out after %s", e.ID, e.Timeout)
}

// CriticalAbortError means a critical action failed; the run terminated
// immediately at that step.
type CriticalAbortError struct {
	ID  ActionID
	Err error
}

func (e *CriticalAbortError) Error() string {
	return fmt.Sprintf("critical action %q failed: %v", e.ID, e.Err)
}

func (e *CriticalAbortError) Unwrap() error {
	return e.Err
}
