// Package recovery holds the static per-action failure policy and the pure
// decision function applied when a step fails.
package recovery

import (
	"time"

	"github.com/dermalens/conductor/internal/core/domain"
)

// Strategy is the failure policy for one action id. Loaded once at startup
// and read-only during execution.
type Strategy struct {
	// Critical actions abort the whole run on failure. They never degrade
	// to a skip.
	Critical bool

	// Retryable actions are re-invoked up to MaxRetries additional times
	// after the first failure, waiting RetryDelay between attempts.
	Retryable  bool
	MaxRetries int
	RetryDelay time.Duration

	// Fallback, when set, substitutes another catalog action for the step
	// after retries are exhausted.
	Fallback domain.ActionID
}

// failSafe is applied to any action id without a configured row: treat the
// failure as fatal rather than silently degrading.
var failSafe = Strategy{Critical: true}

// Table maps action ids to their strategies.
type Table struct {
	rows map[domain.ActionID]Strategy
}

// NewTable builds a table from explicit rows. The input map is copied.
func NewTable(rows map[domain.ActionID]Strategy) *Table {
	copied := make(map[domain.ActionID]Strategy, len(rows))
	for id, s := range rows {
		copied[id] = s
	}
	return &Table{rows: copied}
}

// For returns the strategy for id, or the fail-safe default if no row exists.
func (t *Table) For(id domain.ActionID) Strategy {
	if s, ok := t.rows[id]; ok {
		return s
	}
	return failSafe
}

// Has reports whether an explicit row exists for id.
func (t *Table) Has(id domain.ActionID) bool {
	_, ok := t.rows[id]
	return ok
}

// DecisionKind enumerates the possible outcomes of a failure decision.
type DecisionKind int

const (
	// Abort terminates the whole run.
	Abort DecisionKind = iota
	// Retry re-invokes the same action after Delay.
	Retry
	// Fallback substitutes another action for this step.
	Fallback
	// Skip marks the step skipped and continues with the state unchanged.
	Skip
)

// String returns a human-readable representation of the decision kind.
func (k DecisionKind) String() string {
	switch k {
	case Abort:
		return "abort"
	case Retry:
		return "retry"
	case Fallback:
		return "fallback"
	case Skip:
		return "skip"
	default:
		return "unknown"
	}
}

// Decision is the outcome of applying the strategy table to one failure.
type Decision struct {
	Kind     DecisionKind
	Delay    time.Duration
	Fallback domain.ActionID
}

// Decide maps a failed attempt to the action the orchestrator should take.
// attempt is 1-based: the first failure of a step arrives as attempt 1, so a
// retryable action with MaxRetries=2 is invoked at most three times in total.
// The error value is part of the contract for symmetry with the executor
// boundary; every failure kind, including an open breaker, is treated alike.
func (t *Table) Decide(id domain.ActionID, attempt int, err error) Decision {
	s := t.For(id)

	if s.Critical {
		return Decision{Kind: Abort}
	}
	if s.Retryable && attempt <= s.MaxRetries {
		return Decision{Kind: Retry, Delay: s.RetryDelay}
	}
	if s.Fallback != "" {
		return Decision{Kind: Fallback, Fallback: s.Fallback}
	}
	return Decision{Kind: Skip}
}
