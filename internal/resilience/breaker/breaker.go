// Package breaker implements per-action circuit breakers. A breaker lives for
// the process lifetime and is shared across runs, so an action whose
// collaborator is persistently down short-circuits every run, not just one.
package breaker

import (
	"sync"
	"time"

	"github.com/dermalens/conductor/internal/core/clock"
	"github.com/dermalens/conductor/internal/core/domain"
	"github.com/dermalens/conductor/internal/metrics"
)

// State of a single breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the thresholds shared by every breaker in a registry.
type Config struct {
	// MaxFailures is the number of consecutive failures in Closed state
	// before the circuit opens.
	MaxFailures int

	// ResetTimeout is how long an open circuit blocks calls before a
	// half-open probe is allowed.
	ResetTimeout time.Duration

	// SuccessThreshold is the number of consecutive successes in Half-Open
	// state required to close the circuit again.
	SuccessThreshold int
}

// DefaultConfig returns the thresholds used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxFailures:      3,
		ResetTimeout:     30 * time.Second,
		SuccessThreshold: 2,
	}
}

// Stats is a point-in-time snapshot of one breaker.
type Stats struct {
	State                State     `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastTransition       time.Time `json:"last_transition"`
}

// MarshalText lets Stats.State render as its name in JSON snapshots.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name back into its value.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "open":
		*s = StateOpen
	case "half-open":
		*s = StateHalfOpen
	default:
		*s = StateClosed
	}
	return nil
}

// Breaker is the failure-isolation state machine for one action id. Each
// breaker carries its own lock so unrelated actions never contend.
type Breaker struct {
	id  domain.ActionID
	cfg Config
	clk clock.Clock

	mu             sync.Mutex
	state          State
	failures       int
	successes      int
	lastTransition time.Time
}

func newBreaker(id domain.ActionID, cfg Config, clk clock.Clock) *Breaker {
	b := &Breaker{
		id:             id,
		cfg:            cfg,
		clk:            clk,
		state:          StateClosed,
		lastTransition: clk.Now(),
	}
	metrics.BreakerState.WithLabelValues(string(id)).Set(0)
	return b
}

// Allow checks whether a call may proceed. An open circuit whose reset window
// has elapsed transitions to half-open and lets the probe through; otherwise
// the call is rejected with CircuitOpenError before any executor is reached.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}

	retryAt := b.lastTransition.Add(b.cfg.ResetTimeout)
	if b.clk.Now().Before(retryAt) {
		return &domain.CircuitOpenError{ID: b.id, RetryAt: retryAt}
	}

	b.transition(StateHalfOpen)
	return nil
}

// RecordSuccess feeds a successful call into the state machine.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
			b.failures = 0
			b.successes = 0
		}
	}
}

// RecordFailure feeds a failed call into the state machine.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.MaxFailures {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		// Any failure while probing reopens immediately.
		b.transition(StateOpen)
		b.successes = 0
	}
}

// Snapshot returns the breaker's current counters and state.
func (b *Breaker) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:                b.state,
		ConsecutiveFailures:  b.failures,
		ConsecutiveSuccesses: b.successes,
		LastTransition:       b.lastTransition,
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	b.state = to
	b.lastTransition = b.clk.Now()
	metrics.BreakerState.WithLabelValues(string(b.id)).Set(float64(to))
}
