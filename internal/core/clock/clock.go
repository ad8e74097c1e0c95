// Package clock abstracts time so retry delays and breaker reset windows can
// be driven deterministically in tests instead of sleeping.
package clock

import (
	"sync"
	"time"
)

// Clock provides the two time operations the run path needs.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// System is the wall-clock implementation.
type System struct{}

func (System) Now() time.Time {
	return time.Now()
}

func (System) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Manual is a hand-advanced clock for tests. Advance moves time forward and
// fires any timers that have come due.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	at time.Time
	ch chan time.Time
}

// NewManual returns a manual clock starting at the given instant.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &manualTimer{at: m.now.Add(d), ch: make(chan time.Time, 1)}
	if d <= 0 {
		t.ch <- m.now
		return t.ch
	}
	m.timers = append(m.timers, t)
	return t.ch
}

// Advance moves the clock forward by d, firing due timers in place.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.now = m.now.Add(d)
	remaining := m.timers[:0]
	for _, t := range m.timers {
		if !t.at.After(m.now) {
			t.ch <- m.now
		} else {
			remaining = append(remaining, t)
		}
	}
	m.timers = remaining
}
