// Package eventbus provides the typed publish/subscribe channel and the
// bounded, replayable history used for incident analysis. Emission is
// fire-and-forget: a slow or panicking subscriber can never block or fail
// the run that emitted the event.
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dermalens/conductor/internal/core/clock"
	"github.com/dermalens/conductor/internal/metrics"
)

// Type identifies a lifecycle event kind.
type Type string

const (
	TypePlanCreated   Type = "plan:created"
	TypePlanExecute   Type = "plan:execute"
	TypeActionPre     Type = "action:pre"
	TypeActionPost    Type = "action:post"
	TypeAgentStart    Type = "agent:start"
	TypeAgentComplete Type = "agent:complete"
	TypeAgentFail     Type = "agent:fail"
	TypeStateChange   Type = "state:change"
	TypeErrorOccurred Type = "error:occurred"
)

// Event is one entry in the run's lifecycle stream. Seq is a bus-wide
// monotonic sequence number giving a total order for deterministic replay.
type Event struct {
	Seq       uint64         `json:"seq"`
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Handler receives events for a subscription.
type Handler func(Event)

// DefaultHistorySize bounds the replay buffer when no size is configured.
const DefaultHistorySize = 1024

type subscription struct {
	eventType Type
	handler   Handler
}

// Bus is the in-process event bus. Safe for concurrent use.
type Bus struct {
	clk clock.Clock

	mu       sync.RWMutex
	subs     map[string]subscription
	history  []Event
	capacity int
	seq      uint64
}

// New returns a bus whose history holds at most capacity events; capacity
// <= 0 falls back to the default. A nil clock uses the system clock.
func New(capacity int, clk clock.Clock) *Bus {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Bus{
		clk:      clk,
		subs:     make(map[string]subscription),
		capacity: capacity,
	}
}

// Emit appends the event to the history and dispatches it to subscribers of
// its type. Dispatch happens on a separate goroutine per subscriber with
// panics contained, so Emit never blocks the caller's critical path.
func (b *Bus) Emit(t Type, runID string, payload map[string]any) {
	b.mu.Lock()
	b.seq++
	ev := Event{
		Seq:       b.seq,
		Type:      t,
		Timestamp: b.clk.Now(),
		RunID:     runID,
		Payload:   payload,
	}
	b.history = append(b.history, ev)
	if len(b.history) > b.capacity {
		b.history = b.history[len(b.history)-b.capacity:]
	}

	// Snapshot matching handlers before releasing the lock so a concurrent
	// subscribe/unsubscribe cannot race the dispatch iteration.
	var handlers []Handler
	for _, sub := range b.subs {
		if sub.eventType == t {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.Unlock()

	metrics.EventsEmitted.WithLabelValues(string(t)).Inc()

	for _, h := range handlers {
		go func(h Handler) {
			defer func() {
				_ = recover()
			}()
			h(ev)
		}(h)
	}
}

// Subscribe registers a handler for one event type and returns the token to
// pass to Unsubscribe.
func (b *Bus) Subscribe(t Type, h Handler) string {
	token := uuid.NewString()
	b.mu.Lock()
	b.subs[token] = subscription{eventType: t, handler: h}
	b.mu.Unlock()
	return token
}

// Unsubscribe removes the subscription identified by token. Unknown tokens
// are ignored.
func (b *Bus) Unsubscribe(token string) {
	b.mu.Lock()
	delete(b.subs, token)
	b.mu.Unlock()
}

// History returns buffered events in emission order. A zero since returns
// from the start of the buffer; limit <= 0 means no limit.
func (b *Bus) History(since time.Time, limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, ev := range b.history {
		if !since.IsZero() && ev.Timestamp.Before(since) {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
