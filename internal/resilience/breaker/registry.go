package breaker

import (
	"sync"

	"github.com/dermalens/conductor/internal/core/clock"
	"github.com/dermalens/conductor/internal/core/domain"
)

// Registry holds one breaker per action id, created lazily on first use.
// The registry lock only guards the map; each breaker synchronizes itself, so
// concurrent runs touching different actions do not contend.
type Registry struct {
	cfg Config
	clk clock.Clock

	mu       sync.RWMutex
	breakers map[domain.ActionID]*Breaker
}

// NewRegistry returns a registry using cfg for every breaker it creates.
// A nil clock falls back to the system clock.
func NewRegistry(cfg Config, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.System{}
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultConfig().MaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig().ResetTimeout
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	return &Registry{
		cfg:      cfg,
		clk:      clk,
		breakers: make(map[domain.ActionID]*Breaker),
	}
}

// For returns the breaker for id, creating it on first use.
func (r *Registry) For(id domain.ActionID) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[id]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[id]; ok {
		return b
	}
	b = newBreaker(id, r.cfg, r.clk)
	r.breakers[id] = b
	return b
}

// Snapshot returns the current stats of every breaker created so far.
func (r *Registry) Snapshot() map[domain.ActionID]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[domain.ActionID]Stats, len(r.breakers))
	for id, b := range r.breakers {
		out[id] = b.Snapshot()
	}
	return out
}
