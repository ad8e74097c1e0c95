// Package planner searches the action catalog for a minimal-cost ordered plan
// transforming a start state into one satisfying the goal.
package planner

import (
	"container/heap"

	"github.com/dermalens/conductor/internal/catalog"
	"github.com/dermalens/conductor/internal/core/domain"
	"github.com/dermalens/conductor/internal/metrics"
)

// DefaultMaxExpansions bounds the search so a catalog whose effects can cycle
// still terminates. Exceeding it is reported as plan-not-found.
const DefaultMaxExpansions = 5000

// Config tunes the search.
type Config struct {
	MaxExpansions int
}

// Planner runs A* over a sealed catalog.
type Planner struct {
	catalog       *catalog.Catalog
	maxExpansions int
}

// New returns a planner over cat. A zero MaxExpansions falls back to the
// default bound.
func New(cat *catalog.Catalog, cfg Config) *Planner {
	max := cfg.MaxExpansions
	if max <= 0 {
		max = DefaultMaxExpansions
	}
	return &Planner{catalog: cat, maxExpansions: max}
}

type node struct {
	state domain.Snapshot
	cost  float64
	path  []domain.Descriptor
	f     float64
	seq   int // insertion order, breaks f-score ties FIFO
}

// Plan searches for a minimal-cost action sequence from start to a state
// satisfying goal. Ties between equal f-scores break by insertion order, so
// identical inputs always yield the identical plan.
func (p *Planner) Plan(start domain.Snapshot, goal domain.Goal) (domain.Plan, error) {
	seq := 0
	frontier := &nodeHeap{}
	heap.Init(frontier)

	h := func(s domain.Snapshot) float64 {
		return float64(goal.Unsatisfied(s))
	}

	heap.Push(frontier, &node{state: start, cost: 0, f: h(start), seq: seq})
	closed := make(map[string]struct{})
	actions := p.catalog.All()
	expansions := 0

	for frontier.Len() > 0 {
		current := heap.Pop(frontier).(*node)

		if goal.SatisfiedBy(current.state) {
			metrics.PlannerExpansions.Observe(float64(expansions))
			return domain.Plan{Actions: current.path}, nil
		}

		key := current.state.Key()
		if _, seen := closed[key]; seen {
			continue
		}
		closed[key] = struct{}{}

		if expansions >= p.maxExpansions {
			return domain.Plan{}, &domain.PlanNotFoundError{
				Cause:      domain.PlanCauseCapExceeded,
				Expansions: expansions,
			}
		}
		expansions++

		for _, act := range actions {
			if !act.Ready(current.state) {
				continue
			}
			next := act.ApplyEffect(current.state)
			if _, seen := closed[next.Key()]; seen {
				continue
			}

			path := make([]domain.Descriptor, len(current.path)+1)
			copy(path, current.path)
			path[len(current.path)] = act

			seq++
			cost := current.cost + act.Cost
			heap.Push(frontier, &node{
				state: next,
				cost:  cost,
				path:  path,
				f:     cost + h(next),
				seq:   seq,
			})
		}
	}

	return domain.Plan{}, &domain.PlanNotFoundError{
		Cause:      domain.PlanCauseExhausted,
		Expansions: expansions,
	}
}

// nodeHeap is a min-heap on f-score with FIFO ordering among equal scores.
type nodeHeap []*node

func (h nodeHeap) Len() int { return len(h) }

func (h nodeHeap) Less(i, j int) bool {
	if h[i].f != h[j].f {
		return h[i].f < h[j].f
	}
	return h[i].seq < h[j].seq
}

func (h nodeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *nodeHeap) Push(x any) { *h = append(*h, x.(*node)) }

func (h *nodeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
