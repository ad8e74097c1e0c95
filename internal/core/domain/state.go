package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Fact names a single entry in the world-state vector.
type Fact string

// Delta is a partial world-state update keyed by fact.
type Delta map[Fact]any

// Snapshot is an immutable view of the full fact vector at a point in time.
// Mutation always goes through Apply, which returns a new Snapshot and leaves
// the receiver untouched, so a Snapshot referenced by a trace entry can never
// change underneath it.
type Snapshot struct {
	facts map[Fact]any
}

// NewSnapshot builds a snapshot from the given facts. The input map is copied.
func NewSnapshot(facts map[Fact]any) Snapshot {
	copied := make(map[Fact]any, len(facts))
	for k, v := range facts {
		copied[k] = v
	}
	return Snapshot{facts: copied}
}

// Get returns the value of a fact and whether it is present.
func (s Snapshot) Get(f Fact) (any, bool) {
	v, ok := s.facts[f]
	return v, ok
}

// Bool returns the fact as a boolean, false if absent or not a bool.
func (s Snapshot) Bool(f Fact) bool {
	v, ok := s.facts[f].(bool)
	return ok && v
}

// Float returns the fact as a float64, 0 if absent or not numeric.
func (s Snapshot) Float(f Fact) float64 {
	switch v := s.facts[f].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// Text returns the fact as a string, "" if absent or not a string.
func (s Snapshot) Text(f Fact) string {
	v, _ := s.facts[f].(string)
	return v
}

// Len returns the number of facts in the vector.
func (s Snapshot) Len() int {
	return len(s.facts)
}

// Apply returns a new snapshot with the delta folded over the receiver.
func (s Snapshot) Apply(d Delta) Snapshot {
	next := make(map[Fact]any, len(s.facts)+len(d))
	for k, v := range s.facts {
		next[k] = v
	}
	for k, v := range d {
		next[k] = v
	}
	return Snapshot{facts: next}
}

// Facts returns a copy of the underlying fact map.
func (s Snapshot) Facts() map[Fact]any {
	out := make(map[Fact]any, len(s.facts))
	for k, v := range s.facts {
		out[k] = v
	}
	return out
}

// Key returns a canonical, order-independent encoding of the fact values.
// Two snapshots with identical facts produce identical keys regardless of how
// they were built, which makes the key usable for search dedup.
func (s Snapshot) Key() string {
	names := make([]string, 0, len(s.facts))
	for k := range s.facts {
		names = append(names, string(k))
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('=')
		fmt.Fprintf(&b, "%v", s.facts[Fact(name)])
		b.WriteByte(';')
	}
	return b.String()
}

// MarshalJSON encodes the snapshot as a plain fact map.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.facts)
}

// UnmarshalJSON decodes a plain fact map into the snapshot.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	facts := make(map[Fact]any)
	if err := json.Unmarshal(data, &facts); err != nil {
		return err
	}
	s.facts = facts
	return nil
}

// Goal is the set of desired fact values. A goal predicate is satisfied when
// the snapshot holds exactly the desired value for that fact.
type Goal map[Fact]any

// SatisfiedBy reports whether every goal predicate holds against s.
func (g Goal) SatisfiedBy(s Snapshot) bool {
	return g.Unsatisfied(s) == 0
}

// Unsatisfied returns the number of goal predicates not yet satisfied by s.
func (g Goal) Unsatisfied(s Snapshot) int {
	n := 0
	for f, want := range g {
		got, ok := s.facts[f]
		if !ok || got != want {
			n++
		}
	}
	return n
}
