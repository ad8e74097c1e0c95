package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_ApplyDoesNotMutateReceiver(t *testing.T) {
	base := NewSnapshot(map[Fact]any{"a": false, "n": 1.5})

	next := base.Apply(Delta{"a": true, "b": true})

	assert.False(t, base.Bool("a"), "original snapshot must stay untouched")
	_, present := base.Get("b")
	assert.False(t, present)

	assert.True(t, next.Bool("a"))
	assert.True(t, next.Bool("b"))
	assert.Equal(t, 1.5, next.Float("n"))
}

func TestSnapshot_NewCopiesInput(t *testing.T) {
	facts := map[Fact]any{"a": true}
	s := NewSnapshot(facts)
	facts["a"] = false

	assert.True(t, s.Bool("a"))
}

func TestSnapshot_KeyIsOrderIndependent(t *testing.T) {
	a := NewSnapshot(map[Fact]any{"x": true, "y": 0.42, "z": "VI"})
	b := NewSnapshot(map[Fact]any{"z": "VI", "y": 0.42, "x": true})

	assert.Equal(t, a.Key(), b.Key())

	c := a.Apply(Delta{"x": false})
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestGoal_Unsatisfied(t *testing.T) {
	s := NewSnapshot(map[Fact]any{"a": true, "b": false, "score": 0.9})

	assert.Equal(t, 0, Goal{"a": true}.Unsatisfied(s))
	assert.Equal(t, 1, Goal{"b": true}.Unsatisfied(s))
	assert.Equal(t, 2, Goal{"b": true, "missing": true}.Unsatisfied(s))
	assert.True(t, Goal{"a": true, "score": 0.9}.SatisfiedBy(s))
	assert.False(t, Goal{"score": 0.5}.SatisfiedBy(s))
}

func TestSnapshot_JSONRoundTrip(t *testing.T) {
	s := NewSnapshot(map[Fact]any{"flag": true, "tone": "III"})

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var back Snapshot
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Bool("flag"))
	assert.Equal(t, "III", back.Text("tone"))
}

func TestTrace_Degraded(t *testing.T) {
	done := &Trace{Outcome: OutcomeDone, GoalSatisfied: true}
	assert.False(t, done.Degraded())

	degraded := &Trace{
		Outcome:       OutcomeDone,
		GoalSatisfied: false,
		Steps: []StepRecord{
			{ActionID: "a", Status: StepCompleted},
			{ActionID: "b", Status: StepSkipped},
		},
	}
	assert.True(t, degraded.Degraded())
	assert.Len(t, degraded.Skipped(), 1)
	assert.Len(t, degraded.Completed(), 1)
}
