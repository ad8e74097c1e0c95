package domain

import "time"

// StepStatus is the terminal disposition of one plan step.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepSkipped   StepStatus = "skipped"
	StepFailed    StepStatus = "failed"
)

// Outcome is the terminal disposition of a whole run.
type Outcome string

const (
	OutcomeDone    Outcome = "done"
	OutcomeAborted Outcome = "aborted"
)

// StepRecord records the disposition of one executed (or skipped) plan step.
// Attempt is the number of invocation attempts the step consumed, so a step
// that succeeded first time carries Attempt 1 and a step retried twice before
// succeeding carries Attempt 3.
type StepRecord struct {
	ActionID  ActionID       `json:"action_id"`
	Attempt   int            `json:"attempt"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Status    StepStatus     `json:"status"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ReplanRecord records a replan: the step index at which it occurred, why,
// and the action sequence of the plan that replaced the remainder.
type ReplanRecord struct {
	AtStep  int        `json:"at_step"`
	Reason  string     `json:"reason"`
	NewPlan []ActionID `json:"new_plan"`
}

// Trace is the ordered, append-only record of everything that happened during
// one run. It is owned exclusively by the orchestrator while the run is live
// and immutable once the run ends.
type Trace struct {
	RunID         string         `json:"run_id"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at,omitempty"`
	Steps         []StepRecord   `json:"steps"`
	Replans       []ReplanRecord `json:"replans,omitempty"`
	FinalState    Snapshot       `json:"final_state"`
	Outcome       Outcome        `json:"outcome"`
	GoalSatisfied bool           `json:"goal_satisfied"`
	Error         string         `json:"error,omitempty"`
}

// Completed returns the records of steps that completed successfully.
func (t *Trace) Completed() []StepRecord {
	return t.byStatus(StepCompleted)
}

// Skipped returns the records of steps that were skipped.
func (t *Trace) Skipped() []StepRecord {
	return t.byStatus(StepSkipped)
}

// Degraded reports whether the run finished but left goal predicates unmet.
func (t *Trace) Degraded() bool {
	return t.Outcome == OutcomeDone && !t.GoalSatisfied
}

func (t *Trace) byStatus(status StepStatus) []StepRecord {
	var out []StepRecord
	for _, s := range t.Steps {
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out
}
