package domain

// ActionID identifies a catalog action.
type ActionID string

// Precondition is a predicate over a snapshot that must hold before the
// action may run.
type Precondition func(Snapshot) bool

// Effect declares the state transformation an action produces on success.
// It must be a pure function of the input snapshot.
type Effect func(Snapshot) Delta

// Descriptor declares a catalog action: what it costs, when it may run and
// what it changes. Descriptors are immutable once registered.
type Descriptor struct {
	ID           ActionID
	Cost         float64
	Precondition Precondition
	Effect       Effect
}

// Ready reports whether the action's precondition holds against s.
// An action with no declared precondition is always ready.
func (d Descriptor) Ready(s Snapshot) bool {
	if d.Precondition == nil {
		return true
	}
	return d.Precondition(s)
}

// ApplyEffect folds the action's declared effect over s.
func (d Descriptor) ApplyEffect(s Snapshot) Snapshot {
	if d.Effect == nil {
		return s
	}
	return s.Apply(d.Effect(s))
}

// Plan is an ordered sequence of actions transforming a start state into one
// satisfying the goal.
type Plan struct {
	Actions []Descriptor
}

// TotalCost is the sum of member action costs.
func (p Plan) TotalCost() float64 {
	total := 0.0
	for _, a := range p.Actions {
		total += a.Cost
	}
	return total
}

// Len returns the number of actions in the plan.
func (p Plan) Len() int {
	return len(p.Actions)
}

// IDs returns the ordered action ids of the plan.
func (p Plan) IDs() []ActionID {
	ids := make([]ActionID, len(p.Actions))
	for i, a := range p.Actions {
		ids[i] = a.ID
	}
	return ids
}
