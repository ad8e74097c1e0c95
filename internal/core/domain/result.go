package domain

// ExecResult is what an external executor hands back on success. The
// orchestrator trusts only this: the state delta, the replan signal and the
// metadata. What the executor did internally is its own business.
type ExecResult struct {
	// Updates are additional fact changes observed by the executor, applied
	// on top of the action's declared effect.
	Updates Delta

	// Replan asks the orchestrator to discard the remainder of the current
	// plan and plan again from the resulting state.
	Replan bool

	// Metadata is carried into the trace step record untouched.
	Metadata map[string]any
}
