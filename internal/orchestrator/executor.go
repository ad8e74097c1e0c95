package orchestrator

import (
	"context"
	"fmt"

	"github.com/dermalens/conductor/internal/core/domain"
)

// Executor is the narrow contract the core holds against the surrounding
// domain logic. Whatever the executor does internally (network call, model
// inference, file I/O), the orchestrator trusts only the returned state delta
// and the success/failure signal, and enforces the timeout from outside.
type Executor interface {
	Execute(ctx context.Context, id domain.ActionID, state domain.Snapshot) (domain.ExecResult, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, id domain.ActionID, state domain.Snapshot) (domain.ExecResult, error)

func (f ExecutorFunc) Execute(ctx context.Context, id domain.ActionID, state domain.Snapshot) (domain.ExecResult, error) {
	return f(ctx, id, state)
}

// ExecutorMap binds each catalog action id to its executor.
type ExecutorMap map[domain.ActionID]Executor

// validateExecutors checks that every catalog action has an executor bound
// before a run starts. Missing bindings are configuration errors.
func (o *Orchestrator) validateExecutors(execs ExecutorMap) error {
	for _, id := range o.catalog.IDs() {
		if _, ok := execs[id]; !ok {
			return fmt.Errorf("no executor bound for action %q", id)
		}
		if !o.strategies.Has(id) {
			o.log.Warn("no recovery strategy for action, fail-safe default applies", "action", id)
		}
	}
	return nil
}
