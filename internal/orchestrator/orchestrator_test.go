package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dermalens/conductor/internal/catalog"
	"github.com/dermalens/conductor/internal/core/clock"
	"github.com/dermalens/conductor/internal/core/domain"
	"github.com/dermalens/conductor/internal/core/planner"
	"github.com/dermalens/conductor/internal/eventbus"
	"github.com/dermalens/conductor/internal/resilience/breaker"
	"github.com/dermalens/conductor/internal/resilience/recovery"
)

var errAgentDown = errors.New("agent unavailable")

type fixture struct {
	orch     *Orchestrator
	bus      *eventbus.Bus
	breakers *breaker.Registry
	clk      *clock.Manual
}

// newFixture builds an orchestrator with a manual clock so retry delays of
// zero resolve immediately and breaker windows are test-controlled.
func newFixture(t *testing.T, cat *catalog.Catalog, table *recovery.Table, brCfg breaker.Config, opts Options) *fixture {
	t.Helper()

	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	bus := eventbus.New(0, clk)
	breakers := breaker.NewRegistry(brCfg, clk)

	orch, err := New(Config{
		Catalog:    cat,
		Planner:    planner.New(cat, planner.Config{}),
		Breakers:   breakers,
		Strategies: table,
		Bus:        bus,
		Clock:      clk,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Options:    opts,
	})
	require.NoError(t, err)

	return &fixture{orch: orch, bus: bus, breakers: breakers, clk: clk}
}

func ok() Executor {
	return ExecutorFunc(func(context.Context, domain.ActionID, domain.Snapshot) (domain.ExecResult, error) {
		return domain.ExecResult{}, nil
	})
}

// allOK binds a succeeding executor to every catalog action.
func allOK(cat *catalog.Catalog) ExecutorMap {
	execs := make(ExecutorMap, cat.Len())
	for _, id := range cat.IDs() {
		execs[id] = ok()
	}
	return execs
}

// failing returns an executor that fails the first n calls, then succeeds.
// n < 0 means fail forever. calls, if non-nil, receives the total call count.
func failing(n int, calls *int) Executor {
	count := 0
	return ExecutorFunc(func(context.Context, domain.ActionID, domain.Snapshot) (domain.ExecResult, error) {
		count++
		if calls != nil {
			*calls = count
		}
		if n < 0 || count <= n {
			return domain.ExecResult{}, errAgentDown
		}
		return domain.ExecResult{}, nil
	})
}

// twoStepCatalog is a minimal chain: "first" unlocks "second".
func twoStepCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat := catalog.New()
	require.NoError(t, cat.Register(domain.Descriptor{
		ID:   "first",
		Cost: 1,
		Effect: func(domain.Snapshot) domain.Delta {
			return domain.Delta{"first": true}
		},
	}))
	require.NoError(t, cat.Register(domain.Descriptor{
		ID:   "second",
		Cost: 1,
		Precondition: func(s domain.Snapshot) bool {
			return s.Bool("first")
		},
		Effect: func(domain.Snapshot) domain.Delta {
			return domain.Delta{"second": true}
		},
	}))
	cat.Seal()
	return cat
}

func twoStepGoal() domain.Goal {
	return domain.Goal{"second": true}
}

func twoStepStart() domain.Snapshot {
	return domain.NewSnapshot(map[domain.Fact]any{"first": false, "second": false})
}

func skipTable(ids ...domain.ActionID) *recovery.Table {
	rows := make(map[domain.ActionID]recovery.Strategy, len(ids))
	for _, id := range ids {
		rows[id] = recovery.Strategy{}
	}
	return recovery.NewTable(rows)
}

func TestNew_RequiresCoreCollaborators(t *testing.T) {
	cat := twoStepCatalog(t)
	p := planner.New(cat, planner.Config{})

	_, err := New(Config{})
	assert.ErrorContains(t, err, "catalog")

	_, err = New(Config{Catalog: cat})
	assert.ErrorContains(t, err, "planner")

	_, err = New(Config{Catalog: cat, Planner: p})
	assert.ErrorContains(t, err, "breaker")

	_, err = New(Config{Catalog: cat, Planner: p, Breakers: breaker.NewRegistry(breaker.Config{}, nil)})
	assert.ErrorContains(t, err, "strategy")
}

func TestExecute_RejectsUnboundAction(t *testing.T) {
	f := newFixture(t, twoStepCatalog(t), skipTable("first", "second"), breaker.Config{}, Options{})

	_, err := f.orch.Execute(context.Background(), twoStepStart(), twoStepGoal(), ExecutorMap{
		"first": ok(),
	})
	assert.ErrorContains(t, err, `no executor bound for action "second"`)
}

func TestExecute_StandardPipeline(t *testing.T) {
	cat, err := catalog.Dermal(nil)
	require.NoError(t, err)
	f := newFixture(t, cat, recovery.DermalDefaults(), breaker.Config{}, Options{})

	trace, err := f.orch.Execute(context.Background(), domain.DefaultStartState(), domain.DefaultGoal(), allOK(cat))
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeDone, trace.Outcome)
	assert.True(t, trace.GoalSatisfied)
	assert.Empty(t, trace.Replans)
	assert.NotEmpty(t, trace.RunID)

	require.Len(t, trace.Steps, 16)
	for _, step := range trace.Steps {
		assert.Equal(t, domain.StepCompleted, step.Status)
		assert.Equal(t, 1, step.Attempt)
	}
	assert.Equal(t, catalog.ActionConsentVerification, trace.Steps[0].ActionID)
	assert.Equal(t, catalog.ActionAuditLogging, trace.Steps[15].ActionID)
	assert.True(t, trace.FinalState.Bool(domain.FactAuditLogged))
	assert.False(t, trace.FinalState.Bool(domain.FactSafetyMarginApplied))
}

func TestExecute_LowConfidenceReplansThroughSafetyCalibration(t *testing.T) {
	cat, err := catalog.Dermal(nil)
	require.NoError(t, err)
	f := newFixture(t, cat, recovery.DermalDefaults(), breaker.Config{}, Options{})

	execs := allOK(cat)
	execs[catalog.ActionToneDetection] = ExecutorFunc(
		func(context.Context, domain.ActionID, domain.Snapshot) (domain.ExecResult, error) {
			return domain.ExecResult{
				Updates: domain.Delta{
					domain.FactConfidenceScore: 0.42,
					domain.FactLowConfidence:   true,
					domain.FactFitzpatrickType: domain.FitzpatrickVI,
				},
				Replan: true,
			}, nil
		})

	trace, err := f.orch.Execute(context.Background(), domain.DefaultStartState(), domain.DefaultGoal(), execs)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeDone, trace.Outcome)
	assert.True(t, trace.GoalSatisfied)

	require.Len(t, trace.Replans, 1)
	rp := trace.Replans[0]
	assert.Equal(t, 4, rp.AtStep, "replan happens right after tone detection")
	assert.Contains(t, rp.Reason, "requested replan")
	assert.Contains(t, rp.NewPlan, catalog.ActionSafetyCalibration)
	assert.NotContains(t, rp.NewPlan, catalog.ActionStandardCalibration)

	require.Len(t, trace.Steps, 16)
	executed := make([]domain.ActionID, 0, len(trace.Steps))
	for _, step := range trace.Steps {
		assert.Equal(t, domain.StepCompleted, step.Status)
		executed = append(executed, step.ActionID)
	}
	assert.Contains(t, executed, catalog.ActionSafetyCalibration)
	assert.NotContains(t, executed, catalog.ActionStandardCalibration)

	assert.True(t, trace.FinalState.Bool(domain.FactSafetyMarginApplied))
	assert.Equal(t, 0.42, trace.FinalState.Float(domain.FactConfidenceScore))
}

func TestExecute_CriticalFailureAborts(t *testing.T) {
	cat, err := catalog.Dermal(nil)
	require.NoError(t, err)
	f := newFixture(t, cat, recovery.DermalDefaults(), breaker.Config{}, Options{})

	execs := allOK(cat)
	execs[catalog.ActionEncryption] = failing(-1, nil)

	trace, err := f.orch.Execute(context.Background(), domain.DefaultStartState(), domain.DefaultGoal(), execs)

	var abort *domain.CriticalAbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, catalog.ActionEncryption, abort.ID)
	assert.ErrorIs(t, abort, errAgentDown)

	assert.Equal(t, domain.OutcomeAborted, trace.Outcome)
	assert.False(t, trace.GoalSatisfied)
	assert.NotEmpty(t, trace.Error)

	last := trace.Steps[len(trace.Steps)-1]
	assert.Equal(t, catalog.ActionEncryption, last.ActionID)
	assert.Equal(t, domain.StepFailed, last.Status)
	assert.Len(t, trace.Completed(), 15)
}

func TestExecute_CriticalFailureAbortsWithoutRetry(t *testing.T) {
	cat, err := catalog.Dermal(nil)
	require.NoError(t, err)
	f := newFixture(t, cat, recovery.DermalDefaults(), breaker.Config{}, Options{})

	calls := 0
	execs := allOK(cat)
	execs[catalog.ActionImageValidation] = failing(-1, &calls)

	trace, err := f.orch.Execute(context.Background(), domain.DefaultStartState(), domain.DefaultGoal(), execs)

	var abort *domain.CriticalAbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, 1, calls, "a critical action is never retried")

	require.Len(t, trace.Steps, 2, "nothing runs after the critical failure")
	assert.Equal(t, domain.StepCompleted, trace.Steps[0].Status)
	failed := trace.Steps[1]
	assert.Equal(t, catalog.ActionImageValidation, failed.ActionID)
	assert.Equal(t, domain.StepFailed, failed.Status)
	assert.Equal(t, 1, failed.Attempt)
}

func TestExecute_RetrySucceedsWithinBudget(t *testing.T) {
	table := recovery.NewTable(map[domain.ActionID]recovery.Strategy{
		"first":  {Retryable: true, MaxRetries: 2},
		"second": {},
	})
	f := newFixture(t, twoStepCatalog(t), table, breaker.Config{}, Options{})

	calls := 0
	trace, err := f.orch.Execute(context.Background(), twoStepStart(), twoStepGoal(), ExecutorMap{
		"first":  failing(2, &calls),
		"second": ok(),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, calls, "two failures then the success")
	assert.True(t, trace.GoalSatisfied)

	require.Len(t, trace.Steps, 2)
	assert.Equal(t, domain.StepCompleted, trace.Steps[0].Status)
	assert.Equal(t, 3, trace.Steps[0].Attempt, "the record carries the attempts consumed")
}

func TestExecute_SkipDegradesRun(t *testing.T) {
	// "second" sits at the end of the chain, so skipping it exhausts the
	// plan without triggering any drift replan.
	f := newFixture(t, twoStepCatalog(t), skipTable("first", "second"), breaker.Config{}, Options{})

	trace, err := f.orch.Execute(context.Background(), twoStepStart(), twoStepGoal(), ExecutorMap{
		"first":  ok(),
		"second": failing(-1, nil),
	})
	require.NoError(t, err, "a skip never fails the run")

	assert.Equal(t, domain.OutcomeDone, trace.Outcome)
	assert.False(t, trace.GoalSatisfied)
	assert.True(t, trace.Degraded())

	require.Len(t, trace.Steps, 2)
	skipped := trace.Steps[1]
	assert.Equal(t, domain.StepSkipped, skipped.Status)
	assert.Equal(t, errAgentDown.Error(), skipped.Error)
	assert.False(t, trace.FinalState.Bool("second"), "skip leaves the state untouched")
}

func TestExecute_SkipIsNotStickyAcrossReplans(t *testing.T) {
	// "first" fails once and gets skipped; the drift replan re-plans it,
	// and this time it succeeds.
	f := newFixture(t, twoStepCatalog(t), skipTable("first", "second"), breaker.Config{}, Options{})

	trace, err := f.orch.Execute(context.Background(), twoStepStart(), twoStepGoal(), ExecutorMap{
		"first":  failing(1, nil),
		"second": ok(),
	})
	require.NoError(t, err)

	assert.True(t, trace.GoalSatisfied)
	require.Len(t, trace.Replans, 1)
	assert.Contains(t, trace.Replans[0].Reason, "precondition")

	require.Len(t, trace.Steps, 3)
	assert.Equal(t, domain.StepSkipped, trace.Steps[0].Status)
	assert.Equal(t, domain.StepCompleted, trace.Steps[1].Status)
	assert.Equal(t, domain.ActionID("first"), trace.Steps[1].ActionID)
	assert.Equal(t, domain.StepCompleted, trace.Steps[2].Status)
}

func TestExecute_StateDriftTriggersReplan(t *testing.T) {
	// The executor's returned delta undoes the declared effect on the
	// first call, so the next step's precondition no longer holds.
	f := newFixture(t, twoStepCatalog(t), skipTable("first", "second"), breaker.Config{}, Options{})

	calls := 0
	trace, err := f.orch.Execute(context.Background(), twoStepStart(), twoStepGoal(), ExecutorMap{
		"first": ExecutorFunc(func(context.Context, domain.ActionID, domain.Snapshot) (domain.ExecResult, error) {
			calls++
			if calls == 1 {
				return domain.ExecResult{Updates: domain.Delta{"first": false}}, nil
			}
			return domain.ExecResult{}, nil
		}),
		"second": ok(),
	})
	require.NoError(t, err)

	assert.True(t, trace.GoalSatisfied)
	require.Len(t, trace.Replans, 1)
	assert.Contains(t, trace.Replans[0].Reason, `precondition for action "second"`)
	assert.Equal(t, []domain.ActionID{"first", "second"}, trace.Replans[0].NewPlan)
}

func TestExecute_ReplanBudgetExhausted(t *testing.T) {
	// "first" fails forever and is merely skipped; every replan produces
	// the same doomed plan, so the budget is the only way out.
	f := newFixture(t, twoStepCatalog(t), skipTable("first", "second"), breaker.Config{MaxFailures: 100}, Options{
		MaxReplans: 2,
	})

	trace, err := f.orch.Execute(context.Background(), twoStepStart(), twoStepGoal(), ExecutorMap{
		"first":  failing(-1, nil),
		"second": ok(),
	})

	require.ErrorIs(t, err, ErrReplanBudgetExhausted)
	assert.Equal(t, domain.OutcomeAborted, trace.Outcome)
	assert.Len(t, trace.Replans, 2)
}

func TestExecute_FallbackSubstitution(t *testing.T) {
	cat, err := catalog.Dermal(nil)
	require.NoError(t, err)
	f := newFixture(t, cat, recovery.DermalDefaults(), breaker.Config{}, Options{})

	execs := allOK(cat)
	execs[catalog.ActionStandardCalibration] = failing(-1, nil)

	trace, err := f.orch.Execute(context.Background(), domain.DefaultStartState(), domain.DefaultGoal(), execs)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeDone, trace.Outcome)
	assert.True(t, trace.GoalSatisfied)
	assert.Empty(t, trace.Replans, "substitution happens in place, no replan")

	require.Len(t, trace.Steps, 17)
	failed := trace.Steps[4]
	assert.Equal(t, catalog.ActionStandardCalibration, failed.ActionID)
	assert.Equal(t, domain.StepFailed, failed.Status)

	substituted := trace.Steps[5]
	assert.Equal(t, catalog.ActionSafetyCalibration, substituted.ActionID)
	assert.Equal(t, domain.StepCompleted, substituted.Status)
	assert.Equal(t, 1, substituted.Attempt)

	assert.True(t, trace.FinalState.Bool(domain.FactSafetyMarginApplied))
}

func TestExecute_FailingFallbackDegradesToSkip(t *testing.T) {
	cat := catalog.New()
	require.NoError(t, cat.Register(domain.Descriptor{
		ID:   "primary",
		Cost: 1,
		Effect: func(domain.Snapshot) domain.Delta {
			return domain.Delta{"done": true}
		},
	}))
	require.NoError(t, cat.Register(domain.Descriptor{
		ID:   "alternate",
		Cost: 2,
		Effect: func(domain.Snapshot) domain.Delta {
			return domain.Delta{"done": true}
		},
	}))
	cat.Seal()

	table := recovery.NewTable(map[domain.ActionID]recovery.Strategy{
		"primary":   {Fallback: "alternate"},
		"alternate": {Fallback: "primary"},
	})
	f := newFixture(t, cat, table, breaker.Config{}, Options{})

	trace, err := f.orch.Execute(context.Background(),
		domain.NewSnapshot(map[domain.Fact]any{"done": false}),
		domain.Goal{"done": true},
		ExecutorMap{
			"primary":   failing(-1, nil),
			"alternate": failing(-1, nil),
		})
	require.NoError(t, err)

	assert.True(t, trace.Degraded())
	require.Len(t, trace.Steps, 2)
	assert.Equal(t, domain.StepFailed, trace.Steps[0].Status)
	assert.Equal(t, domain.ActionID("alternate"), trace.Steps[1].ActionID)
	assert.Equal(t, domain.StepSkipped, trace.Steps[1].Status,
		"one substitution per step, a failing fallback skips instead of chaining")
}

func TestExecute_BreakerOpensAcrossRuns(t *testing.T) {
	cat := catalog.New()
	require.NoError(t, cat.Register(domain.Descriptor{
		ID:   "solo",
		Cost: 1,
		Effect: func(domain.Snapshot) domain.Delta {
			return domain.Delta{"done": true}
		},
	}))
	cat.Seal()

	table := recovery.NewTable(map[domain.ActionID]recovery.Strategy{
		"solo": {Retryable: true, MaxRetries: 1},
	})
	f := newFixture(t, cat, table, breaker.Config{MaxFailures: 2}, Options{})

	start := domain.NewSnapshot(map[domain.Fact]any{"done": false})
	goal := domain.Goal{"done": true}
	calls := 0
	execs := ExecutorMap{"solo": failing(-1, &calls)}

	first, err := f.orch.Execute(context.Background(), start, goal, execs)
	require.NoError(t, err)
	assert.True(t, first.Degraded())
	assert.Equal(t, 2, calls)
	assert.Equal(t, breaker.StateOpen, f.breakers.For("solo").Snapshot().State)

	second, err := f.orch.Execute(context.Background(), start, goal, execs)
	require.NoError(t, err)

	assert.Equal(t, 2, calls, "open circuit must reject without reaching the executor")
	require.Len(t, second.Steps, 1)
	assert.Equal(t, domain.StepSkipped, second.Steps[0].Status)
	assert.Contains(t, second.Steps[0].Error, "circuit breaker open")
}

func TestExecute_TimeoutCountsAsFailure(t *testing.T) {
	cat := catalog.New()
	require.NoError(t, cat.Register(domain.Descriptor{
		ID:   "slow",
		Cost: 1,
		Effect: func(domain.Snapshot) domain.Delta {
			return domain.Delta{"done": true}
		},
	}))
	cat.Seal()

	f := newFixture(t, cat, skipTable("slow"), breaker.Config{}, Options{
		PerActionTimeout: 30 * time.Millisecond,
	})

	trace, err := f.orch.Execute(context.Background(),
		domain.NewSnapshot(map[domain.Fact]any{"done": false}),
		domain.Goal{"done": true},
		ExecutorMap{
			"slow": ExecutorFunc(func(ctx context.Context, _ domain.ActionID, _ domain.Snapshot) (domain.ExecResult, error) {
				<-ctx.Done()
				return domain.ExecResult{}, ctx.Err()
			}),
		})
	require.NoError(t, err)

	assert.True(t, trace.Degraded())
	require.Len(t, trace.Steps, 1)
	assert.Equal(t, domain.StepSkipped, trace.Steps[0].Status)
	assert.Contains(t, trace.Steps[0].Error, "timed out")
	assert.Equal(t, 1, f.breakers.For("slow").Snapshot().ConsecutiveFailures)
}

func TestExecute_CancelledBeforeStart(t *testing.T) {
	f := newFixture(t, twoStepCatalog(t), skipTable("first", "second"), breaker.Config{}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	trace, err := f.orch.Execute(ctx, twoStepStart(), twoStepGoal(), ExecutorMap{
		"first":  ok(),
		"second": ok(),
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.OutcomeAborted, trace.Outcome)
	assert.Empty(t, trace.Steps)
}

func TestExecute_CancellationLeavesBreakersUntouched(t *testing.T) {
	f := newFixture(t, twoStepCatalog(t), skipTable("first", "second"), breaker.Config{}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	trace, err := f.orch.Execute(ctx, twoStepStart(), twoStepGoal(), ExecutorMap{
		"first": ok(),
		"second": ExecutorFunc(func(ctx context.Context, _ domain.ActionID, _ domain.Snapshot) (domain.ExecResult, error) {
			// Cancel the run, then linger so the cancellation is what
			// unblocks the call, not this return.
			cancel()
			time.Sleep(100 * time.Millisecond)
			return domain.ExecResult{}, ctx.Err()
		}),
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.OutcomeAborted, trace.Outcome)
	assert.Len(t, trace.Steps, 1, "only the step completed before cancellation is recorded")
	assert.Zero(t, f.breakers.For("second").Snapshot().ConsecutiveFailures,
		"a cancelled run is not a domain failure")
}

func TestExecute_NoPlanAvailable(t *testing.T) {
	f := newFixture(t, twoStepCatalog(t), skipTable("first", "second"), breaker.Config{}, Options{})

	trace, err := f.orch.Execute(context.Background(), twoStepStart(), domain.Goal{"impossible": true}, ExecutorMap{
		"first":  ok(),
		"second": ok(),
	})

	var notFound *domain.PlanNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, domain.OutcomeAborted, trace.Outcome)
	assert.Empty(t, trace.Steps)
}

func TestExecute_EmitsLifecycleEvents(t *testing.T) {
	cat, err := catalog.Dermal(nil)
	require.NoError(t, err)
	f := newFixture(t, cat, recovery.DermalDefaults(), breaker.Config{}, Options{})

	trace, err := f.orch.Execute(context.Background(), domain.DefaultStartState(), domain.DefaultGoal(), allOK(cat))
	require.NoError(t, err)

	byType := make(map[eventbus.Type]int)
	for _, ev := range f.bus.History(time.Time{}, 0) {
		assert.Equal(t, trace.RunID, ev.RunID)
		byType[ev.Type]++
	}

	assert.Equal(t, 1, byType[eventbus.TypePlanCreated])
	assert.Equal(t, 1, byType[eventbus.TypePlanExecute])
	assert.Equal(t, 16, byType[eventbus.TypeActionPre])
	assert.Equal(t, 16, byType[eventbus.TypeAgentComplete])
	assert.Equal(t, 16, byType[eventbus.TypeStateChange])
	assert.Zero(t, byType[eventbus.TypeAgentFail])
}
