// Package orchestrator drives a run: it asks the planner for a plan, executes
// the plan step by step against the bound executors through the circuit
// breakers, applies the recovery strategy on failure, and replans when
// reality diverges from the plan's assumptions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dermalens/conductor/internal/catalog"
	"github.com/dermalens/conductor/internal/core/clock"
	"github.com/dermalens/conductor/internal/core/domain"
	"github.com/dermalens/conductor/internal/core/planner"
	"github.com/dermalens/conductor/internal/eventbus"
	"github.com/dermalens/conductor/internal/metrics"
	"github.com/dermalens/conductor/internal/resilience/breaker"
	"github.com/dermalens/conductor/internal/resilience/recovery"
)

// ErrReplanBudgetExhausted guards against a replan loop: a run that keeps
// skipping and replanning the same failing step terminates instead of
// cycling forever.
var ErrReplanBudgetExhausted = errors.New("replan budget exhausted")

// Options tunes per-run execution behavior.
type Options struct {
	// PerActionTimeout bounds each executor invocation. Zero means the
	// default of 30s.
	PerActionTimeout time.Duration

	// MaxReplans bounds how many times a single run may replan. Zero means
	// the default of 8.
	MaxReplans int
}

// Config wires an orchestrator. Every collaborator is injected explicitly so
// tests can build isolated instances.
type Config struct {
	Catalog    *catalog.Catalog
	Planner    *planner.Planner
	Breakers   *breaker.Registry
	Strategies *recovery.Table
	Bus        *eventbus.Bus
	Clock      clock.Clock
	Logger     *slog.Logger
	Options    Options
}

// Orchestrator executes analysis runs. Each run is strictly sequential;
// concurrent runs share only the breaker registry.
type Orchestrator struct {
	catalog    *catalog.Catalog
	planner    *planner.Planner
	breakers   *breaker.Registry
	strategies *recovery.Table
	bus        *eventbus.Bus
	clk        clock.Clock
	log        *slog.Logger
	opts       Options
}

// New builds an orchestrator from cfg. Catalog, planner, breakers and
// strategies are required; bus, clock and logger get working defaults.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("orchestrator requires a catalog")
	}
	if cfg.Planner == nil {
		return nil, fmt.Errorf("orchestrator requires a planner")
	}
	if cfg.Breakers == nil {
		return nil, fmt.Errorf("orchestrator requires a breaker registry")
	}
	if cfg.Strategies == nil {
		return nil, fmt.Errorf("orchestrator requires a strategy table")
	}
	if cfg.Bus == nil {
		cfg.Bus = eventbus.New(0, cfg.Clock)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Options.PerActionTimeout <= 0 {
		cfg.Options.PerActionTimeout = 30 * time.Second
	}
	if cfg.Options.MaxReplans <= 0 {
		cfg.Options.MaxReplans = 8
	}
	return &Orchestrator{
		catalog:    cfg.Catalog,
		planner:    cfg.Planner,
		breakers:   cfg.Breakers,
		strategies: cfg.Strategies,
		bus:        cfg.Bus,
		clk:        cfg.Clock,
		log:        cfg.Logger,
		opts:       cfg.Options,
	}, nil
}

// Execute runs one analysis from start toward goal. It returns the execution
// trace in every case; the error is non-nil only for the fatal outcomes
// (no plan, unknown action, critical abort, cancellation, replan budget).
func (o *Orchestrator) Execute(ctx context.Context, start domain.Snapshot, goal domain.Goal, execs ExecutorMap) (*domain.Trace, error) {
	if err := o.validateExecutors(execs); err != nil {
		return nil, err
	}

	r := &run{
		o:     o,
		ctx:   ctx,
		goal:  goal,
		execs: execs,
		state: start,
		trace: &domain.Trace{
			RunID:     uuid.NewString(),
			StartedAt: o.clk.Now(),
		},
	}

	o.log.Info("run starting", "run_id", r.trace.RunID, "goal_predicates", len(goal))
	err := r.loop()

	r.trace.FinishedAt = o.clk.Now()
	r.trace.FinalState = r.state
	metrics.RunsTotal.WithLabelValues(string(r.trace.Outcome)).Inc()
	o.log.Info("run finished",
		"run_id", r.trace.RunID,
		"outcome", r.trace.Outcome,
		"steps", len(r.trace.Steps),
		"replans", len(r.trace.Replans),
		"goal_satisfied", r.trace.GoalSatisfied,
	)
	return r.trace, err
}

// run carries the mutable state of one execution.
type run struct {
	o     *Orchestrator
	ctx   context.Context
	goal  domain.Goal
	execs ExecutorMap

	state   domain.Snapshot
	trace   *domain.Trace
	plan    []domain.Descriptor
	planIdx int

	replanReason string
	replanKind   string
	replans      int
}

func (r *run) loop() error {
	needPlan := true
	for {
		// Cancellation is checked at every step boundary and is not a
		// domain failure: breaker counters stay untouched.
		if err := r.ctx.Err(); err != nil {
			r.abort("cancelled", err)
			return err
		}

		if needPlan {
			if err := r.makePlan(); err != nil {
				r.abort("planning_failed", err)
				return err
			}
			needPlan = false
		}

		if r.planIdx >= len(r.plan) {
			r.finish()
			return nil
		}

		act := r.plan[r.planIdx]

		// The state may have drifted since the plan was produced; never
		// execute an action whose precondition no longer holds.
		if !act.Ready(r.state) {
			violation := &domain.PreconditionViolationError{ID: act.ID}
			r.o.bus.Emit(eventbus.TypeErrorOccurred, r.trace.RunID, map[string]any{
				"action": string(act.ID),
				"error":  violation.Error(),
			})
			r.o.log.Debug("precondition drift, replanning", "run_id", r.trace.RunID, "action", act.ID)
			r.replanReason = violation.Error()
			r.replanKind = "precondition_drift"
			needPlan = true
			continue
		}

		replan, err := r.executeStep(act)
		if err != nil {
			return err
		}
		if replan {
			needPlan = true
		}
	}
}

func (r *run) makePlan() error {
	replanning := r.replanReason != ""
	if replanning && r.replans >= r.o.opts.MaxReplans {
		return fmt.Errorf("%w after %d replans (last reason: %s)",
			ErrReplanBudgetExhausted, r.replans, r.replanReason)
	}

	p, err := r.o.planner.Plan(r.state, r.goal)
	if err != nil {
		return err
	}

	if replanning {
		r.trace.Replans = append(r.trace.Replans, domain.ReplanRecord{
			AtStep:  len(r.trace.Steps),
			Reason:  r.replanReason,
			NewPlan: p.IDs(),
		})
		metrics.ReplansTotal.WithLabelValues(r.replanKind).Inc()
		r.replans++
		r.replanReason = ""
		r.replanKind = ""
	}

	r.plan = p.Actions
	r.planIdx = 0

	r.o.bus.Emit(eventbus.TypePlanCreated, r.trace.RunID, map[string]any{
		"actions": actionNames(p.IDs()),
		"cost":    p.TotalCost(),
		"replan":  replanning,
	})
	if !replanning {
		r.o.bus.Emit(eventbus.TypePlanExecute, r.trace.RunID, map[string]any{
			"actions": len(p.Actions),
		})
	}
	r.o.log.Info("plan ready",
		"run_id", r.trace.RunID,
		"actions", len(p.Actions),
		"cost", p.TotalCost(),
		"replan", replanning,
	)
	return nil
}

// executeStep drives one plan step through attempts, fallback or skip. It
// returns replan=true when the executor asked for one, and a non-nil error
// only when the step terminates the whole run.
func (r *run) executeStep(act domain.Descriptor) (bool, error) {
	attempt := 0
	current := act
	substituted := false
	started := r.o.clk.Now()

	for {
		attempt++
		res, invErr := r.invoke(current)
		if invErr == nil {
			r.state = current.ApplyEffect(r.state)
			if len(res.Updates) > 0 {
				r.state = r.state.Apply(res.Updates)
			}
			r.record(current.ID, attempt, started, domain.StepCompleted, "", res.Metadata)
			r.o.bus.Emit(eventbus.TypeStateChange, r.trace.RunID, map[string]any{
				"action": string(current.ID),
			})
			if res.Replan {
				r.replanReason = fmt.Sprintf("executor for %q requested replan", current.ID)
				r.replanKind = "executor_requested"
				r.o.log.Info("executor requested replan", "run_id", r.trace.RunID, "action", current.ID)
				return true, nil
			}
			r.planIdx++
			return false, nil
		}

		// Run-level cancellation surfaced through the call path.
		if r.ctx.Err() != nil {
			r.abort("cancelled", r.ctx.Err())
			return false, r.ctx.Err()
		}

		r.o.bus.Emit(eventbus.TypeAgentFail, r.trace.RunID, map[string]any{
			"action":  string(current.ID),
			"attempt": attempt,
			"error":   invErr.Error(),
		})

		d := r.o.strategies.Decide(current.ID, attempt, invErr)
		if d.Kind == recovery.Fallback && substituted {
			// One substitution per step; a failing fallback degrades.
			d = recovery.Decision{Kind: recovery.Skip}
		}

		switch d.Kind {
		case recovery.Abort:
			r.record(current.ID, attempt, started, domain.StepFailed, invErr.Error(), nil)
			abortErr := &domain.CriticalAbortError{ID: current.ID, Err: invErr}
			r.abort("critical_failure", abortErr)
			return false, abortErr

		case recovery.Retry:
			metrics.RetriesTotal.WithLabelValues(string(current.ID)).Inc()
			r.o.log.Debug("retrying action",
				"run_id", r.trace.RunID,
				"action", current.ID,
				"attempt", attempt,
				"delay", d.Delay,
				"error", invErr,
			)
			select {
			case <-r.ctx.Done():
				r.abort("cancelled", r.ctx.Err())
				return false, r.ctx.Err()
			case <-r.o.clk.After(d.Delay):
			}

		case recovery.Fallback:
			r.record(current.ID, attempt, started, domain.StepFailed, invErr.Error(), nil)
			fb, lookErr := r.o.catalog.Lookup(d.Fallback)
			if lookErr != nil {
				r.abort("unknown_fallback", lookErr)
				return false, lookErr
			}
			if !fb.Ready(r.state) {
				r.record(fb.ID, 0, r.o.clk.Now(), domain.StepSkipped,
					(&domain.PreconditionViolationError{ID: fb.ID}).Error(), nil)
				r.planIdx++
				return false, nil
			}
			r.o.log.Info("substituting fallback action",
				"run_id", r.trace.RunID,
				"failed", current.ID,
				"fallback", fb.ID,
			)
			current = fb
			substituted = true
			attempt = 0
			started = r.o.clk.Now()

		case recovery.Skip:
			r.record(current.ID, attempt, started, domain.StepSkipped, invErr.Error(), nil)
			r.o.log.Warn("skipping failed step",
				"run_id", r.trace.RunID,
				"action", current.ID,
				"attempts", attempt,
				"error", invErr,
			)
			r.planIdx++
			return false, nil
		}
	}
}

// invoke calls the executor for act through its circuit breaker, bounded by
// the per-action timeout. Breaker counters are only touched by real domain
// outcomes: an open-circuit rejection records nothing (no call was made) and
// run-level cancellation records nothing (not a domain failure).
func (r *run) invoke(act domain.Descriptor) (domain.ExecResult, error) {
	br := r.o.breakers.For(act.ID)
	if err := br.Allow(); err != nil {
		return domain.ExecResult{}, err
	}

	exec := r.execs[act.ID]
	r.o.bus.Emit(eventbus.TypeActionPre, r.trace.RunID, map[string]any{
		"action": string(act.ID),
	})
	r.o.bus.Emit(eventbus.TypeAgentStart, r.trace.RunID, map[string]any{
		"action": string(act.ID),
	})

	cctx, cancel := context.WithTimeout(r.ctx, r.o.opts.PerActionTimeout)
	defer cancel()

	type outcome struct {
		res domain.ExecResult
		err error
	}
	ch := make(chan outcome, 1)
	callStart := time.Now()
	go func() {
		res, err := exec.Execute(cctx, act.ID, r.state)
		ch <- outcome{res: res, err: err}
	}()

	select {
	case <-cctx.Done():
		if r.ctx.Err() != nil {
			return domain.ExecResult{}, r.ctx.Err()
		}
		br.RecordFailure()
		metrics.ActionDuration.WithLabelValues(string(act.ID)).Observe(time.Since(callStart).Seconds())
		return domain.ExecResult{}, &domain.TimeoutError{ID: act.ID, Timeout: r.o.opts.PerActionTimeout}

	case out := <-ch:
		metrics.ActionDuration.WithLabelValues(string(act.ID)).Observe(time.Since(callStart).Seconds())
		if out.err != nil {
			br.RecordFailure()
			return domain.ExecResult{}, out.err
		}
		br.RecordSuccess()
		r.o.bus.Emit(eventbus.TypeAgentComplete, r.trace.RunID, map[string]any{
			"action": string(act.ID),
		})
		r.o.bus.Emit(eventbus.TypeActionPost, r.trace.RunID, map[string]any{
			"action": string(act.ID),
		})
		return out.res, nil
	}
}

func (r *run) record(id domain.ActionID, attempt int, started time.Time, status domain.StepStatus, errMsg string, metadata map[string]any) {
	r.trace.Steps = append(r.trace.Steps, domain.StepRecord{
		ActionID:  id,
		Attempt:   attempt,
		StartedAt: started,
		EndedAt:   r.o.clk.Now(),
		Status:    status,
		Error:     errMsg,
		Metadata:  metadata,
	})
	metrics.StepsTotal.WithLabelValues(string(id), string(status)).Inc()
}

// finish closes out a run whose plan was exhausted. A run with unmet goal
// predicates is still done, just degraded; callers compare the final state
// against the goal themselves.
func (r *run) finish() {
	r.trace.Outcome = domain.OutcomeDone
	r.trace.GoalSatisfied = r.goal.SatisfiedBy(r.state)
}

func (r *run) abort(reason string, err error) {
	r.trace.Outcome = domain.OutcomeAborted
	r.trace.Error = err.Error()
	r.trace.GoalSatisfied = r.goal.SatisfiedBy(r.state)
	r.o.bus.Emit(eventbus.TypeErrorOccurred, r.trace.RunID, map[string]any{
		"reason": reason,
		"error":  err.Error(),
	})
	r.o.log.Error("run aborted", "run_id", r.trace.RunID, "reason", reason, "error", err)
}

func actionNames(ids []domain.ActionID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
