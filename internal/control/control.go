// Package control wires the application together: catalog, planner, breaker
// registry, strategy table, event bus, trace archive and health server, built
// from configuration and managed as one lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dermalens/conductor/internal/archive"
	"github.com/dermalens/conductor/internal/catalog"
	"github.com/dermalens/conductor/internal/core/clock"
	"github.com/dermalens/conductor/internal/core/config"
	"github.com/dermalens/conductor/internal/core/domain"
	"github.com/dermalens/conductor/internal/core/planner"
	"github.com/dermalens/conductor/internal/eventbus"
	"github.com/dermalens/conductor/internal/health"
	"github.com/dermalens/conductor/internal/orchestrator"
	"github.com/dermalens/conductor/internal/resilience/breaker"
	"github.com/dermalens/conductor/internal/resilience/recovery"
)

// App is the assembled service.
type App struct {
	cfg      *config.AppConfig
	catalog  *catalog.Catalog
	breakers *breaker.Registry
	bus      *eventbus.Bus
	orch     *orchestrator.Orchestrator
	archive  *archive.Store
	health   *health.Server
	log      *slog.Logger
}

// New builds the app from configuration. The archive is optional: without a
// Redis URL traces are simply not persisted.
func New(cfg *config.AppConfig) (*App, error) {
	log := slog.Default()

	costs, err := costOverrides(cfg.Costs)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Dermal(costs)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog: %w", err)
	}

	table, err := strategyTable(cfg.Recovery, cat)
	if err != nil {
		return nil, err
	}

	clk := clock.System{}
	breakers := breaker.NewRegistry(breaker.Config{
		MaxFailures:      cfg.Breaker.MaxFailures,
		ResetTimeout:     time.Duration(cfg.Breaker.ResetTimeoutMs) * time.Millisecond,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
	}, clk)

	bus := eventbus.New(cfg.Execution.EventHistorySize, clk)

	orch, err := orchestrator.New(orchestrator.Config{
		Catalog:    cat,
		Planner:    planner.New(cat, planner.Config{MaxExpansions: cfg.Planner.MaxExpansions}),
		Breakers:   breakers,
		Strategies: table,
		Bus:        bus,
		Clock:      clk,
		Logger:     log,
		Options: orchestrator.Options{
			PerActionTimeout: time.Duration(cfg.Execution.PerActionTimeoutMs) * time.Millisecond,
			MaxReplans:       cfg.Execution.MaxReplans,
		},
	})
	if err != nil {
		return nil, err
	}

	app := &App{
		cfg:      cfg,
		catalog:  cat,
		breakers: breakers,
		bus:      bus,
		orch:     orch,
		log:      log,
	}

	if cfg.Redis.URL != "" {
		store, err := archive.New(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init trace archive: %w", err)
		}
		app.archive = store
	}

	app.health = health.NewServer(breakers.Snapshot, cfg.Server.Port)
	return app, nil
}

// Start launches the health/metrics server.
func (a *App) Start(ctx context.Context) error {
	go func() {
		if err := a.health.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("health server failed", "error", err)
		}
	}()
	a.log.Info("conductor started", "port", a.cfg.Server.Port, "actions", a.catalog.Len())
	return nil
}

// Stop shuts the app down gracefully.
func (a *App) Stop(ctx context.Context) error {
	if err := a.health.Stop(ctx); err != nil {
		return err
	}
	if a.archive != nil {
		return a.archive.Close()
	}
	return nil
}

// Catalog exposes the built catalog for executor construction.
func (a *App) Catalog() *catalog.Catalog {
	return a.catalog
}

// Bus exposes the event bus for subscribers.
func (a *App) Bus() *eventbus.Bus {
	return a.bus
}

// RunAnalysis executes one analysis run and archives the resulting trace.
// The trace is returned even when the run terminated with a fatal error.
func (a *App) RunAnalysis(ctx context.Context, start domain.Snapshot, goal domain.Goal, execs orchestrator.ExecutorMap) (*domain.Trace, error) {
	trace, runErr := a.orch.Execute(ctx, start, goal, execs)
	if trace != nil && a.archive != nil {
		if err := a.archive.Save(ctx, trace); err != nil {
			a.log.Warn("failed to archive trace", "run_id", trace.RunID, "error", err)
		}
	}
	return trace, runErr
}

func costOverrides(raw map[string]float64) (map[domain.ActionID]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[domain.ActionID]float64, len(raw))
	for id, cost := range raw {
		if cost < 0 {
			return nil, fmt.Errorf("cost override for %q is negative", id)
		}
		out[domain.ActionID(id)] = cost
	}
	return out, nil
}

// strategyTable builds the recovery table from config rows, falling back to
// the shipped defaults when no rows are configured. Every referenced action
// id must exist in the catalog.
func strategyTable(rows []config.RecoveryRow, cat *catalog.Catalog) (*recovery.Table, error) {
	if len(rows) == 0 {
		return recovery.DermalDefaults(), nil
	}

	parsed := make(map[domain.ActionID]recovery.Strategy, len(rows))
	for _, row := range rows {
		id := domain.ActionID(row.Action)
		if !cat.Has(id) {
			return nil, fmt.Errorf("recovery row references unknown action %q", row.Action)
		}
		fallback := domain.ActionID(row.Fallback)
		if fallback != "" && !cat.Has(fallback) {
			return nil, fmt.Errorf("recovery row for %q references unknown fallback %q", row.Action, row.Fallback)
		}
		parsed[id] = recovery.Strategy{
			Critical:   row.Critical,
			Retryable:  row.Retryable,
			MaxRetries: row.MaxRetries,
			RetryDelay: time.Duration(row.RetryDelayMs) * time.Millisecond,
			Fallback:   fallback,
		}
	}
	return recovery.NewTable(parsed), nil
}
