package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal tracks finished runs by outcome
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_runs_total",
			Help: "Total number of finished runs",
		},
		[]string{"outcome"},
	)

	// StepsTotal tracks executed plan steps by action and status
	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_steps_total",
			Help: "Total number of plan steps by disposition",
		},
		[]string{"action", "status"},
	)

	// RetriesTotal tracks retry attempts per action
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_retries_total",
			Help: "Total number of step retries",
		},
		[]string{"action"},
	)

	// ReplansTotal tracks replans by reason
	ReplansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_replans_total",
			Help: "Total number of mid-run replans",
		},
		[]string{"reason"},
	)

	// ActionDuration tracks executor call latency per action
	ActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conductor_action_duration_seconds",
			Help:    "Executor call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	// BreakerState tracks circuit breaker state per action (0=closed, 1=open, 2=half-open)
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conductor_breaker_state",
			Help: "Circuit breaker state per action (0=closed, 1=open, 2=half-open)",
		},
		[]string{"action"},
	)

	// EventsEmitted tracks event bus emissions by type
	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_events_emitted_total",
			Help: "Total number of events emitted on the bus",
		},
		[]string{"type"},
	)

	// PlannerExpansions tracks node expansions per planning invocation
	PlannerExpansions = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conductor_planner_expansions",
			Help:    "Node expansions consumed per planner invocation",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)
)
