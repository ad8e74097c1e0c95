package config

import (
	"github.com/dermalens/conductor/internal/archive"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Logging   LoggingConfig      `yaml:"logging"`
	Planner   PlannerConfig      `yaml:"planner"`
	Execution ExecutionConfig    `yaml:"execution"`
	Breaker   BreakerConfig      `yaml:"breaker"`
	Recovery  []RecoveryRow      `yaml:"recovery"`
	Costs     map[string]float64 `yaml:"costs"`
	Redis     archive.Config     `yaml:"redis"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// PlannerConfig holds search settings.
type PlannerConfig struct {
	MaxExpansions int `yaml:"max_expansions"`
}

// ExecutionConfig holds per-run execution settings.
type ExecutionConfig struct {
	PerActionTimeoutMs int `yaml:"per_action_timeout_ms"`
	MaxReplans         int `yaml:"max_replans"`
	EventHistorySize   int `yaml:"event_history_size"`
}

// BreakerConfig holds circuit breaker thresholds shared by all actions.
type BreakerConfig struct {
	MaxFailures      int `yaml:"max_failures"`
	ResetTimeoutMs   int `yaml:"reset_timeout_ms"`
	SuccessThreshold int `yaml:"success_threshold"`
}

// RecoveryRow is one per-action failure policy row. An action absent from the
// table falls back to critical/non-retryable.
type RecoveryRow struct {
	Action       string `yaml:"action"`
	Critical     bool   `yaml:"critical"`
	Retryable    bool   `yaml:"retryable"`
	MaxRetries   int    `yaml:"max_retries"`
	RetryDelayMs int    `yaml:"retry_delay_ms"`
	Fallback     string `yaml:"fallback"`
}
