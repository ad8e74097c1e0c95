package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the configuration used when no file is supplied.
func Default() *AppConfig {
	cfg := &AppConfig{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Planner.MaxExpansions == 0 {
		cfg.Planner.MaxExpansions = 5000
	}
	if cfg.Execution.PerActionTimeoutMs == 0 {
		cfg.Execution.PerActionTimeoutMs = 30000
	}
	if cfg.Execution.MaxReplans == 0 {
		cfg.Execution.MaxReplans = 8
	}
	if cfg.Execution.EventHistorySize == 0 {
		cfg.Execution.EventHistorySize = 1024
	}
	if cfg.Breaker.MaxFailures == 0 {
		cfg.Breaker.MaxFailures = 3
	}
	if cfg.Breaker.ResetTimeoutMs == 0 {
		cfg.Breaker.ResetTimeoutMs = 30000
	}
	if cfg.Breaker.SuccessThreshold == 0 {
		cfg.Breaker.SuccessThreshold = 2
	}
}
