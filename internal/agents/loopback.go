// Package agents provides the loopback executor set: in-process executors
// that stand in for the real domain collaborators so a full pipeline run can
// be exercised end to end from the CLI.
package agents

import (
	"context"
	"time"

	"github.com/dermalens/conductor/internal/catalog"
	"github.com/dermalens/conductor/internal/core/domain"
	"github.com/dermalens/conductor/internal/orchestrator"
)

// LowConfidenceThreshold is the routing threshold below which tone detection
// requests a replan onto the safety calibration path.
const LowConfidenceThreshold = 0.5

// LoopbackConfig tunes the simulated executors.
type LoopbackConfig struct {
	// Latency is slept inside every executor call. Zero means no delay.
	Latency time.Duration

	// ToneConfidence is the confidence score tone detection reports.
	// Zero means 0.87.
	ToneConfidence float64

	// Fitzpatrick is the phototype tone detection reports. Empty means III.
	Fitzpatrick string
}

// Loopback builds an executor map covering every action in cat. Most
// executors report no extra facts; the measuring stages (tone detection,
// risk scoring) report simulated measurements, and tone detection requests a
// replan when its confidence falls below the routing threshold.
func Loopback(cat *catalog.Catalog, cfg LoopbackConfig) orchestrator.ExecutorMap {
	if cfg.ToneConfidence == 0 {
		cfg.ToneConfidence = 0.87
	}
	if cfg.Fitzpatrick == "" {
		cfg.Fitzpatrick = domain.FitzpatrickIII
	}

	execs := make(orchestrator.ExecutorMap, cat.Len())
	for _, id := range cat.IDs() {
		execs[id] = loopbackFor(id, cfg)
	}
	return execs
}

func loopbackFor(id domain.ActionID, cfg LoopbackConfig) orchestrator.Executor {
	return orchestrator.ExecutorFunc(func(ctx context.Context, _ domain.ActionID, state domain.Snapshot) (domain.ExecResult, error) {
		if cfg.Latency > 0 {
			select {
			case <-ctx.Done():
				return domain.ExecResult{}, ctx.Err()
			case <-time.After(cfg.Latency):
			}
		}

		switch id {
		case catalog.ActionToneDetection:
			low := cfg.ToneConfidence < LowConfidenceThreshold
			return domain.ExecResult{
				Updates: domain.Delta{
					domain.FactConfidenceScore: cfg.ToneConfidence,
					domain.FactLowConfidence:   low,
					domain.FactFitzpatrickType: cfg.Fitzpatrick,
				},
				Replan: low,
				Metadata: map[string]any{
					"confidence": cfg.ToneConfidence,
				},
			}, nil

		case catalog.ActionRiskScoring:
			level := "low"
			if state.Bool(domain.FactSafetyMarginApplied) {
				level = "medium"
			}
			return domain.ExecResult{
				Updates: domain.Delta{domain.FactRiskLevel: level},
			}, nil
		}

		return domain.ExecResult{}, nil
	})
}
