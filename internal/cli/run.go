package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dermalens/conductor/internal/agents"
	"github.com/dermalens/conductor/internal/control"
	"github.com/dermalens/conductor/internal/core/domain"
)

var (
	toneConfidence float64
	agentLatency   time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one analysis run with loopback executors",
	Run:   runAnalysis,
}

func init() {
	runCmd.Flags().Float64Var(&toneConfidence, "confidence", 0.87, "simulated tone-detection confidence (below 0.5 routes through safety calibration)")
	runCmd.Flags().DurationVar(&agentLatency, "latency", 0, "simulated per-agent latency")
	rootCmd.AddCommand(runCmd)
}

func runAnalysis(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	app, err := control.New(cfg)
	if err != nil {
		slog.Error("Failed to initialize conductor", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start conductor", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := app.Stop(shutdownCtx); err != nil {
			slog.Error("Error during shutdown", "error", err)
		}
	}()

	execs := agents.Loopback(app.Catalog(), agents.LoopbackConfig{
		Latency:        agentLatency,
		ToneConfidence: toneConfidence,
	})

	trace, runErr := app.RunAnalysis(ctx, domain.DefaultStartState(), domain.DefaultGoal(), execs)
	if trace != nil {
		printTrace(trace)
	}
	if runErr != nil {
		slog.Error("Run failed", "error", runErr)
		os.Exit(1)
	}
}

func printTrace(t *domain.Trace) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "STEP\tACTION\tATTEMPTS\tSTATUS\tERROR\n")
	for i, s := range t.Steps {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", i+1, s.ActionID, s.Attempt, s.Status, s.Error)
	}
	_ = w.Flush()

	for _, rp := range t.Replans {
		fmt.Printf("replan at step %d: %s\n", rp.AtStep, rp.Reason)
	}
	fmt.Printf("run %s: %s (goal satisfied: %v, %d steps, %d replans)\n",
		t.RunID, t.Outcome, t.GoalSatisfied, len(t.Steps), len(t.Replans))
}
