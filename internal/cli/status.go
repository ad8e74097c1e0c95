package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dermalens/conductor/internal/resilience/breaker"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show breaker state of a running conductor",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "http://localhost:8080", "address of the running conductor")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(statusAddr + "/health/detailed")
	if err != nil {
		slog.Error("Failed to reach conductor", "addr", statusAddr, "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var detailed struct {
		Breakers map[string]breaker.Stats `json:"breakers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&detailed); err != nil {
		slog.Error("Failed to decode response", "error", err)
		os.Exit(1)
	}

	if len(detailed.Breakers) == 0 {
		fmt.Println("no breakers created yet")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ACTION\tSTATE\tFAILURES\tSUCCESSES\tLAST TRANSITION\n")
	for id, stats := range detailed.Breakers {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			id, stats.State, stats.ConsecutiveFailures, stats.ConsecutiveSuccesses,
			stats.LastTransition.Format(time.RFC3339))
	}
	_ = w.Flush()
}
