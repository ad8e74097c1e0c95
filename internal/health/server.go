// Package health exposes liveness, breaker state and prometheus metrics over
// HTTP for dashboards and probes.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dermalens/conductor/internal/core/domain"
	"github.com/dermalens/conductor/internal/resilience/breaker"
)

// BreakerSnapshotFunc supplies the current breaker stats for the detailed view.
type BreakerSnapshotFunc func() map[domain.ActionID]breaker.Stats

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	snapshot BreakerSnapshotFunc
	server   *http.Server
}

// NewServer creates a health server on the given port.
func NewServer(snapshot BreakerSnapshotFunc, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		snapshot: snapshot,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Handler returns the server's HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	// Any open breaker degrades the reported status; the service itself is up.
	status := "healthy"
	for _, stats := range s.snapshot() {
		if stats.State == breaker.StateOpen {
			status = "degraded"
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	breakers := make(map[string]breaker.Stats)
	for id, stats := range s.snapshot() {
		breakers[string(id)] = stats
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"breakers":  breakers,
		"timestamp": time.Now().UTC(),
	})
}
