package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the liveness report and Prometheus metrics over HTTP.
type Server struct {
	tracker *Tracker
	server  *http.Server
}

// NewServer creates a health server listening on the given port.
func NewServer(tracker *Tracker, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		tracker: tracker,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleHealth reports the aggregate status only. Critical maps to 503
// so orchestrators restart a stuck watcher.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rep := s.tracker.Report()

	w.Header().Set("Content-Type", "application/json")
	if rep.Status == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(map[string]string{"status": string(rep.Status)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.tracker.Report())
}
