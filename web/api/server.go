// Package api serves run progress over HTTP: coverage, the run ledger and a
// server-sent event stream of dispatch activity.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/apex/log"

	"github.com/hochfrequenz/vlm-rationales/internal/items"
	"github.com/hochfrequenz/vlm-rationales/internal/ledger"
	"github.com/hochfrequenz/vlm-rationales/internal/pipeline"
)

// CoverageFunc scans the dataset and reports per-pair coverage
type CoverageFunc func() (*items.Scan, []pipeline.Coverage, error)

// RunStore is the subset of the ledger the API reads
type RunStore interface {
	ListRuns(opts ledger.ListOptions) ([]*ledger.Run, error)
	GetRun(id string) (*ledger.Run, error)
	ListJobs(runID string) ([]*ledger.Job, error)
	OpenJobs() ([]*ledger.Job, error)
}

// Server is the HTTP API server
type Server struct {
	coverage CoverageFunc
	runs     RunStore // nil when no ledger is configured
	metrics  http.Handler
	addr     string
	mux      *http.ServeMux
	sseHub   *SSEHub
}

// NewServer creates a new API server. runs and metrics may be nil.
func NewServer(coverage CoverageFunc, runs RunStore, metrics http.Handler, addr string) *Server {
	s := &Server{
		coverage: coverage,
		runs:     runs,
		metrics:  metrics,
		addr:     addr,
		mux:      http.NewServeMux(),
		sseHub:   NewSSEHub(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/coverage", s.coverageHandler())
	s.mux.HandleFunc("/api/runs", s.listRunsHandler())
	s.mux.HandleFunc("/api/runs/", s.getRunHandler())
	s.mux.HandleFunc("/api/jobs", s.openJobsHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics)
	}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	go s.sseHub.Run(ctx)

	srv := &http.Server{Addr: s.addr, Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("api: shutdown")
		}
	}()

	log.WithField("addr", s.addr).Info("api: listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Broadcast sends an event to all SSE clients
func (s *Server) Broadcast(event SSEEvent) {
	s.sseHub.Broadcast(event)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
