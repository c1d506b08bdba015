// Package api provides HTTP handlers and routing for the workflow engine.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server holds the HTTP handlers and dependencies.
type Server struct {
	router   *mux.Router
	handlers *Handlers
	limiter  *RateLimiter
}

// NewServer creates a new API server with the given handlers.
func NewServer(h *Handlers) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: h,
	}
	if h.config != nil && h.config.RateLimitRPS > 0 {
		s.limiter = NewRateLimiter(h.config.RateLimitRPS, h.config.RateLimitBurst)
	}
	s.setupRoutes()
	return s
}

// Router returns the configured router for use with http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

// Close releases server resources.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

func (s *Server) setupRoutes() {
	// Health endpoints
	s.router.HandleFunc("/health", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/healthz", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/ready", s.handlers.Ready).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Workflow execution
	s.router.HandleFunc("/workflow/execute", s.handlers.ExecuteWorkflow).Methods("POST")
	s.router.HandleFunc("/workflow/save", s.handlers.SaveWorkflow).Methods("POST")

	// Saved definitions
	s.router.HandleFunc("/workflows/saved", s.handlers.ListWorkflows).Methods("GET")
	s.router.HandleFunc("/workflows/saved/{id}", s.handlers.GetWorkflow).Methods("GET")
	s.router.HandleFunc("/workflows/saved/{id}", s.handlers.DeleteWorkflow).Methods("DELETE")

	// Run management
	s.router.HandleFunc("/runs", s.handlers.ListRuns).Methods("GET")
	s.router.HandleFunc("/workflows/{runId}/logs", s.handlers.GetRunLogs).Methods("GET")
	s.router.HandleFunc("/workflows/{runId}/cancel", s.handlers.CancelRun).Methods("POST")
	s.router.HandleFunc("/workflows/{runId}/events", s.handlers.StreamEvents).Methods("GET")

	// Agent registry
	s.router.HandleFunc("/agents", s.handlers.ListAgents).Methods("GET")
	s.router.HandleFunc("/agents", s.handlers.RegisterAgent).Methods("POST")

	// RunStore diagnostics
	s.router.HandleFunc("/runstore/info", s.handlers.RunStoreInfo).Methods("GET")

	// Apply middleware
	s.router.Use(s.handlers.CORSMiddleware)
	s.router.Use(s.handlers.LoggingMiddleware)
	s.router.Use(s.handlers.RecoveryMiddleware)
	if s.limiter != nil {
		s.router.Use(s.limiter.Middleware)
	}
}
