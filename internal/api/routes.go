package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flexinfer/goalflow/internal/auth"
)

// Server holds the HTTP router and its handlers.
type Server struct {
	router   *mux.Router
	handlers *Handlers
	auth     *auth.Middleware
}

// NewServer creates a new API server with the given handlers. The auth
// middleware may be nil when authentication is disabled.
func NewServer(h *Handlers, authmw *auth.Middleware) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: h,
		auth:     authmw,
	}
	s.setupRoutes()
	return s
}

// Router returns the configured router for use with http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	// Health and metrics endpoints
	s.router.HandleFunc("/health", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/healthz", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/ready", s.handlers.Ready).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Action catalog
	api.HandleFunc("/actions", s.handlers.ListActions).Methods("GET")

	// Planning without execution
	api.HandleFunc("/plans", s.handlers.CreatePlan).Methods("POST")

	// Run management
	api.HandleFunc("/runs", s.handlers.CreateRun).Methods("POST")
	api.HandleFunc("/runs", s.handlers.ListRuns).Methods("GET")
	api.HandleFunc("/runs/{id}", s.handlers.GetRun).Methods("GET")
	api.HandleFunc("/runs/{id}/trace", s.handlers.GetTrace).Methods("GET")
	api.HandleFunc("/runs/{id}/cancel", s.handlers.CancelRun).Methods("POST")
	api.HandleFunc("/runs/{id}/events", s.handlers.StreamEvents).Methods("GET")

	// RunStore diagnostics
	api.HandleFunc("/runstore/info", s.handlers.RunStoreInfo).Methods("GET")

	// Apply middleware. Order matters: recovery wraps everything below it.
	s.router.Use(s.handlers.CORSMiddleware)
	s.router.Use(s.handlers.RecoveryMiddleware)
	s.router.Use(s.handlers.LoggingMiddleware)
	s.router.Use(s.handlers.RateLimitMiddleware)
	if s.auth != nil {
		s.router.Use(s.auth.Handler)
	}
}
