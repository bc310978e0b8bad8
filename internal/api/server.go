package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-compliance/kestrel/internal/domain"
	"github.com/opensource-compliance/kestrel/internal/escalate"
	"github.com/opensource-compliance/kestrel/internal/metrics"
	"github.com/opensource-compliance/kestrel/internal/orgdata"
	"github.com/opensource-compliance/kestrel/internal/pipeline"
	"github.com/opensource-compliance/kestrel/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, eval *rules.Evaluator, retro *rules.RetroRunner, pipe *pipeline.Pipeline, esc *escalate.Trigger, org *orgdata.Service, version string) *Server {
	handler := NewHandler(repo, cache, bus, eval, retro, pipe, esc, org, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health and scrape endpoints (no organization required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", metrics.Handler())

	// API routes (organization required)
	router.Route("/", func(r chi.Router) {
		r.Use(OrgMiddleware)

		// Disclosure intake and retrieval
		r.Post("/disclosures", handler.SubmitDisclosure)
		r.Get("/disclosures/{id}", handler.GetDisclosure)

		// Entity timeline across spellings
		r.Get("/entities/{name}/disclosures", handler.EntityTimeline)

		// Threshold rule management
		r.Get("/rules", handler.ListRules)
		r.Get("/rules/{id}", handler.GetRule)
		r.Put("/rules/{id}", handler.PutRule)
		r.Post("/rules/{id}/preview", handler.PreviewRule)
		r.Post("/rules/{id}/apply", handler.ApplyRule)

		// Alert triage
		r.Get("/alerts", handler.ListAlerts)
		r.Get("/alerts/{id}", handler.GetAlert)
		r.Post("/alerts/{id}/dismiss", handler.DismissAlert)
		r.Post("/alerts/{id}/escalate", handler.EscalateAlert)

		// Exclusion management
		r.Get("/exclusions", handler.ListExclusions)
		r.Post("/exclusions", handler.CreateExclusion)

		// Organization reference data
		r.Put("/vendors", handler.PutVendor)
		r.Put("/employees", handler.PutEmployee)
		r.Put("/authorities", handler.PutAuthority)
		r.Put("/cases", handler.PutCaseRecord)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
