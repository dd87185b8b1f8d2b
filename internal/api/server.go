package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/engine"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, orchestrator *engine.Orchestrator, version string, ruleSetTTL time.Duration) *Server {
	handler := NewHandler(repo, cache, bus, orchestrator, version, ruleSetTTL)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Applicant evaluation
		r.Post("/evaluate", handler.Evaluate)
		r.Post("/submissions", handler.Submit)

		// Evaluation audit trail
		r.Get("/evaluations", handler.ListEvaluations)
		r.Get("/evaluations/{id}", handler.GetEvaluation)

		// Configuration snapshot
		r.Get("/ruleset", handler.GetRuleSet)
		r.Post("/ruleset/reload", handler.ReloadRuleSet)

		// Configuration management (administrative flow / seeding)
		r.Post("/config/parameters", handler.SaveParameter)
		r.Post("/config/factors", handler.SaveFactor)
		r.Post("/config/rules", handler.SaveRuleMaster)
		r.Post("/config/ecards", handler.SaveEcard)
		r.Post("/config/pcards", handler.SavePcard)
		r.Post("/config/products", handler.SaveProduct)
		r.Post("/config/amount-bands", handler.SaveAmountEligibility)
		r.Post("/config/caps", handler.SaveProductCap)
		r.Post("/config/cap-amounts", handler.SaveProductCapAmount)
		r.Post("/config/exceptions", handler.SaveException)
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
