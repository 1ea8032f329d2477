package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sinavika/fraudwatch/internal/analyzer"
	"github.com/sinavika/fraudwatch/internal/anomaly"
	"github.com/sinavika/fraudwatch/internal/consistency"
	"github.com/sinavika/fraudwatch/internal/domain"
	"github.com/sinavika/fraudwatch/internal/history"
	"github.com/sinavika/fraudwatch/internal/tariff"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, pipeline *analyzer.Service, docs *consistency.Engine, scorer *tariff.Scorer, rules *anomaly.Engine, hist *history.Service, version string) *Server {
	handler := NewHandler(repo, cache, bus, pipeline, docs, scorer, rules, hist, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Standalone tariff scoring
		r.Post("/detect", handler.Detect)

		// Claim lifecycle
		r.Post("/claims", handler.SubmitClaim)
		r.Get("/claims/{id}", handler.GetClaim)
		r.Post("/claims/{id}/analyze", handler.AnalyzeClaim)
		r.Get("/claims/{id}/analysis", handler.GetClaimAnalysis)

		// Analysis retrieval
		r.Get("/analyses/{id}", handler.GetAnalysis)

		// Anomaly rule management
		r.Get("/rules", handler.ListRules)
		r.Get("/rules/{id}", handler.GetRule)
		r.Post("/rules", handler.CreateRule)
		r.Post("/rules/reload", handler.ReloadRules)

		// Upcoding table management
		r.Get("/tables/upcoding", handler.ListUpcodingPairs)
		r.Post("/tables/upcoding", handler.CreateUpcodingPair)
		r.Post("/tables/upcoding/reload", handler.ReloadUpcodingTable)
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
