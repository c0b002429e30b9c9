// Package server provides the HTTP server and routing for Steward.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/audit"
	"github.com/aristath/steward/internal/config"
	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/events"
	"github.com/aristath/steward/internal/orders"
	"github.com/aristath/steward/internal/rebalance"
	"github.com/aristath/steward/internal/regime"
)

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	cfg        *config.Config
	log        zerolog.Logger

	rebalancer *rebalance.Service
	orders     *orders.Manager
	batchRepo  *orders.Repository
	regimeRepo *regime.Repository
	auditor    *audit.Recorder
	bus        *events.Bus
	databases  []*database.DB
}

// New creates a new HTTP server
func New(cfg *config.Config, rebalancer *rebalance.Service, orderManager *orders.Manager,
	batchRepo *orders.Repository, regimeRepo *regime.Repository, auditor *audit.Recorder,
	bus *events.Bus, databases []*database.DB, log zerolog.Logger) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		cfg:        cfg,
		log:        log.With().Str("service", "server").Logger(),
		rebalancer: rebalancer,
		orders:     orderManager,
		batchRepo:  batchRepo,
		regimeRepo: regimeRepo,
		auditor:    auditor,
		bus:        bus,
		databases:  databases,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Websocket event stream
		wsHandler := NewEventsWSHandler(s.bus, s.log)
		r.Get("/events/ws", wsHandler.ServeHTTP)

		r.Route("/accounts/{accountID}", func(r chi.Router) {
			r.Post("/rebalance", s.handleRebalance)
			r.Get("/batches", s.handleListBatches)
			r.Get("/runs", s.handleRecentRuns)
		})

		r.Route("/batches/{batchID}", func(r chi.Router) {
			r.Get("/", s.handleGetBatch)
			r.Post("/approve", s.handleApproveBatch)
			r.Post("/reject", s.handleRejectBatch)
		})

		r.Get("/regime", s.handleRegime)
		r.Get("/runs/{runID}/trace", s.handleRunTrace)
		r.Get("/system/health", s.handleSystemHealth)
	})
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info().Str("addr", addr).Msg("HTTP server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// loggingMiddleware logs each request
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
