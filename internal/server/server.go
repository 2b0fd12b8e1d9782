// Package server exposes the read-only status API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/brolab-dev/x402-mcp/internal/policy"
	"github.com/brolab-dev/x402-mcp/internal/report"
	"github.com/brolab-dev/x402-mcp/internal/settlement"
	"github.com/brolab-dev/x402-mcp/internal/storage"
)

// StatusProvider is the engine state the server reads.
type StatusProvider interface {
	Status() settlement.Status
	Policies() []policy.Policy
	History() []storage.SettlementRecord
}

// Config configures the server.
type Config struct {
	Port          int
	CORSOrigins   []string
	MaxDataPoints int
	Log           zerolog.Logger
	Engine        StatusProvider
}

// Server serves status, policies and settlement history.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	engine    StatusProvider
	maxPoints int
	now       func() time.Time
}

// New builds the router and HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		engine:    cfg.Engine,
		maxPoints: cfg.MaxDataPoints,
		now:       time.Now,
	}

	s.setupMiddleware(cfg.CORSOrigins)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(origins []string) {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/status", s.handleStatus)
	s.router.Get("/policies", s.handlePolicies)
	s.router.Get("/settlements", s.handleSettlements)
	s.router.Get("/settlements.csv", s.handleSettlementsCSV)
	s.router.Get("/settlements/chart.png", s.handleSettlementsChart)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting status server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve is Start on an existing listener.
func (s *Server) Serve(l net.Listener) error {
	s.log.Info().Str("addr", l.Addr().String()).Msg("starting status server")
	if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down status server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UnixMilli(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handlePolicies(w http.ResponseWriter, r *http.Request) {
	policies := s.engine.Policies()
	if policies == nil {
		policies = []policy.Policy{}
	}
	s.writeJSON(w, http.StatusOK, policies)
}

// handleSettlements returns the history oldest first; ?limit=N keeps the
// newest N.
func (s *Server) handleSettlements(w http.ResponseWriter, r *http.Request) {
	history := s.engine.History()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if limit > 0 && limit < len(history) {
			history = history[len(history)-limit:]
		}
	}
	if history == nil {
		history = []storage.SettlementRecord{}
	}
	s.writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleSettlementsCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="settlements.csv"`)
	if err := report.WriteCSV(w, s.engine.History()); err != nil {
		s.log.Error().Err(err).Msg("failed to write settlements csv")
	}
}

func (s *Server) handleSettlementsChart(w http.ResponseWriter, r *http.Request) {
	records := report.Downsample(s.engine.History(), s.maxPoints)
	if len(records) < 2 {
		s.writeError(w, http.StatusNotFound, report.ErrNotEnoughData.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if err := report.WritePNG(w, records); err != nil {
		s.log.Error().Err(err).Msg("failed to render settlements chart")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
