// Package server provides the HTTP server and routing for the update
// subsystem: triggering runs, inspecting run history, provider coverage and
// computation dependency state.
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

	"github.com/openfolio/pulse/internal/coverage"
	"github.com/openfolio/pulse/internal/database"
	"github.com/openfolio/pulse/internal/runs"
	"github.com/openfolio/pulse/internal/tracking"
)

// UpdateRunner is the orchestrator surface the server needs.
type UpdateRunner interface {
	RunFullUpdate(ctx context.Context, forceRefresh bool) (runs.Snapshot, error)
	RunMarketDataUpdateOnly(ctx context.Context, forceRefresh bool) (runs.Snapshot, error)
	RunAnalyticsUpdateOnly(ctx context.Context) (runs.Snapshot, error)
	ActiveSnapshot() (runs.Snapshot, bool)
}

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	Port      int
	DevMode   bool
	Runner    UpdateRunner
	RunRepo   *runs.Repository
	CovRepo   *coverage.Repository
	DepRepo   *tracking.Repository
	Databases map[string]*database.DB
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	runner         UpdateRunner
	runRepo        *runs.Repository
	covRepo        *coverage.Repository
	depRepo        *tracking.Repository
	systemHandlers *SystemHandlers
	streamHandler  *RunStreamHandler
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		runner:         cfg.Runner,
		runRepo:        cfg.RunRepo,
		covRepo:        cfg.CovRepo,
		depRepo:        cfg.DepRepo,
		systemHandlers: NewSystemHandlers(cfg.Log, cfg.Databases),
		streamHandler:  NewRunStreamHandler(cfg.Runner, cfg.Log),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
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

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/updates", func(r chi.Router) {
			r.Post("/full", s.handleTriggerFullUpdate)
			r.Post("/market-data", s.handleTriggerMarketDataUpdate)
			r.Post("/analytics", s.handleTriggerAnalyticsUpdate)
			r.Get("/active", s.handleActiveRun)
			r.Get("/stream", s.streamHandler.ServeHTTP)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Get("/latest", s.handleLatestRun)
			r.Get("/{id}", s.handleGetRun)
		})

		r.Get("/coverage/{symbol}", s.handleCoverage)
		r.Get("/dependencies/{viewType}/{viewID}", s.handleDependencies)

		r.Get("/system/status", s.systemHandlers.HandleStatus)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the mux for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
