package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openfolio/pulse/internal/runs"
)

// runTimeout bounds an API-triggered update run.
const runTimeout = 2 * time.Hour

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "pulse",
	})
}

// triggerRun starts an update run in the background, rejecting the request
// when one is already in flight.
func (s *Server) triggerRun(w http.ResponseWriter, kind string, run func(ctx context.Context) (runs.Snapshot, error)) {
	if _, active := s.runner.ActiveSnapshot(); active {
		s.writeJSON(w, http.StatusConflict, map[string]string{
			"status":  "error",
			"message": "an update run is already in progress",
		})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()

		snap, err := run(ctx)
		if err != nil {
			s.log.Error().Err(err).Str("kind", kind).Msg("Triggered run failed")
			return
		}
		s.log.Info().
			Str("kind", kind).
			Str("run", snap.ID).
			Str("status", string(snap.Status)).
			Msg("Triggered run finished")
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "started",
		"kind":   kind,
	})
}

// handleTriggerFullUpdate handles POST /api/updates/full
func (s *Server) handleTriggerFullUpdate(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	s.triggerRun(w, "full", func(ctx context.Context) (runs.Snapshot, error) {
		return s.runner.RunFullUpdate(ctx, force)
	})
}

// handleTriggerMarketDataUpdate handles POST /api/updates/market-data
func (s *Server) handleTriggerMarketDataUpdate(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	s.triggerRun(w, "market_data", func(ctx context.Context) (runs.Snapshot, error) {
		return s.runner.RunMarketDataUpdateOnly(ctx, force)
	})
}

// handleTriggerAnalyticsUpdate handles POST /api/updates/analytics
func (s *Server) handleTriggerAnalyticsUpdate(w http.ResponseWriter, r *http.Request) {
	s.triggerRun(w, "analytics", func(ctx context.Context) (runs.Snapshot, error) {
		return s.runner.RunAnalyticsUpdateOnly(ctx)
	})
}

// handleActiveRun handles GET /api/updates/active
func (s *Server) handleActiveRun(w http.ResponseWriter, r *http.Request) {
	snap, active := s.runner.ActiveSnapshot()
	if !active {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"active": false})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"active": true,
		"run":    snap,
	})
}

// handleListRuns handles GET /api/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	records, err := s.runRepo.List(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list runs")
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  records,
		"count": len(records),
	})
}

// handleLatestRun handles GET /api/runs/latest
func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	records, err := s.runRepo.List(1)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load latest run")
		http.Error(w, "failed to load latest run", http.StatusInternalServerError)
		return
	}
	if len(records) == 0 {
		http.Error(w, "no runs recorded", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, records[0])
}

// handleGetRun handles GET /api/runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	record, err := s.runRepo.Get(id)
	if err != nil {
		s.log.Error().Err(err).Str("run", id).Msg("Failed to load run")
		http.Error(w, "failed to load run", http.StatusInternalServerError)
		return
	}
	if record == nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

// handleCoverage handles GET /api/coverage/{symbol}
func (s *Server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	records, err := s.covRepo.GetBySymbol(symbol)
	if err != nil {
		s.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to load coverage")
		http.Error(w, "failed to load coverage", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":    symbol,
		"providers": records,
	})
}

// handleDependencies handles GET /api/dependencies/{viewType}/{viewID}
func (s *Server) handleDependencies(w http.ResponseWriter, r *http.Request) {
	viewType := chi.URLParam(r, "viewType")
	viewID := chi.URLParam(r, "viewID")

	deps, err := s.depRepo.List(viewType, viewID)
	if err != nil {
		s.log.Error().Err(err).Str("view", viewType+":"+viewID).Msg("Failed to load dependencies")
		http.Error(w, "failed to load dependencies", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"view_type":    viewType,
		"view_id":      viewID,
		"dependencies": deps,
	})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
