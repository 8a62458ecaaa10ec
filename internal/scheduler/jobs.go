package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfolio/pulse/internal/updates"
)

// jobTimeout bounds a single scheduled update run.
const jobTimeout = 2 * time.Hour

// NightlyUpdateJob runs the full update (fetch + compute) once per night.
type NightlyUpdateJob struct {
	orch *updates.Orchestrator
	log  zerolog.Logger
}

// NewNightlyUpdateJob creates the nightly full update job.
func NewNightlyUpdateJob(orch *updates.Orchestrator, log zerolog.Logger) *NightlyUpdateJob {
	return &NightlyUpdateJob{
		orch: orch,
		log:  log.With().Str("job", "nightly_update").Logger(),
	}
}

func (j *NightlyUpdateJob) Name() string { return "nightly_update" }

func (j *NightlyUpdateJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	snap, err := j.orch.RunFullUpdate(ctx, false)
	if err != nil {
		return err
	}

	j.log.Info().
		Str("run", snap.ID).
		Str("status", string(snap.Status)).
		Int("symbols_updated", snap.Counters.SymbolsUpdated).
		Int("stages_recomputed", snap.Counters.StagesRecomputed).
		Int("errors", len(snap.Errors)).
		Msg("Nightly update finished")
	return nil
}

// MarketDataRefreshJob runs a fetch-only update during the day so prices stay
// reasonably current between nightly runs.
type MarketDataRefreshJob struct {
	orch *updates.Orchestrator
	log  zerolog.Logger
}

// NewMarketDataRefreshJob creates the intraday fetch-only job.
func NewMarketDataRefreshJob(orch *updates.Orchestrator, log zerolog.Logger) *MarketDataRefreshJob {
	return &MarketDataRefreshJob{
		orch: orch,
		log:  log.With().Str("job", "market_data_refresh").Logger(),
	}
}

func (j *MarketDataRefreshJob) Name() string { return "market_data_refresh" }

func (j *MarketDataRefreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	snap, err := j.orch.RunMarketDataUpdateOnly(ctx, false)
	if err != nil {
		return err
	}

	j.log.Info().
		Str("run", snap.ID).
		Int("symbols_updated", snap.Counters.SymbolsUpdated).
		Int("cache_hits", snap.Counters.CacheHits).
		Msg("Market data refresh finished")
	return nil
}
