package updates

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/openfolio/pulse/internal/runs"
)

// Config holds orchestrator tuning knobs.
type Config struct {
	FetchWorkers   int64         // global concurrency limit across the whole fetch phase
	FetchBatchSize int           // entities per batch
	FetchRateDelay time.Duration // delay after each provider call
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FetchWorkers:   4,
		FetchBatchSize: 25,
		FetchRateDelay: 250 * time.Millisecond,
	}
}

// Orchestrator coordinates one update run: fetch phase then compute phase.
// Per-entity failures are absorbed into the run record; only
// orchestration-level failures (the store itself unusable) propagate.
type Orchestrator struct {
	cfg       Config
	coverage  CoverageTracker
	deps      DependencyTracker
	ledger    LedgerSource
	prices    PriceStore
	stateRepo *StateRepository
	engine    Engine
	runRepo   RunStore
	clients   map[string]ProviderClient
	log       zerolog.Logger

	sem *semaphore.Weighted
	now func() time.Time

	// active exposes the in-flight run's collector for status endpoints.
	active atomic.Pointer[runs.Collector]
}

// NewOrchestrator creates an update orchestrator. The clients map is keyed
// by provider name; the coverage tracker's priority order decides which are
// tried first.
func NewOrchestrator(
	cfg Config,
	coverage CoverageTracker,
	deps DependencyTracker,
	ledgerSource LedgerSource,
	priceStore PriceStore,
	stateRepo *StateRepository,
	engine Engine,
	runRepo RunStore,
	clients []ProviderClient,
	log zerolog.Logger,
) *Orchestrator {
	byName := make(map[string]ProviderClient, len(clients))
	for _, c := range clients {
		byName[c.Name()] = c
	}

	if cfg.FetchWorkers < 1 {
		cfg.FetchWorkers = 1
	}
	if cfg.FetchBatchSize < 1 {
		cfg.FetchBatchSize = 1
	}

	return &Orchestrator{
		cfg:       cfg,
		coverage:  coverage,
		deps:      deps,
		ledger:    ledgerSource,
		prices:    priceStore,
		stateRepo: stateRepo,
		engine:    engine,
		runRepo:   runRepo,
		clients:   byName,
		log:       log.With().Str("service", "orchestrator").Logger(),
		sem:       semaphore.NewWeighted(cfg.FetchWorkers),
		now:       time.Now,
	}
}

// RunFullUpdate executes the fetch phase followed by the compute phase.
func (o *Orchestrator) RunFullUpdate(ctx context.Context, forceRefresh bool) (runs.Snapshot, error) {
	return o.run(ctx, runs.JobFull, forceRefresh)
}

// RunMarketDataUpdateOnly executes only the fetch phase.
func (o *Orchestrator) RunMarketDataUpdateOnly(ctx context.Context, forceRefresh bool) (runs.Snapshot, error) {
	return o.run(ctx, runs.JobFetchOnly, forceRefresh)
}

// RunAnalyticsUpdateOnly executes only the compute phase.
func (o *Orchestrator) RunAnalyticsUpdateOnly(ctx context.Context) (runs.Snapshot, error) {
	return o.run(ctx, runs.JobComputeOnly, false)
}

// ActiveSnapshot returns the in-flight run's current state, if a run is
// executing.
func (o *Orchestrator) ActiveSnapshot() (runs.Snapshot, bool) {
	collector := o.active.Load()
	if collector == nil {
		return runs.Snapshot{}, false
	}
	return collector.Snapshot(), true
}

// run executes one orchestration invocation. The run record is finalized
// exactly once on every path, including orchestration-level failure.
func (o *Orchestrator) run(ctx context.Context, jobType runs.JobType, forceRefresh bool) (runs.Snapshot, error) {
	collector := runs.NewCollector(jobType)

	if err := o.runRepo.Create(collector.ID(), jobType, collector.StartedAt()); err != nil {
		return runs.Snapshot{}, fmt.Errorf("failed to create run record: %w", err)
	}

	o.active.Store(collector)
	defer o.active.Store(nil)

	o.log.Info().
		Str("run", collector.ID()).
		Str("job_type", string(jobType)).
		Bool("force", forceRefresh).
		Msg("Starting update run")

	var phaseErr error

	if jobType == runs.JobFull || jobType == runs.JobFetchOnly {
		started := o.now()
		phaseErr = o.runFetchPhase(ctx, collector, forceRefresh)
		collector.SetFetchDuration(o.now().Sub(started))
	}

	if phaseErr == nil && (jobType == runs.JobFull || jobType == runs.JobComputeOnly) {
		started := o.now()
		phaseErr = o.runComputePhase(ctx, collector)
		collector.SetComputeDuration(o.now().Sub(started))
	}

	status := runs.RunCompleted
	if phaseErr != nil {
		status = runs.RunFailed
	}
	collector.Finalize(status)

	snap := collector.Snapshot()
	if err := o.runRepo.Finalize(snap, o.summarize(snap)); err != nil {
		if phaseErr != nil {
			return snap, fmt.Errorf("failed to finalize run record after phase error %v: %w", phaseErr, err)
		}
		return snap, fmt.Errorf("failed to finalize run record: %w", err)
	}

	logEvent := o.log.Info()
	if phaseErr != nil {
		logEvent = o.log.Error().Err(phaseErr)
	}
	logEvent.
		Str("run", snap.ID).
		Str("status", string(snap.Status)).
		Int("symbols_updated", snap.Counters.SymbolsUpdated).
		Int("stages_recomputed", snap.Counters.StagesRecomputed).
		Int("stages_skipped", snap.Counters.StagesSkipped).
		Int("errors", len(snap.Errors)).
		Msg("Update run finished")

	return snap, phaseErr
}

// summarize produces the one-line human summary stored with the record.
func (o *Orchestrator) summarize(snap runs.Snapshot) string {
	return fmt.Sprintf(
		"%s: %d/%d symbols updated (%d failed, %d cache hits, %d rows), %d stages recomputed, %d skipped, %d errors",
		snap.JobType,
		snap.Counters.SymbolsUpdated, snap.Counters.SymbolsProcessed,
		snap.Counters.SymbolsFailed, snap.Counters.CacheHits, snap.Counters.RowsInserted,
		snap.Counters.StagesRecomputed, snap.Counters.StagesSkipped,
		len(snap.Errors),
	)
}

// today truncates the orchestrator clock to a UTC date.
func (o *Orchestrator) today() time.Time {
	now := o.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
