package updates

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openfolio/pulse/internal/domain"
	"github.com/openfolio/pulse/internal/runs"
)

// runFetchPhase populates missing daily prices for every tracked instrument
// plus the benchmark and factor proxy sets. Entities are processed in fixed
// batches; within a batch, workers run concurrently gated by a semaphore
// shared across the whole phase. A single entity's failure never aborts the
// phase.
func (o *Orchestrator) runFetchPhase(ctx context.Context, collector *runs.Collector, forceRefresh bool) error {
	fetchables, err := o.fetchTargets()
	if err != nil {
		return err
	}

	o.log.Info().
		Int("targets", len(fetchables)).
		Bool("force", forceRefresh).
		Msg("Fetch phase starting")

	for start := 0; start < len(fetchables); start += o.cfg.FetchBatchSize {
		end := start + o.cfg.FetchBatchSize
		if end > len(fetchables) {
			end = len(fetchables)
		}

		var wg sync.WaitGroup
		for _, f := range fetchables[start:end] {
			wg.Add(1)
			go func(f domain.Fetchable) {
				defer wg.Done()

				if err := o.sem.Acquire(ctx, 1); err != nil {
					collector.AddError(fetchEntity(f), "", "fetch cancelled: %v", err)
					return
				}
				defer o.sem.Release(1)

				o.fetchOne(ctx, f, collector, forceRefresh)

				// Fixed post-completion delay to respect provider rate
				// expectations.
				if o.cfg.FetchRateDelay > 0 {
					time.Sleep(o.cfg.FetchRateDelay)
				}
			}(f)
		}
		wg.Wait()
	}

	return nil
}

// fetchTargets assembles tracked instruments plus the fixed benchmark and
// factor proxy sets. Proxies default their lower bound to the earliest
// business date.
func (o *Orchestrator) fetchTargets() ([]domain.Fetchable, error) {
	tracked, err := o.ledger.TrackedSymbols()
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked symbols: %w", err)
	}

	proxyStart := o.today().AddDate(-1, 0, 0)
	if earliest, ok, err := o.ledger.EarliestTransactionDate(); err != nil {
		return nil, fmt.Errorf("failed to resolve earliest business date: %w", err)
	} else if ok {
		proxyStart = earliest
	}

	targets := tracked
	for _, symbol := range BenchmarkSymbols {
		targets = append(targets, domain.Fetchable{Type: domain.FetchBenchmark, Symbol: symbol, EarliestDate: proxyStart})
	}
	for _, symbol := range FactorSymbols {
		targets = append(targets, domain.Fetchable{Type: domain.FetchFactor, Symbol: symbol, EarliestDate: proxyStart})
	}

	return targets, nil
}

// fetchOne updates one price series through the provider cascade. All
// failures are absorbed into the collector.
func (o *Orchestrator) fetchOne(ctx context.Context, f domain.Fetchable, collector *runs.Collector, forceRefresh bool) {
	collector.Add(runs.Counters{SymbolsProcessed: 1})

	today := o.today()

	state, err := o.stateRepo.Get(string(f.Type), f.Symbol)
	if err != nil {
		collector.Add(runs.Counters{SymbolsFailed: 1})
		collector.AddError(fetchEntity(f), "", "failed to read update state: %v", err)
		return
	}

	// Fresh within one day: cache hit, no network call.
	if !forceRefresh && state != nil && !state.LastUpdateDate.Before(today.AddDate(0, 0, -1)) {
		collector.Add(runs.Counters{SymbolsSkipped: 1, CacheHits: 1})
		return
	}

	start := f.EarliestDate
	if state != nil {
		if next := state.LastUpdateDate.AddDate(0, 0, 1); next.After(start) {
			start = next
		}
	}
	if start.After(today) {
		// Nothing left to fetch
		collector.Add(runs.Counters{SymbolsSkipped: 1})
		return
	}

	providers, err := o.coverage.ProvidersToTry(f.Symbol)
	if err != nil {
		collector.Add(runs.Counters{SymbolsFailed: 1})
		collector.AddError(fetchEntity(f), "", "failed to resolve providers: %v", err)
		return
	}
	if len(providers) == 0 {
		collector.Add(runs.Counters{SymbolsFailed: 1})
		collector.AddError(fetchEntity(f), "", "no eligible provider")
		return
	}

	var lastErr error
	for _, name := range providers {
		client, ok := o.clients[name]
		if !ok {
			continue
		}

		collector.Add(runs.Counters{APICallsMade: 1})
		rows, err := client.FetchDaily(ctx, f.Symbol, start, today)
		if err != nil {
			lastErr = err
			if recErr := o.coverage.RecordFailure(f.Symbol, name, err); recErr != nil {
				o.log.Error().Err(recErr).Str("symbol", f.Symbol).Msg("Failed to record provider failure")
			}
			continue
		}

		// Zero new rows confirms the series is current; it short-circuits
		// the cascade like any other success.
		inserted, err := o.prices.UpsertDaily(f.Symbol, name, rows)
		if err != nil {
			collector.Add(runs.Counters{SymbolsFailed: 1})
			collector.AddError(fetchEntity(f), "", "failed to store %d rows: %v", len(rows), err)
			return
		}

		if err := o.coverage.RecordSuccess(f.Symbol, name, len(rows)); err != nil {
			o.log.Error().Err(err).Str("symbol", f.Symbol).Msg("Failed to record provider success")
		}
		if err := o.stateRepo.SetUpdated(string(f.Type), f.Symbol, today); err != nil {
			collector.Add(runs.Counters{SymbolsFailed: 1})
			collector.AddError(fetchEntity(f), "", "failed to persist update state: %v", err)
			return
		}

		collector.Add(runs.Counters{SymbolsUpdated: 1, RowsInserted: inserted})
		return
	}

	collector.Add(runs.Counters{SymbolsFailed: 1})
	collector.AddError(fetchEntity(f), "", "all providers failed, last error: %v", lastErr)
}

func fetchEntity(f domain.Fetchable) string {
	return string(f.Type) + ":" + f.Symbol
}
