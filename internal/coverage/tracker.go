package coverage

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Tracker decides which providers to try for a symbol, in priority order,
// and records the outcome of every attempt. Updated records are persisted
// immediately so lookups within the same run observe the new state; a small
// per-run read cache is invalidated on every RecordSuccess/RecordFailure.
type Tracker struct {
	repo      *Repository
	providers []string // fixed global priority order, highest first
	log       zerolog.Logger
	now       func() time.Time

	mu    sync.Mutex
	cache map[string]map[string]*Record // symbol -> provider -> record
}

// NewTracker creates a coverage tracker with a fixed provider priority order.
func NewTracker(repo *Repository, providers []string, log zerolog.Logger) *Tracker {
	return &Tracker{
		repo:      repo,
		providers: providers,
		log:       log.With().Str("service", "coverage").Logger(),
		now:       time.Now,
		cache:     make(map[string]map[string]*Record),
	}
}

// Providers returns the fixed provider priority order.
func (t *Tracker) Providers() []string {
	return t.providers
}

// BestProvider returns the highest-priority eligible provider for a symbol,
// or "" when every provider is currently not_supported or inside its backoff
// window.
func (t *Tracker) BestProvider(symbol string) (string, error) {
	eligible, err := t.eligibleProviders(symbol)
	if err != nil {
		return "", err
	}
	if len(eligible) == 0 {
		return "", nil
	}
	return eligible[0], nil
}

// ProvidersToTry returns the full eligible, priority-ordered provider
// sequence for one symbol. The top-priority provider is always returned even
// when nothing better is known, so callers always have something to attempt.
func (t *Tracker) ProvidersToTry(symbol string) ([]string, error) {
	eligible, err := t.eligibleProviders(symbol)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 && len(t.providers) > 0 {
		// Guarantee at least the top-priority provider, unless it is
		// permanently unsupported for this symbol.
		top := t.providers[0]
		record, err := t.getCached(symbol, top)
		if err != nil {
			return nil, err
		}
		if record == nil || record.Status != StatusNotSupported {
			return []string{top}, nil
		}
	}
	return eligible, nil
}

// eligibleProviders filters the priority list by coverage state: not_supported
// pairs are skipped, failed pairs are skipped until their backoff window has
// elapsed.
func (t *Tracker) eligibleProviders(symbol string) ([]string, error) {
	now := t.now()
	var eligible []string

	for _, provider := range t.providers {
		record, err := t.getCached(symbol, provider)
		if err != nil {
			return nil, err
		}

		if record == nil {
			// Never attempted
			eligible = append(eligible, provider)
			continue
		}

		switch record.Status {
		case StatusUnknown, StatusActive:
			eligible = append(eligible, provider)
		case StatusFailed:
			if record.LastFailureAt == nil || now.Sub(*record.LastFailureAt) >= BackoffWindow {
				eligible = append(eligible, provider)
			}
		case StatusNotSupported:
			// Never retried
		}
	}

	return eligible, nil
}

// RecordSuccess marks a (symbol, provider) pair active, resets its failure
// count and adds rowCount to the cumulative fetch counter.
func (t *Tracker) RecordSuccess(symbol, provider string, rowCount int) error {
	record, err := t.getCached(symbol, provider)
	if err != nil {
		return err
	}
	if record == nil {
		record = &Record{Symbol: symbol, Provider: provider}
	}

	now := t.now()
	record.Status = StatusActive
	record.FailureCount = 0
	record.LastSuccessAt = &now
	record.LastError = ""
	record.RecordsFetched += int64(rowCount)
	record.UpdatedAt = now

	if err := t.repo.Upsert(record); err != nil {
		return err
	}
	t.invalidate(symbol)

	t.log.Debug().
		Str("symbol", symbol).
		Str("provider", provider).
		Int("rows", rowCount).
		Msg("Recorded provider success")

	return nil
}

// RecordFailure increments the failure count for a (symbol, provider) pair
// and transitions it to failed, or to not_supported once the failure count
// reaches MaxFailures.
func (t *Tracker) RecordFailure(symbol, provider string, fetchErr error) error {
	record, err := t.getCached(symbol, provider)
	if err != nil {
		return err
	}
	if record == nil {
		record = &Record{Symbol: symbol, Provider: provider}
	}

	now := t.now()
	record.FailureCount++
	if record.FailureCount >= MaxFailures {
		record.Status = StatusNotSupported
	} else {
		record.Status = StatusFailed
	}
	record.LastFailureAt = &now
	if fetchErr != nil {
		record.LastError = truncateError(fetchErr.Error())
	}
	record.UpdatedAt = now

	if err := t.repo.Upsert(record); err != nil {
		return err
	}
	t.invalidate(symbol)

	t.log.Warn().
		Str("symbol", symbol).
		Str("provider", provider).
		Int("failures", record.FailureCount).
		Str("status", string(record.Status)).
		Err(fetchErr).
		Msg("Recorded provider failure")

	return nil
}

// getCached returns the coverage record for a pair, reading through the
// per-run cache.
func (t *Tracker) getCached(symbol, provider string) (*Record, error) {
	t.mu.Lock()
	if bySymbol, ok := t.cache[symbol]; ok {
		if record, ok := bySymbol[provider]; ok {
			t.mu.Unlock()
			return record, nil
		}
	}
	t.mu.Unlock()

	record, err := t.repo.Get(symbol, provider)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if _, ok := t.cache[symbol]; !ok {
		t.cache[symbol] = make(map[string]*Record)
	}
	t.cache[symbol][provider] = record
	t.mu.Unlock()

	return record, nil
}

// invalidate drops all cached records for a symbol.
func (t *Tracker) invalidate(symbol string) {
	t.mu.Lock()
	delete(t.cache, symbol)
	t.mu.Unlock()
}
