package updates

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfolio/pulse/internal/domain"
	"github.com/openfolio/pulse/internal/runs"
)

func TestFetchPhase_ZeroRowsIsSuccess(t *testing.T) {
	f := newFixture(t)
	f.ledger.symbols = []domain.Fetchable{
		{Type: domain.FetchInstrument, Symbol: "AAPL", EarliestDate: f.ledger.earliest},
	}
	f.yahoo.fetch = func(symbol string, start, end time.Time) ([]domain.PriceRow, error) {
		return nil, nil
	}
	f.stooq.fetch = func(symbol string, start, end time.Time) ([]domain.PriceRow, error) {
		return nil, nil
	}

	snap, err := f.orch.RunMarketDataUpdateOnly(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, runs.RunCompleted, snap.Status)
	assert.Equal(t, 0, snap.Counters.SymbolsFailed)
	assert.Equal(t, 0, snap.Counters.RowsInserted)

	// An empty result still confirms the series is current: the fallback is
	// never consulted and freshness advances.
	assert.Equal(t, 1, f.yahoo.callCount("AAPL"))
	assert.Equal(t, 0, f.stooq.callCount("AAPL"))

	state, err := f.stateRepo.Get("instrument", "AAPL")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, f.today, state.LastUpdateDate)
}

func TestFetchPhase_FreshSeriesIsCacheHit(t *testing.T) {
	f := newFixture(t)
	f.ledger.symbols = []domain.Fetchable{
		{Type: domain.FetchInstrument, Symbol: "AAPL", EarliestDate: f.ledger.earliest},
	}
	require.NoError(t, f.stateRepo.SetUpdated("instrument", "AAPL", f.today))

	snap, err := f.orch.RunMarketDataUpdateOnly(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 0, f.yahoo.callCount("AAPL"))
	assert.Greater(t, snap.Counters.CacheHits, 0)
}

func TestFetchPhase_ForceRefreshBypassesCache(t *testing.T) {
	f := newFixture(t)
	f.ledger.symbols = []domain.Fetchable{
		{Type: domain.FetchInstrument, Symbol: "AAPL", EarliestDate: f.ledger.earliest},
	}
	require.NoError(t, f.stateRepo.SetUpdated("instrument", "AAPL", f.today.AddDate(0, 0, -1)))

	// One day behind would normally be fresh enough.
	snap, err := f.orch.RunMarketDataUpdateOnly(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, f.yahoo.callCount("AAPL"))
	assert.Greater(t, snap.Counters.CacheHits, 0)

	_, err = f.orch.RunMarketDataUpdateOnly(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, f.yahoo.callCount("AAPL"))
}

func TestFetchPhase_ResumesFromLastUpdateDate(t *testing.T) {
	f := newFixture(t)
	f.ledger.symbols = []domain.Fetchable{
		{Type: domain.FetchInstrument, Symbol: "AAPL", EarliestDate: f.ledger.earliest},
	}
	require.NoError(t, f.stateRepo.SetUpdated("instrument", "AAPL", f.today.AddDate(0, 0, -5)))

	var gotStart time.Time
	f.yahoo.fetch = func(symbol string, start, end time.Time) ([]domain.PriceRow, error) {
		if symbol == "AAPL" {
			gotStart = start
		}
		return nil, nil
	}

	_, err := f.orch.RunMarketDataUpdateOnly(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, f.today.AddDate(0, 0, -4), gotStart)
}

func TestFetchPhase_AllProvidersFailIsolatesSymbol(t *testing.T) {
	f := newFixture(t)
	f.ledger.symbols = []domain.Fetchable{
		{Type: domain.FetchInstrument, Symbol: "BROKEN", EarliestDate: f.ledger.earliest},
		{Type: domain.FetchInstrument, Symbol: "MSFT", EarliestDate: f.ledger.earliest},
	}
	fail := func(symbol string, start, end time.Time) ([]domain.PriceRow, error) {
		if symbol == "BROKEN" {
			return nil, fmt.Errorf("connection refused")
		}
		return tenRows(end), nil
	}
	f.yahoo.fetch = fail
	f.stooq.fetch = fail

	snap, err := f.orch.RunMarketDataUpdateOnly(context.Background(), false)
	require.NoError(t, err)

	// The broken symbol is recorded and the phase carries on.
	assert.Equal(t, runs.RunCompleted, snap.Status)
	assert.Equal(t, 1, snap.Counters.SymbolsFailed)
	assert.GreaterOrEqual(t, snap.Counters.SymbolsUpdated, 1)

	var brokenErrs int
	for _, e := range snap.Errors {
		if e.Entity == "instrument:BROKEN" {
			brokenErrs++
		}
	}
	assert.Equal(t, 1, brokenErrs)

	// Both providers were tried and both attempts recorded.
	assert.Equal(t, 1, f.yahoo.callCount("BROKEN"))
	assert.Equal(t, 1, f.stooq.callCount("BROKEN"))
	records, err := f.covRepo.GetBySymbol("BROKEN")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	// No freshness state for the failed symbol.
	state, err := f.stateRepo.Get("instrument", "BROKEN")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestFetchPhase_IncludesProxySymbols(t *testing.T) {
	f := newFixture(t)
	f.ledger.symbols = nil

	snap, err := f.orch.RunMarketDataUpdateOnly(context.Background(), false)
	require.NoError(t, err)

	want := len(BenchmarkSymbols) + len(FactorSymbols)
	assert.Equal(t, want, snap.Counters.SymbolsProcessed)
	assert.Equal(t, 1, f.yahoo.callCount("SPY"))
	assert.Equal(t, 1, f.yahoo.callCount("MTUM"))

	state, err := f.stateRepo.Get("benchmark", "SPY")
	require.NoError(t, err)
	require.NotNil(t, state)
}
