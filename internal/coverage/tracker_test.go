package coverage

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE provider_coverage (
			symbol TEXT NOT NULL,
			provider TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'unknown',
			failure_count INTEGER NOT NULL DEFAULT 0,
			last_success_at TEXT,
			last_failure_at TEXT,
			last_error TEXT,
			records_fetched INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (symbol, provider)
		)
	`)
	require.NoError(t, err)

	log := zerolog.New(nil).Level(zerolog.Disabled)
	return NewRepository(db, log)
}

func newTestTracker(t *testing.T, providers []string) *Tracker {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	return NewTracker(newTestRepo(t), providers, log)
}

func TestProvidersToTry_UnknownPairsReturnFullPriorityOrder(t *testing.T) {
	tracker := newTestTracker(t, []string{"yahoo", "stooq"})

	providers, err := tracker.ProvidersToTry("AAPL")
	require.NoError(t, err)
	assert.Equal(t, []string{"yahoo", "stooq"}, providers)
}

func TestRecordSuccess_ResetsFailureCountAndActivates(t *testing.T) {
	tracker := newTestTracker(t, []string{"yahoo", "stooq"})

	require.NoError(t, tracker.RecordFailure("AAPL", "yahoo", errors.New("timeout")))
	require.NoError(t, tracker.RecordSuccess("AAPL", "yahoo", 10))

	record, err := tracker.repo.Get("AAPL", "yahoo")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, StatusActive, record.Status)
	assert.Equal(t, 0, record.FailureCount)
	assert.Empty(t, record.LastError)
	assert.Equal(t, int64(10), record.RecordsFetched)
	assert.NotNil(t, record.LastSuccessAt)
}

func TestRecordSuccess_AccumulatesRowCounter(t *testing.T) {
	tracker := newTestTracker(t, []string{"yahoo"})

	require.NoError(t, tracker.RecordSuccess("AAPL", "yahoo", 10))
	require.NoError(t, tracker.RecordSuccess("AAPL", "yahoo", 5))

	record, err := tracker.repo.Get("AAPL", "yahoo")
	require.NoError(t, err)
	assert.Equal(t, int64(15), record.RecordsFetched)
}

func TestRecordFailure_TransitionsToNotSupportedAtThreshold(t *testing.T) {
	tracker := newTestTracker(t, []string{"yahoo", "stooq"})

	for i := 0; i < MaxFailures; i++ {
		require.NoError(t, tracker.RecordFailure("AAPL", "yahoo", errors.New("no data")))
	}

	record, err := tracker.repo.Get("AAPL", "yahoo")
	require.NoError(t, err)
	assert.Equal(t, StatusNotSupported, record.Status)
	assert.Equal(t, MaxFailures, record.FailureCount)

	// A not_supported provider is never offered again for that symbol.
	for i := 0; i < 5; i++ {
		providers, err := tracker.ProvidersToTry("AAPL")
		require.NoError(t, err)
		assert.NotContains(t, providers, "yahoo")
		assert.Equal(t, []string{"stooq"}, providers)
	}
}

func TestProvidersToTry_FailedProviderSkippedInsideBackoffWindow(t *testing.T) {
	tracker := newTestTracker(t, []string{"yahoo", "stooq"})

	base := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return base }

	require.NoError(t, tracker.RecordFailure("MSFT", "yahoo", errors.New("http 500")))

	// Inside the window: failed provider is skipped.
	tracker.now = func() time.Time { return base.Add(BackoffWindow - time.Minute) }
	providers, err := tracker.ProvidersToTry("MSFT")
	require.NoError(t, err)
	assert.Equal(t, []string{"stooq"}, providers)

	// At the window boundary: eligible again, back at its priority slot.
	tracker.now = func() time.Time { return base.Add(BackoffWindow) }
	providers, err = tracker.ProvidersToTry("MSFT")
	require.NoError(t, err)
	assert.Equal(t, []string{"yahoo", "stooq"}, providers)
}

func TestProvidersToTry_AlwaysReturnsTopPriorityWhenAllBackedOff(t *testing.T) {
	tracker := newTestTracker(t, []string{"yahoo", "stooq"})

	base := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return base }

	require.NoError(t, tracker.RecordFailure("GOOG", "yahoo", errors.New("down")))
	require.NoError(t, tracker.RecordFailure("GOOG", "stooq", errors.New("down")))

	providers, err := tracker.ProvidersToTry("GOOG")
	require.NoError(t, err)
	assert.Equal(t, []string{"yahoo"}, providers)
}

func TestBestProvider_SkipsNotSupported(t *testing.T) {
	tracker := newTestTracker(t, []string{"yahoo", "stooq"})

	for i := 0; i < MaxFailures; i++ {
		require.NoError(t, tracker.RecordFailure("TSLA", "yahoo", errors.New("unsupported")))
	}

	best, err := tracker.BestProvider("TSLA")
	require.NoError(t, err)
	assert.Equal(t, "stooq", best)
}

func TestRecordFailure_TruncatesLongErrorText(t *testing.T) {
	tracker := newTestTracker(t, []string{"yahoo"})

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, tracker.RecordFailure("AAPL", "yahoo", errors.New(string(long))))

	record, err := tracker.repo.Get("AAPL", "yahoo")
	require.NoError(t, err)
	assert.Len(t, record.LastError, maxErrorLength)
}

func TestTracker_CacheInvalidatedByRecordCalls(t *testing.T) {
	tracker := newTestTracker(t, []string{"yahoo", "stooq"})

	// Prime the cache.
	providers, err := tracker.ProvidersToTry("AAPL")
	require.NoError(t, err)
	assert.Equal(t, []string{"yahoo", "stooq"}, providers)

	// A failure recorded on the same symbol must be observed immediately.
	for i := 0; i < MaxFailures; i++ {
		require.NoError(t, tracker.RecordFailure("AAPL", "yahoo", errors.New("down")))
	}

	providers, err = tracker.ProvidersToTry("AAPL")
	require.NoError(t, err)
	assert.Equal(t, []string{"stooq"}, providers)
}
