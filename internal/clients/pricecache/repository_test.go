package pricecache

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedBars struct {
	Symbol string    `msgpack:"symbol"`
	Dates  []string  `msgpack:"dates"`
	Closes []float64 `msgpack:"closes"`
}

func newCacheRepo(t *testing.T) (*Repository, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE client_cache (
			client TEXT NOT NULL,
			cache_key TEXT NOT NULL,
			payload BLOB NOT NULL,
			fetched_at TEXT NOT NULL,
			PRIMARY KEY (client, cache_key)
		)`)
	require.NoError(t, err)

	return NewRepository(db), db
}

func TestStoreAndGetIfFresh(t *testing.T) {
	repo, _ := newCacheRepo(t)

	in := cachedBars{Symbol: "AAPL", Dates: []string{"2025-06-02"}, Closes: []float64{100.5}}
	require.NoError(t, repo.Store("yahoo", "AAPL:daily", in))

	var out cachedBars
	hit, err := repo.GetIfFresh("yahoo", "AAPL:daily", TTLDailyBars, &out)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, in, out)
}

func TestGetIfFresh_MissAndStale(t *testing.T) {
	repo, db := newCacheRepo(t)

	var out cachedBars
	hit, err := repo.GetIfFresh("yahoo", "missing", TTLDailyBars, &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, repo.Store("yahoo", "AAPL:daily", cachedBars{Symbol: "AAPL"}))

	// Age the entry past the TTL.
	old := time.Now().UTC().Add(-TTLDailyBars - time.Hour).Format(time.RFC3339)
	_, err = db.Exec(`UPDATE client_cache SET fetched_at = ?`, old)
	require.NoError(t, err)

	hit, err = repo.GetIfFresh("yahoo", "AAPL:daily", TTLDailyBars, &out)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestStore_ReplacesExistingEntry(t *testing.T) {
	repo, _ := newCacheRepo(t)

	require.NoError(t, repo.Store("yahoo", "AAPL:daily", cachedBars{Symbol: "AAPL", Closes: []float64{1}}))
	require.NoError(t, repo.Store("yahoo", "AAPL:daily", cachedBars{Symbol: "AAPL", Closes: []float64{2}}))

	var out cachedBars
	hit, err := repo.GetIfFresh("yahoo", "AAPL:daily", TTLDailyBars, &out)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, []float64{2}, out.Closes)
}

func TestPurge_RemovesOnlyOldEntries(t *testing.T) {
	repo, db := newCacheRepo(t)

	require.NoError(t, repo.Store("yahoo", "old", cachedBars{Symbol: "OLD"}))
	old := time.Now().UTC().Add(-10 * 24 * time.Hour).Format(time.RFC3339)
	_, err := db.Exec(`UPDATE client_cache SET fetched_at = ? WHERE cache_key = 'old'`, old)
	require.NoError(t, err)

	require.NoError(t, repo.Store("yahoo", "fresh", cachedBars{Symbol: "FRESH"}))

	deleted, err := repo.Purge(7 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var out cachedBars
	hit, err := repo.GetIfFresh("yahoo", "fresh", TTLDailyBars, &out)
	require.NoError(t, err)
	assert.True(t, hit)
}
