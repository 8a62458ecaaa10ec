// Package pricecache provides persistent caching for provider responses.
// Payloads are stored as msgpack blobs with a fetch timestamp; freshness is
// decided at read time against a per-client TTL.
package pricecache

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// TTL constants per client. Daily bar responses stay valid for the rest of
// the trading day; intraday quotes would need something much shorter.
const (
	TTLDailyBars = 6 * time.Hour
)

// Repository provides cache operations for provider response data.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new price cache repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Store saves a payload for (client, key), replacing any prior entry.
func (r *Repository) Store(client, key string, payload interface{}) error {
	blob, err := msgpack.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal cache payload: %w", err)
	}

	query := `
		INSERT INTO client_cache (client, cache_key, payload, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(client, cache_key) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at`

	if _, err := r.db.Exec(query, client, key, blob, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to store cache entry %s/%s: %w", client, key, err)
	}

	return nil
}

// GetIfFresh decodes the cached payload for (client, key) into out when the
// entry is younger than ttl. Returns false on miss or stale entry.
func (r *Repository) GetIfFresh(client, key string, ttl time.Duration, out interface{}) (bool, error) {
	var blob []byte
	var fetchedAtStr string

	err := r.db.QueryRow(
		`SELECT payload, fetched_at FROM client_cache WHERE client = ? AND cache_key = ?`,
		client, key,
	).Scan(&blob, &fetchedAtStr)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query cache entry %s/%s: %w", client, key, err)
	}

	fetchedAt, err := time.Parse(time.RFC3339, fetchedAtStr)
	if err != nil || time.Since(fetchedAt) > ttl {
		return false, nil
	}

	if err := msgpack.Unmarshal(blob, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache payload %s/%s: %w", client, key, err)
	}

	return true, nil
}

// Purge deletes entries older than the given age across all clients.
func (r *Repository) Purge(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC().Format(time.RFC3339)

	result, err := r.db.Exec(`DELETE FROM client_cache WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}

	deleted, _ := result.RowsAffected()
	return deleted, nil
}
