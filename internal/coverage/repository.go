package coverage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Repository handles provider coverage database operations
type Repository struct {
	metaDB *sql.DB
	log    zerolog.Logger
}

// NewRepository creates a new coverage repository
func NewRepository(metaDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		metaDB: metaDB,
		log:    log.With().Str("repo", "coverage").Logger(),
	}
}

const coverageColumns = `symbol, provider, status, failure_count, last_success_at, last_failure_at, last_error, records_fetched, updated_at`

// Get returns the coverage record for one (symbol, provider) pair, or nil if
// the pair has never been attempted.
func (r *Repository) Get(symbol, provider string) (*Record, error) {
	query := "SELECT " + coverageColumns + " FROM provider_coverage WHERE symbol = ? AND provider = ?"

	rows, err := r.metaDB.Query(query, symbol, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to query coverage record: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil // Pair never attempted
	}

	record, err := scanRecord(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan coverage record: %w", err)
	}

	return record, nil
}

// GetBySymbol returns all coverage records for one symbol.
func (r *Repository) GetBySymbol(symbol string) ([]*Record, error) {
	query := "SELECT " + coverageColumns + " FROM provider_coverage WHERE symbol = ?"

	rows, err := r.metaDB.Query(query, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query coverage records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan coverage record: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// Upsert writes a coverage record, creating it on first attempt for the pair.
func (r *Repository) Upsert(record *Record) error {
	query := `
		INSERT INTO provider_coverage (symbol, provider, status, failure_count, last_success_at, last_failure_at, last_error, records_fetched, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, provider) DO UPDATE SET
			status = excluded.status,
			failure_count = excluded.failure_count,
			last_success_at = excluded.last_success_at,
			last_failure_at = excluded.last_failure_at,
			last_error = excluded.last_error,
			records_fetched = excluded.records_fetched,
			updated_at = excluded.updated_at`

	_, err := r.metaDB.Exec(query,
		record.Symbol,
		record.Provider,
		string(record.Status),
		record.FailureCount,
		formatNullableTime(record.LastSuccessAt),
		formatNullableTime(record.LastFailureAt),
		nullableString(record.LastError),
		record.RecordsFetched,
		record.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert coverage record for %s/%s: %w", record.Symbol, record.Provider, err)
	}

	return nil
}

func scanRecord(rows *sql.Rows) (*Record, error) {
	var record Record
	var status string
	var lastSuccess, lastFailure, lastError sql.NullString
	var updatedAt string

	err := rows.Scan(
		&record.Symbol,
		&record.Provider,
		&status,
		&record.FailureCount,
		&lastSuccess,
		&lastFailure,
		&lastError,
		&record.RecordsFetched,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Status = Status(status)
	record.LastSuccessAt = parseNullableTime(lastSuccess)
	record.LastFailureAt = parseNullableTime(lastFailure)
	if lastError.Valid {
		record.LastError = lastError.String
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		record.UpdatedAt = t
	}

	return &record, nil
}

func formatNullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
