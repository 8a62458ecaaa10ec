package runs

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Repository handles run record database operations
type Repository struct {
	metaDB *sql.DB
	log    zerolog.Logger
}

// NewRepository creates a new run repository
func NewRepository(metaDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		metaDB: metaDB,
		log:    log.With().Str("repo", "runs").Logger(),
	}
}

// Create inserts the initial running row for a run.
func (r *Repository) Create(id string, jobType JobType, startedAt time.Time) error {
	query := `INSERT INTO update_runs (id, job_type, status, started_at) VALUES (?, ?, ?, ?)`

	_, err := r.metaDB.Exec(query, id, string(jobType), string(RunRunning), startedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create run record: %w", err)
	}

	return nil
}

// Finalize freezes the persisted row from a finalized snapshot, regardless of
// success or failure. Error and warning lists are serialized as JSON.
func (r *Repository) Finalize(snap Snapshot, summary string) error {
	errorsJSON, err := json.Marshal(snap.Errors)
	if err != nil {
		return fmt.Errorf("failed to serialize run errors: %w", err)
	}
	warningsJSON, err := json.Marshal(snap.Warnings)
	if err != nil {
		return fmt.Errorf("failed to serialize run warnings: %w", err)
	}

	var completedAt interface{}
	if snap.CompletedAt != nil {
		completedAt = snap.CompletedAt.UTC().Format(time.RFC3339)
	}

	query := `
		UPDATE update_runs SET
			status = ?,
			completed_at = ?,
			symbols_processed = ?,
			symbols_updated = ?,
			symbols_failed = ?,
			symbols_skipped = ?,
			rows_inserted = ?,
			api_calls_made = ?,
			cache_hits = ?,
			stages_recomputed = ?,
			stages_skipped = ?,
			fetch_duration_ms = ?,
			compute_duration_ms = ?,
			errors = ?,
			warnings = ?,
			summary = ?
		WHERE id = ?`

	_, err = r.metaDB.Exec(query,
		string(snap.Status),
		completedAt,
		snap.Counters.SymbolsProcessed,
		snap.Counters.SymbolsUpdated,
		snap.Counters.SymbolsFailed,
		snap.Counters.SymbolsSkipped,
		snap.Counters.RowsInserted,
		snap.Counters.APICallsMade,
		snap.Counters.CacheHits,
		snap.Counters.StagesRecomputed,
		snap.Counters.StagesSkipped,
		snap.FetchDurationMs,
		snap.ComputeDurationMs,
		string(errorsJSON),
		string(warningsJSON),
		summary,
		snap.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize run record %s: %w", snap.ID, err)
	}

	return nil
}

const runColumns = `id, job_type, status, started_at, completed_at,
	symbols_processed, symbols_updated, symbols_failed, symbols_skipped,
	rows_inserted, api_calls_made, cache_hits, stages_recomputed, stages_skipped,
	fetch_duration_ms, compute_duration_ms, errors, warnings, summary`

// Get returns one run record by id, or nil if not found.
func (r *Repository) Get(id string) (*Record, error) {
	query := "SELECT " + runColumns + " FROM update_runs WHERE id = ?"

	rows, err := r.metaDB.Query(query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query run record: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}

	return scanRun(rows)
}

// List returns the most recent run records, newest first.
func (r *Repository) List(limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 20
	}

	query := "SELECT " + runColumns + " FROM update_runs ORDER BY started_at DESC LIMIT ?"

	rows, err := r.metaDB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

func scanRun(rows *sql.Rows) (*Record, error) {
	var record Record
	var jobType, status, startedAt string
	var completedAt, errorsJSON, warningsJSON, summary sql.NullString
	var fetchMs, computeMs sql.NullInt64

	err := rows.Scan(
		&record.ID, &jobType, &status, &startedAt, &completedAt,
		&record.Counters.SymbolsProcessed, &record.Counters.SymbolsUpdated,
		&record.Counters.SymbolsFailed, &record.Counters.SymbolsSkipped,
		&record.Counters.RowsInserted, &record.Counters.APICallsMade,
		&record.Counters.CacheHits, &record.Counters.StagesRecomputed,
		&record.Counters.StagesSkipped,
		&fetchMs, &computeMs, &errorsJSON, &warningsJSON, &summary,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan run record: %w", err)
	}

	record.JobType = JobType(jobType)
	record.Status = RunStatus(status)
	if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
		record.StartedAt = t
	}
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339, completedAt.String); err == nil {
			record.CompletedAt = &t
		}
	}
	if fetchMs.Valid {
		record.FetchDurationMs = fetchMs.Int64
	}
	if computeMs.Valid {
		record.ComputeDurationMs = computeMs.Int64
	}
	if errorsJSON.Valid && errorsJSON.String != "" {
		_ = json.Unmarshal([]byte(errorsJSON.String), &record.Errors)
	}
	if warningsJSON.Valid && warningsJSON.String != "" {
		_ = json.Unmarshal([]byte(warningsJSON.String), &record.Warnings)
	}
	if summary.Valid {
		record.Summary = summary.String
	}

	return &record, nil
}
