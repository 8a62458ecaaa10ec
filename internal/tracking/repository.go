package tracking

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Repository handles computation dependency database operations
type Repository struct {
	metaDB *sql.DB
	log    zerolog.Logger
}

// NewRepository creates a new dependency repository
func NewRepository(metaDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		metaDB: metaDB,
		log:    log.With().Str("repo", "tracking").Logger(),
	}
}

const dependencyColumns = `kind, view_type, view_id, input_hash, output_hash, status, last_computed_at, compute_duration_ms, error_message`

// Get returns the dependency record for one triple, or nil if none exists.
func (r *Repository) Get(kind, viewType, viewID string) (*Dependency, error) {
	query := "SELECT " + dependencyColumns + " FROM computation_dependencies WHERE kind = ? AND view_type = ? AND view_id = ?"

	rows, err := r.metaDB.Query(query, kind, viewType, viewID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependency record: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil // Never computed
	}

	dep, err := scanDependency(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan dependency record: %w", err)
	}

	return dep, nil
}

// List returns all dependency records for one view, across kinds.
func (r *Repository) List(viewType, viewID string) ([]*Dependency, error) {
	query := "SELECT " + dependencyColumns + " FROM computation_dependencies WHERE view_type = ? AND view_id = ?"

	rows, err := r.metaDB.Query(query, viewType, viewID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependency records: %w", err)
	}
	defer rows.Close()

	var deps []*Dependency
	for rows.Next() {
		dep, err := scanDependency(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dependency record: %w", err)
		}
		deps = append(deps, dep)
	}

	return deps, rows.Err()
}

// Upsert writes a dependency record.
func (r *Repository) Upsert(dep *Dependency) error {
	query := `
		INSERT INTO computation_dependencies (kind, view_type, view_id, input_hash, output_hash, status, last_computed_at, compute_duration_ms, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, view_type, view_id) DO UPDATE SET
			input_hash = excluded.input_hash,
			output_hash = excluded.output_hash,
			status = excluded.status,
			last_computed_at = excluded.last_computed_at,
			compute_duration_ms = excluded.compute_duration_ms,
			error_message = excluded.error_message`

	var lastComputed interface{}
	if dep.LastComputedAt != nil {
		lastComputed = dep.LastComputedAt.UTC().Format(time.RFC3339)
	}
	var duration interface{}
	if dep.DurationMs != nil {
		duration = *dep.DurationMs
	}
	var outputHash interface{}
	if dep.OutputHash != "" {
		outputHash = dep.OutputHash
	}
	var errMsg interface{}
	if dep.ErrorMessage != "" {
		errMsg = dep.ErrorMessage
	}

	_, err := r.metaDB.Exec(query,
		dep.Kind, dep.ViewType, dep.ViewID,
		dep.InputHash, outputHash, string(dep.Status),
		lastComputed, duration, errMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert dependency %s/%s/%s: %w", dep.Kind, dep.ViewType, dep.ViewID, err)
	}

	return nil
}

func scanDependency(rows *sql.Rows) (*Dependency, error) {
	var dep Dependency
	var status string
	var outputHash, lastComputed, errMsg sql.NullString
	var duration sql.NullInt64

	err := rows.Scan(
		&dep.Kind, &dep.ViewType, &dep.ViewID,
		&dep.InputHash, &outputHash, &status,
		&lastComputed, &duration, &errMsg,
	)
	if err != nil {
		return nil, err
	}

	dep.Status = ComputationStatus(status)
	if outputHash.Valid {
		dep.OutputHash = outputHash.String
	}
	if errMsg.Valid {
		dep.ErrorMessage = errMsg.String
	}
	if lastComputed.Valid {
		if t, err := time.Parse(time.RFC3339, lastComputed.String); err == nil {
			dep.LastComputedAt = &t
		}
	}
	if duration.Valid {
		d := duration.Int64
		dep.DurationMs = &d
	}

	return &dep, nil
}
