package updates

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

// UpdateState tracks fetch freshness for one fetchable series: the last date
// through which its data is known complete.
type UpdateState struct {
	EntityType     string
	EntityID       string
	LastUpdateDate time.Time
	LastUpdateAt   time.Time
}

// StateRepository handles update state database operations
type StateRepository struct {
	metaDB *sql.DB
	log    zerolog.Logger
}

// NewStateRepository creates a new update state repository
func NewStateRepository(metaDB *sql.DB, log zerolog.Logger) *StateRepository {
	return &StateRepository{
		metaDB: metaDB,
		log:    log.With().Str("repo", "update_state").Logger(),
	}
}

// Get returns the state for one series, or nil if it was never updated.
func (r *StateRepository) Get(entityType, entityID string) (*UpdateState, error) {
	query := `SELECT entity_type, entity_id, last_update_date, last_update_at
		FROM update_states WHERE entity_type = ? AND entity_id = ?`

	rows, err := r.metaDB.Query(query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query update state: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil // Never updated
	}

	var state UpdateState
	var lastDate, lastAt string
	if err := rows.Scan(&state.EntityType, &state.EntityID, &lastDate, &lastAt); err != nil {
		return nil, fmt.Errorf("failed to scan update state: %w", err)
	}
	if t, err := time.Parse(dateLayout, lastDate); err == nil {
		state.LastUpdateDate = t
	}
	if t, err := time.Parse(time.RFC3339, lastAt); err == nil {
		state.LastUpdateAt = t
	}

	return &state, nil
}

// SetUpdated records a successful update through lastUpdateDate. The stored
// date is monotonically non-decreasing: the upsert keeps whichever date is
// later, so a delayed worker can never move freshness backwards.
func (r *StateRepository) SetUpdated(entityType, entityID string, lastUpdateDate time.Time) error {
	query := `
		INSERT INTO update_states (entity_type, entity_id, last_update_date, last_update_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET
			last_update_date = MAX(update_states.last_update_date, excluded.last_update_date),
			last_update_at = excluded.last_update_at`

	_, err := r.metaDB.Exec(query,
		entityType, entityID,
		lastUpdateDate.Format(dateLayout),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert update state %s/%s: %w", entityType, entityID, err)
	}

	return nil
}
