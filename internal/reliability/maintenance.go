package reliability

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfolio/pulse/internal/clients/pricecache"
	"github.com/openfolio/pulse/internal/database"
)

// cacheRetention is how long stale provider cache payloads are kept.
const cacheRetention = 7 * 24 * time.Hour

// MaintenanceJob performs the nightly database upkeep: WAL checkpoints on
// every database and pruning of stale provider cache entries.
type MaintenanceJob struct {
	databases map[string]*database.DB
	cache     *pricecache.Repository
	log       zerolog.Logger
}

// NewMaintenanceJob creates the nightly maintenance job.
func NewMaintenanceJob(databases map[string]*database.DB, cache *pricecache.Repository, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		databases: databases,
		cache:     cache,
		log:       log.With().Str("job", "maintenance").Logger(),
	}
}

func (j *MaintenanceJob) Name() string { return "maintenance" }

func (j *MaintenanceJob) Run() error {
	started := time.Now()

	for name, db := range j.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			// Checkpoint failure is not fatal; pressure just builds until
			// the next pass.
			j.log.Warn().
				Err(err).
				Str("database", name).
				Msg("WAL checkpoint failed")
		}
	}

	purged, err := j.cache.Purge(cacheRetention)
	if err != nil {
		return fmt.Errorf("failed to purge provider cache: %w", err)
	}

	j.log.Info().
		Int64("cache_entries_purged", purged).
		Dur("duration_ms", time.Since(started)).
		Msg("Maintenance completed")
	return nil
}
