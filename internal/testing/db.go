// Package testing provides shared test helpers: migrated throwaway
// databases and ledger fixtures.
package testing

import (
	"fmt"
	"os"
	"testing"

	"github.com/openfolio/pulse/internal/database"
	_ "modernc.org/sqlite"
)

// NewTestDB creates a temporary SQLite database with the schema for the
// given name applied. Returns the database and an idempotent cleanup
// function.
//
// Supported schema names:
//   - "ledger" - accounts, groups, securities, transactions
//   - "prices" - daily price store
//   - "meta"   - coverage, update state, dependencies, runs, cache
//   - Unknown names - empty database, no schema applied
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	// Temporary files keep each test's database isolated.
	tmpFile, err := os.CreateTemp("", fmt.Sprintf("test_%s_*.db", name))
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: database.ProfileStandard,
		Name:    name,
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	closed := false
	cleanup := func() {
		if closed {
			return
		}
		closed = true
		_ = db.Close()
		_ = os.Remove(tmpPath)
	}

	t.Cleanup(cleanup)
	return db, cleanup
}
