package testing

import (
	"database/sql"
	"testing"
)

// SeedAccount inserts one account row.
func SeedAccount(t *testing.T, db *sql.DB, id, name string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO accounts (id, name) VALUES (?, ?)`, id, name)
	if err != nil {
		t.Fatalf("Failed to seed account %s: %v", id, err)
	}
}

// SeedGroup inserts a group and its memberships.
func SeedGroup(t *testing.T, db *sql.DB, id, name string, memberIDs ...string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO account_groups (id, name) VALUES (?, ?)`, id, name)
	if err != nil {
		t.Fatalf("Failed to seed group %s: %v", id, err)
	}
	for _, accountID := range memberIDs {
		_, err := db.Exec(`INSERT INTO account_group_members (group_id, account_id) VALUES (?, ?)`, id, accountID)
		if err != nil {
			t.Fatalf("Failed to seed group member %s: %v", accountID, err)
		}
	}
}

// SeedTransaction inserts one executed transaction and returns its row ID.
func SeedTransaction(t *testing.T, db *sql.DB, accountID, symbol, side string, qty, price float64, executedAt string) int64 {
	t.Helper()
	res, err := db.Exec(
		`INSERT INTO transactions (account_id, symbol, side, quantity, price, executed_at) VALUES (?, ?, ?, ?, ?, ?)`,
		accountID, symbol, side, qty, price, executedAt)
	if err != nil {
		t.Fatalf("Failed to seed transaction for %s: %v", accountID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("Failed to read transaction id: %v", err)
	}
	return id
}

// SeedInceptionPosition inserts one externally supplied starting position.
func SeedInceptionPosition(t *testing.T, db *sql.DB, accountID, symbol string, qty float64, asOf string) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO inception_positions (account_id, symbol, quantity, as_of) VALUES (?, ?, ?, ?)`,
		accountID, symbol, qty, asOf)
	if err != nil {
		t.Fatalf("Failed to seed inception position for %s: %v", accountID, err)
	}
}
