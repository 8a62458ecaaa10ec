package ledger

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pulsetesting "github.com/openfolio/pulse/internal/testing"
)

func date(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestActiveEntities(t *testing.T) {
	db, _ := pulsetesting.NewTestDB(t, "ledger")
	repo := NewRepository(db.Conn(), zerolog.Nop())

	pulsetesting.SeedAccount(t, db.Conn(), "acc-1", "Main")
	pulsetesting.SeedAccount(t, db.Conn(), "acc-2", "Seeded")
	pulsetesting.SeedAccount(t, db.Conn(), "acc-3", "Empty")
	pulsetesting.SeedTransaction(t, db.Conn(), "acc-1", "AAPL", "buy", 10, 100, "2025-03-05")
	pulsetesting.SeedTransaction(t, db.Conn(), "acc-1", "MSFT", "buy", 2, 400, "2025-02-01")
	pulsetesting.SeedInceptionPosition(t, db.Conn(), "acc-2", "VWCE", 50, "2025-01-15")

	entities, err := repo.ActiveEntities()
	require.NoError(t, err)
	require.Len(t, entities, 2)

	byID := make(map[string]int)
	for i, e := range entities {
		byID[e.Ref.ID] = i
	}
	require.Contains(t, byID, "acc-1")
	require.Contains(t, byID, "acc-2")

	main := entities[byID["acc-1"]]
	assert.Equal(t, "account:acc-1", main.Ref.String())
	assert.False(t, main.HasInception)
	assert.Equal(t, date("2025-02-01"), main.EarliestDate)

	seeded := entities[byID["acc-2"]]
	assert.True(t, seeded.HasInception)
	assert.Equal(t, date("2025-01-15"), seeded.EarliestDate)
}

func TestGroups(t *testing.T) {
	db, _ := pulsetesting.NewTestDB(t, "ledger")
	repo := NewRepository(db.Conn(), zerolog.Nop())

	pulsetesting.SeedAccount(t, db.Conn(), "acc-1", "One")
	pulsetesting.SeedAccount(t, db.Conn(), "acc-2", "Two")
	pulsetesting.SeedGroup(t, db.Conn(), "grp-1", "Family", "acc-2", "acc-1")

	groups, err := repo.Groups()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "grp-1", groups[0].ID)
	assert.Equal(t, []string{"acc-1", "acc-2"}, groups[0].Members)
}

func TestTrackedSymbols_UnionWithEarliestDate(t *testing.T) {
	db, _ := pulsetesting.NewTestDB(t, "ledger")
	repo := NewRepository(db.Conn(), zerolog.Nop())

	pulsetesting.SeedAccount(t, db.Conn(), "acc-1", "Main")
	pulsetesting.SeedTransaction(t, db.Conn(), "acc-1", "AAPL", "buy", 10, 100, "2025-03-05")
	pulsetesting.SeedTransaction(t, db.Conn(), "acc-1", "AAPL", "buy", 5, 110, "2025-04-01")
	pulsetesting.SeedInceptionPosition(t, db.Conn(), "acc-1", "AAPL", 3, "2025-01-10")
	pulsetesting.SeedInceptionPosition(t, db.Conn(), "acc-1", "VWCE", 50, "2025-02-20")

	symbols, err := repo.TrackedSymbols()
	require.NoError(t, err)
	require.Len(t, symbols, 2)

	assert.Equal(t, "AAPL", symbols[0].Symbol)
	assert.Equal(t, date("2025-01-10"), symbols[0].EarliestDate)
	assert.Equal(t, "VWCE", symbols[1].Symbol)
	assert.Equal(t, date("2025-02-20"), symbols[1].EarliestDate)
}

func TestEarliestTransactionDate(t *testing.T) {
	db, _ := pulsetesting.NewTestDB(t, "ledger")
	repo := NewRepository(db.Conn(), zerolog.Nop())

	_, ok, err := repo.EarliestTransactionDate()
	require.NoError(t, err)
	assert.False(t, ok)

	pulsetesting.SeedAccount(t, db.Conn(), "acc-1", "Main")
	pulsetesting.SeedTransaction(t, db.Conn(), "acc-1", "AAPL", "buy", 10, 100, "2025-03-05")
	pulsetesting.SeedInceptionPosition(t, db.Conn(), "acc-1", "VWCE", 50, "2025-01-15")

	earliest, ok, err := repo.EarliestTransactionDate()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, date("2025-01-15"), earliest)
}

func TestTransactions_OrderedByExecution(t *testing.T) {
	db, _ := pulsetesting.NewTestDB(t, "ledger")
	repo := NewRepository(db.Conn(), zerolog.Nop())

	pulsetesting.SeedAccount(t, db.Conn(), "acc-1", "Main")
	pulsetesting.SeedTransaction(t, db.Conn(), "acc-1", "MSFT", "sell", 1, 410, "2025-03-10")
	pulsetesting.SeedTransaction(t, db.Conn(), "acc-1", "AAPL", "buy", 10, 100, "2025-02-01")

	txs, err := repo.Transactions("acc-1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "AAPL", txs[0].Symbol)
	assert.Equal(t, date("2025-02-01"), txs[0].ExecutedAt)
	assert.Equal(t, "MSFT", txs[1].Symbol)
	assert.Equal(t, "sell", txs[1].Side)
}

func TestTransactionIDs(t *testing.T) {
	db, _ := pulsetesting.NewTestDB(t, "ledger")
	repo := NewRepository(db.Conn(), zerolog.Nop())

	pulsetesting.SeedAccount(t, db.Conn(), "acc-1", "Main")
	first := pulsetesting.SeedTransaction(t, db.Conn(), "acc-1", "AAPL", "buy", 10, 100, "2025-02-01")
	second := pulsetesting.SeedTransaction(t, db.Conn(), "acc-1", "AAPL", "buy", 5, 105, "2025-02-02")

	ids, err := repo.TransactionIDs("acc-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{first, second}, ids)

	ids, err = repo.TransactionIDs("acc-missing")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestInceptionPositions(t *testing.T) {
	db, _ := pulsetesting.NewTestDB(t, "ledger")
	repo := NewRepository(db.Conn(), zerolog.Nop())

	pulsetesting.SeedAccount(t, db.Conn(), "acc-1", "Main")
	pulsetesting.SeedInceptionPosition(t, db.Conn(), "acc-1", "VWCE", 50, "2025-01-15")

	positions, err := repo.InceptionPositions("acc-1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "VWCE", positions[0].Symbol)
	assert.Equal(t, 50.0, positions[0].Quantity)
	assert.Equal(t, date("2025-01-15"), positions[0].AsOf)
}
