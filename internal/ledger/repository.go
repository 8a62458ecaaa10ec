// Package ledger reads the business records (accounts, groups, securities,
// transactions) that drive the update subsystem. This package never writes;
// the CRUD layer owns these tables.
package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfolio/pulse/internal/domain"
)

const dateLayout = "2006-01-02"

// Transaction is one executed buy or sell.
type Transaction struct {
	ID         int64
	AccountID  string
	Symbol     string
	Side       string
	Quantity   float64
	Price      float64
	ExecutedAt time.Time
}

// InceptionPosition is one externally supplied starting position.
type InceptionPosition struct {
	AccountID string
	Symbol    string
	Quantity  float64
	AsOf      time.Time
}

// Repository handles ledger database reads
type Repository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// NewRepository creates a new ledger repository
func NewRepository(ledgerDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "ledger").Logger(),
	}
}

// ActiveEntities returns the accounts that currently have transactional
// records or externally supplied starting positions, each with its earliest
// relevant date.
func (r *Repository) ActiveEntities() ([]domain.Entity, error) {
	query := `
		SELECT a.id, a.name,
			MIN(COALESCE(
				(SELECT MIN(t.executed_at) FROM transactions t WHERE t.account_id = a.id),
				(SELECT MIN(ip.as_of) FROM inception_positions ip WHERE ip.account_id = a.id)
			)) AS earliest,
			EXISTS(SELECT 1 FROM inception_positions ip WHERE ip.account_id = a.id) AS has_inception
		FROM accounts a
		WHERE a.active = 1
			AND (EXISTS(SELECT 1 FROM transactions t WHERE t.account_id = a.id)
				OR EXISTS(SELECT 1 FROM inception_positions ip WHERE ip.account_id = a.id))
		GROUP BY a.id`

	rows, err := r.ledgerDB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active entities: %w", err)
	}
	defer rows.Close()

	var entities []domain.Entity
	for rows.Next() {
		var e domain.Entity
		var earliest sql.NullString
		var hasInception bool
		if err := rows.Scan(&e.Ref.ID, &e.Name, &earliest, &hasInception); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		e.Ref.Type = domain.EntityAccount
		e.HasInception = hasInception
		if earliest.Valid {
			if t, err := parseLedgerDate(earliest.String); err == nil {
				e.EarliestDate = t
			}
		}
		entities = append(entities, e)
	}

	return entities, rows.Err()
}

// Groups returns all account groups with their member account IDs.
func (r *Repository) Groups() ([]domain.Group, error) {
	rows, err := r.ledgerDB.Query(`SELECT id, name FROM account_groups`)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.Group
	for rows.Next() {
		var g domain.Group
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range groups {
		memberRows, err := r.ledgerDB.Query(`SELECT account_id FROM account_group_members WHERE group_id = ? ORDER BY account_id`, groups[i].ID)
		if err != nil {
			return nil, fmt.Errorf("failed to query group members: %w", err)
		}
		for memberRows.Next() {
			var id string
			if err := memberRows.Scan(&id); err != nil {
				memberRows.Close()
				return nil, fmt.Errorf("failed to scan group member: %w", err)
			}
			groups[i].Members = append(groups[i].Members, id)
		}
		if err := memberRows.Err(); err != nil {
			memberRows.Close()
			return nil, err
		}
		memberRows.Close()
	}

	return groups, nil
}

// TrackedSymbols returns the distinct instrument symbols referenced by
// transactions or inception positions, with the earliest date each is needed.
func (r *Repository) TrackedSymbols() ([]domain.Fetchable, error) {
	query := `
		SELECT symbol, MIN(first_date) FROM (
			SELECT symbol, MIN(executed_at) AS first_date FROM transactions GROUP BY symbol
			UNION ALL
			SELECT symbol, MIN(as_of) AS first_date FROM inception_positions GROUP BY symbol
		) GROUP BY symbol ORDER BY symbol`

	rows, err := r.ledgerDB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracked symbols: %w", err)
	}
	defer rows.Close()

	var fetchables []domain.Fetchable
	for rows.Next() {
		var f domain.Fetchable
		var firstDate sql.NullString
		if err := rows.Scan(&f.Symbol, &firstDate); err != nil {
			return nil, fmt.Errorf("failed to scan tracked symbol: %w", err)
		}
		f.Type = domain.FetchInstrument
		if firstDate.Valid {
			if t, err := parseLedgerDate(firstDate.String); err == nil {
				f.EarliestDate = t
			}
		}
		fetchables = append(fetchables, f)
	}

	return fetchables, rows.Err()
}

// EarliestTransactionDate returns the first date any business record exists,
// used as the default lower bound for proxy instrument fetches. The second
// return value is false when the ledger is empty.
func (r *Repository) EarliestTransactionDate() (time.Time, bool, error) {
	var earliest sql.NullString
	query := `
		SELECT MIN(d) FROM (
			SELECT MIN(executed_at) AS d FROM transactions
			UNION ALL
			SELECT MIN(as_of) AS d FROM inception_positions
		)`

	if err := r.ledgerDB.QueryRow(query).Scan(&earliest); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query earliest business date: %w", err)
	}
	if !earliest.Valid || earliest.String == "" {
		return time.Time{}, false, nil
	}

	t, err := parseLedgerDate(earliest.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// Transactions returns all transactions for one account ordered by execution
// time, then id.
func (r *Repository) Transactions(accountID string) ([]Transaction, error) {
	query := `SELECT id, account_id, symbol, side, quantity, price, executed_at
		FROM transactions WHERE account_id = ? ORDER BY executed_at, id`

	rows, err := r.ledgerDB.Query(query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var tx Transaction
		var executed string
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.Symbol, &tx.Side, &tx.Quantity, &tx.Price, &executed); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if t, err := parseLedgerDate(executed); err == nil {
			tx.ExecutedAt = t
		}
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

// TransactionIDs returns the id set for one account, used for input hashing.
func (r *Repository) TransactionIDs(accountID string) ([]int64, error) {
	rows, err := r.ledgerDB.Query(`SELECT id FROM transactions WHERE account_id = ?`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan transaction id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// InceptionPositions returns the starting-position seed for one account.
func (r *Repository) InceptionPositions(accountID string) ([]InceptionPosition, error) {
	query := `SELECT account_id, symbol, quantity, as_of FROM inception_positions WHERE account_id = ? ORDER BY symbol`

	rows, err := r.ledgerDB.Query(query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query inception positions: %w", err)
	}
	defer rows.Close()

	var positions []InceptionPosition
	for rows.Next() {
		var p InceptionPosition
		var asOf string
		if err := rows.Scan(&p.AccountID, &p.Symbol, &p.Quantity, &asOf); err != nil {
			return nil, fmt.Errorf("failed to scan inception position: %w", err)
		}
		if t, err := parseLedgerDate(asOf); err == nil {
			p.AsOf = t
		}
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// parseLedgerDate accepts both date-only and datetime strings.
func parseLedgerDate(s string) (time.Time, error) {
	if len(s) >= len(dateLayout) {
		if t, err := time.Parse(dateLayout, s[:len(dateLayout)]); err == nil {
			return t, nil
		}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable ledger date %q", s)
	}
	return t, nil
}
