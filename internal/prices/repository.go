// Package prices stores daily closing prices fetched from providers.
package prices

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfolio/pulse/internal/database"
	"github.com/openfolio/pulse/internal/domain"
)

const dateLayout = "2006-01-02"

// Repository handles daily price database operations
type Repository struct {
	pricesDB *sql.DB
	log      zerolog.Logger
}

// NewRepository creates a new prices repository
func NewRepository(pricesDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		pricesDB: pricesDB,
		log:      log.With().Str("repo", "prices").Logger(),
	}
}

// UpsertDaily writes a batch of daily rows for one symbol in a single
// transaction and returns the number of rows written.
func (r *Repository) UpsertDaily(symbol, source string, rows []domain.PriceRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	err := database.WithTransaction(r.pricesDB, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO daily_prices (symbol, date, close, source)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(symbol, date) DO UPDATE SET close = excluded.close, source = excluded.source`)
		if err != nil {
			return fmt.Errorf("failed to prepare price insert: %w", err)
		}
		defer stmt.Close()

		for _, row := range rows {
			if _, err := stmt.Exec(symbol, row.Date.Format(dateLayout), row.Close, source); err != nil {
				return fmt.Errorf("failed to insert price %s@%s: %w", symbol, row.Date.Format(dateLayout), err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return len(rows), nil
}

// LatestDate returns the most recent stored price date for a symbol. The
// second return value is false when no prices are stored.
func (r *Repository) LatestDate(symbol string) (time.Time, bool, error) {
	var dateStr sql.NullString
	err := r.pricesDB.QueryRow("SELECT MAX(date) FROM daily_prices WHERE symbol = ?", symbol).Scan(&dateStr)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query latest price date: %w", err)
	}
	if !dateStr.Valid || dateStr.String == "" {
		return time.Time{}, false, nil
	}

	t, err := time.Parse(dateLayout, dateStr.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse latest price date %q: %w", dateStr.String, err)
	}
	return t, true, nil
}

// GlobalLatestDate returns the most recent price date across all symbols,
// used as the freshness signal in compute-phase input hashes. The second
// return value is false when the store is empty.
func (r *Repository) GlobalLatestDate() (time.Time, bool, error) {
	var dateStr sql.NullString
	if err := r.pricesDB.QueryRow("SELECT MAX(date) FROM daily_prices").Scan(&dateStr); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query global latest price date: %w", err)
	}
	if !dateStr.Valid || dateStr.String == "" {
		return time.Time{}, false, nil
	}

	t, err := time.Parse(dateLayout, dateStr.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse latest price date %q: %w", dateStr.String, err)
	}
	return t, true, nil
}

// GetRange returns the stored rows for a symbol between start and end,
// inclusive, ordered by date.
func (r *Repository) GetRange(symbol string, start, end time.Time) ([]domain.PriceRow, error) {
	query := `SELECT date, close FROM daily_prices WHERE symbol = ? AND date >= ? AND date <= ? ORDER BY date`

	sqlRows, err := r.pricesDB.Query(query, symbol, start.Format(dateLayout), end.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query price range: %w", err)
	}
	defer sqlRows.Close()

	var out []domain.PriceRow
	for sqlRows.Next() {
		var dateStr string
		var row domain.PriceRow
		if err := sqlRows.Scan(&dateStr, &row.Close); err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}
		if row.Date, err = time.Parse(dateLayout, dateStr); err != nil {
			return nil, fmt.Errorf("failed to parse price date %q: %w", dateStr, err)
		}
		out = append(out, row)
	}

	return out, sqlRows.Err()
}

// GetCloses returns the closing price series for a symbol up to asOf,
// ordered by date.
func (r *Repository) GetCloses(symbol string, asOf time.Time) ([]domain.PriceRow, error) {
	return r.GetRange(symbol, time.Time{}.AddDate(1, 0, 0), asOf)
}
