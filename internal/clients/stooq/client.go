// Package stooq provides historical price fetching from the stooq.com CSV
// endpoint, used as the fallback data source.
package stooq

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfolio/pulse/internal/domain"
)

// Client for the stooq.com daily CSV endpoint
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new stooq client
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		baseURL: "https://stooq.com/q/d/l/",
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.With().Str("client", "stooq").Logger(),
	}
}

// Name returns the provider name used in coverage records.
func (c *Client) Name() string {
	return "stooq"
}

// FetchDaily fetches daily closing prices for [start, end]. Stooq quotes US
// symbols with a ".us" suffix; plain symbols are mapped automatically.
func (c *Client) FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]domain.PriceRow, error) {
	url := fmt.Sprintf("%s?s=%s&d1=%s&d2=%s&i=d",
		c.baseURL, stooqSymbol(symbol), start.Format("20060102"), end.Format("20060102"))
	c.log.Debug().Str("url", url).Msg("Fetching daily bars")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d for %s", resp.StatusCode, symbol)
	}

	rows, err := parseCSV(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stooq CSV for %s: %w", symbol, err)
	}

	c.log.Debug().Str("symbol", symbol).Int("rows", len(rows)).Msg("Fetched daily bars")
	return rows, nil
}

// parseCSV reads the Date,Open,High,Low,Close[,Volume] daily format.
// A body of "No data" (stooq's empty answer) parses as zero rows.
func parseCSV(body io.Reader) ([]domain.PriceRow, error) {
	reader := csv.NewReader(body)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []domain.PriceRow{}, nil
	}
	if len(records) == 1 || !strings.EqualFold(records[0][0], "Date") {
		// Header-only response or "No data" sentinel
		return []domain.PriceRow{}, nil
	}

	rows := make([]domain.PriceRow, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) < 5 {
			continue
		}
		date, err := time.Parse("2006-01-02", record[0])
		if err != nil {
			continue
		}
		closePrice, err := strconv.ParseFloat(record[4], 64)
		if err != nil {
			continue
		}
		rows = append(rows, domain.PriceRow{Date: date, Close: closePrice})
	}

	return rows, nil
}

// stooqSymbol maps a plain US ticker to stooq's suffixed form. Symbols that
// already carry an exchange suffix are passed through unchanged.
func stooqSymbol(symbol string) string {
	lower := strings.ToLower(symbol)
	if strings.Contains(lower, ".") {
		return lower
	}
	return lower + ".us"
}
