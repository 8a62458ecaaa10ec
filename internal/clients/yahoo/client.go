// Package yahoo provides historical price fetching from the Yahoo Finance
// chart API.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfolio/pulse/internal/clients/pricecache"
	"github.com/openfolio/pulse/internal/domain"
)

// Client for the Yahoo Finance v8 chart endpoint
type Client struct {
	baseURL   string
	client    *http.Client
	log       zerolog.Logger
	cacheRepo *pricecache.Repository
}

// NewClient creates a new Yahoo Finance client.
// cacheRepo is optional - if nil, caching is disabled.
func NewClient(cacheRepo *pricecache.Repository, log zerolog.Logger) *Client {
	return &Client{
		baseURL:   "https://query1.finance.yahoo.com/v8/finance/chart",
		client:    &http.Client{Timeout: 15 * time.Second},
		log:       log.With().Str("client", "yahoo").Logger(),
		cacheRepo: cacheRepo,
	}
}

// Name returns the provider name used in coverage records.
func (c *Client) Name() string {
	return "yahoo"
}

// chartResponse is the subset of the chart API response we consume.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// cachedRows is the structure stored in the response cache.
type cachedRows struct {
	Dates  []int64   `msgpack:"dates"`
	Closes []float64 `msgpack:"closes"`
}

// FetchDaily fetches daily closing prices for [start, end]. Safe to call
// concurrently for different symbols.
func (c *Client) FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]domain.PriceRow, error) {
	cacheKey := fmt.Sprintf("%s:%s:%s", symbol, start.Format("2006-01-02"), end.Format("2006-01-02"))

	if c.cacheRepo != nil {
		var cached cachedRows
		hit, err := c.cacheRepo.GetIfFresh("yahoo", cacheKey, pricecache.TTLDailyBars, &cached)
		if err == nil && hit {
			c.log.Debug().Str("symbol", symbol).Int("rows", len(cached.Dates)).Msg("Cache hit")
			return decodeCached(cached), nil
		}
	}

	url := fmt.Sprintf("%s/%s?period1=%d&period2=%d&interval=1d&events=history",
		c.baseURL, symbol, start.Unix(), end.AddDate(0, 0, 1).Unix())
	c.log.Debug().Str("url", url).Msg("Fetching daily bars")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", "pulse/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d for %s", resp.StatusCode, symbol)
	}

	var result chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode chart response: %w", err)
	}

	if result.Chart.Error != nil {
		return nil, fmt.Errorf("chart API error %s: %s", result.Chart.Error.Code, result.Chart.Error.Description)
	}
	if len(result.Chart.Result) == 0 {
		// No result block with no error means the range is simply empty
		return []domain.PriceRow{}, nil
	}

	series := result.Chart.Result[0]
	if len(series.Indicators.Quote) == 0 {
		return []domain.PriceRow{}, nil
	}
	closes := series.Indicators.Quote[0].Close

	rows := make([]domain.PriceRow, 0, len(series.Timestamp))
	cache := cachedRows{}
	for i, ts := range series.Timestamp {
		if i >= len(closes) || closes[i] == nil {
			continue // Market holiday / missing bar
		}
		date := time.Unix(ts, 0).UTC().Truncate(24 * time.Hour)
		rows = append(rows, domain.PriceRow{Date: date, Close: *closes[i]})
		cache.Dates = append(cache.Dates, date.Unix())
		cache.Closes = append(cache.Closes, *closes[i])
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store("yahoo", cacheKey, &cache); err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache response")
		}
	}

	c.log.Debug().Str("symbol", symbol).Int("rows", len(rows)).Msg("Fetched daily bars")
	return rows, nil
}

func decodeCached(cached cachedRows) []domain.PriceRow {
	rows := make([]domain.PriceRow, 0, len(cached.Dates))
	for i, ts := range cached.Dates {
		rows = append(rows, domain.PriceRow{
			Date:  time.Unix(ts, 0).UTC(),
			Close: cached.Closes[i],
		})
	}
	return rows
}
