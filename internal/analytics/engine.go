package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/openfolio/pulse/internal/ledger"
	"github.com/openfolio/pulse/internal/prices"
)

const dateLayout = "2006-01-02"

// rollingVolWindow is the lookback for the short-horizon volatility estimate.
const rollingVolWindow = 21

// Engine computes analytics stages from ledger records and stored prices.
// Each stage returns a canonical result string; callers treat it as opaque
// beyond hashing it for dependency tracking.
type Engine struct {
	ledgerRepo *ledger.Repository
	pricesRepo *prices.Repository
	log        zerolog.Logger
}

// NewEngine creates an analytics engine.
func NewEngine(ledgerRepo *ledger.Repository, pricesRepo *prices.Repository, log zerolog.Logger) *Engine {
	return &Engine{
		ledgerRepo: ledgerRepo,
		pricesRepo: pricesRepo,
		log:        log.With().Str("service", "analytics").Logger(),
	}
}

// ComputePositions reconstructs current holdings for an account from its
// inception seed plus transaction replay.
func (e *Engine) ComputePositions(ctx context.Context, accountID string) (string, error) {
	holdings, err := e.holdings(accountID)
	if err != nil {
		return "", err
	}

	symbols := make([]string, 0, len(holdings))
	for sym := range holdings {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var b strings.Builder
	for _, sym := range symbols {
		if math.Abs(holdings[sym]) < 1e-9 {
			continue // Fully closed position
		}
		fmt.Fprintf(&b, "%s:%.6f;", sym, holdings[sym])
	}

	return "positions|" + b.String(), nil
}

// ComputeReturns builds the daily portfolio value series for an account up
// to asOf and derives daily returns from it.
func (e *Engine) ComputeReturns(ctx context.Context, accountID string, asOf time.Time) (string, error) {
	_, returns, err := e.valueSeries(accountID, asOf)
	if err != nil {
		return "", err
	}
	if len(returns) == 0 {
		return "returns|empty", nil
	}

	total := 1.0
	for _, r := range returns {
		total *= 1 + r
	}

	mean := stat.Mean(returns, nil)

	var b strings.Builder
	fmt.Fprintf(&b, "returns|n=%d;total=%.8f;mean=%.8f;series=", len(returns), total-1, mean)
	for _, r := range returns {
		fmt.Fprintf(&b, "%.8f,", r)
	}

	return b.String(), nil
}

// ComputeRisk derives volatility, rolling volatility and max drawdown for an
// entity as of a date.
func (e *Engine) ComputeRisk(ctx context.Context, entityType, entityID string, asOf time.Time) (string, error) {
	values, returns, err := e.valueSeries(entityID, asOf)
	if err != nil {
		return "", err
	}
	if len(returns) < 2 {
		return "risk|insufficient_data", nil
	}

	vol := stat.StdDev(returns, nil) * math.Sqrt(252)

	rolling := vol
	if len(returns) >= rollingVolWindow {
		series := talib.StdDev(returns, rollingVolWindow, 1.0)
		rolling = series[len(series)-1] * math.Sqrt(252)
	}

	mdd := maxDrawdown(values)

	return fmt.Sprintf("risk|%s:%s;vol=%.6f;rolling_vol=%.6f;max_drawdown=%.6f;as_of=%s",
		entityType, entityID, vol, rolling, mdd, asOf.Format(dateLayout)), nil
}

// ComputeFactorExposure regresses entity returns on each factor proxy's
// returns, producing one beta per factor.
func (e *Engine) ComputeFactorExposure(ctx context.Context, entityType, entityID string, asOf time.Time, factorSymbols []string) (string, error) {
	_, entityReturns, err := e.valueSeriesDated(entityID, asOf)
	if err != nil {
		return "", err
	}
	if len(entityReturns) < 2 {
		return "factor_exposure|insufficient_data", nil
	}

	sorted := make([]string, len(factorSymbols))
	copy(sorted, factorSymbols)
	sort.Strings(sorted)

	var b strings.Builder
	fmt.Fprintf(&b, "factor_exposure|%s:%s;as_of=%s;", entityType, entityID, asOf.Format(dateLayout))
	for _, factor := range sorted {
		factorReturns, err := e.symbolReturns(factor, asOf)
		if err != nil {
			return "", fmt.Errorf("factor %s: %w", factor, err)
		}

		x, y := alignReturns(factorReturns, entityReturns)
		if len(x) < 2 {
			fmt.Fprintf(&b, "%s=na;", factor)
			continue
		}

		_, beta := stat.LinearRegression(x, y, nil, false)
		fmt.Fprintf(&b, "%s=%.6f;", factor, beta)
	}

	return b.String(), nil
}

// ComputeGroupRollup aggregates member account values into one group view.
func (e *Engine) ComputeGroupRollup(ctx context.Context, groupID string, members []string, asOf time.Time) (string, error) {
	sorted := make([]string, len(members))
	copy(sorted, members)
	sort.Strings(sorted)

	totalValue := 0.0
	var pooled []float64
	for _, accountID := range sorted {
		values, returns, err := e.valueSeries(accountID, asOf)
		if err != nil {
			return "", fmt.Errorf("member %s: %w", accountID, err)
		}
		if len(values) > 0 {
			totalValue += values[len(values)-1]
		}
		if len(pooled) == 0 {
			pooled = append(pooled, returns...)
		} else {
			// Weighted pooling would need value alignment across members;
			// the rollup reports the simple cross-member mean instead.
			n := len(pooled)
			if len(returns) < n {
				n = len(returns)
			}
			for i := 0; i < n; i++ {
				pooled[i] = (pooled[i] + returns[i]) / 2
			}
		}
	}

	meanReturn := 0.0
	if len(pooled) > 0 {
		meanReturn = stat.Mean(pooled, nil)
	}

	return fmt.Sprintf("group_rollup|%s;members=%d;value=%.4f;mean_return=%.8f;as_of=%s",
		groupID, len(sorted), totalValue, meanReturn, asOf.Format(dateLayout)), nil
}

// holdings replays inception positions plus transactions into a symbol ->
// quantity map.
func (e *Engine) holdings(accountID string) (map[string]float64, error) {
	holdings := make(map[string]float64)

	inception, err := e.ledgerRepo.InceptionPositions(accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load inception positions: %w", err)
	}
	for _, p := range inception {
		holdings[p.Symbol] += p.Quantity
	}

	txs, err := e.ledgerRepo.Transactions(accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	for _, tx := range txs {
		if tx.Side == "sell" {
			holdings[tx.Symbol] -= tx.Quantity
		} else {
			holdings[tx.Symbol] += tx.Quantity
		}
	}

	return holdings, nil
}

// valueSeries builds the daily portfolio value series and its daily returns
// for an account up to asOf.
func (e *Engine) valueSeries(accountID string, asOf time.Time) ([]float64, []float64, error) {
	values, returns, err := e.valueSeriesWithDates(accountID, asOf)
	if err != nil {
		return nil, nil, err
	}
	plain := make([]float64, 0, len(returns))
	for _, r := range returns {
		plain = append(plain, r.value)
	}
	return values, plain, nil
}

// valueSeriesDated is like valueSeries but keeps the return dates for
// cross-series alignment.
func (e *Engine) valueSeriesDated(accountID string, asOf time.Time) ([]float64, []datedReturn, error) {
	return e.valueSeriesWithDates(accountID, asOf)
}

type datedReturn struct {
	date  string
	value float64
}

func (e *Engine) valueSeriesWithDates(accountID string, asOf time.Time) ([]float64, []datedReturn, error) {
	txs, err := e.ledgerRepo.Transactions(accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	inception, err := e.ledgerRepo.InceptionPositions(accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load inception positions: %w", err)
	}

	symbols := make(map[string]bool)
	for _, tx := range txs {
		symbols[tx.Symbol] = true
	}
	for _, p := range inception {
		symbols[p.Symbol] = true
	}
	if len(symbols) == 0 {
		return nil, nil, nil
	}

	// Price lookup per symbol, plus the union of trading dates.
	closes := make(map[string]map[string]float64)
	dateSet := make(map[string]bool)
	for sym := range symbols {
		rows, err := e.pricesRepo.GetCloses(sym, asOf)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load prices for %s: %w", sym, err)
		}
		closes[sym] = make(map[string]float64, len(rows))
		for _, row := range rows {
			key := row.Date.Format(dateLayout)
			closes[sym][key] = row.Close
			dateSet[key] = true
		}
	}
	if len(dateSet) == 0 {
		return nil, nil, nil
	}

	dates := make([]string, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	// Replay holdings over the date axis.
	holdings := make(map[string]float64)
	for _, p := range inception {
		holdings[p.Symbol] += p.Quantity
	}
	txIdx := 0
	lastClose := make(map[string]float64)

	var values []float64
	var returns []datedReturn
	prevValue := 0.0

	for _, dateStr := range dates {
		for txIdx < len(txs) && txs[txIdx].ExecutedAt.Format(dateLayout) <= dateStr {
			tx := txs[txIdx]
			if tx.Side == "sell" {
				holdings[tx.Symbol] -= tx.Quantity
			} else {
				holdings[tx.Symbol] += tx.Quantity
			}
			txIdx++
		}

		value := 0.0
		for sym, qty := range holdings {
			if close, ok := closes[sym][dateStr]; ok {
				lastClose[sym] = close
			}
			if close, ok := lastClose[sym]; ok {
				value += qty * close
			}
		}

		if prevValue > 0 && value > 0 {
			returns = append(returns, datedReturn{date: dateStr, value: value/prevValue - 1})
		}
		if value > 0 {
			values = append(values, value)
			prevValue = value
		}
	}

	return values, returns, nil
}

// symbolReturns builds the daily return series for one traded symbol.
func (e *Engine) symbolReturns(symbol string, asOf time.Time) ([]datedReturn, error) {
	rows, err := e.pricesRepo.GetCloses(symbol, asOf)
	if err != nil {
		return nil, err
	}

	var returns []datedReturn
	for i := 1; i < len(rows); i++ {
		if rows[i-1].Close <= 0 {
			continue
		}
		returns = append(returns, datedReturn{
			date:  rows[i].Date.Format(dateLayout),
			value: rows[i].Close/rows[i-1].Close - 1,
		})
	}
	return returns, nil
}

// alignReturns intersects two dated return series on date, producing the
// paired x/y slices for regression.
func alignReturns(x, y []datedReturn) ([]float64, []float64) {
	xByDate := make(map[string]float64, len(x))
	for _, r := range x {
		xByDate[r.date] = r.value
	}

	var xs, ys []float64
	for _, r := range y {
		if xv, ok := xByDate[r.date]; ok {
			xs = append(xs, xv)
			ys = append(ys, r.value)
		}
	}
	return xs, ys
}

// maxDrawdown computes the largest peak-to-trough decline of a value series.
func maxDrawdown(values []float64) float64 {
	peak := math.Inf(-1)
	mdd := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak
			if dd > mdd {
				mdd = dd
			}
		}
	}
	return mdd
}
