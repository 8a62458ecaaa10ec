// Package updates contains the incremental update orchestrator: a fetch
// phase that pulls missing daily prices through a provider cascade, and a
// compute phase that re-runs analytics stages only where their inputs
// changed.
package updates

import (
	"context"
	"time"

	"github.com/openfolio/pulse/internal/domain"
	"github.com/openfolio/pulse/internal/runs"
	"github.com/openfolio/pulse/internal/tracking"
)

// BenchmarkSymbols are the proxy instruments fetched for benchmark-relative
// analytics.
var BenchmarkSymbols = []string{"SPY", "ACWI"}

// FactorSymbols are the proxy instruments fetched for factor exposure
// regressions.
var FactorSymbols = []string{"MTUM", "QUAL", "USMV", "VLUE"}

// ProviderClient is one named data source. Implementations must be safe for
// concurrent calls on different symbols.
type ProviderClient interface {
	Name() string
	FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]domain.PriceRow, error)
}

// CoverageTracker decides which providers to try for a symbol and records
// every attempt's outcome.
type CoverageTracker interface {
	ProvidersToTry(symbol string) ([]string, error)
	RecordSuccess(symbol, provider string, rowCount int) error
	RecordFailure(symbol, provider string, fetchErr error) error
}

// DependencyTracker answers whether a computation stage must re-run and
// records stage lifecycle transitions.
type DependencyTracker interface {
	Get(kind, viewType, viewID string) (*tracking.Dependency, error)
	NeedsRecomputation(kind, viewType, viewID, freshInputHash string) (bool, error)
	MarkStarted(kind, viewType, viewID, inputHash string) error
	MarkCompleted(kind, viewType, viewID string, duration time.Duration, outputHash string) error
	MarkFailed(kind, viewType, viewID string, cause error) error
	MarkSkipped(kind, viewType, viewID string) error
}

// LedgerSource exposes the business records that drive both phases.
type LedgerSource interface {
	ActiveEntities() ([]domain.Entity, error)
	Groups() ([]domain.Group, error)
	TrackedSymbols() ([]domain.Fetchable, error)
	EarliestTransactionDate() (time.Time, bool, error)
	TransactionIDs(accountID string) ([]int64, error)
}

// PriceStore persists fetched rows and exposes the freshness signal used in
// compute-phase input hashes.
type PriceStore interface {
	UpsertDaily(symbol, source string, rows []domain.PriceRow) (int, error)
	GlobalLatestDate() (time.Time, bool, error)
}

// Engine is the set of opaque stage computation functions. Each returns a
// canonical result string the orchestrator hashes for dependency tracking.
type Engine interface {
	ComputePositions(ctx context.Context, accountID string) (string, error)
	ComputeReturns(ctx context.Context, accountID string, asOf time.Time) (string, error)
	ComputeRisk(ctx context.Context, entityType, entityID string, asOf time.Time) (string, error)
	ComputeFactorExposure(ctx context.Context, entityType, entityID string, asOf time.Time, factorSymbols []string) (string, error)
	ComputeGroupRollup(ctx context.Context, groupID string, members []string, asOf time.Time) (string, error)
}

// RunStore persists run records.
type RunStore interface {
	Create(id string, jobType runs.JobType, startedAt time.Time) error
	Finalize(snap runs.Snapshot, summary string) error
}
