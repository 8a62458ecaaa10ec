// Package coverage tracks per (symbol, provider) data source health.
// It decides which providers to try for a symbol, in which order, based on
// cumulative success/failure history and a time-based retry window.
package coverage

import "time"

// Status is the health state of one (symbol, provider) pair.
type Status string

const (
	// StatusUnknown - never attempted
	StatusUnknown Status = "unknown"
	// StatusActive - last attempt succeeded
	StatusActive Status = "active"
	// StatusFailed - last attempt failed, eligible again after the backoff window
	StatusFailed Status = "failed"
	// StatusNotSupported - failed repeatedly, never attempted again
	StatusNotSupported Status = "not_supported"
)

// Record is the cumulative health history for one (symbol, provider) pair.
// Records are never deleted, only transitioned.
type Record struct {
	Symbol         string
	Provider       string
	Status         Status
	FailureCount   int
	LastSuccessAt  *time.Time
	LastFailureAt  *time.Time
	LastError      string
	RecordsFetched int64
	UpdatedAt      time.Time
}

const (
	// BackoffWindow is the minimum elapsed time before a failed provider is
	// reconsidered for a symbol.
	BackoffWindow = 24 * time.Hour

	// MaxFailures is the consecutive failure count at which a provider is
	// marked not_supported for a symbol.
	MaxFailures = 3

	// maxErrorLength bounds stored error text to cap storage growth.
	maxErrorLength = 500
)

// truncateError bounds error text before persisting it.
func truncateError(msg string) string {
	if len(msg) > maxErrorLength {
		return msg[:maxErrorLength]
	}
	return msg
}
