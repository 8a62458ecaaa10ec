// Package tracking records, for every (computation kind, view) pair, the
// content hash of the inputs last used to produce its output. It is the
// authority on whether an expensive recomputation is actually necessary.
package tracking

import "time"

// ComputationStatus is the lifecycle state of one tracked computation.
type ComputationStatus string

const (
	StatusPending   ComputationStatus = "pending"
	StatusRunning   ComputationStatus = "running"
	StatusCompleted ComputationStatus = "completed"
	StatusFailed    ComputationStatus = "failed"
	StatusSkipped   ComputationStatus = "skipped"
)

// Dependency is the stored state for one (kind, viewType, viewID) triple.
type Dependency struct {
	Kind           string
	ViewType       string
	ViewID         string
	InputHash      string
	OutputHash     string
	Status         ComputationStatus
	LastComputedAt *time.Time
	DurationMs     *int64
	ErrorMessage   string
}

// maxErrorLength bounds stored error text to cap storage growth.
const maxErrorLength = 500

func truncateError(msg string) string {
	if len(msg) > maxErrorLength {
		return msg[:maxErrorLength]
	}
	return msg
}
