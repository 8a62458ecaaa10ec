// Package runs accumulates counters, timings and structured errors for one
// orchestration run and persists the finalized audit record.
package runs

import "time"

// JobType identifies which phases an orchestration run executes.
type JobType string

const (
	JobFull        JobType = "full"
	JobFetchOnly   JobType = "fetch_only"
	JobComputeOnly JobType = "compute_only"
)

// RunStatus is the lifecycle state of one run record.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ErrorDetail is one structured error or warning attributed to an entity and
// stage (or provider) within a run.
type ErrorDetail struct {
	Entity  string    `json:"entity"`
	Stage   string    `json:"stage,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Counters is the set of accumulated run counters.
type Counters struct {
	SymbolsProcessed int `json:"symbols_processed"`
	SymbolsUpdated   int `json:"symbols_updated"`
	SymbolsFailed    int `json:"symbols_failed"`
	SymbolsSkipped   int `json:"symbols_skipped"`
	RowsInserted     int `json:"rows_inserted"`
	APICallsMade     int `json:"api_calls_made"`
	CacheHits        int `json:"cache_hits"`
	StagesRecomputed int `json:"stages_recomputed"`
	StagesSkipped    int `json:"stages_skipped"`
}

// Snapshot is a serializable view of a run's state, usable mid-run for
// status reporting and at the end for the persisted record.
type Snapshot struct {
	ID                string        `json:"id"`
	JobType           JobType       `json:"job_type"`
	Status            RunStatus     `json:"status"`
	StartedAt         time.Time     `json:"started_at"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`
	Counters          Counters      `json:"counters"`
	FetchDurationMs   int64         `json:"fetch_duration_ms"`
	ComputeDurationMs int64         `json:"compute_duration_ms"`
	Errors            []ErrorDetail `json:"errors"`
	Warnings          []ErrorDetail `json:"warnings"`
	ErrorsDropped     int           `json:"errors_dropped,omitempty"`
}

// Record is one persisted orchestration run row.
type Record struct {
	ID                string
	JobType           JobType
	Status            RunStatus
	StartedAt         time.Time
	CompletedAt       *time.Time
	Counters          Counters
	FetchDurationMs   int64
	ComputeDurationMs int64
	Errors            []ErrorDetail
	Warnings          []ErrorDetail
	Summary           string
}
