package runs

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxRetainedDetails caps the error and warning lists to bound memory on
// pathological runs. Overflow is counted, not stored.
const maxRetainedDetails = 100

// Collector accumulates the counters and error lists for one run. All
// methods are safe for concurrent use by fetch workers. Finalize is
// guaranteed to take effect exactly once.
type Collector struct {
	mu sync.Mutex

	id        string
	jobType   JobType
	status    RunStatus
	startedAt time.Time

	counters        Counters
	fetchDuration   time.Duration
	computeDuration time.Duration

	errors        []ErrorDetail
	warnings      []ErrorDetail
	errorsDropped int

	completedAt *time.Time
	finalized   bool
}

// NewCollector starts metrics collection for a new run.
func NewCollector(jobType JobType) *Collector {
	return &Collector{
		id:        uuid.New().String(),
		jobType:   jobType,
		status:    RunRunning,
		startedAt: time.Now().UTC(),
	}
}

// ID returns the run identifier.
func (c *Collector) ID() string {
	return c.id
}

// JobType returns the run's job type.
func (c *Collector) JobType() JobType {
	return c.jobType
}

// StartedAt returns the run start time.
func (c *Collector) StartedAt() time.Time {
	return c.startedAt
}

// Add increments counters by the given deltas.
func (c *Collector) Add(delta Counters) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counters.SymbolsProcessed += delta.SymbolsProcessed
	c.counters.SymbolsUpdated += delta.SymbolsUpdated
	c.counters.SymbolsFailed += delta.SymbolsFailed
	c.counters.SymbolsSkipped += delta.SymbolsSkipped
	c.counters.RowsInserted += delta.RowsInserted
	c.counters.APICallsMade += delta.APICallsMade
	c.counters.CacheHits += delta.CacheHits
	c.counters.StagesRecomputed += delta.StagesRecomputed
	c.counters.StagesSkipped += delta.StagesSkipped
}

// AddError appends a structured error attributed to entity:stage.
func (c *Collector) AddError(entity, stage, format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.errors) >= maxRetainedDetails {
		c.errorsDropped++
		return
	}
	c.errors = append(c.errors, ErrorDetail{
		Entity:  entity,
		Stage:   stage,
		Message: fmt.Sprintf(format, args...),
		At:      time.Now().UTC(),
	})
}

// AddWarning appends a structured warning.
func (c *Collector) AddWarning(entity, stage, format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.warnings) >= maxRetainedDetails {
		return
	}
	c.warnings = append(c.warnings, ErrorDetail{
		Entity:  entity,
		Stage:   stage,
		Message: fmt.Sprintf(format, args...),
		At:      time.Now().UTC(),
	})
}

// SetFetchDuration records the fetch phase duration.
func (c *Collector) SetFetchDuration(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchDuration = d
}

// SetComputeDuration records the compute phase duration.
func (c *Collector) SetComputeDuration(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.computeDuration = d
}

// ErrorCount returns the number of retained errors plus overflow.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errors) + c.errorsDropped
}

// Finalize freezes the run with the given terminal status. Only the first
// call has any effect; later calls are ignored so a deferred failure path
// cannot overwrite an already finalized record.
func (c *Collector) Finalize(status RunStatus) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finalized {
		return false
	}
	c.finalized = true
	c.status = status
	now := time.Now().UTC()
	c.completedAt = &now
	return true
}

// Snapshot returns a serializable copy of the current state. It is safe to
// call mid-run.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		ID:                c.id,
		JobType:           c.jobType,
		Status:            c.status,
		StartedAt:         c.startedAt,
		Counters:          c.counters,
		FetchDurationMs:   c.fetchDuration.Milliseconds(),
		ComputeDurationMs: c.computeDuration.Milliseconds(),
		Errors:            append([]ErrorDetail(nil), c.errors...),
		Warnings:          append([]ErrorDetail(nil), c.warnings...),
		ErrorsDropped:     c.errorsDropped,
	}
	if c.completedAt != nil {
		completed := *c.completedAt
		snap.CompletedAt = &completed
	}
	return snap
}
