package tracking

import (
	"time"

	"github.com/rs/zerolog"
)

// Tracker answers "does this computation need to run again?" by comparing a
// freshly computed input hash against the stored record.
type Tracker struct {
	repo *Repository
	log  zerolog.Logger
	now  func() time.Time
}

// NewTracker creates a dependency tracker.
func NewTracker(repo *Repository, log zerolog.Logger) *Tracker {
	return &Tracker{
		repo: repo,
		log:  log.With().Str("service", "tracking").Logger(),
		now:  time.Now,
	}
}

// Get returns the stored record for a triple, or nil if none exists.
func (t *Tracker) Get(kind, viewType, viewID string) (*Dependency, error) {
	return t.repo.Get(kind, viewType, viewID)
}

// NeedsRecomputation reports whether a stage must run: true if no record
// exists, the stored input hash differs from freshInputHash, or the stored
// status is pending or failed.
func (t *Tracker) NeedsRecomputation(kind, viewType, viewID, freshInputHash string) (bool, error) {
	dep, err := t.repo.Get(kind, viewType, viewID)
	if err != nil {
		return false, err
	}
	if dep == nil {
		return true, nil
	}
	if dep.InputHash != freshInputHash {
		return true, nil
	}
	if dep.Status == StatusPending || dep.Status == StatusFailed {
		return true, nil
	}
	return false, nil
}

// MarkStarted upserts the record with status running, storing the input hash
// immediately so a crash mid-computation is visible as "running with this
// hash" rather than silently stale.
func (t *Tracker) MarkStarted(kind, viewType, viewID, inputHash string) error {
	dep, err := t.repo.Get(kind, viewType, viewID)
	if err != nil {
		return err
	}
	if dep == nil {
		dep = &Dependency{Kind: kind, ViewType: viewType, ViewID: viewID}
	}

	dep.InputHash = inputHash
	dep.Status = StatusRunning

	return t.repo.Upsert(dep)
}

// MarkCompleted transitions a record to completed, recording timing and the
// output hash and clearing any prior error.
func (t *Tracker) MarkCompleted(kind, viewType, viewID string, duration time.Duration, outputHash string) error {
	dep, err := t.repo.Get(kind, viewType, viewID)
	if err != nil {
		return err
	}
	if dep == nil {
		dep = &Dependency{Kind: kind, ViewType: viewType, ViewID: viewID}
	}

	now := t.now()
	ms := duration.Milliseconds()
	dep.Status = StatusCompleted
	dep.OutputHash = outputHash
	dep.LastComputedAt = &now
	dep.DurationMs = &ms
	dep.ErrorMessage = ""

	return t.repo.Upsert(dep)
}

// MarkFailed transitions a record to failed with a bounded error message.
// The input hash is left untouched so the next attempt with the same hash is
// recognized as a retry of the same logical work.
func (t *Tracker) MarkFailed(kind, viewType, viewID string, cause error) error {
	dep, err := t.repo.Get(kind, viewType, viewID)
	if err != nil {
		return err
	}
	if dep == nil {
		dep = &Dependency{Kind: kind, ViewType: viewType, ViewID: viewID}
	}

	dep.Status = StatusFailed
	if cause != nil {
		dep.ErrorMessage = truncateError(cause.Error())
	}

	return t.repo.Upsert(dep)
}

// MarkSkipped transitions a record to skipped without changing its input or
// output hashes.
func (t *Tracker) MarkSkipped(kind, viewType, viewID string) error {
	dep, err := t.repo.Get(kind, viewType, viewID)
	if err != nil {
		return err
	}
	if dep == nil {
		dep = &Dependency{Kind: kind, ViewType: viewType, ViewID: viewID}
	}

	dep.Status = StatusSkipped

	return t.repo.Upsert(dep)
}
