package runs

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_FinalizeTakesEffectExactlyOnce(t *testing.T) {
	c := NewCollector(JobFull)

	assert.True(t, c.Finalize(RunFailed))
	assert.False(t, c.Finalize(RunCompleted))

	snap := c.Snapshot()
	assert.Equal(t, RunFailed, snap.Status)
	require.NotNil(t, snap.CompletedAt)
}

func TestCollector_ErrorListIsCapped(t *testing.T) {
	c := NewCollector(JobComputeOnly)

	for i := 0; i < maxRetainedDetails+50; i++ {
		c.AddError("account:acc-1", "positions", "failure %d", i)
	}

	snap := c.Snapshot()
	assert.Len(t, snap.Errors, maxRetainedDetails)
	assert.Equal(t, 50, snap.ErrorsDropped)
	assert.Equal(t, maxRetainedDetails+50, c.ErrorCount())
}

func TestCollector_ConcurrentAddsAreSafe(t *testing.T) {
	c := NewCollector(JobFetchOnly)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Add(Counters{SymbolsProcessed: 1, APICallsMade: 2})
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, 1000, snap.Counters.SymbolsProcessed)
	assert.Equal(t, 2000, snap.Counters.APICallsMade)
}

func TestCollector_SnapshotUsableMidRun(t *testing.T) {
	c := NewCollector(JobFull)
	c.Add(Counters{SymbolsUpdated: 3, RowsInserted: 30})
	c.AddWarning("instrument:AAPL", "", "zero rows returned")
	c.SetFetchDuration(1500 * time.Millisecond)

	snap := c.Snapshot()
	assert.Equal(t, RunRunning, snap.Status)
	assert.Nil(t, snap.CompletedAt)
	assert.Equal(t, 3, snap.Counters.SymbolsUpdated)
	assert.Equal(t, int64(1500), snap.FetchDurationMs)
	assert.Len(t, snap.Warnings, 1)
}

func TestCollector_ErrorAttribution(t *testing.T) {
	c := NewCollector(JobFull)
	c.AddError("account:acc-2", "returns", "prices missing for %s", "AAPL")

	snap := c.Snapshot()
	require.Len(t, snap.Errors, 1)
	assert.Equal(t, "account:acc-2", snap.Errors[0].Entity)
	assert.Equal(t, "returns", snap.Errors[0].Stage)
	assert.Equal(t, "prices missing for AAPL", snap.Errors[0].Message)
}
