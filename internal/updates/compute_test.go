package updates

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfolio/pulse/internal/domain"
	"github.com/openfolio/pulse/internal/runs"
	"github.com/openfolio/pulse/internal/tracking"
)

func TestComputePhase_FirstRunComputesAllStages(t *testing.T) {
	f := newFixture(t)
	f.addAccount("acc-1", "AAPL", 5, false)

	snap, err := f.orch.RunAnalyticsUpdateOnly(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Counters.StagesRecomputed)
	assert.Equal(t, 0, snap.Counters.StagesSkipped)

	for _, kind := range []string{"positions", "returns", "risk", "factor_exposure"} {
		dep := f.dependency(t, kind, "account", "acc-1")
		require.NotNil(t, dep, kind)
		assert.Equal(t, tracking.StatusCompleted, dep.Status, kind)
		assert.NotEmpty(t, dep.OutputHash, kind)
	}
}

func TestComputePhase_SecondRunSkipsUnchangedStages(t *testing.T) {
	f := newFixture(t)
	f.addAccount("acc-1", "AAPL", 5, false)

	_, err := f.orch.RunAnalyticsUpdateOnly(context.Background())
	require.NoError(t, err)
	first := f.dependency(t, "returns", "account", "acc-1")

	snap, err := f.orch.RunAnalyticsUpdateOnly(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Counters.StagesRecomputed)
	assert.Equal(t, 4, snap.Counters.StagesSkipped)
	assert.Equal(t, 1, f.engine.callCount("returns", "acc-1"))

	second := f.dependency(t, "returns", "account", "acc-1")
	assert.Equal(t, tracking.StatusSkipped, second.Status)
	assert.Equal(t, first.InputHash, second.InputHash)
	assert.Equal(t, first.OutputHash, second.OutputHash)
}

func TestComputePhase_NewTransactionRecomputesChain(t *testing.T) {
	f := newFixture(t)
	f.addAccount("acc-1", "AAPL", 5, false)

	_, err := f.orch.RunAnalyticsUpdateOnly(context.Background())
	require.NoError(t, err)

	// A new transaction changes the positions input hash; the whole chain
	// re-runs because each downstream hash chains the upstream output.
	f.ledger.txIDs["acc-1"] = append(f.ledger.txIDs["acc-1"], 99)

	snap, err := f.orch.RunAnalyticsUpdateOnly(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Counters.StagesRecomputed)
	assert.Equal(t, 2, f.engine.callCount("positions", "acc-1"))

	// The stub engine returns the same result, so the positions output hash
	// is unchanged and downstream stages are skipped.
	assert.Equal(t, 1, f.engine.callCount("returns", "acc-1"))
	returnsDep := f.dependency(t, "returns", "account", "acc-1")
	assert.Equal(t, tracking.StatusSkipped, returnsDep.Status)
}

func TestComputePhase_StageFailureBlocksDownstreamOnly(t *testing.T) {
	f := newFixture(t)
	f.addAccount("acc-1", "AAPL", 5, false)
	f.addAccount("acc-2", "MSFT", 5, false)
	f.addAccount("acc-3", "GOOG", 5, false)
	f.engine.failures["returns:acc-2"] = fmt.Errorf("price series too short")

	snap, err := f.orch.RunAnalyticsUpdateOnly(context.Background())
	require.NoError(t, err)
	assert.Equal(t, runs.RunCompleted, snap.Status)

	// Healthy entities complete all four stages.
	for _, id := range []string{"acc-1", "acc-3"} {
		dep := f.dependency(t, "risk", "account", id)
		require.NotNil(t, dep, id)
		assert.Equal(t, tracking.StatusCompleted, dep.Status, id)
	}

	// The failing entity keeps its positions result, records the returns
	// failure, and never reaches risk or factor exposure.
	positions := f.dependency(t, "positions", "account", "acc-2")
	assert.Equal(t, tracking.StatusCompleted, positions.Status)
	returnsDep := f.dependency(t, "returns", "account", "acc-2")
	require.NotNil(t, returnsDep)
	assert.Equal(t, tracking.StatusFailed, returnsDep.Status)
	assert.Contains(t, returnsDep.ErrorMessage, "price series too short")
	risk := f.dependency(t, "risk", "account", "acc-2")
	assert.Nil(t, risk)
	assert.Equal(t, 0, f.engine.callCount("risk", "acc-2"))

	require.Len(t, snap.Errors, 1)
	assert.Equal(t, "account:acc-2", snap.Errors[0].Entity)
	assert.Equal(t, "returns", snap.Errors[0].Stage)
}

func TestComputePhase_FailedStageRetriesNextRun(t *testing.T) {
	f := newFixture(t)
	f.addAccount("acc-1", "AAPL", 5, false)
	f.engine.failures["returns:acc-1"] = fmt.Errorf("transient")

	_, err := f.orch.RunAnalyticsUpdateOnly(context.Background())
	require.NoError(t, err)

	delete(f.engine.failures, "returns:acc-1")

	snap, err := f.orch.RunAnalyticsUpdateOnly(context.Background())
	require.NoError(t, err)

	// Failed status forces recomputation even with an unchanged input hash.
	returnsDep := f.dependency(t, "returns", "account", "acc-1")
	assert.Equal(t, tracking.StatusCompleted, returnsDep.Status)
	assert.Empty(t, snap.Errors)
	assert.Equal(t, 2, f.engine.callCount("returns", "acc-1"))
}

func TestComputePhase_InceptionEntityAlwaysRecomputesPositions(t *testing.T) {
	f := newFixture(t)
	f.addAccount("acc-1", "AAPL", 5, true)

	_, err := f.orch.RunAnalyticsUpdateOnly(context.Background())
	require.NoError(t, err)
	_, err = f.orch.RunAnalyticsUpdateOnly(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, f.engine.callCount("positions", "acc-1"))
	// Downstream still skips: same positions output, same hash.
	assert.Equal(t, 1, f.engine.callCount("returns", "acc-1"))
}

func TestComputePhase_GroupRollupRunsAfterMembers(t *testing.T) {
	f := newFixture(t)
	f.addAccount("acc-1", "AAPL", 5, false)
	f.addAccount("acc-2", "MSFT", 5, false)
	f.ledger.groups = []domain.Group{{ID: "grp-1", Name: "Family", Members: []string{"acc-1", "acc-2"}}}

	snap, err := f.orch.RunAnalyticsUpdateOnly(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, snap.Counters.StagesRecomputed)

	rollup := f.dependency(t, "group_rollup", "group", "grp-1")
	require.NotNil(t, rollup)
	assert.Equal(t, tracking.StatusCompleted, rollup.Status)

	// Unchanged members mean an unchanged rollup hash.
	snap2, err := f.orch.RunAnalyticsUpdateOnly(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, snap2.Counters.StagesRecomputed)
	assert.Equal(t, 9, snap2.Counters.StagesSkipped)
	assert.Equal(t, 1, f.engine.callCount("group_rollup", "grp-1"))
}

func TestComputePhase_GroupRollupDeferredWhenMemberFails(t *testing.T) {
	f := newFixture(t)
	f.addAccount("acc-1", "AAPL", 5, false)
	f.addAccount("acc-2", "MSFT", 5, false)
	f.ledger.groups = []domain.Group{{ID: "grp-1", Name: "Family", Members: []string{"acc-1", "acc-2"}}}
	f.engine.failures["returns:acc-2"] = fmt.Errorf("boom")

	snap, err := f.orch.RunAnalyticsUpdateOnly(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, f.engine.callCount("group_rollup", "grp-1"))
	rollup := f.dependency(t, "group_rollup", "group", "grp-1")
	assert.Nil(t, rollup)

	var deferred bool
	for _, w := range snap.Warnings {
		if w.Entity == "group:grp-1" {
			deferred = true
		}
	}
	assert.True(t, deferred, "expected a rollup deferral warning")
}
