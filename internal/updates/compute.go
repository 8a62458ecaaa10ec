package updates

import (
	"context"
	"fmt"
	"time"

	"github.com/openfolio/pulse/internal/analytics"
	"github.com/openfolio/pulse/internal/domain"
	"github.com/openfolio/pulse/internal/runs"
	"github.com/openfolio/pulse/internal/tracking"
)

// runComputePhase re-runs analytics stages in fixed order per entity,
// skipping stages whose input hashes are unchanged. Entities are processed
// sequentially; group rollups run last and only for groups whose members all
// reached a terminal returns state this invocation.
func (o *Orchestrator) runComputePhase(ctx context.Context, collector *runs.Collector) error {
	entities, err := o.ledger.ActiveEntities()
	if err != nil {
		return fmt.Errorf("failed to list active entities: %w", err)
	}

	asOf := o.today()
	latestPrice := ""
	if d, ok, err := o.prices.GlobalLatestDate(); err != nil {
		return fmt.Errorf("failed to resolve latest price date: %w", err)
	} else if ok {
		latestPrice = d.Format(dateLayout)
		asOf = d
	}

	o.log.Info().
		Int("entities", len(entities)).
		Str("latest_price", latestPrice).
		Msg("Compute phase starting")

	// Returns output hash per account, for group rollup hashing. Only
	// accounts whose returns stage reached a terminal state this run appear.
	returnsOutput := make(map[string]string)

	for _, entity := range entities {
		o.computeEntity(ctx, entity, asOf, latestPrice, collector, returnsOutput)
	}

	groups, err := o.ledger.Groups()
	if err != nil {
		return fmt.Errorf("failed to list groups: %w", err)
	}
	for _, group := range groups {
		o.computeGroupRollup(ctx, group, asOf, collector, returnsOutput)
	}

	return nil
}

// computeEntity walks the fixed stage order for one account. A stage only
// starts once its upstream stage reached completed or skipped this run; a
// stage failure blocks this entity's downstream stages but nothing else.
func (o *Orchestrator) computeEntity(
	ctx context.Context,
	entity domain.Entity,
	asOf time.Time,
	latestPrice string,
	collector *runs.Collector,
	returnsOutput map[string]string,
) {
	terminal := make(map[analytics.StageKind]bool)
	outputs := make(map[analytics.StageKind]string)

	for _, kind := range analytics.AccountStages {
		if upstream, ok := analytics.Upstream[kind]; ok && !terminal[upstream] {
			continue
		}

		inputHash, err := o.stageInputHash(kind, entity, latestPrice, asOf, outputs)
		if err != nil {
			collector.AddError(entity.Ref.String(), kind.String(), "failed to build input hash: %v", err)
			continue
		}

		needs, err := o.deps.NeedsRecomputation(kind.String(), string(entity.Ref.Type), entity.Ref.ID, inputHash)
		if err != nil {
			collector.AddError(entity.Ref.String(), kind.String(), "failed to check dependency: %v", err)
			continue
		}

		// Inception-seeded entities always recompute positions: the
		// starting-position seed can change in ways the hash does not
		// capture, so correctness wins over the skip optimization here.
		if kind == analytics.StagePositions && entity.HasInception {
			needs = true
		}

		if !needs {
			if err := o.deps.MarkSkipped(kind.String(), string(entity.Ref.Type), entity.Ref.ID); err != nil {
				collector.AddError(entity.Ref.String(), kind.String(), "failed to mark skipped: %v", err)
				continue
			}
			// Chain the stored output hash so downstream hashes stay stable.
			if dep, err := o.deps.Get(kind.String(), string(entity.Ref.Type), entity.Ref.ID); err == nil && dep != nil {
				outputs[kind] = dep.OutputHash
			}
			terminal[kind] = true
			collector.Add(runs.Counters{StagesSkipped: 1})
			continue
		}

		if err := o.runStage(ctx, kind, entity, asOf, inputHash, outputs, collector); err != nil {
			// Recorded inside runStage; downstream stages stay blocked.
			continue
		}
		terminal[kind] = true
	}

	if terminal[analytics.StageReturns] {
		returnsOutput[entity.Ref.ID] = outputs[analytics.StageReturns]
	}
}

// runStage executes one stage computation with full lifecycle bookkeeping.
func (o *Orchestrator) runStage(
	ctx context.Context,
	kind analytics.StageKind,
	entity domain.Entity,
	asOf time.Time,
	inputHash string,
	outputs map[analytics.StageKind]string,
	collector *runs.Collector,
) error {
	viewType := string(entity.Ref.Type)

	if err := o.deps.MarkStarted(kind.String(), viewType, entity.Ref.ID, inputHash); err != nil {
		collector.AddError(entity.Ref.String(), kind.String(), "failed to mark started: %v", err)
		return err
	}

	started := o.now()
	result, err := o.invokeStage(ctx, kind, entity, asOf)
	if err != nil {
		if markErr := o.deps.MarkFailed(kind.String(), viewType, entity.Ref.ID, err); markErr != nil {
			o.log.Error().Err(markErr).Str("entity", entity.Ref.String()).Msg("Failed to mark stage failed")
		}
		collector.AddError(entity.Ref.String(), kind.String(), "%v", err)
		o.log.Warn().
			Err(err).
			Str("entity", entity.Ref.String()).
			Str("stage", kind.String()).
			Msg("Stage computation failed")
		return err
	}

	outputHash := tracking.HashString(result)
	if err := o.deps.MarkCompleted(kind.String(), viewType, entity.Ref.ID, o.now().Sub(started), outputHash); err != nil {
		collector.AddError(entity.Ref.String(), kind.String(), "failed to mark completed: %v", err)
		return err
	}

	outputs[kind] = outputHash
	collector.Add(runs.Counters{StagesRecomputed: 1})
	return nil
}

// invokeStage dispatches to the engine's computation function for a stage.
func (o *Orchestrator) invokeStage(ctx context.Context, kind analytics.StageKind, entity domain.Entity, asOf time.Time) (string, error) {
	switch kind {
	case analytics.StagePositions:
		return o.engine.ComputePositions(ctx, entity.Ref.ID)
	case analytics.StageReturns:
		return o.engine.ComputeReturns(ctx, entity.Ref.ID, asOf)
	case analytics.StageRisk:
		return o.engine.ComputeRisk(ctx, string(entity.Ref.Type), entity.Ref.ID, asOf)
	case analytics.StageFactorExposure:
		return o.engine.ComputeFactorExposure(ctx, string(entity.Ref.Type), entity.Ref.ID, asOf, FactorSymbols)
	default:
		return "", fmt.Errorf("no computation function for stage %s", kind)
	}
}

// stageInputHash builds the deterministic input hash for a stage from its
// declared upstream signals.
func (o *Orchestrator) stageInputHash(
	kind analytics.StageKind,
	entity domain.Entity,
	latestPrice string,
	asOf time.Time,
	outputs map[analytics.StageKind]string,
) (string, error) {
	switch kind {
	case analytics.StagePositions:
		txIDs, err := o.ledger.TransactionIDs(entity.Ref.ID)
		if err != nil {
			return "", err
		}
		return tracking.HashFields(map[string]string{
			"entity":    entity.Ref.String(),
			"txs":       tracking.JoinSortedInt64(txIDs),
			"inception": fmt.Sprintf("%t", entity.HasInception),
		}), nil

	case analytics.StageReturns:
		return tracking.HashFields(map[string]string{
			"entity":           entity.Ref.String(),
			"positions_output": outputs[analytics.StagePositions],
			"latest_price":     latestPrice,
		}), nil

	case analytics.StageRisk, analytics.StageFactorExposure:
		return tracking.HashFields(map[string]string{
			"entity":         entity.Ref.String(),
			"returns_output": outputs[analytics.StageReturns],
			"as_of":          asOf.Format(dateLayout),
		}), nil

	default:
		return "", fmt.Errorf("no input hash rule for stage %s", kind)
	}
}

// computeGroupRollup runs the rollup stage for one group once every member's
// returns stage reached a terminal state this invocation.
func (o *Orchestrator) computeGroupRollup(
	ctx context.Context,
	group domain.Group,
	asOf time.Time,
	collector *runs.Collector,
	returnsOutput map[string]string,
) {
	ref := domain.EntityRef{Type: domain.EntityGroup, ID: group.ID}

	memberHashes := make([]string, 0, len(group.Members))
	for _, member := range group.Members {
		hash, ok := returnsOutput[member]
		if !ok {
			collector.AddWarning(ref.String(), analytics.StageGroupRollup.String(),
				"member %s has no terminal returns state this run, rollup deferred", member)
			return
		}
		memberHashes = append(memberHashes, member+"="+hash)
	}

	inputHash := tracking.HashFields(map[string]string{
		"group":   group.ID,
		"members": tracking.JoinSorted(memberHashes),
		"as_of":   asOf.Format(dateLayout),
	})

	kind := analytics.StageGroupRollup.String()
	needs, err := o.deps.NeedsRecomputation(kind, string(domain.EntityGroup), group.ID, inputHash)
	if err != nil {
		collector.AddError(ref.String(), kind, "failed to check dependency: %v", err)
		return
	}

	if !needs {
		if err := o.deps.MarkSkipped(kind, string(domain.EntityGroup), group.ID); err != nil {
			collector.AddError(ref.String(), kind, "failed to mark skipped: %v", err)
			return
		}
		collector.Add(runs.Counters{StagesSkipped: 1})
		return
	}

	if err := o.deps.MarkStarted(kind, string(domain.EntityGroup), group.ID, inputHash); err != nil {
		collector.AddError(ref.String(), kind, "failed to mark started: %v", err)
		return
	}

	started := o.now()
	result, err := o.engine.ComputeGroupRollup(ctx, group.ID, group.Members, asOf)
	if err != nil {
		if markErr := o.deps.MarkFailed(kind, string(domain.EntityGroup), group.ID, err); markErr != nil {
			o.log.Error().Err(markErr).Str("group", group.ID).Msg("Failed to mark rollup failed")
		}
		collector.AddError(ref.String(), kind, "%v", err)
		return
	}

	if err := o.deps.MarkCompleted(kind, string(domain.EntityGroup), group.ID, o.now().Sub(started), tracking.HashString(result)); err != nil {
		collector.AddError(ref.String(), kind, "failed to mark completed: %v", err)
		return
	}

	collector.Add(runs.Counters{StagesRecomputed: 1})
}
