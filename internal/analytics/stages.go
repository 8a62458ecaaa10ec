// Package analytics implements the per-entity computation stages driven by
// the update orchestrator: positions, returns, risk, factor exposure and
// group rollups.
package analytics

// StageKind identifies one analytics computation kind. The set is closed;
// dispatch goes through an explicit table so a missing entry is caught in
// tests rather than at runtime.
type StageKind string

const (
	StagePositions      StageKind = "positions"
	StageReturns        StageKind = "returns"
	StageRisk           StageKind = "risk"
	StageFactorExposure StageKind = "factor_exposure"
	StageGroupRollup    StageKind = "group_rollup"
)

// AccountStages is the fixed execution order for account entities:
// positions feed returns, which feed both risk and factor exposure.
var AccountStages = []StageKind{
	StagePositions,
	StageReturns,
	StageRisk,
	StageFactorExposure,
}

// Upstream maps each account stage to the stage whose output it consumes.
// Positions have no upstream stage.
var Upstream = map[StageKind]StageKind{
	StageReturns:        StagePositions,
	StageRisk:           StageReturns,
	StageFactorExposure: StageReturns,
}

func (k StageKind) String() string {
	return string(k)
}
