// Package domain contains the shared types used across the update subsystem.
package domain

import "time"

// EntityType identifies the kind of business object analytics are computed for.
type EntityType string

const (
	EntityAccount EntityType = "account"
	EntityGroup   EntityType = "group"
)

// EntityRef identifies one analytics entity (an account or a group of accounts).
type EntityRef struct {
	Type EntityType
	ID   string
}

// String returns the canonical "type:id" form used in logs and error attribution.
func (r EntityRef) String() string {
	return string(r.Type) + ":" + r.ID
}

// Entity is a business object with associated transactional records.
// EarliestDate is the first date on which this entity needs market data.
// HasInception is true when the entity was seeded with externally supplied
// starting positions rather than reconstructed purely from transactions.
type Entity struct {
	Ref          EntityRef
	Name         string
	EarliestDate time.Time
	HasInception bool
}

// Group is a rollup entity aggregating the analytics of its member accounts.
type Group struct {
	ID      string
	Name    string
	Members []string // member account IDs
}

// FetchableType identifies the category of a fetchable price series.
type FetchableType string

const (
	FetchInstrument FetchableType = "instrument"
	FetchBenchmark  FetchableType = "benchmark"
	FetchFactor     FetchableType = "factor"
)

// Fetchable is one price series the fetch phase is responsible for keeping
// current, keyed by (Type, Symbol).
type Fetchable struct {
	Type         FetchableType
	Symbol       string
	EarliestDate time.Time
}

// PriceRow is a single daily closing price returned by a provider.
type PriceRow struct {
	Date  time.Time
	Close float64
}
