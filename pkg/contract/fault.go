// Package contract evaluates the runtime health contract: which signals
// an account's declared automation mode demands, and which faults the
// observed signals raise against that demand. Faults are recomputed from
// scratch on every evaluation and carry no state.
package contract

import "fmt"

// Category identifies a runtime contract signal category
type Category string

const (
	CategoryWSHeartbeat Category = "ws_heartbeat"
	CategoryMemory      Category = "memory_snapshot"
	CategoryDecisions   Category = "decisions_log"
	CategoryPositions   Category = "positions_bus"
	CategoryTrades      Category = "trades_bus"
)

// categoryOrder fixes the evaluation order so fault lists are
// deterministic for identical inputs
var categoryOrder = []Category{
	CategoryWSHeartbeat,
	CategoryMemory,
	CategoryDecisions,
	CategoryPositions,
	CategoryTrades,
}

// Severity partitions faults into run-blocking candidates and advisories.
// Neither severity flips should_run; the split tells operators what to
// look at first.
type Severity string

const (
	SeverityFail Severity = "FAIL"
	SeverityWarn Severity = "WARN"
)

// Code is the closed enumeration of fault codes
type Code string

const (
	CodeWSHeartbeatMissing    Code = "WS_HEARTBEAT_MISSING"
	CodeWSHeartbeatStale      Code = "WS_HEARTBEAT_STALE"
	CodeMemorySnapshotMissing Code = "MEMORY_SNAPSHOT_MISSING"
	CodeMemorySnapshotStale   Code = "MEMORY_SNAPSHOT_STALE"
	CodeDecisionsMissing      Code = "DECISIONS_MISSING"
	CodeDecisionsStale        Code = "DECISIONS_STALE"
	CodePositionsBusMissing   Code = "POSITIONS_BUS_MISSING"
	CodePositionsBusStale     Code = "POSITIONS_BUS_STALE"
	CodeTradesBusMissing      Code = "TRADES_BUS_MISSING"
	CodeTradesBusStale        Code = "TRADES_BUS_STALE"
	CodeManifestInvalid       Code = "MANIFEST_INVALID"
	CodeObservationInvalid    Code = "OBSERVATION_INVALID"
)

// CategoryOf returns the signal category a fault code belongs to. Input
// faults (manifest/observation) have no category and can never be
// suppressed by ignore flags.
func (c Code) CategoryOf() Category {
	switch c {
	case CodeWSHeartbeatMissing, CodeWSHeartbeatStale:
		return CategoryWSHeartbeat
	case CodeMemorySnapshotMissing, CodeMemorySnapshotStale:
		return CategoryMemory
	case CodeDecisionsMissing, CodeDecisionsStale:
		return CategoryDecisions
	case CodePositionsBusMissing, CodePositionsBusStale:
		return CategoryPositions
	case CodeTradesBusMissing, CodeTradesBusStale:
		return CategoryTrades
	default:
		return ""
	}
}

// Fault is one violation of the runtime contract
type Fault struct {
	Code     Code     `json:"code"`
	Category Category `json:"category,omitempty"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail,omitempty"`
}

// NewFault builds a fault, deriving the category from the code
func NewFault(code Code, severity Severity, detail string) Fault {
	return Fault{
		Code:     code,
		Category: code.CategoryOf(),
		Severity: severity,
		Detail:   detail,
	}
}

// ManifestInvalidFault flags an account whose manifest entry could not be
// trusted
func ManifestInvalidFault(detail string) Fault {
	return NewFault(CodeManifestInvalid, SeverityFail, detail)
}

// ObservationInvalidFault flags an account whose observed state could not
// be read
func ObservationInvalidFault(detail string) Fault {
	return NewFault(CodeObservationInvalid, SeverityFail, detail)
}

// missingCode maps a category to its "signal never seen" fault code
func missingCode(category Category) Code {
	switch category {
	case CategoryWSHeartbeat:
		return CodeWSHeartbeatMissing
	case CategoryMemory:
		return CodeMemorySnapshotMissing
	case CategoryDecisions:
		return CodeDecisionsMissing
	case CategoryPositions:
		return CodePositionsBusMissing
	case CategoryTrades:
		return CodeTradesBusMissing
	}
	panic(fmt.Sprintf("unknown signal category: %s", category))
}

// staleCode maps a category to its "signal too old" fault code
func staleCode(category Category) Code {
	switch category {
	case CategoryWSHeartbeat:
		return CodeWSHeartbeatStale
	case CategoryMemory:
		return CodeMemorySnapshotStale
	case CategoryDecisions:
		return CodeDecisionsStale
	case CategoryPositions:
		return CodePositionsBusStale
	case CategoryTrades:
		return CodeTradesBusStale
	}
	panic(fmt.Sprintf("unknown signal category: %s", category))
}
