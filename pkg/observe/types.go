// Package observe supplies the orchestrator's read-only view of runtime
// reality: process liveness, heartbeats, and per-category signal
// freshness. Everything here is input; the orchestrator never writes into
// the observation store.
package observe

// ProcessState is the observed runtime state of one account's worker
type ProcessState struct {
	PID             int   `json:"pid,omitempty"`
	Alive           bool  `json:"alive"`
	LastHeartbeatMs int64 `json:"last_heartbeat_ms,omitempty"`
}

// SignalSet carries the last-seen timestamp of each runtime contract
// signal category, in milliseconds since the epoch. Zero means the signal
// has never been seen.
type SignalSet struct {
	HeartbeatMs int64 `json:"heartbeat_ms,omitempty"`
	MemoryMs    int64 `json:"memory_ms,omitempty"`
	DecisionsMs int64 `json:"decisions_ms,omitempty"`
	PositionsMs int64 `json:"positions_ms,omitempty"`
	TradesMs    int64 `json:"trades_ms,omitempty"`
}

// Observation bundles the process state and signal freshness of one account
type Observation struct {
	State   ProcessState
	Signals SignalSet
}

// Source supplies per-account observations. An error means the
// observation could not be trusted at all; absence of data (no heartbeat
// yet, no signal files) is a valid observation, not an error.
type Source interface {
	Observe(label string) (Observation, error)
}
