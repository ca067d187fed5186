// Package reconciler builds the fleet snapshot: one tick reads the
// manifest, the observation store, and the watchdog state, derives the
// run directives per account, and atomically replaces the snapshot file.
// The snapshot is the orchestrator's only outward-facing surface;
// dashboards and alerting consume it without locking.
package reconciler

import (
	"github.com/quantfleet/fleet-orchestrator/pkg/contract"
)

// Row is one account's line in the fleet snapshot, rebuilt wholesale
// every tick. Intent fields are copied verbatim from the manifest and
// observation fields verbatim from the observation store; the two sides
// never contaminate each other. Only the derived directives reflect both.
type Row struct {
	Enabled        bool   `json:"enabled"`
	EnableAIStack  bool   `json:"enable_ai_stack"`
	AutomationMode string `json:"automation_mode"`
	IsCanary       bool   `json:"is_canary"`

	Alive           bool  `json:"alive"`
	PID             int   `json:"pid,omitempty"`
	LastHeartbeatMs int64 `json:"last_heartbeat_ms,omitempty"`

	ShouldRun          bool `json:"should_run"`
	EffectiveShouldRun bool `json:"effective_should_run"`
	Blocked            bool `json:"blocked,omitempty"`

	Faults            []contract.Fault    `json:"faults,omitempty"`
	IgnoredFaults     []contract.Fault    `json:"ignored_faults,omitempty"`
	IgnoredCategories []contract.Category `json:"ignored_categories,omitempty"`
}

// Snapshot is the full fleet snapshot document
type Snapshot struct {
	TsMs     int64          `json:"ts_ms"`
	Accounts map[string]Row `json:"accounts"`
}
