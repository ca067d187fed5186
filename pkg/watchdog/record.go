// Package watchdog supervises the fleet's worker processes: it detects
// dead workers, restarts them with exponential backoff, and blocks
// workers that fail too often. Blocked is terminal until an operator
// resets the record; the watchdog never unblocks on its own.
package watchdog

// State is a worker's position in the restart lifecycle
type State string

const (
	StateRunning    State = "running"
	StateRestarting State = "restarting"
	StateBlocked    State = "blocked"
)

// Record is the persisted watchdog state of one worker. Created on the
// first observed failure, mutated only by the watchdog and the explicit
// reset entry points, never deleted automatically.
type Record struct {
	State                State   `json:"state"`
	RestartCount         int     `json:"restart_count"`
	BackoffSec           float64 `json:"backoff_sec"`
	Blocked              bool    `json:"blocked"`
	BlockedReason        string  `json:"blocked_reason,omitempty"`
	LastStartMs          int64   `json:"last_start_ts_ms,omitempty"`
	NextRestartAllowedMs int64   `json:"next_restart_allowed_ts_ms,omitempty"`
	RestartHistoryMs     []int64 `json:"restart_history_ms,omitempty"`
}

// Reset returns the record to a clean slate. This is the only sanctioned
// way out of the blocked state; the watchdog itself never calls it.
func (r *Record) Reset() {
	r.State = StateRunning
	r.RestartCount = 0
	r.BackoffSec = 0
	r.Blocked = false
	r.BlockedReason = ""
	r.LastStartMs = 0
	r.NextRestartAllowedMs = 0
	r.RestartHistoryMs = nil
}

// StateDocument is the persisted watchdog state map, one record per
// worker label
type StateDocument struct {
	Labels map[string]*Record `json:"labels"`
}

// NewStateDocument creates an empty state document
func NewStateDocument() *StateDocument {
	return &StateDocument{Labels: make(map[string]*Record)}
}

// Ensure returns the record for a label, creating a fresh running record
// when none exists yet
func (d *StateDocument) Ensure(label string) *Record {
	if d.Labels == nil {
		d.Labels = make(map[string]*Record)
	}
	if record, ok := d.Labels[label]; ok {
		if record.State == "" {
			record.State = StateRunning
		}
		return record
	}
	record := &Record{State: StateRunning}
	d.Labels[label] = record
	return record
}

// Lookup returns the record for a label if one exists
func (d *StateDocument) Lookup(label string) (*Record, bool) {
	if d.Labels == nil {
		return nil, false
	}
	record, ok := d.Labels[label]
	return record, ok
}

// BlockedSet returns the labels currently blocked. The reconciler folds
// this into effective_should_run.
func (d *StateDocument) BlockedSet() map[string]bool {
	blocked := make(map[string]bool)
	for label, record := range d.Labels {
		if record.Blocked {
			blocked[label] = true
		}
	}
	return blocked
}
