package watchdog

import (
	"sync"
)

// ProcessEntry is the in-memory view of one worker process
type ProcessEntry struct {
	PID   int
	Alive bool
}

// ProcessTable tracks the PIDs of workers this watchdog has launched or
// adopted. In-memory only: after an orchestrator restart the table is
// empty and workers are re-adopted from heartbeat observations.
type ProcessTable struct {
	mutex   sync.Mutex
	entries map[string]ProcessEntry
}

// NewProcessTable creates an empty process table
func NewProcessTable() *ProcessTable {
	return &ProcessTable{entries: make(map[string]ProcessEntry)}
}

// SetRunning records a live process for a worker
func (t *ProcessTable) SetRunning(label string, pid int) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.entries[label] = ProcessEntry{PID: pid, Alive: true}
}

// Clear drops the process view for a worker, forcing alive=false
func (t *ProcessTable) Clear(label string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.entries[label] = ProcessEntry{}
}

// Get returns the current process view for a worker
func (t *ProcessTable) Get(label string) (ProcessEntry, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	entry, ok := t.entries[label]
	return entry, ok
}

// Snapshot returns a copy of all entries
func (t *ProcessTable) Snapshot() map[string]ProcessEntry {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	snapshot := make(map[string]ProcessEntry, len(t.entries))
	for label, entry := range t.entries {
		snapshot[label] = entry
	}
	return snapshot
}
