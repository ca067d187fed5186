package observe

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/quantfleet/fleet-orchestrator/pkg/errors"
	"github.com/quantfleet/fleet-orchestrator/pkg/launcher"
	"github.com/quantfleet/fleet-orchestrator/pkg/logging"
)

// Runtime directory layout. Workers drop these files themselves; the
// collector only ever reads.
const (
	HeartbeatsDir = "heartbeats"
	MemoryDir     = "memory"
	DecisionsDir  = "decisions"
	PositionsDir  = "positions"
	TradesDir     = "trades"
)

// heartbeatDocument is the per-account heartbeat file written by the worker
type heartbeatDocument struct {
	PID  int   `json:"pid"`
	TsMs int64 `json:"ts_ms"`
}

// Collector reads observations from the runtime directory and probes OS
// process liveness. Probes are signal 0 and never block.
type Collector struct {
	root   string
	logger logging.Logger
	probe  func(pid int) (bool, error)
}

// NewCollector creates a collector over the given runtime directory
func NewCollector(root string, logger logging.Logger) *Collector {
	return &Collector{
		root:   root,
		logger: logger,
		probe:  launcher.IsAlive,
	}
}

// Observe assembles the observation for one account. A missing heartbeat
// or signal file is valid absence; a present but unreadable file is an
// error, which callers convert into a conservative verdict.
func (c *Collector) Observe(label string) (Observation, error) {
	var obs Observation

	heartbeat, found, err := c.readHeartbeat(label)
	if err != nil {
		return Observation{}, err
	}
	if found {
		obs.State.PID = heartbeat.PID
		obs.State.LastHeartbeatMs = heartbeat.TsMs
		obs.Signals.HeartbeatMs = heartbeat.TsMs

		if heartbeat.PID > 0 {
			alive, probeErr := c.probe(heartbeat.PID)
			if probeErr != nil {
				// A failed probe reads as dead; it must not take the
				// whole observation down.
				c.logger.Warnf("Liveness probe failed, account: %s, pid: %d, error: %v", label, heartbeat.PID, probeErr)
				alive = false
			}
			obs.State.Alive = alive
		}
	}

	obs.Signals.MemoryMs, err = c.signalMtime(MemoryDir, label+".json")
	if err != nil {
		return Observation{}, err
	}
	obs.Signals.DecisionsMs, err = c.signalMtime(DecisionsDir, label+".jsonl")
	if err != nil {
		return Observation{}, err
	}
	obs.Signals.PositionsMs, err = c.signalMtime(PositionsDir, label+".json")
	if err != nil {
		return Observation{}, err
	}
	obs.Signals.TradesMs, err = c.signalMtime(TradesDir, label+".json")
	if err != nil {
		return Observation{}, err
	}

	return obs, nil
}

func (c *Collector) readHeartbeat(label string) (heartbeatDocument, bool, error) {
	path := filepath.Join(c.root, HeartbeatsDir, label+".json")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return heartbeatDocument{}, false, nil
		}
		return heartbeatDocument{}, false, errors.NewIOError("failed to read heartbeat file", err).
			WithContext("account_label", label).
			WithContext("path", path)
	}

	var doc heartbeatDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return heartbeatDocument{}, false, errors.NewValidationError("failed to parse heartbeat file", err).
			WithContext("account_label", label).
			WithContext("path", path)
	}

	return doc, true, nil
}

// signalMtime returns the modification time of a signal file in
// milliseconds, or zero when the file does not exist
func (c *Collector) signalMtime(dir, name string) (int64, error) {
	path := filepath.Join(c.root, dir, name)

	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.NewIOError("failed to stat signal file", err).WithContext("path", path)
	}

	return stat.ModTime().UnixMilli(), nil
}
