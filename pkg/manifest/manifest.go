package manifest

import (
	"os"
	"strings"

	"github.com/quantfleet/fleet-orchestrator/pkg/errors"

	"gopkg.in/yaml.v3"
)

// AutomationMode represents the declared trading automation level of an account
type AutomationMode string

const (
	ModeOff        AutomationMode = "OFF"
	ModeLearnDry   AutomationMode = "LEARN_DRY"
	ModeLiveCanary AutomationMode = "LIVE_CANARY"
	ModeLiveFull   AutomationMode = "LIVE_FULL"
	ModeUnknown    AutomationMode = "UNKNOWN"
)

// NormalizeMode maps a raw manifest mode string to its canonical form.
// Legacy spellings "disabled" and "none" mean OFF; anything unrecognized
// maps to UNKNOWN so a typo in the manifest reads as "do not run" rather
// than silently enabling an account.
func NormalizeMode(raw string) AutomationMode {
	switch AutomationMode(strings.ToUpper(strings.TrimSpace(raw))) {
	case "", ModeOff, "DISABLED", "NONE":
		return ModeOff
	case ModeLearnDry:
		return ModeLearnDry
	case ModeLiveCanary:
		return ModeLiveCanary
	case ModeLiveFull:
		return ModeLiveFull
	default:
		return ModeUnknown
	}
}

// Automated reports whether the mode calls for a running worker
func (m AutomationMode) Automated() bool {
	return m == ModeLearnDry || m == ModeLiveCanary || m == ModeLiveFull
}

// IgnoreFlags are the per-account operator escape hatches for
// known-degraded but acceptable runtime states. Armed flags suppress
// faults of the matching signal category; every suppression is recorded
// in the fleet snapshot.
type IgnoreFlags struct {
	WSHeartbeat bool `yaml:"ignore_ws_heartbeat,omitempty" json:"ignore_ws_heartbeat,omitempty"`
	Memory      bool `yaml:"ignore_memory,omitempty" json:"ignore_memory,omitempty"`
	Decisions   bool `yaml:"ignore_decisions,omitempty" json:"ignore_decisions,omitempty"`
	Positions   bool `yaml:"ignore_positions,omitempty" json:"ignore_positions,omitempty"`
	Trades      bool `yaml:"ignore_trades,omitempty" json:"ignore_trades,omitempty"`
}

// Or combines two flag sets, armed flags winning
func (f IgnoreFlags) Or(other IgnoreFlags) IgnoreFlags {
	return IgnoreFlags{
		WSHeartbeat: f.WSHeartbeat || other.WSHeartbeat,
		Memory:      f.Memory || other.Memory,
		Decisions:   f.Decisions || other.Decisions,
		Positions:   f.Positions || other.Positions,
		Trades:      f.Trades || other.Trades,
	}
}

// Any reports whether at least one flag is armed
func (f IgnoreFlags) Any() bool {
	return f.WSHeartbeat || f.Memory || f.Decisions || f.Positions || f.Trades
}

// Entry is the declared intent for a single account. The manifest is
// authoritative for intent; nothing observed at runtime is ever written
// back into it.
type Entry struct {
	AccountLabel   string      `yaml:"account_label"`
	Enabled        bool        `yaml:"enabled"`
	EnableAIStack  bool        `yaml:"enable_ai_stack"`
	AutomationMode string      `yaml:"automation_mode"`
	IsCanary       bool        `yaml:"is_canary,omitempty"`
	Ignore         IgnoreFlags `yaml:"ignore,omitempty"`
}

// Mode returns the canonical automation mode of the entry
func (e Entry) Mode() AutomationMode {
	return NormalizeMode(e.AutomationMode)
}

// ShouldRun derives the declared run intent: the account is enabled, its
// AI stack is enabled, and its mode calls for automation. Observed
// runtime health never feeds into this.
func (e Entry) ShouldRun() bool {
	return e.Enabled && e.EnableAIStack && e.Mode().Automated()
}

// Manifest is the full fleet intent document
type Manifest struct {
	Accounts []Entry `yaml:"accounts"`
}

// Lookup returns the entry for the given account label
func (m *Manifest) Lookup(label string) (Entry, bool) {
	for _, entry := range m.Accounts {
		if entry.AccountLabel == label {
			return entry, true
		}
	}
	return Entry{}, false
}

// LoadFromFile loads a fleet manifest from a YAML file. The result is not
// validated; callers decide whether to reject the whole document or to
// degrade per entry (the reconciler does the latter).
func LoadFromFile(filename string) (*Manifest, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read manifest file", err).WithContext("filename", filename)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.NewValidationError("failed to parse manifest YAML", err).WithContext("filename", filename)
	}

	return &m, nil
}
