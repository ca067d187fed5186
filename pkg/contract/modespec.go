package contract

import (
	"time"

	"github.com/quantfleet/fleet-orchestrator/pkg/manifest"
)

// ModeSpec declares what a single automation mode demands from the
// runtime: which signal categories are hard-required (FAIL when violated)
// or soft-required (WARN), each with its own freshness TTL, plus ignore
// flags the mode forces on regardless of the account's own flags.
type ModeSpec struct {
	Mode        manifest.AutomationMode
	Hard        map[Category]time.Duration
	Soft        map[Category]time.Duration
	ForceIgnore manifest.IgnoreFlags
}

// DefaultModeSpecs returns the built-in requirement table.
//
// OFF and UNKNOWN have no spec at all: fleet-disabled or unrecognized
// accounts never fault. LEARN_DRY runs without order flow, so the
// positions and trades buses are not demanded and are force-ignored on
// top of that. Canary runs get looser TTLs than full-size live runs and
// a soft trades bus while fills are still sparse.
func DefaultModeSpecs() map[manifest.AutomationMode]ModeSpec {
	return map[manifest.AutomationMode]ModeSpec{
		manifest.ModeLearnDry: {
			Mode: manifest.ModeLearnDry,
			Hard: map[Category]time.Duration{
				CategoryWSHeartbeat: 180 * time.Second,
				CategoryDecisions:   900 * time.Second,
			},
			Soft: map[Category]time.Duration{
				CategoryMemory: 1800 * time.Second,
			},
			ForceIgnore: manifest.IgnoreFlags{Positions: true, Trades: true},
		},
		manifest.ModeLiveCanary: {
			Mode: manifest.ModeLiveCanary,
			Hard: map[Category]time.Duration{
				CategoryWSHeartbeat: 120 * time.Second,
				CategoryMemory:      600 * time.Second,
				CategoryDecisions:   300 * time.Second,
				CategoryPositions:   180 * time.Second,
			},
			Soft: map[Category]time.Duration{
				CategoryTrades: 300 * time.Second,
			},
		},
		manifest.ModeLiveFull: {
			Mode: manifest.ModeLiveFull,
			Hard: map[Category]time.Duration{
				CategoryWSHeartbeat: 90 * time.Second,
				CategoryMemory:      300 * time.Second,
				CategoryDecisions:   180 * time.Second,
				CategoryPositions:   120 * time.Second,
				CategoryTrades:      120 * time.Second,
			},
		},
	}
}

// requirement returns the TTL and severity demanded for a category, or
// found=false when the mode does not require it at all
func (s ModeSpec) requirement(category Category) (ttl time.Duration, severity Severity, found bool) {
	if ttl, ok := s.Hard[category]; ok {
		return ttl, SeverityFail, true
	}
	if ttl, ok := s.Soft[category]; ok {
		return ttl, SeverityWarn, true
	}
	return 0, "", false
}
