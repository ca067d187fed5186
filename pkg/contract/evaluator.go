package contract

import (
	"fmt"
	"time"

	"github.com/quantfleet/fleet-orchestrator/pkg/manifest"
	"github.com/quantfleet/fleet-orchestrator/pkg/observe"
)

// Verdict is the outcome of one contract evaluation. Fail and Warn hold
// the active faults; Ignored holds every fault suppressed by an ignore
// flag, and IgnoredCategories the effective flag set that was in force,
// so nothing is ever suppressed silently.
type Verdict struct {
	Fail              []Fault
	Warn              []Fault
	Ignored           []Fault
	IgnoredCategories []Category
}

// Active returns the active faults, FAIL before WARN
func (v Verdict) Active() []Fault {
	if len(v.Fail) == 0 && len(v.Warn) == 0 {
		return nil
	}
	active := make([]Fault, 0, len(v.Fail)+len(v.Warn))
	active = append(active, v.Fail...)
	active = append(active, v.Warn...)
	return active
}

// Evaluator applies a ModeSpec table to observed signals
type Evaluator struct {
	specs map[manifest.AutomationMode]ModeSpec
}

// NewEvaluator creates an evaluator with the default mode requirement table
func NewEvaluator() *Evaluator {
	return &Evaluator{specs: DefaultModeSpecs()}
}

// Validate evaluates the runtime contract of one account: for every
// category the mode requires, a missing or stale signal raises a fault;
// ignore flags reroute matching faults into the Ignored list. Categories
// the mode does not require never fault, with or without flags.
func (e *Evaluator) Validate(mode manifest.AutomationMode, signals observe.SignalSet, flags manifest.IgnoreFlags, now time.Time) Verdict {
	spec, required := e.specs[mode]
	if !required {
		return Verdict{}
	}

	effective := flags.Or(spec.ForceIgnore)

	verdict := Verdict{
		IgnoredCategories: armedCategories(effective),
	}

	nowMs := now.UnixMilli()
	for _, category := range categoryOrder {
		ttl, severity, found := spec.requirement(category)
		if !found {
			continue
		}

		fault, violated := checkCategory(category, lastSeen(signals, category), nowMs, ttl, severity)
		if !violated {
			continue
		}

		if categoryIgnored(effective, category) {
			verdict.Ignored = append(verdict.Ignored, fault)
			continue
		}
		if severity == SeverityFail {
			verdict.Fail = append(verdict.Fail, fault)
		} else {
			verdict.Warn = append(verdict.Warn, fault)
		}
	}

	return verdict
}

// checkCategory turns one category's last-seen timestamp into a fault
// when the signal is missing or older than its TTL
func checkCategory(category Category, seenMs, nowMs int64, ttl time.Duration, severity Severity) (Fault, bool) {
	if seenMs == 0 {
		detail := fmt.Sprintf("no %s signal observed", category)
		return NewFault(missingCode(category), severity, detail), true
	}

	ageMs := nowMs - seenMs
	if ageMs > ttl.Milliseconds() {
		detail := fmt.Sprintf("%s age %ds exceeds ttl %ds", category, ageMs/1000, int64(ttl.Seconds()))
		return NewFault(staleCode(category), severity, detail), true
	}

	return Fault{}, false
}

func lastSeen(signals observe.SignalSet, category Category) int64 {
	switch category {
	case CategoryWSHeartbeat:
		return signals.HeartbeatMs
	case CategoryMemory:
		return signals.MemoryMs
	case CategoryDecisions:
		return signals.DecisionsMs
	case CategoryPositions:
		return signals.PositionsMs
	case CategoryTrades:
		return signals.TradesMs
	}
	return 0
}

func categoryIgnored(flags manifest.IgnoreFlags, category Category) bool {
	switch category {
	case CategoryWSHeartbeat:
		return flags.WSHeartbeat
	case CategoryMemory:
		return flags.Memory
	case CategoryDecisions:
		return flags.Decisions
	case CategoryPositions:
		return flags.Positions
	case CategoryTrades:
		return flags.Trades
	}
	return false
}

// armedCategories lists the categories an effective flag set suppresses,
// in canonical order
func armedCategories(flags manifest.IgnoreFlags) []Category {
	if !flags.Any() {
		return nil
	}
	var armed []Category
	for _, category := range categoryOrder {
		if categoryIgnored(flags, category) {
			armed = append(armed, category)
		}
	}
	return armed
}
