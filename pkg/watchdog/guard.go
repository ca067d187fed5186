package watchdog

import (
	"time"
)

// Defaults tuned for trading workers: a process that needs restarting
// more than once a minute or more than three times an hour is broken in
// a way another restart will not fix.
const (
	DefaultRestartCooldown     = 60 * time.Second
	DefaultRestartWindow       = time.Hour
	DefaultMaxRestartsInWindow = 3
)

// RestartGuard rate-limits restarts per worker. Two independent checks:
// a cooldown since the last successful start, and a cap on starts within
// a sliding window. Only successful launches count against either.
type RestartGuard struct {
	Cooldown    time.Duration
	Window      time.Duration
	MaxInWindow int
}

// NewRestartGuard creates a guard with the default cooldown and window cap
func NewRestartGuard() *RestartGuard {
	return &RestartGuard{
		Cooldown:    DefaultRestartCooldown,
		Window:      DefaultRestartWindow,
		MaxInWindow: DefaultMaxRestartsInWindow,
	}
}

// CanRestart reports whether a restart is permitted at the given time.
// Pure read: callers decide what denial means (the watchdog blocks).
func (g *RestartGuard) CanRestart(record *Record, now time.Time) bool {
	if record.LastStartMs > 0 {
		sinceLast := now.Sub(time.UnixMilli(record.LastStartMs))
		if sinceLast < g.Cooldown {
			return false
		}
	}
	return g.WindowCount(record, now) < g.MaxInWindow
}

// MarkRestart records a successful launch. Failed launch attempts must
// not be marked; they do not consume restart budget.
func (g *RestartGuard) MarkRestart(record *Record, now time.Time) {
	g.pruneHistory(record, now)
	nowMs := now.UnixMilli()
	record.RestartHistoryMs = append(record.RestartHistoryMs, nowMs)
	record.LastStartMs = nowMs
	record.RestartCount++
}

// WindowCount returns the number of successful restarts inside the
// sliding window ending at now
func (g *RestartGuard) WindowCount(record *Record, now time.Time) int {
	g.pruneHistory(record, now)
	return len(record.RestartHistoryMs)
}

func (g *RestartGuard) pruneHistory(record *Record, now time.Time) {
	if len(record.RestartHistoryMs) == 0 {
		return
	}
	cutoffMs := now.Add(-g.Window).UnixMilli()
	kept := record.RestartHistoryMs[:0]
	for _, startMs := range record.RestartHistoryMs {
		if startMs > cutoffMs {
			kept = append(kept, startMs)
		}
	}
	record.RestartHistoryMs = kept
}
