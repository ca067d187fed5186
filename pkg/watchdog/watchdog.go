package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/quantfleet/fleet-orchestrator/pkg/errors"
	"github.com/quantfleet/fleet-orchestrator/pkg/launcher"
	"github.com/quantfleet/fleet-orchestrator/pkg/logging"
	"github.com/quantfleet/fleet-orchestrator/pkg/manifest"
	"github.com/quantfleet/fleet-orchestrator/pkg/metrics"
	"github.com/quantfleet/fleet-orchestrator/pkg/observe"
	"github.com/quantfleet/fleet-orchestrator/pkg/statestore"
)

const (
	DefaultBackoffInitial   = 1 * time.Second
	DefaultBackoffCap       = 5 * time.Minute
	DefaultStopGraceTimeout = 10 * time.Second
)

// Options configures the watchdog's restart behavior
type Options struct {
	RestartCooldown     time.Duration `yaml:"restart_cooldown,omitempty"`
	RestartWindow       time.Duration `yaml:"restart_window,omitempty"`
	MaxRestartsInWindow int           `yaml:"max_restarts_in_window,omitempty"`
	BackoffInitial      time.Duration `yaml:"backoff_initial,omitempty"`
	BackoffCap          time.Duration `yaml:"backoff_cap,omitempty"`
	StopGraceTimeout    time.Duration `yaml:"stop_grace_timeout,omitempty"`
}

// SetOptionsDefaults applies default values to unset options
func SetOptionsDefaults(options *Options) {
	if options.RestartCooldown == 0 {
		options.RestartCooldown = DefaultRestartCooldown
	}
	if options.RestartWindow == 0 {
		options.RestartWindow = DefaultRestartWindow
	}
	if options.MaxRestartsInWindow == 0 {
		options.MaxRestartsInWindow = DefaultMaxRestartsInWindow
	}
	if options.BackoffInitial == 0 {
		options.BackoffInitial = DefaultBackoffInitial
	}
	if options.BackoffCap == 0 {
		options.BackoffCap = DefaultBackoffCap
	}
	if options.StopGraceTimeout == 0 {
		options.StopGraceTimeout = DefaultStopGraceTimeout
	}
}

// StartSpecSource resolves the launch specification for a worker.
// ok=false means no spec is configured and the worker cannot be restarted.
type StartSpecSource func(label string) (launcher.StartSpec, bool)

// Watchdog drives the per-worker restart lifecycle. Each Tick runs under
// the writer lock, loads the persisted state document, supervises every
// worker the manifest says should run, and saves the document back.
type Watchdog struct {
	options   Options
	guard     *RestartGuard
	launcher  launcher.Launcher
	observer  observe.Source
	stateRepo *statestore.Repository
	lock      *statestore.WriterLock
	specs     StartSpecSource
	table     *ProcessTable
	metrics   *metrics.Metrics
	logger    logging.Logger
	probe     func(pid int) (bool, error)
	nowFunc   func() time.Time
}

// NewWatchdog creates a watchdog. Zero option fields get defaults.
func NewWatchdog(
	options Options,
	launch launcher.Launcher,
	observer observe.Source,
	stateRepo *statestore.Repository,
	lock *statestore.WriterLock,
	specs StartSpecSource,
	logger logging.Logger,
) *Watchdog {
	SetOptionsDefaults(&options)
	return &Watchdog{
		options: options,
		guard: &RestartGuard{
			Cooldown:    options.RestartCooldown,
			Window:      options.RestartWindow,
			MaxInWindow: options.MaxRestartsInWindow,
		},
		launcher:  launch,
		observer:  observer,
		stateRepo: stateRepo,
		lock:      lock,
		specs:     specs,
		table:     NewProcessTable(),
		logger:    logger,
		probe:     launcher.IsAlive,
		nowFunc:   time.Now,
	}
}

// SetMetrics attaches Prometheus counters for restart activity. The
// recorders are nil-safe, so leaving metrics unset disables recording.
func (w *Watchdog) SetMetrics(m *metrics.Metrics) {
	w.metrics = m
}

// Tick supervises every manifest worker that should be running. Returns a
// lock error without touching anything when another writer holds the lock;
// the caller just waits for the next tick. A cancelled context stops the
// sweep early but still persists the mutations already made.
func (w *Watchdog) Tick(ctx context.Context, m *manifest.Manifest) error {
	if err := w.lock.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := w.lock.Release(); err != nil {
			w.logger.Warnf("Failed to release writer lock, error: %v", err)
		}
	}()

	doc := NewStateDocument()
	if err := w.stateRepo.Load(doc); err != nil && !errors.IsNotFoundError(err) {
		return err
	}

	now := w.nowFunc()
	var tickErr error
	for _, entry := range m.Accounts {
		if ctx.Err() != nil {
			tickErr = errors.NewCancelledError("watchdog tick interrupted", ctx.Err())
			break
		}
		if !entry.ShouldRun() {
			continue
		}
		w.superviseWorker(ctx, entry.AccountLabel, doc, now)
	}

	if err := w.stateRepo.Save(doc); err != nil {
		return err
	}
	return tickErr
}

// superviseWorker advances one worker through the restart lifecycle.
// A record is created on the first observed failure; healthy workers
// that never failed have no record.
func (w *Watchdog) superviseWorker(ctx context.Context, label string, doc *StateDocument, now time.Time) {
	record, exists := doc.Lookup(label)
	if exists && record.Blocked {
		w.logger.Debugf("Worker is blocked, skipping, account: %s, reason: %s", label, record.BlockedReason)
		return
	}

	alive, pid := w.liveness(label)

	if exists && record.State == StateRestarting {
		w.superviseRestarting(ctx, label, record, alive, pid, now)
		return
	}

	if alive {
		return
	}

	w.logger.Warnf("Worker process is gone, account: %s, last pid: %d", label, pid)
	w.handleFailure(ctx, label, doc.Ensure(label), pid, now)
}

func (w *Watchdog) superviseRestarting(ctx context.Context, label string, record *Record, alive bool, pid int, now time.Time) {
	if alive {
		w.logger.Infof("Worker came back without a restart, account: %s, pid: %d", label, pid)
		record.State = StateRunning
		record.NextRestartAllowedMs = 0
		return
	}
	if now.UnixMilli() < record.NextRestartAllowedMs {
		w.logger.Debugf("Waiting out restart backoff, account: %s, allowed in: %dms",
			label, record.NextRestartAllowedMs-now.UnixMilli())
		return
	}
	w.attemptRestart(ctx, label, record, now)
}

// handleFailure reacts to a newly detected dead worker: either arm a
// delayed restart or block the worker when the guard denies one.
func (w *Watchdog) handleFailure(ctx context.Context, label string, record *Record, pid int, now time.Time) {
	if !w.guard.CanRestart(record, now) {
		w.block(ctx, label, record, pid, now)
		return
	}

	w.table.Clear(label)
	record.State = StateRestarting
	record.BackoffSec = w.nextBackoff(record.BackoffSec)
	record.NextRestartAllowedMs = now.UnixMilli() + int64(record.BackoffSec*1000)
	w.logger.Warnf("Restart armed, account: %s, backoff: %.1fs", label, record.BackoffSec)
}

// attemptRestart launches the worker once the backoff deadline has passed.
// The guard is consulted again at launch time; a failed launch doubles the
// backoff but does not consume restart budget.
func (w *Watchdog) attemptRestart(ctx context.Context, label string, record *Record, now time.Time) {
	if !w.guard.CanRestart(record, now) {
		w.block(ctx, label, record, 0, now)
		return
	}

	spec, ok := w.specs(label)
	if !ok {
		w.logger.Errorf("No start spec configured, cannot restart worker, account: %s", label)
		w.deferRestart(label, record, now)
		return
	}

	pid, err := w.launcher.Start(ctx, spec)
	if err != nil {
		w.logger.Errorf("Worker restart launch failed, account: %s, error: %v", label, err)
		w.deferRestart(label, record, now)
		return
	}

	w.guard.MarkRestart(record, now)
	record.State = StateRunning
	record.NextRestartAllowedMs = 0
	w.table.SetRunning(label, pid)
	w.metrics.IncWorkerRestart(label)
	w.logger.Infof("Worker restarted, account: %s, pid: %d, restart count: %d", label, pid, record.RestartCount)
}

func (w *Watchdog) deferRestart(label string, record *Record, now time.Time) {
	record.BackoffSec = w.nextBackoff(record.BackoffSec)
	record.NextRestartAllowedMs = now.UnixMilli() + int64(record.BackoffSec*1000)
	w.logger.Warnf("Restart deferred, account: %s, backoff: %.1fs", label, record.BackoffSec)
}

// block moves the worker to the terminal blocked state. Any lingering
// process is terminated best-effort so the observed state matches the
// declared one; a kill failure is logged and swallowed, and the local
// view still reports the worker as not alive.
func (w *Watchdog) block(ctx context.Context, label string, record *Record, pid int, now time.Time) {
	reason := w.blockReason(record, now)
	record.State = StateBlocked
	record.Blocked = true
	record.BlockedReason = reason
	record.NextRestartAllowedMs = 0

	if pid > 0 {
		result, err := w.launcher.Stop(ctx, pid, w.options.StopGraceTimeout)
		if err != nil {
			w.logger.Warnf("Failed to terminate lingering worker process, account: %s, pid: %d, error: %v", label, pid, err)
		} else if result.Signaled || result.Killed {
			w.logger.Infof("Terminated lingering worker process, account: %s, pid: %d, killed: %v", label, pid, result.Killed)
		}
	}
	w.table.Clear(label)

	w.metrics.IncWorkerBlock(label)
	w.logger.Errorf("Worker blocked, account: %s, reason: %s", label, reason)
}

func (w *Watchdog) blockReason(record *Record, now time.Time) string {
	count := w.guard.WindowCount(record, now)
	if count >= w.guard.MaxInWindow {
		return fmt.Sprintf("restart storm: %d restarts within %s", count, w.guard.Window)
	}
	sinceLast := now.Sub(time.UnixMilli(record.LastStartMs))
	return fmt.Sprintf("crashed %s after last start, inside the %s cooldown", sinceLast.Round(time.Second), w.guard.Cooldown)
}

func (w *Watchdog) nextBackoff(currentSec float64) float64 {
	if currentSec <= 0 {
		return w.options.BackoffInitial.Seconds()
	}
	next := currentSec * 2
	if capSec := w.options.BackoffCap.Seconds(); next > capSec {
		next = capSec
	}
	return next
}

// liveness resolves whether a worker is alive right now. The in-memory
// process table wins when it has a PID; otherwise the worker is adopted
// from the observation store, which covers orchestrator restarts.
func (w *Watchdog) liveness(label string) (bool, int) {
	if entry, ok := w.table.Get(label); ok && entry.PID > 0 {
		alive, err := w.probe(entry.PID)
		if err != nil {
			w.logger.Warnf("Liveness probe failed, assuming worker is dead, account: %s, pid: %d, error: %v", label, entry.PID, err)
			return false, entry.PID
		}
		return alive, entry.PID
	}

	observation, err := w.observer.Observe(label)
	if err != nil {
		w.logger.Warnf("Observation failed, assuming worker is dead, account: %s, error: %v", label, err)
		return false, 0
	}
	if observation.State.Alive && observation.State.PID > 0 {
		w.table.SetRunning(label, observation.State.PID)
		return true, observation.State.PID
	}
	return false, observation.State.PID
}
