// Package orchestrator wires the fleet components together and runs the
// two periodic loops: the reconciler tick deriving the fleet snapshot and
// the watchdog tick supervising worker restarts. The loops are
// independent; they share state only through the on-disk documents and
// serialize their writes through the writer lock.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfleet/fleet-orchestrator/pkg/contract"
	"github.com/quantfleet/fleet-orchestrator/pkg/errors"
	"github.com/quantfleet/fleet-orchestrator/pkg/launcher"
	"github.com/quantfleet/fleet-orchestrator/pkg/logging"
	"github.com/quantfleet/fleet-orchestrator/pkg/manifest"
	"github.com/quantfleet/fleet-orchestrator/pkg/metrics"
	"github.com/quantfleet/fleet-orchestrator/pkg/observe"
	"github.com/quantfleet/fleet-orchestrator/pkg/reconciler"
	"github.com/quantfleet/fleet-orchestrator/pkg/statestore"
	"github.com/quantfleet/fleet-orchestrator/pkg/watchdog"
)

func componentPrefix(component string) string {
	return fmt.Sprintf("component: %s , ", component)
}

// Orchestrator owns the wired fleet components and their loops
type Orchestrator struct {
	config     *Config
	reconciler *reconciler.Reconciler
	watchdog   *watchdog.Watchdog
	metrics    *metrics.Metrics
	logger     logging.Logger
}

// NewOrchestrator validates the configuration and wires the components.
// A nil metrics handle disables metric recording.
func NewOrchestrator(config *Config, m *metrics.Metrics, logger logging.Logger) (*Orchestrator, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	options := config.Orchestrator
	collector := observe.NewCollector(options.RuntimeDir, logging.WithPrefix(logger, componentPrefix("observe")))
	lock := statestore.NewWriterLock(options.LockPath(), options.LockTTL)
	snapshotRepo := statestore.NewRepository(options.SnapshotPath())
	watchdogRepo := statestore.NewRepository(options.WatchdogStatePath())
	launch := launcher.NewExecLauncher(logging.WithPrefix(logger, componentPrefix("launcher")))

	wd := watchdog.NewWatchdog(
		config.Watchdog,
		launch,
		collector,
		watchdogRepo,
		lock,
		config.StartSpecSource(),
		logging.WithPrefix(logger, componentPrefix("watchdog")),
	)
	wd.SetMetrics(m)

	rec := reconciler.NewReconciler(
		collector,
		snapshotRepo,
		watchdogRepo,
		lock,
		logging.WithPrefix(logger, componentPrefix("reconciler")),
	)

	return &Orchestrator{
		config:     config,
		reconciler: rec,
		watchdog:   wd,
		metrics:    m,
		logger:     logger,
	}, nil
}

// Run drives both loops until ctx is cancelled. Cancellation is the
// graceful handoff: no new restarts are issued and already-running
// workers are left running.
func (o *Orchestrator) Run(ctx context.Context) error {
	options := o.config.Orchestrator
	o.logger.Infof("Orchestrator starting, manifest: %s, state dir: %s, reconcile interval: %s, watchdog interval: %s",
		options.ManifestPath, options.StateDir, options.ReconcileInterval, options.WatchdogInterval)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return o.runLoop(ctx, "reconciler", options.ReconcileInterval, o.reconcileTick)
	})
	group.Go(func() error {
		return o.runLoop(ctx, "watchdog", options.WatchdogInterval, o.watchdogTick)
	})

	err := group.Wait()
	o.logger.Infof("Orchestrator stopped, workers left running")
	return err
}

// runLoop runs one tick immediately and then on every interval. Tick
// errors are logged and counted, never fatal: lock contention and bad
// input are per-tick conditions and the next tick retries from scratch.
func (o *Orchestrator) runLoop(ctx context.Context, loop string, interval time.Duration, tick func(ctx context.Context, m *manifest.Manifest)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		o.runTick(ctx, loop, tick)
		select {
		case <-ctx.Done():
			o.logger.Infof("Loop stopping, loop: %s", loop)
			return nil
		case <-ticker.C:
		}
	}
}

// runTick re-reads the manifest and runs one tick of a loop. The manifest
// is re-read every tick so operator edits take effect without a restart.
func (o *Orchestrator) runTick(ctx context.Context, loop string, tick func(ctx context.Context, m *manifest.Manifest)) {
	started := time.Now()

	m, err := manifest.LoadFromFile(o.config.Orchestrator.ManifestPath)
	if err != nil {
		o.logger.Errorf("Failed to load manifest, skipping tick, loop: %s, error: %v", loop, err)
		o.metrics.IncTickFailure(loop, "manifest_unreadable")
		o.metrics.ObserveTickDuration(loop, "error", time.Since(started))
		return
	}

	tick(ctx, m)
	o.metrics.ObserveTickDuration(loop, "ok", time.Since(started))
}

func (o *Orchestrator) reconcileTick(ctx context.Context, m *manifest.Manifest) {
	snapshot, err := o.reconciler.Tick(ctx, m)
	if err != nil {
		o.recordTickError("reconciler", err)
		return
	}
	o.recordSnapshot(snapshot)
}

func (o *Orchestrator) watchdogTick(ctx context.Context, m *manifest.Manifest) {
	if err := o.watchdog.Tick(ctx, m); err != nil {
		o.recordTickError("watchdog", err)
	}
}

// recordTickError classifies a failed tick. Lock contention is expected
// when another writer (the other loop, or the operator CLI) holds the
// lock, so it logs at a lower level than a genuine failure.
func (o *Orchestrator) recordTickError(loop string, err error) {
	switch {
	case errors.IsLockError(err):
		o.logger.Debugf("Tick skipped, writer lock is held, loop: %s, error: %v", loop, err)
		o.metrics.IncTickFailure(loop, "lock_contention")
	case errors.IsCancelledError(err):
		o.logger.Infof("Tick interrupted by shutdown, loop: %s", loop)
		o.metrics.IncTickFailure(loop, "cancelled")
	default:
		o.logger.Errorf("Tick failed, loop: %s, error: %v", loop, err)
		o.metrics.IncTickFailure(loop, "error")
	}
}

// recordSnapshot publishes the snapshot-derived gauges
func (o *Orchestrator) recordSnapshot(snapshot *reconciler.Snapshot) {
	var toRun, blocked, failCount, warnCount int
	for _, row := range snapshot.Accounts {
		if row.EffectiveShouldRun {
			toRun++
		}
		if row.Blocked {
			blocked++
		}
		for _, fault := range row.Faults {
			switch fault.Severity {
			case contract.SeverityFail:
				failCount++
			case contract.SeverityWarn:
				warnCount++
			}
		}
	}
	o.metrics.SetAccountsDirectedToRun(toRun)
	o.metrics.SetWorkersBlocked(blocked)
	o.metrics.SetActiveFaults("fail", failCount)
	o.metrics.SetActiveFaults("warn", warnCount)
}
