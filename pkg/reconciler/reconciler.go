package reconciler

import (
	"context"
	"time"

	"github.com/quantfleet/fleet-orchestrator/pkg/contract"
	"github.com/quantfleet/fleet-orchestrator/pkg/errors"
	"github.com/quantfleet/fleet-orchestrator/pkg/logging"
	"github.com/quantfleet/fleet-orchestrator/pkg/manifest"
	"github.com/quantfleet/fleet-orchestrator/pkg/observe"
	"github.com/quantfleet/fleet-orchestrator/pkg/statestore"
	"github.com/quantfleet/fleet-orchestrator/pkg/watchdog"
)

// Reconciler derives the fleet snapshot from manifest intent, observed
// runtime state, and the watchdog's blocked set
type Reconciler struct {
	evaluator    *contract.Evaluator
	observer     observe.Source
	snapshotRepo *statestore.Repository
	watchdogRepo *statestore.Repository
	lock         *statestore.WriterLock
	logger       logging.Logger
	nowFunc      func() time.Time
}

// NewReconciler creates a reconciler writing snapshots through
// snapshotRepo and reading watchdog state through watchdogRepo
func NewReconciler(
	observer observe.Source,
	snapshotRepo *statestore.Repository,
	watchdogRepo *statestore.Repository,
	lock *statestore.WriterLock,
	logger logging.Logger,
) *Reconciler {
	return &Reconciler{
		evaluator:    contract.NewEvaluator(),
		observer:     observer,
		snapshotRepo: snapshotRepo,
		watchdogRepo: watchdogRepo,
		lock:         lock,
		logger:       logger,
		nowFunc:      time.Now,
	}
}

// Tick rebuilds the snapshot for every manifest account and atomically
// replaces the snapshot file. One bad account degrades to a conservative
// row; it never aborts the rest of the sweep. Lock contention aborts the
// whole tick without writing anything.
func (r *Reconciler) Tick(ctx context.Context, m *manifest.Manifest) (*Snapshot, error) {
	if err := r.lock.Acquire(); err != nil {
		return nil, err
	}
	defer func() {
		if err := r.lock.Release(); err != nil {
			r.logger.Warnf("Failed to release writer lock, error: %v", err)
		}
	}()

	blocked, err := r.blockedSet()
	if err != nil {
		return nil, err
	}

	now := r.nowFunc()
	snapshot := &Snapshot{
		TsMs:     now.UnixMilli(),
		Accounts: make(map[string]Row, len(m.Accounts)),
	}

	duplicates := duplicateLabels(m.Accounts)
	for _, entry := range m.Accounts {
		if ctx.Err() != nil {
			return nil, errors.NewCancelledError("reconciler tick interrupted", ctx.Err())
		}
		snapshot.Accounts[entry.AccountLabel] = r.buildRow(entry, duplicates, blocked, now)
	}

	if err := r.snapshotRepo.Save(snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// buildRow derives one account's snapshot row. Malformed manifest entries
// and failed observations degrade to a conservative row: should_run=false
// plus an input fault, manifest fields still copied verbatim. An
// unrecognized automation mode is not malformed: it normalizes to UNKNOWN,
// which never runs and never faults, and the observation is still reported.
func (r *Reconciler) buildRow(entry manifest.Entry, duplicates, blocked map[string]bool, now time.Time) Row {
	row := Row{
		Enabled:        entry.Enabled,
		EnableAIStack:  entry.EnableAIStack,
		AutomationMode: entry.AutomationMode,
		IsCanary:       entry.IsCanary,
	}

	if duplicates[entry.AccountLabel] {
		r.logger.Warnf("Duplicate manifest entry carries conflicting intent, account: %s", entry.AccountLabel)
		row.Faults = []contract.Fault{contract.ManifestInvalidFault("duplicate account label")}
		return row
	}

	if err := manifest.ValidateAccountLabel(entry.AccountLabel); err != nil {
		r.logger.Warnf("Manifest entry is invalid, account: %s, error: %v", entry.AccountLabel, err)
		row.Faults = []contract.Fault{contract.ManifestInvalidFault(err.Error())}
		return row
	}

	observation, err := r.observer.Observe(entry.AccountLabel)
	if err != nil {
		r.logger.Warnf("Observation failed, account: %s, error: %v", entry.AccountLabel, err)
		row.Faults = []contract.Fault{contract.ObservationInvalidFault(err.Error())}
		return row
	}

	row.Alive = observation.State.Alive
	row.PID = observation.State.PID
	row.LastHeartbeatMs = observation.State.LastHeartbeatMs

	verdict := r.evaluator.Validate(entry.Mode(), observation.Signals, entry.Ignore, now)
	row.Faults = verdict.Active()
	row.IgnoredFaults = verdict.Ignored
	row.IgnoredCategories = verdict.IgnoredCategories

	row.ShouldRun = entry.ShouldRun()
	row.Blocked = blocked[entry.AccountLabel]
	row.EffectiveShouldRun = row.ShouldRun && !row.Blocked
	return row
}

// duplicateLabels finds labels appearing more than once in the manifest.
// Entries under a duplicated label carry conflicting intent for the same
// account, so every one of them degrades to a conservative row.
func duplicateLabels(entries []manifest.Entry) map[string]bool {
	seen := make(map[string]bool, len(entries))
	duplicates := make(map[string]bool)
	for _, entry := range entries {
		if seen[entry.AccountLabel] {
			duplicates[entry.AccountLabel] = true
		}
		seen[entry.AccountLabel] = true
	}
	return duplicates
}

// blockedSet reads the watchdog state document. No document yet means no
// blocked workers; an unreadable document aborts the tick, because
// publishing effective_should_run without the blocked set would lie.
func (r *Reconciler) blockedSet() (map[string]bool, error) {
	doc := watchdog.NewStateDocument()
	if err := r.watchdogRepo.Load(doc); err != nil {
		if errors.IsNotFoundError(err) {
			return map[string]bool{}, nil
		}
		return nil, err
	}
	return doc.BlockedSet(), nil
}
