package reconciler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfleet/fleet-orchestrator/pkg/contract"
	"github.com/quantfleet/fleet-orchestrator/pkg/errors"
	"github.com/quantfleet/fleet-orchestrator/pkg/logging"
	"github.com/quantfleet/fleet-orchestrator/pkg/manifest"
	"github.com/quantfleet/fleet-orchestrator/pkg/observe"
	"github.com/quantfleet/fleet-orchestrator/pkg/statestore"
	"github.com/quantfleet/fleet-orchestrator/pkg/watchdog"
)

type fakeSource struct {
	observations map[string]observe.Observation
	errs         map[string]error
}

func (f *fakeSource) Observe(label string) (observe.Observation, error) {
	if err := f.errs[label]; err != nil {
		return observe.Observation{}, err
	}
	return f.observations[label], nil
}

func testLogger(t *testing.T) logging.Logger {
	return logging.NewLogger("", logging.LogFuncs{
		Debugf: t.Logf,
		Infof:  t.Logf,
		Warnf:  t.Logf,
		Errorf: t.Logf,
	})
}

type reconcilerHarness struct {
	reconciler   *Reconciler
	observer     *fakeSource
	snapshotRepo *statestore.Repository
	watchdogRepo *statestore.Repository
	lockPath     string
	clock        time.Time
}

func newReconcilerHarness(t *testing.T) *reconcilerHarness {
	dir := t.TempDir()
	h := &reconcilerHarness{
		observer:     &fakeSource{observations: map[string]observe.Observation{}, errs: map[string]error{}},
		snapshotRepo: statestore.NewRepository(filepath.Join(dir, "fleet_snapshot.json")),
		watchdogRepo: statestore.NewRepository(filepath.Join(dir, "watchdog_state.json")),
		lockPath:     filepath.Join(dir, "writer.lock"),
		clock:        time.UnixMilli(1755000000000),
	}
	lock := statestore.NewWriterLock(h.lockPath, 0)
	h.reconciler = NewReconciler(h.observer, h.snapshotRepo, h.watchdogRepo, lock, testLogger(t))
	h.reconciler.nowFunc = func() time.Time { return h.clock }
	return h
}

func (h *reconcilerHarness) tick(t *testing.T, m *manifest.Manifest) *Snapshot {
	t.Helper()
	snapshot, err := h.reconciler.Tick(context.Background(), m)
	require.NoError(t, err)
	return snapshot
}

func (h *reconcilerHarness) freshSignals() observe.SignalSet {
	ms := h.clock.Add(-10 * time.Second).UnixMilli()
	return observe.SignalSet{HeartbeatMs: ms, MemoryMs: ms, DecisionsMs: ms, PositionsMs: ms, TradesMs: ms}
}

func (h *reconcilerHarness) aliveObservation(pid int) observe.Observation {
	return observe.Observation{
		State: observe.ProcessState{
			PID:             pid,
			Alive:           true,
			LastHeartbeatMs: h.clock.Add(-10 * time.Second).UnixMilli(),
		},
		Signals: h.freshSignals(),
	}
}

func fleetEntry(label, mode string) manifest.Entry {
	return manifest.Entry{
		AccountLabel:   label,
		Enabled:        true,
		EnableAIStack:  true,
		AutomationMode: mode,
	}
}

func fleetManifest(entries ...manifest.Entry) *manifest.Manifest {
	return &manifest.Manifest{Accounts: entries}
}

func failCategories(row Row) []contract.Category {
	var categories []contract.Category
	for _, fault := range row.Faults {
		if fault.Severity == contract.SeverityFail {
			categories = append(categories, fault.Category)
		}
	}
	return categories
}

func TestTick_LearnDryWithNoObservationData(t *testing.T) {
	h := newReconcilerHarness(t)

	snapshot := h.tick(t, fleetManifest(fleetEntry("acct-1", "LEARN_DRY")))

	row, ok := snapshot.Accounts["acct-1"]
	require.True(t, ok)
	assert.True(t, row.ShouldRun, "intent says run even though nothing is observed")
	assert.True(t, row.EffectiveShouldRun)
	assert.False(t, row.Alive)
	assert.Zero(t, row.PID)

	assert.ElementsMatch(t,
		[]contract.Category{contract.CategoryWSHeartbeat, contract.CategoryDecisions},
		failCategories(row))
	for _, fault := range row.Faults {
		assert.NotEqual(t, contract.CategoryPositions, fault.Category, "LEARN_DRY must not fault on positions")
		assert.NotEqual(t, contract.CategoryTrades, fault.Category, "LEARN_DRY must not fault on trades")
	}
	assert.Equal(t,
		[]contract.Category{contract.CategoryPositions, contract.CategoryTrades},
		row.IgnoredCategories)
}

func TestTick_BlockedWorkerClearsEffectiveShouldRun(t *testing.T) {
	h := newReconcilerHarness(t)

	doc := watchdog.NewStateDocument()
	record := doc.Ensure("acct-1")
	record.State = watchdog.StateBlocked
	record.Blocked = true
	record.BlockedReason = "restart storm: 3 restarts within 1h0m0s"
	require.NoError(t, h.watchdogRepo.Save(doc))

	h.observer.observations["acct-1"] = h.aliveObservation(4001)

	snapshot := h.tick(t, fleetManifest(fleetEntry("acct-1", "LIVE_FULL")))

	row := snapshot.Accounts["acct-1"]
	assert.True(t, row.ShouldRun, "intent is untouched by the block")
	assert.False(t, row.EffectiveShouldRun, "blocked workers must not be directed to run")
	assert.True(t, row.Blocked)
	assert.True(t, row.Alive, "observation is reported verbatim")
}

func TestTick_RowsAreIdempotent(t *testing.T) {
	h := newReconcilerHarness(t)
	h.observer.observations["acct-2"] = h.aliveObservation(4002)
	m := fleetManifest(
		fleetEntry("acct-1", "LEARN_DRY"),
		fleetEntry("acct-2", "LIVE_FULL"),
		fleetEntry("acct-3", "OFF"),
	)

	first := h.tick(t, m)
	second := h.tick(t, m)

	firstRows, err := json.Marshal(first.Accounts)
	require.NoError(t, err)
	secondRows, err := json.Marshal(second.Accounts)
	require.NoError(t, err)
	assert.Equal(t, string(firstRows), string(secondRows), "unchanged inputs must produce byte-identical rows")
}

func TestTick_MalformedEntryDegradesToConservativeRow(t *testing.T) {
	h := newReconcilerHarness(t)
	h.observer.observations["acct-2"] = h.aliveObservation(4002)

	badLabel := manifest.Entry{
		AccountLabel:   "bad label!",
		Enabled:        true,
		EnableAIStack:  true,
		AutomationMode: "LIVE_FULL",
	}

	snapshot := h.tick(t, fleetManifest(badLabel, fleetEntry("acct-2", "LIVE_FULL")))

	row := snapshot.Accounts["bad label!"]
	require.Len(t, row.Faults, 1)
	assert.Equal(t, contract.CodeManifestInvalid, row.Faults[0].Code)
	assert.False(t, row.ShouldRun, "a malformed entry is conservatively not run")
	assert.False(t, row.EffectiveShouldRun)
	assert.True(t, row.Enabled, "manifest fields are still copied verbatim")

	goodRow := snapshot.Accounts["acct-2"]
	assert.True(t, goodRow.EffectiveShouldRun, "one bad entry must not degrade the rest")
	assert.Empty(t, goodRow.Faults)
}

func TestTick_DuplicateLabelsDegradeToConservativeRows(t *testing.T) {
	h := newReconcilerHarness(t)
	h.observer.observations["acct-1"] = h.aliveObservation(4001)

	disabled := fleetEntry("acct-1", "LIVE_FULL")
	disabled.Enabled = false
	enabled := fleetEntry("acct-1", "LIVE_FULL")

	snapshot := h.tick(t, fleetManifest(disabled, enabled, fleetEntry("acct-2", "LEARN_DRY")))

	row := snapshot.Accounts["acct-1"]
	assert.False(t, row.ShouldRun, "conflicting intent must never be directed to run")
	assert.False(t, row.EffectiveShouldRun)
	require.Len(t, row.Faults, 1)
	assert.Equal(t, contract.CodeManifestInvalid, row.Faults[0].Code)
	assert.Equal(t, "duplicate account label", row.Faults[0].Detail)

	otherRow := snapshot.Accounts["acct-2"]
	assert.True(t, otherRow.ShouldRun, "a duplicate must not degrade other accounts")
}

func TestTick_UnknownModeKeepsObservedLiveness(t *testing.T) {
	h := newReconcilerHarness(t)
	h.observer.observations["acct-1"] = h.aliveObservation(4001)

	snapshot := h.tick(t, fleetManifest(fleetEntry("acct-1", "TURBO")))

	row := snapshot.Accounts["acct-1"]
	assert.Equal(t, "TURBO", row.AutomationMode, "manifest field is copied verbatim")
	assert.False(t, row.ShouldRun, "an unrecognized mode normalizes to UNKNOWN and does not run")
	assert.False(t, row.EffectiveShouldRun)
	assert.True(t, row.Alive, "observation stays authoritative for liveness")
	assert.Equal(t, 4001, row.PID)
	assert.NotZero(t, row.LastHeartbeatMs)
	assert.Empty(t, row.Faults, "UNKNOWN requires nothing and never faults")
}

func TestTick_ObservationErrorDegradesToConservativeRow(t *testing.T) {
	h := newReconcilerHarness(t)
	h.observer.errs["acct-1"] = errors.NewIOError("heartbeat store unreadable", nil)
	h.observer.observations["acct-2"] = h.aliveObservation(4002)

	snapshot := h.tick(t, fleetManifest(fleetEntry("acct-1", "LIVE_FULL"), fleetEntry("acct-2", "LIVE_FULL")))

	row := snapshot.Accounts["acct-1"]
	require.Len(t, row.Faults, 1)
	assert.Equal(t, contract.CodeObservationInvalid, row.Faults[0].Code)
	assert.False(t, row.ShouldRun)
	assert.False(t, row.Alive)

	goodRow := snapshot.Accounts["acct-2"]
	assert.True(t, goodRow.EffectiveShouldRun)
}

func TestTick_OffModeProducesNoFaults(t *testing.T) {
	h := newReconcilerHarness(t)
	// nothing observed at all: every signal is as stale as it gets

	snapshot := h.tick(t, fleetManifest(fleetEntry("acct-1", "OFF")))

	row := snapshot.Accounts["acct-1"]
	assert.Empty(t, row.Faults, "fleet-disabled accounts never fault")
	assert.False(t, row.ShouldRun)
	assert.False(t, row.EffectiveShouldRun)
}

func TestTick_IgnoredFaultIsSuppressedButAudited(t *testing.T) {
	h := newReconcilerHarness(t)
	signals := h.freshSignals()
	signals.HeartbeatMs = h.clock.Add(-200 * time.Second).UnixMilli() // stale for LIVE_FULL
	signals.MemoryMs = 0                                              // missing
	h.observer.observations["acct-1"] = observe.Observation{
		State:   observe.ProcessState{PID: 4001, Alive: true},
		Signals: signals,
	}

	entry := fleetEntry("acct-1", "LIVE_FULL")
	entry.Ignore = manifest.IgnoreFlags{Memory: true}

	snapshot := h.tick(t, fleetManifest(entry))

	row := snapshot.Accounts["acct-1"]
	require.Len(t, row.Faults, 1, "the memory fault must be filtered out of the active list")
	assert.Equal(t, contract.CodeWSHeartbeatStale, row.Faults[0].Code, "other faults stay untouched")

	require.Len(t, row.IgnoredFaults, 1)
	assert.Equal(t, contract.CodeMemorySnapshotMissing, row.IgnoredFaults[0].Code)
	assert.Equal(t, []contract.Category{contract.CategoryMemory}, row.IgnoredCategories)
}

func TestTick_LockContentionAbortsWholeTick(t *testing.T) {
	h := newReconcilerHarness(t)
	contender := statestore.NewWriterLock(h.lockPath, 0)
	require.NoError(t, contender.Acquire())
	defer contender.Release()

	_, err := h.reconciler.Tick(context.Background(), fleetManifest(fleetEntry("acct-1", "LIVE_FULL")))

	assert.True(t, errors.IsLockError(err))
	exists, statErr := h.snapshotRepo.Exists()
	require.NoError(t, statErr)
	assert.False(t, exists, "a contended tick must not write a partial snapshot")
}

func TestTick_SnapshotIsReplacedWholesale(t *testing.T) {
	h := newReconcilerHarness(t)
	h.observer.observations["acct-1"] = h.aliveObservation(4001)
	h.observer.observations["acct-2"] = h.aliveObservation(4002)

	h.tick(t, fleetManifest(fleetEntry("acct-1", "LIVE_FULL"), fleetEntry("acct-2", "LIVE_FULL")))
	h.tick(t, fleetManifest(fleetEntry("acct-2", "LIVE_FULL")))

	var onDisk Snapshot
	require.NoError(t, h.snapshotRepo.Load(&onDisk))
	assert.Len(t, onDisk.Accounts, 1, "rows of removed accounts must not survive")
	_, ok := onDisk.Accounts["acct-2"]
	assert.True(t, ok)
}

func TestTick_CorruptWatchdogStateAbortsTick(t *testing.T) {
	h := newReconcilerHarness(t)
	require.NoError(t, os.WriteFile(h.watchdogRepo.Path(), []byte("{corrupt"), 0644))

	_, err := h.reconciler.Tick(context.Background(), fleetManifest(fleetEntry("acct-1", "LIVE_FULL")))

	assert.True(t, errors.IsValidationError(err), "publishing directives without the blocked set would lie")
	exists, statErr := h.snapshotRepo.Exists()
	require.NoError(t, statErr)
	assert.False(t, exists)
}

func TestTick_CancelledContext(t *testing.T) {
	h := newReconcilerHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.reconciler.Tick(ctx, fleetManifest(fleetEntry("acct-1", "LIVE_FULL")))

	assert.True(t, errors.IsCancelledError(err))
}
