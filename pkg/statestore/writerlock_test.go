package statestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantfleet/fleet-orchestrator/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterLock_AcquireRelease(t *testing.T) {
	lock := NewWriterLock(filepath.Join(t.TempDir(), "writer.lock"), time.Minute)

	require.NoError(t, lock.Acquire())

	holder, err := lock.Holder()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), holder.PID)

	require.NoError(t, lock.Release())

	_, err = lock.Holder()
	assert.True(t, errors.IsNotFoundError(err))
}

func TestWriterLock_ContentionFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "writer.lock")

	first := NewWriterLock(path, time.Minute)
	require.NoError(t, first.Acquire())

	second := NewWriterLock(path, time.Minute)
	err := second.Acquire()
	require.Error(t, err)
	assert.True(t, errors.IsLockError(err))
}

func TestWriterLock_StaleLockReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "writer.lock")

	start := time.Now()
	first := NewWriterLock(path, time.Minute)
	first.nowFunc = func() time.Time { return start }
	require.NoError(t, first.Acquire())

	// Same TTL, but the clock has moved past it: the holder is presumed dead.
	second := NewWriterLock(path, time.Minute)
	second.nowFunc = func() time.Time { return start.Add(2 * time.Minute) }
	require.NoError(t, second.Acquire())

	holder, err := second.Holder()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), holder.PID)
}

func TestWriterLock_ReclaimLeavesNoSidecarFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "writer.lock")

	start := time.Now()
	first := NewWriterLock(path, time.Minute)
	first.nowFunc = func() time.Time { return start }
	require.NoError(t, first.Acquire())

	second := NewWriterLock(path, time.Minute)
	second.nowFunc = func() time.Time { return start.Add(2 * time.Minute) }
	require.NoError(t, second.Acquire())

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1, "reclaim must not leave slid-aside lock files behind")
	assert.Equal(t, "writer.lock", files[0].Name())
}

func TestWriterLock_ReclaimRaceLoserBacksOffWhenFileIsGone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "writer.lock")

	start := time.Now()
	first := NewWriterLock(path, time.Minute)
	first.nowFunc = func() time.Time { return start }
	require.NoError(t, first.Acquire())

	// Another contender finishes its reclaim between this contender's
	// staleness check and its rename: the rename finds no file and the
	// loser must back off with a lock error instead of retrying blind.
	loser := NewWriterLock(path, time.Minute)
	loser.nowFunc = func() time.Time { return start.Add(2 * time.Minute) }
	loser.beforeReclaim = func() {
		require.NoError(t, os.Remove(path))
	}

	err := loser.Acquire()
	require.Error(t, err)
	assert.True(t, errors.IsLockError(err))
}

func TestWriterLock_ReclaimRaceLoserRestoresWinnersFreshLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "writer.lock")

	start := time.Now()
	first := NewWriterLock(path, time.Minute)
	first.nowFunc = func() time.Time { return start }
	require.NoError(t, first.Acquire())

	// Another contender reclaims the stale lock and acquires a fresh one
	// between this contender's staleness check and its rename. The loser
	// slides the fresh lock aside, must recognize it is not the stale one
	// it observed, put it back, and report contention.
	winner := NewWriterLock(path, time.Minute)
	winner.nowFunc = func() time.Time { return start.Add(2 * time.Minute) }

	loser := NewWriterLock(path, time.Minute)
	loser.nowFunc = func() time.Time { return start.Add(2 * time.Minute) }
	loser.beforeReclaim = func() {
		require.NoError(t, winner.Acquire())
	}

	err := loser.Acquire()
	require.Error(t, err)
	assert.True(t, errors.IsLockError(err))

	holder, err := winner.Holder()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), holder.PID, "the winner's lock must survive the losing reclaim")
}

func TestWriterLock_FreshLockNotReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "writer.lock")

	start := time.Now()
	first := NewWriterLock(path, time.Minute)
	first.nowFunc = func() time.Time { return start }
	require.NoError(t, first.Acquire())

	second := NewWriterLock(path, time.Minute)
	second.nowFunc = func() time.Time { return start.Add(30 * time.Second) }
	err := second.Acquire()
	require.Error(t, err)
	assert.True(t, errors.IsLockError(err))
}

func TestWriterLock_CorruptLockAgesOutByMtime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "writer.lock")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0644))

	old := time.Now().Add(-5 * time.Minute)
	require.NoError(t, os.Chtimes(path, old, old))

	lock := NewWriterLock(path, time.Minute)
	require.NoError(t, lock.Acquire())
	require.NoError(t, lock.Release())
}

func TestWriterLock_CorruptFreshLockStillHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "writer.lock")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0644))

	lock := NewWriterLock(path, time.Minute)
	err := lock.Acquire()
	require.Error(t, err)
	assert.True(t, errors.IsLockError(err))
}

func TestWriterLock_ReleaseWhenNotHeld(t *testing.T) {
	lock := NewWriterLock(filepath.Join(t.TempDir(), "writer.lock"), time.Minute)
	assert.NoError(t, lock.Release())
}

func TestWriterLock_ReleaseForeignLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "writer.lock")

	info := LockInfo{Owner: "otherhost", PID: os.Getpid() + 1, AcquiredMs: time.Now().UnixMilli()}
	data, err := json.Marshal(info)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	lock := NewWriterLock(path, time.Minute)
	err = lock.Release()
	require.Error(t, err)
	assert.True(t, errors.IsLockError(err))
}

func TestWriterLock_ReacquireAfterRelease(t *testing.T) {
	lock := NewWriterLock(filepath.Join(t.TempDir(), "writer.lock"), time.Minute)

	require.NoError(t, lock.Acquire())
	require.NoError(t, lock.Release())
	require.NoError(t, lock.Acquire())
	require.NoError(t, lock.Release())
}

func TestLockInfo_Age(t *testing.T) {
	now := time.Now()
	info := LockInfo{AcquiredMs: now.Add(-90 * time.Second).UnixMilli()}
	assert.InDelta(t, float64(90*time.Second), float64(info.Age(now)), float64(time.Second))
}
