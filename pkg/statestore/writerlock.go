package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quantfleet/fleet-orchestrator/pkg/errors"
)

// DefaultLockTTL is the age past which an unreleased lock file is
// considered abandoned by a dead writer and may be reclaimed.
const DefaultLockTTL = 60 * time.Second

// LockInfo identifies the current lock holder
type LockInfo struct {
	Owner      string `json:"owner"`
	PID        int    `json:"pid"`
	AcquiredMs int64  `json:"acquired_ts_ms"`
}

// Age returns how long the lock has been held as of now
func (i LockInfo) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(i.AcquiredMs))
}

// WriterLock is a TTL-based host-local lock file. It serializes writers of
// the shared state documents across processes (daemon tick loops and the
// operator CLI). A holder that dies without releasing leaves a lock file
// behind; once the file is older than the TTL the next acquirer reclaims
// it. Acquire does not block: contention is an error and the caller's tick
// simply retries later.
type WriterLock struct {
	path          string
	ttl           time.Duration
	nowFunc       func() time.Time
	beforeReclaim func() // test seam for the staleness-check-to-rename window
}

// NewWriterLock creates a writer lock at path. A ttl of zero means
// DefaultLockTTL.
func NewWriterLock(path string, ttl time.Duration) *WriterLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &WriterLock{
		path:    path,
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// Acquire takes the lock or fails with a lock error. A stale lock file is
// reclaimed first; the reclaim itself is a remove-then-create, which is
// safe for the host-local single-writer deployments this store targets.
func (l *WriterLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return errors.NewIOError("failed to create lock directory", err).WithContext("path", l.path)
	}

	err := l.tryCreate()
	if err == nil {
		return nil
	}
	if !os.IsExist(err) {
		return errors.NewIOError("failed to create lock file", err).WithContext("path", l.path)
	}

	holder, age, readErr := l.readHolder()
	if readErr != nil {
		return readErr
	}

	if age <= l.ttl {
		return errors.NewLockError("writer lock is held", nil).
			WithContext("path", l.path).
			WithContext("owner", holder.Owner).
			WithContext("holder_pid", holder.PID).
			WithContext("age", age.String())
	}

	// Reclaim by sliding the stale file aside under a per-process name,
	// then inspecting what was actually caught. The rename serializes
	// contenders racing on the same stale file, and the inspection covers
	// the wider window where another contender already reclaimed and
	// re-acquired: a fresh lock caught by mistake is put back untouched.
	if l.beforeReclaim != nil {
		l.beforeReclaim()
	}
	stalePath := fmt.Sprintf("%s.stale-%d", l.path, os.Getpid())
	if err := os.Rename(l.path, stalePath); err != nil {
		if os.IsNotExist(err) {
			return errors.NewLockError("stale writer lock reclaimed by another writer", nil).WithContext("path", l.path)
		}
		return errors.NewIOError("failed to reclaim stale lock file", err).WithContext("path", l.path)
	}

	var slid LockInfo
	if data, readErr := os.ReadFile(stalePath); readErr == nil {
		if json.Unmarshal(data, &slid) == nil && slid.AcquiredMs != 0 && slid.Age(l.nowFunc()) <= l.ttl {
			if err := os.Rename(stalePath, l.path); err != nil {
				return errors.NewIOError("failed to restore writer lock caught during reclaim", err).WithContext("path", l.path)
			}
			return errors.NewLockError("writer lock reacquired by another writer during reclaim", nil).
				WithContext("path", l.path).
				WithContext("owner", slid.Owner).
				WithContext("holder_pid", slid.PID)
		}
	}
	if err := os.Remove(stalePath); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove reclaimed lock file", err).WithContext("path", stalePath)
	}

	err = l.tryCreate()
	if err == nil {
		return nil
	}
	if os.IsExist(err) {
		return errors.NewLockError("writer lock reacquired by another writer during reclaim", nil).WithContext("path", l.path)
	}
	return errors.NewIOError("failed to create lock file", err).WithContext("path", l.path)
}

// Release removes the lock file. Releasing a lock this process does not
// hold is a lock error; releasing an already-released lock is a no-op.
func (l *WriterLock) Release() error {
	holder, _, err := l.readHolder()
	if err != nil {
		if errors.IsNotFoundError(err) {
			return nil
		}
		return err
	}

	if holder.PID != os.Getpid() {
		return errors.NewLockError("writer lock is held by another process", nil).
			WithContext("path", l.path).
			WithContext("owner", holder.Owner).
			WithContext("holder_pid", holder.PID)
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove lock file", err).WithContext("path", l.path)
	}
	return nil
}

// Holder returns the current lock holder, or a not_found error when the
// lock is free.
func (l *WriterLock) Holder() (LockInfo, error) {
	holder, _, err := l.readHolder()
	return holder, err
}

func (l *WriterLock) tryCreate() error {
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	hostname, _ := os.Hostname()
	info := LockInfo{
		Owner:      hostname,
		PID:        os.Getpid(),
		AcquiredMs: l.nowFunc().UnixMilli(),
	}
	data, marshalErr := json.Marshal(info)
	if marshalErr == nil {
		_, marshalErr = file.Write(data)
	}
	closeErr := file.Close()

	if marshalErr != nil || closeErr != nil {
		os.Remove(l.path)
		if marshalErr != nil {
			return marshalErr
		}
		return closeErr
	}
	return nil
}

// readHolder reads the lock file and computes the holder's age. A lock
// file with unreadable contents falls back to the file mtime, so a corrupt
// lock still ages out instead of wedging the writer forever.
func (l *WriterLock) readHolder() (LockInfo, time.Duration, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return LockInfo{}, 0, errors.NewNotFoundError("writer lock is not held", err).WithContext("path", l.path)
		}
		return LockInfo{}, 0, errors.NewIOError("failed to read lock file", err).WithContext("path", l.path)
	}

	now := l.nowFunc()

	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil || info.AcquiredMs == 0 {
		stat, statErr := os.Stat(l.path)
		if statErr != nil {
			if os.IsNotExist(statErr) {
				return LockInfo{}, 0, errors.NewNotFoundError("writer lock is not held", statErr).WithContext("path", l.path)
			}
			return LockInfo{}, 0, errors.NewIOError("failed to stat lock file", statErr).WithContext("path", l.path)
		}
		info = LockInfo{Owner: "unknown", AcquiredMs: stat.ModTime().UnixMilli()}
	}

	return info, info.Age(now), nil
}
