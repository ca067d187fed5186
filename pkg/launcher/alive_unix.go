//go:build !windows

package launcher

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/quantfleet/fleet-orchestrator/pkg/errors"
)

// IsAlive probes whether a process with the given PID exists. The probe is
// signal 0: it never blocks and never touches the target process. EPERM
// means the process exists but belongs to another user, which still counts
// as alive.
func IsAlive(pid int) (bool, error) {
	if pid <= 0 {
		return false, errors.NewValidationError("pid must be positive", nil).WithContext("pid", pid)
	}

	err := unix.Kill(pid, 0)
	if err == nil {
		return true, nil
	}
	switch err {
	case unix.ESRCH:
		return false, nil
	case unix.EPERM:
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.NewProcessError("liveness probe failed", err).WithContext("pid", pid)
}
