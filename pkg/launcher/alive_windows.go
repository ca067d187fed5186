//go:build windows

package launcher

import (
	"syscall"

	"github.com/quantfleet/fleet-orchestrator/pkg/errors"
)

const (
	stillActive                    = 259
	processQueryLimitedInformation = 0x1000
)

// IsAlive probes whether a process with the given PID exists
func IsAlive(pid int) (bool, error) {
	if pid <= 0 {
		return false, errors.NewValidationError("pid must be positive", nil).WithContext("pid", pid)
	}

	handle, err := syscall.OpenProcess(processQueryLimitedInformation, false, uint32(pid))
	if err != nil {
		return false, nil // no such process or no access
	}
	defer syscall.CloseHandle(handle)

	var exitCode uint32
	if err := syscall.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false, errors.NewProcessError("liveness probe failed", err).WithContext("pid", pid)
	}

	return exitCode == stillActive, nil
}
