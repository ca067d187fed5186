//go:build !windows

package launcher

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setupProcessAttributes puts the worker in its own process group so that
// stop signals sent to -pid reach the worker and all of its children
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// sendTermination sends SIGTERM to the worker's process group. Workers
// launched before a daemon restart may not be group leaders anymore, so a
// failed group signal falls back to the single process.
func sendTermination(pid int) error {
	if err := unix.Kill(-pid, unix.SIGTERM); err == nil || err == unix.ESRCH {
		return nil
	}
	err := unix.Kill(pid, unix.SIGTERM)
	if err == unix.ESRCH {
		return nil
	}
	return err
}

// sendKill sends SIGKILL to the worker's process group
func sendKill(pid int) error {
	if err := unix.Kill(-pid, unix.SIGKILL); err == nil || err == unix.ESRCH {
		return nil
	}
	err := unix.Kill(pid, unix.SIGKILL)
	if err == unix.ESRCH {
		return nil
	}
	return err
}
