//go:build windows

package launcher

import (
	"os"
	"os/exec"
	"syscall"
)

// setupProcessAttributes puts the worker in its own process group so that
// console control events can target the worker tree
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// sendTermination sends a Ctrl+Break event to the worker's process group.
// Windows has no SIGTERM; Ctrl+Break is the closest graceful equivalent
// for console processes.
func sendTermination(pid int) error {
	dll, err := syscall.LoadDLL("kernel32.dll")
	if err != nil {
		return err
	}
	defer dll.Release()

	proc, err := dll.FindProc("GenerateConsoleCtrlEvent")
	if err != nil {
		return err
	}

	result, _, callErr := proc.Call(uintptr(syscall.CTRL_BREAK_EVENT), uintptr(pid))
	if result == 0 {
		return callErr
	}
	return nil
}

// sendKill terminates the worker process outright
func sendKill(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return nil // already gone
	}
	err = process.Kill()
	if err != nil && err.Error() == "os: process already finished" {
		return nil
	}
	return err
}
