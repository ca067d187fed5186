package launcher

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/quantfleet/fleet-orchestrator/pkg/errors"
	"github.com/quantfleet/fleet-orchestrator/pkg/logging"
)

const aliveProbeInterval = 100 * time.Millisecond

// execLauncher launches workers as OS processes in their own process
// group, so stop signals reach the whole worker tree
type execLauncher struct {
	logger logging.Logger
}

// NewExecLauncher creates the default exec-based launcher
func NewExecLauncher(logger logging.Logger) Launcher {
	return &execLauncher{logger: logger}
}

func (l *execLauncher) Start(ctx context.Context, spec StartSpec) (int, error) {
	if ctx == nil {
		return 0, errors.NewValidationError("context cannot be nil", nil).WithContext("account_label", spec.AccountLabel)
	}
	if err := ctx.Err(); err != nil {
		return 0, errors.NewCancelledError("start cancelled before launch", err).WithContext("account_label", spec.AccountLabel)
	}
	if err := ValidateStartSpec(spec); err != nil {
		return 0, err
	}

	workDir := spec.WorkDir
	if workDir == "" {
		absPath, err := filepath.Abs(spec.Command)
		if err != nil {
			return 0, errors.NewIOError("failed to resolve command path", err).WithContext("account_label", spec.AccountLabel)
		}
		workDir = filepath.Dir(absPath)
	}

	env := os.Environ()
	env = append(env, spec.Environment...)

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = workDir
	cmd.Env = env

	// Workers outlive the tick that launched them, so the command is not
	// bound to ctx.
	setupProcessAttributes(cmd)

	var logFile *os.File
	if spec.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(spec.LogPath), 0755); err != nil {
			return 0, errors.NewIOError("failed to create worker log directory", err).WithContext("account_label", spec.AccountLabel)
		}
		file, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return 0, errors.NewIOError("failed to open worker log file", err).
				WithContext("account_label", spec.AccountLabel).
				WithContext("log_path", spec.LogPath)
		}
		logFile = file
		cmd.Stdout = file
		cmd.Stderr = file
	}

	l.logger.Debugf("Launching worker, account: %s, command: %s, args: %v, work dir: %s",
		spec.AccountLabel, spec.Command, spec.Args, workDir)

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return 0, errors.NewProcessError("failed to start worker process", err).
			WithContext("account_label", spec.AccountLabel).
			WithContext("command", spec.Command)
	}

	if logFile != nil {
		// The child holds its own descriptor now.
		logFile.Close()
	}

	pid := cmd.Process.Pid
	l.logger.Infof("Worker launched, account: %s, pid: %d", spec.AccountLabel, pid)

	// Reap the child when it exits so liveness probes see a dead worker
	// instead of a zombie.
	go func() {
		err := cmd.Wait()
		if err != nil {
			l.logger.Infof("Worker exited, account: %s, pid: %d, result: %v", spec.AccountLabel, pid, err)
			return
		}
		l.logger.Infof("Worker exited cleanly, account: %s, pid: %d", spec.AccountLabel, pid)
	}()

	return pid, nil
}

func (l *execLauncher) Stop(ctx context.Context, pid int, graceTimeout time.Duration) (StopResult, error) {
	result := StopResult{}

	if ctx == nil {
		return result, errors.NewValidationError("context cannot be nil", nil).WithContext("pid", pid)
	}
	if pid <= 0 {
		return result, errors.NewValidationError("pid must be positive", nil).WithContext("pid", pid)
	}

	alive, err := IsAlive(pid)
	if err != nil {
		return result, errors.NewProcessError("failed to probe worker before stop", err).WithContext("pid", pid)
	}
	if !alive {
		return result, nil
	}

	l.logger.Infof("Stopping worker, pid: %d, grace timeout: %v", pid, graceTimeout)

	if err := sendTermination(pid); err != nil {
		return result, errors.NewProcessError("failed to signal worker", err).WithContext("pid", pid)
	}
	result.Signaled = true

	if l.waitGone(ctx, pid, graceTimeout) {
		l.logger.Infof("Worker stopped gracefully, pid: %d", pid)
		return result, nil
	}

	l.logger.Warnf("Worker did not stop within grace timeout, escalating to kill, pid: %d", pid)
	if err := sendKill(pid); err != nil {
		return result, errors.NewProcessError("failed to kill worker", err).WithContext("pid", pid)
	}
	result.Killed = true

	if !l.waitGone(ctx, pid, graceTimeout) {
		return result, errors.NewProcessError("worker survived kill", nil).WithContext("pid", pid)
	}

	l.logger.Infof("Worker killed, pid: %d", pid)
	return result, nil
}

// waitGone polls liveness until the process disappears, the timeout
// expires, or the context is cancelled
func (l *execLauncher) waitGone(ctx context.Context, pid int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	ticker := time.NewTicker(aliveProbeInterval)
	defer ticker.Stop()

	for {
		alive, err := IsAlive(pid)
		if err != nil || !alive {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline:
			return false
		case <-ticker.C:
		}
	}
}
