// Package launcher provides the outbound "start/stop a worker process"
// capability. The orchestrator core depends only on the Launcher interface;
// the exec-based implementation in this package is the default and can be
// replaced by deployments that launch workers differently.
package launcher

import (
	"context"
	"time"

	"github.com/quantfleet/fleet-orchestrator/pkg/errors"
)

// StartSpec describes how to launch one worker process
type StartSpec struct {
	AccountLabel string   `yaml:"account_label"`
	Command      string   `yaml:"command"`
	Args         []string `yaml:"args,omitempty"`
	WorkDir      string   `yaml:"work_dir,omitempty"`
	Environment  []string `yaml:"environment,omitempty"`
	LogPath      string   `yaml:"log_path,omitempty"`
}

// StopResult reports what a stop attempt actually did. A zero result with
// a nil error means the process was already gone. Callers treat an error
// as "worker state unknown, assume not alive" rather than trusting a stale
// liveness flag.
type StopResult struct {
	Signaled bool // graceful termination signal delivered
	Killed   bool // escalated to a hard kill
}

// Launcher starts and stops worker processes
type Launcher interface {
	// Start launches the worker and returns its PID. The context bounds
	// the launch itself, not the lifetime of the worker.
	Start(ctx context.Context, spec StartSpec) (int, error)

	// Stop terminates the worker process group: graceful signal first,
	// hard kill once the grace timeout expires.
	Stop(ctx context.Context, pid int, graceTimeout time.Duration) (StopResult, error)
}

// ValidateStartSpec validates a worker start specification
func ValidateStartSpec(spec StartSpec) error {
	if spec.AccountLabel == "" {
		return errors.NewValidationError("start spec account label cannot be empty", nil)
	}
	if spec.Command == "" {
		return errors.NewValidationError("start spec command cannot be empty", nil).WithContext("account_label", spec.AccountLabel)
	}
	for _, env := range spec.Environment {
		if !isValidEnvEntry(env) {
			return errors.NewValidationError("start spec environment entries must be KEY=VALUE", nil).
				WithContext("account_label", spec.AccountLabel).
				WithContext("entry", env)
		}
	}
	return nil
}

func isValidEnvEntry(entry string) bool {
	for i, char := range entry {
		if char == '=' {
			return i > 0
		}
	}
	return false
}
