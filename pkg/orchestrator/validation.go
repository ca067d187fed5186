package orchestrator

import (
	"fmt"
	"time"

	"github.com/quantfleet/fleet-orchestrator/pkg/errors"
	"github.com/quantfleet/fleet-orchestrator/pkg/launcher"
	"github.com/quantfleet/fleet-orchestrator/pkg/manifest"
)

func validateOptions(options *Options) error {
	if options.ManifestPath == "" {
		return errors.NewValidationError("manifest path cannot be empty", nil)
	}
	if options.RuntimeDir == "" {
		return errors.NewValidationError("runtime directory cannot be empty", nil)
	}
	if options.StateDir == "" {
		return errors.NewValidationError("state directory cannot be empty", nil)
	}

	if err := validateInterval("reconcile", options.ReconcileInterval, MinReconcileInterval, MaxReconcileInterval); err != nil {
		return err
	}
	if options.WatchdogInterval <= 0 {
		return errors.NewValidationError("watchdog interval must be positive", nil).
			WithContext("interval", options.WatchdogInterval.String())
	}
	if options.LockTTL < 0 {
		return errors.NewValidationError("lock TTL cannot be negative", nil).
			WithContext("lock_ttl", options.LockTTL.String())
	}

	return nil
}

func validateInterval(name string, interval, min, max time.Duration) error {
	if interval < min || interval > max {
		return errors.NewValidationError(
			fmt.Sprintf("%s interval must be between %s and %s", name, min, max), nil).
			WithContext("interval", interval.String())
	}
	return nil
}

// validateWorkerSpecs checks every configured worker launch spec and
// collects all problems rather than stopping at the first one
func validateWorkerSpecs(specs []launcher.StartSpec) error {
	collection := errors.NewErrorCollection()
	seen := make(map[string]bool, len(specs))

	for i, spec := range specs {
		if err := launcher.ValidateStartSpec(spec); err != nil {
			collection.Add(errors.NewValidationError(
				fmt.Sprintf("invalid worker spec at index %d", i), err))
			continue
		}
		if err := manifest.ValidateAccountLabel(spec.AccountLabel); err != nil {
			collection.Add(errors.NewValidationError(
				fmt.Sprintf("invalid worker label at index %d", i), err))
			continue
		}
		if seen[spec.AccountLabel] {
			collection.Add(errors.NewValidationError(
				"duplicate worker spec", nil).WithContext("account_label", spec.AccountLabel))
			continue
		}
		seen[spec.AccountLabel] = true
	}

	return collection.ToError()
}
