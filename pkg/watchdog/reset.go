package watchdog

import (
	"github.com/quantfleet/fleet-orchestrator/pkg/errors"
	"github.com/quantfleet/fleet-orchestrator/pkg/statestore"
)

// ResetWorker zeroes the restart control state of one worker, clearing a
// blocked state if present. This is an operator action: it runs under the
// writer lock and rewrites the state document in place.
func ResetWorker(repo *statestore.Repository, lock *statestore.WriterLock, label string) error {
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release()

	doc := NewStateDocument()
	if err := repo.Load(doc); err != nil {
		if errors.IsNotFoundError(err) {
			return errors.NewNotFoundError("no watchdog state recorded", nil).WithContext("account_label", label)
		}
		return err
	}

	record, ok := doc.Lookup(label)
	if !ok {
		return errors.NewNotFoundError("no watchdog record for worker", nil).WithContext("account_label", label)
	}

	record.Reset()
	return repo.Save(doc)
}

// ResetAll zeroes the restart control state of every recorded worker and
// returns how many records were reset
func ResetAll(repo *statestore.Repository, lock *statestore.WriterLock) (int, error) {
	if err := lock.Acquire(); err != nil {
		return 0, err
	}
	defer lock.Release()

	doc := NewStateDocument()
	if err := repo.Load(doc); err != nil {
		if errors.IsNotFoundError(err) {
			return 0, nil
		}
		return 0, err
	}

	for _, record := range doc.Labels {
		record.Reset()
	}
	return len(doc.Labels), repo.Save(doc)
}
