// Package statestore persists the orchestrator's shared state documents:
// the watchdog state map and the fleet snapshot. Documents are read and
// replaced whole; replacement goes through a temp file and an atomic rename
// so readers never observe a partial write. Cross-process mutual exclusion
// is the WriterLock's job, not the Repository's.
package statestore

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/quantfleet/fleet-orchestrator/pkg/errors"
)

// Repository reads and writes a single JSON document at a fixed path
type Repository struct {
	path string
}

// NewRepository creates a repository for the document at path
func NewRepository(path string) *Repository {
	return &Repository{path: path}
}

// Path returns the document path
func (r *Repository) Path() string {
	return r.path
}

// Exists reports whether the document exists on disk
func (r *Repository) Exists() (bool, error) {
	_, err := os.Stat(r.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.NewIOError("failed to stat document", err).WithContext("path", r.path)
}

// Load decodes the document into v. Returns a not_found error when the
// document does not exist yet.
func (r *Repository) Load(v interface{}) error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NewNotFoundError("document does not exist", err).WithContext("path", r.path)
		}
		return errors.NewIOError("failed to read document", err).WithContext("path", r.path)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return errors.NewValidationError("failed to parse document JSON", err).WithContext("path", r.path)
	}

	return nil
}

// Save replaces the document with the JSON encoding of v. The write goes
// to a temp file in the same directory followed by a rename, so concurrent
// readers see either the old document or the new one, never a torn write.
func (r *Repository) Save(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.NewInternalError("failed to marshal document", err).WithContext("path", r.path)
	}
	data = append(data, '\n')

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewIOError("failed to create document directory", err).WithContext("dir", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".tmp-*")
	if err != nil {
		return errors.NewIOError("failed to create temp file", err).WithContext("dir", dir)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.NewIOError("failed to write temp file", err).WithContext("path", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.NewIOError("failed to close temp file", err).WithContext("path", tmpPath)
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return errors.NewIOError("failed to replace document", err).WithContext("path", r.path)
	}

	return nil
}
