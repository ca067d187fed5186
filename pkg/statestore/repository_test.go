package statestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quantfleet/fleet-orchestrator/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDocument struct {
	Name    string           `json:"name"`
	Counter int              `json:"counter"`
	Entries map[string]int64 `json:"entries,omitempty"`
}

func TestRepository_SaveAndLoad(t *testing.T) {
	repo := NewRepository(filepath.Join(t.TempDir(), "doc.json"))

	saved := testDocument{
		Name:    "fleet",
		Counter: 3,
		Entries: map[string]int64{"alpha": 100, "beta": 200},
	}
	require.NoError(t, repo.Save(saved))

	var loaded testDocument
	require.NoError(t, repo.Load(&loaded))
	assert.Equal(t, saved, loaded)
}

func TestRepository_LoadMissing(t *testing.T) {
	repo := NewRepository(filepath.Join(t.TempDir(), "missing.json"))

	var doc testDocument
	err := repo.Load(&doc)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestRepository_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	var doc testDocument
	err := NewRepository(path).Load(&doc)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestRepository_SaveCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state", "doc.json")
	repo := NewRepository(path)

	require.NoError(t, repo.Save(testDocument{Name: "fleet"}))

	exists, err := repo.Exists()
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRepository_SaveReplacesWhole(t *testing.T) {
	repo := NewRepository(filepath.Join(t.TempDir(), "doc.json"))

	require.NoError(t, repo.Save(testDocument{Name: "first", Counter: 1, Entries: map[string]int64{"alpha": 1}}))
	require.NoError(t, repo.Save(testDocument{Name: "second", Counter: 2}))

	var loaded testDocument
	require.NoError(t, repo.Load(&loaded))
	assert.Equal(t, "second", loaded.Name)
	assert.Equal(t, 2, loaded.Counter)
	assert.Empty(t, loaded.Entries)
}

func TestRepository_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	repo := NewRepository(filepath.Join(dir, "doc.json"))

	require.NoError(t, repo.Save(testDocument{Name: "fleet"}))
	require.NoError(t, repo.Save(testDocument{Name: "fleet"}))

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "doc.json", files[0].Name())
}

func TestRepository_Exists(t *testing.T) {
	repo := NewRepository(filepath.Join(t.TempDir(), "doc.json"))

	exists, err := repo.Exists()
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, repo.Save(testDocument{}))

	exists, err = repo.Exists()
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRepository_SaveDeterministic(t *testing.T) {
	dir := t.TempDir()
	repoA := NewRepository(filepath.Join(dir, "a.json"))
	repoB := NewRepository(filepath.Join(dir, "b.json"))

	doc := testDocument{
		Name:    "fleet",
		Counter: 7,
		Entries: map[string]int64{"zulu": 1, "alpha": 2, "mike": 3},
	}
	require.NoError(t, repoA.Save(doc))
	require.NoError(t, repoB.Save(doc))

	dataA, err := os.ReadFile(repoA.Path())
	require.NoError(t, err)
	dataB, err := os.ReadFile(repoB.Path())
	require.NoError(t, err)
	assert.Equal(t, dataA, dataB)
}
