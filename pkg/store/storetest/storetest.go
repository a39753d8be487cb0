// Package storetest provides in-memory stores for tests.
package storetest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/foiacquire/muckrake/pkg/models"
	"github.com/foiacquire/muckrake/pkg/store"
)

// NewProject returns a migrated in-memory project store with an identity
// row named name.
func NewProject(t testing.TB, name string) *store.ProjectStore {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(db) })

	s := store.NewProjectStore(db)
	require.NoError(t, s.AutoMigrate())
	_, err = s.InitMeta(&models.ProjectMeta{ID: "project-" + name, Name: name})
	require.NoError(t, err)
	return s
}

// NewWorkspace returns a migrated in-memory workspace store.
func NewWorkspace(t testing.TB) *store.WorkspaceStore {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(db) })

	s := store.NewWorkspaceStore(db)
	require.NoError(t, s.AutoMigrate())
	return s
}
