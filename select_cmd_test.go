package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ondyne/disksync/internal/cloudpath"
	"github.com/ondyne/disksync/internal/config"
	"github.com/ondyne/disksync/internal/store"
	"github.com/ondyne/disksync/internal/syncstate"
)

func TestRunSelectAddAndList(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", filepath.Join(t.TempDir(), "data"))

	cmd := withCLIContext(t, &config.Config{})

	require.NoError(t, runSelectAdd(cmd, []string{"/Photos"}))

	sel, err := store.OpenSelectionStore(selectionPath())
	require.NoError(t, err)

	selected, err := sel.Selected(context.Background())
	require.NoError(t, err)
	assert.Contains(t, selected, cloudpath.NormalizeCloud("/Photos"))
}

func TestRunSelectRemove_ClearsIndexSubtree(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", filepath.Join(t.TempDir(), "data"))

	dir := t.TempDir()
	cmd := withCLIContext(t, &config.Config{SyncRoot: dir})

	require.NoError(t, runSelectAdd(cmd, []string{"/Photos"}))

	ctx := context.Background()
	index, err := syncstate.Open(ctx, dbPath(), nil)
	require.NoError(t, err)
	require.NoError(t, index.UpsertNew(ctx, dir, "Photos/a.jpg", 0, 1, 0))
	require.NoError(t, index.Close())

	require.NoError(t, runSelectRemove(cmd, []string{"/Photos"}))

	index, err = syncstate.Open(ctx, dbPath(), nil)
	require.NoError(t, err)
	defer index.Close()

	_, found, err := index.Get(ctx, dir, "Photos/a.jpg")
	require.NoError(t, err)
	assert.False(t, found)
}
