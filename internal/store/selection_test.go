package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ondyne/disksync/internal/cloudpath"
)

func TestSelectionStore_AddPersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "selection.json")

	s, err := OpenSelectionStore(path)
	require.NoError(t, err)

	require.NoError(t, s.Add(ctx, cloudpath.Cloud("/Photos")))
	require.NoError(t, s.Add(ctx, cloudpath.Cloud("/Documents")))

	_, err = os.Stat(path)
	require.NoError(t, err)

	reopened, err := OpenSelectionStore(path)
	require.NoError(t, err)

	sel, err := reopened.Selected(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []cloudpath.Cloud{"/Photos", "/Documents"}, sel)
}

func TestSelectionStore_RemoveDeselects(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "selection.json")

	s, err := OpenSelectionStore(path)
	require.NoError(t, err)

	require.NoError(t, s.Add(ctx, cloudpath.Cloud("/Photos")))
	require.NoError(t, s.Remove(ctx, cloudpath.Cloud("/Photos")))

	sel, err := s.Selected(ctx)
	require.NoError(t, err)
	assert.Empty(t, sel)
}

func TestOpenSelectionStore_MissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "selection.json")

	s, err := OpenSelectionStore(path)
	require.NoError(t, err)

	sel, err := s.Selected(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sel)
}
