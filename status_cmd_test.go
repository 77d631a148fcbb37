package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ondyne/disksync/internal/config"
	"github.com/ondyne/disksync/internal/syncstate"
)

func withCLIContext(t *testing.T, cfg *config.Config) *cobra.Command {
	t.Helper()

	cmd := &cobra.Command{}
	cc := &CLIContext{Cfg: cfg, Logger: buildLogger(nil)}
	cmd.SetContext(context.WithValue(context.Background(), cliContextKey{}, cc))

	return cmd
}

func TestRunStatus_EmptyIndexReportsZeroes(t *testing.T) {
	dir := t.TempDir()

	// dbPath() resolves under the XDG data dir; point it at a scratch dir so
	// this test never touches the real user's state.
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", filepath.Join(t.TempDir(), "data"))

	cmd := withCLIContext(t, &config.Config{SyncRoot: dir})
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, runStatus(cmd, nil))
	assert.Regexp(t, `TOTAL\s+0`, out.String())
}

func TestRunStatus_NoSyncRootConfigured(t *testing.T) {
	cmd := withCLIContext(t, &config.Config{})

	require.NoError(t, runStatus(cmd, nil))
}

func TestRunStatus_JSONOutput(t *testing.T) {
	old := flagJSON
	t.Cleanup(func() { flagJSON = old })
	flagJSON = true

	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", filepath.Join(t.TempDir(), "data"))

	cmd := withCLIContext(t, &config.Config{SyncRoot: dir})

	require.NoError(t, runStatus(cmd, nil))
}

func TestRunStatus_ReflectsIndexContents(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", dataDir)

	dir := t.TempDir()

	ctx := context.Background()
	index, err := syncstate.Open(ctx, dbPath(), nil)
	require.NoError(t, err)
	require.NoError(t, index.UpsertNew(ctx, dir, "a.txt", 0, 10, 0))
	require.NoError(t, index.Close())

	cmd := withCLIContext(t, &config.Config{SyncRoot: dir})
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, runStatus(cmd, nil))
	assert.Regexp(t, `NEW\s+1`, out.String())
	assert.Regexp(t, `TOTAL\s+1`, out.String())
}
