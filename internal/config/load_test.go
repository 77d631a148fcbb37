package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"), discardLogger())
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, DefaultCloudCheckIntervalSec, cfg.CloudCheckIntervalSec)
}

func TestLoad_ParsesAndClamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := "sync_root = \"/home/user/CloudSync\"\nmax_retries = 1000\ncloud_check_interval_sec = 1\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "/home/user/CloudSync", cfg.SyncRoot)
	assert.Equal(t, maxMaxRetriesOK, cfg.MaxRetries)
	assert.Equal(t, minIntervalSec, cfg.CloudCheckIntervalSec)
}

func TestClamp_WithinRangeUnchanged(t *testing.T) {
	cfg := &Config{MaxRetries: 5, CloudCheckIntervalSec: 45, RefreshIntervalSec: 90}
	Clamp(cfg)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 45, cfg.CloudCheckIntervalSec)
	assert.Equal(t, 90, cfg.RefreshIntervalSec)
}
