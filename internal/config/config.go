// Package config resolves the CLI's on-disk TOML configuration: the sync
// root, retry budget, and timer intervals consumed by the sync engine
// (architecture §6, "Environment / configuration (consumed)"). It is
// ambient CLI plumbing, not part of the sync engine itself — the engine
// only ever sees the resolved values via internal/store's SettingsStore.
package config

// Config is the on-disk (TOML) representation of the CLI's settings file.
type Config struct {
	SyncRoot              string `toml:"sync_root"`
	MaxRetries            int    `toml:"max_retries"`
	CloudCheckIntervalSec int    `toml:"cloud_check_interval_sec"`
	RefreshIntervalSec    int    `toml:"refresh_interval_sec"`
	BaseURL               string `toml:"base_url"`
	LogLevel              string `toml:"log_level"`
	LogFormat             string `toml:"log_format"`
}
