package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, clamps out-of-range values,
// and returns the resulting Config. Unset keys keep the values from
// DefaultConfig (the decode target is pre-populated, mirroring the
// two-pass decode idiom used for the richer original config format).
func Load(path string, logger *slog.Logger) (*Config, error) {
	logger.Debug("loading config file", "path", path)

	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Debug("no config file found, using defaults", "path", path)
		Clamp(cfg)

		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	Clamp(cfg)

	logger.Debug("config file parsed successfully", "path", path, "sync_root", cfg.SyncRoot)

	return cfg, nil
}
