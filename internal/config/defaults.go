package config

// Default values for configuration options, per architecture §6:
// max_retries (1...100, default 3), cloud_check_interval_sec (5...3600,
// default 30), refresh_interval_sec (5...3600, default 60).
const (
	DefaultMaxRetries            = 3
	DefaultCloudCheckIntervalSec = 30
	DefaultRefreshIntervalSec    = 60
	DefaultBaseURL               = "https://cloud-api.yandex.net/v1/disk"
	DefaultLogLevel              = "info"
	DefaultLogFormat             = "auto"
)

// DefaultConfig returns a Config populated with all default values. Used
// both as the decode target (so unset TOML keys retain defaults) and as
// the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:            DefaultMaxRetries,
		CloudCheckIntervalSec: DefaultCloudCheckIntervalSec,
		RefreshIntervalSec:    DefaultRefreshIntervalSec,
		BaseURL:               DefaultBaseURL,
		LogLevel:              DefaultLogLevel,
		LogFormat:             DefaultLogFormat,
	}
}
