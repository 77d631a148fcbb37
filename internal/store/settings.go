package store

import (
	"context"
	"sync"

	"github.com/ondyne/disksync/internal/config"
)

// SettingsStore is the default SettingsStore: a thread-safe snapshot of the
// CLI's TOML config, so a future config reload (e.g. on SIGHUP) can swap
// it out from under a running scheduler without synchronization elsewhere.
type SettingsStore struct {
	mu  sync.RWMutex
	cfg *config.Config
}

// NewSettingsStore wraps cfg without copying it; callers must not mutate
// it after passing it in — use Reload instead.
func NewSettingsStore(cfg *config.Config) *SettingsStore {
	return &SettingsStore{cfg: cfg}
}

// Reload atomically swaps in a freshly loaded config.
func (s *SettingsStore) Reload(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *SettingsStore) snapshot() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cfg
}

// SyncRoot returns the configured local sync root.
func (s *SettingsStore) SyncRoot(ctx context.Context) (string, error) {
	return s.snapshot().SyncRoot, nil
}

// MaxRetries returns the configured retry budget.
func (s *SettingsStore) MaxRetries(ctx context.Context) (int, error) {
	return s.snapshot().MaxRetries, nil
}

// CloudCheckIntervalSec returns the configured local-reconcile timer period.
func (s *SettingsStore) CloudCheckIntervalSec(ctx context.Context) (int, error) {
	return s.snapshot().CloudCheckIntervalSec, nil
}

// RefreshIntervalSec returns the configured pull-timer period.
func (s *SettingsStore) RefreshIntervalSec(ctx context.Context) (int, error) {
	return s.snapshot().RefreshIntervalSec, nil
}
