// Package store is the default, JSON-backed implementation of the sync
// engine's SelectionStore and SettingsStore interfaces (architecture §4.G).
// Selection writes go through a small atomic temp-file-then-rename mirror,
// the same idiom internal/tokenfile uses for token persistence.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/ondyne/disksync/internal/cloudpath"
)

// selectionFile is the on-disk JSON mirror of the selected cloud paths.
type selectionFile struct {
	Paths []string `json:"paths"`
}

// SelectionStore is the default SelectionStore: an in-memory set backed by
// a JSON file at path. Every Add/Remove call rewrites the file before
// returning, so an external reader (e.g. a UI) always sees a consistent
// snapshot (architecture §4.G, "every write... is followed by rewriting a
// JSON mirror").
type SelectionStore struct {
	path string

	mu       sync.Mutex
	selected map[cloudpath.Cloud]bool
}

// OpenSelectionStore loads path if it exists, or starts with an empty
// selection if it does not.
func OpenSelectionStore(path string) (*SelectionStore, error) {
	s := &SelectionStore{path: path, selected: make(map[cloudpath.Cloud]bool)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}

	if err != nil {
		return nil, fmt.Errorf("store: reading selection file %s: %w", path, err)
	}

	var sf selectionFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("store: decoding selection file %s: %w", path, err)
	}

	for _, p := range sf.Paths {
		s.selected[cloudpath.NormalizeCloud(p)] = true
	}

	return s, nil
}

// Selected returns a snapshot of the currently selected cloud paths.
func (s *SelectionStore) Selected(ctx context.Context) ([]cloudpath.Cloud, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]cloudpath.Cloud, 0, len(s.selected))
	for p := range s.selected {
		out = append(out, p)
	}

	return out, nil
}

// Add selects path, persisting the change to the JSON mirror. A no-op
// (but still an unconditional rewrite) if path is already selected.
func (s *SelectionStore) Add(ctx context.Context, path cloudpath.Cloud) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.selected[cloudpath.NormalizeCloud(string(path))] = true

	return s.rewriteLocked()
}

// Remove deselects path, persisting the change to the JSON mirror. Note:
// this only affects selection bookkeeping — removing the index subtree is
// the caller's responsibility (architecture §3, invariant 6; see
// syncengine.Scheduler.OnSelectionRemove).
func (s *SelectionStore) Remove(ctx context.Context, path cloudpath.Cloud) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.selected, cloudpath.NormalizeCloud(string(path)))

	return s.rewriteLocked()
}

// rewriteLocked writes the current selection to s.path atomically
// (temp file in the same directory, then rename).
func (s *SelectionStore) rewriteLocked() error {
	sf := selectionFile{Paths: make([]string, 0, len(s.selected))}
	for p := range s.selected {
		sf.Paths = append(sf.Paths, string(p))
	}

	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encoding selection: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".selection-*.tmp")
	if err != nil {
		return fmt.Errorf("store: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()

		return fmt.Errorf("store: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()

		return fmt.Errorf("store: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: closing: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("store: renaming: %w", err)
	}

	success = true

	return nil
}
