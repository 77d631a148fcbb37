package syncengine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ondyne/disksync/internal/cloudpath"
)

type fakeWatcher struct {
	events chan fsnotify.Event
	errs   chan error
	mu     sync.Mutex
	added  []string
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{events: make(chan fsnotify.Event, 16), errs: make(chan error, 1)}
}

func (w *fakeWatcher) Add(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.added = append(w.added, name)

	return nil
}
func (w *fakeWatcher) Close() error                  { return nil }
func (w *fakeWatcher) Events() <-chan fsnotify.Event { return w.events }
func (w *fakeWatcher) Errors() <-chan error          { return w.errs }

type fakeSettings struct {
	syncRoot      string
	maxRetries    int
	cloudCheckSec int
	refreshSec    int
}

func (f *fakeSettings) SyncRoot(context.Context) (string, error)           { return f.syncRoot, nil }
func (f *fakeSettings) MaxRetries(context.Context) (int, error)            { return f.maxRetries, nil }
func (f *fakeSettings) CloudCheckIntervalSec(context.Context) (int, error) { return f.cloudCheckSec, nil }
func (f *fakeSettings) RefreshIntervalSec(context.Context) (int, error)    { return f.refreshSec, nil }

type fakeSelection struct {
	mu       sync.Mutex
	selected []cloudpath.Cloud
}

func (f *fakeSelection) Selected(context.Context) ([]cloudpath.Cloud, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]cloudpath.Cloud(nil), f.selected...), nil
}

func (f *fakeSelection) Add(_ context.Context, path cloudpath.Cloud) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = append(f.selected, path)

	return nil
}

func (f *fakeSelection) Remove(_ context.Context, path cloudpath.Cloud) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, p := range f.selected {
		if p == path {
			f.selected = append(f.selected[:i], f.selected[i+1:]...)

			break
		}
	}

	return nil
}

func newTestScheduler(t *testing.T, root string) (*Scheduler, *Service, *fakeWatcher, *fakeSelection) {
	t.Helper()

	index := newTestIndex(t)
	cloud := newFakeCloud()
	svc := NewService(cloud, index, nil, nil)
	settings := &fakeSettings{syncRoot: root, maxRetries: 3, cloudCheckSec: 3600, refreshSec: 3600}
	selection := &fakeSelection{}

	s := NewScheduler(svc, index, settings, selection, nil, nil, "")
	fw := newFakeWatcher()
	s.watcherFactory = func() (FsWatcher, error) { return fw, nil }
	s.debounceDelay = 20 * time.Millisecond

	return s, svc, fw, selection
}

func TestScheduler_WatcherRecordsNewFileThenDebouncesPush(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))

	s, svc, fw, _ := newTestScheduler(t, root)
	sink := &fakeSink{}
	svc.sink = sink

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.watch(ctx, root)
	time.Sleep(20 * time.Millisecond)

	newFile := filepath.Join(root, "docs", "a.txt")
	require.NoError(t, os.WriteFile(newFile, []byte("hi"), 0o644))
	fw.events <- fsnotify.Event{Name: newFile, Op: fsnotify.Create}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, found, err := s.index.Get(context.Background(), root, "docs/a.txt")
		require.NoError(t, err)

		if found {
			break
		}

		time.Sleep(10 * time.Millisecond)
	}

	_, found, err := s.index.Get(context.Background(), root, "docs/a.txt")
	require.NoError(t, err)
	assert.True(t, found)

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()

		return slices.Contains(sink.statuses, StatusSyncing)
	}, 2*time.Second, 10*time.Millisecond, "debounced push pass never started")

	waitForStatus(t, svc, StatusIdle)
}

func TestScheduler_ConnectivityProbeTriggersPushOnReconnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	root := t.TempDir()
	s, svc, _, _ := newTestScheduler(t, root)
	sink := &fakeSink{}
	svc.sink = sink
	s.probeURL = srv.URL
	s.setOnline(false)

	s.probeOnce(context.Background())

	assert.True(t, s.isOnline())

	sink.mu.Lock()
	assert.Contains(t, sink.statuses, StatusSyncing, "reconnect did not start a push pass")
	sink.mu.Unlock()

	waitForStatus(t, svc, StatusIdle)
}

func TestScheduler_ConnectivityProbeStopsSyncOnDisconnect(t *testing.T) {
	root := t.TempDir()
	s, svc, _, _ := newTestScheduler(t, root)
	s.probeURL = "http://127.0.0.1:0/unreachable"
	s.setOnline(true)

	svc.stop.Store(false)
	s.probeOnce(context.Background())

	assert.False(t, s.isOnline())
	assert.True(t, svc.stop.Load())
}

func TestScheduler_OnSelectionRemoveClearsIndexSubtree(t *testing.T) {
	root := t.TempDir()
	s, _, _, _ := newTestScheduler(t, root)
	ctx := context.Background()

	require.NoError(t, s.index.UpsertNew(ctx, root, "Photos/a.jpg", 1, 1, 1))
	require.NoError(t, s.index.UpsertNew(ctx, root, "PhotosBackup/b.jpg", 1, 1, 1))

	require.NoError(t, s.OnSelectionRemove(ctx, root, cloudpath.Cloud("/Photos")))

	_, found, err := s.index.Get(ctx, root, "Photos/a.jpg")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = s.index.Get(ctx, root, "PhotosBackup/b.jpg")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestScheduler_OnPathsCreatedInCloudUnionsIntoSelection(t *testing.T) {
	root := t.TempDir()
	s, _, _, selection := newTestScheduler(t, root)

	s.OnPathsCreatedInCloud(context.Background(), []cloudpath.Cloud{"/NewFolder"})

	sel, err := selection.Selected(context.Background())
	require.NoError(t, err)
	assert.Contains(t, sel, cloudpath.Cloud("/NewFolder"))
}
