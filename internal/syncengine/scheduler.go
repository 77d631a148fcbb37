package syncengine

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/ondyne/disksync/internal/cloudpath"
	"github.com/ondyne/disksync/internal/syncstate"
)

// FsWatcher abstracts filesystem event monitoring. Satisfied by
// *fsnotify.Watcher; tests inject a mock implementation.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct {
	w *fsnotify.Watcher
}

func (fw *fsnotifyWrapper) Add(name string) error         { return fw.w.Add(name) }
func (fw *fsnotifyWrapper) Close() error                  { return fw.w.Close() }
func (fw *fsnotifyWrapper) Events() <-chan fsnotify.Event { return fw.w.Events }
func (fw *fsnotifyWrapper) Errors() <-chan error          { return fw.w.Errors }

// Scheduler fires "reconcile now" intents into the sync service from
// timers, filesystem events, and connectivity transitions (architecture
// §4.F). All triggers funnel through the service's existing single-run
// gate, so the scheduler itself holds no serialization logic.
type Scheduler struct {
	svc    *Service
	index  *syncstate.Store
	sink   EventSink
	logger *slog.Logger

	settings  SettingsStore
	selection SelectionStore

	watcherFactory func() (FsWatcher, error)
	probeURL       string
	httpClient     *http.Client

	debounceDelay time.Duration
	probeInterval time.Duration

	mu     sync.Mutex
	online bool
}

// debounceDelay, probeInterval, and the first-tick delay on the local
// reconcile timer are fixed per architecture §4.F.
const (
	defaultDebounceDelay   = 2000 * time.Millisecond
	defaultProbeInterval   = 30 * time.Second
	localTimerInitialDelay = 1500 * time.Millisecond
)

// NewScheduler creates a Scheduler. probeURL is GETed on the connectivity
// probe tick; an empty string disables probing (treated as always
// online).
func NewScheduler(svc *Service, index *syncstate.Store, settings SettingsStore, selection SelectionStore, sink EventSink, logger *slog.Logger, probeURL string) *Scheduler {
	if sink == nil {
		sink = discardSink{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		svc:       svc,
		index:     index,
		sink:      sink,
		logger:    logger,
		settings:  settings,
		selection: selection,
		watcherFactory: func() (FsWatcher, error) {
			w, err := fsnotify.NewWatcher()
			if err != nil {
				return nil, err
			}

			return &fsnotifyWrapper{w: w}, nil
		},
		probeURL:      probeURL,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		debounceDelay: defaultDebounceDelay,
		probeInterval: defaultProbeInterval,
		online:        true,
	}
}

// Run starts all timers, the filesystem watcher, and the connectivity
// probe. It blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	refreshSec, err := s.settings.RefreshIntervalSec(ctx)
	if err != nil {
		return err
	}

	cloudCheckSec, err := s.settings.CloudCheckIntervalSec(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.runPullTimer(gctx, time.Duration(refreshSec)*time.Second)
		return nil
	})

	g.Go(func() error {
		s.runLocalReconcileTimer(gctx, time.Duration(cloudCheckSec)*time.Second)
		return nil
	})

	g.Go(func() error {
		s.runConnectivityProbe(gctx)
		return nil
	})

	return g.Wait()
}

// runPullTimer fires a pull pass every interval.
func (s *Scheduler) runPullTimer(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.triggerPull(ctx)
		}
	}
}

// runLocalReconcileTimer starts the filesystem watcher right away, then
// fires a push pass after an initial delay (architecture §4.F) and again
// on every tick of interval, subject to "online" and "not currently
// syncing".
func (s *Scheduler) runLocalReconcileTimer(ctx context.Context, interval time.Duration) {
	syncRoot, err := s.settings.SyncRoot(ctx)
	if err != nil {
		s.logger.Error("resolving sync root for watcher", slog.String("error", err.Error()))

		return
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()

	go s.watch(watchCtx, syncRoot)

	timer := time.NewTimer(localTimerInitialDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	s.triggerPushIfOnline(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.triggerPushIfOnline(ctx)
		}
	}
}

// watch runs the recursive fsnotify loop. Any new file the index does
// not yet know is recorded as NEW; bursts of events are coalesced by a
// single-shot debounce before a push pass fires.
func (s *Scheduler) watch(ctx context.Context, syncRoot string) {
	w, err := s.watcherFactory()
	if err != nil {
		s.logger.Error("creating filesystem watcher", slog.String("error", err.Error()))

		return
	}
	defer w.Close()

	if err := s.addWatchesRecursive(w, syncRoot); err != nil {
		s.logger.Error("adding watches", slog.String("error", err.Error()))

		return
	}

	var debounce *time.Timer
	debounceFired := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}

			return

		case ev, ok := <-w.Events():
			if !ok {
				return
			}

			s.handleFsEvent(ctx, syncRoot, ev)

			if debounce != nil {
				debounce.Stop()
			}

			debounce = time.AfterFunc(s.debounceDelay, func() {
				select {
				case debounceFired <- struct{}{}:
				default:
				}
			})

		case err, ok := <-w.Errors():
			if !ok {
				return
			}

			s.logger.Warn("filesystem watcher error", slog.String("error", err.Error()))

		case <-debounceFired:
			s.triggerPushIfOnline(ctx)
		}
	}
}

// handleFsEvent records newly observed files in the index so the next
// push pass picks them up.
func (s *Scheduler) handleFsEvent(ctx context.Context, syncRoot string, ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	fi, err := os.Lstat(ev.Name)
	if err != nil || fi.IsDir() || fi.Mode()&os.ModeSymlink != 0 {
		return
	}

	rel, ok := cloudpath.ToRelative(ev.Name, syncRoot)
	if !ok {
		return
	}

	_, found, err := s.index.Get(ctx, syncRoot, rel)
	if err != nil {
		s.logger.Error("checking index for watched file", slog.String("error", err.Error()))

		return
	}

	if found {
		return
	}

	now := time.Now().Unix()
	if err := s.index.UpsertNew(ctx, syncRoot, rel, fi.ModTime().Unix(), fi.Size(), now); err != nil {
		s.logger.Error("recording new file from watcher", slog.String("error", err.Error()))
	}
}

// addWatchesRecursive adds a watch on root and every subdirectory.
func (s *Scheduler) addWatchesRecursive(w FsWatcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if addErr := w.Add(path); addErr != nil {
				s.logger.Warn("adding watch", slog.String("path", path), slog.String("error", addErr.Error()))
			}
		}

		return nil
	})
}

// runConnectivityProbe GETs a well-known host every probeInterval,
// triggering a push on offline→online and cancelling any running sync
// on online→offline.
func (s *Scheduler) runConnectivityProbe(ctx context.Context) {
	if s.probeURL == "" {
		return
	}

	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probeOnce(ctx)
		}
	}
}

func (s *Scheduler) probeOnce(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.probeURL, nil)
	if err != nil {
		return
	}

	resp, err := s.httpClient.Do(req)

	wasOnline := s.isOnline()
	nowOnline := err == nil

	if err == nil {
		resp.Body.Close()
	}

	s.setOnline(nowOnline)

	switch {
	case !wasOnline && nowOnline:
		s.triggerPushIfOnline(ctx)
	case wasOnline && !nowOnline:
		s.svc.StopSync()
	}
}

func (s *Scheduler) isOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.online
}

func (s *Scheduler) setOnline(online bool) {
	s.mu.Lock()
	s.online = online
	s.mu.Unlock()
}

// triggerPull starts a pull pass for the full selection.
func (s *Scheduler) triggerPull(ctx context.Context) {
	s.runPassForSelection(ctx, s.svc.StartSync)
}

// triggerPushIfOnline starts a push pass for the full selection, unless
// currently known offline.
func (s *Scheduler) triggerPushIfOnline(ctx context.Context) {
	if !s.isOnline() {
		return
	}

	s.runPassForSelection(ctx, s.svc.StartSyncLocalToCloud)
}

func (s *Scheduler) runPassForSelection(ctx context.Context, start func(context.Context, []cloudpath.Cloud, string, int)) {
	syncRoot, err := s.settings.SyncRoot(ctx)
	if err != nil {
		s.logger.Error("resolving sync root", slog.String("error", err.Error()))

		return
	}

	maxRetries, err := s.settings.MaxRetries(ctx)
	if err != nil {
		s.logger.Error("resolving max retries", slog.String("error", err.Error()))

		return
	}

	selected, err := s.selection.Selected(ctx)
	if err != nil {
		s.logger.Error("resolving selection", slog.String("error", err.Error()))

		return
	}

	start(ctx, selected, syncRoot, maxRetries)
}

// OnSelectionAdd triggers a pull pass scoped to just the newly added
// path (architecture §4.F, "selection change").
func (s *Scheduler) OnSelectionAdd(ctx context.Context, path cloudpath.Cloud) {
	syncRoot, err := s.settings.SyncRoot(ctx)
	if err != nil {
		s.logger.Error("resolving sync root", slog.String("error", err.Error()))

		return
	}

	maxRetries, err := s.settings.MaxRetries(ctx)
	if err != nil {
		s.logger.Error("resolving max retries", slog.String("error", err.Error()))

		return
	}

	s.svc.StartSync(ctx, []cloudpath.Cloud{path}, syncRoot, maxRetries)
}

// OnSelectionRemove removes path's subtree from the index in a single
// transaction. The local files are left untouched (architecture §3,
// invariant 6).
func (s *Scheduler) OnSelectionRemove(ctx context.Context, syncRoot string, path cloudpath.Cloud) error {
	rel := cloudpath.NormalizeRelative(string(path))

	return s.index.RemovePrefix(ctx, syncRoot, rel)
}

// OnPathsCreatedInCloud unions newly auto-created top-level cloud paths
// into the selection and schedules a reload + push (architecture §4.G).
func (s *Scheduler) OnPathsCreatedInCloud(ctx context.Context, paths []cloudpath.Cloud) {
	for _, p := range paths {
		if err := s.selection.Add(ctx, p); err != nil {
			s.logger.Error("adding auto-created path to selection", slog.String("path", string(p)), slog.String("error", err.Error()))
		}
	}

	s.triggerPushIfOnline(ctx)
}
