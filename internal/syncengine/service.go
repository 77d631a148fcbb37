package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ondyne/disksync/internal/cloudpath"
	"github.com/ondyne/disksync/internal/syncstate"
)

// Service is the single-run sync gate (architecture §4.E): at most one
// pull or push pass runs at a time; a second start call while syncing is
// silently dropped, never queued.
type Service struct {
	adapter CloudAdapter
	index   *syncstate.Store
	sink    EventSink
	logger  *slog.Logger

	mu      sync.Mutex
	status  SyncStatus
	running atomic.Bool
	stop    atomic.Bool
}

// NewService creates a Service. sink may be nil.
func NewService(adapter CloudAdapter, index *syncstate.Store, sink EventSink, logger *slog.Logger) *Service {
	if sink == nil {
		sink = discardSink{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Service{adapter: adapter, index: index, sink: sink, logger: logger, status: StatusIdle}
}

// Status returns the current published status.
func (s *Service) Status() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

func (s *Service) setStatus(status SyncStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()

	s.sink.StatusChanged(status)
}

// probeToken issues a lightweight root listing before a pass begins, so an
// expired token is reported and the pass aborted before any file-level work
// starts, rather than surfacing on whatever the first folder happens to be.
func (s *Service) probeToken(ctx context.Context) error {
	_, err := s.adapter.ListChildren(ctx, cloudpath.Cloud("/"))
	if err != nil && isUnauthorized(err) {
		s.sink.TokenExpired()
	}

	return err
}

// StartSync runs a cloud→local pass in the background. No-op if a pass
// is already running.
func (s *Service) StartSync(ctx context.Context, selection []cloudpath.Cloud, syncRoot string, maxRetries int) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}

	s.stop.Store(false)
	s.setStatus(StatusSyncing)

	go func() {
		defer s.running.Store(false)

		if err := s.probeToken(ctx); err != nil {
			s.logger.Error("pre-pass probe failed", slog.String("error", err.Error()))
			s.sink.SyncError(err.Error())
			s.setStatus(StatusError)

			return
		}

		r := NewReconciler(s.adapter, s.index, s.sink, s.logger, maxRetries, s.stop.Load)

		_, err := r.Pull(ctx, syncRoot, selection)
		if err != nil {
			s.logger.Error("pull pass failed", slog.String("error", err.Error()))
			s.sink.SyncError(err.Error())
			s.setStatus(StatusError)

			return
		}

		s.setStatus(StatusIdle)
	}()
}

// StartSyncLocalToCloud runs a local→cloud pass in the background. On
// success it automatically chains into a pull pass, unless the push
// emitted PathsCreatedInCloud (architecture §4.E).
func (s *Service) StartSyncLocalToCloud(ctx context.Context, selection []cloudpath.Cloud, syncRoot string, maxRetries int) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}

	s.stop.Store(false)
	s.setStatus(StatusSyncing)

	go func() {
		defer s.running.Store(false)

		if err := s.probeToken(ctx); err != nil {
			s.logger.Error("pre-pass probe failed", slog.String("error", err.Error()))
			s.sink.SyncError(err.Error())
			s.setStatus(StatusError)

			return
		}

		r := NewReconciler(s.adapter, s.index, s.sink, s.logger, maxRetries, s.stop.Load)

		result, err := r.Push(ctx, syncRoot, selection)
		if err != nil {
			s.logger.Error("push pass failed", slog.String("error", err.Error()))
			s.sink.SyncError(err.Error())
			s.setStatus(StatusError)

			return
		}

		if len(result.CreatedTopLevels) > 0 {
			s.setStatus(StatusIdle)

			return
		}

		if _, err := r.Pull(ctx, syncRoot, selection); err != nil {
			s.logger.Error("chained pull pass failed", slog.String("error", err.Error()))
			s.sink.SyncError(err.Error())
			s.setStatus(StatusError)

			return
		}

		s.setStatus(StatusIdle)
	}()
}

// StopSync requests the running pass stop at its next iteration
// boundary. In-flight HTTP requests are allowed to complete.
func (s *Service) StopSync() {
	s.stop.Store(true)
}

// LoadIndexState reads a one-shot summary of the index for syncRoot and
// emits it via the event sink.
func (s *Service) LoadIndexState(ctx context.Context, syncRoot string) error {
	sum, err := s.index.Summary(ctx, syncRoot)
	if err != nil {
		return fmt.Errorf("syncengine: loading index state: %w", err)
	}

	state := IndexState{
		TotalEntries: sum.Total,
		New:          sum.New,
		Synced:       sum.Synced,
		Uploading:    sum.Uploading,
		Downloading:  sum.Downloading,
		Failed:       sum.Failed,
	}

	s.sink.IndexStateLoaded(state)

	return nil
}
