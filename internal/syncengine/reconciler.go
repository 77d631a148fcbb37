package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ondyne/disksync/internal/cloudpath"
	"github.com/ondyne/disksync/internal/syncstate"
	"github.com/ondyne/disksync/internal/yandex"
)

// flushInterval is how many index writes accumulate before the
// reconciler commits and reopens a transaction, bounding the crash
// window during a long folder walk (architecture §4.C).
const flushInterval = 50

// Reconciler runs one pull or push pass over a set of selected cloud
// paths (architecture §4.D). It is stateless across passes except for
// the index and adapter it is given; create a new one per pass or reuse
// across passes freely — Pull and Push hold no pass-local state on the
// receiver.
type Reconciler struct {
	adapter    CloudAdapter
	index      *syncstate.Store
	sink       EventSink
	logger     *slog.Logger
	maxRetries int

	// now is injectable for deterministic tests.
	now func() time.Time
	// stopped is polled between files and folders.
	stopped func() bool
}

// NewReconciler creates a Reconciler. sink may be nil (events are
// discarded). stopped is polled between iteration boundaries; pass a
// func that always returns false if the pass should never be cancelled.
func NewReconciler(adapter CloudAdapter, index *syncstate.Store, sink EventSink, logger *slog.Logger, maxRetries int, stopped func() bool) *Reconciler {
	if sink == nil {
		sink = discardSink{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	if stopped == nil {
		stopped = func() bool { return false }
	}

	return &Reconciler{
		adapter:    adapter,
		index:      index,
		sink:       sink,
		logger:     logger,
		maxRetries: maxRetries,
		now:        time.Now,
		stopped:    stopped,
	}
}

// PullResult reports what happened during a pull pass.
type PullResult struct {
	BytesTransferred int64
	Elapsed          time.Duration
}

// Pull runs the cloud→local pass for every selected path (architecture
// §4.D.1).
func (r *Reconciler) Pull(ctx context.Context, syncRoot string, selected []cloudpath.Cloud) (PullResult, error) {
	start := r.now()

	tx, err := r.index.Begin(ctx)
	if err != nil {
		return PullResult{}, fmt.Errorf("syncengine: pull: %w", err)
	}

	writes := 0
	result := PullResult{}

	for _, cp := range selected {
		if r.stopped() {
			break
		}

		if err := r.pullFolder(ctx, syncRoot, cp, &writes, &tx, &result); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Error("rollback after pull failure", slog.String("error", rbErr.Error()))
			}

			return result, err
		}
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("syncengine: pull: final commit: %w", err)
	}

	result.Elapsed = r.now().Sub(start)

	return result, nil
}

// pullFolder recursively mirrors one selected cloud subtree to the local
// filesystem.
func (r *Reconciler) pullFolder(ctx context.Context, syncRoot string, cp cloudpath.Cloud, writes *int, tx **syncstate.Tx, result *PullResult) error {
	children, err := r.adapter.ListChildren(ctx, cp)
	if err != nil {
		if isUnauthorized(err) {
			r.sink.TokenExpired()
		}

		return fmt.Errorf("syncengine: listing %s: %w", cp, err)
	}

	localDir := filepath.Join(syncRoot, filepath.FromSlash(string(cp)))
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return fmt.Errorf("syncengine: creating local directory %s: %w", localDir, err)
	}

	for _, child := range children {
		if r.stopped() {
			return nil
		}

		if child.IsDir() {
			if _, err := r.adapter.CreateFolder(ctx, child.Path); err != nil {
				r.sink.SyncError(fmt.Sprintf("creating remote folder %s: %v", child.Path, err))

				continue
			}

			if err := r.pullFolder(ctx, syncRoot, child.Path, writes, tx, result); err != nil {
				return err
			}

			continue
		}

		r.pullFile(ctx, syncRoot, child, writes, *tx, result)

		if *writes >= flushInterval {
			if err := (*tx).Commit(); err != nil {
				return fmt.Errorf("syncengine: periodic commit: %w", err)
			}

			newTx, err := r.index.Begin(ctx)
			if err != nil {
				return fmt.Errorf("syncengine: reopening transaction: %w", err)
			}

			*tx = newTx
			*writes = 0
		}
	}

	return nil
}

// pullFile downloads one cloud file if needed, per the need_download
// rules in architecture §4.D.1. Failures are isolated: logged, the index
// entry's retry count is bumped, and the walk continues. All index reads
// and writes go through tx, the transaction the enclosing Pull pass has
// open — never through r.index directly, which would contend with tx for
// the store's single pooled connection and deadlock.
func (r *Reconciler) pullFile(ctx context.Context, syncRoot string, node yandex.Node, writes *int, tx *syncstate.Tx, result *PullResult) {
	rel := cloudpath.NormalizeRelative(string(node.Path))
	localPath := filepath.Join(syncRoot, filepath.FromSlash(rel))

	entry, found, err := tx.Get(ctx, syncRoot, rel)
	if err != nil {
		r.sink.SyncError(fmt.Sprintf("reading index for %s: %v", rel, err))

		return
	}

	needDownload := r.needDownload(localPath, node, entry, found)

	if !needDownload {
		if fi, statErr := os.Stat(localPath); statErr == nil {
			r.refreshSyncedEntry(ctx, syncRoot, rel, fi, tx, writes)
		}

		return
	}

	now := r.now().Unix()

	if !found {
		if err := tx.UpsertNew(ctx, syncRoot, rel, now, node.Size, now); err != nil {
			r.sink.SyncError(fmt.Sprintf("creating index entry for %s: %v", rel, err))
		}
	}

	if err := tx.SetStatus(ctx, syncRoot, rel, syncstate.StatusDownloading, 0, now); err != nil {
		r.sink.SyncError(fmt.Sprintf("marking %s downloading: %v", rel, err))
	}
	*writes++

	n, err := r.adapter.Download(ctx, node.Path, localPath)
	if err != nil {
		r.handleTransferFailure(ctx, syncRoot, rel, tx, entry.Retries, err, "downloading")
		*writes++

		return
	}

	result.BytesTransferred += n
	if n > 0 {
		r.sink.SyncThroughput(n)
	}

	if fi, statErr := os.Stat(localPath); statErr == nil {
		if err := tx.Set(ctx, syncstate.Entry{
			SyncRoot: syncRoot, RelativePath: rel,
			MtimeSec: fi.ModTime().Unix(), Size: fi.Size(),
			Status: syncstate.StatusSynced, Retries: 0, UpdatedAtSec: r.now().Unix(),
		}); err != nil {
			r.sink.SyncError(fmt.Sprintf("updating index for %s: %v", rel, err))
		}
	}
	*writes++

	r.sink.SyncProgressMessage(fmt.Sprintf("downloaded %s", rel))
}

// needDownload implements the §4.D.1 need_download rule.
func (r *Reconciler) needDownload(localPath string, node yandex.Node, entry syncstate.Entry, found bool) bool {
	if found && entry.Status == syncstate.StatusDownloading {
		return true
	}

	fi, err := os.Stat(localPath)
	if err != nil || fi.Size() == 0 {
		return true
	}

	if found && entry.Status == syncstate.StatusSynced && fi.Size() == node.Size && entry.Size == node.Size {
		return false
	}

	return cloudNewerThanLocal(node.Modified, fi.ModTime())
}

// refreshSyncedEntry writes the observed local mtime/size even when no
// download was needed, per architecture §4.D.1 step 5.
func (r *Reconciler) refreshSyncedEntry(ctx context.Context, syncRoot, rel string, fi os.FileInfo, tx *syncstate.Tx, writes *int) {
	if err := tx.Set(ctx, syncstate.Entry{
		SyncRoot: syncRoot, RelativePath: rel,
		MtimeSec: fi.ModTime().Unix(), Size: fi.Size(),
		Status: syncstate.StatusSynced, Retries: 0, UpdatedAtSec: r.now().Unix(),
	}); err != nil {
		r.sink.SyncError(fmt.Sprintf("refreshing index for %s: %v", rel, err))
	}
	*writes++
}

// handleTransferFailure records a failed upload or download: bump
// retries, flip to FAILED once the budget is exhausted, otherwise leave
// the in-flight status so the next pass resumes it.
func (r *Reconciler) handleTransferFailure(ctx context.Context, syncRoot, rel string, tx *syncstate.Tx, currentRetries int, err error, verb string) {
	r.sink.SyncError(fmt.Sprintf("%s %s: %v", verb, rel, err))

	newRetries := currentRetries + 1
	status := syncstate.StatusFailed

	if newRetries < r.maxRetries {
		entry, found, getErr := tx.Get(ctx, syncRoot, rel)
		if getErr == nil && found {
			status = entry.Status
		}
	}

	if err := tx.SetStatus(ctx, syncRoot, rel, status, 1, r.now().Unix()); err != nil {
		r.logger.Error("recording transfer failure", slog.String("rel", rel), slog.String("error", err.Error()))
	}
}

func isUnauthorized(err error) bool {
	return errors.Is(err, yandex.ErrUnauthorized)
}
