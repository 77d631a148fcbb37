package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ondyne/disksync/internal/cloudpath"
	"github.com/ondyne/disksync/internal/syncstate"
	"github.com/ondyne/disksync/internal/yandex"
)

// PushResult reports what happened during a push pass.
type PushResult struct {
	BytesTransferred int64
	Elapsed          time.Duration
	// CreatedTopLevels is non-empty only when the pass stopped early
	// after auto-creating cloud folders for previously unselected
	// top-level local directories (architecture §4.D.2).
	CreatedTopLevels []cloudpath.Cloud
}

// Push runs the local→cloud pass (architecture §4.D.2): a top-level
// auto-creation step, then a recursive walk that uploads new/changed
// files and deletes cloud files absent locally.
func (r *Reconciler) Push(ctx context.Context, syncRoot string, selected []cloudpath.Cloud) (PushResult, error) {
	start := r.now()

	discovered, createdTopLevels, err := r.autoCreateTopLevels(ctx, syncRoot, selected)
	if err != nil {
		return PushResult{}, err
	}

	if len(createdTopLevels) > 0 {
		r.sink.PathsCreatedInCloud(createdTopLevels)

		return PushResult{CreatedTopLevels: createdTopLevels, Elapsed: r.now().Sub(start)}, nil
	}

	tx, err := r.index.Begin(ctx)
	if err != nil {
		return PushResult{}, fmt.Errorf("syncengine: push: %w", err)
	}

	writes := 0
	result := PushResult{}
	selectedSet := toSet(selected)

	for _, cp := range discovered {
		if r.stopped() {
			break
		}

		if err := r.pushFolder(ctx, syncRoot, cp, selectedSet, &writes, &tx, &result); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Error("rollback after push failure", slog.String("error", rbErr.Error()))
			}

			return result, err
		}
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("syncengine: push: final commit: %w", err)
	}

	if len(result.CreatedTopLevels) > 0 {
		r.sink.PathsCreatedInCloud(result.CreatedTopLevels)
	}

	result.Elapsed = r.now().Sub(start)

	return result, nil
}

// autoCreateTopLevels implements the §4.D.2 top-level auto-creation step.
// It returns the discovered set of paths to walk, and any top-level cloud
// paths that were newly created (not merely confirmed via 409).
func (r *Reconciler) autoCreateTopLevels(ctx context.Context, syncRoot string, selected []cloudpath.Cloud) ([]cloudpath.Cloud, []cloudpath.Cloud, error) {
	selectedSet := toSet(selected)

	discoveredSet := map[cloudpath.Cloud]bool{cloudpath.Cloud("/"): true}
	for _, cp := range selected {
		discoveredSet[cp] = true
	}

	topLevels, err := r.index.TopLevelRelativePaths(ctx, syncRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("syncengine: push: reading top level paths: %w", err)
	}

	for _, top := range topLevels {
		discoveredSet[cloudpath.NormalizeCloud("/"+top)] = true
	}

	localEntries, err := os.ReadDir(syncRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("syncengine: push: reading sync root: %w", err)
	}

	for _, e := range localEntries {
		if !e.IsDir() || e.Type()&os.ModeSymlink != 0 {
			continue
		}

		discoveredSet[cloudpath.NormalizeCloud("/"+e.Name())] = true
	}

	var createdTopLevels []cloudpath.Cloud

	for p := range discoveredSet {
		if selectedSet[p] || p == cloudpath.Cloud("/") {
			continue
		}

		_, name := cloudpath.ParentAndName(p)
		if !localDirExists(syncRoot, name) {
			continue
		}

		created, err := r.adapter.CreateFolder(ctx, p)
		if err != nil {
			r.sink.SyncError(fmt.Sprintf("auto-creating %s: %v", p, err))

			continue
		}

		if created {
			createdTopLevels = append(createdTopLevels, p)
		}
	}

	discovered := make([]cloudpath.Cloud, 0, len(discoveredSet))
	for p := range discoveredSet {
		discovered = append(discovered, p)
	}

	return discovered, createdTopLevels, nil
}

// pushFolder recursively mirrors one local directory to the cloud.
func (r *Reconciler) pushFolder(ctx context.Context, syncRoot string, cp cloudpath.Cloud, selected map[cloudpath.Cloud]bool, writes *int, tx **syncstate.Tx, result *PushResult) error {
	localDir := filepath.Join(syncRoot, filepath.FromSlash(string(cp)))
	if _, err := os.Stat(localDir); err != nil {
		return nil
	}

	if cp != cloudpath.Cloud("/") {
		created, err := r.adapter.CreateFolder(ctx, cp)
		if err != nil {
			return fmt.Errorf("syncengine: creating remote folder %s: %w", cp, err)
		}

		if created && !selected[cp] {
			parent, _ := cloudpath.ParentAndName(cp)
			if parent == cloudpath.Cloud("/") {
				result.CreatedTopLevels = append(result.CreatedTopLevels, cp)
			}
		}
	}

	entries, err := os.ReadDir(localDir)
	if err != nil {
		return fmt.Errorf("syncengine: reading local directory %s: %w", localDir, err)
	}

	localFileCount := 0
	localNames := make(map[string]bool, len(entries))

	for _, e := range entries {
		if e.Type()&os.ModeSymlink != 0 {
			continue
		}

		localNames[e.Name()] = true
		if !e.IsDir() {
			localFileCount++
		}
	}

	cloudChildren, err := r.adapter.ListChildren(ctx, cp)
	if err != nil {
		return fmt.Errorf("syncengine: listing %s: %w", cp, err)
	}

	cloudByName := make(map[string]yandex.Node, len(cloudChildren))
	for _, c := range cloudChildren {
		cloudByName[c.Name] = c
	}

	for _, e := range entries {
		if r.stopped() {
			return nil
		}

		if e.Type()&os.ModeSymlink != 0 {
			continue
		}

		childCloud := cloudpath.JoinCloud(cp, e.Name())

		if e.IsDir() {
			if err := r.pushFolder(ctx, syncRoot, childCloud, selected, writes, tx, result); err != nil {
				return err
			}

			continue
		}

		cloudSibling, hasCloudSibling := cloudByName[e.Name()]
		if hasCloudSibling && cloudSibling.IsDir() {
			hasCloudSibling = false
		}

		r.pushFile(ctx, syncRoot, childCloud, cloudSibling, hasCloudSibling, *tx, result)
		*writes++

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

	if localFileCount > 0 {
		for name := range cloudByName {
			if localNames[name] {
				continue
			}

			childCloud := cloudpath.JoinCloud(cp, name)
			if err := r.adapter.Delete(ctx, childCloud); err != nil {
				return fmt.Errorf("syncengine: deleting remote %s: %w", childCloud, err)
			}

			rel := cloudpath.NormalizeRelative(string(childCloud))
			if err := (*tx).RemovePrefix(ctx, syncRoot, rel); err != nil {
				return fmt.Errorf("syncengine: removing index entries under %s: %w", rel, err)
			}
		}
	}

	return nil
}

// pushFile uploads one local file if needed, per the need_upload rules
// in architecture §4.D.2. Failures are isolated: logged, the index
// entry's retry count is bumped, and the walk continues. All index reads
// and writes go through tx, the transaction the enclosing Push pass has
// open — never through r.index directly, which would contend with tx for
// the store's single pooled connection and deadlock.
func (r *Reconciler) pushFile(ctx context.Context, syncRoot string, dst cloudpath.Cloud, cloudSibling yandex.Node, hasCloudSibling bool, tx *syncstate.Tx, result *PushResult) {
	rel := cloudpath.NormalizeRelative(string(dst))
	localPath := filepath.Join(syncRoot, filepath.FromSlash(rel))

	fi, err := os.Stat(localPath)
	if err != nil {
		return
	}

	entry, found, err := tx.Get(ctx, syncRoot, rel)
	if err != nil {
		r.sink.SyncError(fmt.Sprintf("reading index for %s: %v", rel, err))

		return
	}

	needUpload := !found || entry.MtimeSec != fi.ModTime().Unix() || entry.Size != fi.Size() ||
		entry.Status == syncstate.StatusNew || entry.Status == syncstate.StatusUploading

	if needUpload && hasCloudSibling && !localNewerThanCloud(fi.ModTime(), cloudSibling.Modified) {
		needUpload = false
	}

	now := r.now().Unix()

	if !needUpload {
		if !found || entry.Status != syncstate.StatusFailed {
			if err := tx.Set(ctx, syncstate.Entry{
				SyncRoot: syncRoot, RelativePath: rel,
				MtimeSec: fi.ModTime().Unix(), Size: fi.Size(),
				Status: syncstate.StatusSynced, Retries: 0, UpdatedAtSec: now,
			}); err != nil {
				r.sink.SyncError(fmt.Sprintf("refreshing index for %s: %v", rel, err))
			}
		}

		return
	}

	if found && entry.Status == syncstate.StatusNew {
		if err := tx.SetStatus(ctx, syncRoot, rel, syncstate.StatusUploading, 0, now); err != nil {
			r.sink.SyncError(fmt.Sprintf("marking %s uploading: %v", rel, err))
		}
	} else if !found {
		if err := tx.UpsertNew(ctx, syncRoot, rel, fi.ModTime().Unix(), fi.Size(), now); err != nil {
			r.sink.SyncError(fmt.Sprintf("creating index entry for %s: %v", rel, err))
		}
		if err := tx.SetStatus(ctx, syncRoot, rel, syncstate.StatusUploading, 0, now); err != nil {
			r.sink.SyncError(fmt.Sprintf("marking %s uploading: %v", rel, err))
		}
	}

	if err := r.adapter.Upload(ctx, localPath, dst, fi.Size()); err != nil {
		r.handleTransferFailure(ctx, syncRoot, rel, tx, entry.Retries, err, "uploading")

		return
	}

	result.BytesTransferred += fi.Size()
	r.sink.SyncThroughput(fi.Size())

	if err := tx.Set(ctx, syncstate.Entry{
		SyncRoot: syncRoot, RelativePath: rel,
		MtimeSec: fi.ModTime().Unix(), Size: fi.Size(),
		Status: syncstate.StatusSynced, Retries: 0, UpdatedAtSec: r.now().Unix(),
	}); err != nil {
		r.sink.SyncError(fmt.Sprintf("updating index for %s: %v", rel, err))
	}

	r.sink.SyncProgressMessage(fmt.Sprintf("uploaded %s", rel))
}

func toSet(paths []cloudpath.Cloud) map[cloudpath.Cloud]bool {
	set := make(map[cloudpath.Cloud]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}

	return set
}

func localDirExists(syncRoot, name string) bool {
	fi, err := os.Stat(filepath.Join(syncRoot, name))

	return err == nil && fi.IsDir()
}
