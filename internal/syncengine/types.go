// Package syncengine is the two-directional reconciler, its single-run
// sync service, and the scheduler that triggers it from timers,
// filesystem events, and connectivity transitions (architecture
// §4.D/§4.E/§4.F). It consumes selection and settings stores, an event
// sink, and a cloud adapter — all defined here as consumer-side interfaces
// ("accept interfaces, return structs"). Access tokens are handled inside
// the cloud adapter; this package never sees them.
package syncengine

import (
	"context"

	"github.com/ondyne/disksync/internal/cloudpath"
	"github.com/ondyne/disksync/internal/yandex"
)

// SyncStatus is the sync service's published state.
type SyncStatus int

const (
	// StatusIdle means no pass is running.
	StatusIdle SyncStatus = iota
	// StatusSyncing means a pull or push pass is in progress.
	StatusSyncing
	// StatusError means the last pass ended with a fatal error.
	StatusError
)

// String renders the status for logging and display.
func (s SyncStatus) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusSyncing:
		return "Syncing"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// IndexState summarizes the sync index for UI/status display.
type IndexState struct {
	TotalEntries int
	New          int
	Synced       int
	Uploading    int
	Downloading  int
	Failed       int
}

// CloudAdapter is the subset of the cloud REST adapter the reconciler
// needs. Satisfied by *yandex.Client.
type CloudAdapter interface {
	ListChildren(ctx context.Context, dir cloudpath.Cloud) ([]yandex.Node, error)
	CreateFolder(ctx context.Context, dir cloudpath.Cloud) (created bool, err error)
	Delete(ctx context.Context, path cloudpath.Cloud) error
	Download(ctx context.Context, src cloudpath.Cloud, dst string) (int64, error)
	Upload(ctx context.Context, src string, dst cloudpath.Cloud, size int64) error
}

// SelectionStore lists and mutates the set of selected cloud paths. The
// engine reads a snapshot at start_sync time and does not consult it
// again mid-pass (architecture §5, "shared-resource policy").
type SelectionStore interface {
	Selected(ctx context.Context) ([]cloudpath.Cloud, error)
	Add(ctx context.Context, path cloudpath.Cloud) error
	Remove(ctx context.Context, path cloudpath.Cloud) error
}

// SettingsStore exposes the sync root, timer intervals, and retry budget.
type SettingsStore interface {
	SyncRoot(ctx context.Context) (string, error)
	MaxRetries(ctx context.Context) (int, error)
	CloudCheckIntervalSec(ctx context.Context) (int, error)
	RefreshIntervalSec(ctx context.Context) (int, error)
}

// EventSink receives status and progress notifications. Its methods are
// called directly from the worker goroutine (and StatusChanged also from
// the goroutine that starts a pass); there is no queue in between, so
// implementations must be safe to call from any goroutine, and should
// not block.
type EventSink interface {
	StatusChanged(status SyncStatus)
	TokenExpired()
	SyncError(msg string)
	SyncProgressMessage(msg string)
	SyncThroughput(bytesPerSec int64)
	IndexStateLoaded(state IndexState)
	PathsCreatedInCloud(paths []cloudpath.Cloud)
}

// discardSink is a no-op EventSink, used where a caller has none.
type discardSink struct{}

func (discardSink) StatusChanged(SyncStatus)           {}
func (discardSink) TokenExpired()                      {}
func (discardSink) SyncError(string)                   {}
func (discardSink) SyncProgressMessage(string)         {}
func (discardSink) SyncThroughput(int64)               {}
func (discardSink) IndexStateLoaded(IndexState)        {}
func (discardSink) PathsCreatedInCloud([]cloudpath.Cloud) {}
