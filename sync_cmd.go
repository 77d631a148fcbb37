package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ondyne/disksync/internal/cloudpath"
	"github.com/ondyne/disksync/internal/store"
	"github.com/ondyne/disksync/internal/syncengine"
	"github.com/ondyne/disksync/internal/syncstate"
	"github.com/ondyne/disksync/internal/tokenfile"
	"github.com/ondyne/disksync/internal/yandex"
)

func newSyncCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the local sync root with the cloud",
		Long: `Run the sync engine. By default this runs the scheduler in the foreground:
periodic pull/push passes, a filesystem watcher for local changes, and a
connectivity probe that resumes syncing on reconnect. With --once, it runs a
pull pass, then a push pass (which the sync service follows with another pull
pass unless the push created new top-level cloud folders), and exits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if once {
				return runSyncOnce(cmd)
			}

			return runSyncDaemon(cmd)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run one pull+push pass and exit, instead of the scheduler loop")

	return cmd
}

// cliSink is the CLI's EventSink: logs everything through the CLIContext
// logger and prints the user-facing bits (status transitions, errors, token
// expiry, index summaries, created cloud folders) to stderr, honoring
// --quiet. Progress and throughput are only logged, at debug level.
type cliSink struct {
	logger *slog.Logger
}

func (s cliSink) StatusChanged(status syncengine.SyncStatus) {
	statusf("sync: %s\n", status)
	s.logger.Info("status changed", slog.String("status", status.String()))
}

func (s cliSink) TokenExpired() {
	statusf("sync: token expired, run 'disksync login' again\n")
	s.logger.Warn("token expired")
}

func (s cliSink) SyncError(msg string) {
	statusf("sync: error: %s\n", msg)
	s.logger.Error("sync error", slog.String("message", msg))
}

func (s cliSink) SyncProgressMessage(msg string) {
	s.logger.Debug("progress", slog.String("message", msg))
}

func (s cliSink) SyncThroughput(bytesPerSec int64) {
	s.logger.Debug("throughput", slog.Int64("bytes_per_sec", bytesPerSec))
}

func (s cliSink) IndexStateLoaded(state syncengine.IndexState) {
	statusf("sync: index loaded — %d total, %d synced, %d failed\n", state.TotalEntries, state.Synced, state.Failed)
}

func (s cliSink) PathsCreatedInCloud(paths []cloudpath.Cloud) {
	for _, p := range paths {
		statusf("sync: created cloud folder %s\n", p)
	}
}

// syncSetup wires the config, token, index, adapter, and stores common to
// both sync modes.
type syncSetup struct {
	cfg       *CLIContext
	index     *syncstate.Store
	adapter   *yandex.Client
	selection *store.SelectionStore
	settings  *store.SettingsStore
	sink      cliSink
}

func setupSync(ctx context.Context, cmd *cobra.Command) (*syncSetup, error) {
	cc := mustCLIContext(cmd.Context())

	if cc.Cfg.SyncRoot == "" {
		return nil, fmt.Errorf("sync: sync_root is not configured")
	}

	ts, err := tokenfile.TokenSourceFromPath(ctx, os.Getenv(envClientID), os.Getenv(envClientSecret), tokenURLOrDefault(), tokenPath(), cc.Logger)
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	baseURL := cc.Cfg.BaseURL
	if baseURL == "" {
		baseURL = yandex.DefaultBaseURL
	}

	// No blanket http.Client.Timeout: yandex.Client applies its own
	// per-request deadlines (30s JSON calls, 15min transfer PUT/GET), and a
	// single client-level value cannot serve both.
	adapter := yandex.NewClient(baseURL, &http.Client{}, ts, cc.Logger)

	index, err := syncstate.Open(ctx, dbPath(), cc.Logger)
	if err != nil {
		return nil, fmt.Errorf("sync: opening sync index: %w", err)
	}

	selection, err := store.OpenSelectionStore(selectionPath())
	if err != nil {
		index.Close()

		return nil, fmt.Errorf("sync: opening selection store: %w", err)
	}

	settings := store.NewSettingsStore(cc.Cfg)

	return &syncSetup{
		cfg:       cc,
		index:     index,
		adapter:   adapter,
		selection: selection,
		settings:  settings,
		sink:      cliSink{logger: cc.Logger},
	}, nil
}

func tokenURLOrDefault() string {
	if v := os.Getenv(envTokenURL); v != "" {
		return v
	}

	return defaultTokenURL
}

func runSyncOnce(cmd *cobra.Command) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	setup, err := setupSync(ctx, cmd)
	if err != nil {
		return err
	}
	defer setup.index.Close()

	svc := syncengine.NewService(setup.adapter, setup.index, setup.sink, setup.cfg.Logger)

	selected, err := setup.selection.Selected(ctx)
	if err != nil {
		return fmt.Errorf("sync: reading selection: %w", err)
	}

	maxRetries, err := setup.settings.MaxRetries(ctx)
	if err != nil {
		return fmt.Errorf("sync: reading settings: %w", err)
	}

	svc.StartSync(ctx, selected, setup.cfg.Cfg.SyncRoot, maxRetries)
	waitForIdle(svc)

	svc.StartSyncLocalToCloud(ctx, selected, setup.cfg.Cfg.SyncRoot, maxRetries)
	waitForIdle(svc)

	return nil
}

// waitForIdle blocks until a Service pass finishes. StartSync/
// StartSyncLocalToCloud run in the background and Service publishes no
// completion channel, so polling the published status is the
// straightforward way to await completion here.
func waitForIdle(svc *syncengine.Service) {
	for svc.Status() == syncengine.StatusSyncing {
		time.Sleep(20 * time.Millisecond)
	}
}

func runSyncDaemon(cmd *cobra.Command) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	setup, err := setupSync(ctx, cmd)
	if err != nil {
		return err
	}
	defer setup.index.Close()

	svc := syncengine.NewService(setup.adapter, setup.index, setup.sink, setup.cfg.Logger)

	probeURL := setup.cfg.Cfg.BaseURL
	if probeURL == "" {
		probeURL = yandex.DefaultBaseURL
	}

	sched := syncengine.NewScheduler(svc, setup.index, setup.settings, setup.selection, setup.sink, setup.cfg.Logger, probeURL)

	return sched.Run(ctx)
}
