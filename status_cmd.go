package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ondyne/disksync/internal/syncstate"
)

// ansiRed/ansiReset bracket the warning line printed after the table when
// files have failed and output is a terminal, so a non-zero failed count
// stands out without requiring --verbose.
const (
	ansiRed   = "\x1b[31m"
	ansiReset = "\x1b[0m"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync index state for the configured sync root",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	if cc.Cfg.SyncRoot == "" {
		fmt.Println("No sync root configured. Set sync_root in the config file.")

		return nil
	}

	index, err := syncstate.Open(ctx, dbPath(), cc.Logger)
	if err != nil {
		return fmt.Errorf("status: opening sync index: %w", err)
	}
	defer index.Close()

	sum, err := index.Summary(ctx, cc.Cfg.SyncRoot)
	if err != nil {
		return fmt.Errorf("status: reading summary: %w", err)
	}

	if flagJSON {
		fmt.Printf("{\"total\":%d,\"new\":%d,\"synced\":%d,\"uploading\":%d,\"downloading\":%d,\"failed\":%d}\n",
			sum.Total, sum.New, sum.Synced, sum.Uploading, sum.Downloading, sum.Failed)

		return nil
	}

	printTable(cmd.OutOrStdout(),
		[]string{"STATE", "COUNT"},
		[][]string{
			{string(syncstate.StatusNew), fmt.Sprint(sum.New)},
			{string(syncstate.StatusSynced), fmt.Sprint(sum.Synced)},
			{string(syncstate.StatusUploading), fmt.Sprint(sum.Uploading)},
			{string(syncstate.StatusDownloading), fmt.Sprint(sum.Downloading)},
			{string(syncstate.StatusFailed), fmt.Sprint(sum.Failed)},
			{"TOTAL", fmt.Sprint(sum.Total)},
		},
	)

	if sum.Failed > 0 && isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Printf("%s%d file(s) exhausted their retry budget — see the sync index.%s\n", ansiRed, sum.Failed, ansiReset)
	}

	return nil
}
