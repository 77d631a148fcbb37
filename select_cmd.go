package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ondyne/disksync/internal/cloudpath"
	"github.com/ondyne/disksync/internal/store"
	"github.com/ondyne/disksync/internal/syncstate"
)

func newSelectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Manage which cloud folders are synced",
	}

	cmd.AddCommand(newSelectListCmd())
	cmd.AddCommand(newSelectAddCmd())
	cmd.AddCommand(newSelectRemoveCmd())

	return cmd
}

func newSelectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List currently selected cloud folders",
		RunE:  runSelectList,
	}
}

func newSelectAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <cloud-path>",
		Short: "Select a cloud folder for sync",
		Args:  cobra.ExactArgs(1),
		RunE:  runSelectAdd,
	}
}

func newSelectRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <cloud-path>",
		Short: "Deselect a cloud folder and drop its local index entries",
		Long:  "Deselect a cloud folder. The index subtree for that path is removed so a future re-add starts clean; local files on disk are left untouched.",
		Args:  cobra.ExactArgs(1),
		RunE:  runSelectRemove,
	}
}

func runSelectList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	sel, err := store.OpenSelectionStore(selectionPath())
	if err != nil {
		return fmt.Errorf("select: %w", err)
	}

	selected, err := sel.Selected(ctx)
	if err != nil {
		return fmt.Errorf("select: %w", err)
	}

	if len(selected) == 0 {
		fmt.Println("No folders selected.")

		return nil
	}

	for _, p := range selected {
		fmt.Println(p)
	}

	return nil
}

func runSelectAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sel, err := store.OpenSelectionStore(selectionPath())
	if err != nil {
		return fmt.Errorf("select: %w", err)
	}

	path := cloudpath.NormalizeCloud(args[0])

	if err := sel.Add(ctx, path); err != nil {
		return fmt.Errorf("select: adding %s: %w", path, err)
	}

	fmt.Printf("Selected %s. Run 'disksync sync --once' or start the daemon to sync it.\n", path)

	return nil
}

func runSelectRemove(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	sel, err := store.OpenSelectionStore(selectionPath())
	if err != nil {
		return fmt.Errorf("select: %w", err)
	}

	path := cloudpath.NormalizeCloud(args[0])

	if err := sel.Remove(ctx, path); err != nil {
		return fmt.Errorf("select: removing %s: %w", path, err)
	}

	if cc.Cfg.SyncRoot != "" {
		index, err := syncstate.Open(ctx, dbPath(), cc.Logger)
		if err != nil {
			return fmt.Errorf("select: opening sync index: %w", err)
		}
		defer index.Close()

		rel := cloudpath.NormalizeRelative(string(path))
		if err := index.RemovePrefix(ctx, cc.Cfg.SyncRoot, rel); err != nil {
			return fmt.Errorf("select: clearing index subtree: %w", err)
		}
	}

	fmt.Printf("Deselected %s.\n", path)

	return nil
}
