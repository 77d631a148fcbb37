package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/ondyne/disksync/internal/config"
	"github.com/ondyne/disksync/internal/tokenfile"
	"github.com/ondyne/disksync/internal/yandex"
)

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "whoami",
		Short:       "Show the authenticated account's quota and token state",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runWhoami,
	}
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	logger := buildLogger(nil)
	ctx := cmd.Context()

	ts, err := tokenfile.TokenSourceFromPath(ctx, "", "", "", tokenPath(), logger)
	if err != nil {
		if errors.Is(err, tokenfile.ErrNotLoggedIn) {
			fmt.Println("Not logged in. Run 'disksync login' first.")

			return nil
		}

		return fmt.Errorf("whoami: %w", err)
	}

	baseURL := yandex.DefaultBaseURL
	if env := cfgBaseURLOverride(); env != "" {
		baseURL = env
	}

	client := yandex.NewClient(baseURL, &http.Client{Timeout: httpClientTimeout}, ts, logger)

	quota, err := client.Quota(ctx)
	if err != nil {
		return fmt.Errorf("whoami: fetching quota: %w", err)
	}

	fmt.Printf("Logged in.\n")
	fmt.Printf("Used:  %s\n", formatSize(quota.Used))
	fmt.Printf("Total: %s\n", formatSize(quota.Total))
	fmt.Printf("Free:  %s\n", formatSize(quota.Free()))

	return nil
}

// cfgBaseURLOverride lets whoami honor a config file's base_url even though
// it otherwise skips config loading (it must work before a config file
// necessarily exists).
func cfgBaseURLOverride() string {
	cfg, err := config.Load(config.DefaultConfigPath(), buildLogger(nil))
	if err != nil || cfg == nil {
		return ""
	}

	return cfg.BaseURL
}
