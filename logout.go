package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ondyne/disksync/internal/tokenfile"
)

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "logout",
		Short:       "Remove the saved authentication token",
		Long:        "Remove the saved OAuth token. The sync index is kept, so logging back in does not force a full re-sync.",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runLogout,
	}
}

func runLogout(cmd *cobra.Command, _ []string) error {
	logger := buildLogger(nil)

	if err := tokenfile.Logout(tokenPath(), logger); err != nil {
		return fmt.Errorf("logout: %w", err)
	}

	fmt.Println("Logged out.")

	return nil
}
