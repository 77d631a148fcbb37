package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ondyne/disksync/internal/tokenfile"
)

// OAuth client registration and token endpoint. Per architecture §5 non-
// goals, the interactive authorization flow is out of scope — these are
// read from the environment because there is no config-file concept of
// a pre-login OAuth client.
const (
	envClientID     = "DISKSYNC_CLIENT_ID"
	envClientSecret = "DISKSYNC_CLIENT_SECRET"
	envTokenURL     = "DISKSYNC_TOKEN_URL"
	envRefreshToken = "DISKSYNC_REFRESH_TOKEN"

	defaultTokenURL = "https://oauth.yandex.com/token"
)

func newLoginCmd() *cobra.Command {
	var refreshToken string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Register a pre-obtained OAuth refresh token",
		Long: `Register a refresh token issued by the cloud provider's OAuth app (obtained out
of band — this client has no interactive authorization flow). The token is
exchanged for an access token immediately to confirm it works, then both are
cached on disk for the sync engine to use and silently refresh.

The refresh token can be passed via --refresh-token or the
DISKSYNC_REFRESH_TOKEN environment variable.`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogin(cmd, refreshToken)
		},
	}

	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "OAuth refresh token (or set DISKSYNC_REFRESH_TOKEN)")

	return cmd
}

func runLogin(cmd *cobra.Command, refreshToken string) error {
	logger := buildLogger(nil)

	if refreshToken == "" {
		refreshToken = os.Getenv(envRefreshToken)
	}

	if refreshToken == "" {
		return fmt.Errorf("login: no refresh token given (--refresh-token or %s)", envRefreshToken)
	}

	clientID := os.Getenv(envClientID)
	clientSecret := os.Getenv(envClientSecret)

	tokenURL := os.Getenv(envTokenURL)
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}

	ctx := cmd.Context()

	if _, err := tokenfile.LoginWithRefreshToken(ctx, clientID, clientSecret, tokenURL, tokenPath(), refreshToken, logger); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	fmt.Println("Login successful.")

	return nil
}
