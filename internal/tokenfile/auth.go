package tokenfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/oauth2"
)

// ErrNotLoggedIn is returned when no token file exists at the expected path.
var ErrNotLoggedIn = errors.New("tokenfile: not logged in")

// TokenSource provides the OAuth access token used on every authenticated
// cloud request. Satisfied by *Source, which wraps an oauth2.TokenSource
// with silent refresh and on-disk persistence.
type TokenSource interface {
	Token() (string, error)
}

// Source adapts an oauth2.TokenSource to TokenSource, logging every token
// acquisition and refresh so auth activity is visible without ever logging
// the token value itself.
type Source struct {
	src    oauth2.TokenSource
	logger *slog.Logger
}

// Token returns the current access token, silently refreshing it first if
// expired.
func (s *Source) Token() (string, error) {
	t, err := s.src.Token()
	if err != nil {
		s.logger.Warn("token acquisition failed", slog.String("error", err.Error()))

		return "", fmt.Errorf("tokenfile: obtaining token: %w", err)
	}

	s.logger.Debug("token acquired", slog.Time("expiry", t.Expiry), slog.Bool("valid", t.Valid()))

	return t.AccessToken, nil
}

// oauthConfig builds an oauth2.Config pointed at the given token endpoint,
// with OnTokenChange wired to persist silently-refreshed tokens back to
// tokenPath. There is no interactive authorization step in this spec
// (architecture §1, non-goal): clientID/clientSecret/tokenURL come from the
// caller's pre-registered OAuth application.
func oauthConfig(clientID, clientSecret, tokenURL, tokenPath string, logger *slog.Logger) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		// Called by ReuseTokenSource after each silent refresh, outside its mutex.
		OnTokenChange: func(tok *oauth2.Token) {
			logger.Info("token refreshed", slog.Time("new_expiry", tok.Expiry))

			if err := Save(tokenPath, tok, nil); err != nil {
				logger.Warn("failed to persist refreshed token", slog.String("error", err.Error()))
			}
		},
	}
}

// LoginWithRefreshToken registers a pre-obtained OAuth refresh token
// (architecture §5 Non-goals: the interactive authorization flow is out of
// scope) as this account's saved token, then returns a TokenSource for
// immediate use.
func LoginWithRefreshToken(ctx context.Context, clientID, clientSecret, tokenURL, tokenPath, refreshToken string, logger *slog.Logger) (TokenSource, error) {
	cfg := oauthConfig(clientID, clientSecret, tokenURL, tokenPath, logger)

	seed := &oauth2.Token{RefreshToken: refreshToken}

	src := cfg.TokenSource(ctx, seed)

	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("tokenfile: exchanging refresh token: %w", err)
	}

	if err := Save(tokenPath, tok, nil); err != nil {
		return nil, fmt.Errorf("tokenfile: saving token: %w", err)
	}

	logger.Info("login successful", slog.String("path", tokenPath), slog.Time("expiry", tok.Expiry))

	return &Source{src: src, logger: logger}, nil
}

// TokenSourceFromPath loads a previously saved token and returns a
// TokenSource with auto-refresh and auto-persistence via OnTokenChange.
// Returns ErrNotLoggedIn if no token file exists at tokenPath.
func TokenSourceFromPath(ctx context.Context, clientID, clientSecret, tokenURL, tokenPath string, logger *slog.Logger) (TokenSource, error) {
	tok, _, err := Load(tokenPath)
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return nil, ErrNotLoggedIn
	}

	cfg := oauthConfig(clientID, clientSecret, tokenURL, tokenPath, logger)
	src := cfg.TokenSource(ctx, tok)

	logger.Info("loaded saved token", slog.String("path", tokenPath), slog.Time("expiry", tok.Expiry))

	return &Source{src: src, logger: logger}, nil
}

// Logout removes the saved token file at tokenPath. Returns nil if the file
// does not exist (already logged out).
func Logout(tokenPath string, logger *slog.Logger) error {
	err := os.Remove(tokenPath)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("logout: no token file to remove", slog.String("path", tokenPath))

		return nil
	}

	if err != nil {
		return fmt.Errorf("tokenfile: removing token file: %w", err)
	}

	logger.Info("logout: removed token file", slog.String("path", tokenPath))

	return nil
}
