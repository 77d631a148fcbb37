package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ondyne/disksync/internal/config"
)

func TestBuildLogger_LevelPrecedence(t *testing.T) {
	old := flagVerbose
	oldDebug := flagDebug
	oldQuiet := flagQuiet

	t.Cleanup(func() {
		flagVerbose = old
		flagDebug = oldDebug
		flagQuiet = oldQuiet
	})

	t.Run("nil config defaults to warn", func(t *testing.T) {
		flagVerbose, flagDebug, flagQuiet = false, false, false

		logger := buildLogger(nil)
		assert.True(t, logger.Enabled(nil, slog.LevelWarn))
		assert.False(t, logger.Enabled(nil, slog.LevelInfo))
	})

	t.Run("config log level sets baseline", func(t *testing.T) {
		flagVerbose, flagDebug, flagQuiet = false, false, false

		logger := buildLogger(&config.Config{LogLevel: "debug"})
		assert.True(t, logger.Enabled(nil, slog.LevelDebug))
	})

	t.Run("debug flag overrides config", func(t *testing.T) {
		flagVerbose, flagDebug, flagQuiet = false, true, false

		logger := buildLogger(&config.Config{LogLevel: "error"})
		assert.True(t, logger.Enabled(nil, slog.LevelDebug))
	})

	t.Run("quiet flag wins over verbose", func(t *testing.T) {
		flagVerbose, flagDebug, flagQuiet = true, false, true

		logger := buildLogger(nil)
		assert.False(t, logger.Enabled(nil, slog.LevelWarn))
		assert.True(t, logger.Enabled(nil, slog.LevelError))
	})
}

func TestNewRootCmd_RegistersSubcommands(t *testing.T) {
	cmd := newRootCmd()

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"login", "logout", "whoami", "status", "sync", "select"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestTokenPath_UnderDataDir(t *testing.T) {
	assert.Contains(t, tokenPath(), "token.json")
	assert.Contains(t, dbPath(), "syncstate.db")
	assert.Contains(t, selectionPath(), "selection.json")

	dataDir := config.DefaultDataDir()
	assert.Contains(t, tokenPath(), dataDir)
	assert.Contains(t, dbPath(), dataDir)
	assert.Contains(t, selectionPath(), dataDir)
}
