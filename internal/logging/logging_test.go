package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerRespectsLevel(t *testing.T) {
	buff := &bytes.Buffer{}
	logger, err := New(Options{Level: "warn", Format: "json", Output: buff})
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	require.Equal(t, 0, buff.Len())
	logger.Warn().Str("op", "create-item").Msg("rolled back")
	assert.Contains(t, buff.String(), `"op":"create-item"`)
	assert.Contains(t, buff.String(), `"level":"warn"`)
}

func TestConsoleLogger(t *testing.T) {
	buff := &bytes.Buffer{}
	logger, err := New(Options{Output: buff})
	require.NoError(t, err)
	logger.Info().Msg("engine started")
	assert.Contains(t, buff.String(), "engine started")
}

func TestFileLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.log")
	for _, msg := range []string{"first", "second"} {
		logger, err := New(Options{Format: "json", File: path})
		require.NoError(t, err)
		logger.Info().Msg(msg)
		require.NoError(t, logger.Close())
	}
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "first")
	assert.Contains(t, string(data), "second")
}

func TestRejectsUnknownSettings(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
	_, err = New(Options{Format: "xml"})
	assert.Error(t, err)

	level, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, level)
}
