package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	t.Run("should write json to the console writer", func(t *testing.T) {
		buf := &bytes.Buffer{}
		l, err := New(Config{Level: "info", Console: true, Output: buf})
		require.NoError(t, err)
		defer l.Close()

		zl := l.GetZerolog()
		zl.Info().Str("component", "test").Msg("hello")
		zl.Debug().Msg("hidden")

		assert.Contains(t, buf.String(), `"message":"hello"`)
		assert.Contains(t, buf.String(), `"component":"test"`)
		assert.NotContains(t, buf.String(), "hidden")
	})

	t.Run("should append to the log file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "agentapi.log")

		l, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)
		zl := l.GetZerolog()
		zl.Debug().Msg("to file")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "to file")
	})

	t.Run("should redact secrets", func(t *testing.T) {
		buf := &bytes.Buffer{}
		l, err := New(Config{Level: "info", Console: true, Output: buf, Redaction: true})
		require.NoError(t, err)
		defer l.Close()

		zl := l.GetZerolog()
		zl.Info().Str("key", "sk-test123456789abcdefghijklmnopqrstuvwxyz").Msg("loaded")
		assert.NotContains(t, buf.String(), "sk-test123456789")
		assert.Contains(t, buf.String(), "[REDACTED]")
	})

	t.Run("should install the global logger", func(t *testing.T) {
		buf := &bytes.Buffer{}
		l, err := New(Config{Level: "info", Console: true, Output: buf})
		require.NoError(t, err)
		defer l.Close()

		log.Info().Msg("global")
		assert.Contains(t, buf.String(), "global")
	})
}

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	buf := &bytes.Buffer{}
	l, err := New(Config{Level: "warn", Console: true, Output: buf})
	require.NoError(t, err)
	defer l.Close()

	child := l.GetZerolog().With().Str("component", "child").Logger()
	child.Info().Msg("before")
	assert.Empty(t, buf.String())

	l.SetLevel("debug")
	assert.Equal(t, zerolog.DebugLevel, l.Level())
	child.Info().Msg("after")
	assert.Contains(t, buf.String(), "after")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Pretty)
	assert.True(t, cfg.Redaction)
}
