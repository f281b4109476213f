package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should write to the configured file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "taskdeck.log")

		log, err := New(Config{Level: "info", File: path})
		require.NoError(t, err)
		defer log.Close()

		log.Info().Str("component", "test").Msg("hello")

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"component":"test"`)
		assert.Contains(t, string(data), "hello")
	})

	t.Run("should suppress levels below the configured one", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "taskdeck.log")

		log, err := New(Config{Level: "warn", File: path})
		require.NoError(t, err)
		defer log.Close()

		log.Debug().Msg("too quiet")
		log.Warn().Msg("loud enough")

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "too quiet")
		assert.Contains(t, string(data), "loud enough")
	})

	t.Run("should default to info on an unknown level", func(t *testing.T) {
		log, err := New(Config{Level: "loudest", Console: true})
		require.NoError(t, err)
		defer log.Close()
	})

	t.Run("should redact credentials before they hit the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "taskdeck.log")

		log, err := New(Config{Level: "info", File: path, Redaction: true})
		require.NoError(t, err)
		defer log.Close()

		log.Info().Str("api_key", "sk-ant-REDACTED").Msg("provider configured")

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "[REDACTED]")
		assert.NotContains(t, string(data), "sk-ant-api03")
	})

	t.Run("should use a rotating sink when a size cap is set", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "taskdeck.log")

		log, err := New(Config{Level: "info", File: path, MaxSizeMB: 1, MaxAgeDays: 7})
		require.NoError(t, err)

		log.Info().Msg("bounded file")
		require.NoError(t, log.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "bounded file")
	})
}
