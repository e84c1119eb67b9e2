package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"taller/internal/config"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	appCfg := config.AppConfig{
		Name:        "taller-sync",
		Environment: "test",
		Version:     "1.0.0",
	}

	t.Run("DefaultStdout", func(t *testing.T) {
		logger, closer, err := New(config.LoggingConfig{}, appCfg)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.Nil(t, closer)
		assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
	})

	t.Run("Stderr", func(t *testing.T) {
		cfg := config.LoggingConfig{Level: "debug", Output: "stderr"}
		logger, closer, err := New(cfg, appCfg)
		require.NoError(t, err)
		assert.Nil(t, closer)
		assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())
	})

	t.Run("Console", func(t *testing.T) {
		cfg := config.LoggingConfig{Level: "warn", Output: "stdout", Format: "console"}
		logger, closer, err := New(cfg, appCfg)
		require.NoError(t, err)
		assert.Nil(t, closer)
		assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
	})

	t.Run("FileCreatesDirectory", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "logs", "nested", "sync.log")
		cfg := config.LoggingConfig{Level: "info", Output: "file", FilePath: logPath}
		logger, closer, err := New(cfg, appCfg)
		require.NoError(t, err)
		require.NotNil(t, closer)

		logger.Info().Str("entry_id", "e1").Msg("queued")
		require.NoError(t, closer.Close())

		data, err := os.ReadFile(logPath)
		require.NoError(t, err)

		var line map[string]any
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &line))
		assert.Equal(t, "taller-sync", line["app"])
		assert.Equal(t, "test", line["env"])
		assert.Equal(t, "e1", line["entry_id"])
	})

	t.Run("Both", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "sync.log")
		cfg := config.LoggingConfig{Output: "both", FilePath: logPath}
		logger, closer, err := New(cfg, appCfg)
		require.NoError(t, err)
		require.NotNil(t, closer)
		logger.Info().Msg("hello")
		require.NoError(t, closer.Close())

		data, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"message":"hello"`)
	})

	t.Run("FileMissingPath", func(t *testing.T) {
		_, _, err := New(config.LoggingConfig{Output: "file"}, appCfg)
		assert.Error(t, err)
	})

	t.Run("UnknownOutput", func(t *testing.T) {
		_, _, err := New(config.LoggingConfig{Output: "syslog"}, appCfg)
		assert.Error(t, err)
	})

	t.Run("InvalidLevel", func(t *testing.T) {
		logger, _, err := New(config.LoggingConfig{Level: "invalid"}, appCfg)
		require.NoError(t, err)
		assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
	})
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	parent := zerolog.New(&buf)

	l := Component(&parent, "orchestrator")
	l.Info().Msg("pass")
	assert.Contains(t, buf.String(), `"component":"orchestrator"`)

	nop := Component(nil, "x")
	require.NotNil(t, nop)
	assert.Equal(t, zerolog.Disabled, nop.GetLevel())
}
