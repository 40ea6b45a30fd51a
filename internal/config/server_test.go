package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerConfig(t *testing.T) {
	t.Run("DefaultsWhenFileMissing", func(t *testing.T) {
		cfg, err := LoadServerConfig(filepath.Join(t.TempDir(), "config.yaml"))
		require.NoError(t, err)

		assert.Equal(t, DefaultHost, cfg.Host)
		assert.Equal(t, DefaultPort, cfg.Port)
		assert.Equal(t, Runtime.SessionsDir, cfg.SessionsDir)
		assert.Equal(t, DefaultHistoryBytes, cfg.HistoryBytes)
		assert.Equal(t, "127.0.0.1:8765", cfg.Addr())
	})

	t.Run("FileOverridesDefaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(
			"host: 0.0.0.0\nport: 9999\nsessions_dir: /tmp/sessions\nhistory_bytes: 4096\ndebug: true\n",
		), 0644))

		cfg, err := LoadServerConfig(path)
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Host)
		assert.Equal(t, 9999, cfg.Port)
		assert.Equal(t, "/tmp/sessions", cfg.SessionsDir)
		assert.Equal(t, 4096, cfg.HistoryBytes)
		assert.True(t, cfg.Debug)
		assert.Equal(t, "0.0.0.0:9999", cfg.Addr())
	})

	t.Run("PartialFileKeepsDefaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("port: 8080\n"), 0644))

		cfg, err := LoadServerConfig(path)
		require.NoError(t, err)

		assert.Equal(t, DefaultHost, cfg.Host)
		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, DefaultHistoryBytes, cfg.HistoryBytes)
	})

	t.Run("InvalidYAML", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("host: [unclosed"), 0644))

		_, err := LoadServerConfig(path)
		assert.Error(t, err)
	})
}

func TestDetectRuntime(t *testing.T) {
	rc := DetectRuntime()

	require.NotEmpty(t, rc.HomeDir)
	assert.Equal(t, filepath.Join(rc.HomeDir, ".task-mind"), rc.DataDir)
	assert.Equal(t, filepath.Join(rc.DataDir, "sessions", "claude"), rc.SessionsDir)
	assert.Equal(t, filepath.Join(rc.DataDir, "config.yaml"), rc.ConfigFilePath())
}
