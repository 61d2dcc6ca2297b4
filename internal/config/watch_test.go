package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, path string, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func TestWatch(t *testing.T) {
	t.Run("should reload after the file changes", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")
		writeTestConfig(t, configPath, `{"gateway": {"port": 8000}}`)

		changes := make(chan *Config, 4)
		watcher, err := Watch(configPath, zerolog.Nop(), func(cfg *Config) {
			changes <- cfg
		})
		require.NoError(t, err)
		defer watcher.Stop()

		writeTestConfig(t, configPath, `{"gateway": {"port": 9000}}`)

		select {
		case cfg := <-changes:
			assert.Equal(t, 9000, cfg.Gateway.Port)
		case <-time.After(5 * time.Second):
			t.Fatal("config change was not delivered")
		}
	})

	t.Run("should keep the old config on a broken reload", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")
		writeTestConfig(t, configPath, `{"gateway": {"port": 8000}}`)

		changes := make(chan *Config, 4)
		watcher, err := Watch(configPath, zerolog.Nop(), func(cfg *Config) {
			changes <- cfg
		})
		require.NoError(t, err)
		defer watcher.Stop()

		// Malformed JSON must not reach the callback.
		writeTestConfig(t, configPath, `{broken`)

		select {
		case cfg := <-changes:
			t.Fatalf("broken config was delivered: %+v", cfg)
		case <-time.After(1500 * time.Millisecond):
		}

		// A later valid write still comes through.
		writeTestConfig(t, configPath, `{"gateway": {"port": 9090}}`)

		select {
		case cfg := <-changes:
			assert.Equal(t, 9090, cfg.Gateway.Port)
		case <-time.After(5 * time.Second):
			t.Fatal("recovered config was not delivered")
		}
	})

	t.Run("should reject configs that fail validation", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")
		writeTestConfig(t, configPath, `{"gateway": {"port": 8000}}`)

		changes := make(chan *Config, 4)
		watcher, err := Watch(configPath, zerolog.Nop(), func(cfg *Config) {
			changes <- cfg
		})
		require.NoError(t, err)
		defer watcher.Stop()

		// Parses fine, fails validation.
		writeTestConfig(t, configPath, `{"logging": {"level": "chatty"}}`)

		select {
		case cfg := <-changes:
			t.Fatalf("invalid config was delivered: %+v", cfg)
		case <-time.After(1500 * time.Millisecond):
		}
	})

	t.Run("should require a callback", func(t *testing.T) {
		_, err := Watch("/tmp/whatever.json", zerolog.Nop(), nil)
		assert.Error(t, err)
	})
}
