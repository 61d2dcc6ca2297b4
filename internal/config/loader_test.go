package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.configPath)
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "nonexistent.json")

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.NotNil(t, cfg)
		assert.Equal(t, "openai", cfg.Provider.Name)
		assert.Equal(t, ModeTerminal, cfg.Interaction.Mode)
	})

	t.Run("load config from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		testConfig := `{
			"provider": {
				"name": "anthropic",
				"model": "claude-sonnet-4",
				"api_key": "sk-ant-test123"
			},
			"policy": {
				"autonomy": "confirm",
				"confirm_tools": ["fs.write_file"]
			},
			"gateway": {
				"port": 9000
			}
		}`
		err := os.WriteFile(configPath, []byte(testConfig), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, "anthropic", cfg.Provider.Name)
		assert.Equal(t, "claude-sonnet-4", cfg.Provider.Model)
		assert.Equal(t, "sk-ant-test123", cfg.Provider.APIKey)
		assert.Equal(t, "confirm", cfg.Policy.Autonomy)
		assert.Equal(t, []string{"fs.write_file"}, cfg.Policy.ConfirmTools)
		assert.Equal(t, 9000, cfg.Gateway.Port)
		// Untouched sections keep their defaults.
		assert.Equal(t, 8, cfg.Policy.MaxSteps)
		assert.Equal(t, "info", cfg.Logging.Level)
	})

	t.Run("environment variables override file values", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		testConfig := `{
			"provider": {
				"name": "openai",
				"model": "gpt-4o"
			}
		}`
		err := os.WriteFile(configPath, []byte(testConfig), 0644)
		require.NoError(t, err)

		t.Setenv("FLEXYGENT_PROVIDER_MODEL", "gpt-4.1")

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, "gpt-4.1", cfg.Provider.Model)
	})

	t.Run("set default workspace path", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		testConfig := `{
			"provider": {
				"api_key": "sk-test"
			}
		}`
		err := os.WriteFile(configPath, []byte(testConfig), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.NotEmpty(t, cfg.Tools.Workspace)
		assert.Contains(t, cfg.Tools.Workspace, ".flexygent")
	})

	t.Run("configured workspace path is kept", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		testConfig := `{
			"tools": {
				"workspace": "/srv/agent-workspace"
			}
		}`
		err := os.WriteFile(configPath, []byte(testConfig), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, "/srv/agent-workspace", cfg.Tools.Workspace)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "invalid.json")

		err := os.WriteFile(configPath, []byte("invalid json"), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		_, err = loader.Load()

		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	t.Run("save config to file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		cfg := DefaultConfig()
		cfg.Provider.APIKey = "sk-test-key"
		cfg.Gateway.Secret = "shared-secret"

		loader := NewLoader(configPath)
		err := loader.Save(cfg)

		require.NoError(t, err)

		// Verify file was created
		_, err = os.Stat(configPath)
		assert.NoError(t, err)

		// Load and verify
		loader2 := NewLoader(configPath)
		loadedCfg, err := loader2.Load()
		require.NoError(t, err)
		assert.Equal(t, "sk-test-key", loadedCfg.Provider.APIKey)
		assert.Equal(t, "shared-secret", loadedCfg.Gateway.Secret)
		assert.Equal(t, 8787, loadedCfg.Gateway.Port)
	})

	t.Run("create directory if not exists", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "subdir", "config.json")

		cfg := DefaultConfig()
		cfg.Provider.APIKey = "sk-test-key"

		loader := NewLoader(configPath)
		err := loader.Save(cfg)

		require.NoError(t, err)

		// Verify directory was created
		_, err = os.Stat(filepath.Dir(configPath))
		assert.NoError(t, err)
	})

	t.Run("schedules and hooks survive a round trip", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		cfg := DefaultConfig()
		cfg.Schedules = []ScheduleConfig{
			{Name: "heartbeat", Task: "Say hello", Kind: "every", EveryMs: 60000},
		}
		cfg.Hooks = HooksConfig{
			Enabled: true,
			Entries: []HookConfig{
				{Event: "run.finished", Script: "/bin/true", Enabled: true},
			},
		}

		loader := NewLoader(configPath)
		require.NoError(t, loader.Save(cfg))

		loadedCfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)
		require.Len(t, loadedCfg.Schedules, 1)
		assert.Equal(t, "heartbeat", loadedCfg.Schedules[0].Name)
		assert.Equal(t, 60000, loadedCfg.Schedules[0].EveryMs)
		assert.True(t, loadedCfg.Hooks.Enabled)
		require.Len(t, loadedCfg.Hooks.Entries, 1)
		assert.Equal(t, "run.finished", loadedCfg.Hooks.Entries[0].Event)
	})
}

func TestLoaderGetConfigPath(t *testing.T) {
	t.Run("custom path", func(t *testing.T) {
		loader := NewLoader("/custom/path/config.json")
		path := loader.GetConfigPath()
		assert.Equal(t, "/custom/path/config.json", path)
	})

	t.Run("default path", func(t *testing.T) {
		loader := NewLoader("")
		path := loader.GetConfigPath()
		assert.NotEmpty(t, path)
		assert.Contains(t, path, ".flexygent")
	})
}
