package plugin

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validManifest = `id: weather-tools
version: 1.2.0
main: weather-plugin
min_host_version: ">= 0.1.0"
tools:
  - name: weather.current
    description: Current conditions for a city
    tags: [web, weather]
    timeout_ms: 5000
    input_schema:
      type: object
      properties:
        city:
          type: string
      required: [city]
    output_schema:
      type: object
      properties:
        summary:
          type: string
  - name: weather.forecast
    description: Multi-day forecast
`

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ManifestFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadManifest(t *testing.T) {
	t.Run("should parse a valid manifest", func(t *testing.T) {
		manifest, err := LoadManifest(writeManifest(t, validManifest))
		require.NoError(t, err)

		assert.Equal(t, "weather-tools", manifest.ID)
		assert.Equal(t, "1.2.0", manifest.Version)
		assert.Equal(t, "weather-plugin", manifest.Main)
		assert.Equal(t, ">= 0.1.0", manifest.MinHostVersion)
		require.Len(t, manifest.Tools, 2)

		first := manifest.Tools[0]
		assert.Equal(t, "weather.current", first.Name)
		assert.Equal(t, []string{"web", "weather"}, first.Tags)
		assert.Equal(t, 5000, first.TimeoutMs)
		assert.Equal(t, "object", first.InputSchema["type"])

		props, ok := first.InputSchema["properties"].(map[string]any)
		require.True(t, ok, "nested schema maps should decode as map[string]any")
		assert.Contains(t, props, "city")
	})

	t.Run("should convert tool entries to descriptors", func(t *testing.T) {
		manifest, err := LoadManifest(writeManifest(t, validManifest))
		require.NoError(t, err)

		desc := manifest.Tools[0].Descriptor()
		assert.Equal(t, "weather.current", desc.Name)
		assert.Equal(t, "Current conditions for a city", desc.Description)
		assert.Equal(t, 5*time.Second, desc.Timeout)
		assert.NotNil(t, desc.InputSchema)
		assert.NotNil(t, desc.OutputSchema)

		second := manifest.Tools[1].Descriptor()
		assert.Zero(t, second.Timeout)
		assert.Nil(t, second.InputSchema)
	})

	t.Run("should fail when the file is missing", func(t *testing.T) {
		_, err := LoadManifest(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read manifest")
	})

	t.Run("should fail on malformed yaml", func(t *testing.T) {
		_, err := LoadManifest(writeManifest(t, "id: [unclosed"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse manifest")
	})
}

func TestManifestValidate(t *testing.T) {
	base := func() Manifest {
		return Manifest{
			ID:      "my-plugin",
			Version: "0.1.0",
			Main:    "plugin-bin",
			Tools:   []ToolManifest{{Name: "my.tool"}},
		}
	}

	t.Run("should accept a minimal manifest", func(t *testing.T) {
		m := base()
		require.NoError(t, m.Validate())
	})

	t.Run("should reject an invalid plugin ID", func(t *testing.T) {
		for _, id := range []string{"", "My Plugin", "UPPER", "under_score"} {
			m := base()
			m.ID = id
			err := m.Validate()
			require.Error(t, err, "id %q", id)
			assert.Contains(t, err.Error(), "invalid plugin ID")
		}
	})

	t.Run("should reject a non-semver version", func(t *testing.T) {
		for _, version := range []string{"", "1.2", "not-a-version", "v1.2.3"} {
			m := base()
			m.Version = version
			err := m.Validate()
			require.Error(t, err, "version %q", version)
			assert.Contains(t, err.Error(), "invalid version")
		}
	})

	t.Run("should require a main entry point", func(t *testing.T) {
		m := base()
		m.Main = ""
		err := m.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "main entry point")
	})

	t.Run("should reject an invalid host constraint", func(t *testing.T) {
		m := base()
		m.MinHostVersion = "garbage"
		err := m.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid min_host_version")
	})

	t.Run("should require at least one tool", func(t *testing.T) {
		m := base()
		m.Tools = nil
		err := m.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "declares no tools")
	})

	t.Run("should reject unnamed and duplicate tools", func(t *testing.T) {
		m := base()
		m.Tools = []ToolManifest{{Name: ""}}
		err := m.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "name is required")

		m.Tools = []ToolManifest{{Name: "a.b"}, {Name: "a.b"}}
		err = m.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate tool name")
	})

	t.Run("should reject a negative timeout", func(t *testing.T) {
		m := base()
		m.Tools = []ToolManifest{{Name: "a.b", TimeoutMs: -5}}
		err := m.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout_ms cannot be negative")
	})
}
