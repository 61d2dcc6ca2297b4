package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexygent/flexygent/pkg/tool"
)

func newLoader(t *testing.T, catalog *tool.Catalog) *Loader {
	t.Helper()
	l, err := NewLoader(Config{Catalog: catalog, HostVersion: "0.5.0", Logger: zerolog.Nop()})
	require.NoError(t, err)
	return l
}

func writePluginDir(t *testing.T, root, name, manifest string) Discovered {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, ManifestFileName)
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o644))
	return Discovered{Dir: dir, ManifestPath: path}
}

func TestNewLoader(t *testing.T) {
	t.Run("should require a catalog", func(t *testing.T) {
		_, err := NewLoader(Config{HostVersion: "0.1.0"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "catalog is required")
	})

	t.Run("should require a parseable host version", func(t *testing.T) {
		_, err := NewLoader(Config{Catalog: tool.NewCatalog()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "host version is required")

		_, err = NewLoader(Config{Catalog: tool.NewCatalog(), HostVersion: "dev"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid host version")
	})
}

func TestLoader_Load(t *testing.T) {
	t.Run("should reject an incompatible host version", func(t *testing.T) {
		l := newLoader(t, tool.NewCatalog())
		d := writePluginDir(t, t.TempDir(), "future", `id: future
version: 1.0.0
main: future-bin
min_host_version: ">= 2.0.0"
tools:
  - name: future.tool
`)

		err := l.Load(d)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires host >= 2.0.0")
	})

	t.Run("should reject a tool name already in the catalog", func(t *testing.T) {
		catalog := tool.NewCatalog()
		require.NoError(t, catalog.Register(&staticTool{name: "taken.tool"}))

		l := newLoader(t, catalog)
		d := writePluginDir(t, t.TempDir(), "clash", `id: clash
version: 1.0.0
main: clash-bin
tools:
  - name: taken.tool
`)

		err := l.Load(d)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("should fail when the executable is missing", func(t *testing.T) {
		l := newLoader(t, tool.NewCatalog())
		d := writePluginDir(t, t.TempDir(), "ghost", `id: ghost
version: 1.0.0
main: ghost-bin
tools:
  - name: ghost.tool
`)

		err := l.Load(d)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "plugin executable not found")
	})
}

func TestLoader_LoadDir(t *testing.T) {
	t.Run("should skip broken plugins without failing", func(t *testing.T) {
		root := t.TempDir()
		writePluginDir(t, root, "broken", "id: NOT VALID")
		writePluginDir(t, root, "no-binary", `id: no-binary
version: 1.0.0
main: missing-bin
tools:
  - name: nb.tool
`)

		l := newLoader(t, tool.NewCatalog())
		loaded, err := l.LoadDir(root)
		require.NoError(t, err)
		assert.Zero(t, loaded)
		assert.Empty(t, l.Loaded())
	})

	t.Run("should treat a missing directory as empty", func(t *testing.T) {
		l := newLoader(t, tool.NewCatalog())
		loaded, err := l.LoadDir(filepath.Join(t.TempDir(), "absent"))
		require.NoError(t, err)
		assert.Zero(t, loaded)
	})
}

func TestLoader_Close(t *testing.T) {
	l := newLoader(t, tool.NewCatalog())
	l.Close()
	l.Close()
	assert.Empty(t, l.Loaded())
}

func TestPluginTool_Execute(t *testing.T) {
	t.Run("should forward name and args to the provider", func(t *testing.T) {
		provider := &fakeProvider{result: map[string]any{"ok": true}}
		pt := &pluginTool{
			provider: provider,
			pluginID: "weather-tools",
			desc:     tool.Descriptor{Name: "weather.current"},
		}

		result, err := pt.Execute(context.Background(), map[string]any{"city": "Oslo"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"ok": true}, result)
		assert.Equal(t, "weather.current", provider.lastName)
		assert.Equal(t, map[string]any{"city": "Oslo"}, provider.lastArgs)
	})

	t.Run("should name the plugin in execution errors", func(t *testing.T) {
		provider := &fakeProvider{err: errors.New("upstream down")}
		pt := &pluginTool{
			provider: provider,
			pluginID: "weather-tools",
			desc:     tool.Descriptor{Name: "weather.current"},
		}

		_, err := pt.Execute(context.Background(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "plugin weather-tools")
		assert.Contains(t, err.Error(), "upstream down")
	})
}

type fakeProvider struct {
	lastName string
	lastArgs map[string]any
	result   map[string]any
	err      error
}

func (f *fakeProvider) Execute(name string, args map[string]any) (map[string]any, error) {
	f.lastName = name
	f.lastArgs = args
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// staticTool is a minimal catalog entry for conflict tests.
type staticTool struct {
	name string
}

func (s *staticTool) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:        s.name,
		Description: "static test tool",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	}
}

func (s *staticTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return map[string]any{}, nil
}
