package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover(t *testing.T) {
	t.Run("should find directories with manifests", func(t *testing.T) {
		dir := t.TempDir()

		for _, name := range []string{"alpha", "beta", "gamma"} {
			require.NoError(t, os.MkdirAll(filepath.Join(dir, name), 0o755))
		}
		// beta has no manifest, a stray file is not a plugin
		require.NoError(t, os.WriteFile(filepath.Join(dir, "alpha", ManifestFileName), []byte("id: alpha"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "gamma", ManifestFileName), []byte("id: gamma"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "stray.txt"), []byte("x"), 0o644))

		discovered, err := Discover(dir)
		require.NoError(t, err)
		require.Len(t, discovered, 2)

		assert.Equal(t, filepath.Join(dir, "alpha"), discovered[0].Dir)
		assert.Equal(t, filepath.Join(dir, "alpha", ManifestFileName), discovered[0].ManifestPath)
		assert.Equal(t, filepath.Join(dir, "gamma"), discovered[1].Dir)
	})

	t.Run("should return nothing for a missing directory", func(t *testing.T) {
		discovered, err := Discover(filepath.Join(t.TempDir(), "absent"))
		require.NoError(t, err)
		assert.Empty(t, discovered)
	})

	t.Run("should return nothing for an empty path", func(t *testing.T) {
		discovered, err := Discover("")
		require.NoError(t, err)
		assert.Empty(t, discovered)
	})

	t.Run("should fail when the path is a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file.txt")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

		_, err := Discover(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a directory")
	})
}
