package plugin

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// ManifestFileName is the per-plugin manifest file Discover looks for.
const ManifestFileName = "manifest.yaml"

// Discovered points at a plugin directory containing a manifest.
type Discovered struct {
	Dir          string
	ManifestPath string
}

// Discover scans dir for subdirectories carrying a manifest. A missing dir
// yields no plugins and no error.
func Discover(dir string) ([]Discovered, error) {
	if dir == "" {
		return nil, nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("dir", dir).Msg("Plugin directory does not exist, skipping")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var discovered []Discovered
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pluginDir := filepath.Join(dir, entry.Name())
		manifestPath := filepath.Join(pluginDir, ManifestFileName)
		if _, err := os.Stat(manifestPath); err != nil {
			continue
		}

		discovered = append(discovered, Discovered{Dir: pluginDir, ManifestPath: manifestPath})
		log.Debug().Str("dir", pluginDir).Msg("Discovered plugin")
	}

	return discovered, nil
}
