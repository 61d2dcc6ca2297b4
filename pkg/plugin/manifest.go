// Package plugin loads out-of-process tool providers. Each plugin lives in
// its own directory with a manifest.yaml declaring the tools it serves and
// an executable speaking the go-plugin NetRPC protocol.
package plugin

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/flexygent/flexygent/pkg/tool"
)

// pluginIDRegex validates plugin ID format (lowercase alphanumeric with hyphens)
var pluginIDRegex = regexp.MustCompile(`^[a-z0-9-]+$`)

// Manifest describes one plugin directory.
type Manifest struct {
	ID             string         `yaml:"id"`
	Version        string         `yaml:"version"`
	Main           string         `yaml:"main"`
	MinHostVersion string         `yaml:"min_host_version,omitempty"`
	Tools          []ToolManifest `yaml:"tools"`
}

// ToolManifest declares one tool the plugin serves.
type ToolManifest struct {
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description,omitempty"`
	Tags         []string       `yaml:"tags,omitempty"`
	TimeoutMs    int            `yaml:"timeout_ms,omitempty"`
	InputSchema  map[string]any `yaml:"input_schema,omitempty"`
	OutputSchema map[string]any `yaml:"output_schema,omitempty"`
}

// Descriptor converts the manifest entry into a catalog descriptor.
func (t ToolManifest) Descriptor() tool.Descriptor {
	return tool.Descriptor{
		Name:         t.Name,
		Description:  t.Description,
		Tags:         t.Tags,
		Timeout:      time.Duration(t.TimeoutMs) * time.Millisecond,
		InputSchema:  t.InputSchema,
		OutputSchema: t.OutputSchema,
	}
}

// LoadManifest reads and validates a plugin manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("manifest validation failed: %w", err)
	}

	return &manifest, nil
}

// Validate checks the manifest's structure.
func (m *Manifest) Validate() error {
	if !pluginIDRegex.MatchString(m.ID) {
		return fmt.Errorf("invalid plugin ID format: %q (must be lowercase alphanumeric with hyphens)", m.ID)
	}

	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return fmt.Errorf("invalid version %q: %w", m.Version, err)
	}

	if m.Main == "" {
		return fmt.Errorf("main entry point cannot be empty")
	}

	if m.MinHostVersion != "" {
		if _, err := semver.NewConstraint(m.MinHostVersion); err != nil {
			return fmt.Errorf("invalid min_host_version %q: %w", m.MinHostVersion, err)
		}
	}

	if len(m.Tools) == 0 {
		return fmt.Errorf("manifest declares no tools")
	}

	seen := make(map[string]bool, len(m.Tools))
	for i, t := range m.Tools {
		if t.Name == "" {
			return fmt.Errorf("tool %d: name is required", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate tool name %q", t.Name)
		}
		seen[t.Name] = true

		if t.TimeoutMs < 0 {
			return fmt.Errorf("tool %q: timeout_ms cannot be negative", t.Name)
		}
	}

	return nil
}
