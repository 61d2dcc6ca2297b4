package plugin

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/hashicorp/go-plugin"
	"github.com/rs/zerolog"

	"github.com/flexygent/flexygent/pkg/tool"
)

// Loader starts plugin processes and registers their tools in the catalog.
type Loader struct {
	catalog     *tool.Catalog
	hostVersion string
	logger      zerolog.Logger

	mu      sync.Mutex
	clients map[string]*plugin.Client
}

// Config configures a Loader.
type Config struct {
	Catalog     *tool.Catalog
	HostVersion string
	Logger      zerolog.Logger
}

// NewLoader creates a plugin loader.
func NewLoader(cfg Config) (*Loader, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if cfg.HostVersion == "" {
		return nil, fmt.Errorf("host version is required")
	}
	if _, err := semver.NewVersion(cfg.HostVersion); err != nil {
		return nil, fmt.Errorf("invalid host version %q: %w", cfg.HostVersion, err)
	}

	return &Loader{
		catalog:     cfg.Catalog,
		hostVersion: cfg.HostVersion,
		logger:      cfg.Logger.With().Str("component", "plugin-loader").Logger(),
		clients:     make(map[string]*plugin.Client),
	}, nil
}

// LoadDir discovers and loads every plugin under dir. Invalid or
// incompatible plugins are skipped with a warning, never fatally. Returns
// the number of plugins loaded.
func (l *Loader) LoadDir(dir string) (int, error) {
	discovered, err := Discover(dir)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, d := range discovered {
		if err := l.Load(d); err != nil {
			l.logger.Warn().Err(err).Str("dir", d.Dir).Msg("Skipping plugin")
			continue
		}
		loaded++
	}

	if loaded > 0 {
		l.logger.Info().Int("count", loaded).Msg("Plugins loaded")
	}

	return loaded, nil
}

// Load starts one plugin process and registers its manifest tools.
func (l *Loader) Load(d Discovered) error {
	manifest, err := LoadManifest(d.ManifestPath)
	if err != nil {
		return err
	}

	if err := l.checkHostVersion(manifest); err != nil {
		return err
	}

	l.mu.Lock()
	_, exists := l.clients[manifest.ID]
	l.mu.Unlock()
	if exists {
		return fmt.Errorf("plugin %s is already loaded", manifest.ID)
	}

	// Name conflicts are caught before the process is started.
	for _, tm := range manifest.Tools {
		if l.catalog.Has(tm.Name) {
			return fmt.Errorf("tool %s is already registered", tm.Name)
		}
	}

	pluginPath := filepath.Join(d.Dir, manifest.Main)
	if _, err := os.Stat(pluginPath); err != nil {
		return fmt.Errorf("plugin executable not found: %s", pluginPath)
	}

	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          PluginMap,
		Cmd:              exec.Command(pluginPath),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return fmt.Errorf("failed to connect to plugin: %w", err)
	}

	raw, err := rpcClient.Dispense(ProviderPluginName)
	if err != nil {
		client.Kill()
		return fmt.Errorf("failed to dispense plugin: %w", err)
	}

	provider, ok := raw.(ToolProvider)
	if !ok {
		client.Kill()
		return fmt.Errorf("unexpected plugin type")
	}

	for _, tm := range manifest.Tools {
		pt := &pluginTool{provider: provider, pluginID: manifest.ID, desc: tm.Descriptor()}
		if err := l.catalog.Register(pt); err != nil {
			client.Kill()
			return fmt.Errorf("failed to register tool %s: %w", tm.Name, err)
		}
	}

	l.mu.Lock()
	l.clients[manifest.ID] = client
	l.mu.Unlock()

	l.logger.Info().
		Str("id", manifest.ID).
		Str("version", manifest.Version).
		Int("tools", len(manifest.Tools)).
		Msg("Plugin loaded")

	return nil
}

func (l *Loader) checkHostVersion(m *Manifest) error {
	if m.MinHostVersion == "" {
		return nil
	}

	constraint, err := semver.NewConstraint(m.MinHostVersion)
	if err != nil {
		return fmt.Errorf("invalid min_host_version %q: %w", m.MinHostVersion, err)
	}
	host, err := semver.NewVersion(l.hostVersion)
	if err != nil {
		return fmt.Errorf("invalid host version %q: %w", l.hostVersion, err)
	}

	if !constraint.Check(host) {
		return fmt.Errorf("plugin %s requires host %s, host is %s", m.ID, m.MinHostVersion, l.hostVersion)
	}

	return nil
}

// Loaded returns the IDs of loaded plugins, sorted.
func (l *Loader) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.clients))
	for id := range l.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// Close kills all plugin processes. Tools registered from them stay in the
// catalog but fail on execution; Close is for shutdown, not reload.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, client := range l.clients {
		client.Kill()
		delete(l.clients, id)
		l.logger.Debug().Str("id", id).Msg("Plugin process stopped")
	}
}

// pluginTool forwards catalog executions to the plugin process.
type pluginTool struct {
	provider ToolProvider
	pluginID string
	desc     tool.Descriptor
}

func (t *pluginTool) Descriptor() tool.Descriptor { return t.desc }

// Execute forwards over RPC. The catalog enforces the timeout, the call
// itself is synchronous.
func (t *pluginTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	result, err := t.provider.Execute(t.desc.Name, args)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", t.pluginID, err)
	}
	return result, nil
}
