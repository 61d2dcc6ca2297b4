// Package hooks runs user-configured shell scripts on run lifecycle events.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds hook scripts that do not declare their own timeout.
const DefaultTimeout = 30 * time.Second

// Hook defines a lifecycle event hook.
type Hook struct {
	ID      string
	Event   string
	Script  string
	Timeout time.Duration
	Enabled bool
}

// Config configures a hook manager.
type Config struct {
	Enabled bool
	Hooks   []Hook
	Logger  zerolog.Logger
}

// Manager executes configured hooks for lifecycle events.
type Manager struct {
	enabled bool
	logger  zerolog.Logger

	mu           sync.RWMutex
	hooksByEvent map[string][]Hook
}

// NewManager creates a hook manager. Disabled hooks are skipped; a disabled
// manager accepts registrations but never executes anything.
func NewManager(cfg Config) (*Manager, error) {
	manager := &Manager{
		enabled:      cfg.Enabled,
		logger:       cfg.Logger.With().Str("component", "hooks").Logger(),
		hooksByEvent: make(map[string][]Hook),
	}

	if !cfg.Enabled {
		return manager, nil
	}

	for _, hook := range cfg.Hooks {
		if err := manager.Register(hook); err != nil {
			return nil, err
		}
	}

	return manager, nil
}

// Register adds a hook for its event. Disabled hooks are ignored.
func (m *Manager) Register(hook Hook) error {
	if !hook.Enabled {
		return nil
	}

	event := strings.TrimSpace(hook.Event)
	if event == "" {
		return fmt.Errorf("hook event is required")
	}
	if strings.TrimSpace(hook.Script) == "" {
		return fmt.Errorf("hook script is required for event %q", event)
	}

	m.mu.Lock()
	m.hooksByEvent[event] = append(m.hooksByEvent[event], hook)
	m.mu.Unlock()

	return nil
}

// Trigger executes hooks registered for an event and returns their joined
// failures. Hook failures never affect the run that emitted the event;
// callers log the returned error at most.
func (m *Manager) Trigger(ctx context.Context, event string, data map[string]interface{}) error {
	if m == nil || !m.enabled {
		return nil
	}
	event = strings.TrimSpace(event)
	if event == "" {
		return fmt.Errorf("event is required")
	}

	m.mu.RLock()
	hooks := append([]Hook(nil), m.hooksByEvent[event]...)
	m.mu.RUnlock()
	if len(hooks) == 0 {
		return nil
	}

	var errs []error
	for _, hook := range hooks {
		if err := m.executeHook(ctx, event, hook, data); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (m *Manager) executeHook(ctx context.Context, event string, hook Hook, data map[string]interface{}) error {
	if ctx == nil {
		ctx = context.Background()
	}

	hookID := hook.ID
	if strings.TrimSpace(hookID) == "" {
		hookID = event
	}

	timeout := hook.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", hook.Script)
	cmd.Env = buildHookEnvironment(event, data)

	output, err := cmd.CombinedOutput()
	outputText := strings.TrimSpace(string(output))
	if err != nil {
		if outputText != "" {
			return fmt.Errorf("hook %s failed: %w: %s", hookID, err, outputText)
		}
		return fmt.Errorf("hook %s failed: %w", hookID, err)
	}

	if outputText != "" {
		m.logger.Debug().
			Str("event", event).
			Str("hook_id", hookID).
			Str("output", outputText).
			Msg("Hook executed")
	}

	return nil
}

func buildHookEnvironment(event string, data map[string]interface{}) []string {
	env := append([]string{}, os.Environ()...)
	env = append(env, "FLEXYGENT_EVENT="+event)

	if len(data) == 0 {
		return env
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		envKey := "FLEXYGENT_DATA_" + normalizeEnvKey(key)
		env = append(env, envKey+"="+fmt.Sprintf("%v", data[key]))
	}
	return env
}

func normalizeEnvKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "UNKNOWN"
	}

	upper := strings.ToUpper(key)
	builder := strings.Builder{}
	builder.Grow(len(upper))
	for _, r := range upper {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			builder.WriteRune(r)
			continue
		}
		builder.WriteRune('_')
	}
	return builder.String()
}
