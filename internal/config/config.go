// Package config loads, validates and persists the FlexyGent configuration
// file and converts its on-disk form into the option structs the runtime
// packages consume.
package config

import (
	"time"

	"github.com/flexygent/flexygent/internal/logger"
	"github.com/flexygent/flexygent/pkg/coretools"
	"github.com/flexygent/flexygent/pkg/hooks"
	"github.com/flexygent/flexygent/pkg/orchestrator"
	"github.com/flexygent/flexygent/pkg/provider"
	"github.com/flexygent/flexygent/pkg/scheduler"
)

// Interaction modes selectable in configuration.
const (
	ModeTerminal = "terminal"
	ModeTelegram = "telegram"
	ModeNoop     = "noop"
)

// Config is the root configuration for the FlexyGent CLI and daemon.
type Config struct {
	Provider    ProviderConfig    `json:"provider" mapstructure:"provider"`
	Policy      PolicyConfig      `json:"policy" mapstructure:"policy"`
	Tools       ToolsConfig       `json:"tools" mapstructure:"tools"`
	Interaction InteractionConfig `json:"interaction" mapstructure:"interaction"`
	Gateway     GatewayConfig     `json:"gateway" mapstructure:"gateway"`
	Logging     LoggingConfig     `json:"logging" mapstructure:"logging"`
	Tracing     TracingConfig     `json:"tracing" mapstructure:"tracing"`
	Schedules   []ScheduleConfig  `json:"schedules,omitempty" mapstructure:"schedules"`
	Hooks       HooksConfig       `json:"hooks" mapstructure:"hooks"`
}

// ProviderConfig selects the model service and its credentials.
type ProviderConfig struct {
	Name        string  `json:"name" mapstructure:"name"`
	Model       string  `json:"model" mapstructure:"model"`
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	BaseURL     string  `json:"base_url,omitempty" mapstructure:"base_url"`
	Temperature float64 `json:"temperature,omitempty" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty" mapstructure:"max_tokens"`
}

// PolicyConfig is the on-disk form of the run policy.
type PolicyConfig struct {
	Autonomy          string   `json:"autonomy" mapstructure:"autonomy"`
	AllowTools        []string `json:"allow_tools,omitempty" mapstructure:"allow_tools"`
	DenyTools         []string `json:"deny_tools,omitempty" mapstructure:"deny_tools"`
	ConfirmTools      []string `json:"confirm_tools,omitempty" mapstructure:"confirm_tools"`
	MaxSteps          int      `json:"max_steps" mapstructure:"max_steps"`
	MaxToolCalls      int      `json:"max_tool_calls,omitempty" mapstructure:"max_tool_calls"`
	ParallelToolCalls bool     `json:"parallel_tool_calls" mapstructure:"parallel_tool_calls"`
	TruncateBytes     int      `json:"truncate_bytes" mapstructure:"truncate_bytes"`
	MaxWallTimeMs     int      `json:"max_wall_time_ms,omitempty" mapstructure:"max_wall_time_ms"`
}

// ToolsConfig configures the built-in tool set and plugin discovery.
type ToolsConfig struct {
	Workspace          string `json:"workspace" mapstructure:"workspace"`
	EchoMaxConcurrency int    `json:"echo_max_concurrency" mapstructure:"echo_max_concurrency"`
	PluginsDir         string `json:"plugins_dir,omitempty" mapstructure:"plugins_dir"`
	BrowserControlURL  string `json:"browser_control_url,omitempty" mapstructure:"browser_control_url"`
}

// InteractionConfig selects how confirmation and ask prompts reach a human.
type InteractionConfig struct {
	Mode             string         `json:"mode" mapstructure:"mode"`
	ConfirmTimeoutMs int            `json:"confirm_timeout_ms" mapstructure:"confirm_timeout_ms"`
	Telegram         TelegramConfig `json:"telegram" mapstructure:"telegram"`
}

// TelegramConfig holds the bot credentials for the telegram interaction mode.
type TelegramConfig struct {
	BotToken string `json:"bot_token,omitempty" mapstructure:"bot_token"`
	ChatID   int64  `json:"chat_id,omitempty" mapstructure:"chat_id"`
}

// GatewayConfig configures the HTTP and WebSocket serve surface.
type GatewayConfig struct {
	Host   string `json:"host" mapstructure:"host"`
	Port   int    `json:"port" mapstructure:"port"`
	Secret string `json:"secret,omitempty" mapstructure:"secret"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
	File   string `json:"file,omitempty" mapstructure:"file"`
	Redact bool   `json:"redact" mapstructure:"redact"`
}

// TracingConfig toggles the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name,omitempty" mapstructure:"service_name"`
}

// ScheduleConfig is the on-disk form of one scheduled task.
type ScheduleConfig struct {
	ID      string   `json:"id,omitempty" mapstructure:"id"`
	Name    string   `json:"name" mapstructure:"name"`
	Task    string   `json:"task" mapstructure:"task"`
	Tools   []string `json:"tools,omitempty" mapstructure:"tools"`
	Kind    string   `json:"kind" mapstructure:"kind"`
	EveryMs int      `json:"every_ms,omitempty" mapstructure:"every_ms"`
	Expr    string   `json:"expr,omitempty" mapstructure:"expr"`
	TZ      string   `json:"tz,omitempty" mapstructure:"tz"`
}

// HooksConfig configures lifecycle event hooks.
type HooksConfig struct {
	Enabled bool         `json:"enabled" mapstructure:"enabled"`
	Entries []HookConfig `json:"entries,omitempty" mapstructure:"entries"`
}

// HookConfig is the on-disk form of one lifecycle hook.
type HookConfig struct {
	ID        string `json:"id,omitempty" mapstructure:"id"`
	Event     string `json:"event" mapstructure:"event"`
	Script    string `json:"script" mapstructure:"script"`
	TimeoutMs int    `json:"timeout_ms,omitempty" mapstructure:"timeout_ms"`
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:  "openai",
			Model: "gpt-4o",
		},
		Policy: PolicyConfig{
			Autonomy:          string(orchestrator.AutonomyAuto),
			MaxSteps:          8,
			ParallelToolCalls: true,
			TruncateBytes:     8000,
		},
		Tools: ToolsConfig{
			EchoMaxConcurrency: 1,
		},
		Interaction: InteractionConfig{
			Mode:             ModeTerminal,
			ConfirmTimeoutMs: 60000,
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8787,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
			Redact: true,
		},
		Tracing: TracingConfig{
			ServiceName: "flexygent",
		},
	}
}

// Policy converts the on-disk policy into the orchestrator's form. An empty
// allow list, or one containing "*", exposes every registered tool.
func (p PolicyConfig) Policy() orchestrator.Policy {
	allow := p.AllowTools
	for _, name := range allow {
		if name == "*" {
			allow = nil
			break
		}
	}
	if len(allow) == 0 {
		allow = nil
	}

	return orchestrator.Policy{
		Autonomy:          orchestrator.Autonomy(p.Autonomy),
		AllowTools:        allow,
		DenyTools:         p.DenyTools,
		ConfirmTools:      p.ConfirmTools,
		MaxSteps:          p.MaxSteps,
		MaxToolCalls:      p.MaxToolCalls,
		ParallelToolCalls: p.ParallelToolCalls,
		TruncateBytes:     p.TruncateBytes,
		MaxWallTime:       time.Duration(p.MaxWallTimeMs) * time.Millisecond,
	}
}

// Options converts the provider section into provider factory options.
func (p ProviderConfig) Options() provider.Options {
	return provider.Options{
		Name:    p.Name,
		APIKey:  p.APIKey,
		BaseURL: p.BaseURL,
	}
}

// CoreOptions converts the tools section into core tool registration options.
func (t ToolsConfig) CoreOptions() coretools.Options {
	return coretools.Options{
		WorkspaceRoot:      t.Workspace,
		EchoMaxConcurrency: t.EchoMaxConcurrency,
		BrowserControlURL:  t.BrowserControlURL,
	}
}

// LoggerConfig converts the logging section into logger options, keeping the
// rotation defaults.
func (l LoggingConfig) LoggerConfig() logger.Config {
	cfg := logger.DefaultConfig()
	cfg.Level = l.Level
	cfg.File = l.File
	cfg.Pretty = l.Pretty
	cfg.Redaction = l.Redact
	return cfg
}

// ConfirmTimeout returns the confirmation timeout as a duration. Zero means
// the port's own default applies.
func (i InteractionConfig) ConfirmTimeout() time.Duration {
	return time.Duration(i.ConfirmTimeoutMs) * time.Millisecond
}

// SchedulerTask converts one schedule entry into a scheduler task.
func (s ScheduleConfig) SchedulerTask() scheduler.Task {
	return scheduler.Task{
		ID:    s.ID,
		Name:  s.Name,
		Task:  s.Task,
		Tools: s.Tools,
		Schedule: scheduler.Schedule{
			Kind:  scheduler.ScheduleKind(s.Kind),
			Every: time.Duration(s.EveryMs) * time.Millisecond,
			Expr:  s.Expr,
			TZ:    s.TZ,
		},
	}
}

// ScheduleTasks converts every configured schedule into scheduler tasks.
func (c *Config) ScheduleTasks() []scheduler.Task {
	if len(c.Schedules) == 0 {
		return nil
	}
	tasks := make([]scheduler.Task, 0, len(c.Schedules))
	for _, s := range c.Schedules {
		tasks = append(tasks, s.SchedulerTask())
	}
	return tasks
}

// Hook converts one hook entry into the hook manager's form.
func (h HookConfig) Hook() hooks.Hook {
	return hooks.Hook{
		ID:      h.ID,
		Event:   h.Event,
		Script:  h.Script,
		Timeout: time.Duration(h.TimeoutMs) * time.Millisecond,
		Enabled: h.Enabled,
	}
}

// Hooks converts every configured hook entry.
func (h HooksConfig) Hooks() []hooks.Hook {
	if len(h.Entries) == 0 {
		return nil
	}
	out := make([]hooks.Hook, 0, len(h.Entries))
	for _, entry := range h.Entries {
		out = append(out, entry.Hook())
	}
	return out
}
