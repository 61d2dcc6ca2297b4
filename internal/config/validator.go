package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/flexygent/flexygent/pkg/orchestrator"
	"github.com/flexygent/flexygent/pkg/scheduler"
)

// Validator validates configuration values.
type Validator struct{}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProvider validates a provider name.
func (v *Validator) ValidateProvider(name string) error {
	if name == "" {
		return fmt.Errorf("provider name cannot be empty")
	}

	validProviders := []string{"openai", "openrouter", "anthropic"}
	for _, valid := range validProviders {
		if name == valid {
			return nil
		}
	}

	return fmt.Errorf("invalid provider: %s (must be one of: %s)", name, strings.Join(validProviders, ", "))
}

// ValidateAPIKey validates an API key format for a provider.
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openrouter":
		if !strings.HasPrefix(key, "sk-or-") {
			return fmt.Errorf("invalid OpenRouter API key format (should start with sk-or-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateModel validates a model name.
func (v *Validator) ValidateModel(model string) error {
	if model == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	return nil
}

// ValidateTelegramToken validates a Telegram bot token.
func (v *Validator) ValidateTelegramToken(token string) error {
	if token == "" {
		return fmt.Errorf("telegram bot token cannot be empty")
	}

	// Telegram bot tokens have format: <bot_id>:<token>
	// Example: 123456789:ABCdefGHIjklMNOpqrsTUVwxyz
	pattern := regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)
	if !pattern.MatchString(token) {
		return fmt.Errorf("invalid Telegram bot token format")
	}

	return nil
}

// ValidateAutonomy validates an autonomy level. Empty falls back to the
// default at run time.
func (v *Validator) ValidateAutonomy(autonomy string) error {
	switch orchestrator.Autonomy(autonomy) {
	case orchestrator.AutonomyAuto, orchestrator.AutonomyConfirm, orchestrator.AutonomyNever, "":
		return nil
	}
	return fmt.Errorf("invalid autonomy level: %s (must be one of: auto, confirm, never)", autonomy)
}

// ValidateInteractionMode validates an interaction mode. Empty falls back to
// terminal.
func (v *Validator) ValidateInteractionMode(mode string) error {
	switch mode {
	case ModeTerminal, ModeTelegram, ModeNoop, "":
		return nil
	}
	return fmt.Errorf("invalid interaction mode: %s (must be one of: terminal, telegram, noop)", mode)
}

// ValidateTemperature validates a sampling temperature.
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates a max tokens value.
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates a log level.
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidatePort validates a TCP port.
func (v *Validator) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}

// ValidateConfig performs comprehensive validation and returns every problem
// found.
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	// Provider
	if err := v.ValidateProvider(cfg.Provider.Name); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateModel(cfg.Provider.Model); err != nil {
		errors = append(errors, err)
	}
	if cfg.Provider.APIKey != "" {
		if err := v.ValidateAPIKey(cfg.Provider.APIKey, cfg.Provider.Name); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Provider.Temperature != 0 {
		if err := v.ValidateTemperature(cfg.Provider.Temperature); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Provider.MaxTokens != 0 {
		if err := v.ValidateMaxTokens(cfg.Provider.MaxTokens); err != nil {
			errors = append(errors, err)
		}
	}

	// Policy, including the autonomy enum
	if err := cfg.Policy.Policy().Validate(); err != nil {
		errors = append(errors, fmt.Errorf("policy: %w", err))
	}

	// Interaction
	if err := v.ValidateInteractionMode(cfg.Interaction.Mode); err != nil {
		errors = append(errors, err)
	}
	if cfg.Interaction.Mode == ModeTelegram {
		if err := v.ValidateTelegramToken(cfg.Interaction.Telegram.BotToken); err != nil {
			errors = append(errors, err)
		}
		if cfg.Interaction.Telegram.ChatID == 0 {
			errors = append(errors, fmt.Errorf("telegram chat_id is required for telegram interaction mode"))
		}
	}
	if cfg.Interaction.ConfirmTimeoutMs < 0 {
		errors = append(errors, fmt.Errorf("interaction confirm_timeout_ms must be >= 0"))
	}

	// Tools
	if cfg.Tools.EchoMaxConcurrency < 0 {
		errors = append(errors, fmt.Errorf("tools echo_max_concurrency must be >= 0"))
	}

	// Gateway
	if err := v.ValidatePort(cfg.Gateway.Port); err != nil {
		errors = append(errors, fmt.Errorf("gateway: %w", err))
	}

	// Logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	// Schedules
	for i, sched := range cfg.Schedules {
		if strings.TrimSpace(sched.Name) == "" {
			errors = append(errors, fmt.Errorf("schedule %d: name is required", i))
		}
		if strings.TrimSpace(sched.Task) == "" {
			errors = append(errors, fmt.Errorf("schedule %d (%s): task is required", i, sched.Name))
		}
		if _, err := scheduler.NextRun(sched.SchedulerTask().Schedule, time.Now()); err != nil {
			errors = append(errors, fmt.Errorf("schedule %d (%s): %w", i, sched.Name, err))
		}
	}

	// Hooks
	if cfg.Hooks.Enabled {
		for i, hook := range cfg.Hooks.Entries {
			if !hook.Enabled {
				continue
			}
			if strings.TrimSpace(hook.Event) == "" {
				errors = append(errors, fmt.Errorf("hook %d: event is required", i))
			}
			if strings.TrimSpace(hook.Script) == "" {
				errors = append(errors, fmt.Errorf("hook %d: script is required", i))
			}
			if hook.TimeoutMs < 0 {
				errors = append(errors, fmt.Errorf("hook %d: timeout_ms must be >= 0", i))
			}
		}
	}

	return errors
}
