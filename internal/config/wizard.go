package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Wizard provides an interactive configuration wizard.
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a configuration wizard reading answers from in and
// printing prompts to out.
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard and returns the resulting
// configuration.
func (w *Wizard) Run() (*Config, error) {
	fmt.Fprintln(w.out, "=== FlexyGent Configuration Wizard ===")
	fmt.Fprintln(w.out)

	cfg := DefaultConfig()
	validator := NewValidator()

	// Provider
	fmt.Fprintln(w.out, "Model provider:")
	fmt.Fprintln(w.out, "  openai     - OpenAI API (default)")
	fmt.Fprintln(w.out, "  openrouter - OpenRouter API")
	fmt.Fprintln(w.out, "  anthropic  - Anthropic API")
	for {
		fmt.Fprint(w.out, "Provider [openai]: ")
		name, err := w.readLine()
		if err != nil {
			return nil, err
		}

		if name == "" {
			name = "openai"
		}

		if err := validator.ValidateProvider(name); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}

		cfg.Provider.Name = name
		break
	}

	// API key
	for {
		fmt.Fprintf(w.out, "%s API key: ", cfg.Provider.Name)
		key, err := w.readLine()
		if err != nil {
			return nil, err
		}

		if key == "" {
			fmt.Fprintln(w.out, "Error: API key is required")
			continue
		}

		if err := validator.ValidateAPIKey(key, cfg.Provider.Name); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}

		cfg.Provider.APIKey = key
		break
	}

	// Model
	fmt.Fprintf(w.out, "Model name [%s]: ", cfg.Provider.Model)
	model, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if model != "" {
		cfg.Provider.Model = model
	}

	fmt.Fprintln(w.out)

	// Interaction mode
	fmt.Fprintln(w.out, "Interaction mode options:")
	fmt.Fprintln(w.out, "  terminal - confirmation prompts on the terminal (default)")
	fmt.Fprintln(w.out, "  telegram - confirmation prompts via a Telegram bot")
	fmt.Fprintln(w.out, "  noop     - run unattended, confirmations auto-approve")
	fmt.Fprint(w.out, "Interaction mode [terminal]: ")
	mode, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if mode == "" {
		mode = ModeTerminal
	}

	if err := validator.ValidateInteractionMode(mode); err != nil {
		fmt.Fprintf(w.out, "Warning: %v, using default (terminal)\n", err)
		mode = ModeTerminal
	}
	cfg.Interaction.Mode = mode

	if mode == ModeTelegram {
		for {
			fmt.Fprint(w.out, "Telegram bot token: ")
			token, err := w.readLine()
			if err != nil {
				return nil, err
			}

			if err := validator.ValidateTelegramToken(token); err != nil {
				fmt.Fprintf(w.out, "Error: %v\n", err)
				continue
			}

			cfg.Interaction.Telegram.BotToken = token
			break
		}

		for {
			fmt.Fprint(w.out, "Telegram chat ID: ")
			raw, err := w.readLine()
			if err != nil {
				return nil, err
			}

			chatID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || chatID == 0 {
				fmt.Fprintln(w.out, "Error: chat ID must be a non-zero integer")
				continue
			}

			cfg.Interaction.Telegram.ChatID = chatID
			break
		}
	}

	fmt.Fprintln(w.out)

	// Log level
	fmt.Fprint(w.out, "Log level (debug/info/warn/error) [info]: ")
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Fprintf(w.out, "Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return cfg, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
