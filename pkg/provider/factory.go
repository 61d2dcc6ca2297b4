package provider

import (
	"fmt"

	"github.com/openai/openai-go/option"

	"github.com/flexygent/flexygent/pkg/orchestrator"
)

// Options selects and configures a provider.
type Options struct {
	Name    string
	APIKey  string
	BaseURL string
}

// FromConfig builds a model client from provider options.
func FromConfig(opts Options) (orchestrator.ModelClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("api key is required for provider %s", opts.Name)
	}

	switch opts.Name {
	case "openai":
		if opts.BaseURL != "" {
			return NewOpenAI(opts.APIKey, option.WithBaseURL(opts.BaseURL)), nil
		}
		return NewOpenAI(opts.APIKey), nil
	case "openrouter":
		return NewOpenRouter(opts.APIKey), nil
	case "anthropic":
		return NewAnthropic(opts.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", opts.Name)
	}
}
