package provider

import (
	"fmt"
	"strings"

	"github.com/mindloom/mindloom/config"
)

// SupportedProviders lists the provider names New understands.
func SupportedProviders() []string {
	return []string{"anthropic", "openai"}
}

// New builds a provider from configuration.
func New(cfg *config.Config) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	name := cfg.GetProvider()
	if name == "" {
		return nil, fmt.Errorf("provider is required")
	}

	model := cfg.GetModel()
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey, err := cfg.GetAPIKey()
	if err != nil {
		return nil, err
	}
	apiBase := cfg.GetAPIBase()

	switch name {
	case "anthropic":
		return NewAnthropicProvider(apiKey, apiBase, model, cfg.Worker.MaxTokens, cfg.Worker.Temperature), nil
	case "openai":
		return NewOpenAIProvider(apiKey, apiBase, model, cfg.Worker.MaxTokens, cfg.Worker.Temperature), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s (supported: %s)", name, strings.Join(SupportedProviders(), ", "))
	}
}
