package llm

import (
	"context"
	"fmt"
	"strings"
)

// Provider names accepted by Resolve.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
)

const (
	defaultOllamaURL = "http://localhost:11434/v1"
	defaultOpenAIURL = "https://api.openai.com/v1"

	// DefaultGeminiModel is used when no model is configured.
	DefaultGeminiModel = "gemini-2.0-flash-exp"
)

// ProviderConfig selects and configures a completion service.
type ProviderConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

// ParseModelSpec splits a "provider:model" string. A bare model name is
// treated as an Ollama model, e.g. "llama3.1:8b".
func ParseModelSpec(spec string) ProviderConfig {
	provider, model, found := strings.Cut(spec, ":")
	switch provider {
	case ProviderGemini, ProviderOpenAI, ProviderOllama, ProviderAnthropic:
		if !found {
			model = ""
		}
		return ProviderConfig{Provider: provider, Model: model}
	default:
		return ProviderConfig{Provider: ProviderOllama, Model: spec}
	}
}

// Resolve builds the Client for cfg. The returned string is the effective
// model name.
func Resolve(ctx context.Context, cfg ProviderConfig) (Client, string, error) {
	switch cfg.Provider {
	case "", ProviderGemini:
		if cfg.APIKey == "" {
			return nil, "", fmt.Errorf("gemini provider requires an API key (GOOGLE_API_KEY)")
		}
		model := cfg.Model
		if model == "" {
			model = DefaultGeminiModel
		}
		c, err := NewGeminiClient(ctx, cfg.APIKey, model, cfg.BaseURL)
		if err != nil {
			return nil, "", err
		}
		return c, model, nil
	case ProviderOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultOllamaURL
		}
		if cfg.Model == "" {
			return nil, "", fmt.Errorf("ollama provider requires a model")
		}
		return NewOpenAIClient(baseURL, "ollama", cfg.Model), cfg.Model, nil
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, "", fmt.Errorf("openai provider requires an API key (OPENAI_API_KEY)")
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultOpenAIURL
		}
		if cfg.Model == "" {
			return nil, "", fmt.Errorf("openai provider requires a model")
		}
		return NewOpenAIClient(baseURL, cfg.APIKey, cfg.Model), cfg.Model, nil
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, "", fmt.Errorf("anthropic provider requires an API key (ANTHROPIC_API_KEY)")
		}
		if cfg.Model == "" {
			return nil, "", fmt.Errorf("anthropic provider requires a model")
		}
		return NewAnthropicClient(cfg.BaseURL, cfg.APIKey, cfg.Model), cfg.Model, nil
	default:
		return nil, "", fmt.Errorf("unknown provider: %q", cfg.Provider)
	}
}
