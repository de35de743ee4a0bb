package llm

import (
	"fmt"
	"time"
)

// ProviderConfig selects and configures an LLM provider. The config package
// maps its own settings onto this struct so this package stays free of
// configuration concerns.
type ProviderConfig struct {
	Provider       string // "ollama", "openai", or "anthropic"; empty means ollama
	APIKey         string
	Model          string
	EmbeddingModel string
	BaseURL        string
	Timeout        time.Duration

	// RequestsPerSecond caps provider call rate. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
}

// NewTextGenerator creates the TextGenerator for the configured provider,
// wrapped with rate limiting when RequestsPerSecond is set.
func NewTextGenerator(cfg ProviderConfig) (TextGenerator, error) {
	var gen TextGenerator
	switch cfg.Provider {
	case "openai":
		gen = NewOpenAIClient(OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Timeout: cfg.Timeout})
	case "anthropic":
		gen = NewAnthropicClient(AnthropicConfig{APIKey: cfg.APIKey, Model: cfg.Model, Timeout: cfg.Timeout})
	case "ollama", "":
		gen = NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, Timeout: cfg.Timeout})
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
	if cfg.RequestsPerSecond > 0 {
		gen = NewRateLimitedGenerator(gen, cfg.RequestsPerSecond, cfg.Burst)
	}
	return gen, nil
}

// NewEmbeddingGenerator creates the EmbeddingGenerator for the configured
// provider. Anthropic has no embeddings API, so an Anthropic text provider
// pairs with an Ollama embedder by default.
func NewEmbeddingGenerator(cfg ProviderConfig) (EmbeddingGenerator, error) {
	var gen EmbeddingGenerator
	switch cfg.Provider {
	case "openai":
		model := cfg.EmbeddingModel
		if model == "" {
			model = "text-embedding-3-small"
		}
		gen = NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{APIKey: cfg.APIKey, Model: model, BaseURL: cfg.BaseURL, Timeout: cfg.Timeout})
	case "ollama", "anthropic", "":
		model := cfg.EmbeddingModel
		if model == "" {
			model = "nomic-embed-text"
		}
		gen = NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: model, Timeout: cfg.Timeout})
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.Provider)
	}
	if cfg.RequestsPerSecond > 0 {
		gen = NewRateLimitedEmbedder(gen, cfg.RequestsPerSecond, cfg.Burst)
	}
	return gen, nil
}
