package llm

import (
	"fmt"
	"time"
)

// ProviderConfig is the provider-agnostic configuration consumed by the
// factory. It is populated from the process configuration.
type ProviderConfig struct {
	Provider    string
	OllamaURL   string
	OllamaModel string
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float64
}

// NewTextGenerator creates a text generation client for the configured
// provider. Supported providers are "ollama" and "openai".
func NewTextGenerator(cfg ProviderConfig) (TextGenerator, error) {
	switch cfg.Provider {
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{
			BaseURL:     cfg.OllamaURL,
			Model:       cfg.OllamaModel,
			Timeout:     cfg.Timeout,
			Temperature: cfg.Temperature,
		}), nil
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			Timeout:     cfg.Timeout,
			Temperature: cfg.Temperature,
		})
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", cfg.Provider)
	}
}

// NewEmbeddingGenerator creates an embedding client for the configured
// provider. Only Ollama serves embeddings; other providers return nil so the
// caller falls back to the deterministic local embedder.
func NewEmbeddingGenerator(cfg ProviderConfig) (EmbeddingGenerator, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaClient(OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaModel,
			Timeout: cfg.Timeout,
		}), nil
	case "", "openai":
		return nil, nil
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", cfg.Provider)
	}
}
