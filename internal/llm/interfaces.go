// Package llm provides provider clients for optional large-language-model
// augmentation. Every outbound call is wrapped in a circuit breaker and a
// hard deadline; extraction never blocks on a broken provider, the configured
// fallback strategy absorbs failures.
package llm

import "context"

// TextGenerator is the interface for LLM text completion.
// Extraction prompts use single-string completion style (not chat).
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// EmbeddingGenerator is the interface for generating vector embeddings.
// When no provider is configured, a deterministic hash-based stand-in is
// used instead (see internal/index).
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}
