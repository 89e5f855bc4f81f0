// Package index implements hybrid retrieval and the agentic memory base:
// embeddings, lexical+semantic+recency ranking, and post-ingest evolution.
package index

import (
	"context"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/scrypster/memlayer/internal/llm"
)

// EmbeddingDim is the vector size of the deterministic stand-in embedder,
// matching the MiniLM family so a real encoder can drop in later.
const EmbeddingDim = 384

const embedCacheSize = 1024

// Embedder produces vector embeddings for memory and query text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HashEmbedder is a deterministic character-based embedding stand-in. It
// keeps the scoring contract testable without an encoder attached; ranking
// weights were tuned against it.
type HashEmbedder struct {
	cache *lru.Cache[string, []float32]
}

var _ Embedder = (*HashEmbedder)(nil)

// NewHashEmbedder creates the stand-in embedder with a small result cache.
func NewHashEmbedder() *HashEmbedder {
	cache, _ := lru.New[string, []float32](embedCacheSize)
	return &HashEmbedder{cache: cache}
}

// Embed returns a 384-dim vector derived from character codes by position.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}

	embedding := make([]float32, EmbeddingDim)
	for i, ch := range text {
		if i >= EmbeddingDim {
			break
		}
		embedding[i] = float32(uint32(ch)%256) / 256.0
	}

	e.cache.Add(text, embedding)
	return embedding, nil
}

// ProviderEmbedder adapts an LLM embedding provider to the Embedder
// interface, falling back to the hash stand-in when a call fails.
type ProviderEmbedder struct {
	provider llm.EmbeddingGenerator
	fallback *HashEmbedder
}

var _ Embedder = (*ProviderEmbedder)(nil)

// NewEmbedder returns the provider-backed embedder when one is configured,
// the hash stand-in otherwise.
func NewEmbedder(provider llm.EmbeddingGenerator) Embedder {
	if provider == nil {
		return NewHashEmbedder()
	}
	return &ProviderEmbedder{provider: provider, fallback: NewHashEmbedder()}
}

// Embed requests a provider embedding, degrading to the stand-in on error so
// indexing never stalls on a broken backend.
func (e *ProviderEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.provider.Embed(ctx, text)
	if err != nil {
		return e.fallback.Embed(ctx, text)
	}
	return vec, nil
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths compare over the shorter prefix; zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	for _, v := range a {
		normA += float64(v) * float64(v)
	}
	for _, v := range b {
		normB += float64(v) * float64(v)
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
