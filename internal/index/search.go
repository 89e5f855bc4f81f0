package index

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/scrypster/memlayer/internal/storage"
)

// Ranking weights and recency half-life for hybrid scoring.
const (
	lexicalWeight       = 0.5
	semanticWeight      = 0.3
	recencyWeight       = 0.2
	recencyHalfLifeDays = 30.0
)

// narrowingFactor is how far the lexical layer over-retrieves before
// re-ranking.
const narrowingFactor = 4

// SearchStore is the storage surface the searcher needs.
type SearchStore interface {
	storage.SearchProvider
	storage.EmbeddingProvider
}

// Searcher ranks memories by a linear combination of lexical, semantic and
// recency components.
type Searcher struct {
	store    SearchStore
	embedder Embedder
}

// NewSearcher creates a hybrid searcher over the store and embedder.
func NewSearcher(store SearchStore, embedder Embedder) *Searcher {
	return &Searcher{store: store, embedder: embedder}
}

// Search returns up to limit scored memories for the query. An empty query
// yields no results. Scores are non-increasing; ties break on newer
// created_at, then lexicographic id.
func (s *Searcher) Search(ctx context.Context, query string, filters storage.SearchFilters, limit int) ([]storage.ScoredMemory, error) {
	if query == "" || limit <= 0 {
		return []storage.ScoredMemory{}, nil
	}

	candidates, err := s.store.LexicalSearch(ctx, query, filters, limit*narrowingFactor)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []storage.ScoredMemory{}, nil
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	lexical := minMaxNormalize(candidates)
	now := time.Now().UTC()

	rescored := make([]storage.ScoredMemory, len(candidates))
	for i, c := range candidates {
		semantic := s.semanticScore(ctx, queryVec, c)
		recency := recencyScore(now, c.Memory.CreatedAt)
		rescored[i] = storage.ScoredMemory{
			Memory: c.Memory,
			Score:  lexicalWeight*lexical[i] + semanticWeight*semantic + recencyWeight*recency,
		}
	}

	sort.SliceStable(rescored, func(i, j int) bool {
		a, b := rescored[i], rescored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Memory.CreatedAt.Equal(b.Memory.CreatedAt) {
			return a.Memory.CreatedAt.After(b.Memory.CreatedAt)
		}
		return a.Memory.ID < b.Memory.ID
	})

	if len(rescored) > limit {
		rescored = rescored[:limit]
	}
	return rescored, nil
}

// semanticScore compares the query vector with the memory's cached
// embedding, computing one on the fly when none is stored yet.
func (s *Searcher) semanticScore(ctx context.Context, queryVec []float32, c storage.ScoredMemory) float64 {
	vec, err := s.store.GetEmbedding(ctx, c.Memory.ID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return 0
		}
		vec, err = s.embedder.Embed(ctx, c.Memory.Text)
		if err != nil {
			return 0
		}
	}
	return CosineSimilarity(queryVec, vec)
}

// minMaxNormalize maps the raw lexical scores onto [0,1] over the candidate
// set. A degenerate set (all equal) normalizes to 1.
func minMaxNormalize(candidates []storage.ScoredMemory) []float64 {
	lo, hi := candidates[0].Score, candidates[0].Score
	for _, c := range candidates[1:] {
		if c.Score < lo {
			lo = c.Score
		}
		if c.Score > hi {
			hi = c.Score
		}
	}

	normalized := make([]float64, len(candidates))
	for i, c := range candidates {
		if hi == lo {
			normalized[i] = 1
		} else {
			normalized[i] = (c.Score - lo) / (hi - lo)
		}
	}
	return normalized
}

// recencyScore decays exponentially with age: exp(-ln2 * days / half-life).
func recencyScore(now, createdAt time.Time) float64 {
	days := now.Sub(createdAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Exp(-math.Ln2 * days / recencyHalfLifeDays)
}
