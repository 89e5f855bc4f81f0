package storage

import (
	"errors"

	"github.com/scrypster/memlayer/pkg/types"
)

var (
	// ErrNotFound indicates that the addressed entity does not exist or has expired.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates that a concurrent writer won the write race after
	// the internal retry budget was exhausted.
	ErrConflict = errors.New("write conflict")

	// ErrUnavailable indicates that the store is locked or otherwise not ready
	// beyond the retry budget.
	ErrUnavailable = errors.New("store unavailable")
)

// ScoredMemory pairs a memory with a retrieval score. The meaning of the
// score depends on the producing layer: raw BM25 rank for lexical search,
// blended [0,1] score after hybrid re-ranking.
type ScoredMemory struct {
	Memory types.Memory `json:"memory"`
	Score  float64      `json:"score"`
}

// SearchFilters narrows search candidates. Zero values mean no filter.
type SearchFilters struct {
	// Topic restricts results to memories with this exact topic label.
	Topic string

	// Kind restricts results to one memory kind.
	Kind types.MemoryKind

	// SourceApp restricts results to memories whose provenance includes a turn
	// captured from this application.
	SourceApp types.SourceApp
}

// MemoryEmbedding pairs a memory id with its cached embedding vector and the
// memory's topic label, which similarity ranking uses for overlap boosting.
type MemoryEmbedding struct {
	MemoryID  string
	Topic     string
	Embedding []float32
}

// Stats summarizes the stored corpus for the ingestion service's /stats endpoint.
type Stats struct {
	Turns    int            `json:"turns"`
	Memories int            `json:"memories"`
	ByKind   map[string]int `json:"by_kind"`
}
