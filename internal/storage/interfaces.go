// Package storage provides composable storage interfaces for the memory layer.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. All three services share
// one store; writers serialize at the store level and readers are concurrent.
package storage

import (
	"context"
	"time"

	"github.com/scrypster/memlayer/pkg/types"
)

// TurnStore persists the append-only conversation log.
type TurnStore interface {
	// InsertTurn appends a turn. Inserting the same id with the same body is
	// a no-op (idempotent re-post); a different body under an existing id
	// returns ErrConflict.
	InsertTurn(ctx context.Context, turn *types.Turn) error

	// GetTurn retrieves a turn by id. Returns ErrNotFound if absent.
	GetTurn(ctx context.Context, id string) (*types.Turn, error)

	// LastTurnForThread returns the most recent turn of a thread, or
	// ErrNotFound when the thread has no turns.
	LastTurnForThread(ctx context.Context, threadID string) (*types.Turn, error)

	// UnextractedTurns returns turns created within the grace window that are
	// not referenced by any memory and not marked as intentionally skipped.
	// Used by the startup recovery sweep.
	UnextractedTurns(ctx context.Context, since time.Time) ([]types.Turn, error)

	// MarkTurnSkipped records that extraction intentionally produced nothing
	// for this turn, so recovery sweeps leave it alone.
	MarkTurnSkipped(ctx context.Context, turnID string) error
}

// MemoryStore provides lifecycle operations for distilled memories.
type MemoryStore interface {
	// InsertMemories writes a batch of memories, their entities, and their
	// provenance rows in one transaction. A memory whose (turn, normalized
	// text, kind) triple already exists is silently skipped, which makes
	// extraction idempotent.
	InsertMemories(ctx context.Context, memories []*types.Memory) error

	// GetMemory retrieves a memory by id. Returns ErrNotFound if absent or expired.
	GetMemory(ctx context.Context, id string) (*types.Memory, error)

	// RecentMemories returns the newest non-expired memories, newest first.
	RecentMemories(ctx context.Context, limit int) ([]types.Memory, error)

	// TopicSummaries aggregates non-expired memories by topic, most recently
	// active topics first.
	TopicSummaries(ctx context.Context, limit int) ([]types.TopicSummary, error)

	// SetMemoryTopicID points a memory at its hierarchy topic.
	SetMemoryTopicID(ctx context.Context, memoryID, topicID string) error

	// DeleteExpiredMemories removes memories whose TTL elapsed before now,
	// along with their dependent rows. Returns the number removed.
	DeleteExpiredMemories(ctx context.Context, now time.Time) (int, error)

	// Stats counts stored turns and memories by kind.
	Stats(ctx context.Context) (*Stats, error)
}

// SearchProvider provides lexical retrieval over memory text and snippets.
// Hybrid re-ranking (semantic + recency blending) lives above this layer.
type SearchProvider interface {
	// LexicalSearch runs a full-text query and returns candidates with raw
	// BM25 scores, best match first. An empty query returns no results.
	// Expired memories are excluded.
	LexicalSearch(ctx context.Context, query string, filters SearchFilters, limit int) ([]ScoredMemory, error)
}

// EmbeddingProvider caches embedding vectors per memory.
type EmbeddingProvider interface {
	// StoreEmbedding stores or replaces the embedding for a memory.
	StoreEmbedding(ctx context.Context, memoryID string, embedding []float32) error

	// GetEmbedding retrieves the embedding for a memory.
	// Returns ErrNotFound if absent.
	GetEmbedding(ctx context.Context, memoryID string) ([]float32, error)

	// AllEmbeddings returns cached embeddings for non-expired memories,
	// newest memories first, capped at limit.
	AllEmbeddings(ctx context.Context, limit int) ([]MemoryEmbedding, error)
}

// AgenticStore maintains the derived metadata kept alongside each memory.
type AgenticStore interface {
	// UpsertAgentic creates or replaces the agentic record for a memory.
	UpsertAgentic(ctx context.Context, rec *types.AgenticRecord) error

	// GetAgentic retrieves the agentic record for a memory, with its
	// evolution history. Returns ErrNotFound if absent.
	GetAgentic(ctx context.Context, memoryID string) (*types.AgenticRecord, error)

	// RecentAgentic returns the most recently accessed records.
	RecentAgentic(ctx context.Context, limit int) ([]types.AgenticRecord, error)

	// SearchAgentic runs a full-text query across content, keywords, tags,
	// and context, best match first.
	SearchAgentic(ctx context.Context, query string, limit int) ([]types.AgenticRecord, error)

	// TouchRetrieval increments retrieval_count and refreshes last_accessed.
	TouchRetrieval(ctx context.Context, memoryID string) error

	// AppendEvolution appends one entry to the record's evolution history.
	AppendEvolution(ctx context.Context, memoryID string, entry types.EvolutionEntry) error

	// UpdateAgenticMeta replaces keywords, tags, and category after an
	// evolution merge.
	UpdateAgenticMeta(ctx context.Context, memoryID string, keywords, tags []string, category types.Category) error

	// DeleteAgentic removes the record and all links touching the memory.
	// Returns ErrNotFound if absent. The memory row is untouched.
	DeleteAgentic(ctx context.Context, memoryID string) error

	// AgenticGraph exports nodes and edges, nodes ordered by last_accessed
	// descending, capped at limit nodes.
	AgenticGraph(ctx context.Context, limit int) (*types.Graph, error)
}

// LinkStore manages directed weighted relations between memories.
type LinkStore interface {
	// UpsertLink inserts or updates a link; (source, target) is unique and
	// self-links are rejected with ErrInvalidInput.
	UpsertLink(ctx context.Context, link *types.Link) error

	// LinksFor returns all links where the memory is source or target.
	LinksFor(ctx context.Context, memoryID string) ([]types.Link, error)
}

// HierarchyStore manages the optional workspace/project/area/topic overlay.
type HierarchyStore interface {
	// GetOrCreateWorkspace returns the workspace with the given name,
	// creating it when absent.
	GetOrCreateWorkspace(ctx context.Context, name string) (*types.Workspace, error)

	// GetOrCreateProject returns the project with the given name under the
	// workspace, creating it when absent.
	GetOrCreateProject(ctx context.Context, workspaceID, name string, status types.ProjectStatus) (*types.Project, error)

	// GetOrCreateArea returns the area with the given name under the project,
	// creating it when absent.
	GetOrCreateArea(ctx context.Context, projectID, name string) (*types.Area, error)

	// GetOrCreateTopic returns the topic with the given name under the area,
	// creating it when absent.
	GetOrCreateTopic(ctx context.Context, areaID, name string) (*types.Topic, error)

	// ListWorkspaces returns [id, name, "", memory_count] tuples.
	ListWorkspaces(ctx context.Context) ([]types.HierarchyTuple, error)

	// ListProjects returns [id, name, workspace_name, memory_count] tuples,
	// optionally filtered by workspace id.
	ListProjects(ctx context.Context, workspaceID string) ([]types.HierarchyTuple, error)

	// ListAreas returns [id, name, project_name, memory_count] tuples,
	// optionally filtered by project id.
	ListAreas(ctx context.Context, projectID string) ([]types.HierarchyTuple, error)

	// ListTopics returns [id, name, area_name, memory_count] tuples,
	// optionally filtered by area id.
	ListTopics(ctx context.Context, areaID string) ([]types.HierarchyTuple, error)
}

// Store is the full storage surface shared by the three services.
type Store interface {
	TurnStore
	MemoryStore
	SearchProvider
	EmbeddingProvider
	AgenticStore
	LinkStore
	HierarchyStore

	// Ping verifies the store answers queries.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}
