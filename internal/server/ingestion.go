package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/scrypster/memlayer/internal/ingest"
	"github.com/scrypster/memlayer/internal/storage"
	"github.com/scrypster/memlayer/pkg/types"
)

// Recent-memory listing bounds.
const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

// IngestionStore is the storage surface the ingestion API needs.
type IngestionStore interface {
	storage.TurnStore
	storage.MemoryStore
	storage.HierarchyStore
}

// IngestionHandlers serves the capture API: turn intake, recent memories,
// hierarchy browsing, and corpus stats.
type IngestionHandlers struct {
	store    IngestionStore
	pipeline *ingest.Pipeline
}

// NewIngestionHandlers wires the ingestion API over a store and its
// extraction pipeline.
func NewIngestionHandlers(store IngestionStore, pipeline *ingest.Pipeline) *IngestionHandlers {
	return &IngestionHandlers{store: store, pipeline: pipeline}
}

// Router builds the ingestion service's mux.
func (h *IngestionHandlers) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingest/turn", h.IngestTurn)
	mux.HandleFunc("GET /memories/recent", h.RecentMemories)
	mux.HandleFunc("GET /memories/topics", h.Topics)
	mux.HandleFunc("GET /hierarchy/workspaces", h.Workspaces)
	mux.HandleFunc("GET /hierarchy/projects", h.Projects)
	mux.HandleFunc("GET /hierarchy/areas", h.Areas)
	mux.HandleFunc("GET /hierarchy/topics", h.HierarchyTopics)
	mux.HandleFunc("GET /stats", h.Stats)
	mux.HandleFunc("GET /health", h.Health)
	return mux
}

// IngestTurn accepts one conversational turn, persists it, and queues it
// for extraction. The turn id is assigned here when the client omits it.
func (h *IngestionHandlers) IngestTurn(w http.ResponseWriter, r *http.Request) {
	var turn types.Turn
	if err := json.NewDecoder(r.Body).Decode(&turn); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}
	if err := turn.Validate(); err != nil {
		writeUnprocessable(w, err)
		return
	}
	if turn.ID == "" {
		turn.ID = types.NewTurnID()
	}

	if err := h.store.InsertTurn(r.Context(), &turn); err != nil {
		writeError(w, err)
		return
	}
	if err := h.pipeline.Enqueue(&turn); err != nil {
		// The turn is durable; the recovery sweep will pick it up, but the
		// client should back off.
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": turn.ID})
}

// RecentMemories lists the newest non-expired memories.
func (h *IngestionHandlers) RecentMemories(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, defaultRecentLimit, maxRecentLimit)
	memories, err := h.store.RecentMemories(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"memories": memories})
}

// Topics aggregates memories by topic label.
func (h *IngestionHandlers) Topics(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, defaultRecentLimit, maxRecentLimit)
	topics, err := h.store.TopicSummaries(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"topics": topics})
}

// Workspaces lists the hierarchy's top level.
func (h *IngestionHandlers) Workspaces(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.ListWorkspaces(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"workspaces": tuples(rows)})
}

// Projects lists hierarchy projects, optionally scoped to one workspace.
func (h *IngestionHandlers) Projects(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.ListProjects(r.Context(), r.URL.Query().Get("workspace_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"projects": tuples(rows)})
}

// Areas lists hierarchy areas, optionally scoped to one project.
func (h *IngestionHandlers) Areas(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.ListAreas(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"areas": tuples(rows)})
}

// HierarchyTopics lists hierarchy topics, optionally scoped to one area.
func (h *IngestionHandlers) HierarchyTopics(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.ListTopics(r.Context(), r.URL.Query().Get("area_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"topics": tuples(rows)})
}

// Stats reports corpus counts and the extraction queue state.
func (h *IngestionHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	depth, capacity := h.pipeline.QueueDepth()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"turns":          stats.Turns,
		"memories":       stats.Memories,
		"by_kind":        stats.ByKind,
		"queue_depth":    depth,
		"queue_capacity": capacity,
		"backpressured":  h.pipeline.Backpressured(),
	})
}

// Health reports liveness, verifying the store still answers.
func (h *IngestionHandlers) Health(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, r, h.store)
}

// tuples keeps empty result sets encoding as [] rather than null.
func tuples(rows []types.HierarchyTuple) []types.HierarchyTuple {
	if rows == nil {
		return []types.HierarchyTuple{}
	}
	return rows
}

// queryLimit parses ?limit= with a default and a hard cap.
func queryLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
