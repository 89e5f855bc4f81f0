package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/scrypster/memlayer/internal/storage"
	"github.com/scrypster/memlayer/pkg/types"
)

// Search and graph listing bounds.
const (
	defaultSearchLimit = 20
	maxSearchLimit     = 200
	defaultGraphNodes  = 256
	maxGraphNodes      = 1024
)

// Retriever is the hybrid search surface the indexing API exposes.
type Retriever interface {
	Search(ctx context.Context, query string, filters storage.SearchFilters, limit int) ([]storage.ScoredMemory, error)
}

// IndexingStore is the storage surface behind the agentic endpoints.
type IndexingStore interface {
	storage.AgenticStore
	storage.LinkStore
}

// agenticDetail is the /agentic/{id} payload: the record plus its link
// neighborhood, split by direction.
type agenticDetail struct {
	types.AgenticRecord
	OutgoingLinks []types.Link `json:"outgoing_links"`
	IncomingLinks []types.Link `json:"incoming_links"`
}

// agenticSummary is one /agentic/recent row: the record with its link count.
type agenticSummary struct {
	types.AgenticRecord
	LinkCount int `json:"link_count"`
}

// IndexingHandlers serves retrieval: hybrid search, agentic record access,
// and the live memory graph.
type IndexingHandlers struct {
	store     IndexingStore
	retriever Retriever

	// Graph stream subscribers. Each client gets its own buffered channel;
	// a slow client is dropped rather than blocking the broadcast.
	mu      sync.Mutex
	clients map[chan []byte]bool
}

// NewIndexingHandlers wires the indexing API.
func NewIndexingHandlers(store IndexingStore, retriever Retriever) *IndexingHandlers {
	return &IndexingHandlers{
		store:     store,
		retriever: retriever,
		clients:   make(map[chan []byte]bool),
	}
}

// Router builds the indexing service's mux.
func (h *IndexingHandlers) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /search", h.Search)
	mux.HandleFunc("GET /agentic/recent", h.RecentAgentic)
	mux.HandleFunc("GET /agentic/search", h.SearchAgentic)
	mux.HandleFunc("GET /agentic/graph", h.Graph)
	mux.HandleFunc("GET /agentic/graph/ws", h.GraphStream)
	mux.HandleFunc("GET /agentic/{id}", h.GetAgentic)
	mux.HandleFunc("DELETE /agentic/{id}", h.DeleteAgentic)
	mux.HandleFunc("GET /health", h.Health)
	return mux
}

// Search runs hybrid retrieval and responds with a bare result array. With
// ack=true each hit's retrieval count is bumped, feeding the graph's access
// statistics.
func (h *IndexingHandlers) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeJSON(w, http.StatusOK, []storage.ScoredMemory{})
		return
	}
	filters := storage.SearchFilters{
		Topic:     q.Get("topic"),
		Kind:      types.MemoryKind(q.Get("kind")),
		SourceApp: types.SourceApp(q.Get("source_app")),
	}
	if filters.Kind != "" && !types.ValidMemoryKind(filters.Kind) {
		writeBadRequest(w, "unknown kind filter")
		return
	}
	limit := queryLimit(r, defaultSearchLimit, maxSearchLimit)

	results, err := h.retriever.Search(r.Context(), query, filters, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if q.Get("ack") == "true" {
		for i := range results {
			if err := h.store.TouchRetrieval(r.Context(), results[i].Memory.ID); err != nil {
				log.Printf("search ack: touch %s: %v", results[i].Memory.ID, err)
			}
		}
	}
	if results == nil {
		results = []storage.ScoredMemory{}
	}
	writeJSON(w, http.StatusOK, results)
}

// RecentAgentic lists the most recently accessed agentic records with their
// link counts.
func (h *IndexingHandlers) RecentAgentic(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, defaultSearchLimit, maxSearchLimit)
	records, err := h.store.RecentAgentic(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	summaries := make([]agenticSummary, 0, len(records))
	for _, record := range records {
		links, err := h.store.LinksFor(r.Context(), record.MemoryID)
		if err != nil {
			writeError(w, err)
			return
		}
		summaries = append(summaries, agenticSummary{AgenticRecord: record, LinkCount: len(links)})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": summaries})
}

// SearchAgentic full-text searches record content, keywords, tags, and context.
func (h *IndexingHandlers) SearchAgentic(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeBadRequest(w, "query parameter q is required")
		return
	}
	limit := queryLimit(r, defaultSearchLimit, maxSearchLimit)
	records, err := h.store.SearchAgentic(r.Context(), query, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}

// GetAgentic returns one record with its evolution history and its links in
// both directions. Reading a record counts as a retrieval.
func (h *IndexingHandlers) GetAgentic(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	record, err := h.store.GetAgentic(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	links, err := h.store.LinksFor(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	detail := agenticDetail{
		AgenticRecord: *record,
		OutgoingLinks: []types.Link{},
		IncomingLinks: []types.Link{},
	}
	for _, link := range links {
		if link.Source == id {
			detail.OutgoingLinks = append(detail.OutgoingLinks, link)
		} else {
			detail.IncomingLinks = append(detail.IncomingLinks, link)
		}
	}
	if err := h.store.TouchRetrieval(r.Context(), id); err != nil {
		log.Printf("touch %s: %v", id, err)
	}
	writeJSON(w, http.StatusOK, detail)
}

// DeleteAgentic removes a record and its links. The memory itself stays.
func (h *IndexingHandlers) DeleteAgentic(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteAgentic(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// Graph exports the agentic graph snapshot.
func (h *IndexingHandlers) Graph(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, defaultGraphNodes, maxGraphNodes)
	graph, err := h.store.AgenticGraph(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, graph)
}

// Health reports liveness, verifying the store still answers.
func (h *IndexingHandlers) Health(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, r, h.store)
}

// GraphStream upgrades to a websocket and pushes graph snapshots: one on
// connect, then one per database-change notification.
func (h *IndexingHandlers) GraphStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		log.Printf("graph ws: upgrade: %v", err)
		return
	}

	send := make(chan []byte, 8)
	h.mu.Lock()
	h.clients[send] = true
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, send)
		h.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	if snapshot, err := h.graphJSON(r.Context()); err == nil {
		writeWS(conn, snapshot)
	}

	// Reader goroutine only detects disconnect; clients do not speak.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg := <-send:
			if err := writeWS(conn, msg); err != nil {
				return
			}
		case <-readDone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// NotifyChange pushes a fresh graph snapshot to every stream subscriber.
// Wire this as the database watcher's callback; the watcher already
// coalesces write bursts.
func (h *IndexingHandlers) NotifyChange() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snapshot, err := h.graphJSON(ctx)
	if err != nil {
		log.Printf("graph ws: snapshot: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for send := range h.clients {
		select {
		case send <- snapshot:
		default:
			// Slow subscriber; skip this update rather than block.
		}
	}
}

func (h *IndexingHandlers) graphJSON(ctx context.Context) ([]byte, error) {
	graph, err := h.store.AgenticGraph(ctx, defaultGraphNodes)
	if err != nil {
		return nil, err
	}
	return json.Marshal(graph)
}

func writeWS(conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}
