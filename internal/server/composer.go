package server

import (
	"encoding/json"
	"net/http"

	"github.com/scrypster/memlayer/internal/compose"
	"github.com/scrypster/memlayer/pkg/types"
)

// ComposerHandlers serves the context capsule API.
type ComposerHandlers struct {
	composer *compose.Composer
	db       Pinger
}

// NewComposerHandlers wires the composer API. db backs the health check and
// may be nil.
func NewComposerHandlers(composer *compose.Composer, db Pinger) *ComposerHandlers {
	return &ComposerHandlers{composer: composer, db: db}
}

// Router builds the composer service's mux.
func (h *ComposerHandlers) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/context", h.Context)
	mux.HandleFunc("POST /v1/undo", h.Undo)
	mux.HandleFunc("GET /health", h.Health)
	return mux
}

// Context composes a capsule for the request.
func (h *ComposerHandlers) Context(w http.ResponseWriter, r *http.Request) {
	var req types.ContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}
	capsule, err := h.composer.Compose(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, capsule)
}

// Undo drops a capsule from the thread cache. Always 200; the body says
// whether anything was removed.
func (h *ComposerHandlers) Undo(w http.ResponseWriter, r *http.Request) {
	var req types.UndoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}
	writeJSON(w, http.StatusOK, h.composer.Undo(&req))
}

// Health reports liveness, verifying the store still answers.
func (h *ComposerHandlers) Health(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, r, h.db)
}
