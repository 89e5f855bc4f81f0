package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/scrypster/memlayer/internal/storage"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error         string `json:"error"`
	Kind          string `json:"kind"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// writeError maps an error to its HTTP status and JSON body. Unrecognized
// errors become 500 with a correlation id; the underlying detail goes to
// the log, not the client.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidInput):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Kind: "invalid"})
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found", Kind: "not_found"})
	case errors.Is(err, storage.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: "conflict", Kind: "conflict"})
	case errors.Is(err, storage.ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "temporarily unavailable", Kind: "unavailable"})
	default:
		id := uuid.NewString()
		log.Printf("internal error [%s]: %v", id, err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Kind: "internal", CorrelationID: id})
	}
}

// writeBadRequest reports a request that could not be parsed at all.
func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Kind: "invalid"})
}

// writeUnprocessable reports well-formed input that violates the schema.
func writeUnprocessable(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Kind: "invalid"})
}

// writeHealth answers a health check, pinging the store when it can.
func writeHealth(w http.ResponseWriter, r *http.Request, store interface{}) {
	if p, ok := store.(Pinger); ok && p != nil {
		if err := p.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ok": false})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}
