package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/driftware/recall/internal/models"
	"github.com/driftware/recall/internal/session"
)

type SessionHandler struct {
	indexer  *session.Indexer
	archiver *session.Archiver
}

func NewSessionHandler(indexer *session.Indexer, archiver *session.Archiver) *SessionHandler {
	return &SessionHandler{indexer: indexer, archiver: archiver}
}

// Index handles POST /sessions/index
func (h *SessionHandler) Index(w http.ResponseWriter, r *http.Request) {
	var req models.IndexSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	result, err := h.indexer.Index(r.Context(), req.SessionID, req.Messages, req.Force)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Search handles POST /sessions/search
func (h *SessionHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req models.SearchSessionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	chunks, err := h.indexer.Search(r.Context(), req.Query, req.Limit, req.MinSimilarity)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if chunks == nil {
		chunks = []models.ScoredChunk{}
	}

	writeJSON(w, http.StatusOK, models.SearchSessionsResponse{Chunks: chunks})
}

// Remove handles DELETE /sessions/{id}
func (h *SessionHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	n, err := h.indexer.Remove(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"chunksRemoved": n})
}

// Stats handles GET /sessions/stats
func (h *SessionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	sessions, chunks, err := h.indexer.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, models.SessionStatsResponse{Sessions: sessions, Chunks: chunks})
}

// Archive handles POST /sessions/archive, compacting stale sessions into a
// distilled summary when the indexed-session cap is exceeded.
func (h *SessionHandler) Archive(w http.ResponseWriter, r *http.Request) {
	result, err := h.archiver.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}
