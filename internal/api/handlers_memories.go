package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/driftware/recall/internal/embedding"
	"github.com/driftware/recall/internal/memory"
	"github.com/driftware/recall/internal/models"
)

type MemoryHandler struct {
	store   *memory.Store
	manager *memory.Manager
	gateway *embedding.Gateway
}

func NewMemoryHandler(store *memory.Store, manager *memory.Manager, gateway *embedding.Gateway) *MemoryHandler {
	return &MemoryHandler{store: store, manager: manager, gateway: gateway}
}

// Store handles POST /memories
func (h *MemoryHandler) Store(w http.ResponseWriter, r *http.Request) {
	var req models.StoreMemoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	vec, err := h.gateway.EmbedOne(r.Context(), req.Text)
	if err != nil {
		writeError(w, http.StatusBadGateway, "embedding failed: "+err.Error())
		return
	}

	importance := req.Importance
	if importance == 0 {
		importance = 0.5
	}
	source := models.Source(req.Source)
	if source == "" {
		source = models.SourceAgent
	}

	id, err := h.store.Store(r.Context(), req.Text, vec, req.UserID, req.Category, importance, source, req.SessionID, req.TTLDays)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusCreated
	resp := models.StoreMemoryResponse{ID: id}
	if id == "" {
		// Near-duplicate merged into an existing memory.
		resp.Deduplicated = true
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

// Search handles POST /memories/search
func (h *MemoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req models.SearchMemoriesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	vec, err := h.gateway.EmbedOne(r.Context(), req.Query)
	if err != nil {
		writeError(w, http.StatusBadGateway, "embedding failed: "+err.Error())
		return
	}

	results, err := h.store.Search(r.Context(), vec, req.UserID, req.MinSimilarity, req.Category, req.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []models.ScoredMemory{}
	}

	writeJSON(w, http.StatusOK, models.SearchMemoriesResponse{Memories: results})
}

// Recall handles POST /memories/recall. Provider failures degrade to an
// empty context rather than an error so callers can always inject the
// result.
func (h *MemoryHandler) Recall(w http.ResponseWriter, r *http.Request) {
	var req models.RecallRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" || req.Query == "" {
		writeError(w, http.StatusBadRequest, "userId and query are required")
		return
	}

	ctx := h.manager.Recall(r.Context(), req.UserID, req.Query, req.Limit)
	writeJSON(w, http.StatusOK, models.RecallResponse{Context: ctx})
}

// Capture handles POST /memories/capture (explicit remember commands).
func (h *MemoryHandler) Capture(w http.ResponseWriter, r *http.Request) {
	var req models.CaptureRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	stored := h.manager.CaptureExplicit(r.Context(), req.UserID, req.SessionID, req.Messages)
	if stored == nil {
		stored = []string{}
	}
	writeJSON(w, http.StatusOK, models.CaptureResponse{Stored: stored})
}

// Flush handles POST /memories/flush (AI distillation before discard).
func (h *MemoryHandler) Flush(w http.ResponseWriter, r *http.Request) {
	var req models.CaptureRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	stored := h.manager.CaptureFlush(r.Context(), req.UserID, req.SessionID, req.Messages, req.Model)
	if stored == nil {
		stored = []string{}
	}
	writeJSON(w, http.StatusOK, models.CaptureResponse{Stored: stored})
}

// Delete handles DELETE /memories/{id}
func (h *MemoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.store.Forget(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteByUser handles DELETE /memories/user/{userId}
func (h *MemoryHandler) DeleteByUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	n, err := h.store.ForgetAll(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// Stats handles GET /memories/user/{userId}/stats
func (h *MemoryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	total, byCategory, err := h.store.Stats(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if byCategory == nil {
		byCategory = map[models.Category]int{}
	}

	writeJSON(w, http.StatusOK, models.MemoryStatsResponse{Total: total, ByCategory: byCategory})
}
