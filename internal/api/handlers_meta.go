package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/driftware/recall/internal/models"
	"github.com/driftware/recall/internal/store"
)

type MetaHandler struct {
	meta *store.MetaStore
}

func NewMetaHandler(meta *store.MetaStore) *MetaHandler {
	return &MetaHandler{meta: meta}
}

// Get handles GET /meta/{key}
func (h *MetaHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	value, err := h.meta.Get(r.Context(), key)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, models.MetaEntry{Key: key, Value: value})
}

// Set handles PUT /meta/{key}
func (h *MetaHandler) Set(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req models.MetaEntry
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.meta.Set(r.Context(), key, req.Value); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, models.MetaEntry{Key: key, Value: req.Value})
}
