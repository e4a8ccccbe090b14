package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/driftware/recall/internal/embedding"
	"github.com/driftware/recall/internal/models"
	"github.com/driftware/recall/internal/search"
	"github.com/driftware/recall/internal/store"
)

// defaultContextChars bounds the ready-to-inject context block returned
// alongside search hits when the request does not set its own budget.
const defaultContextChars = 2000

type DocumentHandler struct {
	docs    *store.DocumentStore
	gateway *embedding.Gateway
	engine  *search.Engine
}

func NewDocumentHandler(docs *store.DocumentStore, gateway *embedding.Gateway, engine *search.Engine) *DocumentHandler {
	return &DocumentHandler{docs: docs, gateway: gateway, engine: engine}
}

// Upsert handles POST /documents. Embeddings are computed server-side;
// documents without ids get generated ones.
func (h *DocumentHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req models.UpsertDocumentsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "documents array is required")
		return
	}

	ids := make([]string, 0, len(req.Documents))
	texts := make([]string, 0, len(req.Documents))
	metadata := make([]map[string]any, 0, len(req.Documents))
	for _, d := range req.Documents {
		if d.Text == "" {
			continue
		}
		id := d.ID
		if id == "" {
			id = uuid.New().String()
		}
		ids = append(ids, id)
		texts = append(texts, d.Text)
		metadata = append(metadata, d.Metadata)
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "no documents with text")
		return
	}

	embeddings, err := h.gateway.Embed(r.Context(), texts)
	if err != nil {
		writeError(w, http.StatusBadGateway, "embedding failed: "+err.Error())
		return
	}
	if err := h.docs.Upsert(r.Context(), ids, texts, embeddings, metadata); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, models.UpsertDocumentsResponse{Upserted: len(ids)})
}

// Search handles POST /documents/search (hybrid vector + keyword).
func (h *DocumentHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	hits, err := h.engine.Query(r.Context(), req.Query, search.QueryOptions{
		Limit:         req.Limit,
		Filter:        req.Filter,
		MinSimilarity: req.MinSimilarity,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if hits == nil {
		hits = []models.DocumentHit{}
	}

	budget := req.ContextChars
	if budget <= 0 {
		budget = defaultContextChars
	}
	writeJSON(w, http.StatusOK, models.QueryResponse{
		Hits:    hits,
		Context: search.FormatContext(hits, budget),
	})
}

// Get handles GET /documents/{id}
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	doc, err := h.docs.Get(r.Context(), id)
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// Delete handles DELETE /documents/{id}
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.docs.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Clear handles DELETE /documents
func (h *DocumentHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.docs.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
