package api

import (
	"net/http"

	"github.com/driftware/recall/internal/embedding"
	"github.com/driftware/recall/internal/models"
	"github.com/driftware/recall/internal/store"
)

type HealthHandler struct {
	docs   *store.DocumentStore
	ollama *embedding.OllamaClient
}

func NewHealthHandler(docs *store.DocumentStore, ollama *embedding.OllamaClient) *HealthHandler {
	return &HealthHandler{docs: docs, ollama: ollama}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{
		Status: "ok",
	}

	if err := h.ollama.HealthCheck(r.Context()); err != nil {
		resp.Ollama = models.ServiceCheck{Status: "error", Message: err.Error()}
		resp.Status = "degraded"
	} else {
		resp.Ollama = models.ServiceCheck{Status: "ok"}
	}

	count, err := h.docs.Count(r.Context())
	if err != nil {
		resp.DB = models.ServiceCheck{Status: "error", Message: err.Error()}
		resp.Status = "degraded"
	} else {
		resp.DB = models.ServiceCheck{Status: "ok"}
		resp.DocumentCount = count
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
