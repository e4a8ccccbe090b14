package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/driftware/recall/internal/embedding"
	"github.com/driftware/recall/internal/memory"
	"github.com/driftware/recall/internal/search"
	"github.com/driftware/recall/internal/session"
	"github.com/driftware/recall/internal/store"
)

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(
	engine *store.Engine,
	gateway *embedding.Gateway,
	searcher *search.Engine,
	memStore *memory.Store,
	manager *memory.Manager,
	indexer *session.Indexer,
	archiver *session.Archiver,
	ollama *embedding.OllamaClient,
	apiKey string,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (runs on ALL routes including /health)
	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	healthH := NewHealthHandler(engine.Documents, ollama)
	docH := NewDocumentHandler(engine.Documents, gateway, searcher)
	memoryH := NewMemoryHandler(memStore, manager, gateway)
	sessionH := NewSessionHandler(indexer, archiver)
	metaH := NewMetaHandler(engine.Meta)

	// Unauthenticated routes
	r.Get("/health", healthH.Health)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(apiKey))

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", docH.Upsert)
			r.Post("/search", docH.Search)
			r.Delete("/", docH.Clear)
			r.Get("/{id}", docH.Get)
			r.Delete("/{id}", docH.Delete)
		})

		r.Route("/memories", func(r chi.Router) {
			r.Post("/", memoryH.Store)
			r.Post("/search", memoryH.Search)
			r.Post("/recall", memoryH.Recall)
			r.Post("/capture", memoryH.Capture)
			r.Post("/flush", memoryH.Flush)
			r.Delete("/{id}", memoryH.Delete)
			r.Delete("/user/{userId}", memoryH.DeleteByUser)
			r.Get("/user/{userId}/stats", memoryH.Stats)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/index", sessionH.Index)
			r.Post("/search", sessionH.Search)
			r.Post("/archive", sessionH.Archive)
			r.Get("/stats", sessionH.Stats)
			r.Delete("/{id}", sessionH.Remove)
		})

		r.Route("/meta", func(r chi.Router) {
			r.Get("/{key}", metaH.Get)
			r.Put("/{key}", metaH.Set)
		})
	})

	return r
}
