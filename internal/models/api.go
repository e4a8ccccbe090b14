package models

// Request/response shapes for the HTTP API.

type DocumentInput struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type UpsertDocumentsRequest struct {
	Documents []DocumentInput `json:"documents"`
}

type UpsertDocumentsResponse struct {
	Upserted int `json:"upserted"`
}

type QueryRequest struct {
	Query         string         `json:"query"`
	Limit         int            `json:"limit,omitempty"`
	Filter        map[string]any `json:"filter,omitempty"`
	MinSimilarity float64        `json:"minSimilarity,omitempty"`
	// ContextChars bounds the rendered context block; 0 means the default.
	ContextChars int `json:"contextChars,omitempty"`
}

type QueryResponse struct {
	Hits    []DocumentHit `json:"hits"`
	Context string        `json:"context,omitempty"`
}

type StoreMemoryRequest struct {
	UserID     string  `json:"userId"`
	Text       string  `json:"text"`
	Category   string  `json:"category,omitempty"`
	Importance float64 `json:"importance,omitempty"`
	Source     string  `json:"source,omitempty"`
	SessionID  string  `json:"sessionId,omitempty"`
	TTLDays    *int    `json:"ttlDays,omitempty"`
}

type StoreMemoryResponse struct {
	ID           string `json:"id,omitempty"`
	Deduplicated bool   `json:"deduplicated"`
}

type SearchMemoriesRequest struct {
	UserID        string  `json:"userId"`
	Query         string  `json:"query"`
	Category      string  `json:"category,omitempty"`
	Limit         int     `json:"limit,omitempty"`
	MinSimilarity float64 `json:"minSimilarity,omitempty"`
}

type SearchMemoriesResponse struct {
	Memories []ScoredMemory `json:"memories"`
}

type RecallRequest struct {
	UserID string `json:"userId"`
	Query  string `json:"query"`
	Limit  int    `json:"limit,omitempty"`
}

type RecallResponse struct {
	Context string `json:"context"`
}

type CaptureRequest struct {
	UserID    string        `json:"userId"`
	SessionID string        `json:"sessionId,omitempty"`
	Messages  []ChatMessage `json:"messages"`
	Model     string        `json:"model,omitempty"`
}

type CaptureResponse struct {
	Stored []string `json:"stored"`
}

type MemoryStatsResponse struct {
	Total      int              `json:"total"`
	ByCategory map[Category]int `json:"byCategory"`
}

type IndexSessionRequest struct {
	SessionID string        `json:"sessionId"`
	Messages  []ChatMessage `json:"messages"`
	Force     bool          `json:"force,omitempty"`
}

type SearchSessionsRequest struct {
	Query         string  `json:"query"`
	Limit         int     `json:"limit,omitempty"`
	MinSimilarity float64 `json:"minSimilarity,omitempty"`
}

type SearchSessionsResponse struct {
	Chunks []ScoredChunk `json:"chunks"`
}

type SessionStatsResponse struct {
	Sessions int `json:"sessions"`
	Chunks   int `json:"chunks"`
}

type MetaEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type ServiceCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status        string       `json:"status"`
	Ollama        ServiceCheck `json:"ollama"`
	DB            ServiceCheck `json:"db"`
	DocumentCount int          `json:"documentCount,omitempty"`
}
