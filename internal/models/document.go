package models

// Document is a generic row in the vector/keyword store.
type Document struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []byte         `json:"-"`
	UpdatedAt int64          `json:"updatedAt"`
}

// DocumentHit is a document with its query distance. Distance is
// 1 - similarity, so lower is better on both search paths.
type DocumentHit struct {
	Document *Document `json:"document"`
	Distance float64   `json:"distance"`
}

// EmbeddingCacheEntry is a cached embedding keyed by
// (provider, model, content hash).
type EmbeddingCacheEntry struct {
	Provider    string
	Model       string
	ContentHash string
	Embedding   []byte
	Dimension   int
	UpdatedAt   int64
}

// ChatMessage is one conversation turn handed in by the host.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SessionChunk is a slice of conversation history indexed for retrieval.
// Chunk IDs are a deterministic function of (session, message range,
// content hash), so re-indexing identical content is idempotent.
type SessionChunk struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	Embedding []byte `json:"-"`
	StartMsg  int    `json:"startMsg"`
	EndMsg    int    `json:"endMsg"`
	Metadata  string `json:"metadata,omitempty"`
	UpdatedAt int64  `json:"updatedAt"`
}

// ScoredChunk is a session chunk with its search similarity attached.
type ScoredChunk struct {
	Chunk      *SessionChunk `json:"chunk"`
	Similarity float64       `json:"similarity"`
}

// SessionHash tracks what was last indexed for a session, used to gate
// re-indexing on actual change.
type SessionHash struct {
	SessionID    string `json:"sessionId"`
	ContentHash  string `json:"contentHash"`
	ChunkCount   int    `json:"chunkCount"`
	MessageCount int    `json:"messageCount"`
	UpdatedAt    int64  `json:"updatedAt"`
}

// ArchiveSessionID is the reserved sentinel session id that holds distilled
// summaries of compacted history. Regular sessions must not use it.
const ArchiveSessionID = "__archive__"
