package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/driftware/recall/internal/embedding"
	"github.com/driftware/recall/internal/models"
	"github.com/driftware/recall/internal/store"
	"github.com/driftware/recall/internal/vec"
)

const (
	defaultChunkMaxChars = 1600
	defaultChunkOverlap  = 320
	defaultMinNewMsgs    = 4
)

// Indexer maintains per-session embedding chunks so past conversations can
// be searched semantically. Re-indexing is gated on message deltas and a
// whole-session content hash so repeated calls with unchanged history are
// cheap no-ops.
type Indexer struct {
	sessions *store.SessionStore
	embedder embedding.EmbeddingSource
	logger   *slog.Logger

	maxChars   int
	overlap    int
	minNewMsgs int
}

func NewIndexer(sessions *store.SessionStore, embedder embedding.EmbeddingSource, maxChars, overlap, minNewMsgs int, logger *slog.Logger) *Indexer {
	if maxChars <= 0 {
		maxChars = defaultChunkMaxChars
	}
	if overlap < 0 || overlap >= maxChars {
		overlap = defaultChunkOverlap
	}
	if minNewMsgs <= 0 {
		minNewMsgs = defaultMinNewMsgs
	}
	return &Indexer{
		sessions:   sessions,
		embedder:   embedder,
		logger:     logger,
		maxChars:   maxChars,
		overlap:    overlap,
		minNewMsgs: minNewMsgs,
	}
}

// IndexResult reports what Index did.
type IndexResult struct {
	Indexed    bool   `json:"indexed"`
	Skipped    string `json:"skipped,omitempty"`
	ChunkCount int    `json:"chunkCount"`
}

// Index chunks and embeds a session transcript, replacing any chunks from a
// previous pass. Unless force is set, indexing is skipped when fewer than
// the minimum number of new messages arrived since the last pass, or when
// the transcript content is unchanged.
func (ix *Indexer) Index(ctx context.Context, sessionID string, messages []models.ChatMessage, force bool) (*IndexResult, error) {
	if sessionID == "" || sessionID == models.ArchiveSessionID {
		return nil, fmt.Errorf("invalid session id %q", sessionID)
	}
	if len(messages) == 0 {
		return &IndexResult{Skipped: "empty"}, nil
	}

	contentHash := transcriptHash(messages)
	prev, err := ix.sessions.GetHash(ctx, sessionID)
	if err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("load session hash: %w", err)
	}
	if prev != nil && !force {
		if prev.ContentHash == contentHash {
			return &IndexResult{Skipped: "unchanged", ChunkCount: prev.ChunkCount}, nil
		}
		if len(messages)-prev.MessageCount < ix.minNewMsgs {
			return &IndexResult{Skipped: "too few new messages", ChunkCount: prev.ChunkCount}, nil
		}
	}

	chunks := ix.chunk(sessionID, messages)
	if len(chunks) == 0 {
		return &IndexResult{Skipped: "no content"}, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed session chunks: %w", err)
	}
	now := time.Now().Unix()
	embedded := chunks[:0]
	for i, c := range chunks {
		if i >= len(vectors) || vectors[i] == nil {
			ix.logger.Warn("chunk embedding missing, dropped", "session", sessionID, "chunk", c.ID)
			continue
		}
		c.Embedding = vec.ToBytes(vectors[i])
		c.UpdatedAt = now
		embedded = append(embedded, c)
	}
	if len(embedded) == 0 {
		return nil, fmt.Errorf("no chunks could be embedded for session %s", sessionID)
	}

	if _, err := ix.sessions.DeleteChunks(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("clear old chunks: %w", err)
	}
	if err := ix.sessions.UpsertChunks(ctx, embedded); err != nil {
		return nil, fmt.Errorf("store chunks: %w", err)
	}
	if err := ix.sessions.PutHash(ctx, &models.SessionHash{
		SessionID:    sessionID,
		ContentHash:  contentHash,
		ChunkCount:   len(embedded),
		MessageCount: len(messages),
		UpdatedAt:    now,
	}); err != nil {
		return nil, fmt.Errorf("store session hash: %w", err)
	}

	ix.logger.Info("session indexed", "session", sessionID, "messages", len(messages), "chunks", len(embedded))
	return &IndexResult{Indexed: true, ChunkCount: len(embedded)}, nil
}

// chunk renders the transcript as "Role: content" lines and slices it into
// overlapping windows. Windows break on line boundaries where possible so a
// single turn is not split mid-sentence unless it alone exceeds the window.
func (ix *Indexer) chunk(sessionID string, messages []models.ChatMessage) []*models.SessionChunk {
	type line struct {
		text string
		msg  int
	}
	lines := make([]line, 0, len(messages))
	for i, m := range messages {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		role := m.Role
		if role == "" {
			role = "user"
		}
		lines = append(lines, line{text: role + ": " + text, msg: i})
	}
	if len(lines) == 0 {
		return nil
	}

	var chunks []*models.SessionChunk
	var buf strings.Builder
	startMsg := lines[0].msg
	endMsg := lines[0].msg
	overlapStart := 0 // index into lines where the current window began

	flush := func() {
		text := buf.String()
		if strings.TrimSpace(text) == "" {
			return
		}
		chunks = append(chunks, &models.SessionChunk{
			ID:        chunkID(sessionID, startMsg, endMsg, text),
			SessionID: sessionID,
			Text:      text,
			StartMsg:  startMsg,
			EndMsg:    endMsg,
		})
	}

	for i := 0; i < len(lines); i++ {
		ln := lines[i]
		addLen := len(ln.text)
		if buf.Len() > 0 {
			addLen++ // newline separator
		}
		if buf.Len() > 0 && buf.Len()+addLen > ix.maxChars {
			flush()
			// Reseed with trailing lines to preserve overlap context.
			seed := i
			size := 0
			for seed > overlapStart && size < ix.overlap {
				seed--
				size += len(lines[seed].text) + 1
			}
			buf.Reset()
			startMsg = lines[seed].msg
			for j := seed; j < i; j++ {
				if buf.Len() > 0 {
					buf.WriteByte('\n')
				}
				buf.WriteString(lines[j].text)
			}
			overlapStart = seed
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		} else if buf.Len() == 0 && i > 0 {
			startMsg = ln.msg
		}
		buf.WriteString(ln.text)
		endMsg = ln.msg
	}
	flush()
	return chunks
}

// chunkID derives a stable id from the chunk's identity so re-indexing the
// same content produces the same ids.
func chunkID(sessionID string, startMsg, endMsg int, text string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d|%s", sessionID, startMsg, endMsg, text)))
	return hex.EncodeToString(h[:16])
}

// transcriptHash fingerprints the whole transcript for the change gate.
func transcriptHash(messages []models.ChatMessage) string {
	h := sha256.New()
	for _, m := range messages {
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Search embeds the query and scans indexed chunks by cosine similarity.
func (ix *Indexer) Search(ctx context.Context, query string, limit int, minSimilarity float64) ([]models.ScoredChunk, error) {
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	vectors, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 || vectors[0] == nil {
		return nil, fmt.Errorf("no embedding returned for query")
	}
	return ix.sessions.SearchChunks(ctx, vectors[0], limit, minSimilarity)
}

// Remove drops a session's chunks and indexing state.
func (ix *Indexer) Remove(ctx context.Context, sessionID string) (int64, error) {
	n, err := ix.sessions.DeleteChunks(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if err := ix.sessions.DeleteHashes(ctx, sessionID); err != nil {
		return n, err
	}
	return n, nil
}

// Stats reports how many sessions and chunks are currently indexed.
func (ix *Indexer) Stats(ctx context.Context) (sessions, chunks int, err error) {
	sessions, err = ix.sessions.CountSessions(ctx)
	if err != nil {
		return 0, 0, err
	}
	chunks, err = ix.sessions.CountChunks(ctx)
	if err != nil {
		return 0, 0, err
	}
	return sessions, chunks, nil
}
