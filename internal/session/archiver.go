package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/driftware/recall/internal/embedding"
	"github.com/driftware/recall/internal/llm"
	"github.com/driftware/recall/internal/models"
	"github.com/driftware/recall/internal/store"
	"github.com/driftware/recall/internal/vec"
)

const (
	defaultMaxSessions   = 50
	defaultArchiveDays   = 7
	defaultMaxInputChars = 15000
	summaryMinChars      = 500
	summaryMaxChars      = 1500
)

// Archiver compacts old indexed sessions into a single distilled summary
// chunk under the reserved archive session. Archiving is all-or-nothing: if
// distillation or storage fails, the original chunks are left untouched.
type Archiver struct {
	sessions  *store.SessionStore
	embedder  embedding.EmbeddingSource
	completer llm.Completer
	logger    *slog.Logger

	maxSessions   int
	archiveAfter  time.Duration
	maxInputChars int
}

func NewArchiver(sessions *store.SessionStore, embedder embedding.EmbeddingSource, completer llm.Completer, maxSessions, archiveAfterDays, maxInputChars int, logger *slog.Logger) *Archiver {
	if maxSessions <= 0 {
		maxSessions = defaultMaxSessions
	}
	if archiveAfterDays <= 0 {
		archiveAfterDays = defaultArchiveDays
	}
	if maxInputChars <= 0 {
		maxInputChars = defaultMaxInputChars
	}
	return &Archiver{
		sessions:      sessions,
		embedder:      embedder,
		completer:     completer,
		logger:        logger,
		maxSessions:   maxSessions,
		archiveAfter:  time.Duration(archiveAfterDays) * 24 * time.Hour,
		maxInputChars: maxInputChars,
	}
}

// ArchiveResult reports what an archive pass did.
type ArchiveResult struct {
	Archived      bool     `json:"archived"`
	Skipped       string   `json:"skipped,omitempty"`
	SessionIDs    []string `json:"sessionIds,omitempty"`
	ChunksRemoved int64    `json:"chunksRemoved"`
	SummaryChars  int      `json:"summaryChars"`
}

const distillPrompt = `Condense the following old conversation history into a single summary of %d-%d characters, in the same language as the conversations.
Keep: user preferences, decisions made, durable facts, names and entities.
Drop: greetings, transient state, sensor readings, tool output noise, anything already obsolete.
Write plain prose, no headings or bullet formatting.

History:
%s`

// Run archives old sessions if the indexed-session count exceeds the cap.
// Only sessions untouched for the configured age are compacted; each pass
// replaces their chunks with one summary chunk under the archive session.
func (a *Archiver) Run(ctx context.Context) (*ArchiveResult, error) {
	count, err := a.sessions.CountSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	if count <= a.maxSessions {
		return &ArchiveResult{Skipped: "under cap"}, nil
	}

	cutoff := time.Now().Add(-a.archiveAfter).Unix()
	old, err := a.sessions.SessionsOlderThan(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("find stale sessions: %w", err)
	}
	selected := make([]string, 0, len(old))
	for _, id := range old {
		if id != models.ArchiveSessionID {
			selected = append(selected, id)
		}
	}
	if len(selected) == 0 {
		return &ArchiveResult{Skipped: "no stale sessions"}, nil
	}

	input, chunkCount, err := a.collectHistory(ctx, selected)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input) == "" {
		return &ArchiveResult{Skipped: "no content in stale sessions"}, nil
	}

	summary, err := a.completer.Complete(ctx, fmt.Sprintf(distillPrompt, summaryMinChars, summaryMaxChars, input), "")
	if err != nil {
		return nil, fmt.Errorf("distill history: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil, fmt.Errorf("distillation returned empty summary")
	}
	if len(summary) > summaryMaxChars*2 {
		summary = summary[:summaryMaxChars*2]
	}

	vectors, err := a.embedder.Embed(ctx, []string{summary})
	if err != nil {
		return nil, fmt.Errorf("embed summary: %w", err)
	}
	if len(vectors) == 0 || vectors[0] == nil {
		return nil, fmt.Errorf("no embedding returned for summary")
	}

	now := time.Now().Unix()
	meta, _ := json.Marshal(map[string]any{
		"archivedSessions": len(selected),
		"archivedChunks":   chunkCount,
		"archivedAt":       now,
	})
	chunk := &models.SessionChunk{
		ID:        chunkID(models.ArchiveSessionID, 0, 0, summary),
		SessionID: models.ArchiveSessionID,
		Text:      summary,
		Embedding: vec.ToBytes(vectors[0]),
		Metadata:  string(meta),
		UpdatedAt: now,
	}
	if err := a.sessions.UpsertChunks(ctx, []*models.SessionChunk{chunk}); err != nil {
		return nil, fmt.Errorf("store archive chunk: %w", err)
	}

	removed, err := a.sessions.DeleteChunks(ctx, selected...)
	if err != nil {
		return nil, fmt.Errorf("remove archived chunks: %w", err)
	}
	if err := a.sessions.DeleteHashes(ctx, selected...); err != nil {
		return nil, fmt.Errorf("remove archived hashes: %w", err)
	}

	a.logger.Info("sessions archived",
		"sessions", len(selected), "chunks_removed", removed, "summary_chars", len(summary))
	return &ArchiveResult{
		Archived:      true,
		SessionIDs:    selected,
		ChunksRemoved: removed,
		SummaryChars:  len(summary),
	}, nil
}

// collectHistory concatenates chunk texts of the selected sessions in
// session/position order, front-truncating to the input budget so the most
// recent material survives.
func (a *Archiver) collectHistory(ctx context.Context, sessionIDs []string) (string, int, error) {
	var b strings.Builder
	chunkCount := 0
	for _, id := range sessionIDs {
		chunks, err := a.sessions.ChunksBySession(ctx, id)
		if err != nil {
			return "", 0, fmt.Errorf("load chunks for %s: %w", id, err)
		}
		for _, c := range chunks {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(c.Text)
			chunkCount++
		}
	}
	text := b.String()
	if len(text) > a.maxInputChars {
		text = text[len(text)-a.maxInputChars:]
		// Avoid starting mid-line after the cut.
		if i := strings.IndexByte(text, '\n'); i >= 0 && i < len(text)-1 {
			text = text[i+1:]
		}
	}
	return text, chunkCount, nil
}
