package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/driftware/recall/internal/embedding"
	"github.com/driftware/recall/internal/llm"
	"github.com/driftware/recall/internal/models"
	"github.com/driftware/recall/internal/search"
)

const (
	maxFlushItems    = 8
	flushMinLen      = 10
	recallOverFetch  = 3
	defaultRecallMin = 0.35
	recallVectorW    = 0.7
	recallKeywordW   = 0.3
)

// Manager orchestrates memory capture (explicit commands and AI-flush) and
// recall on top of the Store. Its public methods never let a provider error
// escape: failed capture stores nothing, failed recall returns an empty
// string.
type Manager struct {
	store     *Store
	embedder  embedding.EmbeddingSource
	completer llm.Completer
	logger    *slog.Logger
	threshold float64
}

func NewManager(store *Store, embedder embedding.EmbeddingSource, completer llm.Completer, minScore float64, logger *slog.Logger) *Manager {
	if minScore <= 0 || minScore >= 1 {
		minScore = defaultRecallMin
	}
	return &Manager{
		store:     store,
		embedder:  embedder,
		completer: completer,
		logger:    logger,
		threshold: minScore,
	}
}

// CaptureExplicit scans user turns for remember commands and stores the
// candidates. Returns the ids of memories actually created (dedup may make
// this fewer than the candidate count).
func (m *Manager) CaptureExplicit(ctx context.Context, userID, sessionID string, messages []models.ChatMessage) []string {
	candidates := ExtractExplicit(messages)
	return m.storeCandidates(ctx, userID, sessionID, candidates, models.SourceUser)
}

const flushPrompt = `Extract up to %d memories worth keeping from this conversation before it is discarded.
Return ONLY a JSON array. Each element: {"text": "...", "category": "preference|fact|decision|entity|observation|other", "importance": 0.0-1.0}.
Keep user preferences, decisions, and durable facts. Skip pleasantries, transient state, and anything about this extraction task itself.

Conversation:
%s`

type flushItem struct {
	Text       string  `json:"text"`
	Category   string  `json:"category"`
	Importance float64 `json:"importance"`
}

// CaptureFlush asks the LLM to distill the given turns into memory items
// before they are discarded. On provider failure or unparseable output it
// falls back to explicit-command capture over the same messages.
func (m *Manager) CaptureFlush(ctx context.Context, userID, sessionID string, messages []models.ChatMessage, modelOverride string) []string {
	if len(messages) == 0 {
		return nil
	}

	prompt := fmt.Sprintf(flushPrompt, maxFlushItems, renderTranscript(messages))
	raw, err := m.completer.Complete(ctx, prompt, modelOverride)
	if err != nil {
		m.logger.Warn("ai-flush generation failed, falling back to explicit capture", "error", err)
		return m.CaptureExplicit(ctx, userID, sessionID, messages)
	}

	items, err := parseFlushItems(raw)
	if err != nil {
		m.logger.Warn("ai-flush output unparseable, falling back to explicit capture", "error", err)
		return m.CaptureExplicit(ctx, userID, sessionID, messages)
	}

	candidates := make([]Candidate, 0, len(items))
	for _, it := range items {
		text := strings.TrimSpace(it.Text)
		if len(text) < flushMinLen {
			continue
		}
		if !validCandidate(text) {
			continue
		}
		imp := it.Importance
		if imp < 0.1 {
			imp = 0.1
		} else if imp > 1 {
			imp = 1
		}
		cat := models.Category(strings.ToLower(it.Category))
		if !cat.IsValid() {
			cat = models.CategoryFact
		}
		candidates = append(candidates, Candidate{Text: text, Category: cat, Importance: imp})
		if len(candidates) >= maxFlushItems {
			break
		}
	}
	return m.storeCandidates(ctx, userID, sessionID, candidates, models.SourceAIFlush)
}

// parseFlushItems decodes the LLM's JSON array, tolerating a markdown
// code-fence wrapper.
func parseFlushItems(raw string) ([]flushItem, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	// Some models wrap the array in prose; cut to the outermost brackets.
	if i := strings.Index(s, "["); i > 0 {
		if j := strings.LastIndex(s, "]"); j > i {
			s = s[i : j+1]
		}
	}

	var items []flushItem
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil, fmt.Errorf("decode flush items: %w", err)
	}
	return items, nil
}

func (m *Manager) storeCandidates(ctx context.Context, userID, sessionID string, candidates []Candidate, source models.Source) []string {
	if len(candidates) == 0 {
		return nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}
	vectors, err := m.embedder.Embed(ctx, texts)
	if err != nil {
		m.logger.Warn("embedding failed, capture skipped", "user", userID, "error", err)
		return nil
	}

	var created []string
	for i, c := range candidates {
		if i >= len(vectors) || vectors[i] == nil {
			continue
		}
		id, err := m.store.Store(ctx, c.Text, vectors[i], userID, string(c.Category), c.Importance, source, sessionID, nil)
		if err != nil {
			m.logger.Warn("memory store failed", "user", userID, "error", err)
			continue
		}
		if id != "" {
			created = append(created, id)
		}
	}
	return created
}

// Recall embeds the query, merges over-fetched vector and keyword results
// with 0.7/0.3 weights under the recall threshold, and formats the matches
// as a block of "[category] text" lines. An empty result yields an empty
// string so the caller can omit the section entirely. Provider errors
// degrade to an empty string.
func (m *Manager) Recall(ctx context.Context, userID, query string, limit int) string {
	results := m.RecallResults(ctx, userID, query, limit)
	return FormatRecall(results)
}

// RecallResults is Recall without the formatting, for callers that want
// structured results.
func (m *Manager) RecallResults(ctx context.Context, userID, query string, limit int) []models.ScoredMemory {
	if query == "" || userID == "" {
		return nil
	}
	if limit <= 0 {
		limit = 5
	}

	vectors, err := m.embedder.Embed(ctx, []string{query})
	if err != nil || len(vectors) == 0 || vectors[0] == nil {
		m.logger.Warn("recall embedding failed", "user", userID, "error", err)
		return nil
	}
	queryVec := vectors[0]

	vecHits, err := m.store.Search(ctx, queryVec, userID, 0, "", limit*recallOverFetch)
	if err != nil {
		m.logger.Warn("recall vector search failed", "user", userID, "error", err)
		return nil
	}

	kwHits, err := m.store.KeywordSearch(ctx, userID, search.FTSQuery(query), limit*recallOverFetch)
	if err != nil {
		// Keyword side is optional; vector results stand alone.
		m.logger.Warn("recall keyword search failed", "user", userID, "error", err)
		kwHits = nil
	}

	type mergedHit struct {
		mem   *models.Memory
		score float64
	}
	merged := make(map[string]*mergedHit, len(vecHits)+len(kwHits))
	for _, h := range vecHits {
		merged[h.Memory.ID] = &mergedHit{mem: h.Memory, score: recallVectorW * h.Similarity}
	}
	for _, h := range kwHits {
		if ex, ok := merged[h.Memory.ID]; ok {
			ex.score += recallKeywordW * h.Similarity
		} else {
			merged[h.Memory.ID] = &mergedHit{mem: h.Memory, score: recallKeywordW * h.Similarity}
		}
	}

	out := make([]models.ScoredMemory, 0, len(merged))
	for _, h := range merged {
		if h.score < m.threshold {
			continue
		}
		out = append(out, models.ScoredMemory{Memory: h.mem, Similarity: h.score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// FormatRecall renders scored memories as "[category] text" lines, with a
// day-granularity expiry note for rows that expire.
func FormatRecall(results []models.ScoredMemory) string {
	if len(results) == 0 {
		return ""
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		line := fmt.Sprintf("[%s] %s", r.Memory.Category, r.Memory.Text)
		if r.Memory.ExpiresAt != nil {
			if days := daysUntil(*r.Memory.ExpiresAt); days >= 0 {
				line += fmt.Sprintf(" (expires in %dd)", days)
			}
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func daysUntil(ts int64) int {
	secs := ts - time.Now().Unix()
	if secs < 0 {
		return -1
	}
	return int(secs / 86400)
}

func capitalizeRole(role string) string {
	if role == "" {
		return "User"
	}
	return strings.ToUpper(role[:1]) + role[1:]
}

func renderTranscript(messages []models.ChatMessage) string {
	var b strings.Builder
	for _, msg := range messages {
		b.WriteString(capitalizeRole(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteByte('\n')
	}
	return b.String()
}
