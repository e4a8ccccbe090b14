// Package search merges vector and keyword results into a single ranked
// list with weighted scoring.
package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/driftware/recall/internal/models"
)

// VectorSearcher answers cosine-similarity queries over stored documents.
type VectorSearcher interface {
	Search(ctx context.Context, queryEmbedding []float32, limit int, filter map[string]any, minSimilarity *float64) ([]models.DocumentHit, error)
}

// KeywordSearcher answers FTS queries with normalized distances.
type KeywordSearcher interface {
	KeywordSearch(ctx context.Context, ftsQuery string, limit int) ([]models.DocumentHit, error)
}

// QueryEmbedder turns the free-text query into a vector.
type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Engine runs hybrid queries: vector and keyword candidates are fetched in
// parallel, normalized to [0,1] scores, merged by document id with weighted
// scoring, thresholded, and truncated.
type Engine struct {
	vector        VectorSearcher
	keyword       KeywordSearcher
	embedder      QueryEmbedder
	vectorWeight  float64
	keywordWeight float64
	logger        *slog.Logger
}

// NewEngine builds a hybrid engine. Non-positive weights fall back to the
// 0.7/0.3 defaults; otherwise the pair is normalized to sum to 1.
func NewEngine(vector VectorSearcher, keyword KeywordSearcher, embedder QueryEmbedder, vectorWeight, keywordWeight float64, logger *slog.Logger) *Engine {
	if vectorWeight <= 0 || keywordWeight <= 0 {
		vectorWeight, keywordWeight = 0.7, 0.3
	}
	sum := vectorWeight + keywordWeight
	return &Engine{
		vector:        vector,
		keyword:       keyword,
		embedder:      embedder,
		vectorWeight:  vectorWeight / sum,
		keywordWeight: keywordWeight / sum,
		logger:        logger,
	}
}

// QueryOptions tunes a single hybrid query.
type QueryOptions struct {
	Limit         int
	Filter        map[string]any
	MinSimilarity float64
}

// Query embeds the free-text query, over-fetches min(200, limit×4)
// candidates from each side in parallel, merges with weighted scoring
// (missing-side scores count as 0), applies the similarity cutoff, and
// truncates to limit. A failed or empty keyword side degrades to
// vector-only results under the same threshold, never an error.
func (e *Engine) Query(ctx context.Context, query string, opts QueryOptions) ([]models.DocumentHit, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	candidates := limit * 4
	if candidates > 200 {
		candidates = 200
	}

	queryVec, err := e.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, err
	}

	var (
		wg          sync.WaitGroup
		vectorHits  []models.DocumentHit
		keywordHits []models.DocumentHit
		vectorErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		vectorHits, vectorErr = e.vector.Search(ctx, queryVec, candidates, opts.Filter, nil)
	}()
	go func() {
		defer wg.Done()
		hits, err := e.keyword.KeywordSearch(ctx, FTSQuery(query), candidates)
		if err != nil {
			// Keyword unavailability is non-fatal.
			e.logger.Warn("keyword search failed, using vector results only", "error", err)
			return
		}
		keywordHits = hits
	}()
	wg.Wait()

	if vectorErr != nil {
		return nil, vectorErr
	}

	type mergedHit struct {
		doc          *models.Document
		vectorScore  float64
		keywordScore float64
	}
	merged := make(map[string]*mergedHit, len(vectorHits)+len(keywordHits))
	for i := range vectorHits {
		h := vectorHits[i]
		merged[h.Document.ID] = &mergedHit{doc: h.Document, vectorScore: 1 - h.Distance}
	}
	for i := range keywordHits {
		h := keywordHits[i]
		if m, ok := merged[h.Document.ID]; ok {
			m.keywordScore = 1 - h.Distance
		} else {
			merged[h.Document.ID] = &mergedHit{doc: h.Document, keywordScore: 1 - h.Distance}
		}
	}

	out := make([]models.DocumentHit, 0, len(merged))
	for _, m := range merged {
		score := e.vectorWeight*m.vectorScore + e.keywordWeight*m.keywordScore
		if score < opts.MinSimilarity {
			continue
		}
		out = append(out, models.DocumentHit{Document: m.doc, Distance: 1 - score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FTSQuery converts free text into a safe token-AND FTS5 match expression.
// FTS5 treats bare punctuation as syntax, so each token is quoted.
func FTSQuery(text string) string {
	fields := strings.Fields(text)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `"'`)
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		tokens = append(tokens, `"`+f+`"`)
	}
	return strings.Join(tokens, " AND ")
}

// FormatContext renders hits as one line per document, greedily appending
// until the next line would exceed the character budget. Lines are never
// cut mid-way.
func FormatContext(hits []models.DocumentHit, budget int) string {
	var b strings.Builder
	for _, h := range hits {
		line := "- " + collapseWhitespace(h.Document.Text)
		next := len(line)
		if b.Len() > 0 {
			next++ // newline
		}
		if b.Len()+next > budget {
			break
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
