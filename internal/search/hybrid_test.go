package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/driftware/recall/internal/models"
)

type fakeVector struct {
	hits []models.DocumentHit
	err  error
}

func (f *fakeVector) Search(ctx context.Context, queryEmbedding []float32, limit int, filter map[string]any, minSimilarity *float64) ([]models.DocumentHit, error) {
	return f.hits, f.err
}

type fakeKeyword struct {
	hits  []models.DocumentHit
	err   error
	query string
}

func (f *fakeKeyword) KeywordSearch(ctx context.Context, ftsQuery string, limit int) ([]models.DocumentHit, error) {
	f.query = ftsQuery
	return f.hits, f.err
}

type fakeEmbedderFn struct{}

func (fakeEmbedderFn) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func doc(id, text string) *models.Document {
	return &models.Document{ID: id, Text: text}
}

func TestHybridQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("weighted merge of both sides", func(t *testing.T) {
		vector := &fakeVector{hits: []models.DocumentHit{
			{Document: doc("d1", "shared hit"), Distance: 0.2},
			{Document: doc("d2", "vector only"), Distance: 0.4},
		}}
		keyword := &fakeKeyword{hits: []models.DocumentHit{
			{Document: doc("d1", "shared hit"), Distance: 0.1},
			{Document: doc("d3", "keyword only"), Distance: 0.3},
		}}
		e := NewEngine(vector, keyword, fakeEmbedderFn{}, 0.7, 0.3, testLogger())

		hits, err := e.Query(ctx, "some query", QueryOptions{Limit: 10})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(hits) != 3 {
			t.Fatalf("expected 3 merged hits, got %d", len(hits))
		}

		// d1: 0.7×0.8 + 0.3×0.9 = 0.83, so distance 0.17.
		if hits[0].Document.ID != "d1" {
			t.Fatalf("expected d1 first, got %s", hits[0].Document.ID)
		}
		if math.Abs(hits[0].Distance-0.17) > 1e-9 {
			t.Fatalf("expected distance 0.17, got %f", hits[0].Distance)
		}

		// d2 vector-only: 0.7×0.6 = 0.42. d3 keyword-only: 0.3×0.7 = 0.21.
		if hits[1].Document.ID != "d2" || hits[2].Document.ID != "d3" {
			t.Fatalf("wrong order: %s, %s", hits[1].Document.ID, hits[2].Document.ID)
		}
	})

	t.Run("threshold applies to merged score", func(t *testing.T) {
		vector := &fakeVector{hits: []models.DocumentHit{
			{Document: doc("d1", "strong"), Distance: 0.1},
			{Document: doc("d2", "weak"), Distance: 0.9},
		}}
		e := NewEngine(vector, &fakeKeyword{}, fakeEmbedderFn{}, 0.7, 0.3, testLogger())

		hits, err := e.Query(ctx, "q", QueryOptions{Limit: 10, MinSimilarity: 0.5})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(hits) != 1 || hits[0].Document.ID != "d1" {
			t.Fatalf("threshold not applied to merged score: %v", hits)
		}
	})

	t.Run("keyword failure degrades to vector only", func(t *testing.T) {
		vector := &fakeVector{hits: []models.DocumentHit{
			{Document: doc("d1", "survivor"), Distance: 0.2},
		}}
		keyword := &fakeKeyword{err: errors.New("fts index corrupted")}
		e := NewEngine(vector, keyword, fakeEmbedderFn{}, 0.7, 0.3, testLogger())

		hits, err := e.Query(ctx, "q", QueryOptions{Limit: 10})
		if err != nil {
			t.Fatalf("expected degraded success, got %v", err)
		}
		if len(hits) != 1 || hits[0].Document.ID != "d1" {
			t.Fatalf("vector results lost: %v", hits)
		}
	})

	t.Run("vector failure is fatal", func(t *testing.T) {
		vector := &fakeVector{err: errors.New("db locked")}
		e := NewEngine(vector, &fakeKeyword{}, fakeEmbedderFn{}, 0.7, 0.3, testLogger())

		if _, err := e.Query(ctx, "q", QueryOptions{Limit: 10}); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("limit truncates after ranking", func(t *testing.T) {
		vector := &fakeVector{hits: []models.DocumentHit{
			{Document: doc("d1", "best"), Distance: 0.1},
			{Document: doc("d2", "good"), Distance: 0.2},
			{Document: doc("d3", "fine"), Distance: 0.3},
		}}
		e := NewEngine(vector, &fakeKeyword{}, fakeEmbedderFn{}, 0.7, 0.3, testLogger())

		hits, err := e.Query(ctx, "q", QueryOptions{Limit: 2})
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if len(hits) != 2 || hits[0].Document.ID != "d1" {
			t.Fatalf("truncation wrong: %v", hits)
		}
	})

	t.Run("weights normalize to sum one", func(t *testing.T) {
		vector := &fakeVector{hits: []models.DocumentHit{
			{Document: doc("d1", "x"), Distance: 0},
		}}
		e := NewEngine(vector, &fakeKeyword{}, fakeEmbedderFn{}, 7, 3, testLogger())

		hits, _ := e.Query(ctx, "q", QueryOptions{Limit: 1})
		// 0.7×1.0 with normalized weights, not 7×1.0.
		if math.Abs(hits[0].Distance-0.3) > 1e-9 {
			t.Fatalf("weights not normalized: distance %f", hits[0].Distance)
		}
	})
}

func TestFTSQuery(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"hello world", `"hello" AND "world"`},
		{`say "hi" there`, `"say" AND "hi" AND "there"`},
		{"  spaced   out  ", `"spaced" AND "out"`},
		{"", ""},
		{`""`, ""},
	}
	for _, tc := range cases {
		if got := FTSQuery(tc.in); got != tc.want {
			t.Fatalf("FTSQuery(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatContext(t *testing.T) {
	hits := []models.DocumentHit{
		{Document: doc("d1", "first  document\n\twith   messy whitespace")},
		{Document: doc("d2", "second document")},
		{Document: doc("d3", "third document that will not fit")},
	}

	t.Run("collapses whitespace and prefixes lines", func(t *testing.T) {
		got := FormatContext(hits[:1], 1000)
		if got != "- first document with messy whitespace" {
			t.Fatalf("unexpected output: %q", got)
		}
	})

	t.Run("respects budget without cutting lines", func(t *testing.T) {
		// Enough for the first two lines only.
		got := FormatContext(hits, 60)
		want := "- first document with messy whitespace\n- second document"
		if got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	})

	t.Run("empty hits yield empty string", func(t *testing.T) {
		if got := FormatContext(nil, 100); got != "" {
			t.Fatalf("expected empty, got %q", got)
		}
	})
}
