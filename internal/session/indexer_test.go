package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/driftware/recall/internal/models"
	"github.com/driftware/recall/internal/store"
)

type countingEmbedder struct {
	calls int
	texts []string
	fail  error
}

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	e.texts = texts
	if e.fail != nil {
		return nil, e.fail
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupIndexer(t *testing.T, maxChars, overlap, minNew int) (*Indexer, *countingEmbedder, *store.Engine) {
	t.Helper()
	eng, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "sess.db"), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	emb := &countingEmbedder{}
	return NewIndexer(eng.Sessions, emb, maxChars, overlap, minNew, testLogger()), emb, eng
}

func transcript(turns int) []models.ChatMessage {
	out := make([]models.ChatMessage, turns)
	for i := range out {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		out[i] = models.ChatMessage{
			Role:    role,
			Content: fmt.Sprintf("turn %d discussing the garden irrigation schedule in some detail", i),
		}
	}
	return out
}

func TestIndexerChunking(t *testing.T) {
	ctx := context.Background()

	t.Run("long transcript produces overlapping chunks", func(t *testing.T) {
		ix, _, eng := setupIndexer(t, 400, 80, 4)

		msgs := transcript(40)
		result, err := ix.Index(ctx, "s1", msgs, false)
		if err != nil {
			t.Fatalf("index failed: %v", err)
		}
		if !result.Indexed {
			t.Fatalf("expected indexing, got %+v", result)
		}
		if result.ChunkCount < 2 {
			t.Fatalf("expected multiple chunks, got %d", result.ChunkCount)
		}

		chunks, err := eng.Sessions.ChunksBySession(ctx, "s1")
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		for i, c := range chunks {
			if len(c.Text) > 400 {
				t.Fatalf("chunk %d exceeds max chars: %d", i, len(c.Text))
			}
			if c.Embedding == nil {
				t.Fatalf("chunk %d has no embedding", i)
			}
			if i > 0 && c.StartMsg > chunks[i-1].EndMsg+1 {
				t.Fatalf("gap between chunk %d and %d: %d > %d", i-1, i, c.StartMsg, chunks[i-1].EndMsg)
			}
		}
		// Overlap: a later chunk starts at or before the previous end.
		if len(chunks) > 1 && chunks[1].StartMsg > chunks[0].EndMsg {
			t.Fatalf("no overlap between consecutive chunks: %d > %d", chunks[1].StartMsg, chunks[0].EndMsg)
		}
	})

	t.Run("short transcript yields one chunk", func(t *testing.T) {
		ix, _, eng := setupIndexer(t, 1600, 320, 1)

		result, err := ix.Index(ctx, "s2", transcript(2), false)
		if err != nil {
			t.Fatalf("index failed: %v", err)
		}
		if result.ChunkCount != 1 {
			t.Fatalf("expected 1 chunk, got %d", result.ChunkCount)
		}
		chunks, _ := eng.Sessions.ChunksBySession(ctx, "s2")
		if !strings.HasPrefix(chunks[0].Text, "user: ") {
			t.Fatalf("transcript lines not role-prefixed: %q", chunks[0].Text[:20])
		}
	})

	t.Run("chunk ids are deterministic across reindex", func(t *testing.T) {
		ix, _, eng := setupIndexer(t, 400, 80, 1)

		msgs := transcript(20)
		if _, err := ix.Index(ctx, "s3", msgs, false); err != nil {
			t.Fatalf("index failed: %v", err)
		}
		first, _ := eng.Sessions.ChunksBySession(ctx, "s3")

		if _, err := ix.Index(ctx, "s3", msgs, true); err != nil {
			t.Fatalf("reindex failed: %v", err)
		}
		second, _ := eng.Sessions.ChunksBySession(ctx, "s3")

		if len(first) != len(second) {
			t.Fatalf("chunk count changed: %d != %d", len(first), len(second))
		}
		for i := range first {
			if first[i].ID != second[i].ID {
				t.Fatalf("chunk id not deterministic at %d: %s != %s", i, first[i].ID, second[i].ID)
			}
		}
	})

	t.Run("rejects archive session id", func(t *testing.T) {
		ix, _, _ := setupIndexer(t, 400, 80, 1)
		if _, err := ix.Index(ctx, models.ArchiveSessionID, transcript(2), false); err == nil {
			t.Fatal("expected error for reserved session id")
		}
	})
}

func TestIndexerDeltaGate(t *testing.T) {
	ctx := context.Background()

	t.Run("unchanged transcript is skipped", func(t *testing.T) {
		ix, emb, _ := setupIndexer(t, 1600, 320, 4)

		msgs := transcript(8)
		if _, err := ix.Index(ctx, "s1", msgs, false); err != nil {
			t.Fatalf("index failed: %v", err)
		}
		callsAfterFirst := emb.calls

		result, err := ix.Index(ctx, "s1", msgs, false)
		if err != nil {
			t.Fatalf("second index failed: %v", err)
		}
		if result.Indexed || result.Skipped != "unchanged" {
			t.Fatalf("expected unchanged skip, got %+v", result)
		}
		if emb.calls != callsAfterFirst {
			t.Fatal("embedder called for unchanged transcript")
		}
	})

	t.Run("too few new messages is skipped", func(t *testing.T) {
		ix, _, _ := setupIndexer(t, 1600, 320, 4)

		if _, err := ix.Index(ctx, "s2", transcript(8), false); err != nil {
			t.Fatalf("index failed: %v", err)
		}
		result, err := ix.Index(ctx, "s2", transcript(10), false)
		if err != nil {
			t.Fatalf("index failed: %v", err)
		}
		if result.Indexed {
			t.Fatalf("expected delta skip, got %+v", result)
		}
	})

	t.Run("enough new messages reindexes", func(t *testing.T) {
		ix, _, _ := setupIndexer(t, 1600, 320, 4)

		if _, err := ix.Index(ctx, "s3", transcript(8), false); err != nil {
			t.Fatalf("index failed: %v", err)
		}
		result, err := ix.Index(ctx, "s3", transcript(12), false)
		if err != nil {
			t.Fatalf("index failed: %v", err)
		}
		if !result.Indexed {
			t.Fatalf("expected reindex, got %+v", result)
		}
	})

	t.Run("force bypasses the gate", func(t *testing.T) {
		ix, _, _ := setupIndexer(t, 1600, 320, 4)

		msgs := transcript(8)
		if _, err := ix.Index(ctx, "s4", msgs, false); err != nil {
			t.Fatalf("index failed: %v", err)
		}
		result, err := ix.Index(ctx, "s4", msgs, true)
		if err != nil {
			t.Fatalf("forced index failed: %v", err)
		}
		if !result.Indexed {
			t.Fatalf("force did not reindex: %+v", result)
		}
	})
}

func TestIndexerRemoveAndStats(t *testing.T) {
	ctx := context.Background()
	ix, _, eng := setupIndexer(t, 1600, 320, 1)

	if _, err := ix.Index(ctx, "s1", transcript(4), false); err != nil {
		t.Fatalf("index failed: %v", err)
	}
	if _, err := ix.Index(ctx, "s2", transcript(6), false); err != nil {
		t.Fatalf("index failed: %v", err)
	}

	sessions, chunks, err := ix.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if sessions != 2 || chunks < 2 {
		t.Fatalf("unexpected stats: %d sessions, %d chunks", sessions, chunks)
	}

	if _, err := ix.Remove(ctx, "s1"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	sessions, _, _ = ix.Stats(ctx)
	if sessions != 1 {
		t.Fatalf("session not removed: %d remain", sessions)
	}
	if _, err := eng.Sessions.GetHash(ctx, "s1"); err != store.ErrNotFound {
		t.Fatalf("hash not removed: %v", err)
	}
}

func TestIndexerSearch(t *testing.T) {
	ctx := context.Background()
	ix, _, _ := setupIndexer(t, 1600, 320, 1)

	if _, err := ix.Index(ctx, "s1", transcript(4), false); err != nil {
		t.Fatalf("index failed: %v", err)
	}

	hits, err := ix.Search(ctx, "garden irrigation", 5, 0)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected hits")
	}
}
