package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/driftware/recall/internal/models"
	"github.com/driftware/recall/internal/store"
	"github.com/driftware/recall/internal/vec"
)

type fixedCompleter struct {
	response string
	err      error
	calls    int
	prompt   string
}

func (c *fixedCompleter) Complete(ctx context.Context, prompt, modelOverride string) (string, error) {
	c.calls++
	c.prompt = prompt
	if c.err != nil {
		return "", c.err
	}
	return c.response, nil
}

func setupArchiver(t *testing.T, maxSessions, archiveDays, maxInput int, completer *fixedCompleter) (*Archiver, *store.Engine) {
	t.Helper()
	eng, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "arch.db"), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	a := NewArchiver(eng.Sessions, &countingEmbedder{}, completer, maxSessions, archiveDays, maxInput, testLogger())
	return a, eng
}

func seedSession(t *testing.T, eng *store.Engine, sessionID string, chunks int, updatedAt int64) {
	t.Helper()
	ctx := context.Background()
	batch := make([]*models.SessionChunk, chunks)
	for i := range batch {
		batch[i] = &models.SessionChunk{
			ID:        fmt.Sprintf("%s-c%d", sessionID, i),
			SessionID: sessionID,
			Text:      fmt.Sprintf("user: notes from %s part %d about the greenhouse sensors", sessionID, i),
			Embedding: vec.ToBytes([]float32{1, float32(i)}),
			StartMsg:  i * 4,
			EndMsg:    i*4 + 3,
			UpdatedAt: updatedAt,
		}
	}
	if err := eng.Sessions.UpsertChunks(ctx, batch); err != nil {
		t.Fatalf("seed chunks for %s: %v", sessionID, err)
	}
	err := eng.Sessions.PutHash(ctx, &models.SessionHash{
		SessionID:    sessionID,
		ContentHash:  "hash-" + sessionID,
		ChunkCount:   chunks,
		MessageCount: chunks * 4,
	})
	if err != nil {
		t.Fatalf("seed hash for %s: %v", sessionID, err)
	}
}

func TestArchiverRun(t *testing.T) {
	ctx := context.Background()
	now := time.Now().Unix()
	stale := now - 30*86400

	t.Run("under cap is a no-op", func(t *testing.T) {
		completer := &fixedCompleter{response: "summary"}
		a, eng := setupArchiver(t, 5, 7, 15000, completer)
		seedSession(t, eng, "s1", 2, stale)

		result, err := a.Run(ctx)
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
		if result.Archived || result.Skipped != "under cap" {
			t.Fatalf("expected under-cap skip, got %+v", result)
		}
		if completer.calls != 0 {
			t.Fatal("completer should not run under cap")
		}
	})

	t.Run("stale sessions are compacted into one archive chunk", func(t *testing.T) {
		completer := &fixedCompleter{response: "The user runs a greenhouse and tracks sensor readings per session."}
		a, eng := setupArchiver(t, 2, 7, 15000, completer)
		seedSession(t, eng, "old-a", 2, stale)
		seedSession(t, eng, "old-b", 3, stale)
		seedSession(t, eng, "fresh", 1, now)

		result, err := a.Run(ctx)
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
		if !result.Archived {
			t.Fatalf("expected archive pass, got %+v", result)
		}
		if len(result.SessionIDs) != 2 || result.ChunksRemoved != 5 {
			t.Fatalf("unexpected result: %+v", result)
		}
		if !strings.Contains(completer.prompt, "old-a part 0") {
			t.Fatal("history not passed to distillation prompt")
		}

		archived, err := eng.Sessions.ChunksBySession(ctx, models.ArchiveSessionID)
		if err != nil {
			t.Fatalf("load archive failed: %v", err)
		}
		if len(archived) != 1 {
			t.Fatalf("expected 1 archive chunk, got %d", len(archived))
		}
		if archived[0].Text != completer.response {
			t.Fatalf("archive text mismatch: %q", archived[0].Text)
		}
		if !strings.Contains(archived[0].Metadata, `"archivedSessions":2`) {
			t.Fatalf("archive metadata missing session count: %s", archived[0].Metadata)
		}
		if archived[0].Embedding == nil {
			t.Fatal("archive chunk has no embedding")
		}

		for _, id := range []string{"old-a", "old-b"} {
			chunks, _ := eng.Sessions.ChunksBySession(ctx, id)
			if len(chunks) != 0 {
				t.Fatalf("chunks of %s not removed", id)
			}
			if _, err := eng.Sessions.GetHash(ctx, id); err != store.ErrNotFound {
				t.Fatalf("hash of %s not removed: %v", id, err)
			}
		}
		fresh, _ := eng.Sessions.ChunksBySession(ctx, "fresh")
		if len(fresh) != 1 {
			t.Fatal("fresh session was touched")
		}
	})

	t.Run("over cap with no stale sessions skips", func(t *testing.T) {
		completer := &fixedCompleter{response: "summary"}
		a, eng := setupArchiver(t, 1, 7, 15000, completer)
		seedSession(t, eng, "f1", 1, now)
		seedSession(t, eng, "f2", 1, now)

		result, err := a.Run(ctx)
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
		if result.Archived || result.Skipped != "no stale sessions" {
			t.Fatalf("expected skip, got %+v", result)
		}
	})

	t.Run("distillation failure leaves history untouched", func(t *testing.T) {
		completer := &fixedCompleter{err: fmt.Errorf("model offline")}
		a, eng := setupArchiver(t, 1, 7, 15000, completer)
		seedSession(t, eng, "old-a", 2, stale)
		seedSession(t, eng, "old-b", 2, stale)

		if _, err := a.Run(ctx); err == nil {
			t.Fatal("expected error from failed distillation")
		}
		for _, id := range []string{"old-a", "old-b"} {
			chunks, _ := eng.Sessions.ChunksBySession(ctx, id)
			if len(chunks) != 2 {
				t.Fatalf("chunks of %s lost after failure", id)
			}
		}
		archived, _ := eng.Sessions.ChunksBySession(ctx, models.ArchiveSessionID)
		if len(archived) != 0 {
			t.Fatal("archive chunk written despite failure")
		}
	})

	t.Run("empty summary is rejected", func(t *testing.T) {
		completer := &fixedCompleter{response: "   \n  "}
		a, eng := setupArchiver(t, 1, 7, 15000, completer)
		seedSession(t, eng, "old-a", 1, stale)
		seedSession(t, eng, "old-b", 1, stale)

		if _, err := a.Run(ctx); err == nil {
			t.Fatal("expected error for empty summary")
		}
		chunks, _ := eng.Sessions.ChunksBySession(ctx, "old-a")
		if len(chunks) != 1 {
			t.Fatal("history lost after rejected summary")
		}
	})
}

func TestCollectHistoryBudget(t *testing.T) {
	ctx := context.Background()
	a, eng := setupArchiver(t, 1, 7, 200, &fixedCompleter{response: "summary"})

	stale := time.Now().Unix() - 30*86400
	seedSession(t, eng, "big", 10, stale)

	text, chunkCount, err := a.collectHistory(ctx, []string{"big"})
	if err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	if chunkCount != 10 {
		t.Fatalf("expected 10 chunks counted, got %d", chunkCount)
	}
	if len(text) > 200 {
		t.Fatalf("history exceeds input budget: %d chars", len(text))
	}
	// Front truncation keeps the most recent material.
	if !strings.Contains(text, "part 9") {
		t.Fatalf("tail of history missing: %q", text)
	}
	if strings.Contains(text, "part 0") {
		t.Fatal("head of history should have been truncated")
	}
}
