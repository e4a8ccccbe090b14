package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/driftware/recall/internal/models"
	"github.com/driftware/recall/internal/vec"
)

// SessionStore handles indexed conversation chunks and their per-session
// change trackers.
type SessionStore struct {
	db *DB
}

// UpsertChunks replaces a session's chunk rows. Chunk ids are deterministic,
// so re-inserting identical content is a no-op rewrite.
func (s *SessionStore) UpsertChunks(ctx context.Context, chunks []*models.SessionChunk) error {
	db, err := s.db.conn()
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	for _, c := range chunks {
		ts := c.UpdatedAt
		if ts == 0 {
			ts = now
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO session_chunks (id, session_id, text, embedding, start_msg, end_msg, metadata, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				text = excluded.text,
				embedding = excluded.embedding,
				start_msg = excluded.start_msg,
				end_msg = excluded.end_msg,
				metadata = excluded.metadata,
				updated_at = excluded.updated_at
		`, c.ID, c.SessionID, c.Text, c.Embedding, c.StartMsg, c.EndMsg, nullIfEmpty(c.Metadata), ts)
		if err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

// ChunksBySession returns a session's chunks ordered by message position.
func (s *SessionStore) ChunksBySession(ctx context.Context, sessionID string) ([]*models.SessionChunk, error) {
	db, err := s.db.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, session_id, text, embedding, start_msg, end_msg, metadata, updated_at
		FROM session_chunks WHERE session_id = ?
		ORDER BY start_msg
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("chunks by session: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// DeleteChunks removes every chunk for the given sessions and returns the
// count deleted.
func (s *SessionStore) DeleteChunks(ctx context.Context, sessionIDs ...string) (int64, error) {
	db, err := s.db.conn()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, id := range sessionIDs {
		res, err := db.ExecContext(ctx, "DELETE FROM session_chunks WHERE session_id = ?", id)
		if err != nil {
			return total, fmt.Errorf("delete chunks for %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// GetHash returns the change tracker for a session, or ErrNotFound.
func (s *SessionStore) GetHash(ctx context.Context, sessionID string) (*models.SessionHash, error) {
	db, err := s.db.conn()
	if err != nil {
		return nil, err
	}
	var h models.SessionHash
	err = db.QueryRowContext(ctx, `
		SELECT session_id, content_hash, chunk_count, message_count, updated_at
		FROM session_hashes WHERE session_id = ?
	`, sessionID).Scan(&h.SessionID, &h.ContentHash, &h.ChunkCount, &h.MessageCount, &h.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session hash: %w", err)
	}
	return &h, nil
}

// PutHash upserts a session's change tracker.
func (s *SessionStore) PutHash(ctx context.Context, h *models.SessionHash) error {
	db, err := s.db.conn()
	if err != nil {
		return err
	}
	h.UpdatedAt = time.Now().Unix()
	_, err = db.ExecContext(ctx, `
		INSERT INTO session_hashes (session_id, content_hash, chunk_count, message_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			content_hash = excluded.content_hash,
			chunk_count = excluded.chunk_count,
			message_count = excluded.message_count,
			updated_at = excluded.updated_at
	`, h.SessionID, h.ContentHash, h.ChunkCount, h.MessageCount, h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put session hash: %w", err)
	}
	return nil
}

// DeleteHashes removes the change trackers for the given sessions.
func (s *SessionStore) DeleteHashes(ctx context.Context, sessionIDs ...string) error {
	db, err := s.db.conn()
	if err != nil {
		return err
	}
	for _, id := range sessionIDs {
		if _, err := db.ExecContext(ctx, "DELETE FROM session_hashes WHERE session_id = ?", id); err != nil {
			return fmt.Errorf("delete session hash %s: %w", id, err)
		}
	}
	return nil
}

// CountSessions returns the number of distinct indexed sessions, excluding
// the reserved archive session.
func (s *SessionStore) CountSessions(ctx context.Context) (int, error) {
	db, err := s.db.conn()
	if err != nil {
		return 0, err
	}
	var n int
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT session_id) FROM session_chunks WHERE session_id != ?
	`, models.ArchiveSessionID).Scan(&n)
	return n, err
}

// CountChunks returns the total chunk count across all sessions.
func (s *SessionStore) CountChunks(ctx context.Context) (int, error) {
	db, err := s.db.conn()
	if err != nil {
		return 0, err
	}
	var n int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM session_chunks").Scan(&n)
	return n, err
}

// SessionsOlderThan returns session ids (excluding the archive session)
// whose newest chunk is older than the cutoff, oldest first.
func (s *SessionStore) SessionsOlderThan(ctx context.Context, cutoff int64) ([]string, error) {
	db, err := s.db.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT session_id FROM session_chunks
		WHERE session_id != ?
		GROUP BY session_id
		HAVING MAX(updated_at) < ?
		ORDER BY MAX(updated_at)
	`, models.ArchiveSessionID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("sessions older than: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SearchChunks performs a brute-force cosine scan over stored chunks.
func (s *SessionStore) SearchChunks(ctx context.Context, queryEmbedding []float32, limit int, minSimilarity float64) ([]models.ScoredChunk, error) {
	db, err := s.db.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, session_id, text, embedding, start_msg, end_msg, metadata, updated_at
		FROM session_chunks WHERE embedding IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("scan chunks: %w", err)
	}
	defer rows.Close()

	chunks, err := scanChunks(rows)
	if err != nil {
		return nil, err
	}
	return scoreChunks(chunks, queryEmbedding, limit, minSimilarity), nil
}

func scanChunks(rows *sql.Rows) ([]*models.SessionChunk, error) {
	var out []*models.SessionChunk
	for rows.Next() {
		var (
			c    models.SessionChunk
			meta sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Text, &c.Embedding, &c.StartMsg, &c.EndMsg, &meta, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Metadata = meta.String
		out = append(out, &c)
	}
	return out, rows.Err()
}

func scoreChunks(chunks []*models.SessionChunk, query []float32, limit int, minSimilarity float64) []models.ScoredChunk {
	var out []models.ScoredChunk
	for _, c := range chunks {
		emb := vec.FromBytes(c.Embedding)
		if emb == nil {
			continue
		}
		sim := vec.CosineSimilarity(query, emb)
		if sim < minSimilarity {
			continue
		}
		out = append(out, models.ScoredChunk{Chunk: c, Similarity: sim})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
