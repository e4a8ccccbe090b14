package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/driftware/recall/internal/models"
)

// EmbeddingCacheStore handles content-addressable embedding cache rows.
// Entries are keyed by (provider, model, content hash); pruning evicts
// oldest-updated first.
type EmbeddingCacheStore struct {
	db *DB
}

// GetMany bulk-looks-up cache entries for a set of content hashes under one
// (provider, model) pair. The result map contains only hits.
func (s *EmbeddingCacheStore) GetMany(ctx context.Context, provider, model string, hashes []string) (map[string]*models.EmbeddingCacheEntry, error) {
	db, err := s.db.conn()
	if err != nil {
		return nil, err
	}
	if len(hashes) == 0 {
		return map[string]*models.EmbeddingCacheEntry{}, nil
	}

	placeholders := make([]string, len(hashes))
	args := make([]any, 0, len(hashes)+2)
	args = append(args, provider, model)
	for i, h := range hashes {
		placeholders[i] = "?"
		args = append(args, h)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT provider, model, content_hash, embedding, dimension, updated_at
		FROM embedding_cache
		WHERE provider = ? AND model = ? AND content_hash IN (%s)
	`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*models.EmbeddingCacheEntry, len(hashes))
	for rows.Next() {
		var e models.EmbeddingCacheEntry
		if err := rows.Scan(&e.Provider, &e.Model, &e.ContentHash, &e.Embedding, &e.Dimension, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		out[e.ContentHash] = &e
	}
	return out, rows.Err()
}

// Put upserts one cache entry. One entry per key: an existing row for the
// same (provider, model, hash) is replaced.
func (s *EmbeddingCacheStore) Put(ctx context.Context, e *models.EmbeddingCacheEntry) error {
	db, err := s.db.conn()
	if err != nil {
		return err
	}
	e.UpdatedAt = time.Now().Unix()
	_, err = db.ExecContext(ctx, `
		INSERT INTO embedding_cache (provider, model, content_hash, embedding, dimension, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, model, content_hash) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			updated_at = excluded.updated_at
	`, e.Provider, e.Model, e.ContentHash, e.Embedding, e.Dimension, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

// Prune evicts the oldest-updated entries until at most maxEntries remain.
// Returns the number of rows evicted.
func (s *EmbeddingCacheStore) Prune(ctx context.Context, maxEntries int) (int64, error) {
	db, err := s.db.conn()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `
		DELETE FROM embedding_cache WHERE rowid IN (
			SELECT rowid FROM embedding_cache
			ORDER BY updated_at DESC
			LIMIT -1 OFFSET ?
		)
	`, maxEntries)
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Count returns the number of cached entries.
func (s *EmbeddingCacheStore) Count(ctx context.Context) (int, error) {
	db, err := s.db.conn()
	if err != nil {
		return 0, err
	}
	var n int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embedding_cache").Scan(&n)
	return n, err
}
