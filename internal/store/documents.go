package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/driftware/recall/internal/models"
	"github.com/driftware/recall/internal/vec"
)

// DocumentStore persists documents with their embeddings and answers both
// vector and keyword queries.
//
// Vector search is a brute-force cosine scan over every stored embedding.
// That is intentional: at the assumed scale (tens of thousands of rows) a
// full scan is fast enough, and no approximate-NN structure is maintained.
type DocumentStore struct {
	db     *DB
	logger *slog.Logger
}

// Upsert inserts or replaces documents. All slices must be the same length;
// metadata entries may be nil. Overwritten rows have their keyword index
// entry resynced by the delete-then-insert update triggers.
func (s *DocumentStore) Upsert(ctx context.Context, ids, texts []string, embeddings [][]float32, metadata []map[string]any) error {
	db, err := s.db.conn()
	if err != nil {
		return err
	}
	if len(ids) != len(texts) || len(ids) != len(embeddings) {
		return fmt.Errorf("upsert: mismatched lengths: %d ids, %d texts, %d embeddings",
			len(ids), len(texts), len(embeddings))
	}

	now := time.Now().Unix()
	for i, id := range ids {
		var metaJSON any
		if i < len(metadata) && metadata[i] != nil {
			b, err := json.Marshal(metadata[i])
			if err != nil {
				return fmt.Errorf("marshal metadata for %s: %w", id, err)
			}
			metaJSON = string(b)
		}

		_, err := db.ExecContext(ctx, `
			INSERT INTO documents (id, text, metadata, embedding, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				text = excluded.text,
				metadata = excluded.metadata,
				embedding = excluded.embedding,
				updated_at = excluded.updated_at
		`, id, texts[i], metaJSON, vec.ToBytes(embeddings[i]), now)
		if err != nil {
			return fmt.Errorf("upsert document %s: %w", id, err)
		}
	}
	return nil
}

// Search performs a full cosine scan over all stored documents, applying an
// optional metadata-equality filter and similarity floor, and returns the
// closest hits sorted ascending by distance.
func (s *DocumentStore) Search(ctx context.Context, queryEmbedding []float32, limit int, filter map[string]any, minSimilarity *float64) ([]models.DocumentHit, error) {
	db, err := s.db.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, text, metadata, embedding, updated_at FROM documents
		WHERE embedding IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("scan documents: %w", err)
	}
	defer rows.Close()

	var hits []models.DocumentHit
	for rows.Next() {
		doc, emb, err := scanDocument(rows)
		if err != nil {
			s.logger.Warn("skipping malformed document row", "error", err)
			continue
		}
		if emb == nil {
			s.logger.Warn("skipping document with undecodable embedding", "id", doc.ID)
			continue
		}
		if !metadataMatches(doc.Metadata, filter) {
			continue
		}
		sim := vec.CosineSimilarity(queryEmbedding, emb)
		if minSimilarity != nil && sim < *minSimilarity {
			continue
		}
		hits = append(hits, models.DocumentHit{Document: doc, Distance: 1 - sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// KeywordSearch ranks documents by FTS5 BM25 relevance. The engine's raw
// rank is normalized to a [0,1] score via 1/(1+|rank|), which preserves
// relative ordering instead of clamping all hits near 1.0; the returned
// distance is 1 - score.
func (s *DocumentStore) KeywordSearch(ctx context.Context, ftsQuery string, limit int) ([]models.DocumentHit, error) {
	db, err := s.db.conn()
	if err != nil {
		return nil, err
	}
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := db.QueryContext(ctx, `
		SELECT d.id, d.text, d.metadata, d.embedding, d.updated_at, rank
		FROM documents_fts
		JOIN documents d ON d.rowid = documents_fts.rowid
		WHERE documents_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var hits []models.DocumentHit
	for rows.Next() {
		var (
			doc      models.Document
			metaJSON sql.NullString
			rank     float64
		)
		if err := rows.Scan(&doc.ID, &doc.Text, &metaJSON, &doc.Embedding, &doc.UpdatedAt, &rank); err != nil {
			s.logger.Warn("skipping malformed keyword hit", "error", err)
			continue
		}
		if metaJSON.Valid {
			if err := json.Unmarshal([]byte(metaJSON.String), &doc.Metadata); err != nil {
				s.logger.Warn("skipping document with malformed metadata", "id", doc.ID, "error", err)
				continue
			}
		}
		score := normalizeRank(rank)
		hits = append(hits, models.DocumentHit{Document: &doc, Distance: 1 - score})
	}
	return hits, rows.Err()
}

// normalizeRank maps an FTS5 bm25 rank to [0,1]. SQLite reports more
// negative ranks for better matches.
func normalizeRank(rank float64) float64 {
	if rank < 0 {
		rank = -rank
	}
	return 1 / (1 + rank)
}

// Get fetches a single document by id, or ErrNotFound.
func (s *DocumentStore) Get(ctx context.Context, id string) (*models.Document, error) {
	db, err := s.db.conn()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT id, text, metadata, embedding, updated_at FROM documents WHERE id = ?
	`, id)

	var (
		doc      models.Document
		metaJSON sql.NullString
	)
	err = row.Scan(&doc.ID, &doc.Text, &metaJSON, &doc.Embedding, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if metaJSON.Valid {
		if err := json.Unmarshal([]byte(metaJSON.String), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", id, err)
		}
	}
	return &doc, nil
}

// Delete removes documents by id. Missing ids are ignored.
func (s *DocumentStore) Delete(ctx context.Context, ids ...string) error {
	db, err := s.db.conn()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete document %s: %w", id, err)
		}
	}
	return nil
}

// Clear removes every document.
func (s *DocumentStore) Clear(ctx context.Context) error {
	db, err := s.db.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM documents"); err != nil {
		return fmt.Errorf("clear documents: %w", err)
	}
	return nil
}

// Count returns the total number of documents.
func (s *DocumentStore) Count(ctx context.Context) (int, error) {
	db, err := s.db.conn()
	if err != nil {
		return 0, err
	}
	var n int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (*models.Document, []float32, error) {
	var (
		doc      models.Document
		metaJSON sql.NullString
	)
	if err := r.Scan(&doc.ID, &doc.Text, &metaJSON, &doc.Embedding, &doc.UpdatedAt); err != nil {
		return nil, nil, err
	}
	if metaJSON.Valid {
		if err := json.Unmarshal([]byte(metaJSON.String), &doc.Metadata); err != nil {
			return nil, nil, fmt.Errorf("metadata for %s: %w", doc.ID, err)
		}
	}

	var emb []float32
	if vec.IsLegacyJSON(doc.Embedding) {
		emb, _ = vec.FromLegacyJSON(doc.Embedding)
	} else {
		emb = vec.FromBytes(doc.Embedding)
	}
	return &doc, emb, nil
}

// metadataMatches reports whether every filter key is present in the
// document metadata with an equal value. Scalar values are compared via
// their JSON representation so numeric types round-trip consistently.
func metadataMatches(meta, filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	if len(meta) == 0 {
		return false
	}
	for k, want := range filter {
		got, ok := meta[k]
		if !ok {
			return false
		}
		if !jsonEqual(got, want) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b any) bool {
	if a == b {
		return true
	}
	aj, err1 := json.Marshal(a)
	bj, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && string(aj) == string(bj)
}
