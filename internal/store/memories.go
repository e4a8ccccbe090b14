package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/driftware/recall/internal/models"
)

// memoryColumns is the canonical column list for all SELECT queries.
// Order must match scanMemory.
const memoryColumns = `id, user_id, text, category, importance, source,
	session_id, embedding, created_at, updated_at, expires_at`

// MemoryStore handles memory row CRUD on SQLite. Dedup, TTL defaults, and
// cap eviction policy live one layer up in internal/memory.
type MemoryStore struct {
	db     *DB
	logger *slog.Logger
}

// Insert stores a new memory row. The caller must set ID and timestamps.
func (s *MemoryStore) Insert(ctx context.Context, m *models.Memory) error {
	db, err := s.db.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO memories (id, user_id, text, category, importance, source,
			session_id, embedding, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.UserID, m.Text, string(m.Category), m.Importance, string(m.Source),
		m.SessionID, m.Embedding, m.CreatedAt, m.UpdatedAt, m.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// GetByID fetches a single memory row, or ErrNotFound.
func (s *MemoryStore) GetByID(ctx context.Context, id string) (*models.Memory, error) {
	db, err := s.db.conn()
	if err != nil {
		return nil, err
	}
	m, err := scanMemory(db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM memories WHERE id = ?", memoryColumns), id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return m, err
}

// ListActive returns a user's non-expired memory rows with embeddings,
// optionally filtered by category.
func (s *MemoryStore) ListActive(ctx context.Context, userID string, category models.Category, now int64) ([]*models.Memory, error) {
	db, err := s.db.conn()
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s FROM memories
		WHERE user_id = ? AND (expires_at IS NULL OR expires_at > ?)
	`, memoryColumns)
	args := []any{userID, now}
	if category != "" {
		query += " AND category = ?"
		args = append(args, string(category))
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active memories: %w", err)
	}
	defer rows.Close()
	return s.scanMany(rows)
}

// UpdateImportance raises a memory's stored importance.
func (s *MemoryStore) UpdateImportance(ctx context.Context, id string, importance float64) error {
	db, err := s.db.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		UPDATE memories SET importance = ?, updated_at = ? WHERE id = ?
	`, importance, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("update importance: %w", err)
	}
	return nil
}

// PurgeExpired deletes a user's already-expired rows and returns the count.
func (s *MemoryStore) PurgeExpired(ctx context.Context, userID string, now int64) (int64, error) {
	db, err := s.db.conn()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `
		DELETE FROM memories WHERE user_id = ? AND expires_at IS NOT NULL AND expires_at <= ?
	`, userID, now)
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// EvictOverCap deletes a user's rows beyond the keep limit, always removing
// from the bottom of (importance asc, created_at asc). Returns the count
// evicted.
func (s *MemoryStore) EvictOverCap(ctx context.Context, userID string, keep int) (int64, error) {
	db, err := s.db.conn()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `
		DELETE FROM memories WHERE user_id = ? AND id NOT IN (
			SELECT id FROM memories
			WHERE user_id = ?
			ORDER BY importance DESC, created_at DESC
			LIMIT ?
		)
	`, userID, userID, keep)
	if err != nil {
		return 0, fmt.Errorf("evict over cap: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// KeywordSearch runs BM25 full-text search over a user's non-expired
// memories. Ranks are normalized the same way as document keyword search.
func (s *MemoryStore) KeywordSearch(ctx context.Context, userID, ftsQuery string, limit int, now int64) ([]models.ScoredMemory, error) {
	db, err := s.db.conn()
	if err != nil {
		return nil, err
	}
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, rank
		FROM memories_fts
		JOIN memories m ON m.rowid = memories_fts.rowid
		WHERE memories_fts MATCH ?
		  AND m.user_id = ?
		  AND (m.expires_at IS NULL OR m.expires_at > ?)
		ORDER BY rank
		LIMIT ?
	`, prefixColumns("m", memoryColumns)), ftsQuery, userID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("memory keyword search: %w", err)
	}
	defer rows.Close()

	var out []models.ScoredMemory
	for rows.Next() {
		var (
			m         models.Memory
			cat, src  string
			sessionID sql.NullString
			rank      float64
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.Text, &cat, &m.Importance, &src,
			&sessionID, &m.Embedding, &m.CreatedAt, &m.UpdatedAt, &m.ExpiresAt, &rank); err != nil {
			s.logger.Warn("skipping malformed memory keyword hit", "error", err)
			continue
		}
		m.Category = models.Category(cat)
		m.Source = models.Source(src)
		m.SessionID = sessionID.String
		out = append(out, models.ScoredMemory{Memory: &m, Similarity: normalizeRank(rank)})
	}
	return out, rows.Err()
}

// Delete removes a memory row by id.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	db, err := s.db.conn()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByUser purges every memory row for a user and returns the count.
func (s *MemoryStore) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	db, err := s.db.conn()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, "DELETE FROM memories WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("delete memories for user: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountByUser returns the number of memory rows for a user.
func (s *MemoryStore) CountByUser(ctx context.Context, userID string) (int, error) {
	db, err := s.db.conn()
	if err != nil {
		return 0, err
	}
	var n int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories WHERE user_id = ?", userID).Scan(&n)
	return n, err
}

// CountByCategory returns per-category row counts for a user.
func (s *MemoryStore) CountByCategory(ctx context.Context, userID string) (map[models.Category]int, error) {
	db, err := s.db.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT category, COUNT(*) FROM memories WHERE user_id = ? GROUP BY category
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("count by category: %w", err)
	}
	defer rows.Close()

	out := make(map[models.Category]int)
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, err
		}
		out[models.Category(cat)] = n
	}
	return out, rows.Err()
}

func (s *MemoryStore) scanMany(rows *sql.Rows) ([]*models.Memory, error) {
	var out []*models.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			s.logger.Warn("skipping malformed memory row", "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMemory(r rowScanner) (*models.Memory, error) {
	var (
		m         models.Memory
		cat, src  string
		sessionID sql.NullString
	)
	err := r.Scan(&m.ID, &m.UserID, &m.Text, &cat, &m.Importance, &src,
		&sessionID, &m.Embedding, &m.CreatedAt, &m.UpdatedAt, &m.ExpiresAt)
	if err != nil {
		return nil, err
	}
	m.Category = models.Category(cat)
	m.Source = models.Source(src)
	m.SessionID = sessionID.String
	return &m, nil
}

// prefixColumns qualifies each column in a comma-separated list with a table
// alias for use in JOIN queries.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
