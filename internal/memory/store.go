// Package memory maintains the durable, bounded store of long-term user
// memories and orchestrates capture and recall on top of it.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftware/recall/internal/models"
	"github.com/driftware/recall/internal/store"
	"github.com/driftware/recall/internal/vec"
)

// Store applies the memory policy layer over raw rows: category
// normalization, similarity dedup, TTL defaults, and per-user cap eviction.
//
// Dedup and cap checks are read-then-write; a per-user mutex serializes
// writers for the same user so two near-duplicates racing each other cannot
// both land.
type Store struct {
	rows           *store.MemoryStore
	logger         *slog.Logger
	dedupThreshold float64
	maxPerUser     int

	// userLocks is never evicted: one mutex per user seen, a few dozen
	// bytes each, bounded in practice by the user population rather than
	// the memory cap.
	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

func NewStore(rows *store.MemoryStore, dedupThreshold float64, maxPerUser int, logger *slog.Logger) *Store {
	if dedupThreshold <= 0 {
		dedupThreshold = 0.95
	}
	if maxPerUser <= 0 {
		maxPerUser = 500
	}
	return &Store{
		rows:           rows,
		logger:         logger,
		dedupThreshold: dedupThreshold,
		maxPerUser:     maxPerUser,
		userLocks:      make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockUser(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.userLocks[userID] = l
	}
	return l
}

// Store inserts a memory unless a near-duplicate already exists. Unknown
// categories normalize to "other" and importance is clamped to [0,1]; these
// validation problems are fixed locally, never surfaced. When an existing
// memory for the same user has cosine similarity at or above the dedup
// threshold, no row is created: the existing row's importance is raised to
// max(old, new) if the new one is strictly higher, and the returned id is
// empty.
func (s *Store) Store(ctx context.Context, text string, embedding []float32, userID, category string, importance float64, source models.Source, sessionID string, ttlDays *int) (string, error) {
	if text == "" || userID == "" || len(embedding) == 0 {
		s.logger.Debug("dropping empty memory candidate", "user", userID)
		return "", nil
	}

	cat := models.NormalizeCategory(category)
	if importance < 0 {
		importance = 0
	} else if importance > 1 {
		importance = 1
	}

	lock := s.lockUser(userID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().Unix()

	// Top-1 similarity against the same user's active memories.
	existing, err := s.rows.ListActive(ctx, userID, "", now)
	if err != nil {
		return "", err
	}
	var (
		bestSim float64
		best    *models.Memory
	)
	for _, m := range existing {
		emb := vec.FromBytes(m.Embedding)
		if emb == nil {
			continue
		}
		if sim := vec.CosineSimilarity(embedding, emb); sim > bestSim {
			bestSim, best = sim, m
		}
	}
	if best != nil && bestSim >= s.dedupThreshold {
		if importance > best.Importance {
			if err := s.rows.UpdateImportance(ctx, best.ID, importance); err != nil {
				return "", err
			}
		}
		s.logger.Debug("deduplicated memory", "user", userID, "existing", best.ID, "similarity", bestSim)
		return "", nil
	}

	m := &models.Memory{
		ID:         uuid.New().String(),
		UserID:     userID,
		Text:       text,
		Category:   cat,
		Importance: importance,
		Source:     source,
		SessionID:  sessionID,
		Embedding:  vec.ToBytes(embedding),
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  expiryFor(cat, ttlDays, now),
	}
	if err := s.rows.Insert(ctx, m); err != nil {
		return "", err
	}

	if evicted, err := s.rows.EvictOverCap(ctx, userID, s.maxPerUser); err != nil {
		s.logger.Warn("cap eviction failed", "user", userID, "error", err)
	} else if evicted > 0 {
		s.logger.Info("evicted memories over cap", "user", userID, "count", evicted)
	}

	return m.ID, nil
}

// expiryFor computes the expiry timestamp: an explicit positive ttlDays
// wins, otherwise the category default applies. Invalid TTLs are treated
// as absent.
func expiryFor(cat models.Category, ttlDays *int, now int64) *int64 {
	days := 0
	if ttlDays != nil && *ttlDays > 0 {
		days = *ttlDays
	} else if d, ok := models.DefaultTTLDays[cat]; ok {
		days = d
	}
	if days <= 0 {
		return nil
	}
	exp := now + int64(days)*86400
	return &exp
}

// Search runs cosine similarity over a user's non-expired memories, sorted
// by (similarity desc, importance desc). Already-expired rows for the user
// are purged first; expiry is enforced lazily here, not by a background
// sweep.
func (s *Store) Search(ctx context.Context, queryEmbedding []float32, userID string, minSimilarity float64, category string, limit int) ([]models.ScoredMemory, error) {
	now := time.Now().Unix()
	if purged, err := s.rows.PurgeExpired(ctx, userID, now); err != nil {
		s.logger.Warn("expired purge failed", "user", userID, "error", err)
	} else if purged > 0 {
		s.logger.Debug("purged expired memories", "user", userID, "count", purged)
	}

	var cat models.Category
	if category != "" {
		cat = models.NormalizeCategory(category)
	}

	rows, err := s.rows.ListActive(ctx, userID, cat, now)
	if err != nil {
		return nil, err
	}

	var out []models.ScoredMemory
	for _, m := range rows {
		emb := vec.FromBytes(m.Embedding)
		if emb == nil {
			continue
		}
		sim := vec.CosineSimilarity(queryEmbedding, emb)
		if sim < minSimilarity {
			continue
		}
		out = append(out, models.ScoredMemory{Memory: m, Similarity: sim})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Memory.Importance > out[j].Memory.Importance
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// KeywordSearch runs the BM25 path scoped to one user.
func (s *Store) KeywordSearch(ctx context.Context, userID, ftsQuery string, limit int) ([]models.ScoredMemory, error) {
	return s.rows.KeywordSearch(ctx, userID, ftsQuery, limit, time.Now().Unix())
}

// Forget deletes one memory row.
func (s *Store) Forget(ctx context.Context, id string) error {
	return s.rows.Delete(ctx, id)
}

// ForgetAll purges a user entirely and returns the number of rows erased.
func (s *Store) ForgetAll(ctx context.Context, userID string) (int64, error) {
	return s.rows.DeleteByUser(ctx, userID)
}

// Stats returns per-category counts for a user.
func (s *Store) Stats(ctx context.Context, userID string) (int, map[models.Category]int, error) {
	total, err := s.rows.CountByUser(ctx, userID)
	if err != nil {
		return 0, nil, err
	}
	byCat, err := s.rows.CountByCategory(ctx, userID)
	if err != nil {
		return 0, nil, err
	}
	return total, byCat, nil
}
