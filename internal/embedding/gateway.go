package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/driftware/recall/internal/models"
	"github.com/driftware/recall/internal/store"
	"github.com/driftware/recall/internal/vec"
)

// Gateway wraps a Provider with a content-addressable cache and retry.
//
// Cache write-backs are best-effort: a failed write is logged and never
// fails the embedding call that triggered it. Every pruneEvery operations
// the cache is trimmed to maxCacheEntries, evicting oldest-updated first.
type Gateway struct {
	provider        Provider
	cache           *store.EmbeddingCacheStore
	logger          *slog.Logger
	maxAttempts     int
	pruneEvery      int64
	maxCacheEntries int
	ops             atomic.Int64
}

func NewGateway(provider Provider, cache *store.EmbeddingCacheStore, maxAttempts, maxCacheEntries int, logger *slog.Logger) *Gateway {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &Gateway{
		provider:        provider,
		cache:           cache,
		logger:          logger,
		maxAttempts:     maxAttempts,
		pruneEvery:      500,
		maxCacheEntries: maxCacheEntries,
	}
}

// Embed returns one vector per input text, in input order. Cached texts are
// served without a provider call; only misses go to the provider, with
// results merged back into position. A nil vector at position i means that
// single item failed; the rest of the batch is intact.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	hashes := make([]string, len(texts))
	for i, t := range texts {
		hashes[i] = ContentHash(t)
	}

	hits, err := g.cache.GetMany(ctx, g.provider.Name(), g.provider.Model(), hashes)
	if err != nil {
		// A broken cache read degrades to a full provider call.
		g.logger.Warn("embedding cache lookup failed", "error", err)
		hits = map[string]*models.EmbeddingCacheEntry{}
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, h := range hashes {
		if entry, ok := hits[h]; ok {
			if v := vec.FromBytes(entry.Embedding); v != nil {
				out[i] = v
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
	}

	if len(missTexts) > 0 {
		var vectors [][]float32
		err := withRetry(ctx, g.maxAttempts, func() error {
			var embedErr error
			vectors, embedErr = g.provider.Embed(ctx, missTexts)
			return embedErr
		})
		if err != nil {
			return nil, fmt.Errorf("embed %d texts: %w", len(missTexts), err)
		}

		for j, i := range missIdx {
			if j >= len(vectors) || vectors[j] == nil {
				g.logger.Warn("provider returned no embedding for batch item", "position", i)
				continue
			}
			out[i] = vectors[j]
			g.writeBack(ctx, hashes[i], vectors[j])
		}
	}

	if n := g.ops.Add(1); g.pruneEvery > 0 && n%g.pruneEvery == 0 {
		if evicted, err := g.cache.Prune(ctx, g.maxCacheEntries); err != nil {
			g.logger.Warn("embedding cache prune failed", "error", err)
		} else if evicted > 0 {
			g.logger.Debug("pruned embedding cache", "evicted", evicted)
		}
	}

	return out, nil
}

// EmbedOne is a convenience wrapper for single-text callers.
func (g *Gateway) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || vecs[0] == nil {
		return nil, &ProviderError{Message: "no embedding returned"}
	}
	return vecs[0], nil
}

func (g *Gateway) writeBack(ctx context.Context, hash string, v []float32) {
	entry := &models.EmbeddingCacheEntry{
		Provider:    g.provider.Name(),
		Model:       g.provider.Model(),
		ContentHash: hash,
		Embedding:   vec.ToBytes(v),
		Dimension:   len(v),
	}
	if err := g.cache.Put(ctx, entry); err != nil {
		g.logger.Warn("embedding cache write failed", "error", err)
	}
}
