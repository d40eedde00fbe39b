package embeddings

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ntufar/intellivault/internal/cache"
)

// CachedEmbedder memoizes vectors by exact text hash, so boilerplate chunks
// repeated across a document (headers, footers) hit the provider once. The
// backing cache is TTL-bounded; entries evict on their own instead of
// growing with every distinct text ever embedded.
type CachedEmbedder struct {
	inner Embedder
	cache cache.Cache
	model string
	ttl   time.Duration
	log   *slog.Logger
}

func NewCached(inner Embedder, c cache.Cache, model string, ttl time.Duration, log *slog.Logger) *CachedEmbedder {
	if log == nil {
		log = slog.Default()
	}
	return &CachedEmbedder{inner: inner, cache: c, model: model, ttl: ttl, log: log}
}

func (e *CachedEmbedder) Dimension() int { return e.inner.Dimension() }

func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))

	// Collect cache misses, preserving input positions.
	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		key := cache.Key("embed", e.model, text)
		data, err := e.cache.Get(ctx, key)
		if err != nil {
			// Cache trouble is never fatal; fall through to the provider.
			e.log.Warn("embedding cache read failed", "err", err)
		}
		if data != nil {
			var vec Vector
			if err := json.Unmarshal(data, &vec); err == nil && len(vec) > 0 {
				out[i] = vec
				continue
			}
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := e.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, vec := range vecs {
		out[missIdx[j]] = vec
		data, err := json.Marshal(vec)
		if err != nil {
			continue
		}
		key := cache.Key("embed", e.model, missTexts[j])
		if err := e.cache.Set(ctx, key, data, e.ttl); err != nil {
			e.log.Warn("embedding cache write failed", "err", err)
		}
	}
	return out, nil
}
