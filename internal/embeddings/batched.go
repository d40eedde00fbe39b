package embeddings

import (
	"context"
	"fmt"
)

// BatchedEmbedder splits large inputs into provider-sized batches so a single
// call never exceeds the provider's request limits. A batch failure returns
// an error without the partial results; the caller owns the retry, and
// already-cached entries from completed batches survive via CachedEmbedder.
type BatchedEmbedder struct {
	inner     Embedder
	batchSize int
}

func NewBatched(inner Embedder, batchSize int) *BatchedEmbedder {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &BatchedEmbedder{inner: inner, batchSize: batchSize}
}

func (b *BatchedEmbedder) Dimension() int { return b.inner.Dimension() }

func (b *BatchedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([]Vector, 0, len(texts))
	for start := 0; start < len(texts); start += b.batchSize {
		end := start + b.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := b.inner.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("batch %d-%d: expected %d vectors, got %d", start, end, end-start, len(vecs))
		}
		out = append(out, vecs...)
	}
	return out, nil
}
