package searchindex

import (
	"context"
	"sort"
	"sync"

	"github.com/ntufar/intellivault/internal/embeddings"
)

// Memory is an in-process Index for tests and single-node runs. Ranking uses
// cosine similarity; the tenant filter applies before ranking, matching the
// Qdrant adapter's server-side filter semantics.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Upsert(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.entries[e.ID] = e
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

func (m *Memory) Query(_ context.Context, tenantID string, vector embeddings.Vector, k int) ([]Hit, error) {
	if k <= 0 {
		k = 5
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []Hit
	for _, e := range m.entries {
		if e.TenantID != tenantID {
			continue
		}
		hits = append(hits, Hit{
			ID:         e.ID,
			TenantID:   e.TenantID,
			DocumentID: e.DocumentID,
			ChunkIndex: e.ChunkIndex,
			Content:    e.Content,
			Filename:   e.Filename,
			Score:      embeddings.CosineSimilarity(vector, e.Embedding),
			Snippet:    Snippet(e.Content, defaultSnippetLength),
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Len reports the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
