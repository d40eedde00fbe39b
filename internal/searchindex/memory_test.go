package searchindex

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/ntufar/intellivault/internal/embeddings"
)

func TestMemoryTenantIsolation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	docA, docB := uuid.New(), uuid.New()

	// Tenant B's entry is an exact match for the query vector; it must still
	// never surface for tenant A.
	err := m.Upsert(ctx, []Entry{
		{ID: EntryID(docA, 0), TenantID: "tenant-a", DocumentID: docA, ChunkIndex: 0,
			Content: "alpha", Embedding: embeddings.Vector{0.2, 0.9}},
		{ID: EntryID(docB, 0), TenantID: "tenant-b", DocumentID: docB, ChunkIndex: 0,
			Content: "beta", Embedding: embeddings.Vector{1, 0}},
	})
	if err != nil {
		t.Fatal(err)
	}

	hits, err := m.Query(ctx, "tenant-a", embeddings.Vector{1, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit for tenant-a, got %d", len(hits))
	}
	for _, h := range hits {
		if h.TenantID != "tenant-a" {
			t.Errorf("cross-tenant leak: got hit for %q", h.TenantID)
		}
	}
}

func TestMemoryRankingAndLimit(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	doc := uuid.New()

	entries := []Entry{
		{ID: EntryID(doc, 0), TenantID: "t", DocumentID: doc, ChunkIndex: 0, Content: "far", Embedding: embeddings.Vector{0, 1}},
		{ID: EntryID(doc, 1), TenantID: "t", DocumentID: doc, ChunkIndex: 1, Content: "близко", Embedding: embeddings.Vector{0.9, 0.1}},
		{ID: EntryID(doc, 2), TenantID: "t", DocumentID: doc, ChunkIndex: 2, Content: "exact", Embedding: embeddings.Vector{1, 0}},
	}
	if err := m.Upsert(ctx, entries); err != nil {
		t.Fatal(err)
	}

	hits, err := m.Query(ctx, "t", embeddings.Vector{1, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ChunkIndex != 2 {
		t.Errorf("expected exact match ranked first, got chunk %d", hits[0].ChunkIndex)
	}
	if hits[0].Score < hits[1].Score {
		t.Error("hits not sorted by descending score")
	}
}

func TestMemoryUpsertOverwrites(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	doc := uuid.New()

	e := Entry{ID: EntryID(doc, 0), TenantID: "t", DocumentID: doc, Content: "v1", Embedding: embeddings.Vector{1, 0}}
	if err := m.Upsert(ctx, []Entry{e}); err != nil {
		t.Fatal(err)
	}
	e.Content = "v2"
	if err := m.Upsert(ctx, []Entry{e}); err != nil {
		t.Fatal(err)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 entry after re-upsert, got %d", m.Len())
	}
	hits, err := m.Query(ctx, "t", embeddings.Vector{1, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].Content != "v2" {
		t.Errorf("expected overwritten content, got %q", hits[0].Content)
	}
}

func TestMemoryDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	doc := uuid.New()

	if err := m.Upsert(ctx, []Entry{
		{ID: EntryID(doc, 0), TenantID: "t", DocumentID: doc, Embedding: embeddings.Vector{1}},
		{ID: EntryID(doc, 1), TenantID: "t", DocumentID: doc, Embedding: embeddings.Vector{1}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(ctx, []string{EntryID(doc, 0)}); err != nil {
		t.Fatal(err)
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 entry after delete, got %d", m.Len())
	}
}

func TestSnippet(t *testing.T) {
	if got := Snippet("short", 100); got != "short" {
		t.Errorf("got %q", got)
	}
	long := "the quick brown fox jumps over the lazy dog"
	got := Snippet(long, 20)
	if len(got) > 24 {
		t.Errorf("snippet too long: %q", got)
	}
	if got[len(got)-3:] != "..." {
		t.Errorf("expected ellipsis, got %q", got)
	}
}

func TestEntryID(t *testing.T) {
	doc := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	if got := EntryID(doc, 7); got != "11111111-2222-3333-4444-555555555555:7" {
		t.Errorf("got %q", got)
	}
}
