package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/ntufar/intellivault/internal/cache"
	"github.com/ntufar/intellivault/internal/embeddings"
	"github.com/ntufar/intellivault/internal/llm"
	"github.com/ntufar/intellivault/internal/searchindex"
)

var (
	docA = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	docB = uuid.MustParse("22222222-2222-2222-2222-222222222222")
)

func testHits() []searchindex.Hit {
	return []searchindex.Hit{
		{
			ID:         searchindex.EntryID(docA, 0),
			TenantID:   "tenant-a",
			DocumentID: docA,
			ChunkIndex: 0,
			Content:    "The refund window is 30 days from the date of purchase.",
			Score:      0.92,
		},
		{
			ID:         searchindex.EntryID(docB, 3),
			TenantID:   "tenant-a",
			DocumentID: docB,
			ChunkIndex: 3,
			Content:    "Refunds are issued to the original payment method.",
			Score:      0.85,
		},
	}
}

func newTestEngine(t *testing.T, index searchindex.Index, gen llm.Generator) *Engine {
	t.Helper()
	embedder := new(embeddings.MockEmbedder)
	embedder.On("EmbedBatch", mock.Anything, mock.Anything).
		Return([]embeddings.Vector{{1, 0}}, nil)
	e, err := NewEngine(nil, embedder, index, gen, nil, time.Minute, 12000)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestAskKeepsOnlyCitationsFromContext(t *testing.T) {
	index := new(searchindex.MockIndex)
	index.On("Query", mock.Anything, "tenant-a", mock.Anything, 5).Return(testHits(), nil)

	// The model cites one real chunk, one chunk outside the retrieved set,
	// and one malformed reference.
	outside := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	gen := new(llm.MockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(fmt.Sprintf("Refunds take 30 days [%s:0]. Also [%s:9]. See [not-a-uuid:1].", docA, outside), nil)

	result, err := newTestEngine(t, index, gen).Ask(context.Background(), "tenant-a", "refund window?", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Grounded {
		t.Error("expected grounded result")
	}
	if len(result.Citations) != 1 {
		t.Fatalf("expected 1 citation, got %d: %+v", len(result.Citations), result.Citations)
	}
	c := result.Citations[0]
	if c.DocumentID != docA || c.ChunkIndex != 0 {
		t.Errorf("unexpected citation %+v", c)
	}
	if c.Snippet == "" {
		t.Error("citation snippet must carry source content")
	}
}

func TestAskDeduplicatesRepeatedCitations(t *testing.T) {
	index := new(searchindex.MockIndex)
	index.On("Query", mock.Anything, "tenant-a", mock.Anything, 5).Return(testHits(), nil)

	gen := new(llm.MockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(fmt.Sprintf("Thirty days [%s:0]. Again, thirty days [%s:0]. By card [%s:3].", docA, docA, docB), nil)

	result, err := newTestEngine(t, index, gen).Ask(context.Background(), "tenant-a", "refund window?", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Citations) != 2 {
		t.Fatalf("expected 2 distinct citations, got %d", len(result.Citations))
	}
}

func TestAskNoHitsSkipsProvider(t *testing.T) {
	index := new(searchindex.MockIndex)
	index.On("Query", mock.Anything, "tenant-a", mock.Anything, 5).Return([]searchindex.Hit{}, nil)

	gen := new(llm.MockGenerator) // no expectations: any call fails the test

	result, err := newTestEngine(t, index, gen).Ask(context.Background(), "tenant-a", "anything?", 5)
	if err != nil {
		t.Fatal(err)
	}
	if result.Grounded {
		t.Error("result must not be grounded without retrieved chunks")
	}
	if len(result.Citations) != 0 {
		t.Errorf("expected no citations, got %d", len(result.Citations))
	}
	if result.Answer == "" {
		t.Error("expected an explicit no-answer message")
	}
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestAskModelRefusalIsUngrounded(t *testing.T) {
	index := new(searchindex.MockIndex)
	index.On("Query", mock.Anything, "tenant-a", mock.Anything, 5).Return(testHits(), nil)

	gen := new(llm.MockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("NO_ANSWER", nil)

	result, err := newTestEngine(t, index, gen).Ask(context.Background(), "tenant-a", "capital of France?", 5)
	if err != nil {
		t.Fatal(err)
	}
	if result.Grounded {
		t.Error("refusal must not be grounded")
	}
	if len(result.Citations) != 0 {
		t.Errorf("expected no citations, got %d", len(result.Citations))
	}
}

func TestAskIndexFailureIsServiceUnavailable(t *testing.T) {
	index := new(searchindex.MockIndex)
	index.On("Query", mock.Anything, "tenant-a", mock.Anything, 5).
		Return(nil, errors.New("connection refused"))

	gen := new(llm.MockGenerator)

	_, err := newTestEngine(t, index, gen).Ask(context.Background(), "tenant-a", "refund window?", 5)
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
}

func TestAskGeneratorFailureIsServiceUnavailable(t *testing.T) {
	index := new(searchindex.MockIndex)
	index.On("Query", mock.Anything, "tenant-a", mock.Anything, 5).Return(testHits(), nil)

	gen := new(llm.MockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("rate limited"))

	_, err := newTestEngine(t, index, gen).Ask(context.Background(), "tenant-a", "refund window?", 5)
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
}

func TestAskEmbedderFailureIsServiceUnavailable(t *testing.T) {
	embedder := new(embeddings.MockEmbedder)
	embedder.On("EmbedBatch", mock.Anything, mock.Anything).
		Return(nil, errors.New("timeout"))
	e, err := NewEngine(nil, embedder, new(searchindex.MockIndex), new(llm.MockGenerator), nil, time.Minute, 12000)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Ask(context.Background(), "tenant-a", "q", 5); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
}

func TestAskCachesResults(t *testing.T) {
	index := new(searchindex.MockIndex)
	index.On("Query", mock.Anything, "tenant-a", mock.Anything, 5).Return(testHits(), nil).Once()

	gen := new(llm.MockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(fmt.Sprintf("Thirty days [%s:0].", docA), nil).Once()

	embedder := new(embeddings.MockEmbedder)
	embedder.On("EmbedBatch", mock.Anything, mock.Anything).
		Return([]embeddings.Vector{{1, 0}}, nil).Once()

	store := newMemCache()
	e, err := NewEngine(nil, embedder, index, gen, store, time.Minute, 12000)
	if err != nil {
		t.Fatal(err)
	}

	first, err := e.Ask(context.Background(), "tenant-a", "refund window?", 5)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Ask(context.Background(), "tenant-a", "refund window?", 5)
	if err != nil {
		t.Fatal(err)
	}
	if first.Answer != second.Answer || len(first.Citations) != len(second.Citations) {
		t.Error("cached result must match the original")
	}
	index.AssertExpectations(t)
	gen.AssertExpectations(t)
	embedder.AssertExpectations(t)
}

func TestAssembleContextRespectsByteBudget(t *testing.T) {
	embedder := new(embeddings.MockEmbedder)
	e, err := NewEngine(nil, embedder, new(searchindex.MockIndex), new(llm.MockGenerator), nil, time.Minute, 300)
	if err != nil {
		t.Fatal(err)
	}

	hits := []searchindex.Hit{
		{ID: searchindex.EntryID(docA, 0), Content: strings.Repeat("a", 200)},
		{ID: searchindex.EntryID(docA, 1), Content: strings.Repeat("b", 200)},
		{ID: searchindex.EntryID(docA, 2), Content: strings.Repeat("c", 200)},
	}
	text, included := e.assembleContext(hits)
	if len(included) != 1 {
		t.Fatalf("expected only the top hit to fit, got %d", len(included))
	}
	if _, ok := included[searchindex.EntryID(docA, 0)]; !ok {
		t.Error("truncation must keep the highest-ranked hit")
	}
	if !strings.Contains(text, fmt.Sprintf("[[chunk %s:0]]", docA)) {
		t.Error("context must carry chunk markers")
	}
	// The first hit always fits, even when it alone exceeds the budget.
	huge := []searchindex.Hit{{ID: searchindex.EntryID(docA, 0), Content: strings.Repeat("x", 1000)}}
	_, included = e.assembleContext(huge)
	if len(included) != 1 {
		t.Error("an oversized top hit must still be included")
	}
}

func TestSearchClampsTopK(t *testing.T) {
	index := new(searchindex.MockIndex)
	index.On("Query", mock.Anything, "tenant-a", mock.Anything, maxTopK).Return([]searchindex.Hit{}, nil)

	_, err := newTestEngine(t, index, new(llm.MockGenerator)).Search(context.Background(), "tenant-a", "q", 500)
	if err != nil {
		t.Fatal(err)
	}
	index.AssertExpectations(t)
}

// memCache is a map-backed cache for tests that ignores TTLs.
type memCache struct {
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	return c.data[key], nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.data[key] = value
	return nil
}

func (c *memCache) Close() error { return nil }

var _ cache.Cache = (*memCache)(nil)
