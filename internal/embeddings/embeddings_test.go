package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/ntufar/intellivault/internal/cache"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float32
	}{
		{"identical vectors", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0},
		{"orthogonal vectors", Vector{1, 0}, Vector{0, 1}, 0.0},
		{"opposite vectors", Vector{1, 0}, Vector{-1, 0}, -1.0},
		{"empty vectors", Vector{}, Vector{}, 0.0},
		{"different length vectors", Vector{1, 2}, Vector{1, 2, 3}, 0.0},
		{"normalized vectors 45 degrees", Vector{1, 0}, Vector{0.707, 0.707}, 0.707},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CosineSimilarity(tt.a, tt.b)
			if math.Abs(float64(result-tt.expected)) > 0.01 {
				t.Errorf("got %f, want %f", result, tt.expected)
			}
		})
	}
}

func TestBatchedEmbedderSplitsInput(t *testing.T) {
	inner := new(MockEmbedder)
	inner.On("EmbedBatch", mock.Anything, []string{"a", "b"}).Return([]Vector{{1}, {2}}, nil).Once()
	inner.On("EmbedBatch", mock.Anything, []string{"c", "d"}).Return([]Vector{{3}, {4}}, nil).Once()
	inner.On("EmbedBatch", mock.Anything, []string{"e"}).Return([]Vector{{5}}, nil).Once()

	b := NewBatched(inner, 2)
	vecs, err := b.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 5 {
		t.Fatalf("expected 5 vectors, got %d", len(vecs))
	}
	for i, v := range vecs {
		if v[0] != float32(i+1) {
			t.Errorf("vector %d out of order: got %v", i, v)
		}
	}
	inner.AssertExpectations(t)
}

func TestBatchedEmbedderPropagatesBatchFailure(t *testing.T) {
	inner := new(MockEmbedder)
	inner.On("EmbedBatch", mock.Anything, []string{"a", "b"}).Return([]Vector{{1}, {2}}, nil).Once()
	inner.On("EmbedBatch", mock.Anything, []string{"c"}).Return(nil, errors.New("rate limited")).Once()

	b := NewBatched(inner, 2)
	_, err := b.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err == nil {
		t.Fatal("expected error from failing batch")
	}
	inner.AssertExpectations(t)
}

func TestCachedEmbedderSkipsProviderOnHit(t *testing.T) {
	cached, _ := json.Marshal(Vector{9, 9})

	c := new(cache.MockCache)
	c.On("Get", mock.Anything, mock.Anything).Return([]byte(cached), nil)

	inner := new(MockEmbedder)
	e := NewCached(inner, c, "test-model", time.Hour, nil)

	vecs, err := e.EmbedBatch(context.Background(), []string{"same text", "same text"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 || vecs[0][0] != 9 || vecs[1][0] != 9 {
		t.Errorf("expected cached vectors, got %v", vecs)
	}
	inner.AssertNotCalled(t, "EmbedBatch", mock.Anything, mock.Anything)
}

func TestCachedEmbedderFillsMissesAndWritesBack(t *testing.T) {
	c := new(cache.MockCache)
	c.On("Get", mock.Anything, mock.Anything).Return(nil, nil)
	c.On("Set", mock.Anything, mock.Anything, mock.Anything, time.Hour).Return(nil)

	inner := new(MockEmbedder)
	inner.On("EmbedBatch", mock.Anything, []string{"alpha", "beta"}).Return([]Vector{{1}, {2}}, nil).Once()

	e := NewCached(inner, c, "test-model", time.Hour, nil)
	vecs, err := e.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatal(err)
	}
	if vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Errorf("unexpected vectors %v", vecs)
	}
	c.AssertNumberOfCalls(t, "Set", 2)
	inner.AssertExpectations(t)
}

func TestCachedEmbedderToleratesCacheErrors(t *testing.T) {
	c := new(cache.MockCache)
	c.On("Get", mock.Anything, mock.Anything).Return(nil, errors.New("redis down"))
	c.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down"))

	inner := new(MockEmbedder)
	inner.On("EmbedBatch", mock.Anything, []string{"x"}).Return([]Vector{{7}}, nil).Once()

	e := NewCached(inner, c, "test-model", time.Hour, nil)
	vecs, err := e.EmbedBatch(context.Background(), []string{"x"})
	if err != nil {
		t.Fatal(err)
	}
	if vecs[0][0] != 7 {
		t.Errorf("unexpected vector %v", vecs)
	}
}
