package searchindex

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ntufar/intellivault/internal/embeddings"
)

// MockIndex is a mock implementation of Index using testify/mock.
type MockIndex struct {
	mock.Mock
}

func (m *MockIndex) Upsert(ctx context.Context, entries []Entry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func (m *MockIndex) Delete(ctx context.Context, ids []string) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

func (m *MockIndex) Query(ctx context.Context, tenantID string, vector embeddings.Vector, k int) ([]Hit, error) {
	args := m.Called(ctx, tenantID, vector, k)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Hit), args.Error(1)
}
