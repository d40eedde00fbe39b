package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/ntufar/intellivault/internal/embeddings"
)

// MockStore is a mock implementation of Store using testify/mock.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateDocument(ctx context.Context, doc Document) (Document, bool, error) {
	args := m.Called(ctx, doc)
	return args.Get(0).(Document), args.Bool(1), args.Error(2)
}

func (m *MockStore) GetDocument(ctx context.Context, tenantID string, id uuid.UUID) (Document, error) {
	args := m.Called(ctx, tenantID, id)
	return args.Get(0).(Document), args.Error(1)
}

func (m *MockStore) ListDocuments(ctx context.Context, tenantID string, statuses []DocumentStatus) ([]Document, error) {
	args := m.Called(ctx, tenantID, statuses)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Document), args.Error(1)
}

func (m *MockStore) UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status DocumentStatus, reason string) error {
	args := m.Called(ctx, id, status, reason)
	return args.Error(0)
}

func (m *MockStore) SetChunkCount(ctx context.Context, id uuid.UUID, count int) error {
	args := m.Called(ctx, id, count)
	return args.Error(0)
}

func (m *MockStore) MarkIndexEnqueued(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) ClearIndexEnqueued(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStore) UpsertChunkTexts(ctx context.Context, docID uuid.UUID, chunks []Chunk) error {
	args := m.Called(ctx, docID, chunks)
	return args.Error(0)
}

func (m *MockStore) GetChunk(ctx context.Context, docID uuid.UUID, index int) (Chunk, error) {
	args := m.Called(ctx, docID, index)
	return args.Get(0).(Chunk), args.Error(1)
}

func (m *MockStore) ListChunks(ctx context.Context, docID uuid.UUID) ([]Chunk, error) {
	args := m.Called(ctx, docID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Chunk), args.Error(1)
}

func (m *MockStore) SaveChunkEmbedding(ctx context.Context, docID uuid.UUID, index int, vec embeddings.Vector) error {
	args := m.Called(ctx, docID, index, vec)
	return args.Error(0)
}

func (m *MockStore) MarkChunkFailed(ctx context.Context, docID uuid.UUID, index int, reason string) error {
	args := m.Called(ctx, docID, index, reason)
	return args.Error(0)
}

func (m *MockStore) CountChunks(ctx context.Context, docID uuid.UUID) (ChunkCounts, error) {
	args := m.Called(ctx, docID)
	return args.Get(0).(ChunkCounts), args.Error(1)
}
