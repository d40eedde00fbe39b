package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ntufar/intellivault/internal/embeddings"
)

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusError      DocumentStatus = "error"
)

type ChunkState string

const (
	ChunkPending  ChunkState = "pending"
	ChunkEmbedded ChunkState = "embedded"
	ChunkFailed   ChunkState = "failed"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrChunkNotFound    = errors.New("chunk not found")
)

// Document is the authoritative record for one uploaded file. Checksum is
// unique within a tenant; re-uploading identical bytes resolves to the
// existing record.
type Document struct {
	ID          uuid.UUID
	TenantID    string
	Filename    string
	MIMEType    string
	SizeBytes   int64
	Checksum    string
	Status      DocumentStatus
	ErrorReason string
	Language    string
	ChunkCount  int
	BlobPath    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Chunk is keyed by (DocumentID, Index); indices for a document are dense
// and 0-based. Embedding is nil until the embed stage fills it in.
type Chunk struct {
	DocumentID uuid.UUID
	Index      int
	Text       string
	Embedding  embeddings.Vector
	State      ChunkState
	CreatedAt  time.Time
}

// ChunkCounts summarizes chunk states for the join decision.
type ChunkCounts struct {
	Pending  int
	Embedded int
	Failed   int
}

func (c ChunkCounts) Total() int { return c.Pending + c.Embedded + c.Failed }

// Store defines the document-of-record persistence contract. All reads are
// tenant-scoped; pipeline-internal writes address documents by id because
// job payloads already carry a verified tenant.
type Store interface {
	// CreateDocument inserts doc unless an identical checksum already exists
	// for the tenant, in which case the existing record is returned and
	// created is false.
	CreateDocument(ctx context.Context, doc Document) (out Document, created bool, err error)
	GetDocument(ctx context.Context, tenantID string, id uuid.UUID) (Document, error)
	ListDocuments(ctx context.Context, tenantID string, statuses []DocumentStatus) ([]Document, error)
	UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status DocumentStatus, reason string) error
	SetChunkCount(ctx context.Context, id uuid.UUID, count int) error
	// MarkIndexEnqueued flips the document's index-enqueued flag and reports
	// whether this call won the race. Exactly one chunk-job completion per
	// document observes true, making the join-to-index handoff single-shot.
	MarkIndexEnqueued(ctx context.Context, id uuid.UUID) (bool, error)
	// ClearIndexEnqueued returns the flag so a later join attempt can win it
	// again. Used when the step after a won MarkIndexEnqueued fails.
	ClearIndexEnqueued(ctx context.Context, id uuid.UUID) error

	// UpsertChunkTexts writes chunk texts by (documentID, index), resetting
	// their state to pending, and removes stale chunks at higher indices.
	// Re-running ingestion therefore converges instead of appending.
	UpsertChunkTexts(ctx context.Context, docID uuid.UUID, chunks []Chunk) error
	GetChunk(ctx context.Context, docID uuid.UUID, index int) (Chunk, error)
	ListChunks(ctx context.Context, docID uuid.UUID) ([]Chunk, error)
	SaveChunkEmbedding(ctx context.Context, docID uuid.UUID, index int, vec embeddings.Vector) error
	MarkChunkFailed(ctx context.Context, docID uuid.UUID, index int, reason string) error
	CountChunks(ctx context.Context, docID uuid.UUID) (ChunkCounts, error)
}
