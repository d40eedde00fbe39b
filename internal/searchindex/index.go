package searchindex

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ntufar/intellivault/internal/embeddings"
)

// Entry is the denormalized projection of a chunk into the search index.
type Entry struct {
	ID         string // "<documentID>:<chunkIndex>"
	TenantID   string
	DocumentID uuid.UUID
	ChunkIndex int
	Content    string
	Embedding  embeddings.Vector
	Filename   string
}

// EntryID builds the canonical index id for a chunk.
func EntryID(docID uuid.UUID, chunkIndex int) string {
	return fmt.Sprintf("%s:%d", docID, chunkIndex)
}

// Hit is one ranked query result.
type Hit struct {
	ID         string
	TenantID   string
	DocumentID uuid.UUID
	ChunkIndex int
	Content    string
	Filename   string
	Score      float32
	Snippet    string
}

// PartialUpsertError reports an upsert where some entries were accepted and
// others rejected, so the caller can distinguish it from total failure.
type PartialUpsertError struct {
	Accepted int
	Rejected int
	Err      error
}

func (e *PartialUpsertError) Error() string {
	return fmt.Sprintf("partial upsert: %d accepted, %d rejected: %v", e.Accepted, e.Rejected, e.Err)
}

func (e *PartialUpsertError) Unwrap() error { return e.Err }

// Index stores chunk projections and answers tenant-scoped similarity
// queries. Tenant filtering happens inside the implementation, never in the
// caller, so cross-tenant leakage is impossible at the filter level.
type Index interface {
	Upsert(ctx context.Context, entries []Entry) error
	Delete(ctx context.Context, ids []string) error
	Query(ctx context.Context, tenantID string, vector embeddings.Vector, k int) ([]Hit, error)
}

// Snippet shortens content for display, cutting at a word boundary.
func Snippet(content string, maxLen int) string {
	if len(content) <= maxLen {
		return content
	}
	if idx := strings.LastIndex(content[:maxLen], " "); idx > 0 {
		return content[:idx] + "..."
	}
	return content[:maxLen] + "..."
}
