package blob

import "context"

// Store persists raw uploaded bytes. The returned path is opaque to callers
// and recorded on the document for later extraction.
type Store interface {
	Put(ctx context.Context, tenantID, filename string, data []byte) (string, error)
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}
