package extract

import (
	"context"
	"fmt"
	"strings"
)

// Extractor converts raw file bytes plus a declared media type into plain
// text. Implementations are registered per media type; an unknown type is a
// non-retryable failure.
type Extractor interface {
	Extract(ctx context.Context, mimeType string, data []byte) (string, error)
	Supports(mimeType string) bool
}

// UnsupportedTypeError identifies an upload whose media type has no
// registered extractor. Never retried.
type UnsupportedTypeError struct {
	MIMEType string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported media type %q", e.MIMEType)
}

type extractFunc func(ctx context.Context, data []byte) (string, error)

// Registry dispatches extraction by media type.
type Registry struct {
	byType map[string]extractFunc
}

// NewRegistry returns an extractor covering plain text, markdown, HTML and
// PDF inputs.
func NewRegistry() *Registry {
	r := &Registry{byType: map[string]extractFunc{}}
	r.byType["text/plain"] = extractPlain
	r.byType["text/markdown"] = extractPlain
	r.byType["text/html"] = extractHTML
	r.byType["application/xhtml+xml"] = extractHTML
	r.byType["application/pdf"] = extractPDF
	return r
}

func (r *Registry) Supports(mimeType string) bool {
	_, ok := r.byType[normalize(mimeType)]
	return ok
}

func (r *Registry) Extract(ctx context.Context, mimeType string, data []byte) (string, error) {
	fn, ok := r.byType[normalize(mimeType)]
	if !ok {
		return "", &UnsupportedTypeError{MIMEType: mimeType}
	}
	return fn(ctx, data)
}

// normalize strips parameters such as "; charset=utf-8".
func normalize(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

func extractPlain(_ context.Context, data []byte) (string, error) {
	return string(data), nil
}
