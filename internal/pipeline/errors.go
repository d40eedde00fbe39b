package pipeline

import "errors"

var (
	// ErrStoreRequired and friends guard orchestrator construction.
	ErrStoreRequired     = errors.New("document store required")
	ErrBlobStoreRequired = errors.New("blob store required")
	ErrExtractorRequired = errors.New("extractor required")
	ErrEmbedderRequired  = errors.New("embedder required")
	ErrIndexRequired     = errors.New("search index required")
	ErrQueueRequired     = errors.New("queue required")
)
