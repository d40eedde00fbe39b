package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ntufar/intellivault/internal/queue"
)

// Per-stage attempt budgets. Chunk jobs are fine-grained and cheap to retry,
// so they get a larger budget than document-level jobs.
const (
	IngestMaxAttempts = 3
	EmbedMaxAttempts  = 5
	IndexMaxAttempts  = 3
)

// IngestJob triggers extraction, chunking and embed fan-out for a document.
type IngestJob struct {
	DocumentID uuid.UUID `json:"document_id"`
	TenantID   string    `json:"tenant_id"`
}

// EmbedChunkJob embeds a single chunk. One job per chunk index; siblings are
// independent, so one chunk's failure never blocks the others.
type EmbedChunkJob struct {
	DocumentID uuid.UUID `json:"document_id"`
	TenantID   string    `json:"tenant_id"`
	ChunkIndex int       `json:"chunk_index"`
}

// IndexJob projects all embedded chunks of a document into the search index.
// Enqueued exactly once, after every chunk job has terminated.
type IndexJob struct {
	DocumentID uuid.UUID `json:"document_id"`
	TenantID   string    `json:"tenant_id"`
}

func NewIngestTask(job IngestJob) (queue.Task, error) {
	return newTask(queue.StageIngest, IngestMaxAttempts, job)
}

func NewEmbedChunkTask(job EmbedChunkJob) (queue.Task, error) {
	return newTask(queue.StageEmbedChunk, EmbedMaxAttempts, job)
}

func NewIndexTask(job IndexJob) (queue.Task, error) {
	return newTask(queue.StageIndex, IndexMaxAttempts, job)
}

func newTask(stage queue.Stage, maxAttempts int, payload any) (queue.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return queue.Task{}, fmt.Errorf("failed to encode %s job: %w", stage, err)
	}
	return queue.Task{
		ID:          uuid.New(),
		Stage:       stage,
		Payload:     body,
		MaxAttempts: maxAttempts,
	}, nil
}

func decodeJob[T any](task queue.Task, want queue.Stage) (T, error) {
	var job T
	if task.Stage != want {
		return job, fmt.Errorf("task stage %q routed to %q handler", task.Stage, want)
	}
	if err := json.Unmarshal(task.Payload, &job); err != nil {
		return job, fmt.Errorf("failed to decode %s job: %w", want, err)
	}
	return job, nil
}
