package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ntufar/intellivault/internal/blob"
	"github.com/ntufar/intellivault/internal/chunker"
	"github.com/ntufar/intellivault/internal/embeddings"
	"github.com/ntufar/intellivault/internal/extract"
	"github.com/ntufar/intellivault/internal/queue"
	"github.com/ntufar/intellivault/internal/searchindex"
	"github.com/ntufar/intellivault/internal/store"
)

const enqueueRetryBase = 200 * time.Millisecond

// Orchestrator drives a document through the ingestion state machine:
// uploaded -> processing -> ready, with error reachable from any in-flight
// state. Each stage handler is idempotent; the queue may deliver a task more
// than once.
type Orchestrator struct {
	log       *slog.Logger
	store     store.Store
	blobs     blob.Store
	extractor extract.Extractor
	embedder  embeddings.Embedder
	index     searchindex.Index
	queue     queue.Queue
	chunkOpts chunker.Options
}

func NewOrchestrator(
	log *slog.Logger,
	st store.Store,
	blobs blob.Store,
	extractor extract.Extractor,
	embedder embeddings.Embedder,
	index searchindex.Index,
	q queue.Queue,
	chunkOpts chunker.Options,
) (*Orchestrator, error) {
	if st == nil {
		return nil, ErrStoreRequired
	}
	if blobs == nil {
		return nil, ErrBlobStoreRequired
	}
	if extractor == nil {
		return nil, ErrExtractorRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if index == nil {
		return nil, ErrIndexRequired
	}
	if q == nil {
		return nil, ErrQueueRequired
	}
	if err := chunkOpts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunk options: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		log:       log,
		store:     st,
		blobs:     blobs,
		extractor: extractor,
		embedder:  embedder,
		index:     index,
		queue:     q,
		chunkOpts: chunkOpts,
	}, nil
}

// EnqueueIngest schedules ingestion for a freshly uploaded document.
func (o *Orchestrator) EnqueueIngest(ctx context.Context, tenantID string, docID uuid.UUID) error {
	task, err := NewIngestTask(IngestJob{DocumentID: docID, TenantID: tenantID})
	if err != nil {
		return err
	}
	return queue.EnqueueWithRetry(ctx, o.queue, task, 3, enqueueRetryBase)
}

// HandleIngest extracts and chunks the document, then fans out one embed job
// per chunk index. Re-running for a document that already has chunks
// overwrites by (documentID, chunkIndex) rather than appending.
func (o *Orchestrator) HandleIngest(ctx context.Context, task queue.Task) error {
	job, err := decodeJob[IngestJob](task, queue.StageIngest)
	if err != nil {
		return queue.Permanent(err)
	}
	log := o.log.With("document_id", job.DocumentID, "stage", queue.StageIngest)

	doc, err := o.store.GetDocument(ctx, job.TenantID, job.DocumentID)
	if errors.Is(err, store.ErrDocumentNotFound) {
		return queue.Permanent(err)
	}
	if err != nil {
		return o.escalate(ctx, log, task, job.DocumentID, err)
	}
	if doc.Status == store.StatusError {
		log.Info("skipping ingest for aborted document")
		return nil
	}

	if err := o.store.UpdateDocumentStatus(ctx, doc.ID, store.StatusProcessing, ""); err != nil {
		return o.escalate(ctx, log, task, doc.ID, err)
	}

	data, err := o.blobs.Get(ctx, doc.BlobPath)
	if err != nil {
		return o.escalate(ctx, log, task, doc.ID, fmt.Errorf("failed to read blob %s: %w", doc.BlobPath, err))
	}

	text, err := o.extractor.Extract(ctx, doc.MIMEType, data)
	if err != nil {
		// Unsupported formats and broken files never fix themselves on
		// retry. Record the reason and stop.
		return o.failDocument(ctx, log, doc.ID, fmt.Sprintf("extraction failed: %v", err))
	}

	chunks, err := chunker.Split(text, o.chunkOpts)
	if err != nil {
		return o.failDocument(ctx, log, doc.ID, fmt.Sprintf("chunking failed: %v", err))
	}
	if len(chunks) == 0 {
		return o.failDocument(ctx, log, doc.ID, "document contains no extractable text")
	}

	storeChunks := make([]store.Chunk, len(chunks))
	for i, c := range chunks {
		storeChunks[i] = store.Chunk{DocumentID: doc.ID, Index: c.Index, Text: c.Text}
	}
	if err := o.store.UpsertChunkTexts(ctx, doc.ID, storeChunks); err != nil {
		return o.escalate(ctx, log, task, doc.ID, err)
	}
	if err := o.store.SetChunkCount(ctx, doc.ID, len(chunks)); err != nil {
		return o.escalate(ctx, log, task, doc.ID, err)
	}

	for i := range chunks {
		embedTask, err := NewEmbedChunkTask(EmbedChunkJob{
			DocumentID: doc.ID,
			TenantID:   job.TenantID,
			ChunkIndex: i,
		})
		if err != nil {
			return o.escalate(ctx, log, task, doc.ID, err)
		}
		if err := queue.EnqueueWithRetry(ctx, o.queue, embedTask, 3, enqueueRetryBase); err != nil {
			// Re-running the whole ingest stage is safe; chunk upserts
			// converge on the same keys.
			return o.escalate(ctx, log, task, doc.ID,
				fmt.Errorf("failed to enqueue embed job for chunk %d: %w", i, err))
		}
	}

	log.Info("ingest complete", "chunks", len(chunks))
	return nil
}

// HandleEmbedChunk embeds one chunk. Transient provider failures bubble up
// for queue-level retry; once the attempt budget is spent the chunk is
// marked failed so the join can settle the document.
func (o *Orchestrator) HandleEmbedChunk(ctx context.Context, task queue.Task) error {
	job, err := decodeJob[EmbedChunkJob](task, queue.StageEmbedChunk)
	if err != nil {
		return queue.Permanent(err)
	}
	log := o.log.With("document_id", job.DocumentID, "chunk_index", job.ChunkIndex, "stage", queue.StageEmbedChunk)

	doc, err := o.store.GetDocument(ctx, job.TenantID, job.DocumentID)
	if errors.Is(err, store.ErrDocumentNotFound) {
		return queue.Permanent(err)
	}
	if err != nil {
		return o.escalate(ctx, log, task, job.DocumentID, err)
	}
	if doc.Status != store.StatusProcessing {
		// Aborted or already settled; the result would be discarded anyway.
		log.Info("discarding chunk job for document no longer processing", "status", doc.Status)
		return nil
	}

	chunk, err := o.store.GetChunk(ctx, job.DocumentID, job.ChunkIndex)
	if errors.Is(err, store.ErrChunkNotFound) {
		// Re-ingestion shrank the document; this index no longer exists.
		log.Info("discarding chunk job for vanished chunk")
		return nil
	}
	if err != nil {
		return o.escalate(ctx, log, task, job.DocumentID, err)
	}
	if chunk.State == store.ChunkEmbedded {
		// Redelivered after success; just re-check the join.
		return o.escalate(ctx, log, task, job.DocumentID,
			o.maybeEnqueueIndex(ctx, log, job.TenantID, job.DocumentID))
	}

	vecs, err := o.embedder.EmbedBatch(ctx, []string{chunk.Text})
	if err != nil {
		return o.retryOrFailChunk(ctx, log, task, job,
			fmt.Errorf("embedding chunk %d: %w", job.ChunkIndex, err))
	}
	if len(vecs) != 1 {
		return o.failChunk(ctx, log, task, job, fmt.Errorf("expected 1 vector, got %d", len(vecs)))
	}

	if err := o.store.SaveChunkEmbedding(ctx, job.DocumentID, job.ChunkIndex, vecs[0]); err != nil {
		if errors.Is(err, store.ErrChunkNotFound) {
			return nil
		}
		return o.retryOrFailChunk(ctx, log, task, job,
			fmt.Errorf("saving embedding for chunk %d: %w", job.ChunkIndex, err))
	}

	return o.escalate(ctx, log, task, job.DocumentID,
		o.maybeEnqueueIndex(ctx, log, job.TenantID, job.DocumentID))
}

// retryOrFailChunk lets the queue retry a transient chunk failure until the
// attempt budget is spent, then settles the chunk as failed.
func (o *Orchestrator) retryOrFailChunk(ctx context.Context, log *slog.Logger, task queue.Task, job EmbedChunkJob, err error) error {
	if !o.attemptsExhausted(task) {
		return err
	}
	return o.failChunk(ctx, log, task, job, err)
}

// failChunk marks the chunk failed and runs the join, which will settle the
// document as errored once no chunks remain pending.
func (o *Orchestrator) failChunk(ctx context.Context, log *slog.Logger, task queue.Task, job EmbedChunkJob, err error) error {
	if markErr := o.store.MarkChunkFailed(ctx, job.DocumentID, job.ChunkIndex, err.Error()); markErr != nil {
		return o.escalate(ctx, log, task, job.DocumentID, markErr)
	}
	if joinErr := o.maybeEnqueueIndex(ctx, log, job.TenantID, job.DocumentID); joinErr != nil {
		return o.escalate(ctx, log, task, job.DocumentID, joinErr)
	}
	log.Error("chunk permanently failed", "err", err)
	return queue.Permanent(err)
}

// maybeEnqueueIndex is the join step: once every chunk job for the document
// has terminated, exactly one caller wins the index-enqueued flag and either
// fails the document (some chunk permanently failed) or schedules indexing.
func (o *Orchestrator) maybeEnqueueIndex(ctx context.Context, log *slog.Logger, tenantID string, docID uuid.UUID) error {
	counts, err := o.store.CountChunks(ctx, docID)
	if err != nil {
		return err
	}
	if counts.Pending > 0 {
		return nil
	}

	won, err := o.store.MarkIndexEnqueued(ctx, docID)
	if err != nil {
		return err
	}
	if !won {
		// Either another chunk job got here first, or the document was
		// aborted; the conditional update checks current status.
		return nil
	}

	// From here on a failure must return the won flag, or the join could
	// never run again and the document would stall in processing.
	if counts.Failed > 0 {
		if err := o.failDocument(ctx, log, docID,
			fmt.Sprintf("%d of %d chunks failed to embed", counts.Failed, counts.Total())); err != nil {
			o.resetIndexFlag(ctx, log, docID)
			return err
		}
		return nil
	}

	task, err := NewIndexTask(IndexJob{DocumentID: docID, TenantID: tenantID})
	if err != nil {
		o.resetIndexFlag(ctx, log, docID)
		return err
	}
	if err := queue.EnqueueWithRetry(ctx, o.queue, task, 3, enqueueRetryBase); err != nil {
		o.resetIndexFlag(ctx, log, docID)
		return fmt.Errorf("failed to enqueue index job: %w", err)
	}
	log.Info("all chunks embedded, indexing enqueued", "chunks", counts.Embedded)
	return nil
}

func (o *Orchestrator) resetIndexFlag(ctx context.Context, log *slog.Logger, docID uuid.UUID) {
	if err := o.store.ClearIndexEnqueued(ctx, docID); err != nil {
		log.Error("failed to return index-enqueued flag", "err", err)
	}
}

// HandleIndex projects the document's chunks into the search index and
// settles the document as ready. A document that left the processing state
// while chunk jobs were in flight is discarded here.
func (o *Orchestrator) HandleIndex(ctx context.Context, task queue.Task) error {
	job, err := decodeJob[IndexJob](task, queue.StageIndex)
	if err != nil {
		return queue.Permanent(err)
	}
	log := o.log.With("document_id", job.DocumentID, "stage", queue.StageIndex)

	doc, err := o.store.GetDocument(ctx, job.TenantID, job.DocumentID)
	if errors.Is(err, store.ErrDocumentNotFound) {
		return queue.Permanent(err)
	}
	if err != nil {
		return o.escalate(ctx, log, task, job.DocumentID, err)
	}
	if doc.Status != store.StatusProcessing {
		log.Info("discarding index job for document no longer processing", "status", doc.Status)
		return nil
	}

	chunks, err := o.store.ListChunks(ctx, job.DocumentID)
	if err != nil {
		return o.escalate(ctx, log, task, job.DocumentID, err)
	}
	if len(chunks) != doc.ChunkCount {
		return o.failDocument(ctx, log, doc.ID,
			fmt.Sprintf("expected %d chunks at indexing, found %d", doc.ChunkCount, len(chunks)))
	}

	entries := make([]searchindex.Entry, len(chunks))
	for i, c := range chunks {
		if c.State != store.ChunkEmbedded || len(c.Embedding) == 0 {
			return o.failDocument(ctx, log, doc.ID,
				fmt.Sprintf("chunk %d not embedded at indexing time", c.Index))
		}
		entries[i] = searchindex.Entry{
			ID:         searchindex.EntryID(doc.ID, c.Index),
			TenantID:   doc.TenantID,
			DocumentID: doc.ID,
			ChunkIndex: c.Index,
			Content:    c.Text,
			Embedding:  c.Embedding,
			Filename:   doc.Filename,
		}
	}

	if err := o.index.Upsert(ctx, entries); err != nil {
		var partial *searchindex.PartialUpsertError
		if errors.As(err, &partial) {
			log.Warn("search index accepted only part of the document",
				"accepted", partial.Accepted, "rejected", partial.Rejected)
		}
		if o.attemptsExhausted(task) {
			// Never leave a partially indexed document in ready state.
			if failErr := o.failDocument(ctx, log, doc.ID, fmt.Sprintf("indexing failed: %v", err)); failErr != nil {
				return failErr
			}
			return err // exhausted attempts dead-letter the task
		}
		return fmt.Errorf("indexing document: %w", err)
	}

	if err := o.store.UpdateDocumentStatus(ctx, doc.ID, store.StatusReady, ""); err != nil {
		return o.escalate(ctx, log, task, doc.ID, err)
	}
	log.Info("document ready", "chunks", len(entries))
	return nil
}

// Abort marks an in-flight document as errored. Chunk jobs still running
// complete normally; the join discards their results.
func (o *Orchestrator) Abort(ctx context.Context, tenantID string, docID uuid.UUID, reason string) error {
	doc, err := o.store.GetDocument(ctx, tenantID, docID)
	if err != nil {
		return err
	}
	if doc.Status == store.StatusReady {
		return fmt.Errorf("document already ready; re-upload to replace it")
	}
	return o.store.UpdateDocumentStatus(ctx, docID, store.StatusError, reason)
}

// escalate turns a transient failure on the task's final attempt into a
// document failure. Without it, an exhausted retry budget dead-letters the
// task while the document stays in processing with no recorded reason.
func (o *Orchestrator) escalate(ctx context.Context, log *slog.Logger, task queue.Task, docID uuid.UUID, err error) error {
	if err == nil || !o.attemptsExhausted(task) {
		return err
	}
	if failErr := o.failDocument(ctx, log, docID,
		fmt.Sprintf("%s stage failed after %d attempts: %v", task.Stage, task.MaxAttempts, err)); failErr != nil {
		return failErr
	}
	return err
}

func (o *Orchestrator) attemptsExhausted(task queue.Task) bool {
	max := task.MaxAttempts
	if max == 0 {
		max = IngestMaxAttempts
	}
	return task.Attempts >= max-1
}

func (o *Orchestrator) failDocument(ctx context.Context, log *slog.Logger, docID uuid.UUID, reason string) error {
	log.Error("document failed", "reason", reason)
	if err := o.store.UpdateDocumentStatus(ctx, docID, store.StatusError, reason); err != nil {
		return err
	}
	return nil
}
