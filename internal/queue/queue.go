package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ntufar/intellivault/internal/retry"
)

// Stage enumerates the pipeline stages a task can belong to.
type Stage string

const (
	StageIngest     Stage = "ingest"
	StageEmbedChunk Stage = "embed-chunk"
	StageIndex      Stage = "index"
)

// Task is the queue envelope for a unit of pipeline work. The payload is the
// JSON encoding of the stage's job type (see pipeline package).
type Task struct {
	ID          uuid.UUID
	Stage       Stage
	Payload     []byte
	Attempts    int
	MaxAttempts int
	NotBefore   time.Time
}

type Handler func(context.Context, Task) error

// Queue exposes a minimal contract to enqueue and consume tasks. Delivery is
// at-least-once; handlers must be idempotent.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Worker(ctx context.Context, stage Stage, handler Handler) error
}

// PermanentError marks a handler failure that must not be retried. The task
// goes straight to the dead-letter subject.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the queue skips redelivery.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries the no-retry marker.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// EnqueueWithRetry attempts to enqueue with retries and exponential backoff.
func EnqueueWithRetry(ctx context.Context, q Queue, task Task, attempts int, base time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if err := q.Enqueue(ctx, task); err == nil {
			return nil
		} else if attempt == attempts-1 {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry.ExponentialBackoff(attempt, base, 5*time.Second)):
		}
	}
	return nil
}
