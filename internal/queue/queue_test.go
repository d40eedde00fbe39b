package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
)

func TestPermanentMarker(t *testing.T) {
	base := errors.New("unsupported media type")
	wrapped := Permanent(base)

	if !IsPermanent(wrapped) {
		t.Error("expected wrapped error to be permanent")
	}
	if !errors.Is(wrapped, base) {
		t.Error("expected Unwrap to reach the original error")
	}
	if IsPermanent(base) {
		t.Error("plain error must not be permanent")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) must be nil")
	}
}

func TestEnqueueWithRetrySucceedsAfterFailures(t *testing.T) {
	q := new(MockQueue)
	task := Task{Stage: StageIngest}

	q.On("Enqueue", mock.Anything, task).Return(errors.New("nats down")).Twice()
	q.On("Enqueue", mock.Anything, task).Return(nil).Once()

	err := EnqueueWithRetry(context.Background(), q, task, 3, time.Millisecond)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	q.AssertExpectations(t)
}

func TestEnqueueWithRetryExhausted(t *testing.T) {
	q := new(MockQueue)
	task := Task{Stage: StageIndex}

	q.On("Enqueue", mock.Anything, task).Return(errors.New("nats down")).Times(3)

	err := EnqueueWithRetry(context.Background(), q, task, 3, time.Millisecond)
	if err == nil {
		t.Fatal("expected error once attempts are exhausted")
	}
	q.AssertExpectations(t)
}

func TestEnqueueWithRetryRespectsContext(t *testing.T) {
	q := new(MockQueue)
	task := Task{Stage: StageEmbedChunk}
	q.On("Enqueue", mock.Anything, task).Return(errors.New("nats down"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := EnqueueWithRetry(ctx, q, task, 5, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
