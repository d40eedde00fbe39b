package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/ntufar/intellivault/internal/retry"
)

const (
	deadLetterSubject = "tasks.dead"
	subjectPrefix     = "tasks."

	defaultMaxAttempts = 3
	backoffBase        = time.Second
	backoffMax         = 2 * time.Minute
)

// NewNATS constructs a NATS-backed queue. Each stage maps to one subject with
// a queue group per stage, so concurrent workers share the load.
func NewNATS(log *slog.Logger, nc *nats.Conn) Queue {
	return &natsQueue{log: log, nc: nc}
}

type natsQueue struct {
	log *slog.Logger
	nc  *nats.Conn
}

func (q *natsQueue) Enqueue(_ context.Context, task Task) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.Stage == "" {
		return errors.New("task stage required")
	}
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.nc.Publish(subjectPrefix+string(task.Stage), body)
}

func (q *natsQueue) Worker(ctx context.Context, stage Stage, handler Handler) error {
	subject := subjectPrefix + string(stage)
	group := "workers-" + string(stage)
	sub, err := q.nc.QueueSubscribe(subject, group, func(msg *nats.Msg) {
		q.handleMessage(ctx, msg, handler)
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	return sub.Unsubscribe()
}

func (q *natsQueue) handleMessage(ctx context.Context, msg *nats.Msg, handler Handler) {
	var task Task
	if err := json.Unmarshal(msg.Data, &task); err != nil {
		q.log.Error("failed to decode task", "err", err)
		return
	}

	if task.NotBefore.After(time.Now()) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(task.NotBefore)):
		}
	}

	if err := handler(ctx, task); err != nil {
		q.retryTask(ctx, task, err)
	}
}

func (q *natsQueue) retryTask(ctx context.Context, task Task, handlerErr error) {
	if task.MaxAttempts == 0 {
		task.MaxAttempts = defaultMaxAttempts
	}
	task.Attempts++

	if IsPermanent(handlerErr) || task.Attempts >= task.MaxAttempts {
		q.deadLetter(task, handlerErr)
		return
	}

	task.NotBefore = time.Now().Add(retry.ExponentialBackoff(task.Attempts, backoffBase, backoffMax))
	if err := q.Enqueue(ctx, task); err != nil {
		q.log.Error("failed to re-enqueue task after failure",
			"id", task.ID, "stage", task.Stage, "original_err", handlerErr, "enqueue_err", err)
	}
}

// deadLetter publishes the exhausted task for manual intervention.
func (q *natsQueue) deadLetter(task Task, handlerErr error) {
	q.log.Error("task moved to dead-letter",
		"id", task.ID, "stage", task.Stage, "attempts", task.Attempts, "err", handlerErr)
	body, err := json.Marshal(task)
	if err != nil {
		return
	}
	if err := q.nc.Publish(deadLetterSubject, body); err != nil {
		q.log.Error("failed to publish dead-letter task", "id", task.ID, "err", err)
	}
}
