package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const auditSubject = "events.audit"

// NATSEmitter publishes events on the audit subject for the external audit
// collaborator to record.
type NATSEmitter struct {
	log *slog.Logger
	nc  *nats.Conn
}

func NewNATS(log *slog.Logger, nc *nats.Conn) *NATSEmitter {
	return &NATSEmitter{log: log, nc: nc}
}

func (e *NATSEmitter) Emit(_ context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	body, err := json.Marshal(event)
	if err != nil {
		e.log.Warn("failed to encode audit event", "type", event.Type, "err", err)
		return
	}
	if err := e.nc.Publish(auditSubject, body); err != nil {
		e.log.Warn("failed to publish audit event", "type", event.Type, "err", err)
	}
}

// LogEmitter writes events to the structured log. Used when no queue is
// available (tests, single-binary runs).
type LogEmitter struct {
	log *slog.Logger
}

func NewLog(log *slog.Logger) *LogEmitter {
	if log == nil {
		log = slog.Default()
	}
	return &LogEmitter{log: log}
}

func (e *LogEmitter) Emit(_ context.Context, event Event) {
	e.log.Info("audit",
		"type", event.Type,
		"tenant_id", event.TenantID,
		"document_id", event.DocumentID,
	)
}
