package audit

import (
	"context"
	"time"
)

// Event types emitted by the core. Persistence belongs to the external audit
// collaborator; the core only publishes.
const (
	EventUploadAccepted   = "document.upload.accepted"
	EventSearchExecuted   = "search.executed"
	EventQuestionAnswered = "question.answered"
)

// Event is one audit-worthy occurrence.
type Event struct {
	Type       string         `json:"type"`
	TenantID   string         `json:"tenant_id"`
	DocumentID string         `json:"document_id,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	At         time.Time      `json:"at"`
}

// Emitter publishes audit events. Emission is fire-and-forget: a failing
// audit sink never fails the user request.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}
