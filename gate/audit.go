package gate

import (
	"context"
	"time"
)

type EventType string

const (
	EventRequested      EventType = "req"
	EventApproved       EventType = "approved"
	EventDenied         EventType = "denied"
	EventAutoApproved   EventType = "auto_approved"
	EventExecuted       EventType = "exec"
	EventExecuteError   EventType = "exec_err"
	EventAlertFailure   EventType = "alert_fail"
	EventApprovalFailed EventType = "approval_failed"
)

// AuditEvent is an immutable fact about one approval. Events are written
// once and never replayed into store state.
type AuditEvent struct {
	Timestamp  time.Time      `json:"t"`
	Type       EventType      `json:"type"`
	ApprovalID string         `json:"id,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

type AuditSink interface {
	Emit(ctx context.Context, e AuditEvent) error
	Close() error
}

// NopAuditSink discards every event. Useful for tests and for callers
// that opt out of auditing.
type NopAuditSink struct{}

func (NopAuditSink) Emit(ctx context.Context, e AuditEvent) error { return nil }
func (NopAuditSink) Close() error                                 { return nil }

func newEvent(typ EventType, id string, fields map[string]any) AuditEvent {
	return AuditEvent{
		Timestamp:  time.Now().UTC(),
		Type:       typ,
		ApprovalID: id,
		Fields:     fields,
	}
}
