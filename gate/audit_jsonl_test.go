package gate

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestJSONLAuditSinkEmitsOneLinePerEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewJSONLAuditSink(path, 0)
	if err != nil {
		t.Fatalf("NewJSONLAuditSink: %v", err)
	}
	ctx := context.Background()

	events := []AuditEvent{
		newEvent(EventRequested, "apr_1", map[string]any{"desc": "payout"}),
		newEvent(EventApproved, "apr_1", map[string]any{"approver": "alice"}),
		newEvent(EventExecuted, "apr_1", nil),
	}
	for _, e := range events {
		if err := sink.Emit(ctx, e); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()

	var lines int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEvent
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines+1, err)
		}
		if e.Type != events[lines].Type || e.ApprovalID != "apr_1" {
			t.Fatalf("line %d = %+v", lines+1, e)
		}
		if e.Timestamp.IsZero() {
			t.Fatalf("line %d has no timestamp", lines+1)
		}
		lines++
	}
	if lines != len(events) {
		t.Fatalf("lines = %d, want %d", lines, len(events))
	}
}

func TestJSONLAuditSinkRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	sink, err := NewJSONLAuditSink(path, 256)
	if err != nil {
		t.Fatalf("NewJSONLAuditSink: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if err := sink.Emit(ctx, newEvent(EventRequested, NewApprovalID(), map[string]any{
			"desc": "padding to push the file past the rotation threshold",
		})); err != nil {
			t.Fatalf("Emit %d: %v", i, err)
		}
	}
	_ = sink.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("files after rotation = %d, want the live log plus rotations", len(entries))
	}
}
