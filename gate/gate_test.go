package gate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type memSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *memSink) Emit(ctx context.Context, e AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *memSink) Close() error { return nil }

func (s *memSink) byType(typ EventType) []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AuditEvent
	for _, e := range s.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// gatingSink blocks inside Emit for one event type so a test can look
// at the store while the entry is still being appended.
type gatingSink struct {
	memSink
	gateOn  EventType
	seenID  string
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatingSink(gateOn EventType) *gatingSink {
	return &gatingSink{
		gateOn:  gateOn,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *gatingSink) Emit(ctx context.Context, e AuditEvent) error {
	if e.Type == s.gateOn {
		s.once.Do(func() {
			s.seenID = e.ApprovalID
			close(s.started)
		})
		<-s.release
	}
	return s.memSink.Emit(ctx, e)
}

type failNotifier struct{}

func (failNotifier) Notify(ctx context.Context, rec ApprovalRecord, event EventType) error {
	return fmt.Errorf("transport down")
}

func newTestStore(t *testing.T) *JournalStore {
	t.Helper()
	store, err := NewJournalStore(filepath.Join(t.TempDir(), "approvals.jsonl"), nil)
	if err != nil {
		t.Fatalf("NewJournalStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestGate(t *testing.T, cfg Config, opts ...Option) *Gate {
	t.Helper()
	g := New(cfg, newTestStore(t), opts...)
	t.Cleanup(g.Close)
	return g
}

func mustRequest(t *testing.T, g *Gate, desc string) ApprovalRecord {
	t.Helper()
	rec, err := g.CreateRequest(context.Background(), Request{Description: desc})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if rec.Status != StatusPending {
		t.Fatalf("new request status = %s, want pending", rec.Status)
	}
	return rec
}

func TestApproveLockCode(t *testing.T) {
	sink := &memSink{}
	g := newTestGate(t, Config{LockCode: "correct", AutoResume: true}, WithAuditSink(sink))
	ctx := context.Background()

	rec := mustRequest(t, g, "Payout $5 to x@y.com")

	cases := []struct {
		name    string
		code    string
		wantErr bool
	}{
		{"wrong_code", "wrong", true},
		{"empty_code", "", true},
		{"correct_code", "correct", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := g.Approve(ctx, rec.ID, "Boss", tc.code)
			if tc.wantErr {
				if !errors.Is(err, ErrLockCode) {
					t.Fatalf("Approve with code %q: err = %v, want ErrLockCode", tc.code, err)
				}
				got, _, _ := g.Status(ctx, rec.ID)
				if got.Status != StatusPending {
					t.Fatalf("status after rejected approve = %s, want pending", got.Status)
				}
			} else if err != nil {
				t.Fatalf("Approve with correct code: %v", err)
			}
		})
	}

	got, _, _ := g.Status(ctx, rec.ID)
	if got.Status != StatusApproved || got.Approver != "Boss" {
		t.Fatalf("final record = %+v, want approved by Boss", got)
	}
	if n := len(sink.byType(EventApprovalFailed)); n != 2 {
		t.Fatalf("approval_failed audit events = %d, want 2", n)
	}
}

func TestSingleTerminalTransition(t *testing.T) {
	sink := &memSink{}
	g := newTestGate(t, Config{AutoResume: true}, WithAuditSink(sink))
	ctx := context.Background()

	rec := mustRequest(t, g, "rotate credentials")
	if _, err := g.Approve(ctx, rec.ID, "alice", ""); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	first, _, _ := g.Status(ctx, rec.ID)

	// Second terminal attempts are rejected no-ops.
	if _, err := g.Approve(ctx, rec.ID, "bob", ""); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("second approve err = %v, want ErrAlreadyResolved", err)
	}
	if _, err := g.Deny(ctx, rec.ID, "bob", "too late"); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("deny after approve err = %v, want ErrAlreadyResolved", err)
	}

	got, _, _ := g.Status(ctx, rec.ID)
	if got.Approver != first.Approver || !got.ResolvedAt.Equal(*first.ResolvedAt) {
		t.Fatalf("record changed by rejected transition: %+v vs %+v", got, first)
	}
	if len(sink.byType(EventApprovalFailed)) != 2 {
		t.Fatal("expected both late transitions audited as approval_failed")
	}
}

func TestDenyRecordsActorAndReason(t *testing.T) {
	g := newTestGate(t, Config{AutoResume: true})
	ctx := context.Background()

	rec := mustRequest(t, g, "Payout $5 to x@y.com")
	if _, err := g.Deny(ctx, rec.ID, "Boss", "suspicious"); err != nil {
		t.Fatalf("Deny: %v", err)
	}
	got, _, _ := g.Status(ctx, rec.ID)
	if got.Status != StatusDenied || got.DeniedBy != "Boss" || got.Reason != "suspicious" {
		t.Fatalf("denied record = %+v", got)
	}
}

func TestUnknownIDReturnsNotFound(t *testing.T) {
	g := newTestGate(t, Config{AutoResume: true})
	if _, err := g.Approve(context.Background(), "apr_missing", "alice", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAutoResumePromotesPending(t *testing.T) {
	g := newTestGate(t, Config{Timeout: 100 * time.Millisecond, AutoResume: true})
	ctx := context.Background()

	rec := mustRequest(t, g, "nightly report dispatch")

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _, _ := g.Status(ctx, rec.ID)
		if got.Status == StatusAutoApproved {
			if got.Approver != "system" {
				t.Fatalf("auto-approved approver = %q, want system", got.Approver)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("record still %s after deadline", got.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAutoResumeDisabledLeavesPending(t *testing.T) {
	g := newTestGate(t, Config{Timeout: 50 * time.Millisecond, AutoResume: false})
	ctx := context.Background()

	rec := mustRequest(t, g, "stays pending")
	time.Sleep(300 * time.Millisecond)

	got, _, _ := g.Status(ctx, rec.ID)
	if got.Status != StatusPending {
		t.Fatalf("status = %s, want pending with auto-resume disabled", got.Status)
	}
}

func TestConcurrentResolveSingleWinner(t *testing.T) {
	g := newTestGate(t, Config{AutoResume: true})
	ctx := context.Background()
	rec := mustRequest(t, g, "race: human vs human")

	const attempts = 16
	var wg sync.WaitGroup
	wins := make(chan Status, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				if _, err := g.Approve(ctx, rec.ID, "alice", ""); err == nil {
					wins <- StatusApproved
				}
			} else {
				if _, err := g.Deny(ctx, rec.ID, "bob", "no"); err == nil {
					wins <- StatusDenied
				}
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var count int
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("winning transitions = %d, want exactly 1", count)
	}
}

func TestRearmPendingAfterRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "approvals.jsonl")
	ctx := context.Background()

	store1, err := NewJournalStore(path, nil)
	if err != nil {
		t.Fatalf("NewJournalStore: %v", err)
	}
	g1 := New(Config{Timeout: time.Hour, AutoResume: true}, store1)
	rec, err := g1.CreateRequest(ctx, Request{Description: "survives restart"})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	g1.Close()
	_ = store1.Close()

	// Second process: short timeout means the replayed record is already
	// past due and is promoted right after the rearm.
	store2, err := NewJournalStore(path, nil)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer store2.Close()
	g2 := New(Config{Timeout: 20 * time.Millisecond, AutoResume: true}, store2)
	defer g2.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, ok, _ := g2.Status(ctx, rec.ID)
		if !ok {
			t.Fatal("record lost across restart")
		}
		if got.Status == StatusAutoApproved {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("record still %s after restart rearm", got.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRequestAuditedBeforeObservable(t *testing.T) {
	sink := newGatingSink(EventRequested)
	g := newTestGate(t, Config{AutoResume: false}, WithAuditSink(sink))
	ctx := context.Background()

	done := make(chan ApprovalRecord, 1)
	go func() {
		rec, _ := g.CreateRequest(ctx, Request{Description: "logged first"})
		done <- rec
	}()
	<-sink.started

	// The req entry is mid-append: the record must not exist yet.
	if _, ok, _ := g.Status(ctx, sink.seenID); ok {
		t.Fatal("record observable before its request was audited")
	}

	close(sink.release)
	rec := <-done
	if rec.ID != sink.seenID {
		t.Fatalf("created id %q, audited id %q", rec.ID, sink.seenID)
	}
	got, ok, _ := g.Status(ctx, rec.ID)
	if !ok || got.Status != StatusPending {
		t.Fatalf("record after release = %+v, ok=%v", got, ok)
	}
}

func TestApprovalAuditedBeforeObservable(t *testing.T) {
	sink := newGatingSink(EventApproved)
	g := newTestGate(t, Config{AutoResume: false}, WithAuditSink(sink))
	ctx := context.Background()
	rec := mustRequest(t, g, "logged before visible")

	go func() {
		_, _ = g.Approve(ctx, rec.ID, "alice", "")
	}()
	<-sink.started

	// A reader started while the approved entry is mid-append must not
	// see the terminal status until the entry is in the log.
	observed := make(chan bool, 1)
	go func() {
		got, _, _ := g.Status(ctx, rec.ID)
		observed <- got.Status == StatusApproved && len(sink.byType(EventApproved)) == 1
	}()

	select {
	case ok := <-observed:
		if !ok {
			t.Fatal("approved state observable before the audit entry was appended")
		}
	case <-time.After(50 * time.Millisecond):
		close(sink.release)
		if ok := <-observed; !ok {
			t.Fatal("approved state observable before the audit entry was appended")
		}
		return
	}
	close(sink.release)
}

func TestAlertFailureIsSwallowedAndAudited(t *testing.T) {
	sink := &memSink{}
	g := newTestGate(t, Config{AutoResume: true}, WithAuditSink(sink), WithNotifier(failNotifier{}))

	rec := mustRequest(t, g, "alert transport is down")
	if _, err := g.Approve(context.Background(), rec.ID, "alice", ""); err != nil {
		t.Fatalf("Approve must not surface alert failures: %v", err)
	}
	g.Close() // waits for in-flight alerts

	fails := sink.byType(EventAlertFailure)
	if len(fails) < 2 {
		t.Fatalf("alert_fail events = %d, want one per transition", len(fails))
	}
}
