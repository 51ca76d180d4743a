package gate

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Notifier delivers a human-readable alert for one state change. It may
// fail; the gate treats every failure as best-effort and records it in
// the audit log without surfacing it to the caller.
type Notifier interface {
	Notify(ctx context.Context, rec ApprovalRecord, event EventType) error
}

// Recorder receives transition counters. Implemented by the metrics
// package; a nil Recorder disables instrumentation.
type Recorder interface {
	ApprovalCreated()
	ApprovalResolved(status string)
	ActionExecuted(outcome string)
	AlertFailure()
}

// Gate owns the approval lifecycle: it files requests, accepts human
// approve/deny, and promotes unresolved requests after the configured
// timeout. All state lives in the injected Store.
type Gate struct {
	cfg      Config
	store    Store
	audit    AuditSink
	notifier Notifier
	metrics  Recorder
	log      *slog.Logger

	timers *timerQueue
	alerts sync.WaitGroup
}

type Option func(*Gate)

func WithAuditSink(sink AuditSink) Option {
	return func(g *Gate) {
		if sink != nil {
			g.audit = sink
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(g *Gate) { g.notifier = n }
}

func WithRecorder(r Recorder) Option {
	return func(g *Gate) { g.metrics = r }
}

func WithLogger(log *slog.Logger) Option {
	return func(g *Gate) {
		if log != nil {
			g.log = log
		}
	}
}

func New(cfg Config, store Store, opts ...Option) *Gate {
	g := &Gate{
		cfg:   cfg.withDefaults(),
		store: store,
		audit: NopAuditSink{},
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.timers = newTimerQueue(g.autoResume)
	g.rearmPending()
	return g
}

// Request is the caller-facing shape of a new approval.
type Request struct {
	Description string
	Metadata    map[string]any
	Amount      *float64
	Currency    string
}

// CreateRequest files a pending approval, audits it, alerts the
// approver, and arms the auto-resume deadline.
func (g *Gate) CreateRequest(ctx context.Context, req Request) (ApprovalRecord, error) {
	rec := ApprovalRecord{
		ID:          NewApprovalID(),
		Description: strings.TrimSpace(req.Description),
		Metadata:    req.Metadata,
		Amount:      req.Amount,
		Currency:    strings.TrimSpace(req.Currency),
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}

	// Audit first: the log must already carry the request when the
	// record becomes observable.
	g.emit(ctx, newEvent(EventRequested, rec.ID, map[string]any{
		"desc":     rec.Description,
		"amount":   req.Amount,
		"currency": rec.Currency,
	}))

	id, err := g.store.Create(ctx, rec)
	if err != nil {
		return ApprovalRecord{}, err
	}
	rec.ID = id

	if g.metrics != nil {
		g.metrics.ApprovalCreated()
	}
	g.alert(rec, EventRequested)
	g.timers.Schedule(id, rec.CreatedAt.Add(g.cfg.Timeout))
	return rec, nil
}

// Approve resolves a pending record on behalf of a human approver. When
// a lock code is configured it must match exactly; a mismatch changes no
// state and is audited as approval_failed.
func (g *Gate) Approve(ctx context.Context, id, approver, lockCode string) (ApprovalRecord, error) {
	if g.cfg.LockCode != "" && !lockCodeMatches(g.cfg.LockCode, lockCode) {
		g.emit(ctx, newEvent(EventApprovalFailed, id, map[string]any{
			"reason": "bad_lock_code",
			"actor":  approver,
		}))
		return ApprovalRecord{}, ErrLockCode
	}

	rec, err := g.store.Resolve(ctx, id, StatusApproved, approver, "", func(committed ApprovalRecord) {
		g.emit(ctx, newEvent(EventApproved, committed.ID, map[string]any{"approver": approver}))
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyResolved) {
			g.emit(ctx, newEvent(EventApprovalFailed, id, map[string]any{
				"reason": "already_resolved",
				"actor":  approver,
				"status": string(rec.Status),
			}))
		}
		return rec, err
	}

	if g.metrics != nil {
		g.metrics.ApprovalResolved(string(StatusApproved))
	}
	g.alert(rec, EventApproved)
	return rec, nil
}

// Deny resolves a pending record with a reason. Denial after a terminal
// state is a rejected no-op, audited as approval_failed.
func (g *Gate) Deny(ctx context.Context, id, actor, reason string) (ApprovalRecord, error) {
	rec, err := g.store.Resolve(ctx, id, StatusDenied, actor, reason, func(committed ApprovalRecord) {
		g.emit(ctx, newEvent(EventDenied, committed.ID, map[string]any{
			"denied_by": actor,
			"reason":    reason,
		}))
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyResolved) {
			g.emit(ctx, newEvent(EventApprovalFailed, id, map[string]any{
				"reason": "already_resolved",
				"actor":  actor,
				"status": string(rec.Status),
			}))
		}
		return rec, err
	}

	if g.metrics != nil {
		g.metrics.ApprovalResolved(string(StatusDenied))
	}
	g.alert(rec, EventDenied)
	return rec, nil
}

func (g *Gate) Status(ctx context.Context, id string) (ApprovalRecord, bool, error) {
	return g.store.Get(ctx, id)
}

func (g *Gate) ListPending(ctx context.Context) ([]ApprovalRecord, error) {
	return g.store.ListPending(ctx)
}

// Close stops the deadline worker and waits for in-flight alerts. The
// store and audit sink are owned by the caller.
func (g *Gate) Close() {
	g.timers.Stop()
	g.alerts.Wait()
}

// autoResume fires when a deadline elapses. The CAS in Resolve makes a
// concurrent human decision and the timer serialize: only one wins.
func (g *Gate) autoResume(id string) {
	if !g.cfg.AutoResume {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rec, err := g.store.Resolve(ctx, id, StatusAutoApproved, "system", "timeout", func(committed ApprovalRecord) {
		g.emit(ctx, newEvent(EventAutoApproved, committed.ID, map[string]any{
			"timeout_seconds": g.cfg.Timeout.Seconds(),
		}))
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyResolved) || errors.Is(err, ErrNotFound) {
			return
		}
		g.log.Error("auto_resume_error", "id", id, "error", err.Error())
		return
	}

	if g.metrics != nil {
		g.metrics.ApprovalResolved(string(StatusAutoApproved))
	}
	g.alert(rec, EventAutoApproved)
	g.log.Info("approval_auto_resumed", "id", id)
}

// rearmPending re-arms deadlines for requests that were still pending
// when the previous process exited. Past-due deadlines fire immediately.
func (g *Gate) rearmPending() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pending, err := g.store.ListPending(ctx)
	if err != nil {
		g.log.Warn("rearm_pending_error", "error", err.Error())
		return
	}
	for _, rec := range pending {
		g.timers.Schedule(rec.ID, rec.CreatedAt.Add(g.cfg.Timeout))
	}
}

// emit writes an audit event. Audit write failures are logged but do not
// fail the transition that produced them; the journal append inside the
// store is the durability boundary.
func (g *Gate) emit(ctx context.Context, e AuditEvent) {
	if err := g.audit.Emit(ctx, e); err != nil {
		g.log.Warn("audit_emit_error", "type", string(e.Type), "id", e.ApprovalID, "error", err.Error())
	}
}

// alert notifies off the critical path. A transport failure lands in the
// audit log as alert_fail and nowhere else.
func (g *Gate) alert(rec ApprovalRecord, event EventType) {
	if g.notifier == nil {
		return
	}
	g.alerts.Add(1)
	go func() {
		defer g.alerts.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := g.notifier.Notify(ctx, rec, event); err != nil {
			g.emit(ctx, newEvent(EventAlertFailure, rec.ID, map[string]any{
				"event": string(event),
				"error": err.Error(),
			}))
			if g.metrics != nil {
				g.metrics.AlertFailure()
			}
			g.log.Warn("alert_error", "id", rec.ID, "event", string(event), "error", err.Error())
		}
	}()
}

func lockCodeMatches(want, got string) bool {
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
