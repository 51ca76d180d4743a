package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Action is the side effect a caller wants gated. The gate treats it as
// opaque; arguments are closed over by the caller.
type Action func(ctx context.Context) (any, error)

type RunRequest struct {
	Description string
	Metadata    map[string]any
	Amount      *float64
	Currency    string

	// WaitForApproval blocks the caller, polling status, until the
	// record turns terminal or the bounded wait elapses.
	WaitForApproval bool

	Action Action
}

type RunResult struct {
	OK     bool   `json:"ok"`
	ID     string `json:"id,omitempty"`
	Result any    `json:"result,omitempty"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

const (
	ReasonDenied          = "denied"
	ReasonWaiting         = "waiting"
	ReasonNotFound        = "not_found"
	ReasonAlreadyExecuted = "already_executed"
)

// Executor binds an action to an approval record and runs it at most
// once, only after the record reaches approved or auto_approved.
type Executor struct {
	gate *Gate
	log  *slog.Logger
}

func NewExecutor(g *Gate, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{gate: g, log: log}
}

// RequireAndRun files a new approval for the action, then runs the
// resume path. The action never runs while the record is pending or
// denied.
func (e *Executor) RequireAndRun(ctx context.Context, req RunRequest) RunResult {
	rec, err := e.gate.CreateRequest(ctx, Request{
		Description: req.Description,
		Metadata:    req.Metadata,
		Amount:      req.Amount,
		Currency:    req.Currency,
	})
	if err != nil {
		return RunResult{OK: false, Error: err.Error()}
	}
	return e.Resume(ctx, rec.ID, req.Action, req.WaitForApproval)
}

// Resume re-checks an existing approval and runs the action if it is
// authorized. Safe to call repeatedly and concurrently for the same id;
// the executed flag in the store makes exactly one caller run the
// action.
func (e *Executor) Resume(ctx context.Context, id string, action Action, wait bool) RunResult {
	if wait {
		e.await(ctx, id)
	}

	rec, ok, err := e.gate.Status(ctx, id)
	if err != nil {
		return RunResult{OK: false, ID: id, Error: err.Error()}
	}
	if !ok {
		return RunResult{OK: false, ID: id, Reason: ReasonNotFound}
	}

	switch {
	case rec.Status == StatusDenied:
		return RunResult{OK: false, ID: id, Reason: ReasonDenied}
	case !rec.Status.Approved():
		return RunResult{OK: false, ID: id, Reason: ReasonWaiting}
	}

	// Claim the execution slot before invoking anything.
	if err := e.gate.store.MarkExecuted(ctx, id); err != nil {
		if errors.Is(err, ErrAlreadyExecuted) {
			return RunResult{OK: false, ID: id, Reason: ReasonAlreadyExecuted}
		}
		return RunResult{OK: false, ID: id, Error: err.Error()}
	}

	out, err := runAction(ctx, action)
	if err != nil {
		e.gate.emit(ctx, newEvent(EventExecuteError, id, map[string]any{"error": err.Error()}))
		if e.gate.metrics != nil {
			e.gate.metrics.ActionExecuted("error")
		}
		e.log.Error("guarded_action_error", "id", id, "error", err.Error())
		return RunResult{OK: false, ID: id, Error: err.Error()}
	}

	e.gate.emit(ctx, newEvent(EventExecuted, id, nil))
	if e.gate.metrics != nil {
		e.gate.metrics.ActionExecuted("ok")
	}
	return RunResult{OK: true, ID: id, Result: out}
}

// await polls status until the record turns terminal, the context ends,
// or the bounded wait (timeout plus grace) expires. It never blocks
// indefinitely.
func (e *Executor) await(ctx context.Context, id string) {
	deadline := time.Now().Add(e.gate.cfg.Timeout + e.gate.cfg.WaitGrace)
	ticker := time.NewTicker(e.gate.cfg.PollInterval)
	defer ticker.Stop()

	for {
		rec, ok, err := e.gate.Status(ctx, id)
		if err != nil || !ok {
			return
		}
		if rec.Status.Terminal() {
			return
		}
		if time.Now().After(deadline) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runAction invokes the action, converting a panic into an error so a
// misbehaving action cannot take the gate down with it.
func runAction(ctx context.Context, action Action) (out any, err error) {
	if action == nil {
		return nil, fmt.Errorf("nil action")
	}
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("action panic: %v", r)
		}
	}()
	return action(ctx)
}
