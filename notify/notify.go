// Package notify delivers best-effort alerts about approval state
// changes. A webhook is preferred; SMTP email is the fallback. Neither
// transport is allowed to slow or fail a gate transition.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lumenca/holdfast/gate"
)

// Transport delivers one alert over a single channel.
type Transport interface {
	Name() string
	Send(ctx context.Context, rec gate.ApprovalRecord, event gate.EventType) error
}

// Dispatcher implements gate.Notifier: it tries each transport in order
// and succeeds on the first delivery. The error it returns carries every
// transport failure; the gate audits it and moves on.
type Dispatcher struct {
	transports []Transport
	log        *slog.Logger
}

func NewDispatcher(log *slog.Logger, transports ...Transport) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	active := make([]Transport, 0, len(transports))
	for _, t := range transports {
		if t != nil {
			active = append(active, t)
		}
	}
	return &Dispatcher{transports: active, log: log}
}

func (d *Dispatcher) Notify(ctx context.Context, rec gate.ApprovalRecord, event gate.EventType) error {
	if len(d.transports) == 0 {
		return nil
	}
	var errs []string
	for _, t := range d.transports {
		err := t.Send(ctx, rec, event)
		if err == nil {
			return nil
		}
		d.log.Warn("alert_transport_error", "transport", t.Name(), "id", rec.ID, "error", err.Error())
		errs = append(errs, fmt.Sprintf("%s: %v", t.Name(), err))
	}
	return fmt.Errorf("all alert transports failed: %s", strings.Join(errs, "; "))
}

// Subject renders the one-line summary used by both transports.
func Subject(rec gate.ApprovalRecord, event gate.EventType) string {
	switch event {
	case gate.EventRequested:
		return fmt.Sprintf("[holdfast] approval requested: %s", rec.Description)
	case gate.EventApproved:
		return fmt.Sprintf("[holdfast] approved by %s: %s", rec.Approver, rec.Description)
	case gate.EventAutoApproved:
		return fmt.Sprintf("[holdfast] auto-approved after timeout: %s", rec.Description)
	case gate.EventDenied:
		return fmt.Sprintf("[holdfast] denied by %s: %s", rec.DeniedBy, rec.Description)
	default:
		return fmt.Sprintf("[holdfast] %s: %s", event, rec.Description)
	}
}
