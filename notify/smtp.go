package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/lumenca/holdfast/gate"
)

// SMTPTransport emails alerts as a fallback when the webhook sink is
// absent or unreachable.
type SMTPTransport struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Recipients []string

	// sendMail is swappable in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPTransport(host string, port int, username, password, from string, recipients []string) *SMTPTransport {
	return &SMTPTransport{
		Host:       strings.TrimSpace(host),
		Port:       port,
		Username:   username,
		Password:   password,
		From:       strings.TrimSpace(from),
		Recipients: recipients,
		sendMail:   smtp.SendMail,
	}
}

func (t *SMTPTransport) Name() string { return "smtp" }

func (t *SMTPTransport) Send(ctx context.Context, rec gate.ApprovalRecord, event gate.EventType) error {
	_ = ctx
	if t == nil || t.Host == "" || len(t.Recipients) == 0 {
		return fmt.Errorf("smtp transport is not configured")
	}
	from := t.From
	if from == "" {
		from = t.Username
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(t.Recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", Subject(rec, event))
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "Approval %s\r\n\r\n", rec.ID)
	fmt.Fprintf(&b, "Event:       %s\r\n", event)
	fmt.Fprintf(&b, "Description: %s\r\n", rec.Description)
	fmt.Fprintf(&b, "Status:      %s\r\n", rec.Status)
	if rec.Amount != nil {
		fmt.Fprintf(&b, "Amount:      %.2f %s\r\n", *rec.Amount, rec.Currency)
	}
	if rec.Reason != "" {
		fmt.Fprintf(&b, "Reason:      %s\r\n", rec.Reason)
	}

	var auth smtp.Auth
	if t.Username != "" {
		auth = smtp.PlainAuth("", t.Username, t.Password, t.Host)
	}
	addr := fmt.Sprintf("%s:%d", t.Host, t.Port)

	send := t.sendMail
	if send == nil {
		send = smtp.SendMail
	}
	return send(addr, auth, from, t.Recipients, []byte(b.String()))
}
