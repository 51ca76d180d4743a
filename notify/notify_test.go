package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenca/holdfast/gate"
)

func testRecord() gate.ApprovalRecord {
	amount := 5.0
	return gate.ApprovalRecord{
		ID:          "apr_test",
		Description: "Payout $5 to x@y.com",
		Amount:      &amount,
		Currency:    "USD",
		Status:      gate.StatusPending,
		Metadata:    map[string]any{"recipient": "x@y.com"},
	}
}

func TestWebhookTransportPostsJSON(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tr := NewWebhookTransport(srv.URL)
	require.NoError(t, tr.Send(context.Background(), testRecord(), gate.EventRequested))

	assert.Equal(t, "req", got.Event)
	assert.Equal(t, "apr_test", got.ID)
	require.NotNil(t, got.Amount)
	assert.Equal(t, 5.0, *got.Amount)
	assert.Contains(t, got.Subject, "approval requested")
}

func TestWebhookTransportNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := NewWebhookTransport(srv.URL)
	assert.Error(t, tr.Send(context.Background(), testRecord(), gate.EventApproved))
}

func TestDispatcherFallsBackToSMTP(t *testing.T) {
	webhook := NewWebhookTransport("http://127.0.0.1:1/unreachable")

	var sent bool
	smtpTr := NewSMTPTransport("smtp.example.com", 587, "bot", "secret", "bot@example.com", []string{"boss@example.com"})
	smtpTr.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		sent = true
		assert.Equal(t, "smtp.example.com:587", addr)
		assert.Equal(t, []string{"boss@example.com"}, to)
		assert.Contains(t, string(msg), "Payout $5 to x@y.com")
		return nil
	}

	d := NewDispatcher(nil, webhook, smtpTr)
	require.NoError(t, d.Notify(context.Background(), testRecord(), gate.EventRequested))
	assert.True(t, sent, "smtp fallback must fire when the webhook is unreachable")
}

func TestDispatcherAllTransportsFailed(t *testing.T) {
	webhook := NewWebhookTransport("http://127.0.0.1:1/unreachable")
	smtpTr := NewSMTPTransport("smtp.example.com", 587, "", "", "", []string{"boss@example.com"})
	smtpTr.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		return fmt.Errorf("relay refused")
	}

	d := NewDispatcher(nil, webhook, smtpTr)
	err := d.Notify(context.Background(), testRecord(), gate.EventDenied)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook")
	assert.Contains(t, err.Error(), "smtp")
}

func TestDispatcherNoTransportsIsNoop(t *testing.T) {
	d := NewDispatcher(nil)
	assert.NoError(t, d.Notify(context.Background(), testRecord(), gate.EventRequested))
}
