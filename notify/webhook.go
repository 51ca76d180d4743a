package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lumenca/holdfast/gate"
)

// WebhookTransport POSTs the alert as JSON to a configured sink.
type WebhookTransport struct {
	URL    string
	Client *http.Client
}

func NewWebhookTransport(url string) *WebhookTransport {
	return &WebhookTransport{
		URL:    strings.TrimSpace(url),
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (t *WebhookTransport) Name() string { return "webhook" }

type webhookPayload struct {
	Event       string         `json:"event"`
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Status      string         `json:"status"`
	Amount      *float64       `json:"amount,omitempty"`
	Currency    string         `json:"currency,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Subject     string         `json:"subject"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (t *WebhookTransport) Send(ctx context.Context, rec gate.ApprovalRecord, event gate.EventType) error {
	if t == nil || t.URL == "" {
		return fmt.Errorf("webhook url is not configured")
	}

	body, err := json.Marshal(webhookPayload{
		Event:       string(event),
		ID:          rec.ID,
		Description: rec.Description,
		Status:      string(rec.Status),
		Amount:      rec.Amount,
		Currency:    rec.Currency,
		Metadata:    rec.Metadata,
		Subject:     Subject(rec, event),
		CreatedAt:   rec.CreatedAt,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
