package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// WebhookPayload is the JSON body posted to webhook channels.
type WebhookPayload struct {
	ID     string    `json:"id"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// Webhook posts notifications as JSON to an HTTP(S) URL.
type Webhook struct {
	client *resty.Client
}

// NewWebhook returns a webhook transport with the given per-request timeout.
func NewWebhook(timeout time.Duration) *Webhook {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "carely-notify/1")
	return &Webhook{client: client}
}

// Deliver implements Transport. address is the target URL without the "webhook:" prefix.
func (w *Webhook) Deliver(ctx context.Context, address, text string) error {
	payload := WebhookPayload{
		ID:     uuid.NewString(),
		Text:   text,
		SentAt: time.Now().UTC(),
	}
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("X-Carely-Delivery", payload.ID).
		SetBody(payload).
		Post(address)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned %s", resp.Status())
	}
	return nil
}
