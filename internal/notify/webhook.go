package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
)

const channelID = "feelings"

// Payload is the JSON body posted to the webhook.
type Payload struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Channel  string `json:"channel"`
	Priority string `json:"priority"`
	Sound    bool   `json:"sound"`
}

// Webhook posts notifications to a push gateway.
type Webhook struct {
	url    string
	client *http.Client
	log    *zerolog.Logger
}

// NewWebhook creates a webhook notifier. A nil client uses http.DefaultClient.
func NewWebhook(url string, client *http.Client, logger *zerolog.Logger) *Webhook {
	if client == nil {
		client = http.DefaultClient
	}
	return &Webhook{url: url, client: client, log: logger}
}

// RequestPermission fails when no gateway is configured.
func (w *Webhook) RequestPermission(context.Context) error {
	if w.url == "" {
		return ErrPermissionDenied
	}
	return nil
}

// Dispatch posts one notification.
func (w *Webhook) Dispatch(ctx context.Context, title, body string) error {
	if w.url == "" {
		return ErrPermissionDenied
	}

	payload, err := json.Marshal(Payload{
		Title:    title,
		Body:     body,
		Channel:  channelID,
		Priority: "high",
		Sound:    true,
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("post notification: unexpected status %d", resp.StatusCode)
	}
	w.log.Debug().Str("title", title).Msg("notification delivered")
	return nil
}
