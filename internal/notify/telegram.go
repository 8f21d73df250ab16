// Package notify delivers operational notifications: Telegram messages for
// new sales and email for generated reports.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTelegramEndpoint = "https://api.telegram.org"

// Telegram sends messages through the Bot API to a fixed chat.
type Telegram struct {
	token    string
	chatID   string
	endpoint string
	client   *http.Client
}

// NewTelegram builds Telegram instance. client may be nil.
func NewTelegram(token, chatID string, client *http.Client) *Telegram {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Telegram{
		token:    token,
		chatID:   chatID,
		endpoint: defaultTelegramEndpoint,
		client:   client,
	}
}

// WithEndpoint overrides the API endpoint. Used in tests.
func (t *Telegram) WithEndpoint(endpoint string) *Telegram {
	t.endpoint = endpoint
	return t
}

// SendMessage posts one HTML-formatted message to the configured chat.
func (t *Telegram) SendMessage(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.endpoint, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: telegram send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notify: telegram send: status %d: %s", resp.StatusCode, body)
	}
	return nil
}
