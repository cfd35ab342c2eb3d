package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/emirozbir/erp-sentinel/internal/config"
)

// ChatChannel posts messages to an incoming-webhook URL (Teams, Slack or
// compatible).
type ChatChannel struct {
	webhookURL string
	client     *http.Client
}

func NewChatChannel(cfg config.ChatConfig) *ChatChannel {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ChatChannel{
		webhookURL: cfg.WebhookURL,
		client:     &http.Client{Timeout: timeout},
	}
}

func (c *ChatChannel) Name() string { return ChannelChat }

type chatMessage struct {
	Text       string   `json:"text"`
	Title      string   `json:"title,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
}

func (c *ChatChannel) Send(ctx context.Context, recipients []string, subject, body string) error {
	text := subject + "\n\n" + body
	if len(recipients) > 0 {
		text += "\ncc: " + strings.Join(recipients, ", ")
	}
	payload, err := json.Marshal(chatMessage{Text: text, Title: subject, Recipients: recipients})
	if err != nil {
		return fmt.Errorf("chat: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("chat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("chat: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("chat: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
