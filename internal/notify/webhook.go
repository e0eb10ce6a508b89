package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"vetclinic/internal/config"
	"vetclinic/internal/models"
)

type webhookPayload struct {
	Channel   models.Channel `json:"channel"`
	Recipient string         `json:"recipient"`
	Text      string         `json:"text"`
	Data      TemplateData   `json:"data"`
}

// WebhookNotifier posts reminders to an HTTP gateway that owns the email, SMS
// or push transport.
type WebhookNotifier struct {
	url     string
	headers map[string]string
	client  *http.Client
	label   LabelFunc
	loc     *time.Location
}

func NewWebhookNotifier(cfg config.WebhookConfig, label LabelFunc, loc *time.Location) *WebhookNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
		label:   label,
		loc:     loc,
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, channel models.Channel, recipient string, data TemplateData) error {
	body, err := json.Marshal(webhookPayload{
		Channel:   channel,
		Recipient: recipient,
		Text:      RenderText(data, n.label, n.loc),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return nil
}
