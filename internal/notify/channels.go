package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"drguard/internal/logging"
)

// WebhookConfig configures a generic outbound webhook
type WebhookConfig struct {
	URL     string            `json:"url" yaml:"url"`
	Method  string            `json:"method,omitempty" yaml:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Timeout time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// WebhookChannel posts events as JSON to a configured URL
type WebhookChannel struct {
	logger *logging.Logger
	config WebhookConfig
	client *http.Client
}

// NewWebhookChannel creates a webhook notification channel
func NewWebhookChannel(logger *logging.Logger, config WebhookConfig) *WebhookChannel {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &WebhookChannel{
		logger: logger,
		config: config,
		client: &http.Client{Timeout: timeout},
	}
}

// Send posts the event payload
func (wc *WebhookChannel) Send(ctx context.Context, event Event) error {
	if wc.config.URL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	method := wc.config.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, wc.config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range wc.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := wc.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}

// GetType returns the channel type
func (wc *WebhookChannel) GetType() string { return "webhook" }

// IsEnabled checks if the channel is enabled
func (wc *WebhookChannel) IsEnabled() bool { return wc.config.URL != "" }

// SlackConfig configures Slack incoming-webhook notifications
type SlackConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
	Channel    string `json:"channel,omitempty" yaml:"channel,omitempty"`
	Username   string `json:"username,omitempty" yaml:"username,omitempty"`
}

// SlackChannel posts events to a Slack incoming webhook
type SlackChannel struct {
	logger *logging.Logger
	config SlackConfig
	client *http.Client
}

// NewSlackChannel creates a Slack notification channel
func NewSlackChannel(logger *logging.Logger, config SlackConfig) *SlackChannel {
	return &SlackChannel{
		logger: logger,
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type slackAttachment struct {
	Color  string `json:"color"`
	Title  string `json:"title"`
	Text   string `json:"text"`
	Footer string `json:"footer"`
	Ts     int64  `json:"ts"`
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

// Send posts the event as a Slack attachment
func (sc *SlackChannel) Send(ctx context.Context, event Event) error {
	if sc.config.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL not configured")
	}

	text := event.Message
	if event.Target != "" {
		text = fmt.Sprintf("%s\nTarget: %s", text, event.Target)
	}
	if event.Reason != "" {
		text = fmt.Sprintf("%s\nReason: %s", text, event.Reason)
	}

	payload := slackPayload{
		Channel:  sc.config.Channel,
		Username: sc.config.Username,
		Attachments: []slackAttachment{
			{
				Color:  severityColor(event.Severity),
				Title:  event.Title,
				Text:   text,
				Footer: string(event.Type),
				Ts:     event.Timestamp.Unix(),
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sc.config.WebhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack returned error status: %d", resp.StatusCode)
	}
	return nil
}

// GetType returns the channel type
func (sc *SlackChannel) GetType() string { return "slack" }

// IsEnabled checks if the channel is enabled
func (sc *SlackChannel) IsEnabled() bool { return sc.config.WebhookURL != "" }
