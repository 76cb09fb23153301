package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/relaydesk/relay/types"
)

// Notifier delivers an alert to one external channel. Paging channels are
// the only ones used for level-3 escalation.
type Notifier interface {
	Name() string
	Paging() bool
	Send(ctx context.Context, alert *Alert) error
}

// ChannelConfig describes one configured notification channel.
type ChannelConfig struct {
	Type    string            `yaml:"type" json:"type"` // webhook | chat | pager | email
	Name    string            `yaml:"name" json:"name"`
	URL     string            `yaml:"url" json:"url"`
	Headers map[string]string `yaml:"headers" json:"headers"`

	// Email-specific settings.
	SMTPAddr string   `yaml:"smtp_addr" json:"smtp_addr"`
	From     string   `yaml:"from" json:"from"`
	To       []string `yaml:"to" json:"to"`
}

// BuildNotifiers constructs channel adapters from configuration. Unknown
// channel types are rejected.
func BuildNotifiers(configs []ChannelConfig) ([]Notifier, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	out := make([]Notifier, 0, len(configs))
	for _, cfg := range configs {
		switch cfg.Type {
		case "webhook":
			out = append(out, &WebhookChannel{name: cfg.Name, url: cfg.URL, headers: cfg.Headers, client: client})
		case "chat":
			out = append(out, &ChatChannel{name: cfg.Name, url: cfg.URL, client: client})
		case "pager":
			out = append(out, &PagerChannel{name: cfg.Name, url: cfg.URL, headers: cfg.Headers, client: client})
		case "email":
			out = append(out, &EmailChannel{name: cfg.Name, smtpAddr: cfg.SMTPAddr, from: cfg.From, to: cfg.To})
		default:
			return nil, fmt.Errorf("unknown notification channel type %q", cfg.Type)
		}
	}
	return out, nil
}

// WebhookChannel POSTs the full alert as JSON to a generic webhook.
type WebhookChannel struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

func (w *WebhookChannel) Name() string { return w.name }
func (w *WebhookChannel) Paging() bool { return false }

func (w *WebhookChannel) Send(ctx context.Context, alert *Alert) error {
	return postJSON(ctx, w.client, w.url, w.headers, alert)
}

// ChatChannel POSTs a short text payload in the shape chat webhook
// integrations (Slack-compatible) expect.
type ChatChannel struct {
	name   string
	url    string
	client *http.Client
}

func (c *ChatChannel) Name() string { return c.name }
func (c *ChatChannel) Paging() bool { return false }

func (c *ChatChannel) Send(ctx context.Context, alert *Alert) error {
	payload := map[string]string{
		"text": fmt.Sprintf("[%s] %s (%s): %s", strings.ToUpper(string(alert.Severity)), alert.Rule, alert.State, alert.Message),
	}
	return postJSON(ctx, c.client, c.url, nil, payload)
}

// PagerChannel POSTs to a paging integration endpoint. It is the only
// built-in channel used for level-3 escalation.
type PagerChannel struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

func (p *PagerChannel) Name() string { return p.name }
func (p *PagerChannel) Paging() bool { return true }

func (p *PagerChannel) Send(ctx context.Context, alert *Alert) error {
	payload := map[string]interface{}{
		"routing_key":  p.name,
		"event_action": "trigger",
		"dedup_key":    alert.ID,
		"payload": map[string]string{
			"summary":  fmt.Sprintf("%s: %s", alert.Rule, alert.Message),
			"severity": string(alert.Severity),
		},
	}
	return postJSON(ctx, p.client, p.url, p.headers, payload)
}

// EmailChannel sends a plain-text mail per alert.
type EmailChannel struct {
	name     string
	smtpAddr string
	from     string
	to       []string
}

func (e *EmailChannel) Name() string { return e.name }
func (e *EmailChannel) Paging() bool { return false }

func (e *EmailChannel) Send(ctx context.Context, alert *Alert) error {
	var body bytes.Buffer
	fmt.Fprintf(&body, "From: %s\r\n", e.from)
	fmt.Fprintf(&body, "To: %s\r\n", strings.Join(e.to, ", "))
	fmt.Fprintf(&body, "Subject: [%s] %s\r\n", strings.ToUpper(string(alert.Severity)), alert.Rule)
	fmt.Fprintf(&body, "\r\n%s\r\n\r\nstate: %s\r\nopened: %s\r\n",
		alert.Message, alert.State, alert.OpenedAt.Format(time.RFC3339))

	if err := smtp.SendMail(e.smtpAddr, nil, e.from, e.to, body.Bytes()); err != nil {
		return types.NewError(types.ErrAlertDelivery, "smtp send failed").WithCause(err)
	}
	return nil
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return types.NewError(types.ErrAlertDelivery, "failed to encode alert payload").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return types.NewError(types.ErrAlertDelivery, "failed to build alert request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return types.NewError(types.ErrAlertDelivery, "alert delivery failed").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.NewError(types.ErrAlertDelivery,
			fmt.Sprintf("alert endpoint returned status %d", resp.StatusCode)).WithRetryable(true)
	}
	return nil
}
