// Package notify pushes task outcome notifications to chat webhooks.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/stplan/sheetsweep/internal/log"
	"github.com/stplan/sheetsweep/internal/model"
)

// Notification is the outcome summary pushed when a task reaches a terminal
// state.
type Notification struct {
	TaskID   string
	TaskName string
	Status   model.TaskStatus
	Summary  string
	// DetailURL deep links to the task in the web UI.
	DetailURL string
}

// Notifier pushes task notifications. Implementations are best effort:
// a failed notification never changes a task outcome.
type Notifier interface {
	TaskFinished(ctx context.Context, n Notification) error
}

type noop int

func (noop) TaskFinished(ctx context.Context, n Notification) error { return nil }

// Noop is a notifier that does nothing.
const Noop = noop(0)

// WebhookConfig is the configuration of the signed webhook notifier.
type WebhookConfig struct {
	// WebhookURL is the full webhook endpoint including the access token.
	WebhookURL string
	// Secret signs each request. When empty, requests go unsigned.
	Secret     string
	HTTPClient *http.Client
	Logger     log.Logger
	// now is injectable for signature tests.
	now func() time.Time
}

func (c *WebhookConfig) defaults() error {
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook url is required")
	}
	if _, err := url.Parse(c.WebhookURL); err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "notify.Webhook"})
	if c.now == nil {
		c.now = time.Now
	}
	return nil
}

// Webhook notifies a chat group through an HMAC signed webhook.
type Webhook struct {
	webhookURL string
	secret     string
	httpClient *http.Client
	logger     log.Logger
	now        func() time.Time
}

// NewWebhook creates a new signed webhook notifier.
func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Webhook{
		webhookURL: cfg.WebhookURL,
		secret:     cfg.Secret,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		now:        cfg.now,
	}, nil
}

type actionCard struct {
	Title       string `json:"title"`
	Text        string `json:"text"`
	SingleTitle string `json:"singleTitle,omitempty"`
	SingleURL   string `json:"singleURL,omitempty"`
}

type webhookMessage struct {
	MsgType    string     `json:"msgtype"`
	ActionCard actionCard `json:"actionCard"`
}

// TaskFinished posts an action card describing the task outcome.
func (w *Webhook) TaskFinished(ctx context.Context, n Notification) error {
	title := fmt.Sprintf("Sweep task %s: %s", n.TaskName, n.Status)
	text := fmt.Sprintf("### %s\n\n- Task: %s (`%s`)\n- Status: **%s**", title, n.TaskName, n.TaskID, n.Status)
	if n.Summary != "" {
		text += fmt.Sprintf("\n- %s", n.Summary)
	}

	msg := webhookMessage{
		MsgType: "actionCard",
		ActionCard: actionCard{
			Title: title,
			Text:  text,
		},
	}
	if n.DetailURL != "" {
		msg.ActionCard.SingleTitle = "Open task"
		msg.ActionCard.SingleURL = n.DetailURL
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("could not marshal notification: %w", err)
	}

	endpoint, err := w.signedURL()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not post notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	w.logger.WithCtxValues(ctx).Debugf("Notification sent for task %s", n.TaskID)
	return nil
}

// signedURL appends the timestamp and HMAC-SHA256 signature query parameters
// the webhook endpoint verifies.
func (w *Webhook) signedURL() (string, error) {
	if w.secret == "" {
		return w.webhookURL, nil
	}

	timestamp := w.now().UnixMilli()
	signature := Sign(timestamp, w.secret)

	u, err := url.Parse(w.webhookURL)
	if err != nil {
		return "", fmt.Errorf("invalid webhook url: %w", err)
	}
	q := u.Query()
	q.Set("timestamp", strconv.FormatInt(timestamp, 10))
	q.Set("sign", signature)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Sign computes the webhook signature: base64 of the HMAC-SHA256 digest of
// "{timestamp}\n{secret}" keyed with the secret.
func Sign(timestamp int64, secret string) string {
	payload := fmt.Sprintf("%d\n%s", timestamp, secret)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
