package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"notifrelay/internal/relay"
)

// WebhookConfig points at the laptop daemon.
type WebhookConfig struct {
	BaseURL string
	Path    string // default /phone-notification
	Token   string // optional bearer token
	Timeout time.Duration
}

// Webhook POSTs each record as JSON.
type Webhook struct {
	client *resty.Client
	path   string
}

type webhookReply struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("webhook: base_url is required")
	}
	if cfg.Path == "" {
		cfg.Path = "/phone-notification"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		c.SetAuthToken(cfg.Token)
	}
	return &Webhook{client: c, path: cfg.Path}, nil
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, rec relay.Record) error {
	// the daemon rejects notifications with neither title nor text
	if rec.Title == "" && rec.Body == "" {
		return nil
	}
	var reply webhookReply
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(rec).
		SetResult(&reply).
		SetError(&reply).
		Post(w.path)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook: %s: %s", resp.Status(), reply.Message)
	}
	return nil
}
