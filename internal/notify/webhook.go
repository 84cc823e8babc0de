package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ErrDisabled 未开启 webhook 时返回，调用方一般直接忽略
var ErrDisabled = errors.New("notify: webhook disabled")

const defaultTimeout = 10 * time.Second

// ArticlePayload 推送给下游的新闻精简字段
type ArticlePayload struct {
	ID          uint       `json:"id"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary"`
	URL         string     `json:"url"`
	Category    string     `json:"category"`
	PublishedAt *time.Time `json:"published_at"`
	Tags        []string   `json:"tags"`
	SourceID    uint       `json:"source_id"`
}

type TrendPayload struct {
	Keyword    string `json:"keyword"`
	Date       string `json:"date"`
	Frequency  int    `json:"frequency"`
	ArticleIDs []uint `json:"article_ids"`
}

type articlesEvent struct {
	Event     string           `json:"event"`
	Timestamp *time.Time       `json:"timestamp"`
	Count     int              `json:"count"`
	Items     []ArticlePayload `json:"items"`
}

type trendsEvent struct {
	Event  string         `json:"event"`
	Count  int            `json:"count"`
	Trends []TrendPayload `json:"trends"`
}

type Options struct {
	Enabled bool
	URL     string
	Secret  string
	Timeout time.Duration
}

// Webhook 以 JSON POST 的方式投递事件
type Webhook struct {
	client *http.Client
	url    string
	secret string
	on     bool
	logger zerolog.Logger
}

func NewWebhook(opts Options, logger zerolog.Logger) *Webhook {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Webhook{
		client: &http.Client{Timeout: timeout},
		url:    opts.URL,
		secret: opts.Secret,
		on:     opts.Enabled && opts.URL != "",
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

func (w *Webhook) Enabled() bool {
	return w.on
}

func (w *Webhook) NewArticles(ctx context.Context, items []ArticlePayload) error {
	if !w.on {
		return ErrDisabled
	}
	ev := articlesEvent{Event: "new_articles", Count: len(items), Items: items}
	if ev.Items == nil {
		ev.Items = []ArticlePayload{}
	}
	now := time.Now().UTC()
	ev.Timestamp = &now

	if err := w.post(ctx, ev); err != nil {
		return err
	}
	w.logger.Info().Int("count", len(items)).Msg("sent new_articles event")
	return nil
}

func (w *Webhook) NewTrends(ctx context.Context, trends []TrendPayload) error {
	if !w.on {
		return ErrDisabled
	}
	ev := trendsEvent{Event: "new_trends", Count: len(trends), Trends: trends}
	if ev.Trends == nil {
		ev.Trends = []TrendPayload{}
	}
	if err := w.post(ctx, ev); err != nil {
		return err
	}
	w.logger.Info().Int("count", len(trends)).Msg("sent new_trends event")
	return nil
}

func (w *Webhook) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		req.Header.Set("X-Webhook-Secret", w.secret)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}
