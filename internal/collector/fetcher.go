package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// 数据源抓取方式
const (
	KindFeed = "feed"
	KindAPI  = "api"
	KindPage = "page"
)

const (
	defaultUserAgent    = "NewsPulseBot/1.0 (+https://github.com/LJTian/NewsPulse)"
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 10 << 20 // 10MB
)

// RawItem 是采集器返回的未清洗条目，不会直接入库
type RawItem struct {
	SourceID    uint
	Title       string
	Summary     string
	Body        string
	Link        string
	Author      string
	Tags        []string
	PublishedAt *time.Time
	ImageURL    string
	Category    string
	Language    string
}

// Target 描述一次抓取所需的数据源信息
type Target struct {
	ID       uint
	Name     string
	Kind     string
	URL      string
	Category string
	Language string
	// Selector 仅对 page 类型生效，默认 article
	Selector string
}

// Fetcher 抽象每一种数据源
type Fetcher interface {
	Fetch(ctx context.Context, t Target) ([]RawItem, error)
}

type ErrorKind int

const (
	ErrNetwork ErrorKind = iota + 1
	ErrDisallowed
	ErrParseFailure
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNetwork:
		return "network"
	case ErrDisallowed:
		return "disallowed"
	case ErrParseFailure:
		return "parse_failure"
	default:
		return "unknown"
	}
}

// FetchError 是单个数据源级别的可恢复错误：跳过该源，继续本轮其它源
type FetchError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf 返回错误对应的 ErrorKind，非 FetchError 返回 0
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

type Options struct {
	UserAgent     string
	Timeout       time.Duration
	RespectRobots bool
	MaxBodyBytes  int64
}

func (o Options) withDefaults() Options {
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = defaultMaxBodyBytes
	}
	return o
}

// Client 按数据源类型分发到具体的抓取实现，并在请求前检查 robots 规则
type Client struct {
	opts   Options
	robots *RobotsPolicy
	feeds  *feedFetcher
	pages  *pageFetcher
	logger zerolog.Logger
}

func NewClient(opts Options, logger zerolog.Logger) *Client {
	opts = opts.withDefaults()
	httpClient := &http.Client{Timeout: opts.Timeout}
	logger = logger.With().Str("component", "collector").Logger()

	return &Client{
		opts:   opts,
		robots: NewRobotsPolicy(httpClient, opts.UserAgent, logger),
		feeds: &feedFetcher{
			client:    httpClient,
			userAgent: opts.UserAgent,
			maxBody:   opts.MaxBodyBytes,
		},
		pages: &pageFetcher{
			userAgent: opts.UserAgent,
			timeout:   opts.Timeout,
			maxBody:   int(opts.MaxBodyBytes),
		},
		logger: logger,
	}
}

func (c *Client) Fetch(ctx context.Context, t Target) ([]RawItem, error) {
	if c.opts.RespectRobots && !c.robots.Allowed(ctx, t.URL) {
		c.logger.Warn().Str("source", t.Name).Str("url", t.URL).Msg("disallowed by robots.txt")
		return nil, &FetchError{Kind: ErrDisallowed, URL: t.URL}
	}

	var (
		items []RawItem
		err   error
	)
	switch t.Kind {
	case KindFeed, KindAPI, "rss", "":
		items, err = c.feeds.fetch(ctx, t)
	case KindPage:
		items, err = c.pages.fetch(ctx, t)
	default:
		err = &FetchError{Kind: ErrParseFailure, URL: t.URL, Err: fmt.Errorf("unsupported source type %q", t.Kind)}
	}
	if err != nil {
		return nil, err
	}

	for i := range items {
		items[i].SourceID = t.ID
		items[i].Category = t.Category
		items[i].Language = t.Language
	}
	c.logger.Info().Str("source", t.Name).Int("items", len(items)).Msg("parsed items")
	return items, nil
}
