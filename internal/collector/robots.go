package collector

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/temoto/robotstxt"
)

const (
	robotsTimeout      = 10 * time.Second
	robotsMaxBodyBytes = 512 * 1024
)

// RobotsPolicy 按站点 origin 缓存解析后的 robots.txt，进程生命周期内有效。
// robots.txt 不存在或无法访问时视为允许抓取。
type RobotsPolicy struct {
	client    *http.Client
	userAgent string
	logger    zerolog.Logger

	mu    sync.RWMutex
	cache map[string]*robotstxt.RobotsData
}

func NewRobotsPolicy(client *http.Client, userAgent string, logger zerolog.Logger) *RobotsPolicy {
	return &RobotsPolicy{
		client:    client,
		userAgent: userAgent,
		logger:    logger,
		cache:     make(map[string]*robotstxt.RobotsData),
	}
}

func (p *RobotsPolicy) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}
	origin := u.Scheme + "://" + u.Host

	data := p.lookup(ctx, origin)
	if data == nil {
		return true
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.TestAgent(path, p.userAgent)
}

func (p *RobotsPolicy) lookup(ctx context.Context, origin string) *robotstxt.RobotsData {
	p.mu.RLock()
	data, ok := p.cache[origin]
	p.mu.RUnlock()
	if ok {
		return data
	}

	data = p.fetch(ctx, origin)
	if data == nil {
		return nil
	}

	p.mu.Lock()
	p.cache[origin] = data
	p.mu.Unlock()
	return data
}

// fetch 只有在拿到 200 并成功解析时才返回非 nil，其余情况一律放行且不缓存
func (p *RobotsPolicy) fetch(ctx context.Context, origin string) *robotstxt.RobotsData {
	ctx, cancel := context.WithTimeout(ctx, robotsTimeout)
	defer cancel()

	robotsURL := origin + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn().Err(err).Str("url", robotsURL).Msg("could not fetch robots.txt")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsMaxBodyBytes))
	if err != nil {
		p.logger.Warn().Err(err).Str("url", robotsURL).Msg("read robots.txt")
		return nil
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		p.logger.Warn().Err(err).Str("url", robotsURL).Msg("parse robots.txt")
		return nil
	}
	return data
}
