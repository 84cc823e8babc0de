package collector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"
)

// feedFetcher 抓取 RSS / Atom / JSON Feed
type feedFetcher struct {
	client    *http.Client
	userAgent string
	maxBody   int64
}

func (f *feedFetcher) fetch(ctx context.Context, t Target) ([]RawItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return nil, &FetchError{Kind: ErrParseFailure, URL: t.URL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml, text/xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: ErrNetwork, URL: t.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{Kind: ErrParseFailure, URL: t.URL, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return nil, &FetchError{Kind: ErrNetwork, URL: t.URL, Err: err}
	}

	// gofeed.Parser 非并发安全，每次抓取新建
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{Kind: ErrParseFailure, URL: t.URL, Err: err}
	}

	items := make([]RawItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if it, ok := mapEntry(entry); ok {
			items = append(items, it)
		}
	}
	return items, nil
}

// mapEntry 将 feed 条目映射为 RawItem；没有链接的条目无法去重，直接丢弃
func mapEntry(entry *gofeed.Item) (RawItem, bool) {
	if entry == nil {
		return RawItem{}, false
	}

	link := strings.TrimSpace(entry.Link)
	if link == "" {
		for _, l := range entry.Links {
			if l = strings.TrimSpace(l); l != "" {
				link = l
				break
			}
		}
	}
	if link == "" {
		return RawItem{}, false
	}

	title := strings.TrimSpace(entry.Title)
	if title == "" {
		title = "Untitled"
	}

	it := RawItem{
		Title:   title,
		Summary: entry.Description,
		Body:    entry.Content,
		Link:    link,
	}

	// 发布时间优先，其次更新时间，都没有则留空
	if entry.PublishedParsed != nil {
		ts := *entry.PublishedParsed
		it.PublishedAt = &ts
	} else if entry.UpdatedParsed != nil {
		ts := *entry.UpdatedParsed
		it.PublishedAt = &ts
	}

	if entry.Author != nil && entry.Author.Name != "" {
		it.Author = entry.Author.Name
	} else {
		for _, a := range entry.Authors {
			if a != nil && a.Name != "" {
				it.Author = a.Name
				break
			}
		}
	}

	for _, enc := range entry.Enclosures {
		if enc != nil && enc.URL != "" && strings.HasPrefix(strings.ToLower(enc.Type), "image/") {
			it.ImageURL = enc.URL
			break
		}
	}
	if it.ImageURL == "" && entry.Image != nil {
		it.ImageURL = entry.Image.URL
	}

	for _, c := range entry.Categories {
		if c = strings.TrimSpace(c); c != "" {
			it.Tags = append(it.Tags, c)
		}
	}

	return it, true
}
