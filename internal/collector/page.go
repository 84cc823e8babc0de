package collector

import (
	"cmp"
	"context"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

const defaultPageSelector = "article"

// pageFetcher 抓取普通 HTML 列表页，每个匹配 Selector 的元素视为一条
type pageFetcher struct {
	userAgent string
	timeout   time.Duration
	maxBody   int
}

func (p *pageFetcher) fetch(ctx context.Context, t Target) ([]RawItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Kind: ErrNetwork, URL: t.URL, Err: err}
	}

	c := colly.NewCollector(
		colly.UserAgent(p.userAgent),
		colly.MaxBodySize(p.maxBody),
	)
	c.SetRequestTimeout(p.timeout)

	results := make([]RawItem, 0, 20)

	// 页面结构各不相同，此处只做“尽力而为”的解析
	c.OnHTML(cmp.Or(t.Selector, defaultPageSelector), func(e *colly.HTMLElement) {
		href := e.ChildAttr("a[href]", "href")
		if e.Name == "a" {
			href = e.Attr("href")
		}
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		// 空链接或指回列表页本身的条目无法定位文章，直接丢弃
		link := e.Request.AbsoluteURL(href)
		if link == "" || link == t.URL || link == e.Request.URL.String() {
			return
		}

		title := strings.TrimSpace(e.ChildText("h1, h2, h3"))
		if title == "" {
			title = strings.TrimSpace(e.ChildText("a"))
		}
		if title == "" && e.Name == "a" {
			title = strings.TrimSpace(e.Text)
		}
		if title == "" {
			title = "Untitled"
		}

		it := RawItem{
			Title:   title,
			Summary: strings.TrimSpace(e.ChildText("p")),
			Link:    link,
			Author:  strings.TrimSpace(e.ChildText("[rel=author], .author")),
		}
		if src := e.ChildAttr("img[src]", "src"); src != "" {
			it.ImageURL = e.Request.AbsoluteURL(src)
		}
		if dt := e.ChildAttr("time[datetime]", "datetime"); dt != "" {
			if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(dt)); err == nil {
				it.PublishedAt = &ts
			}
		}
		results = append(results, it)
	})

	var status int
	c.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	if err := c.Visit(t.URL); err != nil {
		// 有状态码说明请求已到达服务端，归为解析失败；否则是网络错误
		if status != 0 {
			return nil, &FetchError{Kind: ErrParseFailure, URL: t.URL, Err: err}
		}
		return nil, &FetchError{Kind: ErrNetwork, URL: t.URL, Err: err}
	}

	return results, nil
}
