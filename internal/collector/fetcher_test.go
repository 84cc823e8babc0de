package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/">
<channel>
  <title>Sample</title>
  <link>https://example.com</link>
  <description>sample feed</description>
  <item>
    <title>First story</title>
    <link>https://example.com/a?utm_source=rss&amp;id=1</link>
    <description>&lt;p&gt;Short summary&lt;/p&gt;</description>
    <content:encoded><![CDATA[<p>Full body text</p>]]></content:encoded>
    <author>reporter@example.com (Jane Reporter)</author>
    <category>politics</category>
    <category>economy</category>
    <pubDate>Mon, 02 Jan 2006 15:04:05 +0000</pubDate>
    <enclosure url="https://example.com/audio.mp3" type="audio/mpeg" length="10"/>
    <enclosure url="https://example.com/cover.jpg" type="image/jpeg" length="10"/>
  </item>
  <item>
    <title>No link here</title>
    <description>dropped</description>
  </item>
  <item>
    <link>https://example.com/b</link>
    <description>untitled entry</description>
  </item>
</channel>
</rss>`

func newTestClient(respectRobots bool) *Client {
	return NewClient(Options{
		UserAgent:     "NewsPulseBot/1.0",
		Timeout:       5 * time.Second,
		RespectRobots: respectRobots,
	}, zerolog.Nop())
}

func TestFetchFeedMapsEntries(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "NewsPulseBot/1.0" {
			t.Errorf("User-Agent = %q, want NewsPulseBot/1.0", ua)
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleRSS))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(true)
	items, err := c.Fetch(context.Background(), Target{ID: 7, Name: "sample", Kind: KindFeed, URL: srv.URL + "/feed.xml", Category: "news", Language: "th"})
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	// 无链接的条目应被丢弃
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	first := items[0]
	if first.Title != "First story" {
		t.Fatalf("Title = %q", first.Title)
	}
	if first.Link != "https://example.com/a?utm_source=rss&id=1" {
		t.Fatalf("Link = %q", first.Link)
	}
	if first.Summary != "<p>Short summary</p>" {
		t.Fatalf("Summary = %q", first.Summary)
	}
	if first.Body != "<p>Full body text</p>" {
		t.Fatalf("Body = %q", first.Body)
	}
	if first.ImageURL != "https://example.com/cover.jpg" {
		t.Fatalf("ImageURL = %q, want first image enclosure", first.ImageURL)
	}
	if len(first.Tags) != 2 || first.Tags[0] != "politics" || first.Tags[1] != "economy" {
		t.Fatalf("Tags = %v", first.Tags)
	}
	if first.PublishedAt == nil || !first.PublishedAt.Equal(time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)) {
		t.Fatalf("PublishedAt = %v", first.PublishedAt)
	}
	if first.SourceID != 7 || first.Category != "news" || first.Language != "th" {
		t.Fatalf("source fields not stamped: %+v", first)
	}

	if items[1].Title != "Untitled" {
		t.Fatalf("missing title should fall back to Untitled, got %q", items[1].Title)
	}
	if items[1].PublishedAt != nil {
		t.Fatalf("PublishedAt should stay unset, got %v", items[1].PublishedAt)
	}
}

func TestFetchDisallowedByRobots(t *testing.T) {
	var feedHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	})
	mux.HandleFunc("/private/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&feedHits, 1)
		_, _ = w.Write([]byte(sampleRSS))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(true)
	items, err := c.Fetch(context.Background(), Target{Kind: KindFeed, URL: srv.URL + "/private/feed.xml"})
	if KindOf(err) != ErrDisallowed {
		t.Fatalf("expected disallowed error, got %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected zero items, got %d", len(items))
	}
	if atomic.LoadInt32(&feedHits) != 0 {
		t.Fatalf("feed should not be requested when disallowed")
	}

	// 关闭 robots 检查后可以正常抓取
	c = newTestClient(false)
	items, err = c.Fetch(context.Background(), Target{Kind: KindFeed, URL: srv.URL + "/private/feed.xml"})
	if err != nil || len(items) != 2 {
		t.Fatalf("expected 2 items without robots check, got %d (%v)", len(items), err)
	}
}

func TestRobotsPolicyCachesPerOrigin(t *testing.T) {
	var robotsHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&robotsHits, 1)
		_, _ = w.Write([]byte("User-agent: newspulsebot\nDisallow: /secret\n"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewRobotsPolicy(srv.Client(), "NewsPulseBot/1.0", zerolog.Nop())
	ctx := context.Background()

	if !p.Allowed(ctx, srv.URL+"/news/feed.xml") {
		t.Fatalf("expected /news to be allowed")
	}
	if p.Allowed(ctx, srv.URL+"/secret/feed.xml") {
		t.Fatalf("expected /secret to be disallowed")
	}
	if got := atomic.LoadInt32(&robotsHits); got != 1 {
		t.Fatalf("robots.txt fetched %d times, want 1", got)
	}
}

func TestRobotsMissingIsAllowed(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	p := NewRobotsPolicy(srv.Client(), "NewsPulseBot/1.0", zerolog.Nop())
	if !p.Allowed(context.Background(), srv.URL+"/anything") {
		t.Fatalf("missing robots.txt should be treated as allowed")
	}

	// 不可达的站点同样放行
	srv.Close()
	if !p.Allowed(context.Background(), srv.URL+"/anything") {
		t.Fatalf("unreachable robots.txt should be treated as allowed")
	}
}

func TestFetchFailureKinds(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/garbage", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("this is not a feed"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(false)
	ctx := context.Background()

	if _, err := c.Fetch(ctx, Target{Kind: KindFeed, URL: srv.URL + "/broken"}); KindOf(err) != ErrParseFailure {
		t.Fatalf("non-2xx should be parse failure, got %v", err)
	}
	if _, err := c.Fetch(ctx, Target{Kind: KindFeed, URL: srv.URL + "/garbage"}); KindOf(err) != ErrParseFailure {
		t.Fatalf("malformed payload should be parse failure, got %v", err)
	}
	if _, err := c.Fetch(ctx, Target{Kind: "ftp", URL: srv.URL + "/garbage"}); KindOf(err) != ErrParseFailure {
		t.Fatalf("unknown kind should be parse failure, got %v", err)
	}

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()
	if _, err := c.Fetch(ctx, Target{Kind: KindFeed, URL: closedURL + "/feed"}); KindOf(err) != ErrNetwork {
		t.Fatalf("connection failure should be network error, got %v", err)
	}
}

func TestFetchPage(t *testing.T) {
	const page = `<html><body>
<article>
  <h2><a href="/story/1#comments">Story one</a></h2>
  <p>Lead paragraph</p>
  <img src="/img/1.png">
  <time datetime="2024-05-01T08:00:00Z">May 1</time>
</article>
<article><p>no link</p></article>
<article><a href="https://other.test/2">Story two</a></article>
</body></html>`

	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(false)
	items, err := c.Fetch(context.Background(), Target{ID: 3, Kind: KindPage, URL: srv.URL + "/list"})
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Title != "Story one" || items[0].Link != srv.URL+"/story/1" {
		t.Fatalf("unexpected first item: %+v", items[0])
	}
	if items[0].Summary != "Lead paragraph" || items[0].ImageURL != srv.URL+"/img/1.png" {
		t.Fatalf("unexpected first item details: %+v", items[0])
	}
	if items[0].PublishedAt == nil || !items[0].PublishedAt.Equal(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("PublishedAt = %v", items[0].PublishedAt)
	}
	if items[1].Title != "Story two" || items[1].Link != "https://other.test/2" {
		t.Fatalf("unexpected second item: %+v", items[1])
	}
}

func TestFetchPageErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	c := newTestClient(false)
	if _, err := c.Fetch(context.Background(), Target{Kind: KindPage, URL: srv.URL}); KindOf(err) != ErrParseFailure {
		t.Fatalf("expected parse failure, got %v", err)
	}
}

func TestFetchPageDropsEntriesWithoutLink(t *testing.T) {
	const page = `<html><body>
<article><h2>No link here</h2><p>text</p></article>
<article><h2><a href="">Empty href</a></h2></article>
<article><h2><a href="/list">Back to list</a></h2></article>
</body></html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	c := newTestClient(false)
	items, err := c.Fetch(context.Background(), Target{Kind: KindPage, URL: srv.URL + "/list"})
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items, got %d (first link %q)", len(items), items[0].Link)
	}
}
