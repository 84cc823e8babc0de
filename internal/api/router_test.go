package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/LJTian/NewsPulse/internal/pipeline"
	"github.com/LJTian/NewsPulse/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type fakeStore struct {
	articles  []storage.Article
	sources   map[uint]*storage.Source
	lastQuery storage.ArticleQuery
}

func (f *fakeStore) ListArticles(ctx context.Context, q storage.ArticleQuery) ([]storage.Article, error) {
	f.lastQuery = q
	return f.articles, nil
}

func (f *fakeStore) GetArticle(ctx context.Context, id uint) (*storage.Article, error) {
	for i := range f.articles {
		if f.articles[i].ID == id {
			return &f.articles[i], nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) ListSources(ctx context.Context, status string) ([]storage.Source, error) {
	var out []storage.Source
	for id := uint(1); id <= uint(len(f.sources)); id++ {
		if s, ok := f.sources[id]; ok && (status == "" || s.Status == status) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStore) GetSource(ctx context.Context, id uint) (*storage.Source, error) {
	s, ok := f.sources[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) CreateSource(ctx context.Context, sp storage.SourceSpec) (*storage.Source, error) {
	for _, s := range f.sources {
		if s.URL == sp.URL {
			return nil, storage.ErrConflict
		}
	}
	s := &storage.Source{ID: uint(len(f.sources) + 1), Name: sp.Name, URL: sp.URL, Kind: "feed", Status: storage.StatusActive}
	f.sources[s.ID] = s
	return s, nil
}

func (f *fakeStore) SetSourceStatus(ctx context.Context, id uint, status string) error {
	s, ok := f.sources[id]
	if !ok {
		return storage.ErrNotFound
	}
	s.Status = status
	return nil
}

type fakeCollector struct {
	result pipeline.Result
	// onRun 非空时按 sources 逐个模拟处理，ctx 取消后停止
	onRun   func(ctx context.Context)
	sources []string
}

func (f *fakeCollector) RunAll(ctx context.Context) pipeline.Result {
	if f.onRun == nil {
		return f.result
	}
	res := pipeline.Result{BySource: map[string]int{}}
	for _, name := range f.sources {
		if ctx.Err() != nil {
			break
		}
		f.onRun(ctx)
		res.BySource[name] = 1
		res.TotalNew++
	}
	return res
}

type fakeTrends struct {
	extracted []time.Time
	refreshed []time.Time
}

func (f *fakeTrends) Today() time.Time {
	return time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
}

func (f *fakeTrends) ParseDate(s string) (time.Time, error) {
	return time.Parse(storage.DateLayout, s)
}

func (f *fakeTrends) ExtractForDate(ctx context.Context, day time.Time) []storage.Trend {
	f.extracted = append(f.extracted, day)
	return []storage.Trend{{ID: 1, Date: day.Format(storage.DateLayout), Keyword: "flood", Frequency: 2}}
}

func (f *fakeTrends) Refresh(ctx context.Context, day time.Time) []storage.Trend {
	f.refreshed = append(f.refreshed, day)
	return []storage.Trend{{ID: 1, Date: day.Format(storage.DateLayout), Keyword: "flood", Frequency: 2}}
}

func (f *fakeTrends) TopForDate(ctx context.Context, day time.Time, limit int) ([]storage.Trend, error) {
	return []storage.Trend{{ID: 1, Date: day.Format(storage.DateLayout), Keyword: "flood", Frequency: 2}}, nil
}

func (f *fakeTrends) TopCategories(ctx context.Context, days, limit int) ([]storage.CategoryCount, error) {
	return []storage.CategoryCount{{Category: "politics", ArticleCount: 3}}, nil
}

func (f *fakeTrends) TopSources(ctx context.Context, days, limit int) ([]storage.SourceCount, error) {
	return []storage.SourceCount{{SourceID: 1, Name: "Desk", ArticleCount: 3}}, nil
}

type testEnv struct {
	router    *gin.Engine
	store     *fakeStore
	collector *fakeCollector
	trends    *fakeTrends
}

func newTestEnv() *testEnv {
	gin.SetMode(gin.TestMode)
	env := &testEnv{
		store: &fakeStore{
			articles: []storage.Article{{ID: 1, Title: "Flood", URL: "https://n.test/1"}},
			sources:  map[uint]*storage.Source{1: {ID: 1, Name: "Desk", URL: "https://n.test/rss", Status: storage.StatusActive}},
		},
		collector: &fakeCollector{result: pipeline.Result{TotalNew: 2, BySource: map[string]int{"Desk": 2}}},
		trends:    &fakeTrends{},
	}
	r := gin.New()
	NewServer(env.store, env.collector, env.trends, zerolog.Nop()).RegisterRoutes(r)
	env.router = r
	return env
}

func (e *testEnv) do(method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestFetchArticlesReturnsSummary(t *testing.T) {
	env := newTestEnv()
	w, body := env.do(http.MethodPost, "/api/v1/articles/fetch", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	data := body["data"].(map[string]any)
	if data["total_new"] != float64(2) || data["by_source"].(map[string]any)["Desk"] != float64(2) {
		t.Fatalf("unexpected data: %v", data)
	}

	env.collector.result = pipeline.Result{Skipped: true, BySource: map[string]int{}}
	w, body = env.do(http.MethodPost, "/api/v1/articles/fetch", "")
	if w.Code != http.StatusConflict || body["code"] != "run_in_progress" {
		t.Fatalf("skipped run: status=%d body=%v", w.Code, body)
	}
}

func TestFetchArticlesSurvivesClientDisconnect(t *testing.T) {
	env := newTestEnv()
	ctx, cancel := context.WithCancel(context.Background())
	env.collector.sources = []string{"a", "b", "c"}
	env.collector.onRun = func(context.Context) { cancel() }

	req := httptest.NewRequest(http.MethodPost, "/api/v1/articles/fetch", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	data := body["data"].(map[string]any)
	if data["total_new"] != float64(3) || len(data["by_source"].(map[string]any)) != 3 {
		t.Fatalf("all sources should be attempted after disconnect, got %v", data)
	}
}

func TestListAndGetArticles(t *testing.T) {
	env := newTestEnv()
	w, body := env.do(http.MethodGet, "/api/v1/articles?category=news&limit=5&offset=10&since=2024-03-05T00:00:00Z", "")
	if w.Code != http.StatusOK || body["code"] != "ok" {
		t.Fatalf("list: status=%d body=%v", w.Code, body)
	}
	q := env.store.lastQuery
	if q.Category != "news" || q.Limit != 5 || q.Offset != 10 || q.Since == nil {
		t.Fatalf("unexpected query: %+v", q)
	}

	w, _ = env.do(http.MethodGet, "/api/v1/articles?since=yesterday", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad since: status=%d", w.Code)
	}

	w, _ = env.do(http.MethodGet, "/api/v1/articles/1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: status=%d", w.Code)
	}
	w, body = env.do(http.MethodGet, "/api/v1/articles/99", "")
	if w.Code != http.StatusNotFound || body["code"] != "not_found" {
		t.Fatalf("missing: status=%d body=%v", w.Code, body)
	}
	w, _ = env.do(http.MethodGet, "/api/v1/articles/abc", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: status=%d", w.Code)
	}
}

func TestTrendRoutes(t *testing.T) {
	env := newTestEnv()

	w, body := env.do(http.MethodGet, "/api/v1/trends/today", "")
	if w.Code != http.StatusOK {
		t.Fatalf("today: status=%d", w.Code)
	}
	data := body["data"].(map[string]any)
	if data["date"] != "2024-03-05" || len(data["trends"].([]any)) != 1 {
		t.Fatalf("today data = %v", data)
	}
	if len(env.trends.extracted) != 1 {
		t.Fatalf("today should refresh extraction first")
	}

	w, _ = env.do(http.MethodGet, "/api/v1/trends/date/2024-03-04", "")
	if w.Code != http.StatusOK || len(env.trends.extracted) != 2 {
		t.Fatalf("by date: status=%d extracted=%d", w.Code, len(env.trends.extracted))
	}
	if len(env.trends.refreshed) != 0 {
		t.Fatalf("read routes must not refresh with notification, got %d", len(env.trends.refreshed))
	}

	w, _ = env.do(http.MethodGet, "/api/v1/trends/date/2024-02-30", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid date: status=%d", w.Code)
	}

	w, body = env.do(http.MethodPost, "/api/v1/trends/extract?date=2024-03-01", "")
	if w.Code != http.StatusOK {
		t.Fatalf("extract: status=%d", w.Code)
	}
	data = body["data"].(map[string]any)
	if data["date"] != "2024-03-01" || data["count"] != float64(1) || len(env.trends.refreshed) != 1 {
		t.Fatalf("extract data = %v refreshed=%d", data, len(env.trends.refreshed))
	}

	w, body = env.do(http.MethodGet, "/api/v1/trends/categories?days=3", "")
	if w.Code != http.StatusOK || body["data"].(map[string]any)["days"] != float64(3) {
		t.Fatalf("categories: status=%d body=%v", w.Code, body)
	}
	w, body = env.do(http.MethodGet, "/api/v1/trends/sources?days=99", "")
	if w.Code != http.StatusOK || body["data"].(map[string]any)["days"] != float64(7) {
		t.Fatalf("out of range days should fall back to 7: %v", body)
	}
}

func TestSourceAdminRoutes(t *testing.T) {
	env := newTestEnv()

	w, body := env.do(http.MethodPost, "/api/v1/sources", `{"name":"Sport","url":"https://sport.test/rss"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status=%d body=%v", w.Code, body)
	}
	w, _ = env.do(http.MethodPost, "/api/v1/sources", `{"name":"Again","url":"https://sport.test/rss"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate: status=%d", w.Code)
	}
	w, _ = env.do(http.MethodPost, "/api/v1/sources", `{"name":"NoURL"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing url: status=%d", w.Code)
	}
	w, _ = env.do(http.MethodPost, "/api/v1/sources", `{"name":"Odd","url":"https://odd.test","type":"ftp"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad type: status=%d", w.Code)
	}

	w, body = env.do(http.MethodPatch, "/api/v1/sources/2", `{"active":false}`)
	if w.Code != http.StatusOK || body["data"].(map[string]any)["status"] != storage.StatusDisabled {
		t.Fatalf("disable: status=%d body=%v", w.Code, body)
	}
	w, _ = env.do(http.MethodPatch, "/api/v1/sources/9", `{"active":true}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing source: status=%d", w.Code)
	}

	w, body = env.do(http.MethodGet, "/api/v1/sources?status=active", "")
	if w.Code != http.StatusOK || len(body["data"].([]any)) != 1 {
		t.Fatalf("active sources: status=%d body=%v", w.Code, body)
	}
	w, _ = env.do(http.MethodGet, "/api/v1/sources?status=paused", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad status filter: status=%d", w.Code)
	}
}

func TestBasicAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(BasicAuth("user", "pass"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/articles", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("health should skip auth, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/articles", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized || w.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("expected 401 with challenge, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/articles", nil)
	req.SetBasicAuth("user", "pass")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("valid credentials rejected: %d", w.Code)
	}
}
