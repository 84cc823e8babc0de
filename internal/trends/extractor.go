package trends

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/LJTian/NewsPulse/internal/notify"
	"github.com/LJTian/NewsPulse/internal/storage"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
)

const defaultMinFrequency = 2

type Gateway interface {
	ItemsPublishedOn(ctx context.Context, day time.Time) ([]storage.Article, error)
	ReplaceTrends(ctx context.Context, date string, trends []storage.Trend) ([]storage.Trend, error)
	TopTrends(ctx context.Context, date string, limit int) ([]storage.Trend, error)
	CountByCategory(ctx context.Context, since time.Time, limit int) ([]storage.CategoryCount, error)
	CountBySource(ctx context.Context, since time.Time, limit int) ([]storage.SourceCount, error)
}

type Notifier interface {
	NewTrends(ctx context.Context, trends []notify.TrendPayload) error
}

type Options struct {
	MinFrequency int
	// Location 决定“某一天”的起止时间，默认 UTC
	Location *time.Location
}

// Extractor 从某天已入库的新闻标签中统计热点关键词
type Extractor struct {
	gw       Gateway
	notifier Notifier
	minFreq  int
	loc      *time.Location
	logger   zerolog.Logger

	// 同一时间只跑一次提取，避免同一天的 upsert 交错
	mu  sync.Mutex
	now func() time.Time
}

func NewExtractor(gw Gateway, notifier Notifier, opts Options, logger zerolog.Logger) *Extractor {
	if opts.MinFrequency <= 0 {
		opts.MinFrequency = defaultMinFrequency
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Extractor{
		gw:       gw,
		notifier: notifier,
		minFreq:  opts.MinFrequency,
		loc:      opts.Location,
		logger:   logger.With().Str("component", "trends").Logger(),
		now:      time.Now,
	}
}

// Today 返回配置时区下的今天
func (e *Extractor) Today() time.Time {
	return e.dayStart(e.now())
}

// ParseDate 按配置时区解析 YYYY-MM-DD
func (e *Extractor) ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(storage.DateLayout, s, e.loc)
}

func (e *Extractor) dayStart(t time.Time) time.Time {
	t = t.In(e.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, e.loc)
}

// RefreshToday 重新提取今天的热点并发送 new_trends 事件
func (e *Extractor) RefreshToday(ctx context.Context) []storage.Trend {
	return e.Refresh(ctx, e.Today())
}

// Refresh 供定时任务和手动提取使用：提取后有结果才通知一次。
// 查询接口只调用 ExtractForDate，不发事件
func (e *Extractor) Refresh(ctx context.Context, day time.Time) []storage.Trend {
	out := e.ExtractForDate(ctx, day)
	if len(out) > 0 {
		log := e.logger.With().Str("date", e.dayStart(day).Format(storage.DateLayout)).Logger()
		e.notifyTrends(context.WithoutCancel(ctx), log, out)
	}
	return out
}

// ExtractForDate 重新计算某天的关键词频次并在一个事务里覆盖写入。
// 频次是带有该关键词的不同新闻数，低于阈值的旧记录保留不删。
// 出错时记录日志并返回空结果，该天已有数据保持不变。
func (e *Extractor) ExtractForDate(ctx context.Context, day time.Time) []storage.Trend {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.dayStart(day)
	date := start.Format(storage.DateLayout)
	log := e.logger.With().Str("date", date).Logger()

	articles, err := e.gw.ItemsPublishedOn(ctx, start)
	if err != nil {
		log.Error().Err(err).Msg("load articles for trend extraction")
		return []storage.Trend{}
	}
	if len(articles) == 0 {
		log.Info().Msg("no articles for date")
		return []storage.Trend{}
	}

	keywords, ids := groupByKeyword(articles)

	batch := make([]storage.Trend, 0)
	for _, kw := range keywords {
		articleIDs := ids[kw]
		if len(articleIDs) < e.minFreq {
			continue
		}
		batch = append(batch, storage.Trend{
			Date:       date,
			Keyword:    kw,
			Frequency:  len(articleIDs),
			ArticleIDs: datatypes.NewJSONSlice(articleIDs),
		})
	}
	if len(batch) == 0 {
		log.Info().Int("articles", len(articles)).Msg("no keyword reached threshold")
		return []storage.Trend{}
	}

	out, err := e.gw.ReplaceTrends(ctx, date, batch)
	if err != nil {
		log.Error().Err(err).Msg("save trends")
		return []storage.Trend{}
	}

	log.Info().Int("articles", len(articles)).Int("trends", len(out)).Msg("extracted trends")
	return out
}

// groupByKeyword 关键词按首次出现顺序返回，每个关键词对应去重后的新闻 ID
func groupByKeyword(articles []storage.Article) ([]string, map[string][]uint) {
	var order []string
	ids := make(map[string][]uint)
	seen := make(map[string]map[uint]struct{})

	for _, a := range articles {
		for _, tag := range a.Tags {
			kw := strings.TrimSpace(tag)
			if kw == "" {
				continue
			}
			set, ok := seen[kw]
			if !ok {
				set = make(map[uint]struct{})
				seen[kw] = set
				order = append(order, kw)
			}
			if _, dup := set[a.ID]; dup {
				continue
			}
			set[a.ID] = struct{}{}
			ids[kw] = append(ids[kw], a.ID)
		}
	}
	return order, ids
}

func (e *Extractor) notifyTrends(ctx context.Context, log zerolog.Logger, trends []storage.Trend) {
	if e.notifier == nil {
		return
	}
	payload := make([]notify.TrendPayload, 0, len(trends))
	for _, t := range trends {
		payload = append(payload, notify.TrendPayload{
			Keyword:    t.Keyword,
			Date:       t.Date,
			Frequency:  t.Frequency,
			ArticleIDs: []uint(t.ArticleIDs),
		})
	}
	if err := e.notifier.NewTrends(ctx, payload); err != nil && !errors.Is(err, notify.ErrDisabled) {
		log.Warn().Err(err).Msg("send new_trends event")
	}
}

// TopForDate 返回某天频次最高的关键词
func (e *Extractor) TopForDate(ctx context.Context, day time.Time, limit int) ([]storage.Trend, error) {
	return e.gw.TopTrends(ctx, e.dayStart(day).Format(storage.DateLayout), limit)
}

func (e *Extractor) TopCategories(ctx context.Context, days, limit int) ([]storage.CategoryCount, error) {
	return e.gw.CountByCategory(ctx, e.since(days), limit)
}

func (e *Extractor) TopSources(ctx context.Context, days, limit int) ([]storage.SourceCount, error) {
	return e.gw.CountBySource(ctx, e.since(days), limit)
}

func (e *Extractor) since(days int) time.Time {
	if days <= 0 {
		days = 7
	}
	return e.now().Add(-time.Duration(days) * 24 * time.Hour)
}
