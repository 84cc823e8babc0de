package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/LJTian/NewsPulse/internal/collector"
	"github.com/LJTian/NewsPulse/internal/notify"
	"github.com/LJTian/NewsPulse/internal/processor"
	"github.com/LJTian/NewsPulse/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	StatusOK          = "ok"
	StatusDisallowed  = "disallowed"
	StatusFetchFailed = "fetch_failed"
	StatusAborted     = "aborted"

	defaultDedupWindow            = 7 * 24 * time.Hour
	defaultMaxConsecutiveFailures = 3
)

// Gateway 采集流程依赖的存储操作
type Gateway interface {
	ListActiveSources(ctx context.Context) ([]storage.Source, error)
	FingerprintsSince(ctx context.Context, since time.Time) ([]string, error)
	InsertItem(ctx context.Context, it processor.NormalizedItem) (*storage.Article, error)
	TouchSourceFetched(ctx context.Context, id uint, at time.Time) error
	RecentArticles(ctx context.Context, since time.Time, limit int) ([]storage.Article, error)
}

type Notifier interface {
	NewArticles(ctx context.Context, items []notify.ArticlePayload) error
}

type Options struct {
	DedupWindow time.Duration
	// 连续写入失败达到该次数后视为存储不可用，放弃当前数据源剩余条目
	MaxConsecutiveFailures int
}

// SourceResult 单个数据源本轮的处理结果
type SourceResult struct {
	SourceID   uint   `json:"source_id"`
	Name       string `json:"name"`
	Fetched    int    `json:"fetched"`
	New        int    `json:"new"`
	Duplicates int    `json:"duplicates"`
	Failed     int    `json:"failed"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// Result 一轮采集的汇总，RunAll 总是返回它而不是 error
type Result struct {
	RunID      string         `json:"run_id,omitempty"`
	TotalNew   int            `json:"total_new"`
	BySource   map[string]int `json:"by_source"`
	Sources    []SourceResult `json:"sources"`
	Skipped    bool           `json:"skipped,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

type Pipeline struct {
	gw         Gateway
	fetcher    collector.Fetcher
	normalizer *processor.Normalizer
	notifier   Notifier
	opts       Options
	logger     zerolog.Logger

	mu sync.Mutex
}

// New notifier 可为 nil
func New(gw Gateway, f collector.Fetcher, n *processor.Normalizer, notifier Notifier, opts Options, logger zerolog.Logger) *Pipeline {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = defaultDedupWindow
	}
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = defaultMaxConsecutiveFailures
	}
	return &Pipeline{
		gw:         gw,
		fetcher:    f,
		normalizer: n,
		notifier:   notifier,
		opts:       opts,
		logger:     logger.With().Str("component", "pipeline").Logger(),
	}
}

// RunAll 依次处理所有启用的数据源。同一时间只允许一轮在跑，
// 其余触发直接跳过并返回 Skipped=true。
func (p *Pipeline) RunAll(ctx context.Context) Result {
	if !p.mu.TryLock() {
		p.logger.Warn().Msg("collect run already in progress, skipping trigger")
		now := time.Now().UTC()
		return Result{BySource: map[string]int{}, Sources: []SourceResult{}, Skipped: true, StartedAt: now, FinishedAt: now}
	}
	defer p.mu.Unlock()

	res := Result{
		RunID:     uuid.NewString(),
		BySource:  map[string]int{},
		Sources:   []SourceResult{},
		StartedAt: time.Now().UTC(),
	}
	log := p.logger.With().Str("run_id", res.RunID).Logger()
	log.Info().Msg("start collect run")

	sources, err := p.gw.ListActiveSources(ctx)
	if err != nil {
		log.Error().Err(err).Msg("list active sources")
		res.FinishedAt = time.Now().UTC()
		return res
	}

	hashes, err := p.gw.FingerprintsSince(ctx, res.StartedAt.Add(-p.opts.DedupWindow))
	if err != nil {
		// 唯一索引兜底，空集合也不会产生重复数据
		log.Warn().Err(err).Msg("load fingerprints, continuing with empty set")
	}
	known := processor.NewKnownSet(hashes)

	for i, src := range sources {
		if ctx.Err() != nil {
			log.Warn().Int("remaining", len(sources)-i).Msg("run cancelled, remaining sources skipped")
			break
		}
		// 当前数据源总是完整跑完，不受取消影响
		sr := p.runSource(context.WithoutCancel(ctx), log, src, known)
		res.Sources = append(res.Sources, sr)
		res.BySource[src.Name] += sr.New
		res.TotalNew += sr.New
	}

	if res.TotalNew > 0 {
		p.notifyNew(context.WithoutCancel(ctx), log, res)
	}

	res.FinishedAt = time.Now().UTC()
	log.Info().
		Int("total_new", res.TotalNew).
		Int("sources", len(res.Sources)).
		Dur("elapsed", res.FinishedAt.Sub(res.StartedAt)).
		Msg("collect run done")
	return res
}

func (p *Pipeline) runSource(ctx context.Context, log zerolog.Logger, src storage.Source, known *processor.KnownSet) SourceResult {
	sr := SourceResult{SourceID: src.ID, Name: src.Name, Status: StatusOK}
	log = log.With().Uint("source_id", src.ID).Str("source", src.Name).Logger()

	raw, err := p.fetcher.Fetch(ctx, src.Target())
	if err != nil {
		sr.Error = err.Error()
		if collector.KindOf(err) != collector.ErrDisallowed {
			// 抓取失败不更新 last_fetched_at
			sr.Status = StatusFetchFailed
			log.Error().Err(err).Str("kind", collector.KindOf(err).String()).Msg("fetch source")
			return sr
		}
		sr.Status = StatusDisallowed
	}
	sr.Fetched = len(raw)

	consecutive := 0
	for _, r := range raw {
		item := processor.Stamp(p.normalizer.Normalize(r))
		if item.Link == "" {
			continue
		}
		if processor.IsDuplicate(item, known) {
			sr.Duplicates++
			continue
		}

		_, err := p.gw.InsertItem(ctx, item)
		switch {
		case err == nil:
			known.Add(item.ContentHash)
			sr.New++
			consecutive = 0
		case errors.Is(err, storage.ErrConflict):
			// 并发写入或超出回溯窗口的旧条目，按重复处理
			sr.Duplicates++
			consecutive = 0
		default:
			sr.Failed++
			consecutive++
			log.Error().Err(err).Str("url", item.Link).Msg("persist item")
		}
		if consecutive >= p.opts.MaxConsecutiveFailures {
			sr.Status = StatusAborted
			sr.Error = err.Error()
			log.Error().Int("failures", consecutive).Msg("storage unavailable, aborting source")
			break
		}
	}

	if err := p.gw.TouchSourceFetched(ctx, src.ID, time.Now().UTC()); err != nil {
		log.Warn().Err(err).Msg("touch source fetched")
	}

	log.Info().
		Int("fetched", sr.Fetched).
		Int("new", sr.New).
		Int("duplicates", sr.Duplicates).
		Int("failed", sr.Failed).
		Str("status", sr.Status).
		Msg("source done")
	return sr
}

// notifyNew 推送本轮新增条目，失败只记日志
func (p *Pipeline) notifyNew(ctx context.Context, log zerolog.Logger, res Result) {
	if p.notifier == nil {
		return
	}
	recent, err := p.gw.RecentArticles(ctx, res.StartedAt, res.TotalNew)
	if err != nil {
		log.Warn().Err(err).Msg("load recent articles for notification")
		return
	}
	if len(recent) == 0 {
		return
	}

	items := make([]notify.ArticlePayload, 0, len(recent))
	for _, a := range recent {
		items = append(items, notify.ArticlePayload{
			ID:          a.ID,
			Title:       a.Title,
			Summary:     a.Summary,
			URL:         a.URL,
			Category:    a.Category,
			PublishedAt: a.PublishedAt,
			Tags:        []string(a.Tags),
			SourceID:    a.SourceID,
		})
	}

	if err := p.notifier.NewArticles(ctx, items); err != nil {
		if errors.Is(err, notify.ErrDisabled) {
			log.Debug().Msg("webhook disabled, skip new_articles event")
			return
		}
		log.Warn().Err(err).Msg("send new_articles event")
	}
}
