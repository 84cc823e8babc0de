package processor

import (
	"time"

	"github.com/LJTian/NewsPulse/internal/collector"
	"github.com/rs/zerolog"
)

const (
	defaultSummaryMaxLength = 500
	defaultMaxKeywords      = 10
)

// NormalizedItem 是写入存储层前的统一结构
type NormalizedItem struct {
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

	// 由 Deduplicator.Stamp 填充
	ContentHash    string
	SimilarityHash string
}

type Options struct {
	SummaryMaxLength int
	MaxKeywords      int
}

// Normalizer 做清洗与规范化，任何内部异常都退回原始输入，不阻塞入库
type Normalizer struct {
	opts   Options
	logger zerolog.Logger
}

func NewNormalizer(opts Options, logger zerolog.Logger) *Normalizer {
	if opts.SummaryMaxLength <= 0 {
		opts.SummaryMaxLength = defaultSummaryMaxLength
	}
	if opts.MaxKeywords <= 0 {
		opts.MaxKeywords = defaultMaxKeywords
	}
	return &Normalizer{
		opts:   opts,
		logger: logger.With().Str("component", "normalizer").Logger(),
	}
}

func (n *Normalizer) Normalize(raw collector.RawItem) (out NormalizedItem) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error().Interface("panic", r).Str("url", raw.Link).Msg("normalize item failed, keep raw")
			out = fromRaw(raw)
		}
	}()

	out = fromRaw(raw)
	out.Title = CleanHTML(out.Title)
	out.Summary = CleanHTML(out.Summary)
	out.Body = CleanHTML(out.Body)
	out.Author = CleanHTML(out.Author)
	out.Link = NormalizeURL(out.Link)

	if out.Summary == "" && out.Body != "" {
		out.Summary = TruncateText(out.Body, n.opts.SummaryMaxLength)
	}
	if len(out.Tags) == 0 {
		out.Tags = ExtractKeywords(out.Title+" "+out.Summary, n.opts.MaxKeywords)
	}
	return out
}

func fromRaw(raw collector.RawItem) NormalizedItem {
	var tags []string
	if len(raw.Tags) > 0 {
		tags = append([]string(nil), raw.Tags...)
	}
	var published *time.Time
	if raw.PublishedAt != nil {
		ts := *raw.PublishedAt
		published = &ts
	}
	return NormalizedItem{
		SourceID:    raw.SourceID,
		Title:       raw.Title,
		Summary:     raw.Summary,
		Body:        raw.Body,
		Link:        raw.Link,
		Author:      raw.Author,
		Tags:        tags,
		PublishedAt: published,
		ImageURL:    raw.ImageURL,
		Category:    raw.Category,
		Language:    raw.Language,
	}
}
