package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LJTian/NewsPulse/internal/processor"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultArticleLimit = 100
	maxArticleLimit     = 1000
)

type ArticleQuery struct {
	Since    *time.Time
	Category string
	Limit    int
	Offset   int
}

type CategoryCount struct {
	Category     string `json:"category"`
	ArticleCount int64  `json:"count"`
}

type SourceCount struct {
	SourceID     uint   `json:"sourceId"`
	Name         string `json:"name"`
	ArticleCount int64  `json:"articleCount"`
}

// InsertItem 写入一条新闻；URL 或指纹冲突返回 ErrConflict
func (s *Store) InsertItem(ctx context.Context, it processor.NormalizedItem) (*Article, error) {
	var published *time.Time
	if it.PublishedAt != nil {
		ts := it.PublishedAt.UTC()
		published = &ts
	}
	tags := it.Tags
	if tags == nil {
		tags = []string{}
	}

	a := &Article{
		SourceID:       it.SourceID,
		Title:          toValidUTF8(it.Title),
		Summary:        toValidUTF8(it.Summary),
		Content:        toValidUTF8(it.Body),
		URL:            it.Link,
		Author:         truncateRunesDB(toValidUTF8(it.Author), 255),
		Category:       truncateRunesDB(it.Category, 100),
		Tags:           datatypes.NewJSONSlice(tags),
		PublishedAt:    published,
		ContentHash:    it.ContentHash,
		SimilarityHash: it.SimilarityHash,
		ImageURL:       it.ImageURL,
		Language:       it.Language,
		FetchedAt:      time.Now().UTC(),
	}

	if err := s.DB.WithContext(ctx).Create(a).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: %s", ErrConflict, it.Link)
		}
		return nil, fmt.Errorf("insert article %s: %w", it.Link, err)
	}
	return a, nil
}

// FingerprintsSince 返回 since 之后入库条目的内容指纹
func (s *Store) FingerprintsSince(ctx context.Context, since time.Time) ([]string, error) {
	var hashes []string
	err := s.DB.WithContext(ctx).Model(&Article{}).
		Where("created_at >= ?", since.UTC()).
		Pluck("content_hash", &hashes).Error
	if err != nil {
		return nil, err
	}
	return hashes, nil
}

// ItemsPublishedOn 返回发布时间落在 day 所在自然日（按 day 的时区）内的条目
func (s *Store) ItemsPublishedOn(ctx context.Context, day time.Time) ([]Article, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	var list []Article
	err := s.DB.WithContext(ctx).
		Where("published_at >= ? AND published_at < ?", start.UTC(), end.UTC()).
		Order("published_at ASC").Order("id ASC").
		Find(&list).Error
	return list, err
}

func (s *Store) ListArticles(ctx context.Context, q ArticleQuery) ([]Article, error) {
	if q.Limit <= 0 || q.Limit > maxArticleLimit {
		q.Limit = defaultArticleLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	db := s.DB.WithContext(ctx).Model(&Article{})
	if q.Since != nil {
		db = db.Where("created_at >= ?", q.Since.UTC())
	}
	if q.Category != "" {
		db = db.Where("category = ?", q.Category)
	}

	var list []Article
	err := db.Order("published_at DESC").Order("id DESC").
		Offset(q.Offset).Limit(q.Limit).
		Find(&list).Error
	return list, err
}

// RecentArticles 返回 since 之后创建的条目，最多 limit 条。
// 供通知使用，不受列表接口的分页上限约束；limit <= 0 表示不限
func (s *Store) RecentArticles(ctx context.Context, since time.Time, limit int) ([]Article, error) {
	db := s.DB.WithContext(ctx).Model(&Article{}).
		Where("created_at >= ?", since.UTC()).
		Order("published_at DESC").Order("id DESC")
	if limit > 0 {
		db = db.Limit(limit)
	}
	var list []Article
	err := db.Find(&list).Error
	return list, err
}

func (s *Store) GetArticle(ctx context.Context, id uint) (*Article, error) {
	var a Article
	if err := s.DB.WithContext(ctx).First(&a, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *Store) CountByCategory(ctx context.Context, since time.Time, limit int) ([]CategoryCount, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []CategoryCount
	err := s.DB.WithContext(ctx).Model(&Article{}).
		Select("category, COUNT(id) AS article_count").
		Where("published_at >= ?", since.UTC()).
		Group("category").
		Order("article_count DESC").Order("category ASC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

func (s *Store) CountBySource(ctx context.Context, since time.Time, limit int) ([]SourceCount, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []SourceCount
	err := s.DB.WithContext(ctx).Table("articles").
		Select("articles.source_id AS source_id, COALESCE(sources.name, '') AS name, COUNT(articles.id) AS article_count").
		Joins("LEFT JOIN sources ON sources.id = articles.source_id").
		Where("articles.published_at >= ?", since.UTC()).
		Group("articles.source_id, sources.name").
		Order("article_count DESC").Order("articles.source_id ASC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}
