package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/LJTian/NewsPulse/internal/collector"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrConflict URL 或内容指纹已存在，调用方应视为“已入库”而非失败
	ErrConflict = errors.New("storage: conflict")
	ErrNotFound = errors.New("storage: not found")
)

const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// Source 描述一个新闻数据源
type Source struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	Name                 string     `gorm:"size:255;not null" json:"name"`
	Kind                 string     `gorm:"column:type;size:50;not null" json:"type"` // feed / api / page
	URL                  string     `gorm:"size:1024;uniqueIndex;not null" json:"url"`
	Category             string     `gorm:"size:100" json:"category"`
	Country              string     `gorm:"size:50" json:"country"`
	Language             string     `gorm:"size:10" json:"language"`
	Selector             string     `gorm:"size:255" json:"selector,omitempty"`
	Status               string     `gorm:"size:32;index" json:"status"` // active / disabled
	FetchIntervalMinutes int        `json:"fetchIntervalMinutes"`
	LastFetchedAt        *time.Time `json:"lastFetchedAt"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s Source) IsActive() bool {
	return s.Status == StatusActive
}

// Target 转换为采集器所需的抓取参数
func (s Source) Target() collector.Target {
	return collector.Target{
		ID:       s.ID,
		Name:     s.Name,
		Kind:     s.Kind,
		URL:      s.URL,
		Category: s.Category,
		Language: s.Language,
		Selector: s.Selector,
	}
}

// Article 入库后的新闻条目，创建后不再修改
type Article struct {
	ID             uint                        `gorm:"primaryKey" json:"id"`
	SourceID       uint                        `gorm:"index" json:"sourceId"`
	Title          string                      `gorm:"type:text;not null" json:"title"`
	Summary        string                      `gorm:"type:text" json:"summary"`
	Content        string                      `gorm:"type:text" json:"content,omitempty"`
	URL            string                      `gorm:"size:2048;uniqueIndex;not null" json:"url"`
	Author         string                      `gorm:"size:255" json:"author"`
	Category       string                      `gorm:"size:100;index" json:"category"`
	Tags           datatypes.JSONSlice[string] `json:"tags"`
	PublishedAt    *time.Time                  `gorm:"index" json:"publishedAt"`
	ContentHash    string                      `gorm:"size:64;uniqueIndex;not null" json:"contentHash"`
	SimilarityHash string                      `gorm:"size:32;index" json:"similarityHash"`
	ImageURL       string                      `gorm:"type:text" json:"imageUrl"`
	Language       string                      `gorm:"size:10" json:"language"`
	FetchedAt      time.Time                   `json:"fetchedAt"`

	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

// Trend 按 (日期, 关键词) 唯一，每次提取整体覆盖
type Trend struct {
	ID         uint                      `gorm:"primaryKey" json:"id"`
	Date       string                    `gorm:"column:trend_date;size:10;not null;uniqueIndex:idx_trend_date_keyword" json:"date"`
	Keyword    string                    `gorm:"size:255;not null;uniqueIndex:idx_trend_date_keyword" json:"keyword"`
	Category   string                    `gorm:"size:100" json:"category,omitempty"`
	Frequency  int                       `gorm:"index" json:"frequency"`
	ArticleIDs datatypes.JSONSlice[uint] `json:"articleIds"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Store struct {
	DB     *gorm.DB
	Redis  *redis.Client
	logger zerolog.Logger
}

func NewStore(dsn, redisAddr string, log zerolog.Logger) (*Store, error) {
	var rdb *redis.Client
	if redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr: redisAddr,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed")
		}
	}

	return Open(postgres.Open(dsn), rdb, log)
}

// Open 基于任意 gorm 方言建立 Store 并迁移表结构，rdb 可为 nil
func Open(dialector gorm.Dialector, rdb *redis.Client, log zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Source{}, &Article{}, &Trend{}); err != nil {
		return nil, err
	}

	return &Store{
		DB:     db,
		Redis:  rdb,
		logger: log.With().Str("component", "storage").Logger(),
	}, nil
}

// Close 释放数据库连接池与 redis 连接
func (s *Store) Close() error {
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// toValidUTF8 将字符串规范为合法 UTF-8，避免 PostgreSQL invalid byte sequence 错误
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

// truncateRunesDB 按 rune 数截断，确保不会超过数据库字段长度
func truncateRunesDB(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}
