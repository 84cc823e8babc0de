package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DateLayout = "2006-01-02"

	trendCacheTTL     = 5 * time.Minute
	defaultTrendLimit = 20
	maxTrendLimit     = 200
)

func trendCacheKey(date string) string {
	return "trends:top:" + date
}

// ReplaceTrends 在一个事务里覆盖写入某天的一批关键词，任一条失败则整体回滚。
// 列表外的旧关键词保留不动
func (s *Store) ReplaceTrends(ctx context.Context, date string, trends []Trend) ([]Trend, error) {
	out := make([]Trend, 0, len(trends))
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, t := range trends {
			saved, err := upsertTrend(tx, date, t.Keyword, t.Frequency, t.ArticleIDs)
			if err != nil {
				return fmt.Errorf("upsert trend %s: %w", t.Keyword, err)
			}
			out = append(out, saved)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 该日期的榜单已变化，直接删除对应缓存 key
	if s.Redis != nil {
		if err := s.Redis.Del(ctx, trendCacheKey(date)).Err(); err != nil {
			s.logger.Warn().Err(err).Str("date", date).Msg("invalidate trend cache")
		}
	}
	return out, nil
}

// upsertTrend 存在则覆盖频次与条目列表，否则新建
func upsertTrend(tx *gorm.DB, date, keyword string, frequency int, articleIDs []uint) (Trend, error) {
	ids := append([]uint{}, articleIDs...)

	var out Trend
	err := tx.Where("trend_date = ? AND keyword = ?", date, keyword).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		out = Trend{
			Date:       date,
			Keyword:    keyword,
			Frequency:  frequency,
			ArticleIDs: datatypes.NewJSONSlice(ids),
		}
		return out, tx.Create(&out).Error
	}
	if err != nil {
		return out, err
	}
	out.Frequency = frequency
	out.ArticleIDs = datatypes.NewJSONSlice(ids)
	return out, tx.Save(&out).Error
}

// TopTrends 按频次倒序返回某日的趋势，使用 Redis 做简单缓存
func (s *Store) TopTrends(ctx context.Context, date string, limit int) ([]Trend, error) {
	if limit <= 0 || limit > maxTrendLimit {
		limit = defaultTrendLimit
	}
	key := trendCacheKey(date)
	field := strconv.Itoa(limit)

	if s.Redis != nil {
		if bs, err := s.Redis.HGet(ctx, key, field).Bytes(); err == nil {
			var cached []Trend
			if err := json.Unmarshal(bs, &cached); err == nil {
				return cached, nil
			}
		}
	}

	var list []Trend
	err := s.DB.WithContext(ctx).
		Where("trend_date = ?", date).
		Order("frequency DESC").Order("id ASC").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, err
	}

	if s.Redis != nil && len(list) > 0 {
		if bs, err := json.Marshal(list); err == nil {
			pipe := s.Redis.TxPipeline()
			pipe.HSet(ctx, key, field, bs)
			pipe.Expire(ctx, key, trendCacheTTL)
			if _, err := pipe.Exec(ctx); err != nil {
				s.logger.Warn().Err(err).Str("date", date).Msg("cache trends")
			}
		}
	}
	return list, nil
}
