package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/LJTian/NewsPulse/internal/collector"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

const defaultFetchIntervalMinutes = 30

// SourceSpec 对应 sources.yaml 中的一项
type SourceSpec struct {
	Name                 string `yaml:"name"`
	Type                 string `yaml:"type"`
	URL                  string `yaml:"url"`
	Category             string `yaml:"category"`
	Country              string `yaml:"country"`
	Language             string `yaml:"language"`
	Active               *bool  `yaml:"active"`
	FetchIntervalMinutes int    `yaml:"fetch_interval_minutes"`
	Selector             string `yaml:"selector"`
}

type sourcesFile struct {
	Sources []SourceSpec `yaml:"sources"`
}

// LoadSourcesFile 读取并解析数据源配置文件
func LoadSourcesFile(path string) ([]SourceSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSources(data)
}

func ParseSources(data []byte) ([]SourceSpec, error) {
	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}
	for i, sp := range f.Sources {
		if strings.TrimSpace(sp.Name) == "" || strings.TrimSpace(sp.URL) == "" {
			return nil, fmt.Errorf("sources[%d]: name and url are required", i)
		}
		if !validKind(sp.Type) {
			return nil, fmt.Errorf("sources[%d]: unsupported type %q", i, sp.Type)
		}
	}
	return f.Sources, nil
}

func validKind(kind string) bool {
	switch kind {
	case "", "rss", collector.KindFeed, collector.KindAPI, collector.KindPage:
		return true
	}
	return false
}

func (sp SourceSpec) toSource() Source {
	kind := sp.Type
	if kind == "" || kind == "rss" {
		kind = collector.KindFeed
	}
	status := StatusActive
	if sp.Active != nil && !*sp.Active {
		status = StatusDisabled
	}
	interval := sp.FetchIntervalMinutes
	if interval <= 0 {
		interval = defaultFetchIntervalMinutes
	}
	country := sp.Country
	if country == "" {
		country = "TH"
	}
	language := sp.Language
	if language == "" {
		language = "th"
	}
	return Source{
		Name:                 strings.TrimSpace(sp.Name),
		Kind:                 kind,
		URL:                  strings.TrimSpace(sp.URL),
		Category:             sp.Category,
		Country:              country,
		Language:             language,
		Selector:             sp.Selector,
		Status:               status,
		FetchIntervalMinutes: interval,
	}
}

// EnsureSource 按 URL 确保数据源存在；已存在时不做修改
func (s *Store) EnsureSource(ctx context.Context, sp SourceSpec) (*Source, bool, error) {
	src := &Source{}
	err := s.DB.WithContext(ctx).Where("url = ?", strings.TrimSpace(sp.URL)).First(src).Error
	if err == nil {
		return src, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	created := sp.toSource()
	if err := s.DB.WithContext(ctx).Create(&created).Error; err != nil {
		return nil, false, err
	}
	return &created, true, nil
}

// EnsureSources 批量写入配置中的数据源，返回新增数量
func (s *Store) EnsureSources(ctx context.Context, specs []SourceSpec) (int, error) {
	added := 0
	for _, sp := range specs {
		src, created, err := s.EnsureSource(ctx, sp)
		if err != nil {
			return added, fmt.Errorf("ensure source %s: %w", sp.Name, err)
		}
		if created {
			added++
			s.logger.Info().Str("source", src.Name).Str("url", src.URL).Msg("added source")
		}
	}
	return added, nil
}

func (s *Store) ListActiveSources(ctx context.Context) ([]Source, error) {
	return s.ListSources(ctx, StatusActive)
}

// ListSources status 为空时返回全部
func (s *Store) ListSources(ctx context.Context, status string) ([]Source, error) {
	db := s.DB.WithContext(ctx).Model(&Source{})
	if status != "" {
		db = db.Where("status = ?", status)
	}
	var list []Source
	err := db.Order("id ASC").Find(&list).Error
	return list, err
}

func (s *Store) GetSource(ctx context.Context, id uint) (*Source, error) {
	var src Source
	if err := s.DB.WithContext(ctx).First(&src, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &src, nil
}

// CreateSource 新增数据源，URL 重复返回 ErrConflict
func (s *Store) CreateSource(ctx context.Context, sp SourceSpec) (*Source, error) {
	if strings.TrimSpace(sp.Name) == "" || strings.TrimSpace(sp.URL) == "" {
		return nil, fmt.Errorf("name and url are required")
	}
	if !validKind(sp.Type) {
		return nil, fmt.Errorf("unsupported type %q", sp.Type)
	}
	src := sp.toSource()
	if err := s.DB.WithContext(ctx).Create(&src).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: %s", ErrConflict, src.URL)
		}
		return nil, err
	}
	return &src, nil
}

func (s *Store) SetSourceStatus(ctx context.Context, id uint, status string) error {
	if status != StatusActive && status != StatusDisabled {
		return fmt.Errorf("invalid status %q", status)
	}
	res := s.DB.WithContext(ctx).Model(&Source{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchSourceFetched 记录最近一次抓取时间，这是采集流程对数据源的唯一写操作
func (s *Store) TouchSourceFetched(ctx context.Context, id uint, at time.Time) error {
	return s.DB.WithContext(ctx).Model(&Source{}).
		Where("id = ?", id).
		Update("last_fetched_at", at.UTC()).Error
}
