package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
)

type Config struct {
	AppPort  string `envconfig:"APP_PORT" default:"9000"`
	AppEnv   string `envconfig:"APP_ENV" default:"local"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	PostgresDSN string `envconfig:"POSTGRES_DSN" default:"host=localhost user=newspulse password=newspulse dbname=newspulse port=5432 sslmode=disable TimeZone=UTC"`
	RedisAddr   string `envconfig:"REDIS_ADDR" default:"localhost:6379"`

	SourcesFile string `envconfig:"SOURCES_FILE" default:"sources.yaml"`

	UserAgent     string        `envconfig:"SCRAPER_USER_AGENT" default:"NewsPulseBot/1.0 (+https://github.com/LJTian/NewsPulse)"`
	FetchTimeout  time.Duration `envconfig:"SCRAPER_TIMEOUT" default:"30s"`
	RespectRobots bool          `envconfig:"SCRAPER_RESPECT_ROBOTS" default:"true"`

	DedupWindowDays   int `envconfig:"DEDUP_WINDOW_DAYS" default:"7"`
	TrendMinFrequency int `envconfig:"TREND_MIN_FREQUENCY" default:"2"`
	MaxKeywords       int `envconfig:"MAX_KEYWORDS" default:"10"`
	SummaryMaxLength  int `envconfig:"SUMMARY_MAX_LENGTH" default:"500"`

	SchedulerEnabled bool   `envconfig:"SCHEDULER_ENABLED" default:"true"`
	FetchCron        string `envconfig:"FETCH_CRON" default:"*/30 * * * *"`
	TrendsCron       string `envconfig:"TRENDS_CRON" default:"0 23 * * *"`
	Timezone         string `envconfig:"TIMEZONE" default:"Asia/Bangkok"`

	WebhookEnabled bool   `envconfig:"WEBHOOK_ENABLED" default:"false"`
	WebhookURL     string `envconfig:"WEBHOOK_URL"`
	WebhookSecret  string `envconfig:"WEBHOOK_SECRET"`

	// 简单 Basic Auth，留空则不开启
	BasicAuthUser string `envconfig:"APP_BASIC_USER"`
	BasicAuthPass string `envconfig:"APP_BASIC_PASS"`
}

// Load 先尝试读取 .env（不存在则忽略），再从环境变量解析配置
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// loadDotEnv 不覆盖已存在的环境变量
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.AppPort) == "" {
		return fmt.Errorf("APP_PORT is required")
	}
	if strings.TrimSpace(c.PostgresDSN) == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("SCRAPER_TIMEOUT must be > 0")
	}
	if c.DedupWindowDays < 1 {
		return fmt.Errorf("DEDUP_WINDOW_DAYS must be >= 1")
	}
	if c.TrendMinFrequency < 1 {
		return fmt.Errorf("TREND_MIN_FREQUENCY must be >= 1")
	}
	if c.MaxKeywords < 1 {
		return fmt.Errorf("MAX_KEYWORDS must be >= 1")
	}
	if c.SummaryMaxLength < 1 {
		return fmt.Errorf("SUMMARY_MAX_LENGTH must be >= 1")
	}
	if _, err := cron.ParseStandard(c.FetchCron); err != nil {
		return fmt.Errorf("FETCH_CRON %q: %w", c.FetchCron, err)
	}
	if _, err := cron.ParseStandard(c.TrendsCron); err != nil {
		return fmt.Errorf("TRENDS_CRON %q: %w", c.TrendsCron, err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	if c.WebhookEnabled && strings.TrimSpace(c.WebhookURL) == "" {
		return fmt.Errorf("WEBHOOK_URL is required when WEBHOOK_ENABLED=true")
	}
	if (c.BasicAuthUser == "") != (c.BasicAuthPass == "") {
		return fmt.Errorf("APP_BASIC_USER and APP_BASIC_PASS must be set together")
	}
	return nil
}

// Location 已在 Validate 中校验过，这里失败时退回 UTC
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DedupWindow 去重回溯窗口
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowDays) * 24 * time.Hour
}
