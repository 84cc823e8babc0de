package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/LJTian/NewsPulse/internal/collector"
	"github.com/LJTian/NewsPulse/internal/config"
	"github.com/LJTian/NewsPulse/internal/logging"
	"github.com/LJTian/NewsPulse/internal/notify"
	"github.com/LJTian/NewsPulse/internal/pipeline"
	"github.com/LJTian/NewsPulse/internal/processor"
	"github.com/LJTian/NewsPulse/internal/storage"
	"github.com/LJTian/NewsPulse/internal/trends"
	"github.com/jessevdk/go-flags"
)

type options struct {
	Trends  bool   `long:"trends" description:"Extract today's trends after collecting"`
	Sources string `long:"sources" description:"Sources file, overrides SOURCES_FILE"`
}

// 一个仅执行一次采集任务的命令行入口：适合手动触发采集
func main() {
	var opts options
	if _, err := flags.NewParser(&opts, flags.Default).Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "newspulse collect: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.Sources != "" {
		cfg.SourcesFile = opts.Sources
	}
	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		return err
	}

	store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr, logger)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 与 cmd/api 保持一致，先确保配置中的数据源存在
	specs, err := storage.LoadSourcesFile(cfg.SourcesFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Warn().Str("file", cfg.SourcesFile).Msg("sources file not found, using stored sources")
	case err != nil:
		return fmt.Errorf("load sources: %w", err)
	default:
		if _, err := store.EnsureSources(ctx, specs); err != nil {
			return err
		}
	}

	webhook := notify.NewWebhook(notify.Options{
		Enabled: cfg.WebhookEnabled,
		URL:     cfg.WebhookURL,
		Secret:  cfg.WebhookSecret,
	}, logger)
	fetcher := collector.NewClient(collector.Options{
		UserAgent:     cfg.UserAgent,
		Timeout:       cfg.FetchTimeout,
		RespectRobots: cfg.RespectRobots,
	}, logger)
	normalizer := processor.NewNormalizer(processor.Options{
		SummaryMaxLength: cfg.SummaryMaxLength,
		MaxKeywords:      cfg.MaxKeywords,
	}, logger)

	pipe := pipeline.New(store, fetcher, normalizer, webhook, pipeline.Options{
		DedupWindow: cfg.DedupWindow(),
	}, logger)
	res := pipe.RunAll(ctx)
	for _, sr := range res.Sources {
		fmt.Printf("%-30s new=%-4d dup=%-4d failed=%-3d %s\n", sr.Name, sr.New, sr.Duplicates, sr.Failed, sr.Status)
	}
	fmt.Printf("total new: %d\n", res.TotalNew)

	if opts.Trends {
		extractor := trends.NewExtractor(store, webhook, trends.Options{
			MinFrequency: cfg.TrendMinFrequency,
			Location:     cfg.Location(),
		}, logger)
		list := extractor.RefreshToday(ctx)
		fmt.Printf("trends extracted: %d\n", len(list))
	}
	return nil
}
