package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LJTian/NewsPulse/internal/api"
	"github.com/LJTian/NewsPulse/internal/collector"
	"github.com/LJTian/NewsPulse/internal/config"
	"github.com/LJTian/NewsPulse/internal/logging"
	"github.com/LJTian/NewsPulse/internal/notify"
	"github.com/LJTian/NewsPulse/internal/pipeline"
	"github.com/LJTian/NewsPulse/internal/processor"
	"github.com/LJTian/NewsPulse/internal/scheduler"
	"github.com/LJTian/NewsPulse/internal/storage"
	"github.com/LJTian/NewsPulse/internal/trends"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "newspulse api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
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

	ensureSources(ctx, store, cfg.SourcesFile, logger)

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
	extractor := trends.NewExtractor(store, webhook, trends.Options{
		MinFrequency: cfg.TrendMinFrequency,
		Location:     cfg.Location(),
	}, logger)

	sched := scheduler.New(scheduler.Options{Location: cfg.Location()}, logger)
	if cfg.SchedulerEnabled {
		if err := sched.Register(scheduler.Job{
			Name:       "fetch_articles",
			Spec:       cfg.FetchCron,
			RunOnStart: true,
			Run:        func(ctx context.Context) { pipe.RunAll(ctx) },
		}); err != nil {
			return err
		}
		if err := sched.Register(scheduler.Job{
			Name: "extract_trends",
			Spec: cfg.TrendsCron,
			Run:  func(ctx context.Context) { extractor.RefreshToday(ctx) },
		}); err != nil {
			return err
		}
		sched.Start()
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(api.RequestLogger(logger), gin.Recovery())
	// 若配置了全局访问密码，则启用 Basic Auth 保护（/health 仍然免认证）
	if cfg.BasicAuthUser != "" && cfg.BasicAuthPass != "" {
		r.Use(api.BasicAuth(cfg.BasicAuthUser, cfg.BasicAuthPass))
	}
	api.NewServer(store, pipe, extractor, logger).RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("starting api server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server exit: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	// 等待正在执行的采集完成当前数据源
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("scheduler stop")
	}
	return nil
}

// ensureSources 确保配置文件中的数据源存在，文件缺失时只记录日志
func ensureSources(ctx context.Context, store *storage.Store, path string, logger zerolog.Logger) {
	specs, err := storage.LoadSourcesFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn().Str("file", path).Msg("sources file not found, skipping")
		return
	}
	if err != nil {
		logger.Error().Err(err).Str("file", path).Msg("load sources file")
		return
	}
	added, err := store.EnsureSources(ctx, specs)
	if err != nil {
		logger.Error().Err(err).Msg("ensure sources")
		return
	}
	logger.Info().Int("configured", len(specs)).Int("added", added).Msg("sources ready")
}
