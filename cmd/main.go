package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"portfolio-engine/config"
	"portfolio-engine/data"
	"portfolio-engine/data/cache"
	"portfolio-engine/data/repository"
	"portfolio-engine/internal/externalApi/quoteApi"
	"portfolio-engine/internal/fx"
	"portfolio-engine/internal/reportGenerator/xlsxGenerator"
	"portfolio-engine/internal/scheduler"
	"portfolio-engine/internal/service/portfolioService"
	"portfolio-engine/internal/service/priceService"
)

func main() {
	cfg := config.MustLoad()

	setupLogger(cfg)

	slog.Debug("config", slog.Any("cfg", cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgClient := data.NewPostgresClient(cfg)
	defer pgClient.Close()

	pgRepo := repository.NewPostgres(cfg, pgClient)

	redisClient := data.NewRedisClient(cfg)
	defer redisClient.Close()

	redisCache := cache.NewRedisCache(redisClient, cfg)

	quoteApiClient := quoteApi.New(cfg)

	normalizer := fx.New(cfg.FX.BaseCurrency, cfg.FX.Rates)

	reportGenerator := xlsxGenerator.New()

	priceSrv := priceService.New(cfg, pgRepo, redisCache, quoteApiClient)

	portfolioSrv := portfolioService.New(cfg, pgRepo, priceSrv, normalizer, reportGenerator)

	go portfolioSrv.RunReconciler(ctx)

	sched := scheduler.New()
	sched.NewCrontabJob("daily snapshot", func(ctx context.Context) error {
		_, _, err := portfolioSrv.RecordDailySnapshot(ctx)
		return err
	}, cfg.Jobs.DailySnapshotCrontab, false)
	sched.NewIntervalJob("snapshot backfill", portfolioSrv.Backfill, cfg.Jobs.BackfillInterval, true)
	sched.Start()
	defer sched.Stop()

	// Waiting interruption signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-interrupt
}

func setupLogger(cfg *config.Config) {
	var logLevel slog.Level

	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(log)
}
