package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/venuedesk/venuedesk/internal/app"
	"github.com/venuedesk/venuedesk/internal/auth"
	"github.com/venuedesk/venuedesk/internal/dashboard"
	jobmetrics "github.com/venuedesk/venuedesk/internal/jobs"
	"github.com/venuedesk/venuedesk/internal/platform/cache"
	"github.com/venuedesk/venuedesk/internal/platform/db"
	"github.com/venuedesk/venuedesk/internal/rbac"
	"github.com/venuedesk/venuedesk/internal/receipts"
	"github.com/venuedesk/venuedesk/internal/shared"
	"github.com/venuedesk/venuedesk/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	// Purges go through Redis so web processes on either cache backend see them.
	dashboardService := dashboard.NewService(
		dashboard.NewRepository(pool),
		auth.NewService(auth.NewRepository(pool)),
		rbac.NewService(rbac.NewPGStore(pool)),
		cache.NewRedisTagCache(redisClient),
		logger,
	)

	receiptsRepo := receipts.NewRepository(pool)
	receiptsService := receipts.NewService(receiptsRepo, receipts.Options{
		Invalidator: dashboardService,
		Audit:       shared.NewAuditLogger(pool),
		ChunkSize:   cfg.ReceiptsRetroChunk,
		Logger:      logger,
	})

	redisOpts, err := jobs.RedisOpt(cfg.RedisAddr)
	if err != nil {
		logger.Error("redis options", slog.Any("error", err))
		os.Exit(1)
	}
	client := asynq.NewClient(redisOpts)
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	backfillJob := jobs.NewRuleBackfillJob(receiptsService, client, logger, metrics)
	invalidateJob := &jobs.DashboardInvalidateJob{Invalidator: dashboardService, Logger: logger, Metrics: metrics}

	var cron []jobs.CronRegistration
	if cfg.DashboardPurgeCron != "" {
		cron = append(cron, jobs.CronRegistration{
			Spec:    cfg.DashboardPurgeCron,
			Task:    jobs.NewDashboardInvalidateTask(),
			Options: []asynq.Option{asynq.MaxRetry(3)},
		})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskRuleBackfill, Handler: backfillJob.Handle},
			{Type: jobs.TaskDashboardInvalidate, Handler: invalidateJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
