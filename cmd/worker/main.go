package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/royalty/internal/app"
	jobmetrics "github.com/odyssey-erp/royalty/internal/jobs"
	"github.com/odyssey-erp/royalty/internal/observability"
	"github.com/odyssey-erp/royalty/internal/platform/cache"
	"github.com/odyssey-erp/royalty/internal/platform/db"
	"github.com/odyssey-erp/royalty/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer jobClient.Close()

	metrics := observability.NewMetrics()
	jm := jobmetrics.NewMetrics(metrics.Registerer())
	services := app.NewServices(app.ServiceDeps{
		Config:     cfg,
		Logger:     logger,
		Pool:       pool,
		Redis:      redisClient,
		Notifier:   jobClient,
		Registerer: metrics.Registerer(),
	})

	billing := jobs.NewBillingJob(services.Royalty, cfg.SystemActor, logger, jm)
	verify := jobs.NewLedgerVerifyJob(services.Finance, logger, jm)
	mail := jobs.NewMailJob(services.Royalty, jobs.LogMailer{Logger: logger}, cfg.MailFrom, cfg.Location(), logger, jm)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Location:    cfg.Location(),
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskRoyaltyGenerate, Handler: billing.HandleGenerate},
			{Type: jobs.TaskRoyaltySweep, Handler: billing.HandleSweep},
			{Type: jobs.TaskLedgerVerify, Handler: verify.Handle},
			{Type: jobs.TaskReceiptEmail, Handler: mail.HandleReceipt},
			{Type: jobs.TaskDueNotice, Handler: mail.HandleDueNotice},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.GenerateCron, Task: jobs.NewRoyaltyGenerateTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.SweepCron, Task: jobs.NewRoyaltySweepTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.LedgerVerifyCron, Task: jobs.NewLedgerVerifyTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(redisOpts)
	defer inspector.Close()
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Route("/jobs", jobs.NewHandler(inspector, logger).MountRoutes)
	server := &http.Server{Addr: cfg.WorkerAddr, Handler: r, ReadTimeout: cfg.AppReadTimeout, WriteTimeout: cfg.AppWriteTimeout}
	go func() {
		logger.Info("starting worker metrics server", slog.String("addr", cfg.WorkerAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
