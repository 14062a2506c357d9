package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/royalty/internal/app"
	"github.com/odyssey-erp/royalty/internal/platform/cache"
	"github.com/odyssey-erp/royalty/internal/platform/db"
	"github.com/odyssey-erp/royalty/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping royaltyctl")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(openRuntime)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "royaltyctl: %v\n", err)
		os.Exit(1)
	}
}

// openRuntime connects to PostgreSQL, the report cache and the job queue.
func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, err
	}
	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Warn("redis unavailable, cached reports will not be invalidated", slog.Any("error", err))
	}
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	client, err := jobs.NewClient(redisOpts)
	if err != nil {
		pool.Close()
		return nil, err
	}

	services := app.NewServices(app.ServiceDeps{
		Config:     cfg,
		Logger:     logger,
		Pool:       pool,
		Redis:      redisClient,
		Notifier:   client,
		Registerer: prometheus.NewRegistry(),
	})
	return &runtime{
		royalty:  services.Royalty,
		finance:  services.Finance,
		branches: services.Branches,
		queue:    client,
		actor:    cfg.SystemActor,
		loc:      cfg.Location(),
		close: func() {
			_ = client.Close()
			if redisClient != nil {
				_ = redisClient.Close()
			}
			pool.Close()
		},
	}, nil
}
