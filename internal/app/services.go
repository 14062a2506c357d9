package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/royalty/internal/finance"
	"github.com/odyssey-erp/royalty/internal/integration"
	"github.com/odyssey-erp/royalty/internal/ledger"
	"github.com/odyssey-erp/royalty/internal/royalty"
	"github.com/odyssey-erp/royalty/internal/shared"
)

// ServiceDeps carries the infrastructure shared by the binaries.
type ServiceDeps struct {
	Config *Config
	Logger *slog.Logger
	Pool   *pgxpool.Pool
	// Redis backs the report cache; nil disables caching.
	Redis *redis.Client
	// Notifier queues receipt and due-notice emails; nil disables them.
	Notifier   royalty.Notifier
	Registerer prometheus.Registerer
}

// Services is the wired domain layer.
type Services struct {
	Ledger      *ledger.Service
	Royalty     *royalty.Service
	Finance     *finance.Service
	Branches    *integration.BranchDirectory
	ReportCache *finance.Cache
	Idempotency *shared.IdempotencyStore
}

// NewServices wires ledger, royalty and finance over PostgreSQL.
func NewServices(deps ServiceDeps) *Services {
	cfg := deps.Config
	if cfg == nil {
		cfg = &Config{}
	}
	reg := deps.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	auditLogger := shared.NewAuditLogger(deps.Pool)
	branches := integration.NewBranchDirectory(deps.Pool)
	var cache *finance.Cache
	if deps.Redis != nil {
		cache = finance.NewCache(deps.Redis, cfg.ReportCacheTTL)
	}

	royaltyRepo := royalty.NewRepository(deps.Pool)
	ledgerService := ledger.NewService(ledger.NewRepository(deps.Pool), auditLogger, cache, deps.Logger)
	royaltyService := royalty.NewService(royalty.Options{
		Repo:        royaltyRepo,
		Revenue:     integration.NewRevenueFeed(deps.Pool),
		Branches:    branches,
		Notifier:    deps.Notifier,
		Audit:       auditLogger,
		Invalidator: cache,
		Metrics:     royalty.NewMetrics(reg),
		Calculator:  royalty.NewPeriodCalculator(cfg.Location(), cfg.BillingMaxBackfill),
		Logger:      deps.Logger,
	})
	financeService := finance.NewService(finance.Options{
		Books:    royaltyRepo,
		Branches: branches,
		Periods:  finance.NewPeriodRepository(deps.Pool),
		Cache:    cache,
		Metrics:  finance.NewMetrics(reg),
		Audit:    auditLogger,
		Logger:   deps.Logger,
	})

	return &Services{
		Ledger:      ledgerService,
		Royalty:     royaltyService,
		Finance:     financeService,
		Branches:    branches,
		ReportCache: cache,
		Idempotency: shared.NewIdempotencyStore(deps.Pool),
	}
}
