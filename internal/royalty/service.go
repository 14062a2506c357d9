package royalty

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/odyssey-erp/royalty/internal/shared"
)

// Options wires the royalty service collaborators. Repo, Revenue and Branches are
// required; the rest are optional.
type Options struct {
	Repo        RepositoryPort
	Revenue     RevenueFeed
	Branches    BranchDirectory
	Notifier    Notifier
	Audit       AuditPort
	Invalidator ReportInvalidator
	Metrics     *Metrics
	Calculator  PeriodCalculator
	Logger      *slog.Logger
}

// Service runs royalty configuration, billing, sweeping and settlement.
type Service struct {
	repo        RepositoryPort
	revenue     RevenueFeed
	branches    BranchDirectory
	notifier    Notifier
	audit       AuditPort
	invalidator ReportInvalidator
	metrics     *Metrics
	calc        PeriodCalculator
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs the royalty service.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        opts.Repo,
		revenue:     opts.Revenue,
		branches:    opts.Branches,
		notifier:    opts.Notifier,
		audit:       opts.Audit,
		invalidator: opts.Invalidator,
		metrics:     opts.Metrics,
		calc:        opts.Calculator,
		logger:      logger,
		now:         time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Calculator exposes the period calculator used for billing.
func (s *Service) Calculator() PeriodCalculator {
	return s.calc
}

func (s *Service) branchLabel(ctx context.Context, branchID int64) (string, string) {
	if s.branches == nil {
		return "Unknown Branch", "N/A"
	}
	b, err := s.branches.Lookup(ctx, branchID)
	if err != nil {
		return "Unknown Branch", "N/A"
	}
	return b.Name, b.Code
}

func (s *Service) invalidate(ctx context.Context) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx); err != nil {
		s.logger.Warn("invalidate report cache", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actor int64, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("record audit log", slog.String("action", action), slog.Any("error", err))
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}
