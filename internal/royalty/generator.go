package royalty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/royalty/internal/shared"
)

// BranchResult reports what generation did for one branch.
type BranchResult struct {
	BranchID   int64     `json:"branch_id"`
	BranchName string    `json:"branch_name,omitempty"`
	Payments   []Payment `json:"payments,omitempty"`
	Skipped    int       `json:"skipped"`
	Error      string    `json:"error,omitempty"`
}

// GenerateResult summarises a generation run across branches.
type GenerateResult struct {
	Total   int            `json:"total"`
	Created int            `json:"created"`
	Skipped int            `json:"skipped"`
	Failed  int            `json:"failed"`
	Results []BranchResult `json:"results"`
}

// PeriodOverride bills an explicit window instead of the calculated ones.
type PeriodOverride struct {
	Start time.Time
	End   time.Time
	Label string
}

// GenerateAll bills every elapsed, unbilled period of every active config. Each branch
// runs in its own transaction; a failing branch is reported and the run continues.
func (s *Service) GenerateAll(ctx context.Context, actor int64) (GenerateResult, error) {
	if actor <= 0 {
		return GenerateResult{}, shared.ErrUnauthorized
	}
	var configs []Config
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		configs, err = tx.ListConfigs(ctx, true)
		return err
	})
	if err != nil {
		return GenerateResult{}, err
	}

	result := GenerateResult{Total: len(configs), Results: make([]BranchResult, 0, len(configs))}
	for _, cfg := range configs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		br, err := s.generateBranch(ctx, cfg.BranchID, actor, nil)
		br.BranchName, _ = s.branchLabel(ctx, cfg.BranchID)
		if err != nil {
			br.Error = err.Error()
			result.Failed++
			s.logger.Error("generate royalty payments", slog.Int64("branch_id", cfg.BranchID), slog.Any("error", err))
		}
		result.Created += len(br.Payments)
		result.Skipped += br.Skipped
		result.Results = append(result.Results, br)
	}
	s.metrics.transition(StatusDue, result.Created)
	if result.Created > 0 {
		s.invalidate(ctx)
	}
	s.logger.Info("royalty generation finished",
		slog.Int("configs", result.Total),
		slog.Int("created", result.Created),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed))
	return result, nil
}

// GenerateForBranch bills one branch: either its elapsed periods or, with override,
// exactly that window. An override that is already billed fails with ErrPeriodAlreadyBilled.
func (s *Service) GenerateForBranch(ctx context.Context, branchID int64, actor int64, override *PeriodOverride) (BranchResult, error) {
	if actor <= 0 {
		return BranchResult{}, shared.ErrUnauthorized
	}
	if override != nil && !override.Start.Before(override.End) {
		return BranchResult{}, shared.Validationf("period start must be before period end")
	}
	br, err := s.generateBranch(ctx, branchID, actor, override)
	if err != nil {
		return BranchResult{}, err
	}
	br.BranchName, _ = s.branchLabel(ctx, branchID)
	s.metrics.transition(StatusDue, len(br.Payments))
	if len(br.Payments) > 0 {
		s.invalidate(ctx)
	}
	return br, nil
}

func (s *Service) generateBranch(ctx context.Context, branchID int64, actor int64, override *PeriodOverride) (BranchResult, error) {
	now := s.now()
	br := BranchResult{BranchID: branchID}
	var created []Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created = created[:0]
		skipped := 0
		cfg, err := tx.GetConfigByBranchForUpdate(ctx, branchID)
		if err != nil {
			return err
		}
		if !cfg.IsActive {
			return ErrConfigInactive
		}
		var periods []BillingPeriod
		if override != nil {
			periods = []BillingPeriod{s.calc.Override(cfg.BillingCycle, override.Start, override.End, override.Label)}
		} else {
			billedThrough, err := tx.LatestPeriodEnd(ctx, branchID)
			if err != nil {
				return err
			}
			periods = s.calc.Elapsed(cfg, billedThrough, now)
		}
		for _, period := range periods {
			exists, err := tx.PaymentExists(ctx, branchID, period.Start, period.End)
			if err != nil {
				return err
			}
			if exists {
				if override != nil {
					return ErrPeriodAlreadyBilled
				}
				skipped++
				continue
			}
			gross := decimal.Zero
			if cfg.RoyaltyType == RoyaltyPercentage {
				gross, err = s.grossRevenue(ctx, branchID, period)
				if err != nil {
					return err
				}
			}
			payment := newPayment(cfg, period, gross, actor, now)
			if err := tx.InsertPayment(ctx, payment); err != nil {
				if errors.Is(err, ErrPeriodAlreadyBilled) && override == nil {
					skipped++
					continue
				}
				return err
			}
			created = append(created, payment)
		}
		br.Skipped = skipped
		return nil
	})
	if err != nil {
		return BranchResult{BranchID: branchID}, err
	}
	br.Payments = append([]Payment(nil), created...)
	return br, nil
}

func (s *Service) grossRevenue(ctx context.Context, branchID int64, period BillingPeriod) (decimal.Decimal, error) {
	if s.revenue == nil {
		return decimal.Zero, fmt.Errorf("%w: no revenue feed configured", ErrRevenueUnavailable)
	}
	gross, err := s.revenue.GrossRevenue(ctx, branchID, period.Start, period.End)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: branch %d %s: %v", ErrRevenueUnavailable, branchID, period.Label, err)
	}
	if gross.IsNegative() {
		gross = decimal.Zero
	}
	return gross, nil
}

// RoyaltyAmount computes the royalty for a period: rate percent of gross for
// percentage configs (rounded to cents), the flat rate otherwise.
func RoyaltyAmount(royaltyType RoyaltyType, rate, gross decimal.Decimal) decimal.Decimal {
	if royaltyType == RoyaltyFixed {
		return rate.Round(2)
	}
	return gross.Mul(rate).Div(hundred).Round(2)
}

func newPayment(cfg Config, period BillingPeriod, gross decimal.Decimal, actor int64, now time.Time) Payment {
	amount := RoyaltyAmount(cfg.RoyaltyType, cfg.Rate, gross)
	if cfg.RoyaltyType == RoyaltyFixed && period.Partial {
		amount = cfg.Rate.Mul(period.Share()).Round(2)
	}
	return Payment{
		ID:             uuid.New(),
		BranchID:       cfg.BranchID,
		ConfigID:       cfg.ID,
		PeriodLabel:    period.Label,
		PeriodStart:    period.Start,
		PeriodEnd:      period.End,
		GrossRevenue:   gross.Round(2),
		RoyaltyType:    cfg.RoyaltyType,
		Rate:           cfg.Rate,
		Amount:         amount,
		LateFee:        decimal.Zero,
		LateFeeRate:    cfg.LateFeeRate,
		TotalDue:       amount,
		DueDate:        period.DueDate,
		GracePeriodEnd: period.DueDate.AddDate(0, 0, cfg.GracePeriodDays),
		Status:         StatusDue,
		Destination:    cfg.Destination,
		CreatedBy:      actor,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
