package finance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/royalty/internal/shared"
)

const defaultPeriodLimit = 100

// CreatePeriod opens a new accounting period after checking it overlaps no other.
func (s *Service) CreatePeriod(ctx context.Context, in CreatePeriodInput) (AccountingPeriod, error) {
	if in.Actor <= 0 {
		return AccountingPeriod{}, shared.ErrUnauthorized
	}
	if err := shared.ValidateStruct(in); err != nil {
		return AccountingPeriod{}, err
	}
	if err := checkRange(in.StartDate, in.EndDate); err != nil {
		return AccountingPeriod{}, err
	}
	now := s.now()
	period := AccountingPeriod{
		ID:         uuid.New(),
		Name:       strings.TrimSpace(in.Name),
		PeriodType: in.PeriodType,
		StartDate:  in.StartDate,
		EndDate:    in.EndDate,
		Status:     PeriodOpen,
		Notes:      in.Notes,
		CreatedBy:  in.Actor,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := s.periods.WithTx(ctx, func(ctx context.Context, tx PeriodRepo) error {
		existing, err := tx.FindOverlapping(ctx, in.StartDate, in.EndDate)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w (%s)", ErrPeriodOverlap, existing.Name)
		}
		return tx.InsertPeriod(ctx, period)
	})
	if err != nil {
		return AccountingPeriod{}, err
	}
	s.record(ctx, in.Actor, "finance.period.created", period.ID.String(), map[string]any{
		"name":  period.Name,
		"start": period.StartDate,
		"end":   period.EndDate,
	})
	return period, nil
}

// ClosePeriod freezes the period's P&L and balance sheet into a snapshot. Books that
// fail the balance sheet identity cannot be closed.
func (s *Service) ClosePeriod(ctx context.Context, in ClosePeriodInput) (AccountingPeriod, error) {
	if in.Actor <= 0 {
		return AccountingPeriod{}, shared.ErrUnauthorized
	}
	if err := shared.ValidateStruct(in); err != nil {
		return AccountingPeriod{}, err
	}
	current, err := s.GetPeriod(ctx, in.PeriodID)
	if err != nil {
		return AccountingPeriod{}, err
	}
	if current.Status == PeriodClosed {
		return AccountingPeriod{}, ErrPeriodClosed
	}

	pl, err := s.buildPL(ctx, current.StartDate, current.EndDate)
	if err != nil {
		return AccountingPeriod{}, err
	}
	bs, err := s.BalanceSheet(ctx)
	if err != nil {
		return AccountingPeriod{}, err
	}
	if !bs.IsBalanced {
		return AccountingPeriod{}, fmt.Errorf("%w: difference %s", ErrPeriodUnbalanced, bs.Difference.StringFixed(2))
	}

	var closed AccountingPeriod
	err = s.periods.WithTx(ctx, func(ctx context.Context, tx PeriodRepo) error {
		p, err := tx.GetPeriodForUpdate(ctx, in.PeriodID)
		if err != nil {
			return err
		}
		if p.Status == PeriodClosed {
			return ErrPeriodClosed
		}
		now := s.now()
		actor := in.Actor
		p.Status = PeriodClosed
		p.Snapshot = &PeriodSnapshot{PL: pl, Balance: bs, IsBalanced: bs.IsBalanced}
		p.ClosedBy = &actor
		p.ClosedAt = &now
		if strings.TrimSpace(in.Notes) != "" {
			p.Notes = in.Notes
		}
		p.UpdatedAt = now
		closed = p
		return tx.UpdatePeriod(ctx, p)
	})
	if err != nil {
		return AccountingPeriod{}, err
	}
	s.record(ctx, in.Actor, "finance.period.closed", closed.ID.String(), map[string]any{
		"net_income":   pl.NetIncome.String(),
		"total_assets": bs.TotalAssets.String(),
	})
	s.logger.Info("accounting period closed", slog.String("period", closed.Name), slog.Int64("actor", in.Actor))
	return closed, nil
}

// ReopenPeriod returns a closed period to open, keeping the reason on record. The last
// snapshot stays attached until the period is closed again.
func (s *Service) ReopenPeriod(ctx context.Context, in ReopenPeriodInput) (AccountingPeriod, error) {
	if in.Actor <= 0 {
		return AccountingPeriod{}, shared.ErrUnauthorized
	}
	if err := shared.ValidateStruct(in); err != nil {
		return AccountingPeriod{}, err
	}
	var reopened AccountingPeriod
	err := s.periods.WithTx(ctx, func(ctx context.Context, tx PeriodRepo) error {
		p, err := tx.GetPeriodForUpdate(ctx, in.PeriodID)
		if err != nil {
			return err
		}
		if p.Status != PeriodClosed {
			return ErrPeriodNotClosed
		}
		now := s.now()
		actor := in.Actor
		p.Status = PeriodOpen
		p.ReopenedBy = &actor
		p.ReopenedAt = &now
		p.ReopenReason = strings.TrimSpace(in.Reason)
		p.UpdatedAt = now
		reopened = p
		return tx.UpdatePeriod(ctx, p)
	})
	if err != nil {
		return AccountingPeriod{}, err
	}
	s.record(ctx, in.Actor, "finance.period.reopened", reopened.ID.String(), map[string]any{"reason": reopened.ReopenReason})
	return reopened, nil
}

// DeletePeriod removes an open period.
func (s *Service) DeletePeriod(ctx context.Context, id uuid.UUID, actor int64) error {
	if actor <= 0 {
		return shared.ErrUnauthorized
	}
	err := s.periods.WithTx(ctx, func(ctx context.Context, tx PeriodRepo) error {
		p, err := tx.GetPeriodForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status == PeriodClosed {
			return ErrPeriodClosed
		}
		return tx.DeletePeriod(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actor, "finance.period.deleted", id.String(), nil)
	return nil
}

// GetPeriod loads one accounting period.
func (s *Service) GetPeriod(ctx context.Context, id uuid.UUID) (AccountingPeriod, error) {
	var p AccountingPeriod
	err := s.periods.WithTx(ctx, func(ctx context.Context, tx PeriodRepo) error {
		var err error
		p, err = tx.GetPeriod(ctx, id)
		return err
	})
	return p, err
}

// ListPeriods returns periods newest first, optionally filtered by status.
func (s *Service) ListPeriods(ctx context.Context, status PeriodStatus, limit int) ([]AccountingPeriod, error) {
	if status != "" && status != PeriodOpen && status != PeriodClosed {
		return nil, shared.Validationf("unknown period status %q", status)
	}
	if limit <= 0 {
		limit = defaultPeriodLimit
	}
	var out []AccountingPeriod
	err := s.periods.WithTx(ctx, func(ctx context.Context, tx PeriodRepo) error {
		var err error
		out, err = tx.ListPeriods(ctx, status, limit)
		return err
	})
	return out, err
}

// CurrentPeriod returns the open period covering at, or ErrPeriodNotFound.
func (s *Service) CurrentPeriod(ctx context.Context, at time.Time) (AccountingPeriod, error) {
	var found *AccountingPeriod
	err := s.periods.WithTx(ctx, func(ctx context.Context, tx PeriodRepo) error {
		var err error
		found, err = tx.FindOverlapping(ctx, at, at)
		return err
	})
	if err != nil {
		return AccountingPeriod{}, err
	}
	if found == nil || found.Status != PeriodOpen {
		return AccountingPeriod{}, ErrPeriodNotFound
	}
	return *found, nil
}

// ComparePeriods reports how the second closed period moved against the first, read
// from their frozen snapshots.
func (s *Service) ComparePeriods(ctx context.Context, firstID, secondID uuid.UUID) (PeriodComparison, error) {
	first, err := s.closedSnapshot(ctx, firstID)
	if err != nil {
		return PeriodComparison{}, err
	}
	second, err := s.closedSnapshot(ctx, secondID)
	if err != nil {
		return PeriodComparison{}, err
	}
	a, b := first.Snapshot, second.Snapshot
	return PeriodComparison{
		First:            refOf(first),
		Second:           refOf(second),
		Revenue:          compare(a.PL.TotalRevenue, b.PL.TotalRevenue),
		Expenses:         compare(a.PL.TotalExpenses, b.PL.TotalExpenses),
		NetIncome:        compare(a.PL.NetIncome, b.PL.NetIncome),
		CurrentAssets:    compare(a.Balance.CurrentAssets, b.Balance.CurrentAssets),
		TotalAssets:      compare(a.Balance.TotalAssets, b.Balance.TotalAssets),
		TotalLiabilities: compare(a.Balance.TotalLiabilities, b.Balance.TotalLiabilities),
		TotalEquity:      compare(a.Balance.TotalEquity, b.Balance.TotalEquity),
	}, nil
}

func (s *Service) closedSnapshot(ctx context.Context, id uuid.UUID) (AccountingPeriod, error) {
	p, err := s.GetPeriod(ctx, id)
	if err != nil {
		return AccountingPeriod{}, err
	}
	if p.Status != PeriodClosed || p.Snapshot == nil {
		return AccountingPeriod{}, fmt.Errorf("%w: %s", ErrPeriodNotComparable, p.Name)
	}
	return p, nil
}

func refOf(p AccountingPeriod) PeriodRef {
	return PeriodRef{ID: p.ID, Name: p.Name, StartDate: p.StartDate, EndDate: p.EndDate}
}

func compare(first, second decimal.Decimal) Change {
	c := Change{First: first, Second: second, Change: second.Sub(first)}
	if !first.IsZero() {
		pct := c.Change.Div(first.Abs()).Mul(hundred).Round(2)
		c.ChangePercent = &pct
	}
	return c
}
