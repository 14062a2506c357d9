package royalty

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// SweepResult reports an overdue sweep.
type SweepResult struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// UpdateOverduePayments moves due payments past their grace period to overdue and
// accrues the late fee. Every payment is re-read under lock in its own transaction,
// so a concurrent settlement wins and re-running the sweep changes nothing.
func (s *Service) UpdateOverduePayments(ctx context.Context) (SweepResult, error) {
	now := s.now()
	var candidates []uuid.UUID
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		candidates, err = tx.ListOverdueCandidates(ctx, now)
		return err
	})
	if err != nil {
		return SweepResult{}, err
	}

	result := SweepResult{Checked: len(candidates)}
	for _, id := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		updated, err := s.sweepOne(ctx, id)
		if err != nil {
			result.Failed++
			s.logger.Error("sweep royalty payment", slog.String("payment_id", id.String()), slog.Any("error", err))
			continue
		}
		if updated {
			result.Updated++
		}
	}
	s.metrics.transition(StatusOverdue, result.Updated)
	if result.Updated > 0 {
		s.invalidate(ctx)
	}
	s.logger.Info("overdue sweep finished",
		slog.Int("checked", result.Checked),
		slog.Int("updated", result.Updated),
		slog.Int("failed", result.Failed))
	return result, nil
}

func (s *Service) sweepOne(ctx context.Context, id uuid.UUID) (bool, error) {
	now := s.now()
	updated := false
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPaymentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusDue || !now.After(p.GracePeriodEnd) {
			return nil
		}
		p.markOverdue(now)
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		updated = true
		return nil
	})
	return updated, err
}
