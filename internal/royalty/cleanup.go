package royalty

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/royalty/internal/shared"
)

// CleanupResult reports removed orphan data.
type CleanupResult struct {
	DeletedConfigs  int     `json:"deleted_configs"`
	DeletedPayments int     `json:"deleted_payments"`
	Branches        []int64 `json:"branches"`
}

// CleanOrphanedData removes configs and payments whose branch no longer exists in the
// directory. Receipts and ledger postings are kept so the books stay intact. Any
// directory failure aborts before anything is deleted.
func (s *Service) CleanOrphanedData(ctx context.Context, actor int64) (CleanupResult, error) {
	if actor <= 0 {
		return CleanupResult{}, shared.ErrUnauthorized
	}
	if s.branches == nil {
		return CleanupResult{}, fmt.Errorf("%w: branch directory not configured", shared.ErrExternalDependency)
	}
	var referenced []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		referenced, err = tx.ListReferencedBranchIDs(ctx)
		return err
	})
	if err != nil {
		return CleanupResult{}, err
	}

	var orphans []int64
	for _, id := range referenced {
		exists, err := s.branches.Exists(ctx, id)
		if err != nil {
			return CleanupResult{}, fmt.Errorf("%w: branch directory: %v", shared.ErrExternalDependency, err)
		}
		if !exists {
			orphans = append(orphans, id)
		}
	}
	result := CleanupResult{Branches: []int64{}}
	if len(orphans) == 0 {
		return result, nil
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = CleanupResult{Branches: []int64{}}
		for _, id := range orphans {
			payments, err := tx.DeletePaymentsByBranch(ctx, id)
			if err != nil {
				return err
			}
			configs, err := tx.DeleteConfigsByBranch(ctx, id)
			if err != nil {
				return err
			}
			result.DeletedPayments += payments
			result.DeletedConfigs += configs
			result.Branches = append(result.Branches, id)
		}
		return nil
	})
	if err != nil {
		return CleanupResult{}, err
	}
	s.record(ctx, actor, "royalty.cleanup", "royalty_branch", fmt.Sprint(result.Branches), map[string]any{
		"deleted_configs":  result.DeletedConfigs,
		"deleted_payments": result.DeletedPayments,
	})
	s.invalidate(ctx)
	s.logger.Info("orphaned royalty data removed",
		slog.Int("branches", len(result.Branches)),
		slog.Int("configs", result.DeletedConfigs),
		slog.Int("payments", result.DeletedPayments))
	return result, nil
}
