package royalty

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/odyssey-erp/royalty/internal/shared"
)

const defaultReceiptLimit = 100

// GetPayment returns a payment by id.
func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (PaymentView, error) {
	var payment Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		payment, err = tx.GetPayment(ctx, id)
		return err
	})
	if err != nil {
		return PaymentView{}, err
	}
	name, code := s.branchLabel(ctx, payment.BranchID)
	return PaymentView{Payment: payment, BranchName: name, BranchCode: code}, nil
}

// ListPayments returns payments matching filter, newest period first.
func (s *Service) ListPayments(ctx context.Context, filter PaymentFilter) ([]PaymentView, error) {
	var payments []Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		payments, err = tx.ListPayments(ctx, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.decorate(ctx, payments), nil
}

// PendingPayments returns due and overdue payments ordered by due date.
func (s *Service) PendingPayments(ctx context.Context, branchID int64) ([]PaymentView, error) {
	views, err := s.ListPayments(ctx, PaymentFilter{BranchID: branchID, Statuses: []PaymentStatus{StatusDue, StatusOverdue}})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(views, func(i, j int) bool { return views[i].DueDate.Before(views[j].DueDate) })
	return views, nil
}

func (s *Service) decorate(ctx context.Context, payments []Payment) []PaymentView {
	type label struct{ name, code string }
	labels := make(map[int64]label)
	views := make([]PaymentView, 0, len(payments))
	for _, p := range payments {
		l, ok := labels[p.BranchID]
		if !ok {
			l.name, l.code = s.branchLabel(ctx, p.BranchID)
			labels[p.BranchID] = l
		}
		views = append(views, PaymentView{Payment: p, BranchName: l.name, BranchCode: l.code})
	}
	return views
}

// GetReceipt returns a receipt by id.
func (s *Service) GetReceipt(ctx context.Context, id uuid.UUID) (Receipt, error) {
	var receipt Receipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		receipt, err = tx.GetReceipt(ctx, id)
		return err
	})
	return receipt, err
}

// ListReceipts returns the most recent receipts, optionally for one branch.
func (s *Service) ListReceipts(ctx context.Context, branchID int64, limit int) ([]Receipt, error) {
	if limit <= 0 {
		limit = defaultReceiptLimit
	}
	var receipts []Receipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		receipts, err = tx.ListReceipts(ctx, branchID, limit)
		return err
	})
	return receipts, err
}

// SendDueNotice queues a reminder to the branch admin for an open payment.
func (s *Service) SendDueNotice(ctx context.Context, paymentID uuid.UUID, actor int64) error {
	if actor <= 0 {
		return shared.ErrUnauthorized
	}
	if s.notifier == nil || s.branches == nil {
		return shared.ErrExternalDependency
	}
	view, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if err := view.checkOpen(); err != nil {
		return err
	}
	branch, err := s.branches.Lookup(ctx, view.BranchID)
	if err != nil {
		if isNotFound(err) {
			return ErrBranchNotFound
		}
		return err
	}
	if branch.AdminEmail == "" {
		return shared.Validationf("branch %s has no admin email", branch.Code)
	}
	if err := s.notifier.SendDueNotice(ctx, branch.AdminEmail, paymentID); err != nil {
		return err
	}
	s.record(ctx, actor, "royalty.payment.due_notice", "royalty_payment", paymentID.String(), map[string]any{"branch_id": view.BranchID})
	s.logger.Info("royalty due notice queued", slog.String("payment_id", paymentID.String()), slog.Int64("branch_id", view.BranchID))
	return nil
}
