package royalty

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/royalty/internal/ledger"
	"github.com/odyssey-erp/royalty/internal/shared"
)

const notifyTimeout = 5 * time.Second

// SettleInput records a royalty payment received from a branch.
type SettleInput struct {
	PaymentID        uuid.UUID `validate:"required"`
	PaidAmount       decimal.Decimal
	PaymentMethod    string `validate:"required,max=64"`
	PaymentReference string `validate:"max=128"`
	Notes            string `validate:"max=1000"`
	// Destination overrides the payment's destination when set, None included.
	Destination *ledger.Destination
	Actor       int64
}

// SettleResult is the outcome of MarkAsPaid. EmailWarning is set when the receipt
// could not be queued; the settlement itself stands.
type SettleResult struct {
	Payment      Payment         `json:"payment"`
	Receipt      Receipt         `json:"receipt"`
	Posting      *ledger.Posting `json:"posting,omitempty"`
	EmailWarning string          `json:"email_warning,omitempty"`
}

// WaiveInput forgives an open royalty payment.
type WaiveInput struct {
	PaymentID uuid.UUID `validate:"required"`
	Notes     string    `validate:"required,max=1000"`
	Actor     int64
}

// MarkAsPaid settles an open payment. The receipt number, receipt, payment update and
// ledger posting commit together or not at all.
func (s *Service) MarkAsPaid(ctx context.Context, in SettleInput) (SettleResult, error) {
	if in.Actor <= 0 {
		return SettleResult{}, shared.ErrUnauthorized
	}
	if err := shared.ValidateStruct(in); err != nil {
		return SettleResult{}, err
	}
	if !in.PaidAmount.IsPositive() {
		return SettleResult{}, shared.Validationf("paid amount must be greater than zero")
	}
	if in.Destination != nil {
		if err := in.Destination.Validate(); err != nil {
			return SettleResult{}, err
		}
	}

	now := s.now()
	paidAmount := in.PaidAmount.Round(2)
	var result SettleResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		payment, err := tx.GetPaymentForUpdate(ctx, in.PaymentID)
		if err != nil {
			return err
		}
		if err := payment.checkOpen(); err != nil {
			return err
		}
		dest := payment.Destination
		if in.Destination != nil {
			dest = *in.Destination
		}
		if err := ledger.CheckSettlementTarget(ctx, tx.Ledger(), dest); err != nil {
			return err
		}

		year := now.In(s.calc.Location()).Year()
		seq, err := tx.NextReceiptSequence(ctx, year)
		if err != nil {
			return err
		}
		receipt := Receipt{
			ID:               uuid.New(),
			ReceiptNumber:    FormatReceiptNumber(year, seq),
			PaymentID:        payment.ID,
			BranchID:         payment.BranchID,
			Amount:           paidAmount,
			PaymentMethod:    in.PaymentMethod,
			PaymentReference: in.PaymentReference,
			PeriodLabel:      payment.PeriodLabel,
			IssuedBy:         in.Actor,
			IssuedAt:         now,
			Notes:            in.Notes,
		}
		if err := tx.InsertReceipt(ctx, receipt); err != nil {
			return err
		}

		actor := in.Actor
		payment.Status = StatusPaid
		payment.PaidAmount = &paidAmount
		payment.PaidAt = &now
		payment.PaymentMethod = in.PaymentMethod
		payment.PaymentReference = in.PaymentReference
		payment.ReceiptID = &receipt.ID
		payment.Destination = dest
		if in.Notes != "" {
			payment.Notes = in.Notes
		}
		payment.UpdatedBy = &actor
		payment.UpdatedAt = now
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return err
		}

		if !dest.IsNone() {
			posting, err := ledger.Post(ctx, tx.Ledger(), ledger.PostInput{
				Kind:           ledger.PostingRoyaltySettlement,
				SourceID:       payment.ID,
				AssetAccount:   dest.AccountID(),
				CounterAccount: ledger.RetainedEarningsAccount,
				Amount:         paidAmount,
				Memo:           fmt.Sprintf("Royalty %s %s", payment.PeriodLabel, receipt.ReceiptNumber),
				PostedBy:       in.Actor,
				At:             now,
			})
			if err != nil {
				return err
			}
			result.Posting = &posting
		}
		result.Payment = payment
		result.Receipt = receipt
		return nil
	})
	if err != nil {
		return SettleResult{}, err
	}

	s.metrics.settle(paidAmount)
	s.record(ctx, in.Actor, "royalty.payment.paid", "royalty_payment", result.Payment.ID.String(), map[string]any{
		"branch_id":      result.Payment.BranchID,
		"paid_amount":    paidAmount.StringFixed(2),
		"receipt_number": result.Receipt.ReceiptNumber,
		"destination":    result.Payment.Destination.String(),
	})
	s.invalidate(ctx)
	if warning := s.notifyReceipt(ctx, result.Receipt); warning != "" {
		result.EmailWarning = warning
	}
	s.logger.Info("royalty payment settled",
		slog.String("payment_id", result.Payment.ID.String()),
		slog.String("receipt_number", result.Receipt.ReceiptNumber),
		slog.String("amount", paidAmount.StringFixed(2)))
	return result, nil
}

// notifyReceipt queues the receipt email. It never fails the settlement; problems come
// back as a warning string.
func (s *Service) notifyReceipt(ctx context.Context, receipt Receipt) string {
	if s.notifier == nil {
		return ""
	}
	warn := func(msg string, err error) string {
		s.metrics.notificationFailed()
		s.logger.Warn("receipt notification", slog.String("receipt_id", receipt.ID.String()), slog.String("reason", msg), slog.Any("error", err))
		return msg
	}
	if s.branches == nil {
		return warn("receipt email not sent: branch directory unavailable", nil)
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	branch, err := s.branches.Lookup(ctx, receipt.BranchID)
	if err != nil {
		return warn("receipt email not sent: branch lookup failed", err)
	}
	if branch.AdminEmail == "" {
		return warn("receipt email not sent: branch has no admin email", nil)
	}
	if err := s.notifier.SendReceipt(ctx, branch.AdminEmail, receipt.ID); err != nil {
		return warn("receipt email not sent: "+err.Error(), err)
	}
	return ""
}

// Waive forgives an open payment. No receipt is issued and nothing is posted.
func (s *Service) Waive(ctx context.Context, in WaiveInput) (Payment, error) {
	if in.Actor <= 0 {
		return Payment{}, shared.ErrUnauthorized
	}
	if err := shared.ValidateStruct(in); err != nil {
		return Payment{}, err
	}
	now := s.now()
	var waived Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		payment, err := tx.GetPaymentForUpdate(ctx, in.PaymentID)
		if err != nil {
			return err
		}
		if err := payment.checkOpen(); err != nil {
			return err
		}
		actor := in.Actor
		payment.Status = StatusWaived
		payment.Notes = in.Notes
		payment.UpdatedBy = &actor
		payment.UpdatedAt = now
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return err
		}
		waived = payment
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	s.metrics.transition(StatusWaived, 1)
	s.record(ctx, in.Actor, "royalty.payment.waived", "royalty_payment", waived.ID.String(), map[string]any{
		"branch_id": waived.BranchID,
		"amount":    waived.TotalDue.StringFixed(2),
		"reason":    in.Notes,
	})
	s.invalidate(ctx)
	return waived, nil
}
