package royalty

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/royalty/internal/ledger"
	"github.com/odyssey-erp/royalty/internal/shared"
)

// RoyaltyType selects how the royalty amount is computed.
type RoyaltyType string

const (
	// RoyaltyPercentage charges Rate percent of gross revenue.
	RoyaltyPercentage RoyaltyType = "percentage"
	// RoyaltyFixed charges Rate as a flat amount per period.
	RoyaltyFixed RoyaltyType = "fixed"
)

// BillingCycle is the period length.
type BillingCycle string

const (
	CycleMonthly   BillingCycle = "monthly"
	CycleQuarterly BillingCycle = "quarterly"
	CycleAnnually  BillingCycle = "annually"
)

// PaymentStatus enumerates the royalty payment lifecycle.
type PaymentStatus string

const (
	StatusDue     PaymentStatus = "due"
	StatusOverdue PaymentStatus = "overdue"
	StatusPaid    PaymentStatus = "paid"
	StatusWaived  PaymentStatus = "waived"
)

const (
	defaultBillingDay  = 1
	defaultGraceDays   = 7
	receiptCounterType = "official_receipt"
)

var hundred = decimal.NewFromInt(100)

// Config is the royalty agreement of one branch.
type Config struct {
	ID              uuid.UUID          `json:"id"`
	BranchID        int64              `json:"branch_id"`
	RoyaltyType     RoyaltyType        `json:"royalty_type"`
	Rate            decimal.Decimal    `json:"rate"`
	BillingCycle    BillingCycle       `json:"billing_cycle"`
	BillingDay      int                `json:"billing_day"`
	GracePeriodDays int                `json:"grace_period_days"`
	LateFeeRate     decimal.Decimal    `json:"late_fee_rate"`
	Destination     ledger.Destination `json:"destination"`
	IsActive        bool               `json:"is_active"`
	// ActiveSince is when billing last (re)started; paused months before it are never billed.
	ActiveSince     time.Time          `json:"active_since"`
	Notes           string             `json:"notes,omitempty"`
	CreatedBy       int64              `json:"created_by"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// ConfigParams is the desired agreement. Nil optional fields take defaults on create and
// keep their current value on update.
type ConfigParams struct {
	RoyaltyType     RoyaltyType  `validate:"required,oneof=percentage fixed"`
	Rate            decimal.Decimal
	BillingCycle    BillingCycle `validate:"required,oneof=monthly quarterly annually"`
	BillingDay      *int         `validate:"omitnil,min=1,max=28"`
	GracePeriodDays *int         `validate:"omitnil,min=0,max=365"`
	LateFeeRate     *decimal.Decimal
	Destination     *ledger.Destination
	Notes           *string `validate:"omitnil,max=1000"`
}

// ConfigAuditEntry is one append-only record of a changed config field.
type ConfigAuditEntry struct {
	ID        uuid.UUID `json:"id"`
	ConfigID  uuid.UUID `json:"config_id"`
	BranchID  int64     `json:"branch_id"`
	Field     string    `json:"field"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	Actor     int64     `json:"actor"`
	Reason    string    `json:"reason,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// Payment is the royalty obligation of one branch for one billing period.
type Payment struct {
	ID               uuid.UUID          `json:"id"`
	BranchID         int64              `json:"branch_id"`
	ConfigID         uuid.UUID          `json:"config_id"`
	PeriodLabel      string             `json:"period_label"`
	PeriodStart      time.Time          `json:"period_start"`
	PeriodEnd        time.Time          `json:"period_end"`
	GrossRevenue     decimal.Decimal    `json:"gross_revenue"`
	RoyaltyType      RoyaltyType        `json:"royalty_type"`
	Rate             decimal.Decimal    `json:"rate"`
	Amount           decimal.Decimal    `json:"amount"`
	LateFee          decimal.Decimal    `json:"late_fee"`
	LateFeeRate      decimal.Decimal    `json:"late_fee_rate"`
	TotalDue         decimal.Decimal    `json:"total_due"`
	DueDate          time.Time          `json:"due_date"`
	GracePeriodEnd   time.Time          `json:"grace_period_end"`
	Status           PaymentStatus      `json:"status"`
	PaidAmount       *decimal.Decimal   `json:"paid_amount"`
	PaidAt           *time.Time         `json:"paid_at,omitempty"`
	PaymentMethod    string             `json:"payment_method,omitempty"`
	PaymentReference string             `json:"payment_reference,omitempty"`
	ReceiptID        *uuid.UUID         `json:"receipt_id,omitempty"`
	Destination      ledger.Destination `json:"destination"`
	Notes            string             `json:"notes,omitempty"`
	CreatedBy        int64              `json:"created_by"`
	UpdatedBy        *int64             `json:"updated_by,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// IsOpen reports whether the payment can still be settled or waived.
func (p Payment) IsOpen() bool {
	return p.Status == StatusDue || p.Status == StatusOverdue
}

func (p Payment) checkOpen() error {
	switch p.Status {
	case StatusDue, StatusOverdue:
		return nil
	case StatusPaid:
		return ErrPaymentAlreadyPaid
	case StatusWaived:
		return ErrPaymentAlreadyWaived
	default:
		return shared.Transitionf("royalty: unknown payment status %q", p.Status)
	}
}

// markOverdue accrues the flat late fee. Only due payments reach this, so the fee is
// charged at most once.
func (p *Payment) markOverdue(now time.Time) {
	p.LateFee = p.Amount.Mul(p.LateFeeRate).Div(hundred).Round(2)
	p.TotalDue = p.Amount.Add(p.LateFee)
	p.Status = StatusOverdue
	p.UpdatedAt = now
}

// Receipt is the official receipt issued for a paid royalty.
type Receipt struct {
	ID               uuid.UUID       `json:"id"`
	ReceiptNumber    string          `json:"receipt_number"`
	PaymentID        uuid.UUID       `json:"payment_id"`
	BranchID         int64           `json:"branch_id"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentMethod    string          `json:"payment_method"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	PeriodLabel      string          `json:"period_label"`
	IssuedBy         int64           `json:"issued_by"`
	IssuedAt         time.Time       `json:"issued_at"`
	Notes            string          `json:"notes,omitempty"`
}

// FormatReceiptNumber renders OR-<year>-<five digit sequence>.
func FormatReceiptNumber(year, seq int) string {
	return fmt.Sprintf("OR-%d-%05d", year, seq)
}

// Branch is the directory view of a franchise branch.
type Branch struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Code       string `json:"code"`
	AdminEmail string `json:"admin_email,omitempty"`
}

// ConfigView decorates a config with branch details for listings.
type ConfigView struct {
	Config
	BranchName string `json:"branch_name"`
	BranchCode string `json:"branch_code"`
}

// PaymentView decorates a payment with branch details for listings.
type PaymentView struct {
	Payment
	BranchName string `json:"branch_name"`
	BranchCode string `json:"branch_code"`
}

// PaymentFilter narrows payment listings.
type PaymentFilter struct {
	BranchID int64
	Statuses []PaymentStatus
	PaidFrom *time.Time
	PaidTo   *time.Time
	Limit    int
}

// Matches applies the filter in memory.
func (f PaymentFilter) Matches(p Payment) bool {
	if f.BranchID != 0 && p.BranchID != f.BranchID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if p.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.PaidFrom != nil || f.PaidTo != nil {
		if p.PaidAt == nil {
			return false
		}
		if f.PaidFrom != nil && p.PaidAt.Before(*f.PaidFrom) {
			return false
		}
		if f.PaidTo != nil && p.PaidAt.After(*f.PaidTo) {
			return false
		}
	}
	return true
}

// RevenueFeed reports branch gross revenue from completed sales.
type RevenueFeed interface {
	GrossRevenue(ctx context.Context, branchID int64, start, end time.Time) (decimal.Decimal, error)
}

// BranchDirectory resolves branches. Absence marks royalty data orphaned.
type BranchDirectory interface {
	Lookup(ctx context.Context, branchID int64) (Branch, error)
	Exists(ctx context.Context, branchID int64) (bool, error)
}

// Notifier queues outbound messages to branch administrators.
type Notifier interface {
	SendReceipt(ctx context.Context, recipient string, receiptID uuid.UUID) error
	SendDueNotice(ctx context.Context, recipient string, paymentID uuid.UUID) error
}

// AuditPort records operational events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ReportInvalidator drops cached financial reports.
type ReportInvalidator interface {
	Invalidate(ctx context.Context) error
}

var (
	// ErrConfigNotFound indicates the branch has no royalty config.
	ErrConfigNotFound = fmt.Errorf("royalty: config not found: %w", shared.ErrNotFound)
	// ErrPaymentNotFound indicates a missing payment.
	ErrPaymentNotFound = fmt.Errorf("royalty: payment not found: %w", shared.ErrNotFound)
	// ErrReceiptNotFound indicates a missing receipt.
	ErrReceiptNotFound = fmt.Errorf("royalty: receipt not found: %w", shared.ErrNotFound)
	// ErrBranchNotFound indicates the branch is unknown to the directory.
	ErrBranchNotFound = fmt.Errorf("royalty: branch not found: %w", shared.ErrNotFound)
	// ErrPaymentAlreadyPaid blocks a second settlement or a waiver after payment.
	ErrPaymentAlreadyPaid = fmt.Errorf("royalty: payment already paid: %w", shared.ErrInvalidStateTransition)
	// ErrPaymentAlreadyWaived blocks settling or re-waiving a waived payment.
	ErrPaymentAlreadyWaived = fmt.Errorf("royalty: payment already waived: %w", shared.ErrInvalidStateTransition)
	// ErrConfigHasPayments blocks deleting a config whose branch was billed.
	ErrConfigHasPayments = fmt.Errorf("royalty: config has payments, deactivate it or run orphan cleanup: %w", shared.ErrInvalidStateTransition)
	// ErrConfigInactive blocks billing an inactive config.
	ErrConfigInactive = fmt.Errorf("royalty: config is inactive: %w", shared.ErrInvalidStateTransition)
	// ErrConfigExists indicates a concurrent create for the same branch.
	ErrConfigExists = fmt.Errorf("royalty: branch already has a config: %w", shared.ErrConflict)
	// ErrPeriodAlreadyBilled indicates the (branch, period) payment exists.
	ErrPeriodAlreadyBilled = fmt.Errorf("royalty: period already billed: %w", shared.ErrConflict)
	// ErrRevenueUnavailable wraps revenue feed failures.
	ErrRevenueUnavailable = fmt.Errorf("royalty: revenue feed unavailable: %w", shared.ErrExternalDependency)
)
