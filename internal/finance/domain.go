package finance

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/royalty/internal/ledger"
	"github.com/odyssey-erp/royalty/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// BranchIncome is royalty income collected from one branch.
type BranchIncome struct {
	BranchID   int64           `json:"branch_id"`
	BranchName string          `json:"branch_name"`
	Amount     decimal.Decimal `json:"amount"`
	Count      int             `json:"count"`
}

// RevenueBreakdown splits income by origin.
type RevenueBreakdown struct {
	RoyaltyIncome decimal.Decimal            `json:"royalty_income"`
	OtherRevenue  decimal.Decimal            `json:"other_revenue"`
	ByCategory    map[string]decimal.Decimal `json:"by_category"`
}

// ExpenseBreakdown splits costs by type and category.
type ExpenseBreakdown struct {
	FixedExpenses     decimal.Decimal            `json:"fixed_expenses"`
	OperatingExpenses decimal.Decimal            `json:"operating_expenses"`
	Total             decimal.Decimal            `json:"total"`
	ByCategory        map[string]decimal.Decimal `json:"by_category"`
}

// Tracking separates manual entries that moved an asset account from P&L-only ones.
type Tracking struct {
	TrackedRevenue    decimal.Decimal `json:"tracked_manual_revenue"`
	UntrackedRevenue  decimal.Decimal `json:"untracked_manual_revenue"`
	TrackedExpenses   decimal.Decimal `json:"tracked_expenses"`
	UntrackedExpenses decimal.Decimal `json:"untracked_expenses"`
}

// PLSummary is the profit and loss statement for a date range.
type PLSummary struct {
	PeriodStart         time.Time        `json:"period_start"`
	PeriodEnd           time.Time        `json:"period_end"`
	TotalRevenue        decimal.Decimal  `json:"total_revenue"`
	TotalExpenses       decimal.Decimal  `json:"total_expenses"`
	NetIncome           decimal.Decimal  `json:"net_income"`
	GrossMargin         decimal.Decimal  `json:"gross_margin"`
	NetMargin           decimal.Decimal  `json:"net_margin"`
	RevenueBreakdown    RevenueBreakdown `json:"revenue_breakdown"`
	ExpenseBreakdown    ExpenseBreakdown `json:"expense_breakdown"`
	RoyaltyByBranch     []BranchIncome   `json:"royalty_by_branch"`
	Tracking            Tracking         `json:"tracking"`
	RoyaltyPaymentCount int              `json:"royalty_payment_count"`
	ManualRevenueCount  int              `json:"manual_revenue_count"`
	ExpenseCount        int              `json:"expense_count"`
}

// AccountLine is one balance sheet row.
type AccountLine struct {
	ID         ledger.AccountID  `json:"id"`
	Name       string            `json:"name"`
	AssetClass ledger.AssetClass `json:"asset_class,omitempty"`
	Balance    decimal.Decimal   `json:"balance"`
	IsActive   bool              `json:"is_active"`
}

// BalanceSheet is the point-in-time position of the books. Receivables are a memo and
// take no part in the identity.
type BalanceSheet struct {
	AsOf               time.Time       `json:"as_of"`
	Assets             []AccountLine   `json:"assets"`
	CurrentAssets      decimal.Decimal `json:"current_assets"`
	FixedAssets        decimal.Decimal `json:"fixed_assets"`
	IntangibleAssets   decimal.Decimal `json:"intangible_assets"`
	TotalAssets        decimal.Decimal `json:"total_assets"`
	Liabilities        []AccountLine   `json:"liabilities"`
	TotalLiabilities   decimal.Decimal `json:"total_liabilities"`
	Equity             []AccountLine   `json:"equity"`
	RetainedEarnings   decimal.Decimal `json:"retained_earnings"`
	OwnerEquity        decimal.Decimal `json:"owner_equity"`
	TotalEquity        decimal.Decimal `json:"total_equity"`
	RoyaltyReceivables decimal.Decimal `json:"royalty_receivables"`
	ReceivableCount    int             `json:"receivable_count"`
	IsBalanced         bool            `json:"is_balanced"`
	Difference         decimal.Decimal `json:"difference"`
	Warning            string          `json:"warning,omitempty"`
}

// LedgerCheck is the outcome of replaying the posting journal.
type LedgerCheck struct {
	CheckedAt  time.Time      `json:"checked_at"`
	Accounts   int            `json:"accounts"`
	Postings   int            `json:"postings"`
	Drift      []ledger.Drift `json:"drift"`
	Consistent bool           `json:"consistent"`
	Warning    string         `json:"warning,omitempty"`
}

// BranchRoyaltySummary totals royalty positions of one branch.
type BranchRoyaltySummary struct {
	BranchID     int64           `json:"branch_id"`
	BranchName   string          `json:"branch_name"`
	Collected    decimal.Decimal `json:"total_collected"`
	PaidCount    int             `json:"payment_count"`
	Pending      decimal.Decimal `json:"total_pending"`
	PendingCount int             `json:"pending_count"`
	Overdue      decimal.Decimal `json:"total_overdue"`
	OverdueCount int             `json:"overdue_count"`
}

// RoyaltyIncomeSummary reports collected royalties in a range next to what is still owed.
type RoyaltyIncomeSummary struct {
	PeriodStart    time.Time              `json:"period_start"`
	PeriodEnd      time.Time              `json:"period_end"`
	TotalCollected decimal.Decimal        `json:"total_collected"`
	TotalPending   decimal.Decimal        `json:"total_pending"`
	TotalOverdue   decimal.Decimal        `json:"total_overdue"`
	PaymentCount   int                    `json:"payment_count"`
	ByBranch       []BranchRoyaltySummary `json:"by_branch"`
}

// PeriodStatus enumerates the accounting period lifecycle.
type PeriodStatus string

const (
	PeriodOpen   PeriodStatus = "open"
	PeriodClosed PeriodStatus = "closed"
)

// PeriodType labels the span of an accounting period.
type PeriodType string

const (
	PeriodMonthly   PeriodType = "monthly"
	PeriodQuarterly PeriodType = "quarterly"
	PeriodYearly    PeriodType = "yearly"
)

// PeriodSnapshot freezes the reports of a closed period.
type PeriodSnapshot struct {
	PL         PLSummary    `json:"pl"`
	Balance    BalanceSheet `json:"balance_sheet"`
	IsBalanced bool         `json:"is_balanced"`
}

// AccountingPeriod is a reporting window that can be closed with a frozen snapshot.
type AccountingPeriod struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	PeriodType   PeriodType      `json:"period_type"`
	StartDate    time.Time       `json:"start_date"`
	EndDate      time.Time       `json:"end_date"`
	Status       PeriodStatus    `json:"status"`
	Snapshot     *PeriodSnapshot `json:"snapshot,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	ClosedBy     *int64          `json:"closed_by,omitempty"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`
	ReopenedBy   *int64          `json:"reopened_by,omitempty"`
	ReopenedAt   *time.Time      `json:"reopened_at,omitempty"`
	ReopenReason string          `json:"reopen_reason,omitempty"`
	CreatedBy    int64           `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Change compares one figure across two periods. ChangePercent is relative to the
// magnitude of First and is nil when First is zero.
type Change struct {
	First         decimal.Decimal  `json:"value_1"`
	Second        decimal.Decimal  `json:"value_2"`
	Change        decimal.Decimal  `json:"change"`
	ChangePercent *decimal.Decimal `json:"change_percent"`
}

// PeriodRef identifies a compared period.
type PeriodRef struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// PeriodComparison lines up the frozen snapshots of two closed periods.
type PeriodComparison struct {
	First            PeriodRef `json:"period_1"`
	Second           PeriodRef `json:"period_2"`
	Revenue          Change    `json:"revenue"`
	Expenses         Change    `json:"expenses"`
	NetIncome        Change    `json:"net_income"`
	CurrentAssets    Change    `json:"current_assets"`
	TotalAssets      Change    `json:"total_assets"`
	TotalLiabilities Change    `json:"total_liabilities"`
	TotalEquity      Change    `json:"total_equity"`
}

// CreatePeriodInput declares a new accounting period. Both dates are inclusive.
type CreatePeriodInput struct {
	Name       string     `validate:"required,max=120"`
	PeriodType PeriodType `validate:"required,oneof=monthly quarterly yearly"`
	StartDate  time.Time
	EndDate    time.Time
	Notes      string `validate:"max=1000"`
	Actor      int64  `validate:"required,gt=0"`
}

// ClosePeriodInput closes an open period.
type ClosePeriodInput struct {
	PeriodID uuid.UUID `validate:"required"`
	Notes    string    `validate:"max=1000"`
	Actor    int64     `validate:"required,gt=0"`
}

// ReopenPeriodInput reopens a closed period.
type ReopenPeriodInput struct {
	PeriodID uuid.UUID `validate:"required"`
	Reason   string    `validate:"required,max=1000"`
	Actor    int64     `validate:"required,gt=0"`
}

var (
	// ErrPeriodNotFound indicates a missing accounting period.
	ErrPeriodNotFound = fmt.Errorf("finance: accounting period not found: %w", shared.ErrNotFound)
	// ErrPeriodOverlap indicates the new period intersects an existing one.
	ErrPeriodOverlap = fmt.Errorf("finance: period overlaps an existing period: %w", shared.ErrConflict)
	// ErrPeriodClosed blocks closing twice or deleting a closed period.
	ErrPeriodClosed = fmt.Errorf("finance: period is closed: %w", shared.ErrInvalidStateTransition)
	// ErrPeriodNotClosed blocks reopening an open period.
	ErrPeriodNotClosed = fmt.Errorf("finance: only closed periods can be reopened: %w", shared.ErrInvalidStateTransition)
	// ErrPeriodNotComparable indicates a comparison against a period without a closed snapshot.
	ErrPeriodNotComparable = fmt.Errorf("finance: both periods must be closed to compare: %w", shared.ErrInvalidStateTransition)
	// ErrPeriodUnbalanced refuses to freeze books that fail the balance sheet identity.
	ErrPeriodUnbalanced = fmt.Errorf("finance: books are unbalanced, period cannot close: %w: %w", shared.ErrInvalidStateTransition, shared.ErrConsistencyViolation)
)
