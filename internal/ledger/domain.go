package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/royalty/internal/shared"
)

// AccountType enumerates balance sheet sides.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
)

// AssetClass narrows asset accounts; manual revenue and expenses only touch current assets.
type AssetClass string

const (
	AssetClassCurrent    AssetClass = "current"
	AssetClassFixed      AssetClass = "fixed"
	AssetClassIntangible AssetClass = "intangible"
)

// AccountID identifies a ledger account. System accounts use fixed names; registered
// assets and liabilities use their uuid.
type AccountID string

const (
	// SalesCashAccount is the implicit pool fed by branch sales.
	SalesCashAccount AccountID = "sales_cash"
	// RetainedEarningsAccount is the equity counterpart of income and expense postings.
	RetainedEarningsAccount AccountID = "retained_earnings"
	// OwnerEquityAccount carries owner capital, additional investment and drawings.
	OwnerEquityAccount AccountID = "owner_equity"
)

// AccountIDFor returns the account id used for a registered asset or liability.
func AccountIDFor(id uuid.UUID) AccountID {
	return AccountID(id.String())
}

// Account is a balance-carrying ledger account.
type Account struct {
	ID         AccountID       `json:"id"`
	Name       string          `json:"name"`
	Type       AccountType     `json:"type"`
	AssetClass AssetClass      `json:"asset_class,omitempty"`
	Balance    decimal.Decimal `json:"balance"`
	IsActive   bool            `json:"is_active"`
	IsSystem   bool            `json:"is_system"`
	Notes      string          `json:"notes,omitempty"`
	CreatedBy  int64           `json:"created_by"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// DestinationKind tags the Destination union.
type DestinationKind string

const (
	DestinationNone        DestinationKind = "none"
	DestinationSalesCash   DestinationKind = "sales_cash"
	DestinationManualAsset DestinationKind = "manual_asset"
)

// Destination says which asset account a cash movement lands in (or leaves from).
// The zero value is None: the movement is reported but never posted.
type Destination struct {
	Kind    DestinationKind
	AssetID uuid.UUID
}

// None returns the P&L-only destination.
func None() Destination { return Destination{Kind: DestinationNone} }

// SalesCash returns the sales cash pool destination.
func SalesCash() Destination { return Destination{Kind: DestinationSalesCash} }

// ManualAsset returns a destination pointing at a registered asset.
func ManualAsset(id uuid.UUID) Destination {
	return Destination{Kind: DestinationManualAsset, AssetID: id}
}

// IsNone reports whether the destination is P&L-only.
func (d Destination) IsNone() bool {
	return d.Kind == "" || d.Kind == DestinationNone
}

// AccountID returns the asset account the destination posts to; empty for None.
func (d Destination) AccountID() AccountID {
	switch d.Kind {
	case DestinationSalesCash:
		return SalesCashAccount
	case DestinationManualAsset:
		return AccountIDFor(d.AssetID)
	default:
		return ""
	}
}

// Validate checks the tag and payload agree.
func (d Destination) Validate() error {
	switch d.Kind {
	case "", DestinationNone, DestinationSalesCash:
		if d.AssetID != uuid.Nil {
			return shared.Validationf("destination %s carries an asset id", d.Kind)
		}
		return nil
	case DestinationManualAsset:
		if d.AssetID == uuid.Nil {
			return shared.Validationf("manual asset destination requires an asset id")
		}
		return nil
	default:
		return shared.Validationf("unknown destination kind %q", d.Kind)
	}
}

// String renders the storage form: "none", "sales_cash" or "asset:<uuid>".
func (d Destination) String() string {
	switch d.Kind {
	case DestinationSalesCash:
		return string(DestinationSalesCash)
	case DestinationManualAsset:
		return "asset:" + d.AssetID.String()
	default:
		return string(DestinationNone)
	}
}

// ParseDestination parses the storage form produced by String.
func ParseDestination(s string) (Destination, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || s == string(DestinationNone):
		return None(), nil
	case s == string(DestinationSalesCash):
		return SalesCash(), nil
	case strings.HasPrefix(s, "asset:"):
		id, err := uuid.Parse(strings.TrimPrefix(s, "asset:"))
		if err != nil {
			return Destination{}, shared.Validationf("invalid asset destination %q", s)
		}
		return ManualAsset(id), nil
	default:
		return Destination{}, shared.Validationf("invalid destination %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler so destinations travel as plain strings.
func (d Destination) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Destination) UnmarshalText(b []byte) error {
	parsed, err := ParseDestination(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// PostingKind classifies journal postings.
type PostingKind string

const (
	PostingRoyaltySettlement PostingKind = "royalty_settlement"
	PostingManualRevenue     PostingKind = "manual_revenue"
	PostingManualExpense     PostingKind = "manual_expense"
	PostingLiabilityDrawdown PostingKind = "liability_drawdown"
	PostingLiabilityRepay    PostingKind = "liability_repayment"
	PostingOwnerEquity       PostingKind = "owner_equity"
)

// Posting is one append-only double-entry journal line pair: Amount is added to both
// the asset account and the counter account. (Kind, SourceID, Revision) is unique among
// forward postings; editing a manual entry reverses the live revision and posts the next.
type Posting struct {
	ID             uuid.UUID       `json:"id"`
	Kind           PostingKind     `json:"kind"`
	SourceID       uuid.UUID       `json:"source_id"`
	AssetAccount   AccountID       `json:"asset_account"`
	CounterAccount AccountID       `json:"counter_account"`
	Revision       int             `json:"revision"`
	Amount         decimal.Decimal `json:"amount"`
	ReversalOf     *uuid.UUID      `json:"reversal_of,omitempty"`
	Memo           string          `json:"memo,omitempty"`
	PostedBy       int64           `json:"posted_by"`
	PostedAt       time.Time       `json:"posted_at"`
}

// PostingFilter narrows journal listings.
type PostingFilter struct {
	Kind     PostingKind
	SourceID uuid.UUID
	Account  AccountID
	Limit    int
}

// RevenueCategory enumerates manual revenue categories.
type RevenueCategory string

const (
	RevenueConsulting   RevenueCategory = "consulting"
	RevenueFranchiseFee RevenueCategory = "franchise_fee"
	RevenueTrainingFee  RevenueCategory = "training_fee"
	RevenueMarketingFee RevenueCategory = "marketing_fee"
	RevenueOther        RevenueCategory = "other"
)

// ExpenseType splits expenses for the P&L.
type ExpenseType string

const (
	ExpenseFixed     ExpenseType = "fixed"
	ExpenseOperating ExpenseType = "operating"
)

// ExpenseCategory enumerates manual expense categories.
type ExpenseCategory string

const (
	ExpenseOfficeRent    ExpenseCategory = "office_rent"
	ExpenseUtilities     ExpenseCategory = "utilities"
	ExpenseSalaries      ExpenseCategory = "salaries"
	ExpenseInsurance     ExpenseCategory = "insurance"
	ExpenseSoftware      ExpenseCategory = "software_subscriptions"
	ExpenseMarketing     ExpenseCategory = "marketing"
	ExpenseTravel        ExpenseCategory = "travel"
	ExpenseSupplies      ExpenseCategory = "office_supplies"
	ExpenseProfessional  ExpenseCategory = "professional_fees"
	ExpenseMaintenance   ExpenseCategory = "maintenance"
	ExpenseMiscellaneous ExpenseCategory = "miscellaneous"
)

// RevenueEntry is manually recorded income outside royalties.
type RevenueEntry struct {
	ID          uuid.UUID       `json:"id"`
	Category    RevenueCategory `json:"category"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	EntryDate   time.Time       `json:"entry_date"`
	Notes       string          `json:"notes,omitempty"`
	Destination Destination     `json:"destination"`
	CreatedBy   int64           `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ExpenseEntry is a manually recorded cost. Source is where the cash came from.
type ExpenseEntry struct {
	ID           uuid.UUID       `json:"id"`
	Category     ExpenseCategory `json:"category"`
	ExpenseType  ExpenseType     `json:"expense_type"`
	Description  string          `json:"description"`
	Amount       decimal.Decimal `json:"amount"`
	EntryDate    time.Time       `json:"entry_date"`
	IsRecurring  bool            `json:"is_recurring"`
	RecurringDay int             `json:"recurring_day,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	Source       Destination     `json:"source"`
	CreatedBy    int64           `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// EquityKind enumerates owner equity movements.
type EquityKind string

const (
	EquityOwnerCapital         EquityKind = "owner_capital"
	EquityAdditionalInvestment EquityKind = "additional_investment"
	EquityDrawings             EquityKind = "drawings"
)

// Sign returns -1 for drawings and 1 for contributions.
func (k EquityKind) Sign() decimal.Decimal {
	if k == EquityDrawings {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// EquityEntry is an owner contribution or withdrawal. Amount is always positive;
// drawings move cash out of Account and reduce owner equity.
type EquityEntry struct {
	ID          uuid.UUID       `json:"id"`
	Kind        EquityKind      `json:"kind"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	EntryDate   time.Time       `json:"entry_date"`
	Notes       string          `json:"notes,omitempty"`
	Account     Destination     `json:"account"`
	CreatedBy   int64           `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// PostedAmount is the signed amount posted to the asset and owner equity accounts.
func (e EquityEntry) PostedAmount() decimal.Decimal {
	return e.Amount.Mul(e.Kind.Sign())
}

// DestinationOption is one selectable target in destination pickers.
type DestinationOption struct {
	Destination Destination     `json:"destination"`
	Label       string          `json:"label"`
	Balance     decimal.Decimal `json:"balance"`
}

var (
	// ErrAccountNotFound indicates a missing ledger account.
	ErrAccountNotFound = fmt.Errorf("ledger: account not found: %w", shared.ErrNotFound)
	// ErrEntryNotFound indicates a missing manual entry.
	ErrEntryNotFound = fmt.Errorf("ledger: entry not found: %w", shared.ErrNotFound)
	// ErrAccountInactive indicates postings against a deactivated account.
	ErrAccountInactive = fmt.Errorf("ledger: account is inactive: %w", shared.ErrInvalidStateTransition)
	// ErrNotCurrentAsset indicates a manual entry targeting a fixed or intangible asset.
	ErrNotCurrentAsset = fmt.Errorf("ledger: only current assets can receive or fund manual entries: %w", shared.ErrValidation)
	// ErrAlreadyPosted indicates a duplicate (kind, source) posting.
	ErrAlreadyPosted = fmt.Errorf("ledger: source already posted: %w", shared.ErrConflict)
	// ErrZeroAmount indicates a posting that would not move any balance.
	ErrZeroAmount = fmt.Errorf("ledger: posting amount must be non-zero: %w", shared.ErrValidation)
	// ErrExceedsOutstanding indicates a repayment larger than the liability balance.
	ErrExceedsOutstanding = fmt.Errorf("ledger: repayment exceeds outstanding balance: %w", shared.ErrValidation)
	// ErrWrongSide indicates a posting whose accounts are not asset vs liability/equity.
	ErrWrongSide = fmt.Errorf("ledger: posting must pair an asset with a liability or equity account: %w", shared.ErrValidation)
)
