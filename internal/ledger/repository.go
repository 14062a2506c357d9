package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryFilter bounds manual entry listings by entry date (inclusive).
type EntryFilter struct {
	From *time.Time
	To   *time.Time
}

// Contains reports whether date falls in the filter window.
func (f EntryFilter) Contains(date time.Time) bool {
	if f.From != nil && date.Before(*f.From) {
		return false
	}
	if f.To != nil && date.After(*f.To) {
		return false
	}
	return true
}

// Repo is the transactional ledger store. Other packages receive a Repo bound to their
// own transaction so their writes and the ledger postings commit together.
type Repo interface {
	GetAccount(ctx context.Context, id AccountID) (Account, error)
	GetAccountForUpdate(ctx context.Context, id AccountID) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	InsertAccount(ctx context.Context, account Account) error
	SetAccountActive(ctx context.Context, id AccountID, active bool, at time.Time) error
	UpdateAccountDetails(ctx context.Context, id AccountID, name, notes string, at time.Time) error
	AdjustBalance(ctx context.Context, id AccountID, delta decimal.Decimal, at time.Time) error

	InsertPosting(ctx context.Context, posting Posting) error
	ListPostings(ctx context.Context, filter PostingFilter) ([]Posting, error)

	InsertRevenue(ctx context.Context, entry RevenueEntry) error
	GetRevenueForUpdate(ctx context.Context, id uuid.UUID) (RevenueEntry, error)
	UpdateRevenue(ctx context.Context, entry RevenueEntry) error
	DeleteRevenue(ctx context.Context, id uuid.UUID) error
	ListRevenue(ctx context.Context, filter EntryFilter) ([]RevenueEntry, error)

	InsertExpense(ctx context.Context, entry ExpenseEntry) error
	GetExpenseForUpdate(ctx context.Context, id uuid.UUID) (ExpenseEntry, error)
	UpdateExpense(ctx context.Context, entry ExpenseEntry) error
	DeleteExpense(ctx context.Context, id uuid.UUID) error
	ListExpenses(ctx context.Context, filter EntryFilter) ([]ExpenseEntry, error)

	InsertEquity(ctx context.Context, entry EquityEntry) error
	GetEquityForUpdate(ctx context.Context, id uuid.UUID) (EquityEntry, error)
	UpdateEquity(ctx context.Context, entry EquityEntry) error
	DeleteEquity(ctx context.Context, id uuid.UUID) error
	ListEquity(ctx context.Context, filter EntryFilter) ([]EquityEntry, error)
}

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Repo) error) error
}
