// Package ledgertest provides an in-memory ledger.Repo for tests in this and
// dependent packages.
package ledgertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/royalty/internal/ledger"
)

// Store is an in-memory ledger. Repo methods assume the caller serialises access,
// either through WithTx or through an outer store that embeds this one.
type Store struct {
	mu       sync.Mutex
	accounts map[ledger.AccountID]ledger.Account
	postings []ledger.Posting
	revenue  map[uuid.UUID]ledger.RevenueEntry
	expenses map[uuid.UUID]ledger.ExpenseEntry
	equity   map[uuid.UUID]ledger.EquityEntry

	// FailPosting, when set, is returned by InsertPosting.
	FailPosting error
}

// NewStore returns a store seeded with the sales cash, retained earnings and owner
// equity accounts.
func NewStore() *Store {
	s := &Store{
		accounts: make(map[ledger.AccountID]ledger.Account),
		revenue:  make(map[uuid.UUID]ledger.RevenueEntry),
		expenses: make(map[uuid.UUID]ledger.ExpenseEntry),
		equity:   make(map[uuid.UUID]ledger.EquityEntry),
	}
	s.accounts[ledger.SalesCashAccount] = ledger.Account{
		ID: ledger.SalesCashAccount, Name: "Sales Cash", Type: ledger.AccountTypeAsset,
		AssetClass: ledger.AssetClassCurrent, IsActive: true, IsSystem: true,
	}
	s.accounts[ledger.RetainedEarningsAccount] = ledger.Account{
		ID: ledger.RetainedEarningsAccount, Name: "Retained Earnings", Type: ledger.AccountTypeEquity,
		IsActive: true, IsSystem: true,
	}
	s.accounts[ledger.OwnerEquityAccount] = ledger.Account{
		ID: ledger.OwnerEquityAccount, Name: "Owner Equity", Type: ledger.AccountTypeEquity,
		IsActive: true, IsSystem: true,
	}
	return s
}

// Snapshot captures state for rollback.
type Snapshot struct {
	accounts map[ledger.AccountID]ledger.Account
	postings []ledger.Posting
	revenue  map[uuid.UUID]ledger.RevenueEntry
	expenses map[uuid.UUID]ledger.ExpenseEntry
	equity   map[uuid.UUID]ledger.EquityEntry
}

// Snapshot copies the current state.
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		accounts: make(map[ledger.AccountID]ledger.Account, len(s.accounts)),
		postings: append([]ledger.Posting(nil), s.postings...),
		revenue:  make(map[uuid.UUID]ledger.RevenueEntry, len(s.revenue)),
		expenses: make(map[uuid.UUID]ledger.ExpenseEntry, len(s.expenses)),
		equity:   make(map[uuid.UUID]ledger.EquityEntry, len(s.equity)),
	}
	for k, v := range s.accounts {
		snap.accounts[k] = v
	}
	for k, v := range s.revenue {
		snap.revenue[k] = v
	}
	for k, v := range s.expenses {
		snap.expenses[k] = v
	}
	for k, v := range s.equity {
		snap.equity[k] = v
	}
	return snap
}

// Restore rolls back to snap.
func (s *Store) Restore(snap Snapshot) {
	s.accounts = snap.accounts
	s.postings = snap.postings
	s.revenue = snap.revenue
	s.expenses = snap.expenses
	s.equity = snap.equity
}

// WithTx runs fn atomically: any error restores the state seen on entry.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.Repo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.Snapshot()
	if err := fn(ctx, s); err != nil {
		s.Restore(snap)
		return err
	}
	return nil
}

// Balance returns the stored balance of id, zero if missing.
func (s *Store) Balance(id ledger.AccountID) decimal.Decimal {
	return s.accounts[id].Balance
}

// Postings returns a copy of the journal.
func (s *Store) Postings() []ledger.Posting {
	return append([]ledger.Posting(nil), s.postings...)
}

// SetBalance overwrites a stored balance without a posting, for drift tests.
func (s *Store) SetBalance(id ledger.AccountID, amount decimal.Decimal) {
	acc := s.accounts[id]
	acc.Balance = amount
	s.accounts[id] = acc
}

func (s *Store) GetAccount(_ context.Context, id ledger.AccountID) (ledger.Account, error) {
	acc, ok := s.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return acc, nil
}

func (s *Store) GetAccountForUpdate(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	return s.GetAccount(ctx, id)
}

func (s *Store) ListAccounts(context.Context) ([]ledger.Account, error) {
	out := make([]ledger.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) InsertAccount(_ context.Context, acc ledger.Account) error {
	if _, exists := s.accounts[acc.ID]; exists {
		return ledger.ErrAlreadyPosted
	}
	s.accounts[acc.ID] = acc
	return nil
}

func (s *Store) SetAccountActive(_ context.Context, id ledger.AccountID, active bool, at time.Time) error {
	acc, ok := s.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	acc.IsActive = active
	acc.UpdatedAt = at
	s.accounts[id] = acc
	return nil
}

func (s *Store) UpdateAccountDetails(_ context.Context, id ledger.AccountID, name, notes string, at time.Time) error {
	acc, ok := s.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	acc.Name = name
	acc.Notes = notes
	acc.UpdatedAt = at
	s.accounts[id] = acc
	return nil
}

func (s *Store) AdjustBalance(_ context.Context, id ledger.AccountID, delta decimal.Decimal, at time.Time) error {
	acc, ok := s.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	acc.Balance = acc.Balance.Add(delta)
	acc.UpdatedAt = at
	s.accounts[id] = acc
	return nil
}

func (s *Store) InsertPosting(_ context.Context, p ledger.Posting) error {
	if s.FailPosting != nil {
		return s.FailPosting
	}
	for _, existing := range s.postings {
		if existing.Kind == p.Kind && existing.SourceID == p.SourceID && existing.Revision == p.Revision &&
			(existing.ReversalOf == nil) == (p.ReversalOf == nil) {
			return ledger.ErrAlreadyPosted
		}
	}
	s.postings = append(s.postings, p)
	return nil
}

func (s *Store) ListPostings(_ context.Context, filter ledger.PostingFilter) ([]ledger.Posting, error) {
	var out []ledger.Posting
	for _, p := range s.postings {
		if filter.Kind != "" && p.Kind != filter.Kind {
			continue
		}
		if filter.SourceID != uuid.Nil && p.SourceID != filter.SourceID {
			continue
		}
		if filter.Account != "" && p.AssetAccount != filter.Account && p.CounterAccount != filter.Account {
			continue
		}
		out = append(out, p)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) InsertRevenue(_ context.Context, e ledger.RevenueEntry) error {
	s.revenue[e.ID] = e
	return nil
}

func (s *Store) GetRevenueForUpdate(_ context.Context, id uuid.UUID) (ledger.RevenueEntry, error) {
	e, ok := s.revenue[id]
	if !ok {
		return ledger.RevenueEntry{}, ledger.ErrEntryNotFound
	}
	return e, nil
}

func (s *Store) UpdateRevenue(_ context.Context, e ledger.RevenueEntry) error {
	if _, ok := s.revenue[e.ID]; !ok {
		return ledger.ErrEntryNotFound
	}
	s.revenue[e.ID] = e
	return nil
}

func (s *Store) DeleteRevenue(_ context.Context, id uuid.UUID) error {
	delete(s.revenue, id)
	return nil
}

func (s *Store) ListRevenue(_ context.Context, filter ledger.EntryFilter) ([]ledger.RevenueEntry, error) {
	var out []ledger.RevenueEntry
	for _, e := range s.revenue {
		if filter.Contains(e.EntryDate) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryDate.After(out[j].EntryDate) })
	return out, nil
}

func (s *Store) InsertExpense(_ context.Context, e ledger.ExpenseEntry) error {
	s.expenses[e.ID] = e
	return nil
}

func (s *Store) GetExpenseForUpdate(_ context.Context, id uuid.UUID) (ledger.ExpenseEntry, error) {
	e, ok := s.expenses[id]
	if !ok {
		return ledger.ExpenseEntry{}, ledger.ErrEntryNotFound
	}
	return e, nil
}

func (s *Store) UpdateExpense(_ context.Context, e ledger.ExpenseEntry) error {
	if _, ok := s.expenses[e.ID]; !ok {
		return ledger.ErrEntryNotFound
	}
	s.expenses[e.ID] = e
	return nil
}

func (s *Store) DeleteExpense(_ context.Context, id uuid.UUID) error {
	delete(s.expenses, id)
	return nil
}

func (s *Store) ListExpenses(_ context.Context, filter ledger.EntryFilter) ([]ledger.ExpenseEntry, error) {
	var out []ledger.ExpenseEntry
	for _, e := range s.expenses {
		if filter.Contains(e.EntryDate) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryDate.After(out[j].EntryDate) })
	return out, nil
}

func (s *Store) InsertEquity(_ context.Context, e ledger.EquityEntry) error {
	s.equity[e.ID] = e
	return nil
}

func (s *Store) GetEquityForUpdate(_ context.Context, id uuid.UUID) (ledger.EquityEntry, error) {
	e, ok := s.equity[id]
	if !ok {
		return ledger.EquityEntry{}, ledger.ErrEntryNotFound
	}
	return e, nil
}

func (s *Store) UpdateEquity(_ context.Context, e ledger.EquityEntry) error {
	if _, ok := s.equity[e.ID]; !ok {
		return ledger.ErrEntryNotFound
	}
	s.equity[e.ID] = e
	return nil
}

func (s *Store) DeleteEquity(_ context.Context, id uuid.UUID) error {
	delete(s.equity, id)
	return nil
}

func (s *Store) ListEquity(_ context.Context, filter ledger.EntryFilter) ([]ledger.EquityEntry, error) {
	var out []ledger.EquityEntry
	for _, e := range s.equity {
		if filter.Contains(e.EntryDate) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryDate.After(out[j].EntryDate) })
	return out, nil
}
