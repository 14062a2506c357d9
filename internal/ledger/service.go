package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/royalty/internal/shared"
)

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ReportInvalidator drops cached financial reports after ledger mutations.
type ReportInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Service manages the account registry and manual revenue/expense entries.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	invalidator ReportInvalidator
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, audit AuditPort, invalidator ReportInvalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, invalidator: invalidator, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// RegisterAssetInput declares a manually tracked asset account.
type RegisterAssetInput struct {
	Name       string     `validate:"required,max=120"`
	AssetClass AssetClass `validate:"required,oneof=current fixed intangible"`
	Notes      string     `validate:"max=1000"`
	Actor      int64      `validate:"required,gt=0"`
}

// DeclareLiabilityInput records borrowed funds landing in an asset account.
type DeclareLiabilityInput struct {
	Name     string `validate:"required,max=120"`
	Amount   decimal.Decimal
	FundedTo Destination
	Notes    string `validate:"max=1000"`
	Actor    int64  `validate:"required,gt=0"`
}

// AccountUpdate renames or annotates a manual asset or liability.
type AccountUpdate struct {
	Name  *string `validate:"omitempty,min=1,max=120"`
	Notes *string `validate:"omitempty,max=1000"`
	Actor int64   `validate:"required,gt=0"`
}

// LiabilityMovementInput moves cash between an asset and an existing liability.
type LiabilityMovementInput struct {
	Amount  decimal.Decimal
	Account Destination
	Memo    string `validate:"max=200"`
	Actor   int64  `validate:"required,gt=0"`
}

// RevenueInput records manual revenue.
type RevenueInput struct {
	Category    RevenueCategory `validate:"required,oneof=consulting franchise_fee training_fee marketing_fee other"`
	Description string          `validate:"required,max=200"`
	Amount      decimal.Decimal
	EntryDate   time.Time `validate:"required"`
	Notes       string    `validate:"max=1000"`
	Destination Destination
	Actor       int64 `validate:"required,gt=0"`
}

// RevenueUpdate patches a revenue entry. A non-nil Destination equal to None clears it.
type RevenueUpdate struct {
	Category    *RevenueCategory `validate:"omitempty,oneof=consulting franchise_fee training_fee marketing_fee other"`
	Description *string          `validate:"omitempty,min=1,max=200"`
	Amount      *decimal.Decimal
	EntryDate   *time.Time
	Notes       *string `validate:"omitempty,max=1000"`
	Destination *Destination
	Actor       int64 `validate:"required,gt=0"`
}

// ExpenseInput records a manual expense.
type ExpenseInput struct {
	Category     ExpenseCategory `validate:"required,oneof=office_rent utilities salaries insurance software_subscriptions marketing travel office_supplies professional_fees maintenance miscellaneous"`
	ExpenseType  ExpenseType     `validate:"required,oneof=fixed operating"`
	Description  string          `validate:"required,max=200"`
	Amount       decimal.Decimal
	EntryDate    time.Time `validate:"required"`
	IsRecurring  bool
	RecurringDay int    `validate:"omitempty,min=1,max=28"`
	Notes        string `validate:"max=1000"`
	Source       Destination
	Actor        int64 `validate:"required,gt=0"`
}

// ExpenseUpdate patches an expense entry. A non-nil Source equal to None clears it.
type ExpenseUpdate struct {
	Category    *ExpenseCategory `validate:"omitempty,oneof=office_rent utilities salaries insurance software_subscriptions marketing travel office_supplies professional_fees maintenance miscellaneous"`
	ExpenseType *ExpenseType     `validate:"omitempty,oneof=fixed operating"`
	Description *string          `validate:"omitempty,min=1,max=200"`
	Amount      *decimal.Decimal
	EntryDate   *time.Time
	Notes       *string `validate:"omitempty,max=1000"`
	Source      *Destination
	Actor       int64 `validate:"required,gt=0"`
}

// RegisterAsset creates a manual asset with a zero balance; funds arrive through postings.
func (s *Service) RegisterAsset(ctx context.Context, in RegisterAssetInput) (Account, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return Account{}, err
	}
	now := s.now()
	id := uuid.New()
	account := Account{
		ID:         AccountIDFor(id),
		Name:       in.Name,
		Type:       AccountTypeAsset,
		AssetClass: in.AssetClass,
		Balance:    decimal.Zero,
		IsActive:   true,
		Notes:      in.Notes,
		CreatedBy:  in.Actor,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repo) error {
		return tx.InsertAccount(ctx, account)
	})
	if err != nil {
		return Account{}, err
	}
	s.record(ctx, in.Actor, "ledger.asset.register", "ledger_account", string(account.ID), map[string]any{
		"name":        account.Name,
		"asset_class": string(account.AssetClass),
	})
	return account, nil
}

// DeactivateAsset stops new postings to a manual asset. Its balance stays on the books.
func (s *Service) DeactivateAsset(ctx context.Context, id AccountID, actor int64) error {
	if actor <= 0 {
		return shared.ErrUnauthorized
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repo) error {
		acc, err := tx.GetAccountForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if acc.IsSystem || acc.Type != AccountTypeAsset {
			return shared.Transitionf("ledger: account %s cannot be deactivated", acc.Name)
		}
		if !acc.IsActive {
			return shared.Transitionf("ledger: account %s already inactive", acc.Name)
		}
		return tx.SetAccountActive(ctx, id, false, s.now())
	})
	if err != nil {
		return err
	}
	s.record(ctx, actor, "ledger.asset.deactivate", "ledger_account", string(id), nil)
	return nil
}

// DeclareLiability creates a liability account and posts the funds into FundedTo.
func (s *Service) DeclareLiability(ctx context.Context, in DeclareLiabilityInput) (Account, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return Account{}, err
	}
	if !in.Amount.IsPositive() {
		return Account{}, shared.Validationf("amount must be greater than zero")
	}
	if in.FundedTo.IsNone() {
		return Account{}, shared.Validationf("liability must fund an asset account")
	}
	if err := in.FundedTo.Validate(); err != nil {
		return Account{}, err
	}
	now := s.now()
	id := uuid.New()
	account := Account{
		ID:        AccountIDFor(id),
		Name:      in.Name,
		Type:      AccountTypeLiability,
		Balance:   decimal.Zero,
		IsActive:  true,
		Notes:     in.Notes,
		CreatedBy: in.Actor,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repo) error {
		if err := tx.InsertAccount(ctx, account); err != nil {
			return err
		}
		posting, err := Post(ctx, tx, PostInput{
			Kind:           PostingLiabilityDrawdown,
			SourceID:       id,
			AssetAccount:   in.FundedTo.AccountID(),
			CounterAccount: account.ID,
			Amount:         in.Amount,
			Memo:           in.Name,
			PostedBy:       in.Actor,
			At:             now,
		})
		if err != nil {
			return err
		}
		account.Balance = posting.Amount
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	s.invalidate(ctx)
	s.record(ctx, in.Actor, "ledger.liability.declare", "ledger_account", string(account.ID), map[string]any{
		"amount":    in.Amount.StringFixed(2),
		"funded_to": in.FundedTo.String(),
	})
	return account, nil
}

// UpdateAccount changes the name or notes of a manual account. Balances only move
// through postings.
func (s *Service) UpdateAccount(ctx context.Context, id AccountID, in AccountUpdate) (Account, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return Account{}, err
	}
	var updated Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repo) error {
		acc, err := tx.GetAccountForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if acc.IsSystem {
			return shared.Transitionf("ledger: system account %s cannot be edited", acc.Name)
		}
		if in.Name != nil {
			acc.Name = *in.Name
		}
		if in.Notes != nil {
			acc.Notes = *in.Notes
		}
		acc.UpdatedAt = s.now()
		if err := tx.UpdateAccountDetails(ctx, id, acc.Name, acc.Notes, acc.UpdatedAt); err != nil {
			return err
		}
		updated = acc
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	s.invalidate(ctx)
	s.record(ctx, in.Actor, "ledger.account.update", "ledger_account", string(id), map[string]any{
		"name": updated.Name,
	})
	return updated, nil
}

// DeactivateLiability retires a fully repaid liability.
func (s *Service) DeactivateLiability(ctx context.Context, id AccountID, actor int64) error {
	if actor <= 0 {
		return shared.ErrUnauthorized
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repo) error {
		acc, err := tx.GetAccountForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if acc.IsSystem || acc.Type != AccountTypeLiability {
			return shared.Transitionf("ledger: account %s is not a liability", acc.Name)
		}
		if !acc.IsActive {
			return shared.Transitionf("ledger: account %s already inactive", acc.Name)
		}
		if !acc.Balance.IsZero() {
			return shared.Transitionf("ledger: liability %s still owes %s", acc.Name, acc.Balance.StringFixed(2))
		}
		return tx.SetAccountActive(ctx, id, false, s.now())
	})
	if err != nil {
		return err
	}
	s.record(ctx, actor, "ledger.liability.deactivate", "ledger_account", string(id), nil)
	return nil
}

// RepayLiability pays down a liability from an asset: both balances drop by Amount.
// Paying more than is outstanding is rejected.
func (s *Service) RepayLiability(ctx context.Context, id AccountID, in LiabilityMovementInput) (Posting, error) {
	return s.moveLiability(ctx, id, in, PostingLiabilityRepay, "ledger.liability.repay")
}

// DrawLiability borrows more against an existing liability into an asset.
func (s *Service) DrawLiability(ctx context.Context, id AccountID, in LiabilityMovementInput) (Posting, error) {
	return s.moveLiability(ctx, id, in, PostingLiabilityDrawdown, "ledger.liability.draw")
}

func (s *Service) moveLiability(ctx context.Context, id AccountID, in LiabilityMovementInput, kind PostingKind, action string) (Posting, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return Posting{}, err
	}
	if !in.Amount.IsPositive() {
		return Posting{}, shared.Validationf("amount must be greater than zero")
	}
	if in.Account.IsNone() {
		return Posting{}, shared.Validationf("liability movements need an asset account")
	}
	if err := in.Account.Validate(); err != nil {
		return Posting{}, err
	}
	amount := in.Amount.Round(2)
	if kind == PostingLiabilityRepay {
		amount = amount.Neg()
	}
	now := s.now()
	var posting Posting
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repo) error {
		acc, err := tx.GetAccountForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if acc.IsSystem || acc.Type != AccountTypeLiability {
			return shared.Transitionf("ledger: account %s is not a liability", acc.Name)
		}
		if !acc.IsActive {
			return fmt.Errorf("%w: %s", ErrAccountInactive, acc.Name)
		}
		if kind == PostingLiabilityRepay && in.Amount.Round(2).GreaterThan(acc.Balance) {
			return fmt.Errorf("%w: %s outstanding on %s", ErrExceedsOutstanding, acc.Balance.StringFixed(2), acc.Name)
		}
		memo := in.Memo
		if memo == "" {
			memo = acc.Name
		}
		posting, err = Post(ctx, tx, PostInput{
			Kind:           kind,
			SourceID:       uuid.New(),
			AssetAccount:   in.Account.AccountID(),
			CounterAccount: id,
			Amount:         amount,
			Memo:           memo,
			PostedBy:       in.Actor,
			At:             now,
		})
		return err
	})
	if err != nil {
		return Posting{}, err
	}
	s.invalidate(ctx)
	s.record(ctx, in.Actor, action, "ledger_account", string(id), map[string]any{
		"amount":  in.Amount.StringFixed(2),
		"account": in.Account.String(),
	})
	return posting, nil
}

// ListAccounts returns every account with its current balance.
func (s *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repo) error {
		var err error
		accounts, err = tx.ListAccounts(ctx)
		return err
	})
	return accounts, err
}

// ListDestinations returns sales cash first, then active manual assets by name.
// currentOnly restricts the list to targets valid for manual revenue and expenses.
func (s *Service) ListDestinations(ctx context.Context, currentOnly bool) ([]DestinationOption, error) {
	accounts, err := s.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	var salesCash *DestinationOption
	var assets []DestinationOption
	for _, acc := range accounts {
		if acc.Type != AccountTypeAsset || !acc.IsActive {
			continue
		}
		if currentOnly && acc.AssetClass != AssetClassCurrent {
			continue
		}
		if acc.ID == SalesCashAccount {
			salesCash = &DestinationOption{Destination: SalesCash(), Label: acc.Name, Balance: acc.Balance}
			continue
		}
		id, err := uuid.Parse(string(acc.ID))
		if err != nil {
			continue
		}
		assets = append(assets, DestinationOption{Destination: ManualAsset(id), Label: acc.Name, Balance: acc.Balance})
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Label < assets[j].Label })
	out := make([]DestinationOption, 0, len(assets)+1)
	if salesCash != nil {
		out = append(out, *salesCash)
	}
	return append(out, assets...), nil
}

// ListPostings returns journal rows matching filter.
func (s *Service) ListPostings(ctx context.Context, filter PostingFilter) ([]Posting, error) {
	var postings []Posting
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repo) error {
		var err error
		postings, err = tx.ListPostings(ctx, filter)
		return err
	})
	return postings, err
}

// RecordRevenue stores a manual revenue entry and, when it has a destination, credits
// that asset against retained earnings.
func (s *Service) RecordRevenue(ctx context.Context, in RevenueInput) (RevenueEntry, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return RevenueEntry{}, err
	}
	if !in.Amount.IsPositive() {
		return RevenueEntry{}, shared.Validationf("amount must be greater than zero")
	}
	now := s.now()
	entry := RevenueEntry{
		ID:          uuid.New(),
		Category:    in.Category,
		Description: in.Description,
		Amount:      in.Amount.Round(2),
		EntryDate:   in.EntryDate,
		Notes:       in.Notes,
		Destination: in.Destination,
		CreatedBy:   in.Actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repo) error {
		if err := checkManualTarget(ctx, tx, entry.Destination); err != nil {
			return err
		}
		if err := tx.InsertRevenue(ctx, entry); err != nil {
			return err
		}
		return Repost(ctx, tx, PostingManualRevenue, entry.ID, entry.Destination, RetainedEarningsAccount, entry.Amount, in.Actor, entry.Description, now)
	})
	if err != nil {
		return RevenueEntry{}, err
	}
	s.invalidate(ctx)
	s.record(ctx, in.Actor, "ledger.revenue.create", "manual_revenue", entry.ID.String(), map[string]any{
		"amount":      entry.Amount.StringFixed(2),
		"destination": entry.Destination.String(),
	})
	return entry, nil
}

// UpdateRevenue patches an entry; any balance effect is reversed and re-posted in the
// same transaction.
func (s *Service) UpdateRevenue(ctx context.Context, id uuid.UUID, in RevenueUpdate) (RevenueEntry, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return RevenueEntry{}, err
	}
	if in.Amount != nil && !in.Amount.IsPositive() {
		return RevenueEntry{}, shared.Validationf("amount must be greater than zero")
	}
	var updated RevenueEntry
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repo) error {
		entry, err := tx.GetRevenueForUpdate(ctx, id)
		if err != nil {
			return err
		}
		before := entry
		if in.Category != nil {
			entry.Category = *in.Category
		}
		if in.Description != nil {
			entry.Description = *in.Description
		}
		if in.Amount != nil {
			entry.Amount = in.Amount.Round(2)
		}
		if in.EntryDate != nil {
			entry.EntryDate = *in.EntryDate
		}
		if in.Notes != nil {
			entry.Notes = *in.Notes
		}
		if in.Destination != nil {
			entry.Destination = *in.Destination
		}
		entry.UpdatedAt = now
		if entry.Destination != before.Destination || !entry.Amount.Equal(before.Amount) {
			if err := checkManualTarget(ctx, tx, entry.Destination); err != nil {
				return err
			}
			if err := Repost(ctx, tx, PostingManualRevenue, entry.ID, entry.Destination, RetainedEarningsAccount, entry.Amount, in.Actor, entry.Description, now); err != nil {
				return err
			}
		}
		if err := tx.UpdateRevenue(ctx, entry); err != nil {
			return err
		}
		updated = entry
		return nil
	})
	if err != nil {
		return RevenueEntry{}, err
	}
	s.invalidate(ctx)
	s.record(ctx, in.Actor, "ledger.revenue.update", "manual_revenue", id.String(), map[string]any{
		"amount":      updated.Amount.StringFixed(2),
		"destination": updated.Destination.String(),
	})
	return updated, nil
}

// DeleteRevenue removes an entry and reverses its posting.
func (s *Service) DeleteRevenue(ctx context.Context, id uuid.UUID, actor int64) error {
	if actor <= 0 {
		return shared.ErrUnauthorized
	}
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repo) error {
		entry, err := tx.GetRevenueForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := Repost(ctx, tx, PostingManualRevenue, entry.ID, None(), RetainedEarningsAccount, decimal.Zero, actor, "", now); err != nil {
			return err
		}
		return tx.DeleteRevenue(ctx, id)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	s.record(ctx, actor, "ledger.revenue.delete", "manual_revenue", id.String(), nil)
	return nil
}

// ListRevenue returns manual revenue entries within filter.
func (s *Service) ListRevenue(ctx context.Context, filter EntryFilter) ([]RevenueEntry, error) {
	var entries []RevenueEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repo) error {
		var err error
		entries, err = tx.ListRevenue(ctx, filter)
		return err
	})
	return entries, err
}

// RecordExpense stores a manual expense and, when it has a source, debits that asset
// against retained earnings.
func (s *Service) RecordExpense(ctx context.Context, in ExpenseInput) (ExpenseEntry, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return ExpenseEntry{}, err
	}
	if !in.Amount.IsPositive() {
		return ExpenseEntry{}, shared.Validationf("amount must be greater than zero")
	}
	if in.IsRecurring && in.RecurringDay == 0 {
		return ExpenseEntry{}, shared.Validationf("recurring expenses need a recurring day")
	}
	now := s.now()
	entry := ExpenseEntry{
		ID:           uuid.New(),
		Category:     in.Category,
		ExpenseType:  in.ExpenseType,
		Description:  in.Description,
		Amount:       in.Amount.Round(2),
		EntryDate:    in.EntryDate,
		IsRecurring:  in.IsRecurring,
		RecurringDay: in.RecurringDay,
		Notes:        in.Notes,
		Source:       in.Source,
		CreatedBy:    in.Actor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repo) error {
		if err := checkManualTarget(ctx, tx, entry.Source); err != nil {
			return err
		}
		if err := tx.InsertExpense(ctx, entry); err != nil {
			return err
		}
		return Repost(ctx, tx, PostingManualExpense, entry.ID, entry.Source, RetainedEarningsAccount, entry.Amount.Neg(), in.Actor, entry.Description, now)
	})
	if err != nil {
		return ExpenseEntry{}, err
	}
	s.invalidate(ctx)
	s.record(ctx, in.Actor, "ledger.expense.create", "manual_expense", entry.ID.String(), map[string]any{
		"amount": entry.Amount.StringFixed(2),
		"source": entry.Source.String(),
	})
	return entry, nil
}

// UpdateExpense patches an expense; balance effects are reversed and re-posted.
func (s *Service) UpdateExpense(ctx context.Context, id uuid.UUID, in ExpenseUpdate) (ExpenseEntry, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return ExpenseEntry{}, err
	}
	if in.Amount != nil && !in.Amount.IsPositive() {
		return ExpenseEntry{}, shared.Validationf("amount must be greater than zero")
	}
	var updated ExpenseEntry
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repo) error {
		entry, err := tx.GetExpenseForUpdate(ctx, id)
		if err != nil {
			return err
		}
		before := entry
		if in.Category != nil {
			entry.Category = *in.Category
		}
		if in.ExpenseType != nil {
			entry.ExpenseType = *in.ExpenseType
		}
		if in.Description != nil {
			entry.Description = *in.Description
		}
		if in.Amount != nil {
			entry.Amount = in.Amount.Round(2)
		}
		if in.EntryDate != nil {
			entry.EntryDate = *in.EntryDate
		}
		if in.Notes != nil {
			entry.Notes = *in.Notes
		}
		if in.Source != nil {
			entry.Source = *in.Source
		}
		entry.UpdatedAt = now
		if entry.Source != before.Source || !entry.Amount.Equal(before.Amount) {
			if err := checkManualTarget(ctx, tx, entry.Source); err != nil {
				return err
			}
			if err := Repost(ctx, tx, PostingManualExpense, entry.ID, entry.Source, RetainedEarningsAccount, entry.Amount.Neg(), in.Actor, entry.Description, now); err != nil {
				return err
			}
		}
		if err := tx.UpdateExpense(ctx, entry); err != nil {
			return err
		}
		updated = entry
		return nil
	})
	if err != nil {
		return ExpenseEntry{}, err
	}
	s.invalidate(ctx)
	s.record(ctx, in.Actor, "ledger.expense.update", "manual_expense", id.String(), map[string]any{
		"amount": updated.Amount.StringFixed(2),
		"source": updated.Source.String(),
	})
	return updated, nil
}

// DeleteExpense removes an expense and reverses its posting.
func (s *Service) DeleteExpense(ctx context.Context, id uuid.UUID, actor int64) error {
	if actor <= 0 {
		return shared.ErrUnauthorized
	}
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repo) error {
		entry, err := tx.GetExpenseForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := Repost(ctx, tx, PostingManualExpense, entry.ID, None(), RetainedEarningsAccount, decimal.Zero, actor, "", now); err != nil {
			return err
		}
		return tx.DeleteExpense(ctx, id)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	s.record(ctx, actor, "ledger.expense.delete", "manual_expense", id.String(), nil)
	return nil
}

// ListExpenses returns manual expense entries within filter.
func (s *Service) ListExpenses(ctx context.Context, filter EntryFilter) ([]ExpenseEntry, error) {
	var entries []ExpenseEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repo) error {
		var err error
		entries, err = tx.ListExpenses(ctx, filter)
		return err
	})
	return entries, err
}

// CheckSettlementTarget verifies dest can receive a royalty settlement: any active asset.
func CheckSettlementTarget(ctx context.Context, repo Repo, dest Destination) error {
	if err := dest.Validate(); err != nil {
		return err
	}
	if dest.IsNone() {
		return nil
	}
	acc, err := repo.GetAccount(ctx, dest.AccountID())
	if err != nil {
		return err
	}
	if acc.Type != AccountTypeAsset {
		return ErrWrongSide
	}
	if !acc.IsActive {
		return fmt.Errorf("%w: %s", ErrAccountInactive, acc.Name)
	}
	return nil
}

func checkManualTarget(ctx context.Context, repo Repo, dest Destination) error {
	if err := CheckSettlementTarget(ctx, repo, dest); err != nil {
		return err
	}
	if dest.IsNone() {
		return nil
	}
	acc, err := repo.GetAccount(ctx, dest.AccountID())
	if err != nil {
		return err
	}
	if acc.AssetClass != AssetClassCurrent {
		return ErrNotCurrentAsset
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx); err != nil {
		s.logger.Warn("invalidate report cache", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actor int64, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	})
}
