package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/royalty/internal/shared"
)

// EquityInput records an owner contribution or withdrawal.
type EquityInput struct {
	Kind        EquityKind `validate:"required,oneof=owner_capital additional_investment drawings"`
	Description string     `validate:"required,max=200"`
	Amount      decimal.Decimal
	EntryDate   time.Time `validate:"required"`
	Notes       string    `validate:"max=1000"`
	Account     Destination
	Actor       int64 `validate:"required,gt=0"`
}

// EquityUpdate patches an equity entry.
type EquityUpdate struct {
	Kind        *EquityKind `validate:"omitempty,oneof=owner_capital additional_investment drawings"`
	Description *string     `validate:"omitempty,min=1,max=200"`
	Amount      *decimal.Decimal
	EntryDate   *time.Time
	Notes       *string `validate:"omitempty,max=1000"`
	Account     *Destination
	Actor       int64 `validate:"required,gt=0"`
}

// RecordEquity stores an equity entry and posts it between Account and owner equity.
func (s *Service) RecordEquity(ctx context.Context, in EquityInput) (EquityEntry, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return EquityEntry{}, err
	}
	if !in.Amount.IsPositive() {
		return EquityEntry{}, shared.Validationf("amount must be greater than zero")
	}
	if in.Account.IsNone() {
		return EquityEntry{}, shared.Validationf("equity entries need an asset account")
	}
	now := s.now()
	entry := EquityEntry{
		ID:          uuid.New(),
		Kind:        in.Kind,
		Description: in.Description,
		Amount:      in.Amount.Round(2),
		EntryDate:   in.EntryDate,
		Notes:       in.Notes,
		Account:     in.Account,
		CreatedBy:   in.Actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repo) error {
		if err := CheckSettlementTarget(ctx, tx, entry.Account); err != nil {
			return err
		}
		if err := tx.InsertEquity(ctx, entry); err != nil {
			return err
		}
		return Repost(ctx, tx, PostingOwnerEquity, entry.ID, entry.Account, OwnerEquityAccount, entry.PostedAmount(), in.Actor, entry.Description, now)
	})
	if err != nil {
		return EquityEntry{}, err
	}
	s.invalidate(ctx)
	s.record(ctx, in.Actor, "ledger.equity.create", "equity_entry", entry.ID.String(), map[string]any{
		"kind":    string(entry.Kind),
		"amount":  entry.Amount.StringFixed(2),
		"account": entry.Account.String(),
	})
	return entry, nil
}

// UpdateEquity patches an entry. Changing the kind, amount or account reverses the
// live posting and posts the new one in the same transaction.
func (s *Service) UpdateEquity(ctx context.Context, id uuid.UUID, in EquityUpdate) (EquityEntry, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return EquityEntry{}, err
	}
	if in.Amount != nil && !in.Amount.IsPositive() {
		return EquityEntry{}, shared.Validationf("amount must be greater than zero")
	}
	if in.Account != nil && in.Account.IsNone() {
		return EquityEntry{}, shared.Validationf("equity entries need an asset account")
	}
	var updated EquityEntry
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repo) error {
		entry, err := tx.GetEquityForUpdate(ctx, id)
		if err != nil {
			return err
		}
		before := entry
		if in.Kind != nil {
			entry.Kind = *in.Kind
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
		if in.Account != nil {
			entry.Account = *in.Account
		}
		entry.UpdatedAt = now
		if entry.Account != before.Account || !entry.PostedAmount().Equal(before.PostedAmount()) {
			if err := CheckSettlementTarget(ctx, tx, entry.Account); err != nil {
				return err
			}
			if err := Repost(ctx, tx, PostingOwnerEquity, entry.ID, entry.Account, OwnerEquityAccount, entry.PostedAmount(), in.Actor, entry.Description, now); err != nil {
				return err
			}
		}
		if err := tx.UpdateEquity(ctx, entry); err != nil {
			return err
		}
		updated = entry
		return nil
	})
	if err != nil {
		return EquityEntry{}, err
	}
	s.invalidate(ctx)
	s.record(ctx, in.Actor, "ledger.equity.update", "equity_entry", id.String(), map[string]any{
		"kind":    string(updated.Kind),
		"amount":  updated.Amount.StringFixed(2),
		"account": updated.Account.String(),
	})
	return updated, nil
}

// DeleteEquity removes an entry and reverses its posting.
func (s *Service) DeleteEquity(ctx context.Context, id uuid.UUID, actor int64) error {
	if actor <= 0 {
		return shared.ErrUnauthorized
	}
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repo) error {
		entry, err := tx.GetEquityForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := Repost(ctx, tx, PostingOwnerEquity, entry.ID, None(), OwnerEquityAccount, decimal.Zero, actor, "", now); err != nil {
			return err
		}
		return tx.DeleteEquity(ctx, id)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	s.record(ctx, actor, "ledger.equity.delete", "equity_entry", id.String(), nil)
	return nil
}

// ListEquity returns equity entries within filter.
func (s *Service) ListEquity(ctx context.Context, filter EntryFilter) ([]EquityEntry, error) {
	var entries []EquityEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repo) error {
		var err error
		entries, err = tx.ListEquity(ctx, filter)
		return err
	})
	return entries, err
}
