package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/royalty/internal/shared"
)

// PostInput describes a double-entry movement.
type PostInput struct {
	Kind           PostingKind
	SourceID       uuid.UUID
	Revision       int
	AssetAccount   AccountID
	CounterAccount AccountID
	Amount         decimal.Decimal
	Memo           string
	PostedBy       int64
	At             time.Time
}

// Post applies a posting inside the caller's transaction: both accounts are locked,
// both balances move by Amount, and the journal row is appended.
func Post(ctx context.Context, repo Repo, in PostInput) (Posting, error) {
	if in.Kind == "" || in.SourceID == uuid.Nil {
		return Posting{}, shared.Validationf("ledger: posting kind and source required")
	}
	if in.Amount.IsZero() {
		return Posting{}, ErrZeroAmount
	}
	if in.Revision <= 0 {
		in.Revision = 1
	}
	asset, counter, err := lockPair(ctx, repo, in.AssetAccount, in.CounterAccount)
	if err != nil {
		return Posting{}, err
	}
	if asset.Type != AccountTypeAsset || (counter.Type != AccountTypeLiability && counter.Type != AccountTypeEquity) {
		return Posting{}, ErrWrongSide
	}
	if !asset.IsActive {
		return Posting{}, fmt.Errorf("%w: %s", ErrAccountInactive, asset.Name)
	}
	posting := Posting{
		ID:             uuid.New(),
		Kind:           in.Kind,
		SourceID:       in.SourceID,
		Revision:       in.Revision,
		AssetAccount:   asset.ID,
		CounterAccount: counter.ID,
		Amount:         in.Amount.Round(2),
		Memo:           in.Memo,
		PostedBy:       in.PostedBy,
		PostedAt:       in.At,
	}
	if err := apply(ctx, repo, posting); err != nil {
		return Posting{}, err
	}
	return posting, nil
}

// Reverse appends the mirror image of original. Reversals are allowed on inactive
// accounts so deactivated assets can still be unwound.
func Reverse(ctx context.Context, repo Repo, original Posting, actor int64, at time.Time) (Posting, error) {
	if original.ReversalOf != nil {
		return Posting{}, shared.Transitionf("ledger: posting %s is itself a reversal", original.ID)
	}
	if _, _, err := lockPair(ctx, repo, original.AssetAccount, original.CounterAccount); err != nil {
		return Posting{}, err
	}
	origID := original.ID
	reversal := Posting{
		ID:             uuid.New(),
		Kind:           original.Kind,
		SourceID:       original.SourceID,
		Revision:       original.Revision,
		AssetAccount:   original.AssetAccount,
		CounterAccount: original.CounterAccount,
		Amount:         original.Amount.Neg(),
		ReversalOf:     &origID,
		Memo:           "reversal",
		PostedBy:       actor,
		PostedAt:       at,
	}
	if err := apply(ctx, repo, reversal); err != nil {
		return Posting{}, err
	}
	return reversal, nil
}

func apply(ctx context.Context, repo Repo, p Posting) error {
	if err := repo.AdjustBalance(ctx, p.AssetAccount, p.Amount, p.PostedAt); err != nil {
		return err
	}
	if err := repo.AdjustBalance(ctx, p.CounterAccount, p.Amount, p.PostedAt); err != nil {
		return err
	}
	return repo.InsertPosting(ctx, p)
}

// lockPair takes row locks in a stable order so two postings on the same accounts
// cannot deadlock.
func lockPair(ctx context.Context, repo Repo, assetID, counterID AccountID) (Account, Account, error) {
	if assetID == "" || counterID == "" || assetID == counterID {
		return Account{}, Account{}, ErrWrongSide
	}
	ids := []AccountID{assetID, counterID}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	locked := make(map[AccountID]Account, 2)
	for _, id := range ids {
		acc, err := repo.GetAccountForUpdate(ctx, id)
		if err != nil {
			return Account{}, Account{}, err
		}
		locked[id] = acc
	}
	return locked[assetID], locked[counterID], nil
}

// livePosting returns the forward posting for a source that has not been reversed yet,
// plus the next free revision number.
func livePosting(postings []Posting) (*Posting, int) {
	reversed := make(map[uuid.UUID]bool)
	maxRevision := 0
	for _, p := range postings {
		if p.ReversalOf != nil {
			reversed[*p.ReversalOf] = true
		}
		if p.Revision > maxRevision {
			maxRevision = p.Revision
		}
	}
	var live *Posting
	for i := range postings {
		p := postings[i]
		if p.ReversalOf == nil && !reversed[p.ID] {
			live = &p
		}
	}
	return live, maxRevision + 1
}

// Repost reverses whatever is live for (kind, source) and, unless dest is None, posts
// amount to dest against the counter account. Used when a manual entry is created,
// edited, or deleted.
func Repost(ctx context.Context, repo Repo, kind PostingKind, sourceID uuid.UUID, dest Destination, counter AccountID, amount decimal.Decimal, actor int64, memo string, at time.Time) error {
	postings, err := repo.ListPostings(ctx, PostingFilter{Kind: kind, SourceID: sourceID})
	if err != nil {
		return err
	}
	live, next := livePosting(postings)
	if live != nil {
		if _, err := Reverse(ctx, repo, *live, actor, at); err != nil {
			return err
		}
	}
	if dest.IsNone() {
		return nil
	}
	_, err = Post(ctx, repo, PostInput{
		Kind:           kind,
		SourceID:       sourceID,
		Revision:       next,
		AssetAccount:   dest.AccountID(),
		CounterAccount: counter,
		Amount:         amount,
		Memo:           memo,
		PostedBy:       actor,
		At:             at,
	})
	return err
}
