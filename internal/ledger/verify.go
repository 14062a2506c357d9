package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Drift is a mismatch between a stored balance and the journal replay.
type Drift struct {
	Account  AccountID       `json:"account"`
	Name     string          `json:"name"`
	Stored   decimal.Decimal `json:"stored"`
	Replayed decimal.Decimal `json:"replayed"`
}

// Replay sums every posting into per-account balances.
func Replay(postings []Posting) map[AccountID]decimal.Decimal {
	balances := make(map[AccountID]decimal.Decimal)
	for _, p := range postings {
		balances[p.AssetAccount] = balances[p.AssetAccount].Add(p.Amount)
		balances[p.CounterAccount] = balances[p.CounterAccount].Add(p.Amount)
	}
	return balances
}

// FindDrift compares stored balances with the journal. Accounts referenced only by
// postings are reported with a zero stored balance.
func FindDrift(accounts []Account, postings []Posting) []Drift {
	replayed := Replay(postings)
	seen := make(map[AccountID]bool, len(accounts))
	var drift []Drift
	for _, acc := range accounts {
		seen[acc.ID] = true
		want := replayed[acc.ID]
		if !acc.Balance.Equal(want) {
			drift = append(drift, Drift{Account: acc.ID, Name: acc.Name, Stored: acc.Balance, Replayed: want})
		}
	}
	for id, amount := range replayed {
		if !seen[id] && !amount.IsZero() {
			drift = append(drift, Drift{Account: id, Stored: decimal.Zero, Replayed: amount})
		}
	}
	sort.Slice(drift, func(i, j int) bool { return drift[i].Account < drift[j].Account })
	return drift
}

// Totals sums account balances per side of the balance sheet.
func Totals(accounts []Account) (assets, liabilities, equity decimal.Decimal) {
	for _, acc := range accounts {
		switch acc.Type {
		case AccountTypeAsset:
			assets = assets.Add(acc.Balance)
		case AccountTypeLiability:
			liabilities = liabilities.Add(acc.Balance)
		case AccountTypeEquity:
			equity = equity.Add(acc.Balance)
		}
	}
	return assets, liabilities, equity
}
