package finance

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/royalty/internal/ledger"
	"github.com/odyssey-erp/royalty/internal/royalty"
	"github.com/odyssey-erp/royalty/internal/shared"
)

// buildPL aggregates paid royalties and manual entries. Payments of branches missing
// from names are orphaned and left out.
func buildPL(start, end time.Time, payments []royalty.Payment, names map[int64]string, revenue []ledger.RevenueEntry, expenses []ledger.ExpenseEntry) PLSummary {
	pl := PLSummary{
		PeriodStart:      start,
		PeriodEnd:        end,
		RevenueBreakdown: RevenueBreakdown{ByCategory: map[string]decimal.Decimal{}},
		ExpenseBreakdown: ExpenseBreakdown{ByCategory: map[string]decimal.Decimal{}},
		RoyaltyByBranch:  []BranchIncome{},
	}

	byBranch := make(map[int64]*BranchIncome)
	for _, p := range payments {
		name, ok := names[p.BranchID]
		if !ok || p.PaidAmount == nil {
			continue
		}
		bi := byBranch[p.BranchID]
		if bi == nil {
			bi = &BranchIncome{BranchID: p.BranchID, BranchName: name}
			byBranch[p.BranchID] = bi
		}
		bi.Amount = bi.Amount.Add(*p.PaidAmount)
		bi.Count++
		pl.RevenueBreakdown.RoyaltyIncome = pl.RevenueBreakdown.RoyaltyIncome.Add(*p.PaidAmount)
		pl.RoyaltyPaymentCount++
	}
	for _, bi := range byBranch {
		pl.RoyaltyByBranch = append(pl.RoyaltyByBranch, *bi)
	}
	sort.Slice(pl.RoyaltyByBranch, func(i, j int) bool {
		a, b := pl.RoyaltyByBranch[i], pl.RoyaltyByBranch[j]
		if !a.Amount.Equal(b.Amount) {
			return a.Amount.GreaterThan(b.Amount)
		}
		return a.BranchID < b.BranchID
	})

	for _, e := range revenue {
		cat := string(e.Category)
		pl.RevenueBreakdown.ByCategory[cat] = pl.RevenueBreakdown.ByCategory[cat].Add(e.Amount)
		pl.RevenueBreakdown.OtherRevenue = pl.RevenueBreakdown.OtherRevenue.Add(e.Amount)
		if e.Destination.IsNone() {
			pl.Tracking.UntrackedRevenue = pl.Tracking.UntrackedRevenue.Add(e.Amount)
		} else {
			pl.Tracking.TrackedRevenue = pl.Tracking.TrackedRevenue.Add(e.Amount)
		}
		pl.ManualRevenueCount++
	}

	for _, e := range expenses {
		if e.ExpenseType == ledger.ExpenseFixed {
			pl.ExpenseBreakdown.FixedExpenses = pl.ExpenseBreakdown.FixedExpenses.Add(e.Amount)
		} else {
			pl.ExpenseBreakdown.OperatingExpenses = pl.ExpenseBreakdown.OperatingExpenses.Add(e.Amount)
		}
		cat := string(e.Category)
		pl.ExpenseBreakdown.ByCategory[cat] = pl.ExpenseBreakdown.ByCategory[cat].Add(e.Amount)
		if e.Source.IsNone() {
			pl.Tracking.UntrackedExpenses = pl.Tracking.UntrackedExpenses.Add(e.Amount)
		} else {
			pl.Tracking.TrackedExpenses = pl.Tracking.TrackedExpenses.Add(e.Amount)
		}
		pl.ExpenseCount++
	}

	pl.ExpenseBreakdown.Total = pl.ExpenseBreakdown.FixedExpenses.Add(pl.ExpenseBreakdown.OperatingExpenses)
	pl.TotalRevenue = pl.RevenueBreakdown.RoyaltyIncome.Add(pl.RevenueBreakdown.OtherRevenue)
	pl.TotalExpenses = pl.ExpenseBreakdown.Total
	pl.NetIncome = pl.TotalRevenue.Sub(pl.TotalExpenses)
	pl.NetMargin = margin(pl.NetIncome, pl.TotalRevenue)
	// No cost of sales is tracked, so gross and net margin coincide.
	pl.GrossMargin = pl.NetMargin
	return pl
}

func margin(income, revenue decimal.Decimal) decimal.Decimal {
	if !revenue.IsPositive() {
		return decimal.Zero
	}
	return income.Mul(hundred).Div(revenue).Round(2)
}

// buildBalanceSheet sums account balances per side and checks the identity
// assets = liabilities + equity. Open royalty payments are reported as a memo.
func buildBalanceSheet(asOf time.Time, accounts []ledger.Account, open []royalty.Payment) BalanceSheet {
	bs := BalanceSheet{
		AsOf:        asOf,
		Assets:      []AccountLine{},
		Liabilities: []AccountLine{},
		Equity:      []AccountLine{},
	}
	sorted := append([]ledger.Account(nil), accounts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].IsSystem != sorted[j].IsSystem {
			return sorted[i].IsSystem
		}
		return sorted[i].Name < sorted[j].Name
	})
	for _, acc := range sorted {
		line := AccountLine{ID: acc.ID, Name: acc.Name, AssetClass: acc.AssetClass, Balance: acc.Balance, IsActive: acc.IsActive}
		switch acc.Type {
		case ledger.AccountTypeAsset:
			bs.Assets = append(bs.Assets, line)
			switch acc.AssetClass {
			case ledger.AssetClassFixed:
				bs.FixedAssets = bs.FixedAssets.Add(acc.Balance)
			case ledger.AssetClassIntangible:
				bs.IntangibleAssets = bs.IntangibleAssets.Add(acc.Balance)
			default:
				bs.CurrentAssets = bs.CurrentAssets.Add(acc.Balance)
			}
		case ledger.AccountTypeLiability:
			bs.Liabilities = append(bs.Liabilities, line)
		case ledger.AccountTypeEquity:
			bs.Equity = append(bs.Equity, line)
			switch acc.ID {
			case ledger.RetainedEarningsAccount:
				bs.RetainedEarnings = acc.Balance
			case ledger.OwnerEquityAccount:
				bs.OwnerEquity = acc.Balance
			}
		}
	}
	bs.TotalAssets, bs.TotalLiabilities, bs.TotalEquity = ledger.Totals(accounts)

	for _, p := range open {
		if !p.IsOpen() {
			continue
		}
		bs.RoyaltyReceivables = bs.RoyaltyReceivables.Add(p.TotalDue)
		bs.ReceivableCount++
	}

	bs.Difference = bs.TotalAssets.Sub(bs.TotalLiabilities.Add(bs.TotalEquity))
	bs.IsBalanced = bs.Difference.IsZero()
	if !bs.IsBalanced {
		bs.Warning = fmt.Sprintf("%s: assets %s, liabilities %s, equity %s, difference %s",
			shared.ErrConsistencyViolation, bs.TotalAssets.StringFixed(2), bs.TotalLiabilities.StringFixed(2),
			bs.TotalEquity.StringFixed(2), bs.Difference.StringFixed(2))
	}
	return bs
}
