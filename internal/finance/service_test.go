package finance_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/royalty/internal/finance"
	"github.com/odyssey-erp/royalty/internal/ledger"
	"github.com/odyssey-erp/royalty/internal/royalty"
	"github.com/odyssey-erp/royalty/internal/shared"
)

var (
	febStart = day(2025, 2, 1)
	febEnd   = endOf(2025, 2, 28)
)

func seedFebruary(t *testing.T, f *fixture) {
	t.Helper()
	f.paid(makati, "10500.00", day(2025, 2, 10))
	f.paid(makati, "2000.00", day(2025, 2, 20))
	f.paid(quezonCity, "5000.00", day(2025, 2, 15))
	f.paid(orphan, "700.00", day(2025, 2, 12))
	f.paid(makati, "999.00", day(2025, 1, 20))
	f.open(quezonCity, royalty.StatusDue, "3000.00")

	f.revenue(t, ledger.RevenueConsulting, "2500.00", day(2025, 2, 3), ledger.SalesCash())
	f.revenue(t, ledger.RevenueTrainingFee, "1000.00", day(2025, 2, 25), ledger.None())
	f.revenue(t, ledger.RevenueOther, "400.00", day(2025, 3, 2), ledger.SalesCash())

	f.expense(t, ledger.ExpenseOfficeRent, ledger.ExpenseFixed, "4000.00", day(2025, 2, 5), ledger.SalesCash())
	f.expense(t, ledger.ExpenseUtilities, ledger.ExpenseOperating, "1000.00", day(2025, 2, 6), ledger.None())
}

func TestPLSummaryAggregatesRoyaltiesAndManualEntries(t *testing.T) {
	f := newFixture(t, true)
	seedFebruary(t, f)

	pl, err := f.svc.PLSummary(context.Background(), febStart, febEnd)
	require.NoError(t, err)

	requireDec(t, "17500", pl.RevenueBreakdown.RoyaltyIncome)
	requireDec(t, "3500", pl.RevenueBreakdown.OtherRevenue)
	requireDec(t, "21000", pl.TotalRevenue)
	requireDec(t, "5000", pl.TotalExpenses)
	requireDec(t, "16000", pl.NetIncome)
	requireDec(t, "76.19", pl.NetMargin)
	requireDec(t, "76.19", pl.GrossMargin)

	requireDec(t, "4000", pl.ExpenseBreakdown.FixedExpenses)
	requireDec(t, "1000", pl.ExpenseBreakdown.OperatingExpenses)
	requireDec(t, "2500", pl.RevenueBreakdown.ByCategory["consulting"])
	requireDec(t, "1000", pl.RevenueBreakdown.ByCategory["training_fee"])
	require.NotContains(t, pl.RevenueBreakdown.ByCategory, "other")
	requireDec(t, "4000", pl.ExpenseBreakdown.ByCategory["office_rent"])

	requireDec(t, "2500", pl.Tracking.TrackedRevenue)
	requireDec(t, "1000", pl.Tracking.UntrackedRevenue)
	requireDec(t, "4000", pl.Tracking.TrackedExpenses)
	requireDec(t, "1000", pl.Tracking.UntrackedExpenses)

	require.Equal(t, 3, pl.RoyaltyPaymentCount)
	require.Equal(t, 2, pl.ManualRevenueCount)
	require.Equal(t, 2, pl.ExpenseCount)

	require.Len(t, pl.RoyaltyByBranch, 2)
	require.Equal(t, makati, pl.RoyaltyByBranch[0].BranchID)
	require.Equal(t, "Makati", pl.RoyaltyByBranch[0].BranchName)
	requireDec(t, "12500", pl.RoyaltyByBranch[0].Amount)
	require.Equal(t, 2, pl.RoyaltyByBranch[0].Count)
	require.Equal(t, "Quezon City", pl.RoyaltyByBranch[1].BranchName)
	requireDec(t, "5000", pl.RoyaltyByBranch[1].Amount)
}

func TestPLSummaryMarginIsZeroWithoutRevenue(t *testing.T) {
	f := newFixture(t, false)
	f.expense(t, ledger.ExpenseSalaries, ledger.ExpenseOperating, "800.00", day(2025, 2, 10), ledger.None())

	pl, err := f.svc.PLSummary(context.Background(), febStart, febEnd)
	require.NoError(t, err)
	requireDec(t, "-800", pl.NetIncome)
	require.True(t, pl.NetMargin.IsZero())
	require.True(t, pl.GrossMargin.IsZero())
	require.Empty(t, pl.RoyaltyByBranch)
}

func TestPLSummaryServedFromCacheUntilBooksChange(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.paid(makati, "1000.00", day(2025, 2, 10))

	first, err := f.svc.PLSummary(ctx, febStart, febEnd)
	require.NoError(t, err)
	requireDec(t, "1000", first.TotalRevenue)

	// Payments written behind the service's back are not seen until invalidation.
	f.paid(quezonCity, "500.00", day(2025, 2, 11))
	cached, err := f.svc.PLSummary(ctx, febStart, febEnd)
	require.NoError(t, err)
	requireDec(t, "1000", cached.TotalRevenue)

	f.revenue(t, ledger.RevenueFranchiseFee, "250.00", day(2025, 2, 12), ledger.None())
	fresh, err := f.svc.PLSummary(ctx, febStart, febEnd)
	require.NoError(t, err)
	requireDec(t, "1750", fresh.TotalRevenue)

	f.paid(quezonCity, "100.00", day(2025, 2, 13))
	require.NoError(t, f.svc.Invalidate(ctx))
	again, err := f.svc.PLSummary(ctx, febStart, febEnd)
	require.NoError(t, err)
	requireDec(t, "1850", again.TotalRevenue)
}

func TestPLSummaryBuildsWhenCacheIsDown(t *testing.T) {
	f := newFixture(t, true)
	f.paid(makati, "1000.00", day(2025, 2, 10))
	f.redis.Close()

	pl, err := f.svc.PLSummary(context.Background(), febStart, febEnd)
	require.NoError(t, err)
	requireDec(t, "1000", pl.TotalRevenue)
}

// lookupHook runs before every branch lookup.
type lookupHook struct {
	royalty.BranchDirectory
	before func()
}

func (h lookupHook) Lookup(ctx context.Context, id int64) (royalty.Branch, error) {
	h.before()
	return h.BranchDirectory.Lookup(ctx, id)
}

func TestPLSummaryReturnsReportWhenCacheWriteFails(t *testing.T) {
	f := newFixture(t, true)
	f.paid(makati, "1000.00", day(2025, 2, 10))
	svc := finance.NewService(finance.Options{
		Books: f.store,
		// Redis turns read-only while the report is being built.
		Branches: lookupHook{BranchDirectory: f.branches, before: func() {
			f.redis.SetError("READONLY You can't write against a read only replica.")
		}},
		Cache:  f.cache,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	pl, err := svc.PLSummary(context.Background(), febStart, febEnd)
	require.NoError(t, err)
	requireDec(t, "1000", pl.TotalRevenue)
	require.Len(t, pl.RoyaltyByBranch, 1)
}

func TestPLSummaryWithoutCache(t *testing.T) {
	f := newFixture(t, false)
	seedFebruary(t, f)

	for i := 0; i < 2; i++ {
		pl, err := f.svc.PLSummary(context.Background(), febStart, febEnd)
		require.NoError(t, err)
		requireDec(t, "21000", pl.TotalRevenue)
	}
}

func TestPLSummaryRejectsInvertedRange(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.svc.PLSummary(context.Background(), febEnd, febStart)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.RoyaltyIncomeSummary(context.Background(), time.Time{}, febEnd)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPLSummaryDirectoryFailure(t *testing.T) {
	f := newFixture(t, false)
	f.paid(makati, "1000.00", day(2025, 2, 10))
	f.branches.Err = errors.New("connection refused")

	_, err := f.svc.PLSummary(context.Background(), febStart, febEnd)
	require.ErrorIs(t, err, shared.ErrExternalDependency)
}

func TestPLSummaryNamesUnknownBranchesWithoutDirectory(t *testing.T) {
	f := newFixture(t, false)
	f.paid(orphan, "700.00", day(2025, 2, 12))
	svc := finance.NewService(finance.Options{
		Books:   f.store,
		Periods: f.periods,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	pl, err := svc.PLSummary(context.Background(), febStart, febEnd)
	require.NoError(t, err)
	require.Len(t, pl.RoyaltyByBranch, 1)
	require.Equal(t, "Unknown Branch", pl.RoyaltyByBranch[0].BranchName)
	requireDec(t, "700", pl.TotalRevenue)
}

func TestBalanceSheetHoldsIdentity(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	seedFebruary(t, f)
	f.open(makati, royalty.StatusOverdue, "17500.00")

	_, err := f.ledger.DeclareLiability(ctx, ledger.DeclareLiabilityInput{
		Name:     "Bank loan",
		Amount:   dec("3000.00"),
		FundedTo: ledger.SalesCash(),
		Actor:    actor,
	})
	require.NoError(t, err)
	equipment, err := f.ledger.RegisterAsset(ctx, ledger.RegisterAssetInput{
		Name:       "Kitchen equipment",
		AssetClass: ledger.AssetClassFixed,
		Actor:      actor,
	})
	require.NoError(t, err)

	bs, err := f.svc.BalanceSheet(ctx)
	require.NoError(t, err)
	require.True(t, bs.IsBalanced)
	require.True(t, bs.Difference.IsZero())
	require.Empty(t, bs.Warning)

	// sales cash: 2500 - 4000 + 400 + 3000
	requireDec(t, "1900", bs.CurrentAssets)
	require.True(t, bs.FixedAssets.IsZero())
	requireDec(t, "1900", bs.TotalAssets)
	requireDec(t, "3000", bs.TotalLiabilities)
	requireDec(t, "-1100", bs.RetainedEarnings)
	requireDec(t, "-1100", bs.TotalEquity)

	require.Len(t, bs.Assets, 2)
	require.Equal(t, ledger.SalesCashAccount, bs.Assets[0].ID)
	require.Equal(t, equipment.ID, bs.Assets[1].ID)
	require.Len(t, bs.Liabilities, 1)

	requireDec(t, "20500", bs.RoyaltyReceivables)
	require.Equal(t, 2, bs.ReceivableCount)
}

func TestBalanceSheetShowsOwnerEquity(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	for _, e := range []struct {
		kind   ledger.EquityKind
		amount string
	}{
		{ledger.EquityOwnerCapital, "10000.00"},
		{ledger.EquityDrawings, "1500.00"},
	} {
		_, err := f.ledger.RecordEquity(ctx, ledger.EquityInput{
			Kind: e.kind, Description: string(e.kind), Amount: dec(e.amount),
			EntryDate: day(2025, 2, 1), Account: ledger.SalesCash(), Actor: actor,
		})
		require.NoError(t, err)
	}

	bs, err := f.svc.BalanceSheet(ctx)
	require.NoError(t, err)
	require.True(t, bs.IsBalanced)
	requireDec(t, "8500", bs.TotalAssets)
	requireDec(t, "8500", bs.OwnerEquity)
	requireDec(t, "8500", bs.TotalEquity)
	require.True(t, bs.RetainedEarnings.IsZero())
	require.Len(t, bs.Equity, 2)

	pl, err := f.svc.PLSummary(ctx, febStart, febEnd)
	require.NoError(t, err)
	require.True(t, pl.TotalRevenue.IsZero())
}

func TestBalanceSheetReportsImbalanceWithoutCorrecting(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.revenue(t, ledger.RevenueConsulting, "2500.00", day(2025, 2, 3), ledger.SalesCash())
	f.store.Books.SetBalance(ledger.SalesCashAccount, dec("2600.00"))

	bs, err := f.svc.BalanceSheet(ctx)
	require.NoError(t, err)
	require.False(t, bs.IsBalanced)
	requireDec(t, "100", bs.Difference)
	require.Contains(t, bs.Warning, shared.ErrConsistencyViolation.Error())
	requireDec(t, "2600", f.store.Books.Balance(ledger.SalesCashAccount))
}

func TestVerifyLedgerReportsDrift(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.revenue(t, ledger.RevenueConsulting, "2500.00", day(2025, 2, 3), ledger.SalesCash())

	check, err := f.svc.VerifyLedger(ctx)
	require.NoError(t, err)
	require.True(t, check.Consistent)
	require.NotNil(t, check.Drift)
	require.Empty(t, check.Drift)
	require.Equal(t, 1, check.Postings)
	require.Equal(t, 2, check.Accounts)

	f.store.Books.SetBalance(ledger.SalesCashAccount, dec("2600.00"))
	check, err = f.svc.VerifyLedger(ctx)
	require.NoError(t, err)
	require.False(t, check.Consistent)
	require.Len(t, check.Drift, 1)
	require.Equal(t, ledger.SalesCashAccount, check.Drift[0].Account)
	requireDec(t, "2600", check.Drift[0].Stored)
	requireDec(t, "2500", check.Drift[0].Replayed)
	require.NotEmpty(t, check.Warning)
}

func TestRoyaltyIncomeSummary(t *testing.T) {
	f := newFixture(t, false)
	f.paid(makati, "10500.00", day(2025, 2, 10))
	f.paid(makati, "2000.00", day(2025, 2, 20))
	f.paid(quezonCity, "5000.00", day(2025, 2, 15))
	f.paid(orphan, "700.00", day(2025, 2, 12))
	f.open(makati, royalty.StatusDue, "1200.00")
	f.open(quezonCity, royalty.StatusOverdue, "800.00")
	f.open(orphan, royalty.StatusOverdue, "50.00")

	sum, err := f.svc.RoyaltyIncomeSummary(context.Background(), febStart, febEnd)
	require.NoError(t, err)
	requireDec(t, "17500", sum.TotalCollected)
	requireDec(t, "2000", sum.TotalPending)
	requireDec(t, "800", sum.TotalOverdue)
	require.Equal(t, 3, sum.PaymentCount)

	require.Len(t, sum.ByBranch, 2)
	mk := sum.ByBranch[0]
	require.Equal(t, makati, mk.BranchID)
	requireDec(t, "12500", mk.Collected)
	require.Equal(t, 2, mk.PaidCount)
	requireDec(t, "1200", mk.Pending)
	require.Equal(t, 1, mk.PendingCount)
	require.True(t, mk.Overdue.IsZero())

	qc := sum.ByBranch[1]
	require.Equal(t, "Quezon City", qc.BranchName)
	requireDec(t, "800", qc.Overdue)
	require.Equal(t, 1, qc.OverdueCount)
}

func TestMetricsRegisterOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotNil(t, finance.NewMetrics(reg))
	require.Panics(t, func() { finance.NewMetrics(reg) })
}
