package royalty_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/royalty/internal/ledger"
	"github.com/odyssey-erp/royalty/internal/royalty"
	"github.com/odyssey-erp/royalty/internal/royalty/royaltytest"
	"github.com/odyssey-erp/royalty/internal/shared"
)

const (
	actor      int64 = 42
	makati     int64 = 1
	quezonCity int64 = 2
)

type fixture struct {
	svc      *royalty.Service
	store    *royaltytest.Store
	branches *royaltytest.Branches
	revenue  *royaltytest.Revenue
	notifier *royaltytest.Notifier
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: royaltytest.NewStore(),
		branches: royaltytest.NewBranches(
			royalty.Branch{ID: makati, Name: "Makati", Code: "MKT", AdminEmail: "makati@example.com"},
			royalty.Branch{ID: quezonCity, Name: "Quezon City", Code: "QC", AdminEmail: "qc@example.com"},
		),
		revenue:  royaltytest.NewRevenue(),
		notifier: &royaltytest.Notifier{},
		clock:    time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
	}
	f.svc = royalty.NewService(royalty.Options{
		Repo:       f.store,
		Revenue:    f.revenue,
		Branches:   f.branches,
		Notifier:   f.notifier,
		Calculator: royalty.NewPeriodCalculator(time.UTC, 24),
	})
	f.svc.WithNow(func() time.Time { return f.clock })
	return f
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func intPtr(v int) *int { return &v }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func destPtr(d ledger.Destination) *ledger.Destination { return &d }

// januaryScenario configures Makati at 10% monthly with a 7 day grace period and a 5%
// late fee, books ₱100,000 of January sales and bills January on 1 Feb.
func januaryScenario(t *testing.T, f *fixture) royalty.Payment {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.SetConfig(ctx, makati, royalty.ConfigParams{
		RoyaltyType:     royalty.RoyaltyPercentage,
		Rate:            dec("10"),
		BillingCycle:    royalty.CycleMonthly,
		BillingDay:      intPtr(1),
		GracePeriodDays: intPtr(7),
		LateFeeRate:     decPtr("5"),
		Destination:     destPtr(ledger.SalesCash()),
	}, actor, "")
	require.NoError(t, err)
	f.revenue.Set(makati, day(2025, 1, 1), dec("100000"))

	f.clock = day(2025, 2, 1)
	result, err := f.svc.GenerateAll(ctx, actor)
	require.NoError(t, err)
	require.Equal(t, 1, result.Created)
	payments := f.store.Payments()
	require.Len(t, payments, 1)
	return payments[0]
}

func requireBooksBalanced(t *testing.T, f *fixture) {
	t.Helper()
	accounts, err := f.store.Books.ListAccounts(context.Background())
	require.NoError(t, err)
	assets, liabilities, equity := ledger.Totals(accounts)
	require.True(t, assets.Equal(liabilities.Add(equity)), "assets %s, liabilities %s, equity %s", assets, liabilities, equity)
	require.Empty(t, ledger.FindDrift(accounts, f.store.Books.Postings()))
}

func TestJanuaryRoyaltyIsBilledOnFebruaryFirst(t *testing.T) {
	f := newFixture(t)
	p := januaryScenario(t, f)

	require.Equal(t, "January 2025", p.PeriodLabel)
	require.True(t, p.GrossRevenue.Equal(dec("100000")))
	require.True(t, p.Amount.Equal(dec("10000")))
	require.True(t, p.LateFee.IsZero())
	require.True(t, p.TotalDue.Equal(dec("10000")))
	require.Equal(t, day(2025, 2, 1), p.DueDate)
	require.Equal(t, day(2025, 2, 8), p.GracePeriodEnd)
	require.Equal(t, royalty.StatusDue, p.Status)
	require.Nil(t, p.PaidAmount)
	require.Equal(t, ledger.SalesCash(), p.Destination)
}

func TestGenerateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	januaryScenario(t, f)

	result, err := f.svc.GenerateAll(context.Background(), actor)
	require.NoError(t, err)
	require.Equal(t, 0, result.Created)
	require.Equal(t, 0, result.Failed)
	require.Len(t, f.store.Payments(), 1)
}

func TestBillingDayChangeBillsOnlyUncoveredDays(t *testing.T) {
	f := newFixture(t)
	january := januaryScenario(t, f)
	ctx := context.Background()

	_, err := f.svc.SetConfig(ctx, makati, royalty.ConfigParams{
		RoyaltyType:     royalty.RoyaltyPercentage,
		Rate:            dec("10"),
		BillingCycle:    royalty.CycleMonthly,
		BillingDay:      intPtr(15),
		GracePeriodDays: intPtr(7),
		LateFeeRate:     decPtr("5"),
		Destination:     destPtr(ledger.SalesCash()),
	}, actor, "billing moved to the 15th")
	require.NoError(t, err)
	f.revenue.Set(makati, day(2025, 2, 1), dec("40000"))

	f.clock = day(2025, 2, 20)
	result, err := f.svc.GenerateAll(ctx, actor)
	require.NoError(t, err)
	require.Equal(t, 1, result.Created)

	payments := f.store.Payments()
	require.Len(t, payments, 2)
	require.Equal(t, january.ID, payments[0].ID)
	stub := payments[1]
	require.Equal(t, day(2025, 2, 1), stub.PeriodStart)
	require.Equal(t, day(2025, 2, 15), stub.PeriodEnd)
	require.Equal(t, "Feb 1 - Feb 14, 2025", stub.PeriodLabel)
	require.True(t, stub.Amount.Equal(dec("4000")), stub.Amount.String())
	require.Equal(t, day(2025, 2, 15), stub.DueDate)

	result, err = f.svc.GenerateAll(ctx, actor)
	require.NoError(t, err)
	require.Equal(t, 0, result.Created)

	f.clock = day(2025, 3, 15)
	result, err = f.svc.GenerateAll(ctx, actor)
	require.NoError(t, err)
	require.Equal(t, 1, result.Created)
	payments = f.store.Payments()
	require.Len(t, payments, 3)
	require.Equal(t, day(2025, 2, 15), payments[2].PeriodStart)
	require.Equal(t, day(2025, 3, 15), payments[2].PeriodEnd)
	require.Equal(t, "February 2025", payments[2].PeriodLabel)
}

func TestFixedRoyaltyStubIsProrated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	params := royalty.ConfigParams{RoyaltyType: royalty.RoyaltyFixed, Rate: dec("3100"), BillingCycle: royalty.CycleMonthly}
	_, err := f.svc.SetConfig(ctx, quezonCity, params, actor, "")
	require.NoError(t, err)

	f.clock = day(2025, 2, 1)
	result, err := f.svc.GenerateAll(ctx, actor)
	require.NoError(t, err)
	require.Equal(t, 1, result.Created)

	params.BillingDay = intPtr(15)
	_, err = f.svc.SetConfig(ctx, quezonCity, params, actor, "")
	require.NoError(t, err)

	f.clock = day(2025, 2, 15)
	result, err = f.svc.GenerateAll(ctx, actor)
	require.NoError(t, err)
	require.Equal(t, 1, result.Created)
	payments := f.store.Payments()
	require.Len(t, payments, 2)
	require.True(t, payments[0].Amount.Equal(dec("3100")))
	// 14 of the 31 days between 15 Jan and 15 Feb.
	require.True(t, payments[1].Amount.Equal(dec("1400")), payments[1].Amount.String())
	require.Zero(t, f.revenue.Calls)
}

func TestRevenueCorrectionsDoNotChangeBilledAmount(t *testing.T) {
	f := newFixture(t)
	p := januaryScenario(t, f)

	f.revenue.Set(makati, day(2025, 1, 1), dec("250000"))
	_, err := f.svc.GenerateAll(context.Background(), actor)
	require.NoError(t, err)

	got, err := f.svc.GetPayment(context.Background(), p.ID)
	require.NoError(t, err)
	require.True(t, got.Amount.Equal(dec("10000")))
	require.Equal(t, "Makati", got.BranchName)
}

func TestSweepAccruesLateFeeOnceAfterGrace(t *testing.T) {
	f := newFixture(t)
	p := januaryScenario(t, f)
	ctx := context.Background()

	f.clock = day(2025, 2, 8)
	res, err := f.svc.UpdateOverduePayments(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, res.Updated)

	f.clock = day(2025, 2, 9)
	res, err = f.svc.UpdateOverduePayments(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Updated)

	got, err := f.svc.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, royalty.StatusOverdue, got.Status)
	require.True(t, got.LateFee.Equal(dec("500")))
	require.True(t, got.TotalDue.Equal(dec("10500")))

	f.clock = day(2025, 3, 30)
	res, err = f.svc.UpdateOverduePayments(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, res.Updated)
	got, err = f.svc.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, got.LateFee.Equal(dec("500")))
}

// interleavedRepo runs between before the transaction following the first one, which
// lets a test commit a competing change between a sweep's listing and its update.
type interleavedRepo struct {
	*royaltytest.Store
	calls   int
	between func()
}

func (r *interleavedRepo) WithTx(ctx context.Context, fn func(context.Context, royalty.TxRepository) error) error {
	r.calls++
	if r.calls == 2 && r.between != nil {
		r.between()
	}
	return r.Store.WithTx(ctx, fn)
}

func TestSweepLeavesPaymentSettledAfterListing(t *testing.T) {
	f := newFixture(t)
	p := januaryScenario(t, f)
	ctx := context.Background()
	f.clock = day(2025, 2, 9)

	repo := &interleavedRepo{Store: f.store, between: func() {
		_, err := f.svc.MarkAsPaid(ctx, royalty.SettleInput{PaymentID: p.ID, PaidAmount: dec("10000"), PaymentMethod: "cash", Actor: actor})
		require.NoError(t, err)
	}}
	sweeper := royalty.NewService(royalty.Options{
		Repo:       repo,
		Revenue:    f.revenue,
		Branches:   f.branches,
		Calculator: royalty.NewPeriodCalculator(time.UTC, 24),
	})
	sweeper.WithNow(func() time.Time { return f.clock })

	res, err := sweeper.UpdateOverduePayments(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Checked)
	require.Equal(t, 0, res.Updated)
	require.Equal(t, 0, res.Failed)

	got, err := f.svc.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, royalty.StatusPaid, got.Status)
	require.True(t, got.LateFee.IsZero())
	require.True(t, got.TotalDue.Equal(dec("10000")))
	require.True(t, got.PaidAmount.Equal(dec("10000")))
}

func TestSettleOverduePaymentIntoSalesCash(t *testing.T) {
	f := newFixture(t)
	p := januaryScenario(t, f)
	ctx := context.Background()
	f.clock = day(2025, 2, 9)
	_, err := f.svc.UpdateOverduePayments(ctx)
	require.NoError(t, err)

	f.clock = time.Date(2025, 2, 10, 14, 30, 0, 0, time.UTC)
	result, err := f.svc.MarkAsPaid(ctx, royalty.SettleInput{
		PaymentID:        p.ID,
		PaidAmount:       dec("10500"),
		PaymentMethod:    "bank_transfer",
		PaymentReference: "BDO-7781",
		Actor:            actor,
	})
	require.NoError(t, err)
	require.Empty(t, result.EmailWarning)

	require.Equal(t, royalty.StatusPaid, result.Payment.Status)
	require.True(t, result.Payment.PaidAmount.Equal(dec("10500")))
	require.Equal(t, f.clock, *result.Payment.PaidAt)
	require.Equal(t, result.Receipt.ID, *result.Payment.ReceiptID)
	require.Equal(t, "OR-2025-00001", result.Receipt.ReceiptNumber)
	require.Equal(t, "January 2025", result.Receipt.PeriodLabel)

	require.NotNil(t, result.Posting)
	require.Equal(t, ledger.PostingRoyaltySettlement, result.Posting.Kind)
	require.Equal(t, p.ID, result.Posting.SourceID)
	require.True(t, f.store.Books.Balance(ledger.SalesCashAccount).Equal(dec("10500")))
	require.True(t, f.store.Books.Balance(ledger.RetainedEarningsAccount).Equal(dec("10500")))
	requireBooksBalanced(t, f)

	require.Equal(t, []uuid.UUID{result.Receipt.ID}, f.notifier.Receipts)
	require.Equal(t, []string{"makati@example.com"}, f.notifier.Recipients)
}

func TestSecondSettlementIsRejectedWithoutWrites(t *testing.T) {
	f := newFixture(t)
	p := januaryScenario(t, f)
	ctx := context.Background()

	_, err := f.svc.MarkAsPaid(ctx, royalty.SettleInput{PaymentID: p.ID, PaidAmount: dec("10000"), PaymentMethod: "cash", Actor: actor})
	require.NoError(t, err)

	_, err = f.svc.MarkAsPaid(ctx, royalty.SettleInput{PaymentID: p.ID, PaidAmount: dec("10000"), PaymentMethod: "cash", Actor: actor})
	require.ErrorIs(t, err, royalty.ErrPaymentAlreadyPaid)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
	require.Len(t, f.store.Receipts(), 1)
	require.Len(t, f.store.Books.Postings(), 1)

	_, err = f.svc.Waive(ctx, royalty.WaiveInput{PaymentID: p.ID, Notes: "late", Actor: actor})
	require.ErrorIs(t, err, royalty.ErrPaymentAlreadyPaid)
}

func TestSettlementValidation(t *testing.T) {
	f := newFixture(t)
	p := januaryScenario(t, f)
	ctx := context.Background()

	_, err := f.svc.MarkAsPaid(ctx, royalty.SettleInput{PaymentID: p.ID, PaidAmount: dec("0"), PaymentMethod: "cash", Actor: actor})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.MarkAsPaid(ctx, royalty.SettleInput{PaymentID: p.ID, PaidAmount: dec("100"), Actor: actor})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.MarkAsPaid(ctx, royalty.SettleInput{PaymentID: uuid.New(), PaidAmount: dec("100"), PaymentMethod: "cash", Actor: actor})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.MarkAsPaid(ctx, royalty.SettleInput{PaymentID: p.ID, PaidAmount: dec("100"), PaymentMethod: "cash"})
	require.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestFailedSettlementRollsBackReceiptAndCounter(t *testing.T) {
	f := newFixture(t)
	p := januaryScenario(t, f)
	ctx := context.Background()

	f.store.FailReceipt = errors.New("disk full")
	_, err := f.svc.MarkAsPaid(ctx, royalty.SettleInput{PaymentID: p.ID, PaidAmount: dec("10000"), PaymentMethod: "cash", Actor: actor})
	require.Error(t, err)

	got, err := f.svc.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, royalty.StatusDue, got.Status)
	require.Empty(t, f.store.Books.Postings())

	f.store.FailReceipt = nil
	result, err := f.svc.MarkAsPaid(ctx, royalty.SettleInput{PaymentID: p.ID, PaidAmount: dec("10000"), PaymentMethod: "cash", Actor: actor})
	require.NoError(t, err)
	require.Equal(t, "OR-2025-00001", result.Receipt.ReceiptNumber)
}

func TestFailedPostingRollsBackSettlement(t *testing.T) {
	f := newFixture(t)
	p := januaryScenario(t, f)
	ctx := context.Background()

	f.store.Books.FailPosting = errors.New("journal unavailable")
	_, err := f.svc.MarkAsPaid(ctx, royalty.SettleInput{PaymentID: p.ID, PaidAmount: dec("10000"), PaymentMethod: "cash", Actor: actor})
	require.Error(t, err)

	require.Empty(t, f.store.Receipts())
	require.True(t, f.store.Books.Balance(ledger.SalesCashAccount).IsZero())
	got, err := f.svc.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, royalty.StatusDue, got.Status)
	require.Nil(t, got.ReceiptID)
}

func TestSettlementDestinationOverride(t *testing.T) {
	f := newFixture(t)
	p := januaryScenario(t, f)
	ctx := context.Background()

	result, err := f.svc.MarkAsPaid(ctx, royalty.SettleInput{
		PaymentID:     p.ID,
		PaidAmount:    dec("10000"),
		PaymentMethod: "cash",
		Destination:   destPtr(ledger.None()),
		Actor:         actor,
	})
	require.NoError(t, err)
	require.Nil(t, result.Posting)
	require.Equal(t, ledger.None(), result.Payment.Destination)
	require.Empty(t, f.store.Books.Postings())
	require.Len(t, f.store.Receipts(), 1)
}

func TestSettlementRejectsInactiveAsset(t *testing.T) {
	f := newFixture(t)
	p := januaryScenario(t, f)
	ctx := context.Background()

	vault := uuid.New()
	require.NoError(t, f.store.Books.InsertAccount(ctx, ledger.Account{
		ID: ledger.AccountIDFor(vault), Name: "Vault", Type: ledger.AccountTypeAsset,
		AssetClass: ledger.AssetClassCurrent, IsActive: false,
	}))

	_, err := f.svc.MarkAsPaid(ctx, royalty.SettleInput{
		PaymentID:     p.ID,
		PaidAmount:    dec("10000"),
		PaymentMethod: "cash",
		Destination:   destPtr(ledger.ManualAsset(vault)),
		Actor:         actor,
	})
	require.ErrorIs(t, err, ledger.ErrAccountInactive)
	require.Empty(t, f.store.Receipts())
}

func TestReceiptNotificationFailureIsSoft(t *testing.T) {
	f := newFixture(t)
	p := januaryScenario(t, f)

	f.notifier.Err = errors.New("queue down")
	result, err := f.svc.MarkAsPaid(context.Background(), royalty.SettleInput{PaymentID: p.ID, PaidAmount: dec("10000"), PaymentMethod: "gcash", Actor: actor})
	require.NoError(t, err)
	require.NotEmpty(t, result.EmailWarning)
	require.Equal(t, royalty.StatusPaid, result.Payment.Status)
	require.True(t, f.store.Books.Balance(ledger.SalesCashAccount).Equal(dec("10000")))
}

func TestReceiptNumbersAreSequentialPerYear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SetConfig(ctx, makati, royalty.ConfigParams{
		RoyaltyType:  royalty.RoyaltyFixed,
		Rate:         dec("5000"),
		BillingCycle: royalty.CycleMonthly,
	}, actor, "")
	require.NoError(t, err)

	f.clock = day(2025, 4, 2)
	_, err = f.svc.GenerateAll(ctx, actor)
	require.NoError(t, err)
	payments := f.store.Payments()
	require.Len(t, payments, 3)

	var numbers []string
	for _, p := range payments {
		res, err := f.svc.MarkAsPaid(ctx, royalty.SettleInput{PaymentID: p.ID, PaidAmount: p.TotalDue, PaymentMethod: "cash", Actor: actor})
		require.NoError(t, err)
		numbers = append(numbers, res.Receipt.ReceiptNumber)
	}
	require.Equal(t, []string{"OR-2025-00001", "OR-2025-00002", "OR-2025-00003"}, numbers)

	receipts, err := f.svc.ListReceipts(ctx, makati, 0)
	require.NoError(t, err)
	require.Len(t, receipts, 3)
}

func TestGoodwillWaiver(t *testing.T) {
	f := newFixture(t)
	p := januaryScenario(t, f)
	ctx := context.Background()

	waived, err := f.svc.Waive(ctx, royalty.WaiveInput{PaymentID: p.ID, Notes: "goodwill", Actor: actor})
	require.NoError(t, err)
	require.Equal(t, royalty.StatusWaived, waived.Status)
	require.Equal(t, "goodwill", waived.Notes)
	require.Nil(t, waived.PaidAmount)
	require.Nil(t, waived.ReceiptID)
	require.Equal(t, actor, *waived.UpdatedBy)
	require.Empty(t, f.store.Receipts())
	require.Empty(t, f.store.Books.Postings())

	_, err = f.svc.Waive(ctx, royalty.WaiveInput{PaymentID: p.ID, Notes: "again", Actor: actor})
	require.ErrorIs(t, err, royalty.ErrPaymentAlreadyWaived)
	_, err = f.svc.MarkAsPaid(ctx, royalty.SettleInput{PaymentID: p.ID, PaidAmount: dec("1"), PaymentMethod: "cash", Actor: actor})
	require.ErrorIs(t, err, royalty.ErrPaymentAlreadyWaived)
}

func TestWaiverRequiresReason(t *testing.T) {
	f := newFixture(t)
	p := januaryScenario(t, f)

	_, err := f.svc.Waive(context.Background(), royalty.WaiveInput{PaymentID: p.ID, Actor: actor})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSweepSkipsWaivedPayments(t *testing.T) {
	f := newFixture(t)
	p := januaryScenario(t, f)
	ctx := context.Background()
	_, err := f.svc.Waive(ctx, royalty.WaiveInput{PaymentID: p.ID, Notes: "store closed for renovation", Actor: actor})
	require.NoError(t, err)

	f.clock = day(2025, 3, 1)
	res, err := f.svc.UpdateOverduePayments(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, res.Checked)
}

func TestFixedRoyaltySkipsRevenueFeed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SetConfig(ctx, quezonCity, royalty.ConfigParams{
		RoyaltyType:  royalty.RoyaltyFixed,
		Rate:         dec("7500"),
		BillingCycle: royalty.CycleQuarterly,
	}, actor, "")
	require.NoError(t, err)

	f.clock = day(2025, 4, 1)
	result, err := f.svc.GenerateForBranch(ctx, quezonCity, actor, nil)
	require.NoError(t, err)
	require.Len(t, result.Payments, 1)
	require.Equal(t, "Q1 2025", result.Payments[0].PeriodLabel)
	require.True(t, result.Payments[0].Amount.Equal(dec("7500")))
	require.Equal(t, 0, f.revenue.Calls)
}

func TestRevenueFailureOnlyFailsThatBranch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SetConfig(ctx, makati, royalty.ConfigParams{RoyaltyType: royalty.RoyaltyPercentage, Rate: dec("8"), BillingCycle: royalty.CycleMonthly}, actor, "")
	require.NoError(t, err)
	_, err = f.svc.SetConfig(ctx, quezonCity, royalty.ConfigParams{RoyaltyType: royalty.RoyaltyFixed, Rate: dec("3000"), BillingCycle: royalty.CycleMonthly}, actor, "")
	require.NoError(t, err)

	f.revenue.Err = errors.New("timeout")
	f.clock = day(2025, 2, 1)
	result, err := f.svc.GenerateAll(ctx, actor)
	require.NoError(t, err)
	require.Equal(t, 2, result.Total)
	require.Equal(t, 1, result.Failed)
	require.Equal(t, 1, result.Created)
	require.Contains(t, result.Results[0].Error, "revenue feed unavailable")
	require.Equal(t, "Quezon City", result.Results[1].BranchName)

	_, err = f.svc.GenerateForBranch(ctx, makati, actor, nil)
	require.ErrorIs(t, err, shared.ErrExternalDependency)
}

func TestGenerateForBranchWithOverridePeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SetConfig(ctx, makati, royalty.ConfigParams{RoyaltyType: royalty.RoyaltyPercentage, Rate: dec("10"), BillingCycle: royalty.CycleMonthly}, actor, "")
	require.NoError(t, err)
	f.revenue.Set(makati, day(2024, 12, 1), dec("40000"))

	override := &royalty.PeriodOverride{Start: day(2024, 12, 1), End: day(2025, 1, 1)}
	result, err := f.svc.GenerateForBranch(ctx, makati, actor, override)
	require.NoError(t, err)
	require.Len(t, result.Payments, 1)
	require.Equal(t, "December 2024", result.Payments[0].PeriodLabel)
	require.True(t, result.Payments[0].Amount.Equal(dec("4000")))

	_, err = f.svc.GenerateForBranch(ctx, makati, actor, override)
	require.ErrorIs(t, err, royalty.ErrPeriodAlreadyBilled)

	_, err = f.svc.GenerateForBranch(ctx, makati, actor, &royalty.PeriodOverride{Start: day(2025, 1, 1), End: day(2024, 12, 1)})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSetConfigValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]royalty.ConfigParams{
		"zero rate":        {RoyaltyType: royalty.RoyaltyPercentage, Rate: dec("0"), BillingCycle: royalty.CycleMonthly},
		"rate above 100":   {RoyaltyType: royalty.RoyaltyPercentage, Rate: dec("150"), BillingCycle: royalty.CycleMonthly},
		"unknown cycle":    {RoyaltyType: royalty.RoyaltyFixed, Rate: dec("10"), BillingCycle: "weekly"},
		"billing day 29":   {RoyaltyType: royalty.RoyaltyFixed, Rate: dec("10"), BillingCycle: royalty.CycleMonthly, BillingDay: intPtr(29)},
		"negative grace":   {RoyaltyType: royalty.RoyaltyFixed, Rate: dec("10"), BillingCycle: royalty.CycleMonthly, GracePeriodDays: intPtr(-1)},
		"negative latefee": {RoyaltyType: royalty.RoyaltyFixed, Rate: dec("10"), BillingCycle: royalty.CycleMonthly, LateFeeRate: decPtr("-1")},
	}
	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.SetConfig(ctx, makati, params, actor, "")
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}

	_, err := f.svc.SetConfig(ctx, 99, royalty.ConfigParams{RoyaltyType: royalty.RoyaltyFixed, Rate: dec("10"), BillingCycle: royalty.CycleMonthly}, actor, "")
	require.ErrorIs(t, err, royalty.ErrBranchNotFound)
}

func TestSetConfigAppliesDefaults(t *testing.T) {
	f := newFixture(t)
	cfg, err := f.svc.SetConfig(context.Background(), makati, royalty.ConfigParams{
		RoyaltyType:  royalty.RoyaltyPercentage,
		Rate:         dec("6"),
		BillingCycle: royalty.CycleMonthly,
	}, actor, "")
	require.NoError(t, err)
	require.Equal(t, 1, cfg.BillingDay)
	require.Equal(t, 7, cfg.GracePeriodDays)
	require.True(t, cfg.LateFeeRate.IsZero())
	require.True(t, cfg.Destination.IsNone())
	require.True(t, cfg.IsActive)
}

func TestConfigUpdatesAreAuditedPerField(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	params := royalty.ConfigParams{RoyaltyType: royalty.RoyaltyPercentage, Rate: dec("10"), BillingCycle: royalty.CycleMonthly}
	created, err := f.svc.SetConfig(ctx, makati, params, actor, "")
	require.NoError(t, err)

	params.Rate = dec("12")
	params.GracePeriodDays = intPtr(10)
	updated, err := f.svc.SetConfig(ctx, makati, params, actor, "renewal")
	require.NoError(t, err)
	require.Equal(t, created.ID, updated.ID)
	require.True(t, updated.Rate.Equal(dec("12")))

	trail, err := f.svc.ListAuditTrail(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	byField := map[string]royalty.ConfigAuditEntry{}
	for _, e := range trail {
		byField[e.Field] = e
	}
	require.Equal(t, "10", byField["rate"].OldValue)
	require.Equal(t, "12", byField["rate"].NewValue)
	require.Equal(t, "7", byField["grace_period_days"].OldValue)
	require.Equal(t, "10", byField["grace_period_days"].NewValue)
	require.Equal(t, "renewal", byField["rate"].Reason)

	_, err = f.svc.SetConfig(ctx, makati, params, actor, "no-op")
	require.NoError(t, err)
	trail, err = f.svc.ListAuditTrail(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
}

func TestDeactivateStopsBillingAndSetConfigReactivates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	params := royalty.ConfigParams{RoyaltyType: royalty.RoyaltyFixed, Rate: dec("2000"), BillingCycle: royalty.CycleMonthly}
	cfg, err := f.svc.SetConfig(ctx, makati, params, actor, "")
	require.NoError(t, err)

	_, err = f.svc.DeactivateConfig(ctx, makati, actor, "franchise paused")
	require.NoError(t, err)
	_, err = f.svc.DeactivateConfig(ctx, makati, actor, "")
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)

	f.clock = day(2025, 3, 1)
	result, err := f.svc.GenerateAll(ctx, actor)
	require.NoError(t, err)
	require.Equal(t, 0, result.Total)
	_, err = f.svc.GenerateForBranch(ctx, makati, actor, nil)
	require.ErrorIs(t, err, royalty.ErrConfigInactive)

	reactivated, err := f.svc.SetConfig(ctx, makati, params, actor, "resumed")
	require.NoError(t, err)
	require.True(t, reactivated.IsActive)
	require.Equal(t, day(2025, 3, 1), reactivated.ActiveSince)

	// January and February were paused and are never billed.
	result, err = f.svc.GenerateAll(ctx, actor)
	require.NoError(t, err)
	require.Equal(t, 0, result.Created)
	require.Empty(t, f.store.Payments())

	f.clock = day(2025, 4, 1)
	result, err = f.svc.GenerateAll(ctx, actor)
	require.NoError(t, err)
	require.Equal(t, 1, result.Created)
	payments := f.store.Payments()
	require.Len(t, payments, 1)
	require.Equal(t, "March 2025", payments[0].PeriodLabel)
	require.True(t, payments[0].Amount.Equal(dec("2000")))

	trail, err := f.svc.ListAuditTrail(ctx, cfg.ID)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	require.Equal(t, "is_active", trail[0].Field)
	require.Equal(t, "false", trail[0].NewValue)
	byField := map[string]royalty.ConfigAuditEntry{}
	for _, e := range trail[1:] {
		byField[e.Field] = e
	}
	require.Equal(t, "true", byField["is_active"].NewValue)
	require.Equal(t, "2025-01-01T10:00:00Z", byField["active_since"].OldValue)
	require.Equal(t, "2025-03-01T00:00:00Z", byField["active_since"].NewValue)
	require.Equal(t, "resumed", byField["active_since"].Reason)
}

func TestDeleteConfigRefusedOnceBilled(t *testing.T) {
	f := newFixture(t)
	januaryScenario(t, f)
	ctx := context.Background()

	cfg, err := f.svc.GetConfig(ctx, makati)
	require.NoError(t, err)
	err = f.svc.DeleteConfig(ctx, cfg.ID, actor)
	require.ErrorIs(t, err, royalty.ErrConfigHasPayments)

	other, err := f.svc.SetConfig(ctx, quezonCity, royalty.ConfigParams{RoyaltyType: royalty.RoyaltyFixed, Rate: dec("100"), BillingCycle: royalty.CycleMonthly}, actor, "")
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteConfig(ctx, other.ID, actor))
	_, err = f.svc.GetConfig(ctx, quezonCity)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSetConfigRejectsNonAssetDestination(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SetConfig(context.Background(), makati, royalty.ConfigParams{
		RoyaltyType:  royalty.RoyaltyFixed,
		Rate:         dec("100"),
		BillingCycle: royalty.CycleMonthly,
		Destination:  destPtr(ledger.ManualAsset(uuid.New())),
	}, actor, "")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPendingPaymentsOrderedByDueDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SetConfig(ctx, makati, royalty.ConfigParams{RoyaltyType: royalty.RoyaltyFixed, Rate: dec("1000"), BillingCycle: royalty.CycleMonthly}, actor, "")
	require.NoError(t, err)
	f.clock = day(2025, 4, 1)
	_, err = f.svc.GenerateAll(ctx, actor)
	require.NoError(t, err)

	payments := f.store.Payments()
	_, err = f.svc.Waive(ctx, royalty.WaiveInput{PaymentID: payments[1].ID, Notes: "promo", Actor: actor})
	require.NoError(t, err)

	pending, err := f.svc.PendingPayments(ctx, makati)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "January 2025", pending[0].PeriodLabel)
	require.Equal(t, "March 2025", pending[1].PeriodLabel)

	waived, err := f.svc.ListPayments(ctx, royalty.PaymentFilter{Statuses: []royalty.PaymentStatus{royalty.StatusWaived}})
	require.NoError(t, err)
	require.Len(t, waived, 1)
	require.Equal(t, "MKT", waived[0].BranchCode)
}

func TestSendDueNotice(t *testing.T) {
	f := newFixture(t)
	p := januaryScenario(t, f)
	ctx := context.Background()

	require.NoError(t, f.svc.SendDueNotice(ctx, p.ID, actor))
	require.Equal(t, []uuid.UUID{p.ID}, f.notifier.DueNotices)

	_, err := f.svc.Waive(ctx, royalty.WaiveInput{PaymentID: p.ID, Notes: "goodwill", Actor: actor})
	require.NoError(t, err)
	require.ErrorIs(t, f.svc.SendDueNotice(ctx, p.ID, actor), royalty.ErrPaymentAlreadyWaived)
}

func TestCleanOrphanedData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, branch := range []int64{makati, quezonCity} {
		_, err := f.svc.SetConfig(ctx, branch, royalty.ConfigParams{RoyaltyType: royalty.RoyaltyFixed, Rate: dec("1000"), BillingCycle: royalty.CycleMonthly, Destination: destPtr(ledger.SalesCash())}, actor, "")
		require.NoError(t, err)
	}
	f.clock = day(2025, 3, 1)
	_, err := f.svc.GenerateAll(ctx, actor)
	require.NoError(t, err)
	require.Len(t, f.store.Payments(), 4)

	var qcPayment royalty.Payment
	for _, p := range f.store.Payments() {
		if p.BranchID == quezonCity {
			qcPayment = p
		}
	}
	_, err = f.svc.MarkAsPaid(ctx, royalty.SettleInput{PaymentID: qcPayment.ID, PaidAmount: dec("1000"), PaymentMethod: "cash", Actor: actor})
	require.NoError(t, err)

	f.branches.Remove(quezonCity)
	result, err := f.svc.CleanOrphanedData(ctx, actor)
	require.NoError(t, err)
	require.Equal(t, 1, result.DeletedConfigs)
	require.Equal(t, 2, result.DeletedPayments)
	require.Equal(t, []int64{quezonCity}, result.Branches)

	require.Len(t, f.store.Payments(), 2)
	require.Len(t, f.store.Receipts(), 1)
	require.Len(t, f.store.Books.Postings(), 1)
	requireBooksBalanced(t, f)

	again, err := f.svc.CleanOrphanedData(ctx, actor)
	require.NoError(t, err)
	require.Zero(t, again.DeletedConfigs)
}

func TestCleanupAbortsWhenDirectoryFails(t *testing.T) {
	f := newFixture(t)
	januaryScenario(t, f)
	f.branches.Err = errors.New("connection refused")

	_, err := f.svc.CleanOrphanedData(context.Background(), actor)
	require.ErrorIs(t, err, shared.ErrExternalDependency)
	require.Len(t, f.store.Payments(), 1)
}
