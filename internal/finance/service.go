package finance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/odyssey-erp/royalty/internal/ledger"
	"github.com/odyssey-erp/royalty/internal/royalty"
	"github.com/odyssey-erp/royalty/internal/shared"
)

const reportPL = "pl"

// AuditPort records period lifecycle events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Options wires the finance service. Books and Periods are required.
type Options struct {
	Books    royalty.RepositoryPort
	Branches royalty.BranchDirectory
	Periods  PeriodStore
	Cache    *Cache
	Metrics  *Metrics
	Audit    AuditPort
	Logger   *slog.Logger
}

// Service builds financial reports over royalty payments and the ledger, and runs the
// accounting period lifecycle.
type Service struct {
	books    royalty.RepositoryPort
	branches royalty.BranchDirectory
	periods  PeriodStore
	cache    *Cache
	metrics  *Metrics
	audit    AuditPort
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the finance service.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		books:    opts.Books,
		branches: opts.Branches,
		periods:  opts.Periods,
		cache:    opts.Cache,
		metrics:  opts.Metrics,
		audit:    opts.Audit,
		logger:   logger,
		now:      time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// PLSummary returns the profit and loss statement for [start, end], served from the
// report cache when the books have not changed since it was built.
func (s *Service) PLSummary(ctx context.Context, start, end time.Time) (PLSummary, error) {
	if err := checkRange(start, end); err != nil {
		return PLSummary{}, err
	}
	key, err := s.cache.BuildKey(ctx, "finance", reportPL, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	if err != nil {
		s.logger.Warn("report cache unavailable", slog.String("report", reportPL), slog.Any("error", err))
		return s.buildPL(ctx, start, end)
	}
	var pl PLSummary
	hit, err := s.cache.FetchJSON(ctx, key, &pl, func(ctx context.Context) (any, error) {
		return s.buildPL(ctx, start, end)
	})
	switch {
	case errors.Is(err, ErrCacheWrite):
		s.logger.Warn("report not cached", slog.String("report", reportPL), slog.Any("error", err))
	case err != nil:
		return PLSummary{}, err
	}
	s.metrics.cacheResult(reportPL, hit)
	return pl, nil
}

func (s *Service) buildPL(ctx context.Context, start, end time.Time) (PLSummary, error) {
	began := time.Now()
	var (
		payments []royalty.Payment
		revenue  []ledger.RevenueEntry
		expenses []ledger.ExpenseEntry
	)
	err := s.books.WithTx(ctx, func(ctx context.Context, tx royalty.TxRepository) error {
		var err error
		payments, err = tx.ListPayments(ctx, royalty.PaymentFilter{
			Statuses: []royalty.PaymentStatus{royalty.StatusPaid},
			PaidFrom: &start,
			PaidTo:   &end,
		})
		if err != nil {
			return err
		}
		window := ledger.EntryFilter{From: &start, To: &end}
		if revenue, err = tx.Ledger().ListRevenue(ctx, window); err != nil {
			return err
		}
		expenses, err = tx.Ledger().ListExpenses(ctx, window)
		return err
	})
	if err != nil {
		return PLSummary{}, err
	}
	names, err := s.branchNames(ctx, payments)
	if err != nil {
		return PLSummary{}, err
	}
	pl := buildPL(start, end, payments, names, revenue, expenses)
	s.metrics.observeBuild(reportPL, time.Since(began))
	return pl, nil
}

// BalanceSheet returns the current position of the books. An unbalanced result is
// returned with a warning and logged, never corrected.
func (s *Service) BalanceSheet(ctx context.Context) (BalanceSheet, error) {
	var (
		accounts []ledger.Account
		open     []royalty.Payment
	)
	err := s.books.WithTx(ctx, func(ctx context.Context, tx royalty.TxRepository) error {
		var err error
		if accounts, err = tx.Ledger().ListAccounts(ctx); err != nil {
			return err
		}
		open, err = tx.ListPayments(ctx, royalty.PaymentFilter{
			Statuses: []royalty.PaymentStatus{royalty.StatusDue, royalty.StatusOverdue},
		})
		return err
	})
	if err != nil {
		return BalanceSheet{}, err
	}
	bs := buildBalanceSheet(s.now(), accounts, open)
	if !bs.IsBalanced {
		s.logger.Error("balance sheet identity violated",
			slog.String("total_assets", bs.TotalAssets.String()),
			slog.String("total_liabilities", bs.TotalLiabilities.String()),
			slog.String("total_equity", bs.TotalEquity.String()),
			slog.String("difference", bs.Difference.String()))
	}
	return bs, nil
}

// VerifyLedger replays the posting journal and reports accounts whose stored balance
// drifted from it.
func (s *Service) VerifyLedger(ctx context.Context) (LedgerCheck, error) {
	var (
		accounts []ledger.Account
		postings []ledger.Posting
	)
	err := s.books.WithTx(ctx, func(ctx context.Context, tx royalty.TxRepository) error {
		var err error
		if accounts, err = tx.Ledger().ListAccounts(ctx); err != nil {
			return err
		}
		postings, err = tx.Ledger().ListPostings(ctx, ledger.PostingFilter{})
		return err
	})
	if err != nil {
		return LedgerCheck{}, err
	}
	check := LedgerCheck{
		CheckedAt: s.now(),
		Accounts:  len(accounts),
		Postings:  len(postings),
		Drift:     ledger.FindDrift(accounts, postings),
	}
	if check.Drift == nil {
		check.Drift = []ledger.Drift{}
	}
	check.Consistent = len(check.Drift) == 0
	s.metrics.driftAccounts(len(check.Drift))
	if !check.Consistent {
		check.Warning = fmt.Sprintf("%s: %d account(s) drifted from the posting journal", shared.ErrConsistencyViolation, len(check.Drift))
		for _, d := range check.Drift {
			s.logger.Error("ledger drift",
				slog.String("account", string(d.Account)),
				slog.String("stored", d.Stored.String()),
				slog.String("replayed", d.Replayed.String()))
		}
	}
	return check, nil
}

// RoyaltyIncomeSummary totals royalties collected in [start, end] per branch, next to
// the amounts still due or overdue.
func (s *Service) RoyaltyIncomeSummary(ctx context.Context, start, end time.Time) (RoyaltyIncomeSummary, error) {
	if err := checkRange(start, end); err != nil {
		return RoyaltyIncomeSummary{}, err
	}
	var paid, open []royalty.Payment
	err := s.books.WithTx(ctx, func(ctx context.Context, tx royalty.TxRepository) error {
		var err error
		paid, err = tx.ListPayments(ctx, royalty.PaymentFilter{
			Statuses: []royalty.PaymentStatus{royalty.StatusPaid},
			PaidFrom: &start,
			PaidTo:   &end,
		})
		if err != nil {
			return err
		}
		open, err = tx.ListPayments(ctx, royalty.PaymentFilter{
			Statuses: []royalty.PaymentStatus{royalty.StatusDue, royalty.StatusOverdue},
		})
		return err
	})
	if err != nil {
		return RoyaltyIncomeSummary{}, err
	}
	names, err := s.branchNames(ctx, append(append([]royalty.Payment(nil), paid...), open...))
	if err != nil {
		return RoyaltyIncomeSummary{}, err
	}

	out := RoyaltyIncomeSummary{PeriodStart: start, PeriodEnd: end, ByBranch: []BranchRoyaltySummary{}}
	rows := make(map[int64]*BranchRoyaltySummary)
	row := func(branchID int64) *BranchRoyaltySummary {
		r := rows[branchID]
		if r == nil {
			r = &BranchRoyaltySummary{BranchID: branchID, BranchName: names[branchID]}
			rows[branchID] = r
		}
		return r
	}
	for _, p := range paid {
		if _, ok := names[p.BranchID]; !ok || p.PaidAmount == nil {
			continue
		}
		r := row(p.BranchID)
		r.Collected = r.Collected.Add(*p.PaidAmount)
		r.PaidCount++
		out.TotalCollected = out.TotalCollected.Add(*p.PaidAmount)
		out.PaymentCount++
	}
	for _, p := range open {
		if _, ok := names[p.BranchID]; !ok {
			continue
		}
		r := row(p.BranchID)
		if p.Status == royalty.StatusOverdue {
			r.Overdue = r.Overdue.Add(p.TotalDue)
			r.OverdueCount++
			out.TotalOverdue = out.TotalOverdue.Add(p.TotalDue)
		} else {
			r.Pending = r.Pending.Add(p.TotalDue)
			r.PendingCount++
		}
		out.TotalPending = out.TotalPending.Add(p.TotalDue)
	}
	for _, r := range rows {
		out.ByBranch = append(out.ByBranch, *r)
	}
	sort.Slice(out.ByBranch, func(i, j int) bool {
		a, b := out.ByBranch[i], out.ByBranch[j]
		if !a.Collected.Equal(b.Collected) {
			return a.Collected.GreaterThan(b.Collected)
		}
		return a.BranchID < b.BranchID
	})
	return out, nil
}

// Invalidate drops every cached report.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Invalidate(ctx)
}

// branchNames resolves the branches referenced by payments. Branches missing from the
// directory are orphaned and absent from the result.
func (s *Service) branchNames(ctx context.Context, payments []royalty.Payment) (map[int64]string, error) {
	names := make(map[int64]string)
	seen := make(map[int64]bool)
	for _, p := range payments {
		if seen[p.BranchID] {
			continue
		}
		seen[p.BranchID] = true
		if s.branches == nil {
			names[p.BranchID] = "Unknown Branch"
			continue
		}
		b, err := s.branches.Lookup(ctx, p.BranchID)
		if errors.Is(err, shared.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: branch directory: %v", shared.ErrExternalDependency, err)
		}
		names[p.BranchID] = b.Name
	}
	return names, nil
}

func checkRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return shared.Validationf("start and end dates are required")
	}
	if end.Before(start) {
		return shared.Validationf("end date %s is before start date %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	return nil
}

func (s *Service) record(ctx context.Context, actor int64, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "accounting_period",
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	})
}
