package finance_test

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/royalty/internal/finance"
	"github.com/odyssey-erp/royalty/internal/ledger"
	"github.com/odyssey-erp/royalty/internal/royalty"
	"github.com/odyssey-erp/royalty/internal/royalty/royaltytest"
	"github.com/odyssey-erp/royalty/internal/shared"
)

const (
	actor      int64 = 42
	makati     int64 = 1
	quezonCity int64 = 2
	orphan     int64 = 9
)

type memoryPeriods struct {
	mu      sync.Mutex
	periods map[uuid.UUID]finance.AccountingPeriod
}

func newMemoryPeriods() *memoryPeriods {
	return &memoryPeriods{periods: make(map[uuid.UUID]finance.AccountingPeriod)}
}

func (m *memoryPeriods) WithTx(ctx context.Context, fn func(context.Context, finance.PeriodRepo) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make(map[uuid.UUID]finance.AccountingPeriod, len(m.periods))
	for k, v := range m.periods {
		snap[k] = v
	}
	if err := fn(ctx, m); err != nil {
		m.periods = snap
		return err
	}
	return nil
}

func (m *memoryPeriods) InsertPeriod(_ context.Context, p finance.AccountingPeriod) error {
	m.periods[p.ID] = p
	return nil
}

func (m *memoryPeriods) GetPeriod(_ context.Context, id uuid.UUID) (finance.AccountingPeriod, error) {
	p, ok := m.periods[id]
	if !ok {
		return finance.AccountingPeriod{}, finance.ErrPeriodNotFound
	}
	return p, nil
}

func (m *memoryPeriods) GetPeriodForUpdate(ctx context.Context, id uuid.UUID) (finance.AccountingPeriod, error) {
	return m.GetPeriod(ctx, id)
}

func (m *memoryPeriods) UpdatePeriod(_ context.Context, p finance.AccountingPeriod) error {
	if _, ok := m.periods[p.ID]; !ok {
		return finance.ErrPeriodNotFound
	}
	m.periods[p.ID] = p
	return nil
}

func (m *memoryPeriods) DeletePeriod(_ context.Context, id uuid.UUID) error {
	if _, ok := m.periods[id]; !ok {
		return finance.ErrPeriodNotFound
	}
	delete(m.periods, id)
	return nil
}

func (m *memoryPeriods) ListPeriods(_ context.Context, status finance.PeriodStatus, limit int) ([]finance.AccountingPeriod, error) {
	var out []finance.AccountingPeriod
	for _, p := range m.periods {
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.After(out[j].StartDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryPeriods) FindOverlapping(_ context.Context, start, end time.Time) (*finance.AccountingPeriod, error) {
	var hits []finance.AccountingPeriod
	for _, p := range m.periods {
		if !p.StartDate.After(end) && !p.EndDate.Before(start) {
			hits = append(hits, p)
		}
	}
	if len(hits) == 0 {
		return nil, nil
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].StartDate.Before(hits[j].StartDate) })
	return &hits[0], nil
}

type auditRecorder struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *auditRecorder) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *auditRecorder) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type fixture struct {
	store    *royaltytest.Store
	branches *royaltytest.Branches
	periods  *memoryPeriods
	audit    *auditRecorder
	redis    *miniredis.Miniredis
	cache    *finance.Cache
	ledger   *ledger.Service
	svc      *finance.Service
	clock    time.Time
}

func newFixture(t *testing.T, withCache bool) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		store: royaltytest.NewStore(),
		branches: royaltytest.NewBranches(
			royalty.Branch{ID: makati, Name: "Makati", Code: "MKT"},
			royalty.Branch{ID: quezonCity, Name: "Quezon City", Code: "QC"},
		),
		periods: newMemoryPeriods(),
		audit:   &auditRecorder{},
		clock:   time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC),
	}
	if withCache {
		f.redis = miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: f.redis.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		f.cache = finance.NewCache(client, time.Minute)
	}
	now := func() time.Time { return f.clock }

	f.ledger = ledger.NewService(f.store.Books, nil, f.cache, logger)
	f.ledger.WithNow(now)
	f.svc = finance.NewService(finance.Options{
		Books:    f.store,
		Branches: f.branches,
		Periods:  f.periods,
		Cache:    f.cache,
		Metrics:  finance.NewMetrics(prometheus.NewRegistry()),
		Audit:    f.audit,
		Logger:   logger,
	})
	f.svc.WithNow(now)
	return f
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func endOf(y int, m time.Month, d int) time.Time {
	return day(y, m, d).AddDate(0, 0, 1).Add(-time.Microsecond)
}

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func (f *fixture) paid(branchID int64, amount string, at time.Time) royalty.Payment {
	amt := dec(amount)
	p := royalty.Payment{
		ID:          uuid.New(),
		BranchID:    branchID,
		PeriodStart: at.AddDate(0, -1, 0),
		PeriodEnd:   at,
		Amount:      amt,
		TotalDue:    amt,
		Status:      royalty.StatusPaid,
		PaidAmount:  &amt,
		PaidAt:      &at,
	}
	f.store.PutPayment(p)
	return p
}

func (f *fixture) open(branchID int64, status royalty.PaymentStatus, total string) royalty.Payment {
	amt := dec(total)
	p := royalty.Payment{
		ID:          uuid.New(),
		BranchID:    branchID,
		PeriodStart: day(2025, 2, 1),
		PeriodEnd:   day(2025, 3, 1),
		Amount:      amt,
		TotalDue:    amt,
		Status:      status,
	}
	f.store.PutPayment(p)
	return p
}

func (f *fixture) revenue(t *testing.T, cat ledger.RevenueCategory, amount string, on time.Time, dest ledger.Destination) {
	t.Helper()
	_, err := f.ledger.RecordRevenue(context.Background(), ledger.RevenueInput{
		Category:    cat,
		Description: string(cat),
		Amount:      dec(amount),
		EntryDate:   on,
		Destination: dest,
		Actor:       actor,
	})
	require.NoError(t, err)
}

func (f *fixture) expense(t *testing.T, cat ledger.ExpenseCategory, typ ledger.ExpenseType, amount string, on time.Time, source ledger.Destination) {
	t.Helper()
	_, err := f.ledger.RecordExpense(context.Background(), ledger.ExpenseInput{
		Category:    cat,
		ExpenseType: typ,
		Description: string(cat),
		Amount:      dec(amount),
		EntryDate:   on,
		Source:      source,
		Actor:       actor,
	})
	require.NoError(t, err)
}
