// Package royaltytest provides in-memory royalty collaborators for tests.
package royaltytest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/royalty/internal/ledger"
	"github.com/odyssey-erp/royalty/internal/ledger/ledgertest"
	"github.com/odyssey-erp/royalty/internal/royalty"
)

// Store is an in-memory royalty.RepositoryPort whose transactions also cover the
// embedded ledger store.
type Store struct {
	mu       sync.Mutex
	Books    *ledgertest.Store
	configs  map[uuid.UUID]royalty.Config
	audit    []royalty.ConfigAuditEntry
	payments map[uuid.UUID]royalty.Payment
	receipts map[uuid.UUID]royalty.Receipt
	counters map[int]int

	// FailReceipt, when set, is returned by InsertReceipt.
	FailReceipt error
}

// NewStore returns an empty store over a fresh ledger.
func NewStore() *Store {
	return &Store{
		Books:    ledgertest.NewStore(),
		configs:  make(map[uuid.UUID]royalty.Config),
		payments: make(map[uuid.UUID]royalty.Payment),
		receipts: make(map[uuid.UUID]royalty.Receipt),
		counters: make(map[int]int),
	}
}

type snapshot struct {
	ledger   ledgertest.Snapshot
	configs  map[uuid.UUID]royalty.Config
	audit    []royalty.ConfigAuditEntry
	payments map[uuid.UUID]royalty.Payment
	receipts map[uuid.UUID]royalty.Receipt
	counters map[int]int
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		ledger:   s.Books.Snapshot(),
		configs:  make(map[uuid.UUID]royalty.Config, len(s.configs)),
		audit:    append([]royalty.ConfigAuditEntry(nil), s.audit...),
		payments: make(map[uuid.UUID]royalty.Payment, len(s.payments)),
		receipts: make(map[uuid.UUID]royalty.Receipt, len(s.receipts)),
		counters: make(map[int]int, len(s.counters)),
	}
	for k, v := range s.configs {
		snap.configs[k] = v
	}
	for k, v := range s.payments {
		snap.payments[k] = v
	}
	for k, v := range s.receipts {
		snap.receipts[k] = v
	}
	for k, v := range s.counters {
		snap.counters[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.Books.Restore(snap.ledger)
	s.configs = snap.configs
	s.audit = snap.audit
	s.payments = snap.payments
	s.receipts = snap.receipts
	s.counters = snap.counters
}

// WithTx runs fn atomically over royalty and ledger state.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, royalty.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot()
	if err := fn(ctx, s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// Ledger exposes the ledger side of the transaction.
func (s *Store) Ledger() ledger.Repo {
	return s.Books
}

// Payments returns every stored payment ordered by period start.
func (s *Store) Payments() []royalty.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]royalty.Payment, 0, len(s.payments))
	for _, p := range s.payments {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })
	return out
}

// Receipts returns every stored receipt.
func (s *Store) Receipts() []royalty.Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]royalty.Receipt, 0, len(s.receipts))
	for _, r := range s.receipts {
		out = append(out, r)
	}
	return out
}

// PutPayment stores p as is, bypassing the generator.
func (s *Store) PutPayment(p royalty.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = p
}

// PutConfig stores cfg as is, bypassing validation.
func (s *Store) PutConfig(cfg royalty.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.ID] = cfg
}

func (s *Store) GetConfig(_ context.Context, id uuid.UUID) (royalty.Config, error) {
	cfg, ok := s.configs[id]
	if !ok {
		return royalty.Config{}, royalty.ErrConfigNotFound
	}
	return cfg, nil
}

func (s *Store) GetConfigByBranch(_ context.Context, branchID int64) (royalty.Config, error) {
	for _, cfg := range s.configs {
		if cfg.BranchID == branchID {
			return cfg, nil
		}
	}
	return royalty.Config{}, royalty.ErrConfigNotFound
}

func (s *Store) GetConfigByBranchForUpdate(ctx context.Context, branchID int64) (royalty.Config, error) {
	return s.GetConfigByBranch(ctx, branchID)
}

func (s *Store) ListConfigs(_ context.Context, activeOnly bool) ([]royalty.Config, error) {
	var out []royalty.Config
	for _, cfg := range s.configs {
		if activeOnly && !cfg.IsActive {
			continue
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BranchID < out[j].BranchID })
	return out, nil
}

func (s *Store) InsertConfig(_ context.Context, cfg royalty.Config) error {
	for _, existing := range s.configs {
		if existing.BranchID == cfg.BranchID {
			return royalty.ErrConfigExists
		}
	}
	s.configs[cfg.ID] = cfg
	return nil
}

func (s *Store) UpdateConfig(_ context.Context, cfg royalty.Config) error {
	if _, ok := s.configs[cfg.ID]; !ok {
		return royalty.ErrConfigNotFound
	}
	s.configs[cfg.ID] = cfg
	return nil
}

func (s *Store) DeleteConfig(_ context.Context, id uuid.UUID) error {
	if _, ok := s.configs[id]; !ok {
		return royalty.ErrConfigNotFound
	}
	delete(s.configs, id)
	return nil
}

func (s *Store) DeleteConfigsByBranch(_ context.Context, branchID int64) (int, error) {
	n := 0
	for id, cfg := range s.configs {
		if cfg.BranchID == branchID {
			delete(s.configs, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) InsertAuditEntries(_ context.Context, entries []royalty.ConfigAuditEntry) error {
	s.audit = append(s.audit, entries...)
	return nil
}

func (s *Store) ListAuditEntries(_ context.Context, configID uuid.UUID) ([]royalty.ConfigAuditEntry, error) {
	var out []royalty.ConfigAuditEntry
	for _, e := range s.audit {
		if e.ConfigID == configID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) InsertPayment(_ context.Context, p royalty.Payment) error {
	for _, existing := range s.payments {
		if existing.BranchID == p.BranchID && existing.PeriodStart.Equal(p.PeriodStart) && existing.PeriodEnd.Equal(p.PeriodEnd) {
			return royalty.ErrPeriodAlreadyBilled
		}
	}
	s.payments[p.ID] = p
	return nil
}

func (s *Store) PaymentExists(_ context.Context, branchID int64, start, end time.Time) (bool, error) {
	for _, p := range s.payments {
		if p.BranchID == branchID && p.PeriodStart.Equal(start) && p.PeriodEnd.Equal(end) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) LatestPeriodEnd(_ context.Context, branchID int64) (time.Time, error) {
	var latest time.Time
	for _, p := range s.payments {
		if p.BranchID == branchID && p.PeriodEnd.After(latest) {
			latest = p.PeriodEnd
		}
	}
	return latest, nil
}

func (s *Store) GetPayment(_ context.Context, id uuid.UUID) (royalty.Payment, error) {
	p, ok := s.payments[id]
	if !ok {
		return royalty.Payment{}, royalty.ErrPaymentNotFound
	}
	return p, nil
}

func (s *Store) GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (royalty.Payment, error) {
	return s.GetPayment(ctx, id)
}

func (s *Store) UpdatePayment(_ context.Context, p royalty.Payment) error {
	if _, ok := s.payments[p.ID]; !ok {
		return royalty.ErrPaymentNotFound
	}
	s.payments[p.ID] = p
	return nil
}

func (s *Store) ListPayments(_ context.Context, filter royalty.PaymentFilter) ([]royalty.Payment, error) {
	var out []royalty.Payment
	for _, p := range s.payments {
		if filter.Matches(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PeriodStart.Equal(out[j].PeriodStart) {
			return out[i].PeriodStart.After(out[j].PeriodStart)
		}
		return out[i].BranchID < out[j].BranchID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) ListOverdueCandidates(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	var due []royalty.Payment
	for _, p := range s.payments {
		if p.Status == royalty.StatusDue && now.After(p.GracePeriodEnd) {
			due = append(due, p)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueDate.Before(due[j].DueDate) })
	ids := make([]uuid.UUID, 0, len(due))
	for _, p := range due {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (s *Store) CountPaymentsByBranch(_ context.Context, branchID int64) (int, error) {
	n := 0
	for _, p := range s.payments {
		if p.BranchID == branchID {
			n++
		}
	}
	return n, nil
}

func (s *Store) DeletePaymentsByBranch(_ context.Context, branchID int64) (int, error) {
	n := 0
	for id, p := range s.payments {
		if p.BranchID == branchID {
			delete(s.payments, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) ListReferencedBranchIDs(context.Context) ([]int64, error) {
	seen := make(map[int64]bool)
	for _, cfg := range s.configs {
		seen[cfg.BranchID] = true
	}
	for _, p := range s.payments {
		seen[p.BranchID] = true
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) NextReceiptSequence(_ context.Context, year int) (int, error) {
	s.counters[year]++
	return s.counters[year], nil
}

func (s *Store) InsertReceipt(_ context.Context, r royalty.Receipt) error {
	if s.FailReceipt != nil {
		return s.FailReceipt
	}
	for _, existing := range s.receipts {
		if existing.ReceiptNumber == r.ReceiptNumber {
			return errors.New("royaltytest: duplicate receipt number")
		}
	}
	s.receipts[r.ID] = r
	return nil
}

func (s *Store) GetReceipt(_ context.Context, id uuid.UUID) (royalty.Receipt, error) {
	r, ok := s.receipts[id]
	if !ok {
		return royalty.Receipt{}, royalty.ErrReceiptNotFound
	}
	return r, nil
}

func (s *Store) ListReceipts(_ context.Context, branchID int64, limit int) ([]royalty.Receipt, error) {
	var out []royalty.Receipt
	for _, r := range s.receipts {
		if branchID == 0 || r.BranchID == branchID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceiptNumber > out[j].ReceiptNumber })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Branches is a map-backed royalty.BranchDirectory.
type Branches struct {
	mu       sync.Mutex
	branches map[int64]royalty.Branch
	// Err, when set, is returned by every lookup.
	Err error
}

// NewBranches returns a directory holding bs.
func NewBranches(bs ...royalty.Branch) *Branches {
	d := &Branches{branches: make(map[int64]royalty.Branch)}
	for _, b := range bs {
		d.branches[b.ID] = b
	}
	return d
}

// Remove drops a branch so its royalty data becomes orphaned.
func (d *Branches) Remove(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.branches, id)
}

func (d *Branches) Lookup(_ context.Context, id int64) (royalty.Branch, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return royalty.Branch{}, d.Err
	}
	b, ok := d.branches[id]
	if !ok {
		return royalty.Branch{}, royalty.ErrBranchNotFound
	}
	return b, nil
}

func (d *Branches) Exists(ctx context.Context, id int64) (bool, error) {
	_, err := d.Lookup(ctx, id)
	if errors.Is(err, royalty.ErrBranchNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Revenue is a fixed-answer royalty.RevenueFeed keyed by branch and period start.
type Revenue struct {
	mu     sync.Mutex
	values map[revenueKey]decimal.Decimal
	Calls  int
	// Err, when set, is returned by every call.
	Err error
}

type revenueKey struct {
	branch int64
	start  string
}

// NewRevenue returns an empty feed; unknown periods report zero.
func NewRevenue() *Revenue {
	return &Revenue{values: make(map[revenueKey]decimal.Decimal)}
}

// Set records the gross revenue of a branch for the period starting at start.
func (r *Revenue) Set(branchID int64, start time.Time, gross decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[revenueKey{branchID, start.Format(time.RFC3339)}] = gross
}

func (r *Revenue) GrossRevenue(_ context.Context, branchID int64, start, _ time.Time) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls++
	if r.Err != nil {
		return decimal.Zero, r.Err
	}
	return r.values[revenueKey{branchID, start.Format(time.RFC3339)}], nil
}

// Notifier records queued messages.
type Notifier struct {
	mu         sync.Mutex
	Receipts   []uuid.UUID
	DueNotices []uuid.UUID
	Recipients []string
	// Err, when set, is returned by every send.
	Err error
}

func (n *Notifier) SendReceipt(_ context.Context, recipient string, receiptID uuid.UUID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.Receipts = append(n.Receipts, receiptID)
	n.Recipients = append(n.Recipients, recipient)
	return nil
}

func (n *Notifier) SendDueNotice(_ context.Context, recipient string, paymentID uuid.UUID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.DueNotices = append(n.DueNotices, paymentID)
	n.Recipients = append(n.Recipients, recipient)
	return nil
}
