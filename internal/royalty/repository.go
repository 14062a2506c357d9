package royalty

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/royalty/internal/ledger"
)

// RoyaltyConfigRepo persists configs and their audit trail.
type RoyaltyConfigRepo interface {
	GetConfig(ctx context.Context, id uuid.UUID) (Config, error)
	GetConfigByBranch(ctx context.Context, branchID int64) (Config, error)
	GetConfigByBranchForUpdate(ctx context.Context, branchID int64) (Config, error)
	ListConfigs(ctx context.Context, activeOnly bool) ([]Config, error)
	InsertConfig(ctx context.Context, cfg Config) error
	UpdateConfig(ctx context.Context, cfg Config) error
	DeleteConfig(ctx context.Context, id uuid.UUID) error
	DeleteConfigsByBranch(ctx context.Context, branchID int64) (int, error)
	InsertAuditEntries(ctx context.Context, entries []ConfigAuditEntry) error
	ListAuditEntries(ctx context.Context, configID uuid.UUID) ([]ConfigAuditEntry, error)
}

// RoyaltyPaymentRepo persists payments.
type RoyaltyPaymentRepo interface {
	InsertPayment(ctx context.Context, p Payment) error
	PaymentExists(ctx context.Context, branchID int64, start, end time.Time) (bool, error)
	// LatestPeriodEnd returns the end of the branch's latest billed period, zero if none.
	LatestPeriodEnd(ctx context.Context, branchID int64) (time.Time, error)
	GetPayment(ctx context.Context, id uuid.UUID) (Payment, error)
	GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (Payment, error)
	UpdatePayment(ctx context.Context, p Payment) error
	ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error)
	ListOverdueCandidates(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	CountPaymentsByBranch(ctx context.Context, branchID int64) (int, error)
	DeletePaymentsByBranch(ctx context.Context, branchID int64) (int, error)
	ListReferencedBranchIDs(ctx context.Context) ([]int64, error)
}

// ReceiptRepo persists receipts and the per-year receipt counter.
type ReceiptRepo interface {
	NextReceiptSequence(ctx context.Context, year int) (int, error)
	InsertReceipt(ctx context.Context, r Receipt) error
	GetReceipt(ctx context.Context, id uuid.UUID) (Receipt, error)
	ListReceipts(ctx context.Context, branchID int64, limit int) ([]Receipt, error)
}

// TxRepository bundles every repository bound to one transaction, including the
// ledger so settlements post atomically with the payment update.
type TxRepository interface {
	RoyaltyConfigRepo
	RoyaltyPaymentRepo
	ReceiptRepo
	Ledger() ledger.Repo
}

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}
