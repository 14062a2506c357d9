package royalty

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/royalty/internal/ledger"
	"github.com/odyssey-erp/royalty/internal/platform/db"
)

// Repository persists royalty entities in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction shared with the ledger.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("royalty repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, ledger: ledger.NewTxRepository(tx)})
	})
}

type txRepository struct {
	tx     pgx.Tx
	ledger ledger.Repo
}

func (r *txRepository) Ledger() ledger.Repo {
	return r.ledger
}

const configColumns = `id, branch_id, royalty_type, rate, billing_cycle, billing_day, grace_period_days, late_fee_rate, destination, is_active, active_since, notes, created_by, created_at, updated_at`

func scanConfig(row pgx.Row) (Config, error) {
	var c Config
	var dest string
	if err := row.Scan(&c.ID, &c.BranchID, &c.RoyaltyType, &c.Rate, &c.BillingCycle, &c.BillingDay, &c.GracePeriodDays, &c.LateFeeRate, &dest, &c.IsActive, &c.ActiveSince, &c.Notes, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, ErrConfigNotFound
		}
		return Config{}, err
	}
	parsed, err := ledger.ParseDestination(dest)
	if err != nil {
		return Config{}, err
	}
	c.Destination = parsed
	return c, nil
}

func (r *txRepository) GetConfig(ctx context.Context, id uuid.UUID) (Config, error) {
	return scanConfig(r.tx.QueryRow(ctx, `SELECT `+configColumns+` FROM royalty_configs WHERE id=$1`, id))
}

func (r *txRepository) GetConfigByBranch(ctx context.Context, branchID int64) (Config, error) {
	return scanConfig(r.tx.QueryRow(ctx, `SELECT `+configColumns+` FROM royalty_configs WHERE branch_id=$1`, branchID))
}

func (r *txRepository) GetConfigByBranchForUpdate(ctx context.Context, branchID int64) (Config, error) {
	return scanConfig(r.tx.QueryRow(ctx, `SELECT `+configColumns+` FROM royalty_configs WHERE branch_id=$1 FOR UPDATE`, branchID))
}

func (r *txRepository) ListConfigs(ctx context.Context, activeOnly bool) ([]Config, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+configColumns+` FROM royalty_configs WHERE (NOT $1 OR is_active) ORDER BY branch_id`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var configs []Config
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

func (r *txRepository) InsertConfig(ctx context.Context, c Config) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO royalty_configs (`+configColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`, c.ID, c.BranchID, c.RoyaltyType, c.Rate, c.BillingCycle, c.BillingDay, c.GracePeriodDays, c.LateFeeRate, c.Destination.String(), c.IsActive, c.ActiveSince, c.Notes, c.CreatedBy, c.CreatedAt, c.UpdatedAt)
	if db.IsUniqueViolation(err, "uq_royalty_configs_branch") {
		return ErrConfigExists
	}
	return err
}

func (r *txRepository) UpdateConfig(ctx context.Context, c Config) error {
	tag, err := r.tx.Exec(ctx, `UPDATE royalty_configs SET royalty_type=$2, rate=$3, billing_cycle=$4, billing_day=$5, grace_period_days=$6, late_fee_rate=$7, destination=$8, is_active=$9, active_since=$10, notes=$11, updated_at=$12 WHERE id=$1`,
		c.ID, c.RoyaltyType, c.Rate, c.BillingCycle, c.BillingDay, c.GracePeriodDays, c.LateFeeRate, c.Destination.String(), c.IsActive, c.ActiveSince, c.Notes, c.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConfigNotFound
	}
	return nil
}

func (r *txRepository) DeleteConfig(ctx context.Context, id uuid.UUID) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM royalty_configs WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConfigNotFound
	}
	return nil
}

func (r *txRepository) DeleteConfigsByBranch(ctx context.Context, branchID int64) (int, error) {
	tag, err := r.tx.Exec(ctx, `DELETE FROM royalty_configs WHERE branch_id=$1`, branchID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *txRepository) InsertAuditEntries(ctx context.Context, entries []ConfigAuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`INSERT INTO royalty_config_audit (id, config_id, branch_id, field, old_value, new_value, actor, reason, changed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, e.ID, e.ConfigID, e.BranchID, e.Field, e.OldValue, e.NewValue, e.Actor, e.Reason, e.ChangedAt)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepository) ListAuditEntries(ctx context.Context, configID uuid.UUID) ([]ConfigAuditEntry, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, config_id, branch_id, field, old_value, new_value, actor, reason, changed_at
FROM royalty_config_audit WHERE config_id=$1 ORDER BY changed_at, field`, configID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []ConfigAuditEntry
	for rows.Next() {
		var e ConfigAuditEntry
		if err := rows.Scan(&e.ID, &e.ConfigID, &e.BranchID, &e.Field, &e.OldValue, &e.NewValue, &e.Actor, &e.Reason, &e.ChangedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

const paymentColumns = `id, branch_id, config_id, period_label, period_start, period_end, gross_revenue, royalty_type, rate, amount, late_fee, late_fee_rate, total_due, due_date, grace_period_end, status, paid_amount, paid_at, payment_method, payment_reference, receipt_id, destination, notes, created_by, updated_by, created_at, updated_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	var dest string
	if err := row.Scan(&p.ID, &p.BranchID, &p.ConfigID, &p.PeriodLabel, &p.PeriodStart, &p.PeriodEnd, &p.GrossRevenue, &p.RoyaltyType, &p.Rate,
		&p.Amount, &p.LateFee, &p.LateFeeRate, &p.TotalDue, &p.DueDate, &p.GracePeriodEnd, &p.Status, &p.PaidAmount, &p.PaidAt,
		&p.PaymentMethod, &p.PaymentReference, &p.ReceiptID, &dest, &p.Notes, &p.CreatedBy, &p.UpdatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, err
	}
	parsed, err := ledger.ParseDestination(dest)
	if err != nil {
		return Payment{}, err
	}
	p.Destination = parsed
	return p, nil
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) error {
	// DO NOTHING keeps the transaction usable when a concurrent run billed the period first.
	tag, err := r.tx.Exec(ctx, `INSERT INTO royalty_payments (`+paymentColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)
ON CONFLICT ON CONSTRAINT uq_royalty_payments_period DO NOTHING`,
		p.ID, p.BranchID, p.ConfigID, p.PeriodLabel, p.PeriodStart, p.PeriodEnd, p.GrossRevenue, p.RoyaltyType, p.Rate,
		p.Amount, p.LateFee, p.LateFeeRate, p.TotalDue, p.DueDate, p.GracePeriodEnd, p.Status, p.PaidAmount, p.PaidAt,
		p.PaymentMethod, p.PaymentReference, p.ReceiptID, p.Destination.String(), p.Notes, p.CreatedBy, p.UpdatedBy, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPeriodAlreadyBilled
	}
	return nil
}

func (r *txRepository) PaymentExists(ctx context.Context, branchID int64, start, end time.Time) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM royalty_payments WHERE branch_id=$1 AND period_start=$2 AND period_end=$3)`, branchID, start, end).Scan(&exists)
	return exists, err
}

func (r *txRepository) LatestPeriodEnd(ctx context.Context, branchID int64) (time.Time, error) {
	var end *time.Time
	if err := r.tx.QueryRow(ctx, `SELECT MAX(period_end) FROM royalty_payments WHERE branch_id=$1`, branchID).Scan(&end); err != nil {
		return time.Time{}, err
	}
	if end == nil {
		return time.Time{}, nil
	}
	return *end, nil
}

func (r *txRepository) GetPayment(ctx context.Context, id uuid.UUID) (Payment, error) {
	return scanPayment(r.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM royalty_payments WHERE id=$1`, id))
}

func (r *txRepository) GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (Payment, error) {
	return scanPayment(r.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM royalty_payments WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdatePayment(ctx context.Context, p Payment) error {
	tag, err := r.tx.Exec(ctx, `UPDATE royalty_payments SET late_fee=$2, total_due=$3, status=$4, paid_amount=$5, paid_at=$6, payment_method=$7,
payment_reference=$8, receipt_id=$9, destination=$10, notes=$11, updated_by=$12, updated_at=$13 WHERE id=$1`,
		p.ID, p.LateFee, p.TotalDue, p.Status, p.PaidAmount, p.PaidAt, p.PaymentMethod,
		p.PaymentReference, p.ReceiptID, p.Destination.String(), p.Notes, p.UpdatedBy, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *txRepository) ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error) {
	var (
		where []string
		args  []any
	)
	if filter.BranchID != 0 {
		args = append(args, filter.BranchID)
		where = append(where, "branch_id=$"+strconv.Itoa(len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		args = append(args, statuses)
		where = append(where, "status = ANY($"+strconv.Itoa(len(args))+")")
	}
	if filter.PaidFrom != nil {
		args = append(args, *filter.PaidFrom)
		where = append(where, "paid_at >= $"+strconv.Itoa(len(args)))
	}
	if filter.PaidTo != nil {
		args = append(args, *filter.PaidTo)
		where = append(where, "paid_at <= $"+strconv.Itoa(len(args)))
	}
	query := `SELECT ` + paymentColumns + ` FROM royalty_payments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY period_start DESC, branch_id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *txRepository) ListOverdueCandidates(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.tx.Query(ctx, `SELECT id FROM royalty_payments WHERE status='due' AND grace_period_end < $1 ORDER BY due_date, id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *txRepository) CountPaymentsByBranch(ctx context.Context, branchID int64) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM royalty_payments WHERE branch_id=$1`, branchID).Scan(&n)
	return n, err
}

func (r *txRepository) DeletePaymentsByBranch(ctx context.Context, branchID int64) (int, error) {
	tag, err := r.tx.Exec(ctx, `DELETE FROM royalty_payments WHERE branch_id=$1`, branchID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *txRepository) ListReferencedBranchIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.tx.Query(ctx, `SELECT branch_id FROM royalty_configs UNION SELECT branch_id FROM royalty_payments ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *txRepository) NextReceiptSequence(ctx context.Context, year int) (int, error) {
	var seq int
	err := r.tx.QueryRow(ctx, `INSERT INTO receipt_counters (counter_type, year, last_value)
VALUES ($1, $2, 1)
ON CONFLICT (counter_type, year) DO UPDATE SET last_value = receipt_counters.last_value + 1
RETURNING last_value`, receiptCounterType, year).Scan(&seq)
	return seq, err
}

const receiptColumns = `id, receipt_number, payment_id, branch_id, amount, payment_method, payment_reference, period_label, issued_by, issued_at, notes`

func scanReceipt(row pgx.Row) (Receipt, error) {
	var rc Receipt
	if err := row.Scan(&rc.ID, &rc.ReceiptNumber, &rc.PaymentID, &rc.BranchID, &rc.Amount, &rc.PaymentMethod, &rc.PaymentReference, &rc.PeriodLabel, &rc.IssuedBy, &rc.IssuedAt, &rc.Notes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Receipt{}, ErrReceiptNotFound
		}
		return Receipt{}, err
	}
	return rc, nil
}

func (r *txRepository) InsertReceipt(ctx context.Context, rc Receipt) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO receipts (`+receiptColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, rc.ID, rc.ReceiptNumber, rc.PaymentID, rc.BranchID, rc.Amount, rc.PaymentMethod, rc.PaymentReference, rc.PeriodLabel, rc.IssuedBy, rc.IssuedAt, rc.Notes)
	return err
}

func (r *txRepository) GetReceipt(ctx context.Context, id uuid.UUID) (Receipt, error) {
	return scanReceipt(r.tx.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id=$1`, id))
}

func (r *txRepository) ListReceipts(ctx context.Context, branchID int64, limit int) ([]Receipt, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE ($1 = 0 OR branch_id=$1) ORDER BY issued_at DESC LIMIT $2`, branchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var receipts []Receipt
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, rc)
	}
	return receipts, rows.Err()
}
