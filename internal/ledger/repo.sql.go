package ledger

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/royalty/internal/platform/db"
)

// Repository persists ledger entities in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Repo) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// NewTxRepository binds a ledger Repo to an existing transaction.
func NewTxRepository(tx pgx.Tx) Repo {
	return &txRepository{tx: tx}
}

type txRepository struct {
	tx pgx.Tx
}

const accountColumns = `id, name, type, asset_class, balance, is_active, is_system, notes, created_by, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	var assetClass *string
	if err := row.Scan(&a.ID, &a.Name, &a.Type, &assetClass, &a.Balance, &a.IsActive, &a.IsSystem, &a.Notes, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Account{}, err
	}
	if assetClass != nil {
		a.AssetClass = AssetClass(*assetClass)
	}
	return a, nil
}

func (r *txRepository) GetAccount(ctx context.Context, id AccountID) (Account, error) {
	acc, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	return acc, err
}

func (r *txRepository) GetAccountForUpdate(ctx context.Context, id AccountID) (Account, error) {
	acc, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	return acc, err
}

func (r *txRepository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM ledger_accounts ORDER BY type, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

func (r *txRepository) InsertAccount(ctx context.Context, a Account) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO ledger_accounts (id, name, type, asset_class, balance, is_active, is_system, notes, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, a.ID, a.Name, a.Type, nullString(string(a.AssetClass)), a.Balance, a.IsActive, a.IsSystem, a.Notes, a.CreatedBy, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r *txRepository) SetAccountActive(ctx context.Context, id AccountID, active bool, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE ledger_accounts SET is_active=$2, updated_at=$3 WHERE id=$1`, id, active, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) UpdateAccountDetails(ctx context.Context, id AccountID, name, notes string, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE ledger_accounts SET name=$2, notes=$3, updated_at=$4 WHERE id=$1`, id, name, notes, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) AdjustBalance(ctx context.Context, id AccountID, delta decimal.Decimal, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE ledger_accounts SET balance = balance + $2, updated_at=$3 WHERE id=$1`, id, delta, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) InsertPosting(ctx context.Context, p Posting) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO ledger_postings (id, kind, source_id, revision, asset_account, counter_account, amount, reversal_of, memo, posted_by, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, p.ID, p.Kind, p.SourceID, p.Revision, p.AssetAccount, p.CounterAccount, p.Amount, p.ReversalOf, p.Memo, p.PostedBy, p.PostedAt)
	if db.IsUniqueViolation(err, "uq_ledger_postings_source") {
		return ErrAlreadyPosted
	}
	return err
}

func (r *txRepository) ListPostings(ctx context.Context, filter PostingFilter) ([]Posting, error) {
	var (
		where []string
		args  []any
	)
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		where = append(where, "kind=$"+strconv.Itoa(len(args)))
	}
	if filter.SourceID != uuid.Nil {
		args = append(args, filter.SourceID)
		where = append(where, "source_id=$"+strconv.Itoa(len(args)))
	}
	if filter.Account != "" {
		args = append(args, filter.Account)
		where = append(where, "(asset_account=$"+strconv.Itoa(len(args))+" OR counter_account=$"+strconv.Itoa(len(args))+")")
	}
	query := `SELECT id, kind, source_id, revision, asset_account, counter_account, amount, reversal_of, memo, posted_by, posted_at FROM ledger_postings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY posted_at, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var postings []Posting
	for rows.Next() {
		var p Posting
		if err := rows.Scan(&p.ID, &p.Kind, &p.SourceID, &p.Revision, &p.AssetAccount, &p.CounterAccount, &p.Amount, &p.ReversalOf, &p.Memo, &p.PostedBy, &p.PostedAt); err != nil {
			return nil, err
		}
		postings = append(postings, p)
	}
	return postings, rows.Err()
}

const revenueColumns = `id, category, description, amount, entry_date, notes, destination, created_by, created_at, updated_at`

func scanRevenue(row pgx.Row) (RevenueEntry, error) {
	var e RevenueEntry
	var dest string
	if err := row.Scan(&e.ID, &e.Category, &e.Description, &e.Amount, &e.EntryDate, &e.Notes, &dest, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return RevenueEntry{}, err
	}
	parsed, err := ParseDestination(dest)
	if err != nil {
		return RevenueEntry{}, err
	}
	e.Destination = parsed
	return e, nil
}

func (r *txRepository) InsertRevenue(ctx context.Context, e RevenueEntry) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO manual_revenue_entries (`+revenueColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, e.ID, e.Category, e.Description, e.Amount, e.EntryDate, e.Notes, e.Destination.String(), e.CreatedBy, e.CreatedAt, e.UpdatedAt)
	return err
}

func (r *txRepository) GetRevenueForUpdate(ctx context.Context, id uuid.UUID) (RevenueEntry, error) {
	e, err := scanRevenue(r.tx.QueryRow(ctx, `SELECT `+revenueColumns+` FROM manual_revenue_entries WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return RevenueEntry{}, ErrEntryNotFound
	}
	return e, err
}

func (r *txRepository) UpdateRevenue(ctx context.Context, e RevenueEntry) error {
	_, err := r.tx.Exec(ctx, `UPDATE manual_revenue_entries SET category=$2, description=$3, amount=$4, entry_date=$5, notes=$6, destination=$7, updated_at=$8 WHERE id=$1`,
		e.ID, e.Category, e.Description, e.Amount, e.EntryDate, e.Notes, e.Destination.String(), e.UpdatedAt)
	return err
}

func (r *txRepository) DeleteRevenue(ctx context.Context, id uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM manual_revenue_entries WHERE id=$1`, id)
	return err
}

func (r *txRepository) ListRevenue(ctx context.Context, filter EntryFilter) ([]RevenueEntry, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+revenueColumns+` FROM manual_revenue_entries
WHERE ($1::date IS NULL OR entry_date >= $1) AND ($2::date IS NULL OR entry_date <= $2)
ORDER BY entry_date DESC, created_at DESC`, filter.From, filter.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []RevenueEntry
	for rows.Next() {
		e, err := scanRevenue(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

const expenseColumns = `id, category, expense_type, description, amount, entry_date, is_recurring, recurring_day, notes, source, created_by, created_at, updated_at`

func scanExpense(row pgx.Row) (ExpenseEntry, error) {
	var e ExpenseEntry
	var source string
	var recurringDay *int32
	if err := row.Scan(&e.ID, &e.Category, &e.ExpenseType, &e.Description, &e.Amount, &e.EntryDate, &e.IsRecurring, &recurringDay, &e.Notes, &source, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return ExpenseEntry{}, err
	}
	if recurringDay != nil {
		e.RecurringDay = int(*recurringDay)
	}
	parsed, err := ParseDestination(source)
	if err != nil {
		return ExpenseEntry{}, err
	}
	e.Source = parsed
	return e, nil
}

func (r *txRepository) InsertExpense(ctx context.Context, e ExpenseEntry) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO manual_expense_entries (`+expenseColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`, e.ID, e.Category, e.ExpenseType, e.Description, e.Amount, e.EntryDate, e.IsRecurring, nullInt(e.RecurringDay), e.Notes, e.Source.String(), e.CreatedBy, e.CreatedAt, e.UpdatedAt)
	return err
}

func (r *txRepository) GetExpenseForUpdate(ctx context.Context, id uuid.UUID) (ExpenseEntry, error) {
	e, err := scanExpense(r.tx.QueryRow(ctx, `SELECT `+expenseColumns+` FROM manual_expense_entries WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ExpenseEntry{}, ErrEntryNotFound
	}
	return e, err
}

func (r *txRepository) UpdateExpense(ctx context.Context, e ExpenseEntry) error {
	_, err := r.tx.Exec(ctx, `UPDATE manual_expense_entries SET category=$2, expense_type=$3, description=$4, amount=$5, entry_date=$6, is_recurring=$7, recurring_day=$8, notes=$9, source=$10, updated_at=$11 WHERE id=$1`,
		e.ID, e.Category, e.ExpenseType, e.Description, e.Amount, e.EntryDate, e.IsRecurring, nullInt(e.RecurringDay), e.Notes, e.Source.String(), e.UpdatedAt)
	return err
}

func (r *txRepository) DeleteExpense(ctx context.Context, id uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM manual_expense_entries WHERE id=$1`, id)
	return err
}

func (r *txRepository) ListExpenses(ctx context.Context, filter EntryFilter) ([]ExpenseEntry, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+expenseColumns+` FROM manual_expense_entries
WHERE ($1::date IS NULL OR entry_date >= $1) AND ($2::date IS NULL OR entry_date <= $2)
ORDER BY entry_date DESC, created_at DESC`, filter.From, filter.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []ExpenseEntry
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

const equityColumns = `id, kind, description, amount, entry_date, notes, account, created_by, created_at, updated_at`

func scanEquity(row pgx.Row) (EquityEntry, error) {
	var e EquityEntry
	var account string
	if err := row.Scan(&e.ID, &e.Kind, &e.Description, &e.Amount, &e.EntryDate, &e.Notes, &account, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return EquityEntry{}, err
	}
	parsed, err := ParseDestination(account)
	if err != nil {
		return EquityEntry{}, err
	}
	e.Account = parsed
	return e, nil
}

func (r *txRepository) InsertEquity(ctx context.Context, e EquityEntry) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO equity_entries (`+equityColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, e.ID, e.Kind, e.Description, e.Amount, e.EntryDate, e.Notes, e.Account.String(), e.CreatedBy, e.CreatedAt, e.UpdatedAt)
	return err
}

func (r *txRepository) GetEquityForUpdate(ctx context.Context, id uuid.UUID) (EquityEntry, error) {
	e, err := scanEquity(r.tx.QueryRow(ctx, `SELECT `+equityColumns+` FROM equity_entries WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return EquityEntry{}, ErrEntryNotFound
	}
	return e, err
}

func (r *txRepository) UpdateEquity(ctx context.Context, e EquityEntry) error {
	_, err := r.tx.Exec(ctx, `UPDATE equity_entries SET kind=$2, description=$3, amount=$4, entry_date=$5, notes=$6, account=$7, updated_at=$8 WHERE id=$1`,
		e.ID, e.Kind, e.Description, e.Amount, e.EntryDate, e.Notes, e.Account.String(), e.UpdatedAt)
	return err
}

func (r *txRepository) DeleteEquity(ctx context.Context, id uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM equity_entries WHERE id=$1`, id)
	return err
}

func (r *txRepository) ListEquity(ctx context.Context, filter EntryFilter) ([]EquityEntry, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+equityColumns+` FROM equity_entries
WHERE ($1::date IS NULL OR entry_date >= $1) AND ($2::date IS NULL OR entry_date <= $2)
ORDER BY entry_date DESC, created_at DESC`, filter.From, filter.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []EquityEntry
	for rows.Next() {
		e, err := scanEquity(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullString(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullInt(val int) any {
	if val == 0 {
		return nil
	}
	return val
}
