package finance

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/royalty/internal/platform/db"
)

// PeriodRepository persists accounting periods in PostgreSQL.
type PeriodRepository struct {
	pool *pgxpool.Pool
}

// NewPeriodRepository constructs PeriodRepository.
func NewPeriodRepository(pool *pgxpool.Pool) *PeriodRepository {
	return &PeriodRepository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction.
func (r *PeriodRepository) WithTx(ctx context.Context, fn func(context.Context, PeriodRepo) error) error {
	if r == nil {
		return errors.New("finance period repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &periodTx{tx: tx})
	})
}

type periodTx struct {
	tx pgx.Tx
}

const periodColumns = `id, name, period_type, start_date, end_date, status, snapshot, notes, closed_by, closed_at, reopened_by, reopened_at, reopen_reason, created_by, created_at, updated_at`

func scanPeriod(row pgx.Row) (AccountingPeriod, error) {
	var (
		p        AccountingPeriod
		snapshot []byte
	)
	err := row.Scan(&p.ID, &p.Name, &p.PeriodType, &p.StartDate, &p.EndDate, &p.Status, &snapshot, &p.Notes,
		&p.ClosedBy, &p.ClosedAt, &p.ReopenedBy, &p.ReopenedAt, &p.ReopenReason, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountingPeriod{}, ErrPeriodNotFound
		}
		return AccountingPeriod{}, err
	}
	if len(snapshot) > 0 {
		var snap PeriodSnapshot
		if err := json.Unmarshal(snapshot, &snap); err != nil {
			return AccountingPeriod{}, err
		}
		p.Snapshot = &snap
	}
	return p, nil
}

func encodeSnapshot(snap *PeriodSnapshot) ([]byte, error) {
	if snap == nil {
		return nil, nil
	}
	return json.Marshal(snap)
}

func (r *periodTx) InsertPeriod(ctx context.Context, p AccountingPeriod) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO accounting_periods (id, name, period_type, start_date, end_date, status, notes, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.Name, p.PeriodType, p.StartDate, p.EndDate, p.Status, p.Notes, p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	if db.IsExclusionViolation(err) {
		return ErrPeriodOverlap
	}
	return err
}

func (r *periodTx) GetPeriod(ctx context.Context, id uuid.UUID) (AccountingPeriod, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE id=$1`, id))
}

func (r *periodTx) GetPeriodForUpdate(ctx context.Context, id uuid.UUID) (AccountingPeriod, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE id=$1 FOR UPDATE`, id))
}

func (r *periodTx) UpdatePeriod(ctx context.Context, p AccountingPeriod) error {
	snapshot, err := encodeSnapshot(p.Snapshot)
	if err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `UPDATE accounting_periods SET status=$2, snapshot=$3, notes=$4, closed_by=$5, closed_at=$6,
reopened_by=$7, reopened_at=$8, reopen_reason=$9, updated_at=$10 WHERE id=$1`,
		p.ID, p.Status, snapshot, p.Notes, p.ClosedBy, p.ClosedAt, p.ReopenedBy, p.ReopenedAt, p.ReopenReason, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPeriodNotFound
	}
	return nil
}

func (r *periodTx) DeletePeriod(ctx context.Context, id uuid.UUID) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM accounting_periods WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPeriodNotFound
	}
	return nil
}

func (r *periodTx) ListPeriods(ctx context.Context, status PeriodStatus, limit int) ([]AccountingPeriod, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+periodColumns+` FROM accounting_periods
WHERE ($1 = '' OR status = $1) ORDER BY start_date DESC LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountingPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *periodTx) FindOverlapping(ctx context.Context, start, end time.Time) (*AccountingPeriod, error) {
	p, err := scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods
WHERE start_date <= $2 AND end_date >= $1 ORDER BY start_date LIMIT 1`, start, end))
	if errors.Is(err, ErrPeriodNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
