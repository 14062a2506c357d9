// Package integration adapts the point-of-sale tables owned by other services into
// the ports the royalty and finance packages consume.
package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/royalty/internal/royalty"
	"github.com/odyssey-erp/royalty/internal/shared"
)

// Querier is the subset of pgxpool.Pool used by the adapters.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// BranchDirectory reads branches from PostgreSQL. A missing row means the branch was
// removed and any royalty data still pointing at it is orphaned.
type BranchDirectory struct {
	db Querier
}

// NewBranchDirectory constructs BranchDirectory.
func NewBranchDirectory(db Querier) *BranchDirectory {
	return &BranchDirectory{db: db}
}

// Lookup loads one branch.
func (d *BranchDirectory) Lookup(ctx context.Context, branchID int64) (royalty.Branch, error) {
	var b royalty.Branch
	err := d.db.QueryRow(ctx,
		`SELECT id, name, code, COALESCE(admin_email, '') FROM branches WHERE id = $1`, branchID).
		Scan(&b.ID, &b.Name, &b.Code, &b.AdminEmail)
	if errors.Is(err, pgx.ErrNoRows) {
		return royalty.Branch{}, royalty.ErrBranchNotFound
	}
	if err != nil {
		return royalty.Branch{}, fmt.Errorf("%w: lookup branch %d: %v", shared.ErrExternalDependency, branchID, err)
	}
	return b, nil
}

// Exists reports whether the branch is still present.
func (d *BranchDirectory) Exists(ctx context.Context, branchID int64) (bool, error) {
	var exists bool
	err := d.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM branches WHERE id = $1)`, branchID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: branch exists %d: %v", shared.ErrExternalDependency, branchID, err)
	}
	return exists, nil
}

// List returns every branch ordered by name.
func (d *BranchDirectory) List(ctx context.Context) ([]royalty.Branch, error) {
	rows, err := d.db.Query(ctx, `SELECT id, name, code, COALESCE(admin_email, '') FROM branches ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list branches: %v", shared.ErrExternalDependency, err)
	}
	defer rows.Close()

	var out []royalty.Branch
	for rows.Next() {
		var b royalty.Branch
		if err := rows.Scan(&b.ID, &b.Name, &b.Code, &b.AdminEmail); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListIDs returns the ids of every branch.
func (d *BranchDirectory) ListIDs(ctx context.Context) ([]int64, error) {
	branches, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(branches))
	for _, b := range branches {
		ids = append(ids, b.ID)
	}
	return ids, nil
}

// RevenueFeed sums completed point-of-sale transactions.
type RevenueFeed struct {
	db Querier
}

// NewRevenueFeed constructs RevenueFeed.
func NewRevenueFeed(db Querier) *RevenueFeed {
	return &RevenueFeed{db: db}
}

const grossRevenueQuery = `
SELECT COALESCE(SUM(services_total + products_total + booking_fee + late_fee - discount_amount), 0)
FROM transactions
WHERE branch_id = $1
  AND payment_status = 'completed'
  AND created_at >= $2
  AND created_at <= $3`

// GrossRevenue returns services + products + booking fee + late fee - discount over
// completed transactions created within [start, end].
func (f *RevenueFeed) GrossRevenue(ctx context.Context, branchID int64, start, end time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	if err := f.db.QueryRow(ctx, grossRevenueQuery, branchID, start, end).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("%w: gross revenue for branch %d: %v", shared.ErrExternalDependency, branchID, err)
	}
	return total, nil
}
