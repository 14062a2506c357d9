package finance

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PeriodRepo persists accounting periods.
type PeriodRepo interface {
	InsertPeriod(ctx context.Context, p AccountingPeriod) error
	GetPeriod(ctx context.Context, id uuid.UUID) (AccountingPeriod, error)
	GetPeriodForUpdate(ctx context.Context, id uuid.UUID) (AccountingPeriod, error)
	UpdatePeriod(ctx context.Context, p AccountingPeriod) error
	DeletePeriod(ctx context.Context, id uuid.UUID) error
	ListPeriods(ctx context.Context, status PeriodStatus, limit int) ([]AccountingPeriod, error)
	// FindOverlapping returns a period whose inclusive range intersects [start, end].
	FindOverlapping(ctx context.Context, start, end time.Time) (*AccountingPeriod, error)
}

// PeriodStore abstracts transactional period storage.
type PeriodStore interface {
	WithTx(ctx context.Context, fn func(context.Context, PeriodRepo) error) error
}
