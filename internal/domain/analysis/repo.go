package analysis

import (
	"context"

	"github.com/google/uuid"
)

type AnalysisRepository interface {
	// Create inserts the result. A second result for the same bill fails with
	// db.ErrUniqueViolation.
	Create(ctx context.Context, r *Result) error
	GetByBill(ctx context.Context, billID uuid.UUID) (*Result, error)
	// DeleteByBill removes the result and, by cascade, its strategies.
	DeleteByBill(ctx context.Context, billID uuid.UUID) error
}

type StrategyRepository interface {
	CreateBatch(ctx context.Context, strategies []*Strategy) error
	ListByBill(ctx context.Context, billID uuid.UUID) ([]*Strategy, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Strategy, error)
	// UpdateStatus is a compare-and-set on status and fails with
	// ErrStrategyConflict when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to StrategyStatus) error
	UpdateSteps(ctx context.Context, id uuid.UUID, steps []ActionStep) error
}
