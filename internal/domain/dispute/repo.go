package dispute

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StatusUpdate carries the columns written alongside a status change. Nil
// fields keep their stored value.
type StatusUpdate struct {
	StorageKey     *string
	ClearStorage   bool
	DeliveryMethod *DeliveryMethod
	TrackingNumber *string
	SentAt         *time.Time
	DeliveredAt    *time.Time
	RespondedAt    *time.Time
	ResponseNotes  *string
}

type DocumentRepository interface {
	Create(ctx context.Context, d *Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*Document, error)
	ListByBill(ctx context.Context, billID uuid.UUID) ([]*Document, error)
	// Update writes the editable columns of a draft and fails with
	// ErrDocumentLocked otherwise.
	Update(ctx context.Context, d *Document) error
	// UpdateStatus is a compare-and-set on status and fails with
	// ErrStatusConflict when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, u StatusUpdate) error
}
