package bill

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type BillRepository interface {
	Create(ctx context.Context, b *MedicalBill) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalBill, error)
	// Update writes metadata columns unless the bill is resolved.
	Update(ctx context.Context, b *MedicalBill) error
	SetExtractedData(ctx context.Context, id uuid.UUID, data *ExtractedData) error
	SetFile(ctx context.Context, id uuid.UUID, storageKey, fileType string, size int64) error
	// UpdateStatus moves the bill from -> to and fails with ErrStatusConflict
	// when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, resolvedAt *time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*MedicalBill, int, error)
}
