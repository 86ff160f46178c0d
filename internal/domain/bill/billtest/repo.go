// Package billtest provides an in-memory bill repository for tests of
// packages that depend on bills.
package billtest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medbill/medbill/internal/domain/bill"
	"github.com/medbill/medbill/internal/platform/db"
)

// Repo is a map-backed bill.BillRepository. Extracted data goes through a
// JSON round trip on write, as it does against JSONB.
type Repo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*bill.MedicalBill
}

func NewRepo() *Repo {
	return &Repo{items: make(map[uuid.UUID]*bill.MedicalBill)}
}

func clone(b *bill.MedicalBill) *bill.MedicalBill {
	cp := *b
	return &cp
}

func roundTrip(d *bill.ExtractedData) *bill.ExtractedData {
	if d == nil {
		return nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		panic(err)
	}
	var out bill.ExtractedData
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return &out
}

func (r *Repo) Create(_ context.Context, b *bill.MedicalBill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b.ID = uuid.New()
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	stored := clone(b)
	stored.ExtractedData = roundTrip(b.ExtractedData)
	r.items[b.ID] = stored
	return nil
}

func (r *Repo) GetByID(_ context.Context, id uuid.UUID) (*bill.MedicalBill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.items[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return clone(b), nil
}

// mutable returns the stored bill when it exists and is not resolved.
func (r *Repo) mutable(id uuid.UUID) (*bill.MedicalBill, error) {
	b, ok := r.items[id]
	if !ok || b.Status == bill.StatusResolved {
		return nil, bill.ErrBillImmutable
	}
	return b, nil
}

func (r *Repo) Update(_ context.Context, b *bill.MedicalBill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, err := r.mutable(b.ID)
	if err != nil {
		return err
	}
	stored.FileName = b.FileName
	stored.ProviderName = b.ProviderName
	stored.BillDate = b.BillDate
	stored.TotalAmount = b.TotalAmount
	stored.OCRText = b.OCRText
	stored.UpdatedAt = time.Now()
	return nil
}

func (r *Repo) SetExtractedData(_ context.Context, id uuid.UUID, data *bill.ExtractedData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, err := r.mutable(id)
	if err != nil {
		return err
	}
	stored.ExtractedData = roundTrip(data)
	return nil
}

func (r *Repo) SetFile(_ context.Context, id uuid.UUID, storageKey, fileType string, size int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, err := r.mutable(id)
	if err != nil {
		return err
	}
	stored.StorageKey, stored.FileType, stored.FileSize = &storageKey, &fileType, &size
	return nil
}

func (r *Repo) UpdateStatus(_ context.Context, id uuid.UUID, from, to bill.Status, resolvedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[id]
	if !ok || stored.Status != from {
		return bill.ErrStatusConflict
	}
	stored.Status = to
	if resolvedAt != nil {
		stored.ResolvedAt = resolvedAt
	}
	return nil
}

func (r *Repo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.mutable(id); err != nil {
		return err
	}
	delete(r.items, id)
	return nil
}

func (r *Repo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*bill.MedicalBill, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*bill.MedicalBill
	for _, b := range r.items {
		if uid := params["user_id"]; uid != "" && b.UserID.String() != uid {
			continue
		}
		if st := params["status"]; st != "" && string(b.Status) != st {
			continue
		}
		result = append(result, clone(b))
	}
	return result, len(result), nil
}

// Put stores b as-is, for arranging fixtures in a given status.
func (r *Repo) Put(b *bill.MedicalBill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	r.items[b.ID] = clone(b)
}

// SetStatus forces a stored bill's status, simulating a concurrent writer.
func (r *Repo) SetStatus(id uuid.UUID, s bill.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.items[id]; ok {
		b.Status = s
	}
}
