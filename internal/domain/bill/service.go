package bill

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medbill/medbill/internal/platform/auth"
	"github.com/medbill/medbill/internal/platform/blobstore"
	"github.com/medbill/medbill/internal/platform/db"
	"github.com/medbill/medbill/internal/platform/events"
	"github.com/medbill/medbill/internal/platform/metrics"
	"github.com/medbill/medbill/internal/platform/validation"
)

type Service struct {
	bills   BillRepository
	blobs   blobstore.Store
	events  *events.Emitter
	metrics *metrics.Collector
	now     func() time.Time
}

func NewService(bills BillRepository, blobs blobstore.Store, emitter *events.Emitter, m *metrics.Collector) *Service {
	if emitter == nil {
		emitter = events.NopEmitter()
	}
	return &Service{bills: bills, blobs: blobs, events: emitter, metrics: m, now: time.Now}
}

func notFound(err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return ErrBillNotFound
	}
	return err
}

func (s *Service) CreateBill(ctx context.Context, userID uuid.UUID, req CreateRequest) (*MedicalBill, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("user_id is required")
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if req.TotalAmount != nil && req.TotalAmount.IsNegative() {
		return nil, fmt.Errorf("total_amount cannot be negative")
	}
	if req.ExtractedData != nil {
		if err := req.ExtractedData.Validate(); err != nil {
			return nil, err
		}
	}

	b := &MedicalBill{
		UserID:        userID,
		FileName:      req.FileName,
		FileType:      req.FileType,
		FileSize:      req.FileSize,
		ProviderName:  req.ProviderName,
		BillDate:      req.BillDate,
		Status:        StatusUploaded,
		ExtractedData: req.ExtractedData,
		OCRText:       req.OCRText,
	}
	if req.TotalAmount != nil {
		b.TotalAmount = decimal.NewNullDecimal(*req.TotalAmount)
	}
	if err := s.bills.Create(ctx, b); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.BillsCreatedTotal.Inc()
	}
	return b, nil
}

func (s *Service) GetBill(ctx context.Context, id uuid.UUID) (*MedicalBill, error) {
	b, err := s.bills.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	return b, nil
}

// GetAccessible loads a bill and checks the caller may read it, or write it
// when write is set.
func (s *Service) GetAccessible(ctx context.Context, id uuid.UUID, write bool) (*MedicalBill, error) {
	b, err := s.GetBill(ctx, id)
	if err != nil {
		return nil, err
	}
	if !auth.CanAccess(ctx, b.UserID, write) {
		return nil, ErrForbidden
	}
	return b, nil
}

// mutable loads a bill and rejects it when resolved.
func (s *Service) mutable(ctx context.Context, id uuid.UUID) (*MedicalBill, error) {
	b, err := s.GetBill(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == StatusResolved {
		return nil, ErrBillImmutable
	}
	return b, nil
}

func (s *Service) UpdateBill(ctx context.Context, id uuid.UUID, req UpdateRequest) (*MedicalBill, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if req.TotalAmount != nil && req.TotalAmount.IsNegative() {
		return nil, fmt.Errorf("total_amount cannot be negative")
	}
	b, err := s.mutable(ctx, id)
	if err != nil {
		return nil, err
	}
	req.Apply(b)
	if err := s.bills.Update(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// SetExtractedData validates and replaces the bill's extracted document.
func (s *Service) SetExtractedData(ctx context.Context, id uuid.UUID, data *ExtractedData) (*MedicalBill, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}
	b, err := s.mutable(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == StatusAnalyzing {
		return nil, fmt.Errorf("%w: bill is being analyzed", ErrStatusConflict)
	}
	if err := s.bills.SetExtractedData(ctx, id, data); err != nil {
		return nil, err
	}
	b.ExtractedData = data
	return b, nil
}

// UploadFile stores the original bill scan and records its key on the bill.
func (s *Service) UploadFile(ctx context.Context, id uuid.UUID, contentType string, data []byte) (*MedicalBill, error) {
	b, err := s.mutable(ctx, id)
	if err != nil {
		return nil, err
	}
	key, ok := blobstore.BillFileKey(b.UserID, b.ID, contentType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, contentType)
	}
	obj, err := s.blobs.Put(ctx, key, contentType, data, map[string]string{"bill_id": b.ID.String()})
	if err != nil {
		return nil, fmt.Errorf("store bill file: %w", err)
	}
	if err := s.bills.SetFile(ctx, id, obj.Key, contentType, obj.Size); err != nil {
		return nil, err
	}
	b.StorageKey, b.FileType, b.FileSize = &obj.Key, &contentType, &obj.Size
	return b, nil
}

// OpenFile returns a reader over the stored bill scan. Callers close it.
func (s *Service) OpenFile(ctx context.Context, id uuid.UUID) (io.ReadCloser, *blobstore.Object, error) {
	b, err := s.GetBill(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if b.StorageKey == nil {
		return nil, nil, ErrNoFile
	}
	rc, obj, err := s.blobs.Get(ctx, *b.StorageKey)
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return nil, nil, ErrNoFile
	}
	return rc, obj, err
}

// Transition moves the bill to the next status and publishes the change.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to Status) (*MedicalBill, error) {
	b, from, err := s.TransitionQuiet(ctx, id, to)
	if err != nil {
		return nil, err
	}
	s.Announce(ctx, b, from)
	return b, nil
}

// TransitionQuiet performs the compare-and-set transition without publishing.
// Callers running inside a transaction call Announce once it commits.
func (s *Service) TransitionQuiet(ctx context.Context, id uuid.UUID, to Status) (*MedicalBill, Status, error) {
	b, err := s.GetBill(ctx, id)
	if err != nil {
		return nil, "", err
	}
	from := b.Status
	if err := Transition(from, to); err != nil {
		return nil, "", err
	}

	var resolvedAt *time.Time
	if to == StatusResolved {
		now := s.now().UTC()
		resolvedAt = &now
	}
	if err := s.bills.UpdateStatus(ctx, id, from, to, resolvedAt); err != nil {
		return nil, "", err
	}
	b.Status = to
	if resolvedAt != nil {
		b.ResolvedAt = resolvedAt
	}
	return b, from, nil
}

// Announce publishes bill.status_changed and counts the transition.
func (s *Service) Announce(ctx context.Context, b *MedicalBill, from Status) {
	if s.metrics != nil {
		s.metrics.BillTransitionsTotal.WithLabelValues(string(b.Status)).Inc()
	}
	s.events.EmitNew(ctx, events.BillStatusChanged, "medical_bill", b.ID, b.UserID,
		events.StatusChange{From: string(from), To: string(b.Status)})
}

func (s *Service) DeleteBill(ctx context.Context, id uuid.UUID) error {
	b, err := s.mutable(ctx, id)
	if err != nil {
		return err
	}
	if err := s.bills.Delete(ctx, id); err != nil {
		return err
	}
	if b.StorageKey != nil && s.blobs != nil {
		if err := s.blobs.Delete(ctx, *b.StorageKey); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
			return fmt.Errorf("delete bill file: %w", err)
		}
	}
	return nil
}

func (s *Service) SearchBills(ctx context.Context, params map[string]string, limit, offset int) ([]*MedicalBill, int, error) {
	if st, ok := params["status"]; ok && st != "" {
		for _, v := range strings.Split(st, ",") {
			if !Status(v).Valid() {
				return nil, 0, fmt.Errorf("invalid status filter: %s", v)
			}
		}
	}
	return s.bills.Search(ctx, params, limit, offset)
}
