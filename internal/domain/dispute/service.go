package dispute

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medbill/medbill/internal/domain/analysis"
	"github.com/medbill/medbill/internal/domain/bill"
	"github.com/medbill/medbill/internal/platform/blobstore"
	"github.com/medbill/medbill/internal/platform/db"
	"github.com/medbill/medbill/internal/platform/events"
	"github.com/medbill/medbill/internal/platform/metrics"
	"github.com/medbill/medbill/internal/platform/validation"
)

type Service struct {
	docs     DocumentRepository
	bills    *bill.Service
	analyses *analysis.Service
	blobs    blobstore.Store
	tx       db.Transactor
	events   *events.Emitter
	metrics  *metrics.Collector
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(docs DocumentRepository, bills *bill.Service, analyses *analysis.Service, blobs blobstore.Store,
	tx db.Transactor, emitter *events.Emitter, m *metrics.Collector, logger zerolog.Logger) *Service {
	if emitter == nil {
		emitter = events.NopEmitter()
	}
	return &Service{
		docs:     docs,
		bills:    bills,
		analyses: analyses,
		blobs:    blobs,
		tx:       tx,
		events:   emitter,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

func notFound(err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return ErrDocumentNotFound
	}
	return err
}

func (s *Service) count(st Status) {
	if s.metrics != nil {
		s.metrics.DocumentsTotal.WithLabelValues(string(st)).Inc()
	}
}

// CreateDocument drafts a letter for a bill. With a strategy the document
// type defaults to the one carrying it out; without content the letter is
// generated from the bill and its analysis.
func (s *Service) CreateDocument(ctx context.Context, billID uuid.UUID, req CreateRequest) (*Document, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	b, err := s.bills.GetBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	if b.Status == bill.StatusResolved {
		return nil, bill.ErrBillImmutable
	}

	var strategy *analysis.Strategy
	if req.StrategyID != nil {
		strategy, err = s.analyses.GetStrategy(ctx, *req.StrategyID)
		if err != nil {
			return nil, err
		}
		if strategy.BillID != b.ID {
			return nil, ErrStrategyMismatch
		}
		if req.DocumentType == "" {
			req.DocumentType, _ = DocumentTypeFor(strategy.StrategyType)
		}
	}
	if !req.DocumentType.Valid() {
		return nil, &validation.Error{Fields: []validation.FieldError{{Field: "document_type", Rule: "required"}}}
	}

	d := &Document{
		BillID:         b.ID,
		StrategyID:     req.StrategyID,
		UserID:         b.UserID,
		DocumentType:   req.DocumentType,
		Title:          req.DocumentType.DefaultTitle(),
		Recipient:      req.Recipient,
		DeliveryMethod: req.DeliveryMethod,
		Status:         StatusDraft,
	}
	if req.Title != nil {
		d.Title = *req.Title
	}
	if req.Content != nil {
		d.Content = *req.Content
	} else {
		result, err := s.analyses.GetAnalysis(ctx, b.ID)
		if err != nil && !errors.Is(err, analysis.ErrAnalysisNotFound) {
			return nil, err
		}
		d.Content, err = RenderLetter(d.DocumentType, NewLetterData(b, result, strategy, d.Recipient, s.now()))
		if err != nil {
			return nil, err
		}
	}

	if err := s.docs.Create(ctx, d); err != nil {
		return nil, err
	}
	s.count(StatusDraft)
	return d, nil
}

func (s *Service) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	d, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

// AccessibleDocument loads a document and checks the caller's access to its
// bill.
func (s *Service) AccessibleDocument(ctx context.Context, id uuid.UUID, write bool) (*Document, error) {
	d, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.bills.GetAccessible(ctx, d.BillID, write); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) ListDocuments(ctx context.Context, billID uuid.UUID) ([]*Document, error) {
	items, err := s.docs.ListByBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Document{}
	}
	return items, nil
}

// openBill rejects changes to documents of resolved bills.
func (s *Service) openBill(ctx context.Context, d *Document) (*bill.MedicalBill, error) {
	b, err := s.bills.GetBill(ctx, d.BillID)
	if err != nil {
		return nil, err
	}
	if b.Status == bill.StatusResolved {
		return nil, bill.ErrBillImmutable
	}
	return b, nil
}

func (s *Service) UpdateDocument(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Document, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	d, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusDraft {
		return nil, ErrDocumentLocked
	}
	if _, err := s.openBill(ctx, d); err != nil {
		return nil, err
	}
	req.Apply(d)
	if err := s.docs.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) announce(ctx context.Context, d *Document, from Status) {
	s.count(d.Status)
	s.events.EmitNew(ctx, events.DocumentStatusChanged, "generated_document", d.ID, d.UserID,
		events.StatusChange{From: string(from), To: string(d.Status)})
}

// Finalize renders the document to PDF, stores it and locks the text.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID) (*Document, error) {
	d, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Transition(d.Status, StatusFinalized); err != nil {
		return nil, err
	}
	if _, err := s.openBill(ctx, d); err != nil {
		return nil, err
	}

	pdf, err := RenderPDF(d.Title, d.Content)
	if err != nil {
		return nil, err
	}
	key := blobstore.DocumentKey(d.UserID, d.ID)
	if _, err := s.blobs.Put(ctx, key, blobstore.ContentTypePDF, pdf, map[string]string{
		"document_id":   d.ID.String(),
		"document_type": string(d.DocumentType),
	}); err != nil {
		return nil, fmt.Errorf("store document pdf: %w", err)
	}

	if err := s.docs.UpdateStatus(ctx, id, StatusDraft, StatusFinalized, StatusUpdate{StorageKey: &key}); err != nil {
		return nil, err
	}
	d.Status, d.StorageKey = StatusFinalized, &key
	s.announce(ctx, d, StatusDraft)
	return d, nil
}

// Reopen returns a finalized document to draft and discards its PDF.
func (s *Service) Reopen(ctx context.Context, id uuid.UUID) (*Document, error) {
	d, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Transition(d.Status, StatusDraft); err != nil {
		return nil, err
	}
	if _, err := s.openBill(ctx, d); err != nil {
		return nil, err
	}
	if err := s.docs.UpdateStatus(ctx, id, StatusFinalized, StatusDraft, StatusUpdate{ClearStorage: true}); err != nil {
		return nil, err
	}
	if d.StorageKey != nil {
		if err := s.blobs.Delete(ctx, *d.StorageKey); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
			s.logger.Warn().Err(err).Str("document_id", d.ID.String()).Msg("delete reopened document pdf")
		}
	}
	d.Status, d.StorageKey = StatusDraft, nil
	s.announce(ctx, d, StatusFinalized)
	return d, nil
}

// Send records that the document went out. sent_at is always stamped here.
// Sending a dispute or appeal letter for an analyzed bill marks the bill
// disputed in the same transaction.
func (s *Service) Send(ctx context.Context, id uuid.UUID, req SendRequest) (*Document, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	d, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Transition(d.Status, StatusSent); err != nil {
		return nil, err
	}
	b, err := s.openBill(ctx, d)
	if err != nil {
		return nil, err
	}

	method := d.DeliveryMethod
	if req.DeliveryMethod != nil {
		method = req.DeliveryMethod
	}
	if method == nil {
		return nil, ErrDeliveryMethod
	}
	if !d.Recipient.Reaches(*method) {
		return nil, &validation.Error{Fields: []validation.FieldError{{
			Field: "recipient", Rule: "reaches", Param: string(*method),
		}}}
	}

	sentAt := s.now().UTC()
	u := StatusUpdate{DeliveryMethod: method, TrackingNumber: req.TrackingNumber, SentAt: &sentAt}
	var disputed *bill.MedicalBill
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.docs.UpdateStatus(ctx, id, StatusFinalized, StatusSent, u); err != nil {
			return err
		}
		if disputing[d.DocumentType] && b.Status == bill.StatusAnalyzed {
			var err error
			disputed, _, err = s.bills.TransitionQuiet(ctx, b.ID, bill.StatusDisputed)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.Status, d.SentAt, d.DeliveryMethod = StatusSent, &sentAt, method
	if req.TrackingNumber != nil {
		d.TrackingNumber = req.TrackingNumber
	}
	s.announce(ctx, d, StatusFinalized)
	if disputed != nil {
		s.bills.Announce(ctx, disputed, bill.StatusAnalyzed)
	}
	return d, nil
}

// MarkDelivered records delivery confirmation.
func (s *Service) MarkDelivered(ctx context.Context, id uuid.UUID) (*Document, error) {
	d, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	from := d.Status
	if err := Transition(from, StatusDelivered); err != nil {
		return nil, err
	}
	at := s.now().UTC()
	if err := s.docs.UpdateStatus(ctx, id, from, StatusDelivered, StatusUpdate{DeliveredAt: &at}); err != nil {
		return nil, err
	}
	d.Status, d.DeliveredAt = StatusDelivered, &at
	s.announce(ctx, d, from)
	return d, nil
}

// RecordResponse stores the recipient's reply. A reply may arrive without
// delivery confirmation.
func (s *Service) RecordResponse(ctx context.Context, id uuid.UUID, req ResponseRequest) (*Document, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	d, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	from := d.Status
	if err := Transition(from, StatusResponded); err != nil {
		return nil, err
	}
	at := s.now().UTC()
	notes := req.Notes
	if err := s.docs.UpdateStatus(ctx, id, from, StatusResponded, StatusUpdate{RespondedAt: &at, ResponseNotes: &notes}); err != nil {
		return nil, err
	}
	d.Status, d.RespondedAt, d.ResponseNotes = StatusResponded, &at, &notes
	s.announce(ctx, d, from)
	return d, nil
}

// OpenPDF returns the rendered PDF. Callers close the reader.
func (s *Service) OpenPDF(ctx context.Context, id uuid.UUID) (io.ReadCloser, *blobstore.Object, error) {
	d, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if d.StorageKey == nil {
		return nil, nil, ErrNoPDF
	}
	rc, obj, err := s.blobs.Get(ctx, *d.StorageKey)
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return nil, nil, ErrNoPDF
	}
	return rc, obj, err
}
