package bill_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medbill/medbill/internal/domain/bill"
	"github.com/medbill/medbill/internal/domain/bill/billtest"
	"github.com/medbill/medbill/internal/platform/auth"
	"github.com/medbill/medbill/internal/platform/blobstore"
	"github.com/medbill/medbill/internal/platform/events"
	"github.com/medbill/medbill/internal/platform/metrics"
)

type fixture struct {
	svc     *bill.Service
	repo    *billtest.Repo
	blobs   *blobstore.MemoryStore
	pub     *events.MemoryPublisher
	metrics *metrics.Collector
}

func newFixture() *fixture {
	repo := billtest.NewRepo()
	blobs := blobstore.NewMemoryStore()
	pub := events.NewMemoryPublisher()
	m := metrics.NewCollector("test", prometheus.NewRegistry())
	emitter := events.NewEmitter(pub, zerolog.Nop(), m)
	return &fixture{
		svc:     bill.NewService(repo, blobs, emitter, m),
		repo:    repo,
		blobs:   blobs,
		pub:     pub,
		metrics: m,
	}
}

func (f *fixture) create(t *testing.T, userID uuid.UUID) *bill.MedicalBill {
	t.Helper()
	b, err := f.svc.CreateBill(context.Background(), userID, bill.CreateRequest{
		FileName:      "er-visit.pdf",
		ExtractedData: billtest.SampleExtractedData(),
	})
	if err != nil {
		t.Fatalf("CreateBill() error: %v", err)
	}
	return b
}

func TestCreateBill(t *testing.T) {
	f := newFixture()
	b := f.create(t, uuid.New())

	if b.Status != bill.StatusUploaded {
		t.Errorf("status = %s, want uploaded", b.Status)
	}
	if got := testutil.ToFloat64(f.metrics.BillsCreatedTotal); got != 1 {
		t.Errorf("bills_created_total = %v", got)
	}
}

func TestCreateBill_RejectsInvalid(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.CreateBill(ctx, uuid.Nil, bill.CreateRequest{FileName: "x.pdf"}); err == nil {
		t.Error("expected error without user")
	}
	if _, err := f.svc.CreateBill(ctx, uuid.New(), bill.CreateRequest{}); err == nil {
		t.Error("expected error without file name")
	}
	neg := decimal.RequireFromString("-10")
	if _, err := f.svc.CreateBill(ctx, uuid.New(), bill.CreateRequest{FileName: "x.pdf", TotalAmount: &neg}); err == nil {
		t.Error("expected error for negative total")
	}

	data := billtest.SampleExtractedData()
	data.LineItems[1].Quantity = 0
	_, err := f.svc.CreateBill(ctx, uuid.New(), bill.CreateRequest{FileName: "x.pdf", ExtractedData: data})
	if !errors.Is(err, bill.ErrInvalidExtractedData) {
		t.Errorf("expected ErrInvalidExtractedData, got %v", err)
	}
}

func TestExtractedData_RoundTripThroughRepo(t *testing.T) {
	f := newFixture()
	b := f.create(t, uuid.New())

	got, err := f.svc.GetBill(context.Background(), b.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := billtest.SampleExtractedData()
	for i := range want.LineItems {
		if got.ExtractedData.LineItems[i].Code != want.LineItems[i].Code {
			t.Errorf("line %d out of order", i)
		}
		if !got.ExtractedData.LineItems[i].UnitPrice.Equal(want.LineItems[i].UnitPrice) {
			t.Errorf("line %d unit price %s", i, got.ExtractedData.LineItems[i].UnitPrice)
		}
	}
}

func TestTransition_EmitsEventAndStampsResolvedAt(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	b := f.create(t, uuid.New())

	for _, to := range []bill.Status{bill.StatusAnalyzing, bill.StatusAnalyzed, bill.StatusDisputed, bill.StatusResolved} {
		if _, err := f.svc.Transition(ctx, b.ID, to); err != nil {
			t.Fatalf("Transition(%s) error: %v", to, err)
		}
	}

	got, _ := f.svc.GetBill(ctx, b.ID)
	if got.Status != bill.StatusResolved || got.ResolvedAt == nil {
		t.Fatalf("expected resolved with resolved_at, got %s %v", got.Status, got.ResolvedAt)
	}
	if n := len(f.pub.OfType(events.BillStatusChanged)); n != 4 {
		t.Errorf("expected 4 status events, got %d", n)
	}
	if v := testutil.ToFloat64(f.metrics.BillTransitionsTotal.WithLabelValues("resolved")); v != 1 {
		t.Errorf("resolved transitions = %v", v)
	}
}

func TestTransition_Invalid(t *testing.T) {
	f := newFixture()
	b := f.create(t, uuid.New())

	_, err := f.svc.Transition(context.Background(), b.ID, bill.StatusDisputed)
	if !errors.Is(err, bill.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if len(f.pub.Events()) != 0 {
		t.Error("no event expected for rejected transition")
	}
}

// staleRepo serves reads taken before a concurrent writer moved the bill.
type staleRepo struct {
	*billtest.Repo
	stale bill.Status
}

func (r staleRepo) GetByID(ctx context.Context, id uuid.UUID) (*bill.MedicalBill, error) {
	b, err := r.Repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	b.Status = r.stale
	return b, nil
}

func TestTransition_ConcurrentWriterLoses(t *testing.T) {
	repo := billtest.NewRepo()
	b := &bill.MedicalBill{UserID: uuid.New(), FileName: "a.pdf", Status: bill.StatusAnalyzing}
	repo.Put(b)
	pub := events.NewMemoryPublisher()
	svc := bill.NewService(staleRepo{Repo: repo, stale: bill.StatusUploaded}, nil,
		events.NewEmitter(pub, zerolog.Nop(), nil), nil)

	_, err := svc.Transition(context.Background(), b.ID, bill.StatusAnalyzing)
	if !errors.Is(err, bill.ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}
	if len(pub.Events()) != 0 {
		t.Error("loser must not publish")
	}
}

func TestResolvedBillIsImmutable(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	b := &bill.MedicalBill{UserID: uuid.New(), FileName: "done.pdf", Status: bill.StatusResolved}
	f.repo.Put(b)

	name := "renamed.pdf"
	if _, err := f.svc.UpdateBill(ctx, b.ID, bill.UpdateRequest{FileName: &name}); !errors.Is(err, bill.ErrBillImmutable) {
		t.Errorf("UpdateBill: expected ErrBillImmutable, got %v", err)
	}
	if _, err := f.svc.SetExtractedData(ctx, b.ID, billtest.SampleExtractedData()); !errors.Is(err, bill.ErrBillImmutable) {
		t.Errorf("SetExtractedData: expected ErrBillImmutable, got %v", err)
	}
	if _, err := f.svc.Transition(ctx, b.ID, bill.StatusDisputed); !errors.Is(err, bill.ErrBillImmutable) {
		t.Errorf("Transition: expected ErrBillImmutable, got %v", err)
	}
	if err := f.svc.DeleteBill(ctx, b.ID); !errors.Is(err, bill.ErrBillImmutable) {
		t.Errorf("DeleteBill: expected ErrBillImmutable, got %v", err)
	}
	if _, err := f.svc.UploadFile(ctx, b.ID, blobstore.ContentTypePDF, []byte("%PDF")); !errors.Is(err, bill.ErrBillImmutable) {
		t.Errorf("UploadFile: expected ErrBillImmutable, got %v", err)
	}
}

func TestSetExtractedData_WhileAnalyzing(t *testing.T) {
	f := newFixture()
	b := f.create(t, uuid.New())
	f.repo.SetStatus(b.ID, bill.StatusAnalyzing)

	_, err := f.svc.SetExtractedData(context.Background(), b.ID, billtest.SampleExtractedData())
	if !errors.Is(err, bill.ErrStatusConflict) {
		t.Errorf("expected ErrStatusConflict, got %v", err)
	}
}

func TestUploadAndOpenFile(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	b := f.create(t, uuid.New())

	if _, err := f.svc.UploadFile(ctx, b.ID, "text/html", []byte("<html>")); !errors.Is(err, bill.ErrUnsupportedFileType) {
		t.Errorf("expected ErrUnsupportedFileType, got %v", err)
	}
	if _, _, err := f.svc.OpenFile(ctx, b.ID); !errors.Is(err, bill.ErrNoFile) {
		t.Errorf("expected ErrNoFile before upload, got %v", err)
	}

	updated, err := f.svc.UploadFile(ctx, b.ID, "image/png", []byte("\x89PNG fake"))
	if err != nil {
		t.Fatalf("UploadFile() error: %v", err)
	}
	if updated.StorageKey == nil || *updated.FileSize != int64(len("\x89PNG fake")) {
		t.Fatalf("unexpected file fields: %+v", updated)
	}

	rc, obj, err := f.svc.OpenFile(ctx, b.ID)
	if err != nil {
		t.Fatalf("OpenFile() error: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "\x89PNG fake" || obj.ContentType != "image/png" {
		t.Errorf("unexpected content %q (%s)", data, obj.ContentType)
	}

	if err := f.svc.DeleteBill(ctx, b.ID); err != nil {
		t.Fatalf("DeleteBill() error: %v", err)
	}
	if f.blobs.Len() != 0 {
		t.Error("expected bill file to be removed with the bill")
	}
}

func TestGetAccessible(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	b := f.create(t, owner)

	ownerCtx := auth.WithIdentity(context.Background(), owner.String(), []string{auth.RolePatient})
	otherCtx := auth.WithIdentity(context.Background(), uuid.NewString(), []string{auth.RolePatient})
	advocateCtx := auth.WithIdentity(context.Background(), uuid.NewString(), []string{auth.RoleAdvocate})

	if _, err := f.svc.GetAccessible(ownerCtx, b.ID, true); err != nil {
		t.Errorf("owner write: %v", err)
	}
	if _, err := f.svc.GetAccessible(otherCtx, b.ID, false); !errors.Is(err, bill.ErrForbidden) {
		t.Errorf("other read: expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.GetAccessible(advocateCtx, b.ID, false); err != nil {
		t.Errorf("advocate read: %v", err)
	}
	if _, err := f.svc.GetAccessible(advocateCtx, b.ID, true); !errors.Is(err, bill.ErrForbidden) {
		t.Errorf("advocate write: expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.GetAccessible(ownerCtx, uuid.New(), false); !errors.Is(err, bill.ErrBillNotFound) {
		t.Errorf("missing bill: expected ErrBillNotFound, got %v", err)
	}
}

func TestSearchBills_InvalidStatus(t *testing.T) {
	f := newFixture()
	if _, _, err := f.svc.SearchBills(context.Background(), map[string]string{"status": "uploaded,lost"}, 20, 0); err == nil {
		t.Error("expected error for unknown status")
	}
}
