package bill

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medbill/medbill/internal/platform/validation"
)

var (
	ErrBillNotFound         = errors.New("bill not found")
	ErrInvalidTransition    = errors.New("invalid bill status transition")
	ErrBillImmutable        = errors.New("bill is resolved and can no longer change")
	ErrStatusConflict       = errors.New("bill status changed concurrently")
	ErrInvalidExtractedData = errors.New("invalid extracted data")
	ErrUnsupportedFileType  = errors.New("unsupported bill file type")
	ErrNoFile               = errors.New("bill has no stored file")
	ErrForbidden            = errors.New("not allowed to access this bill")
)

// Status is the lifecycle state of a medical bill.
type Status string

const (
	StatusUploaded  Status = "uploaded"
	StatusAnalyzing Status = "analyzing"
	StatusAnalyzed  Status = "analyzed"
	StatusDisputed  Status = "disputed"
	StatusResolved  Status = "resolved"
)

// transitions lists the allowed next states. Resolved is terminal.
var transitions = map[Status][]Status{
	StatusUploaded:  {StatusAnalyzing},
	StatusAnalyzing: {StatusAnalyzed, StatusUploaded},
	StatusAnalyzed:  {StatusDisputed, StatusAnalyzing, StatusResolved},
	StatusDisputed:  {StatusResolved},
}

func (s Status) Valid() bool {
	switch s {
	case StatusUploaded, StatusAnalyzing, StatusAnalyzed, StatusDisputed, StatusResolved:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to and returns a wrapped ErrInvalidTransition
// (or ErrBillImmutable when leaving resolved).
func Transition(from, to Status) error {
	if from == StatusResolved {
		return ErrBillImmutable
	}
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// MedicalBill maps to the medical_bills table.
type MedicalBill struct {
	ID            uuid.UUID           `db:"id" json:"id"`
	UserID        uuid.UUID           `db:"user_id" json:"user_id"`
	FileName      string              `db:"file_name" json:"file_name"`
	FileType      *string             `db:"file_type" json:"file_type,omitempty"`
	FileSize      *int64              `db:"file_size" json:"file_size,omitempty"`
	StorageKey    *string             `db:"storage_key" json:"storage_key,omitempty"`
	ProviderName  *string             `db:"provider_name" json:"provider_name,omitempty"`
	BillDate      *time.Time          `db:"bill_date" json:"bill_date,omitempty"`
	TotalAmount   decimal.NullDecimal `db:"total_amount" json:"total_amount"`
	Status        Status              `db:"status" json:"status"`
	ExtractedData *ExtractedData      `db:"extracted_data" json:"extracted_data,omitempty"`
	OCRText       *string             `db:"ocr_text" json:"ocr_text,omitempty"`
	ResolvedAt    *time.Time          `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time           `db:"updated_at" json:"updated_at"`
}

// ExtractedData is the structured content read off a bill. It is stored as
// JSONB; line item order is significant and money is always decimal.
type ExtractedData struct {
	PatientInfo     *PatientInfo     `json:"patient_info,omitempty"`
	InsuranceInfo   *InsuranceInfo   `json:"insurance_info,omitempty"`
	DiagnosticCodes []DiagnosticCode `json:"diagnostic_codes" validate:"dive"`
	LineItems       []LineItem       `json:"line_items" validate:"dive"`
	ProviderInfo    *ProviderInfo    `json:"provider_info,omitempty"`
	Subtotal        decimal.Decimal  `json:"subtotal" validate:"gte=0"`
	Adjustments     decimal.Decimal  `json:"adjustments" validate:"gte=0"`
	AmountDue       decimal.Decimal  `json:"amount_due" validate:"gte=0"`
}

type PatientInfo struct {
	Name          string `json:"name,omitempty" validate:"max=255"`
	DateOfBirth   string `json:"date_of_birth,omitempty" validate:"omitempty,datetime=2006-01-02"`
	AccountNumber string `json:"account_number,omitempty" validate:"max=64"`
	Address       string `json:"address,omitempty" validate:"max=500"`
}

type InsuranceInfo struct {
	Provider              string          `json:"provider" validate:"required,max=255"`
	PolicyNumber          string          `json:"policy_number,omitempty" validate:"max=64"`
	GroupNumber           string          `json:"group_number,omitempty" validate:"max=64"`
	ClaimNumber           string          `json:"claim_number,omitempty" validate:"max=64"`
	AmountPaid            decimal.Decimal `json:"amount_paid" validate:"gte=0"`
	PatientResponsibility decimal.Decimal `json:"patient_responsibility" validate:"gte=0"`
}

type DiagnosticCode struct {
	Code        string `json:"code" validate:"required,icd10"`
	Description string `json:"description,omitempty" validate:"max=500"`
}

// LineItem codes are not shape-checked on write; the analyzer reports
// malformed procedure codes as findings instead.
type LineItem struct {
	Code        string          `json:"code" validate:"required,max=16"`
	Description string          `json:"description" validate:"required,max=500"`
	ServiceDate string          `json:"service_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Quantity    int             `json:"quantity" validate:"gte=1"`
	UnitPrice   decimal.Decimal `json:"unit_price" validate:"gte=0"`
	Total       decimal.Decimal `json:"total" validate:"gte=0"`
	Modifier    string          `json:"modifier,omitempty" validate:"omitempty,alphanum,len=2"`
}

type ProviderInfo struct {
	Name    string `json:"name,omitempty" validate:"max=255"`
	NPI     string `json:"npi,omitempty" validate:"omitempty,npi"`
	Address string `json:"address,omitempty" validate:"max=500"`
	Phone   string `json:"phone,omitempty" validate:"max=32"`
}

// Validate checks the document. The returned error wraps both
// ErrInvalidExtractedData and the *validation.Error with field details.
func (d *ExtractedData) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: empty document", ErrInvalidExtractedData)
	}
	if err := validation.Struct(d); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidExtractedData, err)
	}
	return nil
}

// LineTotal sums the line item totals.
func (d *ExtractedData) LineTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, li := range d.LineItems {
		sum = sum.Add(li.Total)
	}
	return sum
}

// HasInsurance reports whether an insurer is named on the bill.
func (d *ExtractedData) HasInsurance() bool {
	return d.InsuranceInfo != nil && d.InsuranceInfo.Provider != ""
}

// CreateRequest is the body of POST /bills.
type CreateRequest struct {
	FileName      string           `json:"file_name" validate:"required,max=255"`
	FileType      *string          `json:"file_type,omitempty" validate:"omitempty,max=100"`
	FileSize      *int64           `json:"file_size,omitempty" validate:"omitempty,gte=0"`
	ProviderName  *string          `json:"provider_name,omitempty" validate:"omitempty,max=255"`
	BillDate      *time.Time       `json:"bill_date,omitempty"`
	TotalAmount   *decimal.Decimal `json:"total_amount,omitempty"`
	OCRText       *string          `json:"ocr_text,omitempty"`
	ExtractedData *ExtractedData   `json:"extracted_data,omitempty"`
}

// UpdateRequest changes bill metadata. Nil fields are left as they are.
type UpdateRequest struct {
	FileName     *string          `json:"file_name,omitempty" validate:"omitempty,min=1,max=255"`
	ProviderName *string          `json:"provider_name,omitempty" validate:"omitempty,max=255"`
	BillDate     *time.Time       `json:"bill_date,omitempty"`
	TotalAmount  *decimal.Decimal `json:"total_amount,omitempty"`
	OCRText      *string          `json:"ocr_text,omitempty"`
}

// Apply copies the set fields onto b.
func (r UpdateRequest) Apply(b *MedicalBill) {
	if r.FileName != nil {
		b.FileName = *r.FileName
	}
	if r.ProviderName != nil {
		b.ProviderName = r.ProviderName
	}
	if r.BillDate != nil {
		b.BillDate = r.BillDate
	}
	if r.TotalAmount != nil {
		b.TotalAmount = decimal.NewNullDecimal(*r.TotalAmount)
	}
	if r.OCRText != nil {
		b.OCRText = r.OCRText
	}
}
