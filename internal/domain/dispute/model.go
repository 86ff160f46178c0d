package dispute

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medbill/medbill/internal/domain/analysis"
)

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrInvalidTransition = errors.New("invalid document status transition")
	ErrStatusConflict    = errors.New("document status changed concurrently")
	ErrDocumentLocked    = errors.New("only draft documents can be edited")
	ErrStrategyMismatch  = errors.New("strategy belongs to a different bill")
	ErrNoPDF             = errors.New("document has no rendered PDF")
	ErrDeliveryMethod    = errors.New("delivery_method is required to send a document")
)

type DocumentType string

const (
	TypeDisputeLetter          DocumentType = "dispute_letter"
	TypeItemizedBillRequest    DocumentType = "itemized_bill_request"
	TypeAppealLetter           DocumentType = "appeal_letter"
	TypeCharityCareApplication DocumentType = "charity_care_application"
	TypePaymentPlanRequest     DocumentType = "payment_plan_request"
	TypeNegotiationLetter      DocumentType = "negotiation_letter"
)

var documentTitles = map[DocumentType]string{
	TypeDisputeLetter:          "Billing Dispute",
	TypeItemizedBillRequest:    "Request for Itemized Bill",
	TypeAppealLetter:           "Insurance Claim Appeal",
	TypeCharityCareApplication: "Financial Assistance Application",
	TypePaymentPlanRequest:     "Payment Plan Request",
	TypeNegotiationLetter:      "Request for Bill Reduction",
}

func (t DocumentType) Valid() bool {
	_, ok := documentTitles[t]
	return ok
}

// DefaultTitle is used when a document is created without a title.
func (t DocumentType) DefaultTitle() string { return documentTitles[t] }

// strategyDocuments picks the letter that carries out a strategy.
var strategyDocuments = map[analysis.StrategyType]DocumentType{
	analysis.StrategyBillingErrorDispute: TypeDisputeLetter,
	analysis.StrategyItemizedBillRequest: TypeItemizedBillRequest,
	analysis.StrategyInsuranceAppeal:     TypeAppealLetter,
	analysis.StrategyCharityCare:         TypeCharityCareApplication,
	analysis.StrategyPaymentPlan:         TypePaymentPlanRequest,
	analysis.StrategyPromptPayDiscount:   TypeNegotiationLetter,
	analysis.StrategyPriceNegotiation:    TypeNegotiationLetter,
}

// DocumentTypeFor returns the document type that carries out a strategy.
func DocumentTypeFor(t analysis.StrategyType) (DocumentType, bool) {
	dt, ok := strategyDocuments[t]
	return dt, ok
}

// disputing types move an analyzed bill to disputed when sent.
var disputing = map[DocumentType]bool{
	TypeDisputeLetter: true,
	TypeAppealLetter:  true,
}

type DeliveryMethod string

const (
	DeliveryMail   DeliveryMethod = "mail"
	DeliveryEmail  DeliveryMethod = "email"
	DeliveryFax    DeliveryMethod = "fax"
	DeliveryPortal DeliveryMethod = "portal"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusFinalized Status = "finalized"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusResponded Status = "responded"
)

var transitions = map[Status][]Status{
	StatusDraft:     {StatusFinalized},
	StatusFinalized: {StatusDraft, StatusSent},
	StatusSent:      {StatusDelivered, StatusResponded},
	StatusDelivered: {StatusResponded},
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Recipient is stored in generated_documents.recipient.
type Recipient struct {
	Name         string `json:"name,omitempty" validate:"max=255"`
	Organization string `json:"organization,omitempty" validate:"max=255"`
	Address      string `json:"address,omitempty" validate:"max=500"`
	Email        string `json:"email,omitempty" validate:"omitempty,email"`
	Fax          string `json:"fax,omitempty" validate:"max=32"`
}

// Reaches reports whether the recipient has an address for the method.
func (r *Recipient) Reaches(m DeliveryMethod) bool {
	if r == nil {
		return m == DeliveryPortal
	}
	switch m {
	case DeliveryMail:
		return r.Address != ""
	case DeliveryEmail:
		return r.Email != ""
	case DeliveryFax:
		return r.Fax != ""
	}
	return true
}

// Document maps to generated_documents.
type Document struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	BillID         uuid.UUID       `db:"bill_id" json:"bill_id"`
	StrategyID     *uuid.UUID      `db:"strategy_id" json:"strategy_id,omitempty"`
	UserID         uuid.UUID       `db:"user_id" json:"user_id"`
	DocumentType   DocumentType    `db:"document_type" json:"document_type"`
	Title          string          `db:"title" json:"title"`
	Content        string          `db:"content" json:"content"`
	Recipient      *Recipient      `db:"recipient" json:"recipient,omitempty"`
	DeliveryMethod *DeliveryMethod `db:"delivery_method" json:"delivery_method,omitempty"`
	Status         Status          `db:"status" json:"status"`
	StorageKey     *string         `db:"storage_key" json:"storage_key,omitempty"`
	TrackingNumber *string         `db:"tracking_number" json:"tracking_number,omitempty"`
	SentAt         *time.Time      `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt    *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	RespondedAt    *time.Time      `db:"responded_at" json:"responded_at,omitempty"`
	ResponseNotes  *string         `db:"response_notes" json:"response_notes,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// CreateRequest is the body of POST /bills/:id/documents. The type defaults
// from the strategy and the content is generated unless given.
type CreateRequest struct {
	DocumentType   DocumentType    `json:"document_type,omitempty" validate:"omitempty,oneof=dispute_letter itemized_bill_request appeal_letter charity_care_application payment_plan_request negotiation_letter"`
	StrategyID     *uuid.UUID      `json:"strategy_id,omitempty"`
	Title          *string         `json:"title,omitempty" validate:"omitempty,min=1,max=255"`
	Content        *string         `json:"content,omitempty"`
	Recipient      *Recipient      `json:"recipient,omitempty"`
	DeliveryMethod *DeliveryMethod `json:"delivery_method,omitempty" validate:"omitempty,oneof=mail email fax portal"`
}

// UpdateRequest edits a draft. Nil fields are left as they are.
type UpdateRequest struct {
	Title          *string         `json:"title,omitempty" validate:"omitempty,min=1,max=255"`
	Content        *string         `json:"content,omitempty"`
	Recipient      *Recipient      `json:"recipient,omitempty"`
	DeliveryMethod *DeliveryMethod `json:"delivery_method,omitempty" validate:"omitempty,oneof=mail email fax portal"`
}

func (r UpdateRequest) Apply(d *Document) {
	if r.Title != nil {
		d.Title = *r.Title
	}
	if r.Content != nil {
		d.Content = *r.Content
	}
	if r.Recipient != nil {
		d.Recipient = r.Recipient
	}
	if r.DeliveryMethod != nil {
		d.DeliveryMethod = r.DeliveryMethod
	}
}

type SendRequest struct {
	DeliveryMethod *DeliveryMethod `json:"delivery_method,omitempty" validate:"omitempty,oneof=mail email fax portal"`
	TrackingNumber *string         `json:"tracking_number,omitempty" validate:"omitempty,max=100"`
}

type ResponseRequest struct {
	Notes string `json:"notes" validate:"required"`
}
