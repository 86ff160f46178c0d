package analysis

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrAnalysisNotFound          = errors.New("analysis not found")
	ErrAnalysisExists            = errors.New("bill already has an analysis")
	ErrNoExtractedData           = errors.New("bill has no extracted data to analyze")
	ErrStrategyNotFound          = errors.New("strategy not found")
	ErrInvalidStrategyTransition = errors.New("invalid strategy status transition")
	ErrStrategyConflict          = errors.New("strategy status changed concurrently")
	ErrStepNotFound              = errors.New("action step not found")
)

type IssueKind string

const (
	IssueDuplicateCharge    IssueKind = "duplicate_charge"
	IssueArithmeticMismatch IssueKind = "arithmetic_mismatch"
	IssueSubtotalMismatch   IssueKind = "subtotal_mismatch"
	IssueInvalidCode        IssueKind = "invalid_code"
	IssueBalanceMismatch    IssueKind = "balance_mismatch"
	IssueMissingInsurance   IssueKind = "missing_insurance"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// severityWeight is subtracted from the score for each issue.
var severityWeight = map[Severity]int{
	SeverityLow:    5,
	SeverityMedium: 10,
	SeverityHigh:   20,
}

// Issue is one finding. LineIndex points into extracted_data.line_items.
type Issue struct {
	Kind        IssueKind       `json:"kind"`
	Severity    Severity        `json:"severity"`
	LineIndex   *int            `json:"line_index,omitempty"`
	Code        string          `json:"code,omitempty"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// Details is stored in bill_analysis_results.analysis_details.
type Details struct {
	RulesRun         []string        `json:"rules_run"`
	LineItemsChecked int             `json:"line_items_checked"`
	OverchargeTotal  decimal.Decimal `json:"overcharge_total"`
	DuplicateTotal   decimal.Decimal `json:"duplicate_total"`
	FlaggedCodes     []string        `json:"flagged_codes"`
}

// Result maps to bill_analysis_results. One row per bill.
type Result struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	BillID           uuid.UUID       `db:"bill_id" json:"bill_id"`
	OverallScore     int             `db:"overall_score" json:"overall_score"`
	Confidence       decimal.Decimal `db:"confidence" json:"confidence"`
	PotentialSavings decimal.Decimal `db:"potential_savings" json:"potential_savings"`
	Summary          *string         `db:"summary" json:"summary,omitempty"`
	Issues           []Issue         `db:"issues" json:"issues"`
	Details          Details         `db:"analysis_details" json:"analysis_details"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

type StrategyType string

const (
	StrategyBillingErrorDispute StrategyType = "billing_error_dispute"
	StrategyItemizedBillRequest StrategyType = "itemized_bill_request"
	StrategyInsuranceAppeal     StrategyType = "insurance_appeal"
	StrategyCharityCare         StrategyType = "charity_care"
	StrategyPaymentPlan         StrategyType = "payment_plan"
	StrategyPromptPayDiscount   StrategyType = "prompt_pay_discount"
	StrategyPriceNegotiation    StrategyType = "price_negotiation"
)

type StrategyStatus string

const (
	StrategyRecommended StrategyStatus = "recommended"
	StrategyInProgress  StrategyStatus = "in_progress"
	StrategyCompleted   StrategyStatus = "completed"
	StrategyFailed      StrategyStatus = "failed"
	StrategyDismissed   StrategyStatus = "dismissed"
)

var strategyTransitions = map[StrategyStatus][]StrategyStatus{
	StrategyRecommended: {StrategyInProgress, StrategyDismissed},
	StrategyInProgress:  {StrategyCompleted, StrategyFailed},
	StrategyFailed:      {StrategyInProgress},
}

func CanTransitionStrategy(from, to StrategyStatus) bool {
	for _, next := range strategyTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func TransitionStrategy(from, to StrategyStatus) error {
	if !CanTransitionStrategy(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStrategyTransition, from, to)
	}
	return nil
}

// ActionStep is one entry of reduction_strategies.action_steps.
type ActionStep struct {
	Order     int    `json:"order"`
	Title     string `json:"title"`
	Detail    string `json:"detail"`
	Completed bool   `json:"completed"`
}

// Strategy maps to reduction_strategies. Priority 1 is the highest.
type Strategy struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	BillID             uuid.UUID       `db:"bill_id" json:"bill_id"`
	AnalysisID         uuid.UUID       `db:"analysis_id" json:"analysis_id"`
	StrategyType       StrategyType    `db:"strategy_type" json:"strategy_type"`
	Title              string          `db:"title" json:"title"`
	Description        *string         `db:"description" json:"description,omitempty"`
	EstimatedSavings   decimal.Decimal `db:"estimated_savings" json:"estimated_savings"`
	SuccessProbability decimal.Decimal `db:"success_probability" json:"success_probability"`
	Priority           int             `db:"priority" json:"priority"`
	Status             StrategyStatus  `db:"status" json:"status"`
	ActionSteps        []ActionStep    `db:"action_steps" json:"action_steps"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// Step returns the action step with the given order.
func (s *Strategy) Step(order int) (*ActionStep, error) {
	for i := range s.ActionSteps {
		if s.ActionSteps[i].Order == order {
			return &s.ActionSteps[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrStepNotFound, order)
}
