package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/medbill/medbill/internal/domain/bill"
	"github.com/medbill/medbill/internal/platform/validation"
)

var (
	hundred = decimal.NewFromInt(100)

	// Thresholds on amount due for the generic strategies.
	paymentPlanMinimum = decimal.NewFromInt(500)
	negotiationMinimum = decimal.NewFromInt(1000)
)

// DefaultCharityCareThreshold is the amount due above which charity care is
// suggested when no threshold is configured.
var DefaultCharityCareThreshold = decimal.NewFromInt(1000)

// Analyzer runs deterministic checks over a bill's extracted data.
type Analyzer struct {
	CharityCareThreshold decimal.Decimal
}

func NewAnalyzer(charityCareThreshold decimal.Decimal) *Analyzer {
	if !charityCareThreshold.IsPositive() {
		charityCareThreshold = DefaultCharityCareThreshold
	}
	return &Analyzer{CharityCareThreshold: charityCareThreshold}
}

// Report is the analyzer output before it is persisted.
type Report struct {
	Score            int
	Confidence       decimal.Decimal
	PotentialSavings decimal.Decimal
	Summary          string
	Issues           []Issue
	Details          Details
	Strategies       []*Strategy
}

type rule struct {
	name  string
	check func(*checker)
}

var rules = []rule{
	{"duplicate_charge", (*checker).duplicates},
	{"arithmetic_mismatch", (*checker).arithmetic},
	{"subtotal_mismatch", (*checker).subtotal},
	{"invalid_code", (*checker).codes},
	{"balance_mismatch", (*checker).balance},
	{"missing_insurance", (*checker).insurance},
}

type checker struct {
	data      *bill.ExtractedData
	issues    []Issue
	details   Details
	savings   decimal.Decimal
	duplicate map[int]bool
	flagged   map[string]bool
}

func (c *checker) add(kind IssueKind, sev Severity, line *int, code, desc string, amount decimal.Decimal) {
	c.issues = append(c.issues, Issue{
		Kind: kind, Severity: sev, LineIndex: line, Code: code,
		Description: desc, Amount: amount.Round(2),
	})
}

func lineRef(i int) *int { return &i }

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func (c *checker) duplicates() {
	seen := make(map[string]int)
	for i, li := range c.data.LineItems {
		key := strings.ToUpper(li.Code) + "|" + li.ServiceDate + "|" + money(li.UnitPrice)
		first, ok := seen[key]
		if !ok {
			seen[key] = i
			continue
		}
		c.duplicate[i] = true
		c.add(IssueDuplicateCharge, SeverityHigh, lineRef(i), li.Code,
			fmt.Sprintf("line %d repeats line %d: %s on %s at $%s", i+1, first+1, li.Code, orUnknown(li.ServiceDate), money(li.UnitPrice)),
			li.Total)
		c.details.DuplicateTotal = c.details.DuplicateTotal.Add(li.Total)
		c.savings = c.savings.Add(li.Total)
	}
}

func (c *checker) arithmetic() {
	for i, li := range c.data.LineItems {
		expected := li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity))).Round(2)
		billed := li.Total.Round(2)
		if expected.Equal(billed) {
			continue
		}
		diff := billed.Sub(expected)
		c.add(IssueArithmeticMismatch, SeverityMedium, lineRef(i), li.Code,
			fmt.Sprintf("line %d: %d x $%s is $%s but $%s was billed", i+1, li.Quantity, money(li.UnitPrice), money(expected), money(billed)),
			diff.Abs())
		if diff.IsPositive() && !c.duplicate[i] {
			c.details.OverchargeTotal = c.details.OverchargeTotal.Add(diff)
			c.savings = c.savings.Add(diff)
		}
	}
}

// subtotal and balance are skipped when the bill reports no subtotal.
func (c *checker) subtotal() {
	if c.data.Subtotal.IsZero() || len(c.data.LineItems) == 0 {
		return
	}
	sum := c.data.LineTotal().Round(2)
	reported := c.data.Subtotal.Round(2)
	if sum.Equal(reported) {
		return
	}
	diff := reported.Sub(sum)
	c.add(IssueSubtotalMismatch, SeverityMedium, nil, "",
		fmt.Sprintf("line items add up to $%s but the subtotal is $%s", money(sum), money(reported)),
		diff.Abs())
	if diff.IsPositive() {
		c.details.OverchargeTotal = c.details.OverchargeTotal.Add(diff)
		c.savings = c.savings.Add(diff)
	}
}

func (c *checker) flag(code string) {
	if !c.flagged[code] {
		c.flagged[code] = true
		c.details.FlaggedCodes = append(c.details.FlaggedCodes, code)
	}
}

func (c *checker) codes() {
	for i, li := range c.data.LineItems {
		if validation.IsProcedureCode(li.Code) {
			continue
		}
		c.flag(li.Code)
		c.add(IssueInvalidCode, SeverityLow, lineRef(i), li.Code,
			fmt.Sprintf("line %d: %q is not a valid CPT or HCPCS code", i+1, li.Code), decimal.Zero)
	}
	for _, dc := range c.data.DiagnosticCodes {
		if validation.IsICD10(dc.Code) {
			continue
		}
		c.flag(dc.Code)
		c.add(IssueInvalidCode, SeverityLow, nil, dc.Code,
			fmt.Sprintf("diagnosis %q is not a valid ICD-10 code", dc.Code), decimal.Zero)
	}
}

func (c *checker) balance() {
	if c.data.Subtotal.IsZero() {
		return
	}
	expected := c.data.Subtotal.Sub(c.data.Adjustments)
	if c.data.InsuranceInfo != nil {
		expected = expected.Sub(c.data.InsuranceInfo.AmountPaid)
	}
	expected = expected.Round(2)
	due := c.data.AmountDue.Round(2)
	if expected.Equal(due) {
		return
	}
	diff := due.Sub(expected)
	sev := SeverityLow
	if diff.IsPositive() {
		sev = SeverityHigh
		c.details.OverchargeTotal = c.details.OverchargeTotal.Add(diff)
		c.savings = c.savings.Add(diff)
	}
	c.add(IssueBalanceMismatch, sev, nil, "",
		fmt.Sprintf("subtotal less adjustments and insurance payments is $%s but $%s is due", money(expected), money(due)),
		diff.Abs())
}

func (c *checker) insurance() {
	if c.data.HasInsurance() {
		return
	}
	c.add(IssueMissingInsurance, SeverityMedium, nil, "",
		"no insurance information on the bill; the claim may never have been submitted", decimal.Zero)
}

func orUnknown(s string) string {
	if s == "" {
		return "an unknown date"
	}
	return s
}

// Analyze runs every rule and derives prioritised strategies.
func (a *Analyzer) Analyze(data *bill.ExtractedData) *Report {
	c := &checker{
		data:      data,
		duplicate: make(map[int]bool),
		flagged:   make(map[string]bool),
		details: Details{
			LineItemsChecked: len(data.LineItems),
			FlaggedCodes:     []string{},
		},
	}
	for _, r := range rules {
		r.check(c)
		c.details.RulesRun = append(c.details.RulesRun, r.name)
	}
	c.details.OverchargeTotal = c.details.OverchargeTotal.Round(2)
	c.details.DuplicateTotal = c.details.DuplicateTotal.Round(2)

	r := &Report{
		Score:            score(c.issues),
		Confidence:       confidence(data),
		PotentialSavings: capSavings(c.savings, data),
		Issues:           c.issues,
		Details:          c.details,
	}
	if r.Issues == nil {
		r.Issues = []Issue{}
	}
	r.Summary = summarize(r)
	r.Strategies = a.plan(data, r)
	return r
}

func score(issues []Issue) int {
	s := 100
	for _, is := range issues {
		s -= severityWeight[is.Severity]
	}
	if s < 0 {
		return 0
	}
	return s
}

// confidence reflects how complete the extracted document is.
func confidence(d *bill.ExtractedData) decimal.Decimal {
	c := int64(95)
	if len(d.LineItems) == 0 {
		c -= 15
	}
	if d.Subtotal.IsZero() {
		c -= 10
	}
	if !d.HasInsurance() {
		c -= 10
	}
	if d.ProviderInfo == nil {
		c -= 5
	}
	if len(d.DiagnosticCodes) == 0 {
		c -= 5
	}
	if c < 10 {
		c = 10
	}
	return decimal.NewFromInt(c)
}

// capSavings keeps savings within what the patient owes.
func capSavings(savings decimal.Decimal, d *bill.ExtractedData) decimal.Decimal {
	limit := d.AmountDue
	if !limit.IsPositive() {
		limit = d.LineTotal()
	}
	if savings.GreaterThan(limit) {
		savings = limit
	}
	if savings.IsNegative() {
		return decimal.Zero
	}
	return savings.Round(2)
}

func summarize(r *Report) string {
	if len(r.Issues) == 0 {
		return "No billing problems were found."
	}
	counts := make(map[Severity]int)
	for _, is := range r.Issues {
		counts[is.Severity]++
	}
	return fmt.Sprintf("Found %d issue(s) (%d high, %d medium, %d low) with potential savings of $%s.",
		len(r.Issues), counts[SeverityHigh], counts[SeverityMedium], counts[SeverityLow], money(r.PotentialSavings))
}

func (r *Report) has(kinds ...IssueKind) bool {
	for _, is := range r.Issues {
		for _, k := range kinds {
			if is.Kind == k {
				return true
			}
		}
	}
	return false
}

var strategyOrder = []StrategyType{
	StrategyBillingErrorDispute,
	StrategyItemizedBillRequest,
	StrategyInsuranceAppeal,
	StrategyCharityCare,
	StrategyPriceNegotiation,
	StrategyPromptPayDiscount,
	StrategyPaymentPlan,
}

func pct(amount decimal.Decimal, percent int64) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(percent)).Div(hundred).Round(2)
}

func (a *Analyzer) plan(d *bill.ExtractedData, r *Report) []*Strategy {
	due := d.AmountDue
	var out []*Strategy
	add := func(t StrategyType, savings decimal.Decimal, probability int64) {
		if savings.GreaterThan(due) && due.IsPositive() {
			savings = due
		}
		tmpl := strategyTemplates[t]
		desc := tmpl.description
		out = append(out, &Strategy{
			StrategyType:       t,
			Title:              tmpl.title,
			Description:        &desc,
			EstimatedSavings:   savings.Round(2),
			SuccessProbability: decimal.NewFromInt(probability),
			Status:             StrategyRecommended,
			ActionSteps:        tmpl.steps(),
		})
	}

	if r.has(IssueDuplicateCharge, IssueArithmeticMismatch, IssueSubtotalMismatch) ||
		(r.has(IssueBalanceMismatch) && r.Details.OverchargeTotal.IsPositive()) {
		add(StrategyBillingErrorDispute, r.PotentialSavings, 75)
	}
	if len(d.LineItems) == 0 || r.has(IssueInvalidCode) {
		add(StrategyItemizedBillRequest, decimal.Zero, 90)
	}
	switch {
	case !d.HasInsurance():
		add(StrategyInsuranceAppeal, pct(due, 50), 40)
	case d.InsuranceInfo.PatientResponsibility.IsPositive() && due.GreaterThan(d.InsuranceInfo.PatientResponsibility):
		add(StrategyInsuranceAppeal, due.Sub(d.InsuranceInfo.PatientResponsibility), 65)
	}
	if due.GreaterThan(a.CharityCareThreshold) {
		add(StrategyCharityCare, pct(due, 50), 35)
	}
	if due.GreaterThanOrEqual(negotiationMinimum) {
		add(StrategyPriceNegotiation, pct(due, 20), 45)
	}
	if due.IsPositive() {
		add(StrategyPromptPayDiscount, pct(due, 10), 60)
	}
	if due.GreaterThanOrEqual(paymentPlanMinimum) {
		add(StrategyPaymentPlan, decimal.Zero, 85)
	}

	rank := make(map[StrategyType]int, len(strategyOrder))
	for i, t := range strategyOrder {
		rank[t] = i
	}
	sort.SliceStable(out, func(i, j int) bool {
		ei := out[i].EstimatedSavings.Mul(out[i].SuccessProbability)
		ej := out[j].EstimatedSavings.Mul(out[j].SuccessProbability)
		if !ei.Equal(ej) {
			return ei.GreaterThan(ej)
		}
		return rank[out[i].StrategyType] < rank[out[j].StrategyType]
	})
	for i, s := range out {
		s.Priority = i + 1
	}
	return out
}

type strategyTemplate struct {
	title       string
	description string
	stepTitles  [][2]string
}

func (t strategyTemplate) steps() []ActionStep {
	out := make([]ActionStep, len(t.stepTitles))
	for i, st := range t.stepTitles {
		out[i] = ActionStep{Order: i + 1, Title: st[0], Detail: st[1]}
	}
	return out
}

var strategyTemplates = map[StrategyType]strategyTemplate{
	StrategyBillingErrorDispute: {
		title:       "Dispute billing errors",
		description: "The bill contains charges that do not add up. Ask the provider to correct them.",
		stepTitles: [][2]string{
			{"Review the flagged charges", "Compare each flagged line with your records and explanation of benefits."},
			{"Send a dispute letter", "Send the generated dispute letter to the provider's billing office."},
			{"Ask for a billing hold", "Request that the account is not sent to collections while the dispute is open."},
			{"Follow up in 30 days", "Call the billing office if no corrected bill has arrived."},
		},
	},
	StrategyItemizedBillRequest: {
		title:       "Request an itemized bill",
		description: "Some charges cannot be verified. An itemized bill with billing codes is needed.",
		stepTitles: [][2]string{
			{"Request the itemized bill", "Ask for every charge with its CPT/HCPCS code, date and unit price."},
			{"Re-run the analysis", "Enter the itemized charges and analyze the bill again."},
		},
	},
	StrategyInsuranceAppeal: {
		title:       "Appeal to your insurer",
		description: "Insurance may cover more of this bill than has been applied.",
		stepTitles: [][2]string{
			{"Get the explanation of benefits", "Request the EOB for this claim from your insurer."},
			{"File an appeal", "Send the generated appeal letter with the bill and EOB attached."},
			{"Track the appeal", "Insurers usually respond within 30 to 60 days."},
		},
	},
	StrategyCharityCare: {
		title:       "Apply for charity care",
		description: "The amount due is high enough that the provider's financial assistance policy may apply.",
		stepTitles: [][2]string{
			{"Get the financial assistance policy", "Nonprofit hospitals must publish one."},
			{"Gather income documents", "Recent pay stubs or tax returns are usually required."},
			{"Submit the application", "Send the generated application to the billing office."},
		},
	},
	StrategyPaymentPlan: {
		title:       "Set up a payment plan",
		description: "Spread the balance over interest-free monthly payments.",
		stepTitles: [][2]string{
			{"Decide on a monthly amount", "Pick an amount you can sustain."},
			{"Request the plan in writing", "Send the generated payment plan request."},
		},
	},
	StrategyPromptPayDiscount: {
		title:       "Ask for a prompt-pay discount",
		description: "Many providers discount balances that are paid in full right away.",
		stepTitles: [][2]string{
			{"Call the billing office", "Ask what discount applies to payment in full."},
			{"Get the offer in writing", "Pay only after the reduced balance is confirmed."},
		},
	},
	StrategyPriceNegotiation: {
		title:       "Negotiate the price",
		description: "Charges are often above fair market rates and can be negotiated.",
		stepTitles: [][2]string{
			{"Look up fair prices", "Compare charges against published fair-price estimates."},
			{"Make an offer", "Send the generated negotiation letter with your offer."},
			{"Confirm the settlement", "Get the agreed amount in writing before paying."},
		},
	},
}
