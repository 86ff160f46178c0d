package dispute

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/shopspring/decimal"

	"github.com/medbill/medbill/internal/domain/analysis"
	"github.com/medbill/medbill/internal/domain/bill"
)

// LetterData is what the letter templates see.
type LetterData struct {
	Date              string
	PatientName       string
	AccountNumber     string
	ProviderName      string
	RecipientName     string
	RecipientOrg      string
	RecipientAddress  string
	BillDate          string
	AmountDue         string
	InsuranceProvider string
	PolicyNumber      string
	ClaimNumber       string
	Issues            []LetterIssue
	DisputedAmount    string
	OfferAmount       string
	MonthlyPayment    string
}

type LetterIssue struct {
	Description string
	Amount      string
}

// NewLetterData collects the letter fields from a bill, its analysis and the
// strategy being carried out. result and strategy may be nil.
func NewLetterData(b *bill.MedicalBill, result *analysis.Result, strategy *analysis.Strategy, to *Recipient, now time.Time) LetterData {
	ld := LetterData{
		Date:           now.Format("January 2, 2006"),
		PatientName:    "[Your name]",
		AccountNumber:  "[Account number]",
		ProviderName:   "the provider",
		AmountDue:      "0.00",
		DisputedAmount: "0.00",
	}
	if b.ProviderName != nil && *b.ProviderName != "" {
		ld.ProviderName = *b.ProviderName
	}
	if b.BillDate != nil {
		ld.BillDate = b.BillDate.Format("January 2, 2006")
	}
	due := decimal.Zero
	if b.TotalAmount.Valid {
		due = b.TotalAmount.Decimal
	}

	if d := b.ExtractedData; d != nil {
		if d.PatientInfo != nil {
			if d.PatientInfo.Name != "" {
				ld.PatientName = d.PatientInfo.Name
			}
			if d.PatientInfo.AccountNumber != "" {
				ld.AccountNumber = d.PatientInfo.AccountNumber
			}
		}
		if d.ProviderInfo != nil && d.ProviderInfo.Name != "" {
			ld.ProviderName = d.ProviderInfo.Name
		}
		if d.InsuranceInfo != nil {
			ld.InsuranceProvider = d.InsuranceInfo.Provider
			ld.PolicyNumber = d.InsuranceInfo.PolicyNumber
			ld.ClaimNumber = d.InsuranceInfo.ClaimNumber
		}
		if d.AmountDue.IsPositive() {
			due = d.AmountDue
		}
	}
	ld.AmountDue = due.StringFixed(2)
	ld.MonthlyPayment = due.Div(decimal.NewFromInt(12)).RoundUp(2).StringFixed(2)

	if result != nil {
		ld.DisputedAmount = result.PotentialSavings.StringFixed(2)
		for _, is := range result.Issues {
			if is.Severity == analysis.SeverityLow && is.Amount.IsZero() {
				continue
			}
			ld.Issues = append(ld.Issues, LetterIssue{Description: is.Description, Amount: is.Amount.StringFixed(2)})
		}
	}
	offer := due
	if strategy != nil && strategy.EstimatedSavings.IsPositive() {
		offer = due.Sub(strategy.EstimatedSavings)
	}
	ld.OfferAmount = offer.StringFixed(2)

	if to != nil {
		ld.RecipientName = to.Name
		ld.RecipientOrg = to.Organization
		ld.RecipientAddress = to.Address
	}
	if ld.RecipientOrg == "" {
		ld.RecipientOrg = ld.ProviderName + " Billing Department"
	}
	return ld
}

const letterHead = `{{.Date}}

{{with .RecipientName}}{{.}}
{{end}}{{.RecipientOrg}}
{{with .RecipientAddress}}{{.}}
{{end}}
`

const letterClose = `
Please reply in writing. Thank you for your attention to this matter.

Sincerely,

{{.PatientName}}
Account: {{.AccountNumber}}
`

var letterBodies = map[DocumentType]string{
	TypeDisputeLetter: `Re: Dispute of charges, account {{.AccountNumber}}{{with .BillDate}}, statement dated {{.}}{{end}}

I am writing to dispute charges on my bill from {{.ProviderName}}. A review of the statement found the following problems:
{{range .Issues}}
  - {{.Description}} (${{.Amount}})
{{- else}}
  - Charges that I cannot verify against the services I received.
{{- end}}

I request that these charges, totalling ${{.DisputedAmount}}, be corrected and that a revised statement be sent to me. Please place the account on hold and do not refer it to collections while this dispute is open.
`,
	TypeItemizedBillRequest: `Re: Request for an itemized bill, account {{.AccountNumber}}

Please send me a fully itemized bill for the services billed to this account, showing for every charge the date of service, the CPT or HCPCS code, the quantity and the unit price. Until I receive it I cannot verify the balance of ${{.AmountDue}}.
`,
	TypeAppealLetter: `Re: Appeal of claim{{with .ClaimNumber}} {{.}}{{end}}{{with .PolicyNumber}}, policy {{.}}{{end}}

I am appealing the processing of my claim for services from {{.ProviderName}}. I am currently billed ${{.AmountDue}}, which I believe should be covered{{with .InsuranceProvider}} by {{.}}{{end}} under my plan.
{{range .Issues}}
  - {{.Description}}
{{- end}}

Please reprocess the claim and send me an updated explanation of benefits.
`,
	TypeCharityCareApplication: `Re: Application for financial assistance, account {{.AccountNumber}}

I am applying for financial assistance under your charity care policy for the balance of ${{.AmountDue}}. Paying this amount would cause me financial hardship. Please send me the application forms if they are required and hold the account while my application is reviewed.
`,
	TypePaymentPlanRequest: `Re: Payment plan, account {{.AccountNumber}}

I would like to pay the balance of ${{.AmountDue}} in monthly installments of ${{.MonthlyPayment}} over twelve months, without interest or fees. Please confirm the plan in writing.
`,
	TypeNegotiationLetter: `Re: Request for a reduced balance, account {{.AccountNumber}}

I am asking {{.ProviderName}} to reduce the balance of ${{.AmountDue}}. I can pay ${{.OfferAmount}} promptly as settlement in full. Please confirm in writing if you accept this offer.
`,
}

var letters = func() map[DocumentType]*template.Template {
	out := make(map[DocumentType]*template.Template, len(letterBodies))
	for t, body := range letterBodies {
		out[t] = template.Must(template.New(string(t)).Option("missingkey=error").Parse(letterHead + body + letterClose))
	}
	return out
}()

// RenderLetter fills the template for a document type.
func RenderLetter(t DocumentType, data LetterData) (string, error) {
	tmpl, ok := letters[t]
	if !ok {
		return "", fmt.Errorf("no letter template for %q", t)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t, err)
	}
	return sb.String(), nil
}
