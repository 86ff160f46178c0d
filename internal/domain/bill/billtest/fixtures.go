package billtest

import (
	"github.com/shopspring/decimal"

	"github.com/medbill/medbill/internal/domain/bill"
)

// SampleExtractedData returns a consistent document: line totals match the
// subtotal and the balance works out.
func SampleExtractedData() *bill.ExtractedData {
	return &bill.ExtractedData{
		PatientInfo: &bill.PatientInfo{Name: "Jane Doe", DateOfBirth: "1980-04-02", AccountNumber: "ACC-1001"},
		InsuranceInfo: &bill.InsuranceInfo{
			Provider:              "Acme Health",
			PolicyNumber:          "POL-42",
			AmountPaid:            decimal.RequireFromString("100.00"),
			PatientResponsibility: decimal.RequireFromString("250.50"),
		},
		DiagnosticCodes: []bill.DiagnosticCode{{Code: "J06.9", Description: "Acute upper respiratory infection"}},
		LineItems: []bill.LineItem{
			{Code: "99213", Description: "Office visit", ServiceDate: "2026-03-01", Quantity: 1,
				UnitPrice: decimal.RequireFromString("150.00"), Total: decimal.RequireFromString("150.00")},
			{Code: "85025", Description: "Complete blood count", ServiceDate: "2026-03-01", Quantity: 2,
				UnitPrice: decimal.RequireFromString("100.25"), Total: decimal.RequireFromString("200.50")},
		},
		ProviderInfo: &bill.ProviderInfo{Name: "General Hospital", NPI: "1234567890"},
		Subtotal:     decimal.RequireFromString("350.50"),
		Adjustments:  decimal.Zero,
		AmountDue:    decimal.RequireFromString("250.50"),
	}
}
