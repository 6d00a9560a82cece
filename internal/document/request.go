package document

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Item is one row of the generate-pdf body.
type Item struct {
	Name     string      `json:"name"`
	Quantity int         `json:"quantity"`
	Price    json.Number `json:"price"`
}

// Request is the body posted to the document service. Amounts are rounded to
// 2 decimal places.
type Request struct {
	VendorName      string      `json:"vendor_name"`
	VendorAddress   string      `json:"vendor_address"`
	VendorPhone     string      `json:"vendor_phone"`
	CustomerName    string      `json:"customer_name"`
	CustomerAddress string      `json:"customer_address"`
	CustomerPhone   string      `json:"customer_phone"`
	InvoiceNumber   string      `json:"invoice_number"`
	InvoiceDate     string      `json:"invoice_date,omitempty"`
	DueDate         string      `json:"due_date,omitempty"`
	Notes           string      `json:"notes,omitempty"`
	TaxRate         json.Number `json:"tax_rate"`
	DiscountRate    json.Number `json:"discount_rate,omitempty"`
	Items           []Item      `json:"items"`
	Subtotal        json.Number `json:"subtotal"`
	DiscountAmount  json.Number `json:"discountAmount,omitempty"`
	TaxAmount       json.Number `json:"taxAmount"`
	GrandTotal      json.Number `json:"grandTotal"`
	LogoFilename    string      `json:"logo_filename,omitempty"`
}

// Money renders d with exactly two decimals.
func Money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

// Rate renders a percentage without trailing zeros.
func Rate(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}
