package invoice

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/invoicer/internal/ledger"
)

var hundred = decimal.NewFromInt(100)

// Totals is derived from the ledger and the rates; it is never stored.
type Totals struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
	GrandTotal     decimal.Decimal
}

// ComputeTotals applies the discount before tax. No rounding takes place.
func ComputeTotals(items []ledger.Item, taxRate, discountRate decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal())
	}
	discount := subtotal.Mul(discountRate).Div(hundred)
	taxable := subtotal.Sub(discount)
	tax := taxable.Mul(taxRate).Div(hundred)
	return Totals{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TaxAmount:      tax,
		GrandTotal:     taxable.Add(tax),
	}
}

// Rounded returns the totals rounded half away from zero to 2 decimal places.
func (t Totals) Rounded() Totals {
	return Totals{
		Subtotal:       t.Subtotal.Round(2),
		DiscountAmount: t.DiscountAmount.Round(2),
		TaxAmount:      t.TaxAmount.Round(2),
		GrandTotal:     t.GrandTotal.Round(2),
	}
}

// Equal compares totals by value.
func (t Totals) Equal(o Totals) bool {
	return t.Subtotal.Equal(o.Subtotal) &&
		t.DiscountAmount.Equal(o.DiscountAmount) &&
		t.TaxAmount.Equal(o.TaxAmount) &&
		t.GrandTotal.Equal(o.GrandTotal)
}
