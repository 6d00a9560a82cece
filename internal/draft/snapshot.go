package draft

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/invoicer/internal/ledger"
)

var hundred = decimal.NewFromInt(100)

// Snapshot is the persisted form of the working invoice.
type Snapshot struct {
	Items        []ledger.Item
	TaxRate      decimal.Decimal
	DiscountRate decimal.Decimal
	FormFields   map[string]string
}

// Empty returns the fresh-start snapshot.
func Empty(taxRate decimal.Decimal) Snapshot {
	return Snapshot{TaxRate: taxRate, DiscountRate: decimal.Zero, FormFields: map[string]string{}}
}

type snapshotJSON struct {
	LineItems    []lineItemJSON    `json:"lineItems"`
	TaxRate      json.Number       `json:"taxRate"`
	DiscountRate json.Number       `json:"discountRate,omitempty"`
	FormFields   map[string]string `json:"formFields"`
}

type lineItemJSON struct {
	ID         string      `json:"id"`
	ProductRef *string     `json:"productRef"`
	Name       string      `json:"name"`
	Quantity   int         `json:"quantity"`
	UnitPrice  json.Number `json:"unitPrice"`
}

// MarshalJSON encodes numbers as JSON numbers at full precision.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{
		LineItems:  make([]lineItemJSON, 0, len(s.Items)),
		TaxRate:    json.Number(s.TaxRate.String()),
		FormFields: s.FormFields,
	}
	if !s.DiscountRate.IsZero() {
		out.DiscountRate = json.Number(s.DiscountRate.String())
	}
	if out.FormFields == nil {
		out.FormFields = map[string]string{}
	}
	for _, item := range s.Items {
		row := lineItemJSON{
			ID:        item.ID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: json.Number(item.UnitPrice.String()),
		}
		if item.CatalogBound() {
			ref := item.ProductRef
			row.ProductRef = &ref
		}
		out.LineItems = append(out.LineItems, row)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes and validates a snapshot. Any violation of the row shape,
// duplicate ids, duplicate product references or out-of-range rates is an error.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var in snapshotJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	taxRate, err := parseRate(in.TaxRate)
	if err != nil {
		return fmt.Errorf("taxRate: %w", err)
	}
	discountRate := decimal.Zero
	if in.DiscountRate != "" {
		if discountRate, err = parseRate(in.DiscountRate); err != nil {
			return fmt.Errorf("discountRate: %w", err)
		}
	}

	items := make([]ledger.Item, 0, len(in.LineItems))
	ids := make(map[string]struct{}, len(in.LineItems))
	refs := make(map[string]struct{}, len(in.LineItems))
	for i, row := range in.LineItems {
		price, err := decimal.NewFromString(row.UnitPrice.String())
		if err != nil {
			return fmt.Errorf("lineItems[%d].unitPrice: %w", i, err)
		}
		item := ledger.Item{
			ID:        row.ID,
			Kind:      ledger.KindFreeform,
			Name:      row.Name,
			Quantity:  row.Quantity,
			UnitPrice: price,
		}
		if row.ProductRef != nil {
			item.Kind = ledger.KindCatalog
			item.ProductRef = *row.ProductRef
		}
		if err := item.Validate(); err != nil {
			return fmt.Errorf("lineItems[%d]: %w", i, err)
		}
		if _, dup := ids[item.ID]; dup {
			return fmt.Errorf("lineItems[%d]: duplicate id %s", i, item.ID)
		}
		ids[item.ID] = struct{}{}
		if item.CatalogBound() {
			if _, dup := refs[item.ProductRef]; dup {
				return fmt.Errorf("lineItems[%d]: duplicate product %s", i, item.ProductRef)
			}
			refs[item.ProductRef] = struct{}{}
		}
		items = append(items, item)
	}

	fields := in.FormFields
	if fields == nil {
		fields = map[string]string{}
	}
	*s = Snapshot{Items: items, TaxRate: taxRate, DiscountRate: discountRate, FormFields: fields}
	return nil
}

func parseRate(n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Decimal{}, errors.New("missing")
	}
	rate, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Decimal{}, err
	}
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return decimal.Decimal{}, fmt.Errorf("out of range: %s", rate)
	}
	return rate, nil
}

// HistoryEntry records one generated document.
type HistoryEntry struct {
	ID            string          `json:"id"`
	InvoiceNumber string          `json:"invoiceNumber"`
	CustomerName  string          `json:"customerName"`
	Amount        decimal.Decimal `json:"amount"`
	Date          time.Time       `json:"date"`
}
