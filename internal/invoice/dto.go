package invoice

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/invoicer/internal/document"
	"github.com/odyssey-erp/invoicer/internal/draft"
	"github.com/odyssey-erp/invoicer/internal/ledger"
)

// productID accepts both string and numeric ids.
type productID string

func (p *productID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = productID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("product_id: %w", err)
	}
	*p = productID(n.String())
	return nil
}

type addCatalogRequest struct {
	ProductID productID `json:"product_id" validate:"required"`
}

type addFreeformRequest struct {
	Name     string      `json:"name" validate:"required"`
	Quantity int         `json:"quantity" validate:"required,min=1"`
	Price    json.Number `json:"price" validate:"required"`
}

type patchItemRequest struct {
	Quantity *int         `json:"quantity" validate:"omitempty,min=1"`
	Name     *string      `json:"name" validate:"omitempty,min=1"`
	Price    *json.Number `json:"price"`
}

type rateRequest struct {
	Rate json.Number `json:"rate" validate:"required"`
}

type itemResponse struct {
	ID         string      `json:"id"`
	Kind       ledger.Kind `json:"kind"`
	ProductRef *string     `json:"product_ref"`
	Name       string      `json:"name"`
	Quantity   int         `json:"quantity"`
	UnitPrice  json.Number `json:"unit_price"`
	LineTotal  json.Number `json:"line_total"`
}

type totalsResponse struct {
	Subtotal       json.Number `json:"subtotal"`
	DiscountAmount json.Number `json:"discount_amount"`
	TaxAmount      json.Number `json:"tax_amount"`
	GrandTotal     json.Number `json:"grand_total"`
}

type productResponse struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Price      json.Number `json:"price"`
	Stock      int         `json:"stock"`
	LowStock   bool        `json:"low_stock"`
	OutOfStock bool        `json:"out_of_stock"`
}

type catalogStatus struct {
	Ready    bool       `json:"ready"`
	LoadedAt *time.Time `json:"loaded_at,omitempty"`
}

type stateResponse struct {
	Items        []itemResponse    `json:"items"`
	Totals       totalsResponse    `json:"totals"`
	TaxRate      json.Number       `json:"tax_rate"`
	DiscountRate json.Number       `json:"discount_rate"`
	FormFields   map[string]string `json:"form_fields"`
	Products     []productResponse `json:"selectable_products"`
	Catalog      catalogStatus     `json:"catalog"`
}

type historyResponse struct {
	ID            string      `json:"id"`
	InvoiceNumber string      `json:"invoice_number"`
	CustomerName  string      `json:"customer_name"`
	Amount        json.Number `json:"amount"`
	Date          time.Time   `json:"date"`
}

func newItemResponse(item ledger.Item) itemResponse {
	out := itemResponse{
		ID:        item.ID,
		Kind:      item.Kind,
		Name:      item.Name,
		Quantity:  item.Quantity,
		UnitPrice: json.Number(item.UnitPrice.String()),
		LineTotal: document.Money(item.LineTotal()),
	}
	if item.CatalogBound() {
		ref := item.ProductRef
		out.ProductRef = &ref
	}
	return out
}

func newProductResponses(products []Selectable) []productResponse {
	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, productResponse{
			ID:         p.ID,
			Name:       p.Name,
			Price:      json.Number(p.UnitPrice.String()),
			Stock:      p.Stock,
			LowStock:   p.LowStock,
			OutOfStock: p.OutOfStock,
		})
	}
	return out
}

func newStateResponse(state State) stateResponse {
	rounded := state.Totals.Rounded()
	out := stateResponse{
		Items: make([]itemResponse, 0, len(state.Items)),
		Totals: totalsResponse{
			Subtotal:       document.Money(rounded.Subtotal),
			DiscountAmount: document.Money(rounded.DiscountAmount),
			TaxAmount:      document.Money(rounded.TaxAmount),
			GrandTotal:     document.Money(rounded.GrandTotal),
		},
		TaxRate:      document.Rate(state.TaxRate),
		DiscountRate: document.Rate(state.DiscountRate),
		FormFields:   state.FormFields,
		Products:     newProductResponses(state.Selectable),
		Catalog:      catalogStatus{Ready: state.CatalogReady},
	}
	if state.CatalogReady {
		loadedAt := state.CatalogLoadedAt.UTC()
		out.Catalog.LoadedAt = &loadedAt
	}
	for _, item := range state.Items {
		out.Items = append(out.Items, newItemResponse(item))
	}
	return out
}

func newHistoryResponses(entries []draft.HistoryEntry) []historyResponse {
	out := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyResponse{
			ID:            e.ID,
			InvoiceNumber: e.InvoiceNumber,
			CustomerName:  e.CustomerName,
			Amount:        document.Money(e.Amount),
			Date:          e.Date,
		})
	}
	return out
}

func parseDecimal(field string, n json.Number) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s must be a number", ErrInvalidInput, field)
	}
	return d, nil
}
