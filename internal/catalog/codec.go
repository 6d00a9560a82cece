package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

// wireProduct mirrors one element of GET /api/inventory_items.
type wireProduct struct {
	ID    json.RawMessage `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock decimal.Decimal `json:"stock"`
}

// Decode parses an inventory payload. Entries that fail validation are skipped and
// counted in dropped; a duplicate id keeps its first occurrence.
func Decode(r io.Reader) (products []Product, dropped int, err error) {
	var raw []wireProduct
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, 0, fmt.Errorf("decode inventory items: %w", err)
	}
	products = make([]Product, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, item := range raw {
		product, ok := item.toProduct()
		if !ok {
			dropped++
			continue
		}
		if _, dup := seen[product.ID]; dup {
			dropped++
			continue
		}
		seen[product.ID] = struct{}{}
		products = append(products, product)
	}
	return products, dropped, nil
}

// Encode writes products in the inventory wire shape.
func Encode(w io.Writer, products []Product) error {
	out := make([]map[string]any, 0, len(products))
	for _, p := range products {
		out = append(out, map[string]any{
			"id":    p.ID,
			"name":  p.Name,
			"price": json.Number(p.UnitPrice.String()),
			"stock": p.Stock,
		})
	}
	return json.NewEncoder(w).Encode(out)
}

func (w wireProduct) toProduct() (Product, bool) {
	id, ok := normalizeID(w.ID)
	if !ok {
		return Product{}, false
	}
	if w.Price.IsNegative() || w.Stock.IsNegative() || !w.Stock.IsInteger() {
		return Product{}, false
	}
	return Product{
		ID:        id,
		Name:      strings.TrimSpace(w.Name),
		UnitPrice: w.Price,
		Stock:     int(w.Stock.IntPart()),
	}, true
}

// normalizeID accepts string or integer ids and returns their string form.
func normalizeID(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	n, err := decimal.NewFromString(string(raw))
	if err != nil || !n.IsInteger() {
		return "", false
	}
	return n.String(), true
}
