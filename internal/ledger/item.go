// Package ledger stores the ordered invoice rows.
package ledger

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind distinguishes catalog-bound rows from free-form rows.
type Kind string

const (
	// KindCatalog rows reference a catalog product and mirror its price.
	KindCatalog Kind = "catalog"
	// KindFreeform rows carry a user-entered name and price.
	KindFreeform Kind = "freeform"
)

// Item is one invoice row. ProductRef is set only for KindCatalog.
type Item struct {
	ID         string
	Kind       Kind
	ProductRef string
	Name       string
	Quantity   int
	UnitPrice  decimal.Decimal
}

// ErrInvalidItem reports a row that violates the item shape.
var ErrInvalidItem = errors.New("ledger: invalid item")

// NewCatalogItem creates a catalog-bound row with quantity 1.
func NewCatalogItem(productRef, name string, unitPrice decimal.Decimal) Item {
	return Item{
		ID:         uuid.NewString(),
		Kind:       KindCatalog,
		ProductRef: productRef,
		Name:       name,
		Quantity:   1,
		UnitPrice:  unitPrice,
	}
}

// NewFreeformItem creates a row without a catalog reference.
func NewFreeformItem(name string, quantity int, unitPrice decimal.Decimal) Item {
	return Item{
		ID:        uuid.NewString(),
		Kind:      KindFreeform,
		Name:      strings.TrimSpace(name),
		Quantity:  quantity,
		UnitPrice: unitPrice,
	}
}

// CatalogBound reports whether the row references a catalog product.
func (i Item) CatalogBound() bool { return i.Kind == KindCatalog }

// LineTotal returns quantity × unit price without rounding.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Validate checks the row shape; stock bounds are not checked here.
func (i Item) Validate() error {
	switch {
	case i.ID == "":
		return errors.Join(ErrInvalidItem, errors.New("id required"))
	case i.Kind != KindCatalog && i.Kind != KindFreeform:
		return errors.Join(ErrInvalidItem, errors.New("unknown kind"))
	case i.Kind == KindCatalog && i.ProductRef == "":
		return errors.Join(ErrInvalidItem, errors.New("catalog row without product"))
	case i.Kind == KindFreeform && i.ProductRef != "":
		return errors.Join(ErrInvalidItem, errors.New("free-form row with product"))
	case strings.TrimSpace(i.Name) == "":
		return errors.Join(ErrInvalidItem, errors.New("name required"))
	case i.Quantity < 1:
		return errors.Join(ErrInvalidItem, errors.New("quantity must be positive"))
	case i.UnitPrice.IsNegative():
		return errors.Join(ErrInvalidItem, errors.New("price must be >= 0"))
	}
	return nil
}
