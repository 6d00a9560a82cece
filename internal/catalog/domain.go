// Package catalog holds the product snapshot published by the inventory service.
package catalog

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Product is a sellable item as reported by the inventory service.
type Product struct {
	ID        string
	Name      string
	UnitPrice decimal.Decimal
	Stock     int
}

// Source fetches the complete product list from upstream.
type Source interface {
	Fetch(ctx context.Context) ([]Product, error)
}

// ErrCatalogUnavailable is returned when the product list cannot be fetched or parsed.
var ErrCatalogUnavailable = errors.New("catalog: unavailable")

// ErrProductNotFound indicates the product id is not part of the current snapshot.
var ErrProductNotFound = errors.New("catalog: product not found")
