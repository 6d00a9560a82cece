package invoice

import (
	"errors"

	"github.com/odyssey-erp/invoicer/internal/catalog"
)

// Engine errors. Validation failures never modify the ledger.
var (
	ErrDuplicateProduct    = errors.New("invoice: product already on invoice")
	ErrInvalidInput        = errors.New("invoice: invalid input")
	ErrStockExceeded       = errors.New("invoice: quantity exceeds available stock")
	ErrLineItemNotFound    = errors.New("invoice: line item not found")
	ErrMinimumItemsReached = errors.New("invoice: minimum number of line items reached")
	ErrFreeformDisabled    = errors.New("invoice: free-form items are disabled")
	ErrCatalogBound        = errors.New("invoice: catalog-bound item is not editable")
	ErrEmptyInvoice        = errors.New("invoice: no line items")

	// ErrProductNotFound and ErrCatalogUnavailable are the catalog sentinels.
	ErrProductNotFound    = catalog.ErrProductNotFound
	ErrCatalogUnavailable = catalog.ErrCatalogUnavailable
)
