// Package invoice reconciles the invoice ledger with the product catalog.
package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/invoicer/internal/catalog"
	"github.com/odyssey-erp/invoicer/internal/document"
	"github.com/odyssey-erp/invoicer/internal/draft"
	"github.com/odyssey-erp/invoicer/internal/ledger"
)

// Catalog is the read side of the product snapshot plus its refresh.
type Catalog interface {
	Snapshot() *catalog.Snapshot
	Load(ctx context.Context) ([]catalog.Product, error)
}

// Persister stores drafts, history and the invoice sequence.
type Persister interface {
	Save(ctx context.Context, snap draft.Snapshot)
	Load(ctx context.Context) (draft.Snapshot, bool)
	Clear(ctx context.Context)
	AppendHistory(ctx context.Context, entry draft.HistoryEntry)
	History(ctx context.Context) []draft.HistoryEntry
	NextInvoiceNumber(ctx context.Context) (string, error)
}

// Renderer produces the invoice document.
type Renderer interface {
	Generate(ctx context.Context, req document.Request) (*document.Document, error)
}

// Recorder observes engine outcomes.
type Recorder interface {
	EngineRejected(reason string)
	CatalogRefreshed(products int, err error)
	DocumentGenerated(err error)
}

// Config tunes engine policy.
type Config struct {
	DefaultTaxRate decimal.Decimal
	AllowFreeform  bool
	LowStockLevel  int
}

// Dependencies are the collaborators of the engine. Renderer and Recorder are optional.
type Dependencies struct {
	Catalog  Catalog
	Store    Persister
	Renderer Renderer
	Recorder Recorder
	Logger   *slog.Logger
}

// Engine is the sole mutator of the ledger. Every operation is serialized by a
// single mutex; validation failures leave the ledger unchanged.
type Engine struct {
	mu           sync.Mutex
	items        *ledger.Ledger
	taxRate      decimal.Decimal
	discountRate decimal.Decimal
	fields       map[string]string

	cfg      Config
	catalog  Catalog
	store    Persister
	renderer Renderer
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine constructs an engine with an empty ledger.
func NewEngine(cfg Config, deps Dependencies) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Engine{
		items:        ledger.New(),
		taxRate:      cfg.DefaultTaxRate,
		discountRate: decimal.Zero,
		fields:       map[string]string{},
		cfg:          cfg,
		catalog:      deps.Catalog,
		store:        deps.Store,
		renderer:     deps.Renderer,
		recorder:     recorder,
		logger:       logger,
		now:          time.Now,
	}
}

// AddFromCatalog appends the product with quantity 1 at its current price.
func (e *Engine) AddFromCatalog(ctx context.Context, productID string) (ledger.Item, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	productID = strings.TrimSpace(productID)
	if productID == "" {
		return ledger.Item{}, e.reject(fmt.Errorf("%w: product id required", ErrInvalidInput))
	}
	if _, used := e.usedProductIDsLocked()[productID]; used {
		return ledger.Item{}, e.reject(fmt.Errorf("%w: %s", ErrDuplicateProduct, productID))
	}
	product, err := e.catalog.Snapshot().FindByID(productID)
	if err != nil {
		return ledger.Item{}, e.reject(err)
	}
	if product.Stock < 1 {
		return ledger.Item{}, e.reject(fmt.Errorf("%w: %s is out of stock", ErrStockExceeded, productID))
	}
	item := ledger.NewCatalogItem(product.ID, product.Name, product.UnitPrice)
	if err := e.items.Append(item); err != nil {
		return ledger.Item{}, err
	}
	e.persistLocked(ctx)
	return item, nil
}

// AddFreeform appends a row that is not bound to the catalog.
func (e *Engine) AddFreeform(ctx context.Context, name string, quantity int, price decimal.Decimal) (ledger.Item, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.cfg.AllowFreeform {
		return ledger.Item{}, e.reject(ErrFreeformDisabled)
	}
	item := ledger.NewFreeformItem(name, quantity, price)
	if err := item.Validate(); err != nil {
		return ledger.Item{}, e.reject(fmt.Errorf("%w: %w", ErrInvalidInput, err))
	}
	if err := e.items.Append(item); err != nil {
		return ledger.Item{}, err
	}
	e.persistLocked(ctx)
	return item, nil
}

// RemoveOption guards a removal at the call site.
type RemoveOption func(*removeOptions)

type removeOptions struct {
	minItems int
}

// RequireMinimumItems rejects a removal that would leave fewer than n rows.
func RequireMinimumItems(n int) RemoveOption {
	return func(o *removeOptions) {
		o.minItems = n
	}
}

// RemoveItem deletes a row. A removed catalog product becomes selectable again.
func (e *Engine) RemoveItem(ctx context.Context, itemID string, opts ...RemoveOption) (ledger.Item, error) {
	var o removeOptions
	for _, opt := range opts {
		opt(&o)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.items.Get(itemID); !ok {
		return ledger.Item{}, e.reject(fmt.Errorf("%w: %s", ErrLineItemNotFound, itemID))
	}
	if e.items.Len()-1 < o.minItems {
		return ledger.Item{}, e.reject(fmt.Errorf("%w: at least %d required", ErrMinimumItemsReached, o.minItems))
	}
	removed, _ := e.items.Remove(itemID)
	e.persistLocked(ctx)
	return removed, nil
}

// ItemPatch lists the fields to change on a row. Nil fields are kept.
type ItemPatch struct {
	Quantity  *int
	Name      *string
	UnitPrice *decimal.Decimal
}

// UpdateQuantity sets the quantity of a row, bounded by stock for catalog rows.
func (e *Engine) UpdateQuantity(ctx context.Context, itemID string, quantity int) (ledger.Item, error) {
	return e.UpdateItem(ctx, itemID, ItemPatch{Quantity: &quantity})
}

// UpdateFreeform changes the name and price of a free-form row.
func (e *Engine) UpdateFreeform(ctx context.Context, itemID, name string, price decimal.Decimal) (ledger.Item, error) {
	return e.UpdateItem(ctx, itemID, ItemPatch{Name: &name, UnitPrice: &price})
}

// UpdateItem applies patch atomically: either every field changes or none does.
func (e *Engine) UpdateItem(ctx context.Context, itemID string, patch ItemPatch) (ledger.Item, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	updated, err := e.items.Update(itemID, func(item *ledger.Item) error {
		if item.CatalogBound() && (patch.Name != nil || patch.UnitPrice != nil) {
			return fmt.Errorf("%w: %s", ErrCatalogBound, item.ID)
		}
		if patch.Name != nil {
			item.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.UnitPrice != nil {
			item.UnitPrice = *patch.UnitPrice
		}
		if patch.Quantity != nil {
			if *patch.Quantity < 1 {
				return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidInput)
			}
			if item.CatalogBound() {
				product, err := e.catalog.Snapshot().FindByID(item.ProductRef)
				if err != nil {
					return err
				}
				if *patch.Quantity > product.Stock {
					return fmt.Errorf("%w: %s has %d available", ErrStockExceeded, product.ID, product.Stock)
				}
			}
			item.Quantity = *patch.Quantity
		}
		if err := item.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return nil
	})
	if errors.Is(err, ledger.ErrItemNotFound) {
		return ledger.Item{}, e.reject(fmt.Errorf("%w: %s", ErrLineItemNotFound, itemID))
	}
	if err != nil {
		return ledger.Item{}, e.reject(err)
	}
	e.persistLocked(ctx)
	return updated, nil
}

// SetTaxRate sets the tax percentage (0 to 100).
func (e *Engine) SetTaxRate(ctx context.Context, rate decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validateRate(rate); err != nil {
		return e.reject(err)
	}
	e.taxRate = rate
	e.persistLocked(ctx)
	return nil
}

// SetDiscountRate sets the discount percentage (0 to 100), applied before tax.
func (e *Engine) SetDiscountRate(ctx context.Context, rate decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validateRate(rate); err != nil {
		return e.reject(err)
	}
	e.discountRate = rate
	e.persistLocked(ctx)
	return nil
}

// SetFormFields merges known form fields. An empty value clears the field.
func (e *Engine) SetFormFields(ctx context.Context, fields map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var unknown []string
	for key := range fields {
		if !KnownField(key) {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return e.reject(fmt.Errorf("%w: unknown fields %s", ErrInvalidInput, strings.Join(unknown, ", ")))
	}
	for key, value := range fields {
		if strings.TrimSpace(value) == "" {
			delete(e.fields, key)
			continue
		}
		e.fields[key] = value
	}
	e.persistLocked(ctx)
	return nil
}

// RecomputeTotals derives the totals from the current ledger.
func (e *Engine) RecomputeTotals() Totals {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ComputeTotals(e.items.All(), e.taxRate, e.discountRate)
}

// Selectable is a catalog product that is not on the invoice yet.
type Selectable struct {
	catalog.Product
	LowStock   bool
	OutOfStock bool
}

// SelectableProducts lists catalog products not referenced by the ledger, in
// catalog order. query filters by a case-insensitive match on name or id.
func (e *Engine) SelectableProducts(query string) []Selectable {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selectableLocked(query)
}

// State is a consistent view of the invoice.
type State struct {
	Items           []ledger.Item
	Totals          Totals
	TaxRate         decimal.Decimal
	DiscountRate    decimal.Decimal
	FormFields      map[string]string
	Selectable      []Selectable
	CatalogReady    bool
	CatalogLoadedAt time.Time
}

// State returns the invoice as seen under the engine lock.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	items := e.items.All()
	snap := e.catalog.Snapshot()
	return State{
		Items:           items,
		Totals:          ComputeTotals(items, e.taxRate, e.discountRate),
		TaxRate:         e.taxRate,
		DiscountRate:    e.discountRate,
		FormFields:      e.copyFieldsLocked(),
		Selectable:      e.selectableLocked(""),
		CatalogReady:    snap.Ready(),
		CatalogLoadedAt: snap.LoadedAt(),
	}
}

// Reset clears the invoice and the persisted draft and history.
func (e *Engine) Reset(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.items.Reset()
	e.taxRate = e.cfg.DefaultTaxRate
	e.discountRate = decimal.Zero
	e.fields = map[string]string{}
	e.store.Clear(context.WithoutCancel(ctx))
}

// Restore replaces the invoice with the persisted draft. Missing or malformed
// drafts yield an empty invoice. It reports whether a draft was restored.
func (e *Engine) Restore(ctx context.Context) bool {
	snap, ok := e.store.Load(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.items.Reset()
	for _, item := range snap.Items {
		if err := e.items.Append(item); err != nil {
			e.logger.Warn("skip restored line item", slog.String("id", item.ID), slog.Any("error", err))
		}
	}
	e.taxRate = snap.TaxRate
	e.discountRate = snap.DiscountRate
	e.fields = snap.FormFields
	if e.fields == nil {
		e.fields = map[string]string{}
	}
	if ok {
		e.logger.Info("invoice draft restored", slog.Int("items", e.items.Len()))
	}
	return ok
}

// RefreshCatalog reloads the product snapshot. The ledger is never touched, so a
// late response merges without discarding edits.
func (e *Engine) RefreshCatalog(ctx context.Context) (int, error) {
	products, err := e.catalog.Load(ctx)
	e.recorder.CatalogRefreshed(len(products), err)
	if err != nil {
		e.logger.Warn("catalog refresh failed", slog.Any("error", err))
		return 0, err
	}
	e.logger.Info("catalog refreshed", slog.Int("products", len(products)))
	return len(products), nil
}

// History lists generated invoices, most recent first.
func (e *Engine) History(ctx context.Context) []draft.HistoryEntry {
	return e.store.History(ctx)
}

// DocumentRequest serializes the invoice into the generate-pdf body.
func (e *Engine) DocumentRequest() document.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	req, _ := e.documentRequestLocked()
	return req
}

// Generate revalidates stock, assigns an invoice number when none is set and
// renders the document. A history entry is recorded on success.
func (e *Engine) Generate(ctx context.Context) (*document.Document, error) {
	if e.renderer == nil {
		return nil, fmt.Errorf("%w: no renderer configured", document.ErrGenerationFailed)
	}
	req, totals, err := e.prepareDocument(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := e.renderer.Generate(ctx, req)
	e.recorder.DocumentGenerated(err)
	if err != nil {
		e.logger.Warn("document generation failed", slog.String("invoice_number", req.InvoiceNumber), slog.Any("error", err))
		return nil, err
	}
	if doc.Filename == "" {
		doc.Filename = req.InvoiceNumber + ".pdf"
	}

	e.mu.Lock()
	e.store.AppendHistory(context.WithoutCancel(ctx), draft.HistoryEntry{
		ID:            uuid.NewString(),
		InvoiceNumber: req.InvoiceNumber,
		CustomerName:  req.CustomerName,
		Amount:        totals.GrandTotal.Round(2),
		Date:          e.now().UTC(),
	})
	e.mu.Unlock()
	return doc, nil
}

func (e *Engine) prepareDocument(ctx context.Context) (document.Request, Totals, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.items.Len() == 0 {
		return document.Request{}, Totals{}, e.reject(ErrEmptyInvoice)
	}
	snap := e.catalog.Snapshot()
	for _, item := range e.items.All() {
		if !item.CatalogBound() {
			continue
		}
		product, err := snap.FindByID(item.ProductRef)
		if err != nil {
			// Quantity was checked when it was set; an unavailable catalog cannot refute it.
			continue
		}
		if item.Quantity > product.Stock {
			return document.Request{}, Totals{}, e.reject(fmt.Errorf("%w: %s has %d available, invoice has %d",
				ErrStockExceeded, product.ID, product.Stock, item.Quantity))
		}
	}

	if strings.TrimSpace(e.fields[FieldInvoiceNumber]) == "" {
		number, err := e.store.NextInvoiceNumber(ctx)
		if err != nil {
			number = fmt.Sprintf("INV-%d", e.now().Unix())
		}
		e.fields[FieldInvoiceNumber] = number
		e.persistLocked(ctx)
	}
	req, totals := e.documentRequestLocked()
	return req, totals, nil
}

func (e *Engine) documentRequestLocked() (document.Request, Totals) {
	items := e.items.All()
	totals := ComputeTotals(items, e.taxRate, e.discountRate)
	rounded := totals.Rounded()
	req := document.Request{
		VendorName:      e.fields[FieldVendorName],
		VendorAddress:   e.fields[FieldVendorAddress],
		VendorPhone:     e.fields[FieldVendorPhone],
		CustomerName:    e.fields[FieldCustomerName],
		CustomerAddress: e.fields[FieldCustomerAddress],
		CustomerPhone:   e.fields[FieldCustomerPhone],
		InvoiceNumber:   e.fields[FieldInvoiceNumber],
		InvoiceDate:     e.fields[FieldInvoiceDate],
		DueDate:         e.fields[FieldDueDate],
		Notes:           e.fields[FieldNotes],
		LogoFilename:    e.fields[FieldLogoFilename],
		TaxRate:         document.Rate(e.taxRate),
		Items:           make([]document.Item, 0, len(items)),
		Subtotal:        document.Money(rounded.Subtotal),
		TaxAmount:       document.Money(rounded.TaxAmount),
		GrandTotal:      document.Money(rounded.GrandTotal),
	}
	if !e.discountRate.IsZero() {
		req.DiscountRate = document.Rate(e.discountRate)
		req.DiscountAmount = document.Money(rounded.DiscountAmount)
	}
	for _, item := range items {
		req.Items = append(req.Items, document.Item{
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    document.Money(item.UnitPrice),
		})
	}
	return req, totals
}

func (e *Engine) usedProductIDsLocked() map[string]struct{} {
	used := make(map[string]struct{})
	for _, item := range e.items.All() {
		if item.CatalogBound() {
			used[item.ProductRef] = struct{}{}
		}
	}
	return used
}

func (e *Engine) selectableLocked(query string) []Selectable {
	query = strings.ToLower(strings.TrimSpace(query))
	products := e.catalog.Snapshot().Excluding(e.usedProductIDsLocked())
	out := make([]Selectable, 0, len(products))
	for _, p := range products {
		if query != "" && !strings.Contains(strings.ToLower(p.Name), query) && !strings.Contains(strings.ToLower(p.ID), query) {
			continue
		}
		out = append(out, Selectable{
			Product:    p,
			LowStock:   p.Stock > 0 && p.Stock <= e.cfg.LowStockLevel,
			OutOfStock: p.Stock == 0,
		})
	}
	return out
}

func (e *Engine) copyFieldsLocked() map[string]string {
	out := make(map[string]string, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}
	return out
}

func (e *Engine) snapshotLocked() draft.Snapshot {
	return draft.Snapshot{
		Items:        e.items.All(),
		TaxRate:      e.taxRate,
		DiscountRate: e.discountRate,
		FormFields:   e.copyFieldsLocked(),
	}
}

// persistLocked saves within the critical section so snapshots land in mutation order.
func (e *Engine) persistLocked(ctx context.Context) {
	e.store.Save(context.WithoutCancel(ctx), e.snapshotLocked())
}

func (e *Engine) reject(err error) error {
	reason := Reason(err)
	e.recorder.EngineRejected(reason)
	e.logger.Debug("invoice operation rejected", slog.String("reason", reason), slog.Any("error", err))
	return err
}

func validateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return fmt.Errorf("%w: rate must be between 0 and 100", ErrInvalidInput)
	}
	return nil
}

// Reason classifies an engine error for metrics and API responses.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateProduct):
		return "duplicate_product"
	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, ErrStockExceeded):
		return "stock_exceeded"
	case errors.Is(err, ErrLineItemNotFound):
		return "line_item_not_found"
	case errors.Is(err, ErrMinimumItemsReached):
		return "minimum_items_reached"
	case errors.Is(err, ErrFreeformDisabled):
		return "freeform_disabled"
	case errors.Is(err, ErrCatalogBound):
		return "catalog_bound"
	case errors.Is(err, ErrEmptyInvoice):
		return "empty_invoice"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrCatalogUnavailable):
		return "catalog_unavailable"
	case errors.Is(err, document.ErrGenerationFailed):
		return "generation_failed"
	default:
		return "internal"
	}
}

type nopRecorder struct{}

func (nopRecorder) EngineRejected(string) {}

func (nopRecorder) CatalogRefreshed(int, error) {}

func (nopRecorder) DocumentGenerated(error) {}
