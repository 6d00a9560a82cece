package invoice

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/invoicer/internal/catalog"
	"github.com/odyssey-erp/invoicer/internal/document"
	"github.com/odyssey-erp/invoicer/internal/draft"
	"github.com/odyssey-erp/invoicer/internal/ledger"
)

type stubSource struct {
	products []catalog.Product
	err      error
}

func (s *stubSource) Fetch(context.Context) ([]catalog.Product, error) {
	if s.err != nil {
		return nil, s.err
	}
	return append([]catalog.Product(nil), s.products...), nil
}

type stubRenderer struct {
	requests []document.Request
	err      error
}

func (r *stubRenderer) Generate(_ context.Context, req document.Request) (*document.Document, error) {
	r.requests = append(r.requests, req)
	if r.err != nil {
		return nil, r.err
	}
	return &document.Document{ContentType: "application/pdf", Body: io.NopCloser(strings.NewReader("%PDF"))}, nil
}

type recordedReasons struct {
	reasons []string
}

func (r *recordedReasons) EngineRejected(reason string) { r.reasons = append(r.reasons, reason) }

func (r *recordedReasons) CatalogRefreshed(int, error) {}

func (r *recordedReasons) DocumentGenerated(error) {}

func catalogProducts() []catalog.Product {
	return []catalog.Product{
		{ID: "P1", Name: "Widget", UnitPrice: decimal.NewFromInt(100), Stock: 5},
		{ID: "P2", Name: "Gadget", UnitPrice: decimal.RequireFromString("12.50"), Stock: 0},
		{ID: "P3", Name: "Bolt", UnitPrice: decimal.RequireFromString("0.10"), Stock: 40},
	}
}

type fixture struct {
	engine   *Engine
	source   *stubSource
	store    *draft.Adapter
	kv       *draft.MemoryKV
	renderer *stubRenderer
	recorder *recordedReasons
}

func newFixture(t *testing.T, load bool) *fixture {
	t.Helper()
	source := &stubSource{products: catalogProducts()}
	kv := draft.NewMemoryKV()
	store := draft.NewAdapter(kv, decimal.NewFromInt(17), nil, nil)
	renderer := &stubRenderer{}
	recorder := &recordedReasons{}
	engine := NewEngine(Config{
		DefaultTaxRate: decimal.NewFromInt(17),
		AllowFreeform:  true,
		LowStockLevel:  5,
	}, Dependencies{
		Catalog:  catalog.NewStore(source),
		Store:    store,
		Renderer: renderer,
		Recorder: recorder,
	})
	if load {
		_, err := engine.RefreshCatalog(context.Background())
		require.NoError(t, err)
	}
	return &fixture{engine: engine, source: source, store: store, kv: kv, renderer: renderer, recorder: recorder}
}

func selectableIDs(products []Selectable) []string {
	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestScenarioAddFromCatalog(t *testing.T) {
	f := newFixture(t, true)

	item, err := f.engine.AddFromCatalog(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, 1, item.Quantity)
	assert.Equal(t, "P1", item.ProductRef)
	assert.True(t, item.UnitPrice.Equal(decimal.NewFromInt(100)))

	state := f.engine.State()
	require.Len(t, state.Items, 1)
	assert.True(t, state.Totals.Subtotal.Equal(decimal.NewFromInt(100)))
	assert.NotContains(t, selectableIDs(state.Selectable), "P1")
}

func TestScenarioGrandTotalWithTax(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.engine.AddFromCatalog(context.Background(), "P1")
	require.NoError(t, err)

	totals := f.engine.RecomputeTotals()
	assert.True(t, totals.TaxAmount.Equal(decimal.NewFromInt(17)))
	assert.Equal(t, "117.00", totals.Rounded().GrandTotal.StringFixed(2))
}

func TestScenarioDuplicateProduct(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := f.engine.AddFromCatalog(ctx, "P1")
	require.NoError(t, err)

	_, err = f.engine.AddFromCatalog(ctx, "P1")
	require.ErrorIs(t, err, ErrDuplicateProduct)
	assert.Len(t, f.engine.State().Items, 1)
	assert.Equal(t, []string{"duplicate_product"}, f.recorder.reasons)
}

func TestScenarioStockExceeded(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	item, err := f.engine.AddFromCatalog(ctx, "P1")
	require.NoError(t, err)
	_, err = f.engine.UpdateQuantity(ctx, item.ID, 4)
	require.NoError(t, err)

	_, err = f.engine.UpdateQuantity(ctx, item.ID, 6)
	require.ErrorIs(t, err, ErrStockExceeded)

	state := f.engine.State()
	require.Len(t, state.Items, 1)
	assert.Equal(t, 4, state.Items[0].Quantity)

	_, err = f.engine.UpdateQuantity(ctx, item.ID, 5)
	require.NoError(t, err)
}

func TestScenarioRemoveMakesProductSelectable(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	item, err := f.engine.AddFromCatalog(ctx, "P1")
	require.NoError(t, err)
	require.NotContains(t, selectableIDs(f.engine.SelectableProducts("")), "P1")

	_, err = f.engine.RemoveItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P2", "P3"}, selectableIDs(f.engine.SelectableProducts("")))
}

func TestAddFromCatalogBeforeLoad(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.engine.AddFromCatalog(context.Background(), "P1")
	require.ErrorIs(t, err, ErrProductNotFound)
	assert.False(t, f.engine.State().CatalogReady)

	_, err = f.engine.AddFreeform(context.Background(), "Labour", 2, decimal.NewFromInt(30))
	require.NoError(t, err)
}

func TestAddFromCatalogOutOfStock(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.engine.AddFromCatalog(context.Background(), "P2")
	require.ErrorIs(t, err, ErrStockExceeded)
	assert.Empty(t, f.engine.State().Items)
}

func TestAddFreeformValidation(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	cases := []struct {
		name     string
		itemName string
		quantity int
		price    decimal.Decimal
	}{
		{"blank name", "  ", 1, decimal.NewFromInt(1)},
		{"zero quantity", "Labour", 0, decimal.NewFromInt(1)},
		{"negative price", "Labour", 1, decimal.NewFromInt(-1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.AddFreeform(ctx, tc.itemName, tc.quantity, tc.price)
			require.ErrorIs(t, err, ErrInvalidInput)
		})
	}
	assert.Empty(t, f.engine.State().Items)

	a, err := f.engine.AddFreeform(ctx, "Labour", 1, decimal.Zero)
	require.NoError(t, err)
	b, err := f.engine.AddFreeform(ctx, "Labour", 1000, decimal.Zero)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, ledger.KindFreeform, a.Kind)
}

func TestAddFreeformDisabled(t *testing.T) {
	engine := NewEngine(Config{DefaultTaxRate: decimal.NewFromInt(17)}, Dependencies{
		Catalog: catalog.NewStore(&stubSource{}),
		Store:   draft.NewAdapter(draft.NewMemoryKV(), decimal.NewFromInt(17), nil, nil),
	})
	_, err := engine.AddFreeform(context.Background(), "Labour", 1, decimal.NewFromInt(5))
	require.ErrorIs(t, err, ErrFreeformDisabled)
}

func TestRemoveItem(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.engine.RemoveItem(ctx, "missing")
	require.ErrorIs(t, err, ErrLineItemNotFound)

	item, err := f.engine.AddFreeform(ctx, "Labour", 1, decimal.NewFromInt(5))
	require.NoError(t, err)

	_, err = f.engine.RemoveItem(ctx, item.ID, RequireMinimumItems(1))
	require.ErrorIs(t, err, ErrMinimumItemsReached)
	require.Len(t, f.engine.State().Items, 1)

	removed, err := f.engine.RemoveItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, removed.ID)
	assert.Empty(t, f.engine.State().Items)
}

func TestUpdateItem(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	bound, err := f.engine.AddFromCatalog(ctx, "P3")
	require.NoError(t, err)
	free, err := f.engine.AddFreeform(ctx, "Labour", 1, decimal.NewFromInt(5))
	require.NoError(t, err)

	_, err = f.engine.UpdateFreeform(ctx, bound.ID, "Renamed", decimal.NewFromInt(1))
	require.ErrorIs(t, err, ErrCatalogBound)

	_, err = f.engine.UpdateQuantity(ctx, bound.ID, 0)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.engine.UpdateQuantity(ctx, "missing", 2)
	require.ErrorIs(t, err, ErrLineItemNotFound)

	updated, err := f.engine.UpdateFreeform(ctx, free.ID, " Consulting ", decimal.RequireFromString("80.25"))
	require.NoError(t, err)
	assert.Equal(t, "Consulting", updated.Name)
	assert.Equal(t, free.ID, updated.ID)

	qty := 3
	blank := ""
	_, err = f.engine.UpdateItem(ctx, free.ID, ItemPatch{Quantity: &qty, Name: &blank})
	require.ErrorIs(t, err, ErrInvalidInput)

	state := f.engine.State()
	require.Len(t, state.Items, 2)
	assert.Equal(t, 1, state.Items[1].Quantity)
	assert.Equal(t, "Consulting", state.Items[1].Name)

	_, err = f.engine.UpdateQuantity(ctx, free.ID, 10000)
	require.NoError(t, err)
}

func TestUpdateQuantityAfterProductLeavesCatalog(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	item, err := f.engine.AddFromCatalog(ctx, "P1")
	require.NoError(t, err)

	f.source.products = f.source.products[1:]
	_, err = f.engine.RefreshCatalog(ctx)
	require.NoError(t, err)

	state := f.engine.State()
	require.Len(t, state.Items, 1, "refresh must not touch the ledger")

	_, err = f.engine.UpdateQuantity(ctx, item.ID, 2)
	require.ErrorIs(t, err, ErrProductNotFound)
}

func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	f := newFixture(t, true)
	f.source.err = errors.New("connection refused")

	_, err := f.engine.RefreshCatalog(context.Background())
	require.ErrorIs(t, err, ErrCatalogUnavailable)
	assert.True(t, f.engine.State().CatalogReady)
	assert.Len(t, f.engine.SelectableProducts(""), 3)
}

func TestRates(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.ErrorIs(t, f.engine.SetTaxRate(ctx, decimal.NewFromInt(101)), ErrInvalidInput)
	require.ErrorIs(t, f.engine.SetTaxRate(ctx, decimal.NewFromInt(-1)), ErrInvalidInput)
	require.ErrorIs(t, f.engine.SetDiscountRate(ctx, decimal.NewFromInt(150)), ErrInvalidInput)

	_, err := f.engine.AddFromCatalog(ctx, "P1")
	require.NoError(t, err)
	require.NoError(t, f.engine.SetDiscountRate(ctx, decimal.NewFromInt(10)))
	require.NoError(t, f.engine.SetTaxRate(ctx, decimal.NewFromInt(10)))

	totals := f.engine.RecomputeTotals()
	assert.True(t, totals.DiscountAmount.Equal(decimal.NewFromInt(10)))
	assert.True(t, totals.TaxAmount.Equal(decimal.NewFromInt(9)))
	assert.True(t, totals.GrandTotal.Equal(decimal.NewFromInt(99)))
}

func TestSetFormFields(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	err := f.engine.SetFormFields(ctx, map[string]string{FieldCustomerName: "Acme", "favourite_colour": "red"})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, f.engine.State().FormFields)

	require.NoError(t, f.engine.SetFormFields(ctx, map[string]string{FieldCustomerName: "Acme", FieldVendorName: "Shop"}))
	require.NoError(t, f.engine.SetFormFields(ctx, map[string]string{FieldVendorName: ""}))
	assert.Equal(t, map[string]string{FieldCustomerName: "Acme"}, f.engine.State().FormFields)
}

func TestSelectableProductsSearchAndHints(t *testing.T) {
	f := newFixture(t, true)

	products := f.engine.SelectableProducts("GAD")
	require.Len(t, products, 1)
	assert.Equal(t, "P2", products[0].ID)
	assert.True(t, products[0].OutOfStock)
	assert.False(t, products[0].LowStock)

	all := f.engine.SelectableProducts("")
	require.Len(t, all, 3)
	assert.True(t, all[0].LowStock)
	assert.False(t, all[2].LowStock)
}

func TestPersistRestoreRoundTrip(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := f.engine.AddFromCatalog(ctx, "P1")
	require.NoError(t, err)
	_, err = f.engine.AddFreeform(ctx, "Labour", 3, decimal.RequireFromString("33.335"))
	require.NoError(t, err)
	require.NoError(t, f.engine.SetTaxRate(ctx, decimal.RequireFromString("12.5")))
	require.NoError(t, f.engine.SetFormFields(ctx, map[string]string{FieldCustomerName: "Acme"}))
	before := f.engine.State()

	restored := NewEngine(Config{DefaultTaxRate: decimal.NewFromInt(17)}, Dependencies{
		Catalog: catalog.NewStore(f.source),
		Store:   f.store,
	})
	require.True(t, restored.Restore(ctx))
	after := restored.State()

	require.Len(t, after.Items, len(before.Items))
	for i := range before.Items {
		assert.Equal(t, before.Items[i].ID, after.Items[i].ID)
		assert.Equal(t, before.Items[i].Kind, after.Items[i].Kind)
		assert.Equal(t, before.Items[i].ProductRef, after.Items[i].ProductRef)
		assert.Equal(t, before.Items[i].Quantity, after.Items[i].Quantity)
		assert.True(t, before.Items[i].UnitPrice.Equal(after.Items[i].UnitPrice))
	}
	assert.True(t, before.TaxRate.Equal(after.TaxRate))
	assert.Equal(t, before.FormFields, after.FormFields)
	assert.True(t, before.Totals.Equal(after.Totals))
}

func TestRestoreMalformedDraftStartsEmpty(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, f.kv.Set(ctx, draft.KeyDraft, []byte(`{"lineItems": "nope"}`)))

	require.False(t, f.engine.Restore(ctx))
	state := f.engine.State()
	assert.Empty(t, state.Items)
	assert.True(t, state.TaxRate.Equal(decimal.NewFromInt(17)))
}

func TestReset(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := f.engine.AddFromCatalog(ctx, "P1")
	require.NoError(t, err)
	require.NoError(t, f.engine.SetTaxRate(ctx, decimal.NewFromInt(5)))
	f.store.AppendHistory(ctx, draft.HistoryEntry{ID: "h1"})

	f.engine.Reset(ctx)

	state := f.engine.State()
	assert.Empty(t, state.Items)
	assert.True(t, state.TaxRate.Equal(decimal.NewFromInt(17)))
	assert.Empty(t, f.engine.History(ctx))
	_, err = f.kv.Get(ctx, draft.KeyDraft)
	assert.ErrorIs(t, err, draft.ErrKeyNotFound)
}

func TestGenerate(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.engine.Generate(ctx)
	require.ErrorIs(t, err, ErrEmptyInvoice)

	_, err = f.engine.AddFromCatalog(ctx, "P1")
	require.NoError(t, err)
	require.NoError(t, f.engine.SetFormFields(ctx, map[string]string{FieldCustomerName: "Acme"}))

	doc, err := f.engine.Generate(ctx)
	require.NoError(t, err)
	require.NoError(t, doc.Body.Close())

	require.Len(t, f.renderer.requests, 1)
	req := f.renderer.requests[0]
	assert.Equal(t, "INV-00001", req.InvoiceNumber)
	assert.Equal(t, "117.00", req.GrandTotal.String())
	assert.Equal(t, "100.00", req.Items[0].Price.String())
	assert.Equal(t, "17", req.TaxRate.String())
	assert.Equal(t, "INV-00001", f.engine.State().FormFields[FieldInvoiceNumber])

	history := f.engine.History(ctx)
	require.Len(t, history, 1)
	assert.Equal(t, "INV-00001", history[0].InvoiceNumber)
	assert.Equal(t, "Acme", history[0].CustomerName)
	assert.True(t, history[0].Amount.Equal(decimal.NewFromInt(117)))
}

func TestGenerateRevalidatesStock(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	item, err := f.engine.AddFromCatalog(ctx, "P1")
	require.NoError(t, err)
	_, err = f.engine.UpdateQuantity(ctx, item.ID, 5)
	require.NoError(t, err)

	f.source.products[0].Stock = 2
	_, err = f.engine.RefreshCatalog(ctx)
	require.NoError(t, err)

	_, err = f.engine.Generate(ctx)
	require.ErrorIs(t, err, ErrStockExceeded)
	assert.Empty(t, f.renderer.requests)
	assert.Empty(t, f.engine.History(ctx))
}

func TestGenerateFailureRecordsNoHistory(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.renderer.err = document.ErrGenerationFailed
	_, err := f.engine.AddFreeform(ctx, "Labour", 1, decimal.NewFromInt(10))
	require.NoError(t, err)

	_, err = f.engine.Generate(ctx)
	require.ErrorIs(t, err, document.ErrGenerationFailed)
	assert.Empty(t, f.engine.History(ctx))
}

func TestUniquenessAndStockUnderRandomOperations(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	ids := []string{"P1", "P2", "P3", "P4"}
	stock := map[string]int{"P1": 5, "P2": 0, "P3": 40}

	for i := 0; i < 500; i++ {
		state := f.engine.State()
		switch rng.Intn(3) {
		case 0:
			_, _ = f.engine.AddFromCatalog(ctx, ids[rng.Intn(len(ids))])
		case 1:
			if len(state.Items) > 0 {
				_, _ = f.engine.RemoveItem(ctx, state.Items[rng.Intn(len(state.Items))].ID)
			}
		case 2:
			if len(state.Items) > 0 {
				_, _ = f.engine.UpdateQuantity(ctx, state.Items[rng.Intn(len(state.Items))].ID, rng.Intn(50))
			}
		}

		state = f.engine.State()
		seen := map[string]bool{}
		for _, item := range state.Items {
			require.False(t, seen[item.ProductRef], "duplicate product %s", item.ProductRef)
			seen[item.ProductRef] = true
			require.LessOrEqual(t, item.Quantity, stock[item.ProductRef])
			require.NotContains(t, selectableIDs(state.Selectable), item.ProductRef)
		}
		require.Len(t, state.Selectable, 3-len(state.Items))
		require.True(t, state.Totals.Equal(f.engine.RecomputeTotals()))
	}
}
