package draft

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/invoicer/internal/ledger"
)

var defaultTax = decimal.NewFromInt(17)

type failingKV struct {
	err error
}

func (f failingKV) Get(context.Context, string) ([]byte, error) { return nil, f.err }
func (f failingKV) Set(context.Context, string, []byte) error { return f.err }
func (f failingKV) Delete(context.Context, ...string) error { return f.err }
func (f failingKV) Incr(context.Context, string) (int64, error) { return 0, f.err }

type countingRecorder struct {
	ops []string
}

func (c *countingRecorder) PersistenceFailed(op string) { c.ops = append(c.ops, op) }

func sampleSnapshot() Snapshot {
	return Snapshot{
		Items: []ledger.Item{
			ledger.NewCatalogItem("P1", "Widget", decimal.NewFromInt(100)),
			ledger.NewFreeformItem("Consulting", 3, decimal.RequireFromString("33.335")),
		},
		TaxRate:      decimal.RequireFromString("17.5"),
		DiscountRate: decimal.NewFromInt(5),
		FormFields:   map[string]string{"customer_name": "Acme", "vendor_name": "Shop"},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	adapter := NewAdapter(NewMemoryKV(), defaultTax, nil, nil)
	want := sampleSnapshot()

	adapter.Save(ctx, want)
	got, ok := adapter.Load(ctx)
	require.True(t, ok)

	require.Len(t, got.Items, len(want.Items))
	for i := range want.Items {
		assert.Equal(t, want.Items[i].ID, got.Items[i].ID)
		assert.Equal(t, want.Items[i].Kind, got.Items[i].Kind)
		assert.Equal(t, want.Items[i].ProductRef, got.Items[i].ProductRef)
		assert.Equal(t, want.Items[i].Name, got.Items[i].Name)
		assert.Equal(t, want.Items[i].Quantity, got.Items[i].Quantity)
		assert.True(t, want.Items[i].UnitPrice.Equal(got.Items[i].UnitPrice))
	}
	assert.True(t, want.TaxRate.Equal(got.TaxRate))
	assert.True(t, want.DiscountRate.Equal(got.DiscountRate))
	assert.Equal(t, want.FormFields, got.FormFields)
}

func TestLoadMissingReturnsEmpty(t *testing.T) {
	snap, ok := NewAdapter(NewMemoryKV(), defaultTax, nil, nil).Load(context.Background())
	require.False(t, ok)
	require.Empty(t, snap.Items)
	require.True(t, snap.TaxRate.Equal(defaultTax))
	require.NotNil(t, snap.FormFields)
}

func TestLoadMalformedReturnsEmpty(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"lineItems": [`,
		"missing tax rate":  `{"lineItems": [], "formFields": {}}`,
		"tax out of range":  `{"lineItems": [], "taxRate": 140, "formFields": {}}`,
		"invalid quantity":  `{"lineItems": [{"id":"a","productRef":null,"name":"X","quantity":0,"unitPrice":1}], "taxRate": 17}`,
		"duplicate product": `{"lineItems": [{"id":"a","productRef":"P1","name":"X","quantity":1,"unitPrice":1},{"id":"b","productRef":"P1","name":"X","quantity":1,"unitPrice":1}], "taxRate": 17}`,
		"duplicate id":      `{"lineItems": [{"id":"a","productRef":null,"name":"X","quantity":1,"unitPrice":1},{"id":"a","productRef":null,"name":"Y","quantity":1,"unitPrice":1}], "taxRate": 17}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			kv := NewMemoryKV()
			require.NoError(t, kv.Set(context.Background(), KeyDraft, []byte(payload)))
			snap, ok := NewAdapter(kv, defaultTax, nil, nil).Load(context.Background())
			require.False(t, ok)
			require.Empty(t, snap.Items)
			require.True(t, snap.TaxRate.Equal(defaultTax))
		})
	}
}

func TestLoadAcceptsFreeformWithoutProductRef(t *testing.T) {
	kv := NewMemoryKV()
	payload := `{"lineItems":[{"id":"a","name":"Labour","quantity":2,"unitPrice":"12.5"}],"taxRate":17,"formFields":{"notes":"x"}}`
	require.NoError(t, kv.Set(context.Background(), KeyDraft, []byte(payload)))

	snap, ok := NewAdapter(kv, defaultTax, nil, nil).Load(context.Background())
	require.True(t, ok)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, ledger.KindFreeform, snap.Items[0].Kind)
	assert.True(t, snap.Items[0].UnitPrice.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, snap.DiscountRate.IsZero())
}

func TestFailuresAreSwallowedAndRecorded(t *testing.T) {
	ctx := context.Background()
	recorder := &countingRecorder{}
	adapter := NewAdapter(failingKV{err: errors.New("disk full")}, defaultTax, nil, recorder)

	adapter.Save(ctx, sampleSnapshot())
	snap, ok := adapter.Load(ctx)
	require.False(t, ok)
	require.Empty(t, snap.Items)
	adapter.Clear(ctx)

	_, err := adapter.NextInvoiceNumber(ctx)
	require.ErrorIs(t, err, ErrPersistenceFailure)

	assert.Equal(t, []string{"save", "load", "clear", "sequence"}, recorder.ops)
}

func TestHistoryIsBoundedMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	adapter := NewAdapter(NewMemoryKV(), defaultTax, nil, nil)
	require.Empty(t, adapter.History(ctx))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 12; i++ {
		adapter.AppendHistory(ctx, HistoryEntry{
			ID:            fmt.Sprintf("h%d", i),
			InvoiceNumber: FormatInvoiceNumber(int64(i)),
			CustomerName:  "Acme",
			Amount:        decimal.NewFromInt(int64(i * 10)),
			Date:          base.AddDate(0, 0, i),
		})
	}

	history := adapter.History(ctx)
	require.Len(t, history, HistoryLimit)
	assert.Equal(t, "INV-00012", history[0].InvoiceNumber)
	assert.Equal(t, "INV-00003", history[HistoryLimit-1].InvoiceNumber)
	assert.True(t, history[0].Amount.Equal(decimal.NewFromInt(120)))
}

func TestClearRemovesDraftAndHistory(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	adapter := NewAdapter(kv, defaultTax, nil, nil)
	adapter.Save(ctx, sampleSnapshot())
	adapter.AppendHistory(ctx, HistoryEntry{ID: "h1", InvoiceNumber: "INV-00001"})

	adapter.Clear(ctx)

	_, ok := adapter.Load(ctx)
	require.False(t, ok)
	require.Empty(t, adapter.History(ctx))
}

func TestNextInvoiceNumber(t *testing.T) {
	ctx := context.Background()
	adapter := NewAdapter(NewMemoryKV(), defaultTax, nil, nil)
	first, err := adapter.NextInvoiceNumber(ctx)
	require.NoError(t, err)
	second, err := adapter.NextInvoiceNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, "INV-00001", first)
	assert.Equal(t, "INV-00002", second)
}
