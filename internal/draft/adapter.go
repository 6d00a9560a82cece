package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

const (
	// KeyDraft holds the working invoice snapshot.
	KeyDraft = "invoiceDraft"
	// KeyHistory holds the list of generated invoices.
	KeyHistory = "invoiceHistory"
	// KeySequence holds the invoice number counter.
	KeySequence = "invoiceSequence"

	// HistoryLimit bounds the history list.
	HistoryLimit = 10
)

// Recorder receives persistence failure notifications.
type Recorder interface {
	PersistenceFailed(op string)
}

// Adapter saves and restores snapshots over a KV. Failures are logged and never
// propagated to the caller; the in-memory invoice stays authoritative.
type Adapter struct {
	kv             KV
	logger         *slog.Logger
	recorder       Recorder
	defaultTaxRate decimal.Decimal
}

// NewAdapter constructs an adapter. defaultTaxRate seeds the empty snapshot.
func NewAdapter(kv KV, defaultTaxRate decimal.Decimal, logger *slog.Logger, recorder Recorder) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{kv: kv, logger: logger, recorder: recorder, defaultTaxRate: defaultTaxRate}
}

// Save overwrites the persisted snapshot.
func (a *Adapter) Save(ctx context.Context, snap Snapshot) {
	payload, err := json.Marshal(snap)
	if err == nil {
		err = a.kv.Set(ctx, KeyDraft, payload)
	}
	if err != nil {
		a.fail("save", err)
	}
}

// Load returns the persisted snapshot. Missing or malformed data yields the empty
// snapshot and ok=false.
func (a *Adapter) Load(ctx context.Context) (Snapshot, bool) {
	payload, err := a.kv.Get(ctx, KeyDraft)
	if errors.Is(err, ErrKeyNotFound) {
		return Empty(a.defaultTaxRate), false
	}
	if err != nil {
		a.fail("load", err)
		return Empty(a.defaultTaxRate), false
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		a.logger.Warn("discarding malformed draft", slog.Any("error", err))
		return Empty(a.defaultTaxRate), false
	}
	return snap, true
}

// Clear removes the draft and the history.
func (a *Adapter) Clear(ctx context.Context) {
	if err := a.kv.Delete(ctx, KeyDraft, KeyHistory); err != nil {
		a.fail("clear", err)
	}
}

// AppendHistory records entry at the head of the bounded history list.
func (a *Adapter) AppendHistory(ctx context.Context, entry HistoryEntry) {
	history := a.History(ctx)
	history = append([]HistoryEntry{entry}, history...)
	if len(history) > HistoryLimit {
		history = history[:HistoryLimit]
	}
	payload, err := json.Marshal(history)
	if err == nil {
		err = a.kv.Set(ctx, KeyHistory, payload)
	}
	if err != nil {
		a.fail("history", err)
	}
}

// History lists generated invoices, most recent first.
func (a *Adapter) History(ctx context.Context) []HistoryEntry {
	payload, err := a.kv.Get(ctx, KeyHistory)
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			a.fail("history", err)
		}
		return []HistoryEntry{}
	}
	var history []HistoryEntry
	if err := json.Unmarshal(payload, &history); err != nil {
		a.logger.Warn("discarding malformed invoice history", slog.Any("error", err))
		return []HistoryEntry{}
	}
	return history
}

// NextInvoiceNumber allocates the next sequential invoice number.
func (a *Adapter) NextInvoiceNumber(ctx context.Context) (string, error) {
	n, err := a.kv.Incr(ctx, KeySequence)
	if err != nil {
		a.fail("sequence", err)
		return "", fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}
	return FormatInvoiceNumber(n), nil
}

// FormatInvoiceNumber renders n as INV-00001.
func FormatInvoiceNumber(n int64) string {
	return fmt.Sprintf("INV-%05d", n)
}

func (a *Adapter) fail(op string, err error) {
	a.logger.Error("draft persistence", slog.String("op", op), slog.Any("error", fmt.Errorf("%w: %w", ErrPersistenceFailure, err)))
	if a.recorder != nil {
		a.recorder.PersistenceFailed(op)
	}
}
