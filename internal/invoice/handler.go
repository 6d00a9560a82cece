package invoice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/invoicer/internal/document"
	"github.com/odyssey-erp/invoicer/internal/platform/httpx"
)

// Handler exposes the engine over JSON.
type Handler struct {
	logger    *slog.Logger
	engine    *Engine
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		engine:    engine,
		validator: validator.New(),
	}
}

// MountRoutes registers invoice routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.getState)
	r.Delete("/", h.reset)

	r.Route("/items", func(r chi.Router) {
		r.Post("/catalog", h.addFromCatalog)
		r.Post("/freeform", h.addFreeform)
		r.Patch("/{id}", h.updateItem)
		r.Delete("/{id}", h.removeItem)
	})

	r.Put("/tax-rate", h.setTaxRate)
	r.Put("/discount-rate", h.setDiscountRate)
	r.Put("/fields", h.setFields)

	r.Get("/products", h.listProducts)
	r.Post("/catalog/refresh", h.refreshCatalog)

	r.Post("/generate", h.generate)
	r.Get("/history", h.listHistory)
}

var errorRules = []httpx.ErrorRule{
	{Err: ErrDuplicateProduct, Status: http.StatusConflict, Title: "Duplicate Product"},
	{Err: ErrCatalogBound, Status: http.StatusConflict, Title: "Catalog Item Not Editable"},
	{Err: ErrProductNotFound, Status: http.StatusNotFound, Title: "Product Not Found"},
	{Err: ErrLineItemNotFound, Status: http.StatusNotFound, Title: "Line Item Not Found"},
	{Err: ErrStockExceeded, Status: http.StatusUnprocessableEntity, Title: "Stock Exceeded"},
	{Err: ErrMinimumItemsReached, Status: http.StatusUnprocessableEntity, Title: "Minimum Items Reached"},
	{Err: ErrFreeformDisabled, Status: http.StatusUnprocessableEntity, Title: "Free-form Items Disabled"},
	{Err: ErrEmptyInvoice, Status: http.StatusUnprocessableEntity, Title: "Empty Invoice"},
	{Err: ErrInvalidInput, Status: http.StatusUnprocessableEntity, Title: "Invalid Input"},
	{Err: ErrCatalogUnavailable, Status: http.StatusBadGateway, Title: "Catalog Unavailable"},
	{Err: document.ErrGenerationFailed, Status: http.StatusBadGateway, Title: "Document Generation Failed"},
}

func init() {
	for i := range errorRules {
		errorRules[i].Type = Reason(errorRules[i].Err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, httpx.ErrValidation) {
		err = fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if Reason(err) == "internal" {
		h.logger.Error("invoice request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err, errorRules...)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) error {
	if err := httpx.DecodeJSON(w, r, target); err != nil {
		return err
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%w: %s failed %s", ErrInvalidInput, fieldErrs[0].Field(), fieldErrs[0].Tag())
		}
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

func (h *Handler) writeState(w http.ResponseWriter, status int) {
	httpx.JSON(w, status, newStateResponse(h.engine.State()))
}

func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	h.writeState(w, http.StatusOK)
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	h.engine.Reset(r.Context())
	h.writeState(w, http.StatusOK)
}

func (h *Handler) addFromCatalog(w http.ResponseWriter, r *http.Request) {
	var req addCatalogRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.engine.AddFromCatalog(r.Context(), string(req.ProductID)); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeState(w, http.StatusCreated)
}

func (h *Handler) addFreeform(w http.ResponseWriter, r *http.Request) {
	var req addFreeformRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	price, err := parseDecimal("price", req.Price)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.engine.AddFreeform(r.Context(), req.Name, req.Quantity, price); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeState(w, http.StatusCreated)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	var req patchItemRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Quantity == nil && req.Name == nil && req.Price == nil {
		h.fail(w, r, fmt.Errorf("%w: nothing to update", ErrInvalidInput))
		return
	}
	patch := ItemPatch{Quantity: req.Quantity, Name: req.Name}
	if req.Price != nil {
		price, err := parseDecimal("price", *req.Price)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		patch.UnitPrice = &price
	}
	if _, err := h.engine.UpdateItem(r.Context(), chi.URLParam(r, "id"), patch); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeState(w, http.StatusOK)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	var opts []RemoveOption
	if raw := r.URL.Query().Get("min_items"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.fail(w, r, fmt.Errorf("%w: min_items must be a non-negative integer", ErrInvalidInput))
			return
		}
		opts = append(opts, RequireMinimumItems(n))
	}
	if _, err := h.engine.RemoveItem(r.Context(), chi.URLParam(r, "id"), opts...); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeState(w, http.StatusOK)
}

func (h *Handler) setTaxRate(w http.ResponseWriter, r *http.Request) {
	h.setRate(w, r, h.engine.SetTaxRate)
}

func (h *Handler) setDiscountRate(w http.ResponseWriter, r *http.Request) {
	h.setRate(w, r, h.engine.SetDiscountRate)
}

func (h *Handler) setRate(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, rate decimal.Decimal) error) {
	var req rateRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rate, err := parseDecimal("rate", req.Rate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := apply(r.Context(), rate); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeState(w, http.StatusOK)
}

func (h *Handler) setFields(w http.ResponseWriter, r *http.Request) {
	var fields map[string]string
	if err := httpx.DecodeJSON(w, r, &fields); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.engine.SetFormFields(r.Context(), fields); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeState(w, http.StatusOK)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, newProductResponses(h.engine.SelectableProducts(r.URL.Query().Get("q"))))
}

func (h *Handler) refreshCatalog(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.RefreshCatalog(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"products": n})
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	doc, err := h.engine.Generate(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer func() {
		_ = doc.Body.Close()
	}()
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, doc.Body); err != nil {
		h.logger.Warn("stream document", slog.String("filename", doc.Filename), slog.Any("error", err))
	}
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, newHistoryResponses(h.engine.History(r.Context())))
}
