package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const inventoryPath = "/api/inventory_items"

// HTTPSource reads products from the inventory service.
type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPSource constructs a source for the given inventory base URL.
func NewHTTPSource(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Fetch performs GET /api/inventory_items.
func (s *HTTPSource) Fetch(ctx context.Context) ([]Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+inventoryPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("inventory service returned status %d", resp.StatusCode)
	}

	products, dropped, err := Decode(resp.Body)
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		s.logger.Warn("inventory items skipped", slog.Int("dropped", dropped), slog.Int("kept", len(products)))
	}
	return products, nil
}
