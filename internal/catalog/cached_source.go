package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheKey stores the last good inventory payload.
const DefaultCacheKey = "catalog:snapshot"

// CachedSource keeps the last successful upstream payload in Redis and serves it
// when the upstream source fails.
type CachedSource struct {
	next   Source
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedSource wraps next. A zero ttl keeps the cached payload indefinitely.
func NewCachedSource(next Source, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSource{next: next, client: client, key: DefaultCacheKey, ttl: ttl, logger: logger}
}

// Fetch returns fresh products, falling back to the cached copy on upstream failure.
func (c *CachedSource) Fetch(ctx context.Context) ([]Product, error) {
	products, err := c.next.Fetch(ctx)
	if err == nil {
		c.store(ctx, products)
		return products, nil
	}
	if c.client == nil {
		return nil, err
	}
	cached, cacheErr := c.load(ctx)
	if cacheErr != nil {
		if !errors.Is(cacheErr, redis.Nil) {
			c.logger.Warn("catalog cache read", slog.Any("error", cacheErr))
		}
		return nil, err
	}
	c.logger.Warn("inventory service failed, serving cached catalog",
		slog.Any("error", err), slog.Int("products", len(cached)))
	return cached, nil
}

// Warm fetches from the upstream source only and rewrites the cached copy. It
// never falls back to the cache, so callers see the real upstream outcome.
func (c *CachedSource) Warm(ctx context.Context) (int, error) {
	products, err := c.next.Fetch(ctx)
	if err != nil {
		return 0, err
	}
	c.store(ctx, products)
	return len(products), nil
}

func (c *CachedSource) store(ctx context.Context, products []Product) {
	if c.client == nil {
		return
	}
	var buf bytes.Buffer
	if err := Encode(&buf, products); err != nil {
		c.logger.Warn("catalog cache encode", slog.Any("error", err))
		return
	}
	if err := c.client.Set(ctx, c.key, buf.Bytes(), c.ttl).Err(); err != nil {
		c.logger.Warn("catalog cache write", slog.Any("error", err))
	}
}

func (c *CachedSource) load(ctx context.Context) ([]Product, error) {
	payload, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		return nil, err
	}
	products, _, err := Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("cached catalog: %w", err)
	}
	return products, nil
}
