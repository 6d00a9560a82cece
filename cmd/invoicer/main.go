package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/invoicer/internal/app"
	"github.com/odyssey-erp/invoicer/internal/catalog"
	"github.com/odyssey-erp/invoicer/internal/document"
	"github.com/odyssey-erp/invoicer/internal/draft"
	"github.com/odyssey-erp/invoicer/internal/invoice"
	"github.com/odyssey-erp/invoicer/internal/observability"
	"github.com/odyssey-erp/invoicer/internal/platform/cache"
	"github.com/odyssey-erp/invoicer/internal/platform/db"
	"github.com/odyssey-erp/invoicer/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	metrics := observability.NewMetrics()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err != nil {
		if cfg.DraftStore == app.DraftStoreRedis {
			logger.Error("connect redis", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Warn("redis unavailable, catalog cache disabled", slog.Any("error", err))
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	kv, closeKV, err := draftKV(ctx, cfg, redisClient)
	if err != nil {
		logger.Error("init draft store", slog.String("store", cfg.DraftStore), slog.Any("error", err))
		os.Exit(1)
	}
	defer closeKV()

	taxRate, _ := cfg.TaxRate()
	store := draft.NewAdapter(kv, taxRate, logger, metrics)

	upstream := catalog.NewHTTPSource(cfg.InventoryURL, cfg.HTTPClientTimeout, logger)
	products := catalog.NewStore(catalog.NewCachedSource(upstream, redisClient, cfg.CatalogCacheTTL, logger))

	engine := invoice.NewEngine(invoice.Config{
		DefaultTaxRate: taxRate,
		AllowFreeform:  cfg.AllowFreeform,
		LowStockLevel:  cfg.LowStockLevel,
	}, invoice.Dependencies{
		Catalog:  products,
		Store:    store,
		Renderer: document.NewClient(cfg.DocumentURL, cfg.HTTPClientTimeout),
		Recorder: metrics,
		Logger:   logger,
	})

	var startup errgroup.Group
	startup.Go(func() error {
		if engine.Restore(ctx) {
			logger.Info("draft restored")
		}
		return nil
	})
	startup.Go(func() error {
		if _, err := engine.RefreshCatalog(ctx); err != nil {
			logger.Warn("initial catalog load failed, catalog-bound adds disabled until refresh", slog.Any("error", err))
		}
		return nil
	})
	_ = startup.Wait()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		InvoiceHandler: invoice.NewHandler(logger, engine),
		JobHandler:     jobs.NewHandler(inspector, jobClient, logger),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// draftKV opens the configured draft backend. The returned func releases it.
func draftKV(ctx context.Context, cfg *app.Config, redisClient *redis.Client) (draft.KV, func(), error) {
	switch cfg.DraftStore {
	case app.DraftStorePostgres:
		pool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns})
		if err != nil {
			return nil, nil, err
		}
		kv := draft.NewPostgresKV(pool)
		if err := kv.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return kv, pool.Close, nil
	case app.DraftStoreRedis:
		return draft.NewRedisKV(redisClient, cfg.DraftKeyPrefix), func() {}, nil
	default:
		return draft.NewMemoryKV(), func() {}, nil
	}
}
