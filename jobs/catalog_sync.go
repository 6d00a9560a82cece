package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/invoicer/internal/jobs"
)

// CatalogWarmer refreshes the cached catalog from the inventory service.
type CatalogWarmer interface {
	Warm(ctx context.Context) (int, error)
}

// CatalogSyncJob keeps the shared catalog cache fresh so API instances can
// serve the last good catalog while the inventory service is down.
type CatalogSyncJob struct {
	warmer  CatalogWarmer
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	timeout time.Duration
}

// NewCatalogSyncJob constructs the job handler. A zero timeout leaves the task
// deadline to Asynq.
func NewCatalogSyncJob(warmer CatalogWarmer, logger *slog.Logger, metrics *jobmetrics.Metrics, timeout time.Duration) *CatalogSyncJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogSyncJob{warmer: warmer, logger: logger, metrics: metrics, timeout: timeout}
}

// Handle processes TaskCatalogSync tasks.
func (j *CatalogSyncJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload CatalogSyncPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
		}
	}
	if j.warmer == nil {
		return fmt.Errorf("catalog sync: warmer not configured: %w", asynq.SkipRetry)
	}
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	tracker := j.metrics.Track(TaskCatalogSync)
	n, err := j.warmer.Warm(ctx)
	if err != nil {
		j.logger.Warn("catalog sync failed", slog.String("reason", payload.Reason), slog.Any("error", err))
		return tracker.End(fmt.Errorf("catalog sync: %w", err))
	}
	j.metrics.CatalogSynced(n)
	j.logger.Info("catalog synced",
		slog.Int("products", n),
		slog.String("reason", payload.Reason),
		slog.Time("requested_at", payload.RequestedAt))
	return tracker.End(nil)
}
