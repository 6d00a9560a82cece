package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCatalogSync refreshes the cached inventory catalog.
	TaskCatalogSync = "catalog:sync"
)

// CatalogSyncPayload describes a catalog sync request.
type CatalogSyncPayload struct {
	RequestedAt time.Time `json:"requested_at"`
	Reason      string    `json:"reason,omitempty"`
}

// NewCatalogSyncTask constructs an Asynq task.
func NewCatalogSyncTask(payload CatalogSyncPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCatalogSync, data, asynq.MaxRetry(3), asynq.Unique(time.Minute)), nil
}
