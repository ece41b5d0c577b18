package metrics

import (
	"context"
	"log/slog"
	"time"
)

// PendingQueueStatuses are the states a pending_updates row can occupy.
// Matches store.Status{Pending,Processing,Completed,Failed}; completed
// rows are excluded since they're tombstones, not queue depth.
var PendingQueueStatuses = []string{"pending", "processing", "failed"}

// Store is the subset of the analytical store needed for queue-depth
// collection, kept narrow so this package doesn't import internal/store.
type Store interface {
	CountPendingByStatus(ctx context.Context, status string) (int, error)
}

// StartRetryQueueDepthCollector starts a background goroutine that
// periodically samples pending_updates row counts by status and publishes
// them as the retry_queue_depth gauge.
func StartRetryQueueDepthCollector(ctx context.Context, store Store, interval time.Duration) {
	logger := slog.Default()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	collectRetryQueueDepths(ctx, store, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("retry queue depth collector stopping")
			return
		case <-ticker.C:
			collectRetryQueueDepths(ctx, store, logger)
		}
	}
}

func collectRetryQueueDepths(ctx context.Context, store Store, logger *slog.Logger) {
	for _, status := range PendingQueueStatuses {
		count, err := store.CountPendingByStatus(ctx, status)
		if err != nil {
			logger.Error("failed to get pending-update queue length", "status", status, "error", err)
			continue
		}
		RetryQueueDepth.WithLabelValues(status).Set(float64(count))
	}
}
