package jobs

import (
	"context"
	"log/slog"
	"time"

	"linkfolio/internal/pkg/metrics"
)

const cleanupBatchSize = 1000

// Pruner deletes raw events created before a cutoff.
type Pruner interface {
	PruneRawEvents(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// CleanupJob removes raw views and clicks older than the retention period.
// Rollups are kept, so dashboards are unaffected.
type CleanupJob struct {
	pruner        Pruner
	logger        *slog.Logger
	retentionDays int
	now           func() time.Time
}

func NewCleanupJob(pruner Pruner, logger *slog.Logger, retentionDays int) *CleanupJob {
	return &CleanupJob{
		pruner:        pruner,
		logger:        logger,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

func (j *CleanupJob) Name() string {
	return "cleanup"
}

func (j *CleanupJob) Run(ctx context.Context) error {
	cutoffDate := j.now().UTC().AddDate(0, 0, -j.retentionDays)

	j.logger.Info("Starting cleanup of old raw events",
		slog.Int("retention_days", j.retentionDays),
		slog.Time("cutoff_date", cutoffDate))

	deleted, err := j.pruner.PruneRawEvents(ctx, cutoffDate, cleanupBatchSize)
	metrics.RecordPruned(deleted)
	if err != nil {
		j.logger.Error("Failed to delete old raw events",
			slog.Any("error", err),
			slog.Int64("deleted_so_far", deleted))
		return err
	}

	j.logger.Info("Cleaned up old raw events",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.retentionDays))
	return nil
}
