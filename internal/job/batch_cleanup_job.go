package job

import (
	"context"
	"time"

	"github.com/stroymat/matrag/internal/model"
	"github.com/stroymat/matrag/internal/repo"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// BatchCleanupJob marks batches that have been stuck in queued/running
// for too long as failed, so clients stop polling them forever. Rows of
// a stuck batch stay in the processing table and remain retryable.
type BatchCleanupJob struct {
	batches    *repo.BatchRepo
	maxAgeHour int
}

func NewBatchCleanupJob(batches *repo.BatchRepo, maxAgeHour int) *BatchCleanupJob {
	return &BatchCleanupJob{batches: batches, maxAgeHour: maxAgeHour}
}

func (j *BatchCleanupJob) Name() string {
	return "batch_cleanup"
}

func (j *BatchCleanupJob) Run(ctx context.Context) error {
	if j.batches == nil {
		return nil
	}
	maxAgeHour := j.maxAgeHour
	if maxAgeHour <= 0 {
		maxAgeHour = 24
	}
	cutoff := time.Now().Add(-time.Duration(maxAgeHour) * time.Hour).Unix()
	stale, err := j.batches.ListStale(ctx, cutoff, 100)
	if err != nil {
		return err
	}
	for _, job := range stale {
		if err := j.batches.SetStatus(ctx, job.ID, model.BatchStatusFailed); err != nil {
			return err
		}
		logutil.GetLogger(ctx).Info("stale batch marked failed",
			zap.String("batch_id", job.ID),
			zap.Int("total", job.Total),
			zap.Int("completed", job.Completed))
	}
	return nil
}
