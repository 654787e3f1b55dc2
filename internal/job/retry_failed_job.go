package job

import (
	"context"

	"github.com/stroymat/matrag/internal/service"
)

type RetryFailedJob struct {
	batches *service.BatchService
	limit   int
}

func NewRetryFailedJob(batches *service.BatchService, limit int) *RetryFailedJob {
	return &RetryFailedJob{batches: batches, limit: limit}
}

func (j *RetryFailedJob) Name() string {
	return "retry_failed"
}

func (j *RetryFailedJob) Run(ctx context.Context) error {
	if j.batches == nil {
		return nil
	}
	limit := j.limit
	if limit <= 0 {
		limit = 100
	}
	_, err := j.batches.ProcessRetryable(ctx, limit)
	return err
}
