package service

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stroymat/matrag/internal/model"
	appErr "github.com/stroymat/matrag/internal/pkg/errors"
	"github.com/stroymat/matrag/internal/pkg/timeutil"
	"github.com/stroymat/matrag/internal/repo"
)

const (
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 10 * time.Second
)

type BatchConfig struct {
	Workers       int
	MaxAttempts   int
	MaxItems      int
	AICallsPerSec float64
}

// BatchService drives the batch pipeline: rows are persisted as
// processing_results before any work starts, workers pull them through
// the material pipeline with bounded retries, and counters live in
// batch_jobs so progress survives restarts.
type BatchService struct {
	materials  *MaterialService
	processing *repo.ProcessingRepo
	batches    *repo.BatchRepo
	limiter    *rate.Limiter
	cfg        BatchConfig
}

func NewBatchService(materials *MaterialService, processing *repo.ProcessingRepo, batches *repo.BatchRepo, cfg BatchConfig) *BatchService {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 10000
	}
	if cfg.AICallsPerSec <= 0 {
		cfg.AICallsPerSec = 5
	}
	return &BatchService{
		materials:  materials,
		processing: processing,
		batches:    batches,
		limiter:    rate.NewLimiter(rate.Limit(cfg.AICallsPerSec), 1),
		cfg:        cfg,
	}
}

// SetWorkers overrides the configured pool size, for the CLI's
// --workers flag. Not safe to call while a batch is running.
func (s *BatchService) SetWorkers(n int) {
	if n > 0 {
		s.cfg.Workers = n
	}
}

type BatchItem struct {
	Name  string  `json:"name"`
	Unit  string  `json:"unit"`
	Price float64 `json:"price"`
}

// Submit persists the batch and its rows in pending state. Processing
// is started separately (Run), so API callers get the batch id back
// immediately.
func (s *BatchService) Submit(ctx context.Context, source, fileKey string, items []BatchItem) (*model.BatchJob, error) {
	if len(items) == 0 {
		return nil, appErr.ErrInvalid
	}
	if len(items) > s.cfg.MaxItems {
		return nil, appErr.ErrInvalid
	}
	now := timeutil.NowUnix()
	job := &model.BatchJob{
		ID:      newID(),
		Source:  source,
		FileKey: fileKey,
		Total:   len(items),
		Status:  model.BatchStatusQueued,
		Ctime:   now,
		Mtime:   now,
	}
	rows := make([]*model.ProcessingResult, 0, len(items))
	for _, item := range items {
		if item.Name == "" {
			return nil, appErr.ErrInvalid
		}
		rows = append(rows, &model.ProcessingResult{
			ID:       newID(),
			BatchID:  job.ID,
			RawName:  item.Name,
			RawUnit:  item.Unit,
			RawPrice: item.Price,
			Status:   model.ProcessingStatusPending,
			Ctime:    now,
			Mtime:    now,
		})
	}
	if err := s.batches.Create(ctx, job); err != nil {
		return nil, err
	}
	if err := s.processing.CreateBatch(ctx, rows); err != nil {
		return nil, err
	}
	return job, nil
}

// Run processes every pending row of a batch on the worker pool. The
// progress callback fires after each item; pass nil when headless.
func (s *BatchService) Run(ctx context.Context, batchID string, progress func(completed, failed, total int)) error {
	rows, err := s.processing.ListByBatch(ctx, batchID, []string{model.ProcessingStatusPending})
	if err != nil {
		return err
	}
	if err := s.batches.SetStatus(ctx, batchID, model.BatchStatusRunning); err != nil {
		return err
	}
	logger := logutil.GetLogger(ctx).With(zap.String("batch_id", batchID), zap.Int("pending", len(rows)))
	logger.Info("batch started")

	pool, err := ants.NewPool(s.cfg.Workers)
	if err != nil {
		return err
	}
	defer pool.Release()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
		failed    int
	)
	total := len(rows)
	for _, row := range rows {
		row := row
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			ok := s.processRow(ctx, row)
			mu.Lock()
			if ok {
				completed++
			} else {
				failed++
			}
			done, bad := completed, failed
			mu.Unlock()
			if progress != nil {
				progress(done, bad, total)
			}
		})
		if submitErr != nil {
			wg.Done()
			logger.Error("failed to submit batch item", zap.Error(submitErr))
			s.failRow(ctx, row, "worker pool rejected item: "+submitErr.Error())
			mu.Lock()
			failed++
			mu.Unlock()
		}
	}
	wg.Wait()

	status := model.BatchStatusDone
	if completed == 0 && total > 0 {
		status = model.BatchStatusFailed
	}
	if err := s.batches.SetStatus(ctx, batchID, status); err != nil {
		return err
	}
	logger.Info("batch finished",
		zap.Int("completed", completed), zap.Int("failed", failed), zap.String("status", status))
	return nil
}

// processRow pushes a single row through the pipeline with bounded
// retries and exponential backoff.
func (s *BatchService) processRow(ctx context.Context, row *model.ProcessingResult) bool {
	logger := logutil.GetLogger(ctx).With(zap.String("result_id", row.ID), zap.String("raw_name", row.RawName))
	wasFailed := row.Status == model.ProcessingStatusFailed
	var lastErr error
	for attempt := row.Attempts; attempt < s.cfg.MaxAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}
		if err := s.processing.MarkProcessing(ctx, row.ID); err != nil {
			lastErr = err
			break
		}
		material, err := s.materials.Process(ctx, ProcessInput{
			Name:  row.RawName,
			Unit:  row.RawUnit,
			Price: row.RawPrice,
		}, false)
		if err == nil {
			if err := s.processing.MarkCompleted(ctx, row.ID, material.ID); err != nil {
				logger.Error("failed to mark row completed", zap.Error(err))
			}
			if wasFailed {
				// the row was already counted as failed once
				_ = s.batches.AddProgress(ctx, row.BatchID, 1, -1)
			} else {
				_ = s.batches.AddProgress(ctx, row.BatchID, 1, 0)
			}
			return true
		}
		lastErr = err
		delay := backoffDelay(attempt - row.Attempts)
		logger.Warn("batch item failed",
			zap.Int("attempt", attempt+1), zap.Duration("retry_in", delay), zap.Error(err))
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = s.cfg.MaxAttempts
		case <-time.After(delay):
		}
	}
	msg := "unknown error"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	s.failRow(ctx, row, msg)
	return false
}

// failRow marks the row failed and keeps the batch counters in step
// with it; a row already counted as failed is not counted again.
func (s *BatchService) failRow(ctx context.Context, row *model.ProcessingResult, msg string) {
	if err := s.processing.MarkFailed(ctx, row.ID, msg); err != nil {
		logutil.GetLogger(ctx).Error("failed to mark row failed",
			zap.String("result_id", row.ID), zap.Error(err))
	}
	if row.Status != model.ProcessingStatusFailed {
		_ = s.batches.AddProgress(ctx, row.BatchID, 0, 1)
	}
}

func (s *BatchService) Get(ctx context.Context, batchID string) (*model.BatchJob, error) {
	return s.batches.Get(ctx, batchID)
}

// RetryFailed requeues the failed rows of a batch. The caller restarts
// Run afterwards.
func (s *BatchService) RetryFailed(ctx context.Context, batchID string) (int64, error) {
	if _, err := s.batches.Get(ctx, batchID); err != nil {
		return 0, err
	}
	requeued, err := s.processing.RequeueFailed(ctx, batchID)
	if err != nil {
		return 0, err
	}
	if requeued > 0 {
		if err := s.batches.ResetProgress(ctx, batchID, int(requeued)); err != nil {
			return requeued, err
		}
	}
	return requeued, nil
}

// ProcessRetryable reprocesses failed rows still under the attempt cap,
// across batches. Used by the scheduled retry job.
func (s *BatchService) ProcessRetryable(ctx context.Context, limit int) (int, error) {
	rows, err := s.processing.ListRetryable(ctx, s.cfg.MaxAttempts, limit)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, row := range rows {
		if s.processRow(ctx, row) {
			recovered++
		}
	}
	return recovered, nil
}

func backoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := retryBaseDelay << uint(attempt)
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	// jitter keeps workers from retrying in lockstep
	return delay + time.Duration(rand.Int63n(int64(retryBaseDelay)))
}
