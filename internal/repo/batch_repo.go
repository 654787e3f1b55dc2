package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/stroymat/matrag/internal/model"
	"github.com/stroymat/matrag/internal/pkg/dbutil"
	appErr "github.com/stroymat/matrag/internal/pkg/errors"
	"github.com/stroymat/matrag/internal/pkg/timeutil"
)

type BatchRepo struct {
	db *sql.DB
}

func NewBatchRepo(db *sql.DB) *BatchRepo {
	return &BatchRepo{db: db}
}

var batchFields = []string{"id", "source", "file_key", "total", "completed", "failed", "status", "ctime", "mtime"}

func (r *BatchRepo) Create(ctx context.Context, job *model.BatchJob) error {
	data := map[string]interface{}{
		"id":        job.ID,
		"source":    job.Source,
		"file_key":  job.FileKey,
		"total":     job.Total,
		"completed": job.Completed,
		"failed":    job.Failed,
		"status":    job.Status,
		"ctime":     job.Ctime,
		"mtime":     job.Mtime,
	}
	query, args, err := builder.BuildInsert("batch_jobs", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	query, args = dbutil.Finalize(query, args)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *BatchRepo) Get(ctx context.Context, id string) (*model.BatchJob, error) {
	query, args, err := builder.BuildSelect("batch_jobs",
		map[string]interface{}{"id": id}, batchFields)
	if err != nil {
		return nil, err
	}
	query, args = dbutil.Finalize(query, args)
	row := r.db.QueryRowContext(ctx, query, args...)
	var job model.BatchJob
	err = row.Scan(&job.ID, &job.Source, &job.FileKey, &job.Total,
		&job.Completed, &job.Failed, &job.Status, &job.Ctime, &job.Mtime)
	if err == sql.ErrNoRows {
		return nil, appErr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *BatchRepo) SetStatus(ctx context.Context, id, status string) error {
	query, args := dbutil.Finalize(
		`UPDATE batch_jobs SET status = ?, mtime = ? WHERE id = ?`,
		[]interface{}{status, timeutil.NowUnix(), id})
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// AddProgress bumps the completed/failed counters atomically; workers
// report each item as it finishes.
func (r *BatchRepo) AddProgress(ctx context.Context, id string, completed, failed int) error {
	query, args := dbutil.Finalize(`
		UPDATE batch_jobs
		SET completed = completed + ?, failed = failed + ?, mtime = ?
		WHERE id = ?
	`, []interface{}{completed, failed, timeutil.NowUnix(), id})
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// ResetProgress rewinds failure counters when a batch is requeued.
func (r *BatchRepo) ResetProgress(ctx context.Context, id string, failed int) error {
	query, args := dbutil.Finalize(`
		UPDATE batch_jobs
		SET failed = failed - ?, status = ?, mtime = ?
		WHERE id = ?
	`, []interface{}{failed, model.BatchStatusRunning, timeutil.NowUnix(), id})
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// ListStale returns batches stuck in queued/running older than the
// given mtime, for the cleanup job.
func (r *BatchRepo) ListStale(ctx context.Context, before int64, limit int) ([]*model.BatchJob, error) {
	query, args := dbutil.Finalize(`
		SELECT id, source, file_key, total, completed, failed, status, ctime, mtime
		FROM batch_jobs
		WHERE status IN (?, ?) AND mtime < ?
		ORDER BY mtime ASC
		LIMIT ?
	`, []interface{}{model.BatchStatusQueued, model.BatchStatusRunning, before, limit})
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []*model.BatchJob
	for rows.Next() {
		var job model.BatchJob
		if err := rows.Scan(&job.ID, &job.Source, &job.FileKey, &job.Total,
			&job.Completed, &job.Failed, &job.Status, &job.Ctime, &job.Mtime); err != nil {
			return nil, err
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}
