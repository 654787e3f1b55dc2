package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/stroymat/matrag/internal/model"
	appErr "github.com/stroymat/matrag/internal/pkg/errors"
	"github.com/stroymat/matrag/internal/repo"
	"github.com/stroymat/matrag/internal/testutil"
)

func newBatchJob(total int) *model.BatchJob {
	now := time.Now().Unix()
	return &model.BatchJob{
		ID:     uuid.NewString(),
		Source: model.BatchSourceAPI,
		Total:  total,
		Status: model.BatchStatusQueued,
		Ctime:  now,
		Mtime:  now,
	}
}

func TestBatchRepoCreateAndGet(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	r := repo.NewBatchRepo(db)
	ctx := context.Background()

	job := newBatchJob(5)
	job.FileKey = "uploads/abc.csv"
	require.NoError(t, r.Create(ctx, job))

	got, err := r.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 5, got.Total)
	require.Equal(t, "uploads/abc.csv", got.FileKey)
	require.Equal(t, model.BatchStatusQueued, got.Status)

	_, err = r.Get(ctx, uuid.NewString())
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestBatchRepoProgressCounters(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	r := repo.NewBatchRepo(db)
	ctx := context.Background()

	job := newBatchJob(3)
	require.NoError(t, r.Create(ctx, job))
	require.NoError(t, r.SetStatus(ctx, job.ID, model.BatchStatusRunning))

	require.NoError(t, r.AddProgress(ctx, job.ID, 1, 0))
	require.NoError(t, r.AddProgress(ctx, job.ID, 1, 0))
	require.NoError(t, r.AddProgress(ctx, job.ID, 0, 1))

	got, err := r.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.Completed)
	require.Equal(t, 1, got.Failed)
	require.Equal(t, model.BatchStatusRunning, got.Status)

	// a recovered retry converts a failure into a completion
	require.NoError(t, r.AddProgress(ctx, job.ID, 1, -1))
	got, err = r.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 3, got.Completed)
	require.Zero(t, got.Failed)
}

func TestBatchRepoResetProgress(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	r := repo.NewBatchRepo(db)
	ctx := context.Background()

	job := newBatchJob(4)
	require.NoError(t, r.Create(ctx, job))
	require.NoError(t, r.AddProgress(ctx, job.ID, 2, 2))
	require.NoError(t, r.SetStatus(ctx, job.ID, model.BatchStatusDone))

	require.NoError(t, r.ResetProgress(ctx, job.ID, 2))

	got, err := r.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.Completed)
	require.Zero(t, got.Failed)
	require.Equal(t, model.BatchStatusRunning, got.Status)
}

func TestBatchRepoListStale(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	r := repo.NewBatchRepo(db)
	ctx := context.Background()

	old := newBatchJob(1)
	old.Ctime = 100
	old.Mtime = 100
	fresh := newBatchJob(1)
	done := newBatchJob(1)
	done.Ctime = 100
	done.Mtime = 100
	done.Status = model.BatchStatusDone

	require.NoError(t, r.Create(ctx, old))
	require.NoError(t, r.Create(ctx, fresh))
	require.NoError(t, r.Create(ctx, done))

	stale, err := r.ListStale(ctx, time.Now().Unix()-3600, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, old.ID, stale[0].ID)
}
