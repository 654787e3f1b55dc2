package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/stroymat/matrag/internal/model"
	"github.com/stroymat/matrag/internal/pkg/dbutil"
)

type EmbeddingCacheRepo struct {
	db *sql.DB
}

func NewEmbeddingCacheRepo(db *sql.DB) *EmbeddingCacheRepo {
	return &EmbeddingCacheRepo{db: db}
}

func (r *EmbeddingCacheRepo) Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error) {
	query, args := dbutil.Finalize(`
		SELECT embedding FROM embedding_cache
		WHERE model_name = ? AND task_type = ? AND content_hash = ?
	`, []interface{}{modelName, taskType, contentHash})
	var blob string
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var values []float32
	if err := json.Unmarshal([]byte(blob), &values); err != nil {
		return nil, false, err
	}
	return values, true, nil
}

func (r *EmbeddingCacheRepo) Save(ctx context.Context, item *model.EmbeddingCache) error {
	blob, err := json.Marshal(item.Embedding)
	if err != nil {
		return err
	}
	query, args := dbutil.Finalize(`
		INSERT INTO embedding_cache (model_name, task_type, content_hash, embedding, ctime)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (model_name, task_type, content_hash) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			ctime = EXCLUDED.ctime
	`, []interface{}{item.ModelName, item.TaskType, item.ContentHash, string(blob), item.Ctime})
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// DeleteOlderThan drops stale rows in bounded chunks so the cleanup job
// never holds long locks.
func (r *EmbeddingCacheRepo) DeleteOlderThan(ctx context.Context, before int64, limit int) (int64, error) {
	query, args := dbutil.Finalize(`
		DELETE FROM embedding_cache
		WHERE ctid IN (
			SELECT ctid FROM embedding_cache WHERE ctime < ? LIMIT ?
		)
	`, []interface{}{before, limit})
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
