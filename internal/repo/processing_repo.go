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

type ProcessingRepo struct {
	db *sql.DB
}

func NewProcessingRepo(db *sql.DB) *ProcessingRepo {
	return &ProcessingRepo{db: db}
}

const processingColumns = "id, batch_id, material_id, raw_name, raw_unit, raw_price, status, attempts, last_error, ctime, mtime"

var processingFields = []string{"id", "batch_id", "material_id", "raw_name", "raw_unit", "raw_price", "status", "attempts", "last_error", "ctime", "mtime"}

func (r *ProcessingRepo) CreateBatch(ctx context.Context, items []*model.ProcessingResult) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		rows = append(rows, map[string]interface{}{
			"id":          item.ID,
			"batch_id":    item.BatchID,
			"material_id": item.MaterialID,
			"raw_name":    item.RawName,
			"raw_unit":    item.RawUnit,
			"raw_price":   item.RawPrice,
			"status":      item.Status,
			"attempts":    item.Attempts,
			"last_error":  item.LastError,
			"ctime":       item.Ctime,
			"mtime":       item.Mtime,
		})
	}
	query, args, err := builder.BuildInsert("processing_results", rows)
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

func (r *ProcessingRepo) Get(ctx context.Context, id string) (*model.ProcessingResult, error) {
	query, args, err := builder.BuildSelect("processing_results",
		map[string]interface{}{"id": id}, processingFields)
	if err != nil {
		return nil, err
	}
	query, args = dbutil.Finalize(query, args)
	row := r.db.QueryRowContext(ctx, query, args...)
	item, err := scanProcessing(row)
	if err == sql.ErrNoRows {
		return nil, appErr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (r *ProcessingRepo) ListByBatch(ctx context.Context, batchID string, statuses []string) ([]*model.ProcessingResult, error) {
	where := map[string]interface{}{
		"batch_id": batchID,
		"_orderby": "ctime asc",
	}
	if len(statuses) > 0 {
		where["status in"] = statuses
	}
	query, args, err := builder.BuildSelect("processing_results", where, processingFields)
	if err != nil {
		return nil, err
	}
	query, args = dbutil.Finalize(query, args)
	return r.queryList(ctx, query, args)
}

// ListRetryable returns failed rows still below the attempt cap, oldest
// first, for the cron retry job.
func (r *ProcessingRepo) ListRetryable(ctx context.Context, maxAttempts, limit int) ([]*model.ProcessingResult, error) {
	query, args := dbutil.Finalize(`
		SELECT `+processingColumns+`
		FROM processing_results
		WHERE status = ? AND attempts < ?
		ORDER BY mtime ASC
		LIMIT ?
	`, []interface{}{model.ProcessingStatusFailed, maxAttempts, limit})
	return r.queryList(ctx, query, args)
}

func (r *ProcessingRepo) MarkProcessing(ctx context.Context, id string) error {
	return r.update(ctx, id, map[string]interface{}{
		"status":   model.ProcessingStatusProcessing,
		"attempts": builderRaw("attempts + 1"),
	})
}

func (r *ProcessingRepo) MarkCompleted(ctx context.Context, id, materialID string) error {
	return r.update(ctx, id, map[string]interface{}{
		"status":      model.ProcessingStatusCompleted,
		"material_id": materialID,
		"last_error":  "",
	})
}

func (r *ProcessingRepo) MarkFailed(ctx context.Context, id, lastError string) error {
	return r.update(ctx, id, map[string]interface{}{
		"status":     model.ProcessingStatusFailed,
		"last_error": lastError,
	})
}

// RequeueFailed flips failed rows of a batch back to pending and resets
// their attempt counters.
func (r *ProcessingRepo) RequeueFailed(ctx context.Context, batchID string) (int64, error) {
	query, args := dbutil.Finalize(`
		UPDATE processing_results
		SET status = ?, attempts = 0, last_error = '', mtime = ?
		WHERE batch_id = ? AND status = ?
	`, []interface{}{model.ProcessingStatusPending, timeutil.NowUnix(), batchID, model.ProcessingStatusFailed})
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *ProcessingRepo) update(ctx context.Context, id string, fields map[string]interface{}) error {
	// attempts needs an expression update, which gendry cannot build
	setClause := "mtime = ?"
	args := []interface{}{timeutil.NowUnix()}
	for key, value := range fields {
		if raw, ok := value.(rawExpr); ok {
			setClause += ", " + key + " = " + string(raw)
			continue
		}
		setClause += ", " + key + " = ?"
		args = append(args, value)
	}
	args = append(args, id)
	query, args := dbutil.Finalize(
		"UPDATE processing_results SET "+setClause+" WHERE id = ?", args)
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *ProcessingRepo) queryList(ctx context.Context, query string, args []interface{}) ([]*model.ProcessingResult, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []*model.ProcessingResult
	for rows.Next() {
		item, err := scanProcessing(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, item)
	}
	return results, rows.Err()
}

type rawExpr string

func builderRaw(expr string) rawExpr {
	return rawExpr(expr)
}

func scanProcessing(row rowScanner) (*model.ProcessingResult, error) {
	var item model.ProcessingResult
	if err := row.Scan(
		&item.ID, &item.BatchID, &item.MaterialID, &item.RawName, &item.RawUnit,
		&item.RawPrice, &item.Status, &item.Attempts, &item.LastError,
		&item.Ctime, &item.Mtime,
	); err != nil {
		return nil, err
	}
	return &item, nil
}
