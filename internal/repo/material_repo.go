package repo

import (
	"context"
	"database/sql"

	"github.com/pgvector/pgvector-go"

	"github.com/stroymat/matrag/internal/model"
	"github.com/stroymat/matrag/internal/pkg/dbutil"
	appErr "github.com/stroymat/matrag/internal/pkg/errors"
)

type MaterialRepo struct {
	db *sql.DB
}

func NewMaterialRepo(db *sql.DB) *MaterialRepo {
	return &MaterialRepo{db: db}
}

const materialColumns = `id, name, parsed_name, unit, price, price_per_unit, brand, coefficient, confidence, parse_method, embedding_model, ctime, mtime`

func (r *MaterialRepo) Save(ctx context.Context, m *model.Material) error {
	query := `
		INSERT INTO materials (` + materialColumns + `, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			parsed_name = EXCLUDED.parsed_name,
			unit = EXCLUDED.unit,
			price = EXCLUDED.price,
			price_per_unit = EXCLUDED.price_per_unit,
			brand = EXCLUDED.brand,
			coefficient = EXCLUDED.coefficient,
			confidence = EXCLUDED.confidence,
			parse_method = EXCLUDED.parse_method,
			embedding = EXCLUDED.embedding,
			embedding_model = EXCLUDED.embedding_model,
			mtime = EXCLUDED.mtime
	`
	var embedding interface{}
	if len(m.Embedding) > 0 {
		embedding = pgvector.NewVector(m.Embedding)
	}
	args := []interface{}{
		m.ID, m.Name, m.ParsedName, m.Unit, m.Price, m.PricePerUnit, m.Brand,
		m.Coefficient, m.Confidence, m.ParseMethod, m.EmbeddingModel,
		m.Ctime, m.Mtime, embedding,
	}
	query, args = dbutil.Finalize(query, args)
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *MaterialRepo) GetByID(ctx context.Context, id string) (*model.Material, error) {
	query, args := dbutil.Finalize(
		`SELECT `+materialColumns+` FROM materials WHERE id = ?`,
		[]interface{}{id},
	)
	row := r.db.QueryRowContext(ctx, query, args...)
	item, err := scanMaterial(row)
	if err == sql.ErrNoRows {
		return nil, appErr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (r *MaterialRepo) GetByName(ctx context.Context, name string) (*model.Material, error) {
	query, args := dbutil.Finalize(
		`SELECT `+materialColumns+` FROM materials WHERE name = ? ORDER BY mtime DESC LIMIT 1`,
		[]interface{}{name},
	)
	row := r.db.QueryRowContext(ctx, query, args...)
	item, err := scanMaterial(row)
	if err == sql.ErrNoRows {
		return nil, appErr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (r *MaterialRepo) GetByIDs(ctx context.Context, ids []string) (map[string]*model.Material, error) {
	result := make(map[string]*model.Material, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	placeholders := ""
	args := make([]interface{}, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, id)
	}
	query, args := dbutil.Finalize(
		`SELECT `+materialColumns+` FROM materials WHERE id IN (`+placeholders+`)`,
		args,
	)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		item, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		result[item.ID] = item
	}
	return result, rows.Err()
}

// SearchByVector is the pgvector side of the search fallback: cosine
// distance over the embedding column, score reported as 1 - distance.
func (r *MaterialRepo) SearchByVector(ctx context.Context, embedding []float32, limit int) ([]model.ScoredMaterial, error) {
	query, args := dbutil.Finalize(`
		SELECT `+materialColumns+`, 1 - (embedding <=> ?) AS score
		FROM materials
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> ?
		LIMIT ?
	`, []interface{}{pgvector.NewVector(embedding), pgvector.NewVector(embedding), limit})
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.ScoredMaterial
	for rows.Next() {
		var item model.Material
		var score float64
		if err := rows.Scan(
			&item.ID, &item.Name, &item.ParsedName, &item.Unit, &item.Price,
			&item.PricePerUnit, &item.Brand, &item.Coefficient, &item.Confidence,
			&item.ParseMethod, &item.EmbeddingModel, &item.Ctime, &item.Mtime,
			&score,
		); err != nil {
			return nil, err
		}
		results = append(results, model.ScoredMaterial{Material: &item, Score: float32(score)})
	}
	return results, rows.Err()
}

func (r *MaterialRepo) Delete(ctx context.Context, id string) error {
	query, args := dbutil.Finalize(`DELETE FROM materials WHERE id = ?`, []interface{}{id})
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *MaterialRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM materials`).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMaterial(row rowScanner) (*model.Material, error) {
	var item model.Material
	if err := row.Scan(
		&item.ID, &item.Name, &item.ParsedName, &item.Unit, &item.Price,
		&item.PricePerUnit, &item.Brand, &item.Coefficient, &item.Confidence,
		&item.ParseMethod, &item.EmbeddingModel, &item.Ctime, &item.Mtime,
	); err != nil {
		return nil, err
	}
	return &item, nil
}
