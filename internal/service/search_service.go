package service

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/stroymat/matrag/internal/fallback"
	"github.com/stroymat/matrag/internal/model"
	appErr "github.com/stroymat/matrag/internal/pkg/errors"
	"github.com/stroymat/matrag/internal/repo"
)

type SearchService struct {
	embedder  Embedder
	search    *fallback.Manager
	materials *repo.MaterialRepo
	limit     int
	threshold float64
}

func NewSearchService(embedder Embedder, search *fallback.Manager, materials *repo.MaterialRepo, limit int, threshold float64) *SearchService {
	if limit <= 0 {
		limit = 10
	}
	return &SearchService{
		embedder:  embedder,
		search:    search,
		materials: materials,
		limit:     limit,
		threshold: threshold,
	}
}

type SearchResult struct {
	Items   []model.ScoredMaterial `json:"items"`
	Backend string                 `json:"backend"`
}

// Search embeds the query and runs it against the active vector
// backend, loading the matched materials from Postgres.
func (s *SearchService) Search(ctx context.Context, query string, limit int) (*SearchResult, error) {
	if query == "" {
		return nil, appErr.ErrInvalid
	}
	if limit <= 0 || limit > 100 {
		limit = s.limit
	}
	logger := logutil.GetLogger(ctx).With(zap.String("query", query))
	embedding, err := s.embedder.Embed(ctx, query, "RETRIEVAL_QUERY")
	if err != nil {
		logger.Error("failed to embed search query", zap.Error(err))
		return nil, appErr.ErrAIUnavailable
	}
	hits, backend, err := s.search.Search(ctx, embedding, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(hits))
	for _, hit := range hits {
		if float64(hit.Score) < s.threshold {
			continue
		}
		ids = append(ids, hit.MaterialID)
	}
	loaded, err := s.materials.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	items := make([]model.ScoredMaterial, 0, len(ids))
	for _, hit := range hits {
		material, ok := loaded[hit.MaterialID]
		if !ok {
			continue
		}
		logger.Debug("search match", zap.String("material_id", hit.MaterialID), zap.Float32("score", hit.Score))
		items = append(items, model.ScoredMaterial{Material: material, Score: hit.Score})
	}
	return &SearchResult{Items: items, Backend: backend}, nil
}
