package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/stroymat/matrag/internal/fallback"
	"github.com/stroymat/matrag/internal/model"
	appErr "github.com/stroymat/matrag/internal/pkg/errors"
	"github.com/stroymat/matrag/internal/pkg/timeutil"
	"github.com/stroymat/matrag/internal/repo"
	"github.com/stroymat/matrag/internal/vector"
)

// Parser abstracts the hybrid parser for tests.
type Parser interface {
	Parse(ctx context.Context, name, unit string, price float64) (*model.ParsedMaterial, error)
	ParseEnhanced(ctx context.Context, name, unit string, price float64) (*model.ParsedMaterial, error)
}

// Embedder matches ai.IEmbedder.
type Embedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	ModelName() string
}

type MaterialService struct {
	parser        Parser
	embedder      Embedder
	materials     *repo.MaterialRepo
	search        *fallback.Manager
	maxInputChars int
}

func NewMaterialService(parser Parser, embedder Embedder, materials *repo.MaterialRepo, search *fallback.Manager, maxInputChars int) *MaterialService {
	return &MaterialService{
		parser:        parser,
		embedder:      embedder,
		materials:     materials,
		search:        search,
		maxInputChars: maxInputChars,
	}
}

type ProcessInput struct {
	Name  string
	Unit  string
	Price float64
}

// Parse runs the parsing pipeline without persisting anything.
func (s *MaterialService) Parse(ctx context.Context, in ProcessInput, enhanced bool) (*model.ParsedMaterial, error) {
	name, err := s.cleanName(in.Name)
	if err != nil {
		return nil, err
	}
	if enhanced {
		return s.parser.ParseEnhanced(ctx, name, in.Unit, in.Price)
	}
	return s.parser.Parse(ctx, name, in.Unit, in.Price)
}

// Process parses one material, embeds it, persists it to Postgres and
// mirrors it into the vector index.
func (s *MaterialService) Process(ctx context.Context, in ProcessInput, enhanced bool) (*model.Material, error) {
	parsed, err := s.Parse(ctx, in, enhanced)
	if err != nil {
		return nil, err
	}
	logger := logutil.GetLogger(ctx).With(zap.String("name", parsed.Name), zap.String("method", parsed.ParseMethod))

	textToEmbed := embeddingText(parsed)
	embedding, err := s.embedder.Embed(ctx, textToEmbed, "RETRIEVAL_DOCUMENT")
	if err != nil {
		logger.Error("failed to embed material", zap.Error(err))
		return nil, fmt.Errorf("embed material: %w", err)
	}

	now := timeutil.NowUnix()
	material := &model.Material{
		ID:             newID(),
		Name:           parsed.OriginalName,
		ParsedName:     parsed.Name,
		Unit:           parsed.Unit,
		Price:          parsed.Price,
		PricePerUnit:   parsed.PricePerUnit,
		Brand:          parsed.Brand,
		Coefficient:    parsed.Coefficient,
		Confidence:     parsed.Confidence,
		ParseMethod:    parsed.ParseMethod,
		Embedding:      embedding,
		EmbeddingModel: s.embedder.ModelName(),
		Ctime:          now,
		Mtime:          now,
	}
	if existing, err := s.materials.GetByName(ctx, material.Name); err == nil {
		// Re-processing the same raw name updates the stored row.
		material.ID = existing.ID
		material.Ctime = existing.Ctime
	}
	if err := s.materials.Save(ctx, material); err != nil {
		logger.Error("failed to save material", zap.Error(err))
		return nil, fmt.Errorf("save material: %w", err)
	}
	if s.search != nil {
		s.search.Upsert(ctx, []vector.Point{{
			ID:     material.ID,
			Vector: embedding,
			Payload: map[string]interface{}{
				"name":  material.ParsedName,
				"unit":  material.Unit,
				"price": material.Price,
			},
		}})
	}
	logger.Info("material processed", zap.String("id", material.ID), zap.Float64("confidence", material.Confidence))
	return material, nil
}

func (s *MaterialService) Get(ctx context.Context, id string) (*model.Material, error) {
	return s.materials.GetByID(ctx, id)
}

// Delete removes the material from Postgres and drops its point from
// the vector index.
func (s *MaterialService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return appErr.ErrInvalid
	}
	if err := s.materials.Delete(ctx, id); err != nil {
		return err
	}
	if s.search != nil {
		s.search.Delete(ctx, []string{id})
	}
	logutil.GetLogger(ctx).Info("material deleted", zap.String("id", id))
	return nil
}

func (s *MaterialService) cleanName(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", appErr.ErrInvalid
	}
	if s.maxInputChars > 0 && len(trimmed) > s.maxInputChars {
		return "", appErr.ErrInvalid
	}
	return trimmed, nil
}

// embeddingText mixes the cleaned name with unit and brand to improve
// recall on unit-qualified queries.
func embeddingText(parsed *model.ParsedMaterial) string {
	parts := []string{parsed.Name}
	if parsed.Brand != "" {
		parts = append(parts, parsed.Brand)
	}
	if parsed.Unit != "" {
		parts = append(parts, parsed.Unit)
	}
	return strings.Join(parts, " ")
}
