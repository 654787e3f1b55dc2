package parser

import (
	"context"

	"github.com/stroymat/matrag/internal/ai"
	"github.com/stroymat/matrag/internal/model"
)

// MaterialParser is implemented by ai.Manager; tests substitute fakes.
type MaterialParser interface {
	ParseMaterial(ctx context.Context, name, unit string, price float64) (*ai.MaterialFields, error)
}

// AIParser turns the model's structured fields into a ParsedMaterial,
// normalizing units through the same alias table the regex path uses.
type AIParser struct {
	manager MaterialParser
}

func NewAIParser(manager MaterialParser) *AIParser {
	return &AIParser{manager: manager}
}

func (p *AIParser) Parse(ctx context.Context, name, unit string, price float64) (*model.ParsedMaterial, error) {
	fields, err := p.manager.ParseMaterial(ctx, name, unit, price)
	if err != nil {
		return nil, err
	}
	normalized, _ := NormalizeUnit(fields.Unit)
	if normalized == "" {
		normalized, _ = NormalizeUnit(unit)
	}
	result := &model.ParsedMaterial{
		Name:         fields.Name,
		OriginalName: name,
		Unit:         normalized,
		Coefficient:  fields.Coefficient,
		Price:        price,
		Brand:        fields.Brand,
		Confidence:   fields.Confidence,
		ParseMethod:  MethodAI,
	}
	if result.Coefficient <= 0 {
		result.Coefficient = 1
	}
	if result.Price > 0 {
		result.PricePerUnit = result.Price / result.Coefficient
	}
	return result, nil
}
