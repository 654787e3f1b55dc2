package parser

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/stroymat/matrag/internal/model"
)

// HybridParser runs the regex pass first and consults the model only
// when the cheap pass is not confident enough. A model failure never
// fails the parse: the regex result is always a valid answer.
type HybridParser struct {
	regex     *RegexParser
	ai        *AIParser
	threshold float64
}

func NewHybridParser(regex *RegexParser, ai *AIParser, threshold float64) *HybridParser {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}
	return &HybridParser{regex: regex, ai: ai, threshold: threshold}
}

func (p *HybridParser) Parse(ctx context.Context, name, unit string, price float64) (*model.ParsedMaterial, error) {
	return p.parse(ctx, name, unit, price, false)
}

// ParseEnhanced always consults the model, even when the regex pass is
// confident.
func (p *HybridParser) ParseEnhanced(ctx context.Context, name, unit string, price float64) (*model.ParsedMaterial, error) {
	return p.parse(ctx, name, unit, price, true)
}

func (p *HybridParser) parse(ctx context.Context, name, unit string, price float64, forceAI bool) (*model.ParsedMaterial, error) {
	fromRegex := p.regex.Parse(name, unit, price)
	if !forceAI && fromRegex.Confidence >= p.threshold {
		return fromRegex, nil
	}
	if p.ai == nil {
		return fromRegex, nil
	}
	fromAI, err := p.ai.Parse(ctx, name, unit, price)
	if err != nil {
		logutil.GetLogger(ctx).Warn("ai parse failed, keeping regex result",
			zap.String("name", name), zap.Error(err))
		return fromRegex, nil
	}
	return merge(fromRegex, fromAI), nil
}

// merge prefers the model's fields and fills gaps from the regex pass.
func merge(fromRegex, fromAI *model.ParsedMaterial) *model.ParsedMaterial {
	result := *fromAI
	usedRegex := false
	if result.Unit == "" && fromRegex.Unit != "" {
		result.Unit = fromRegex.Unit
		usedRegex = true
	}
	if result.Brand == "" && fromRegex.Brand != "" {
		result.Brand = fromRegex.Brand
		usedRegex = true
	}
	if result.Coefficient <= 1 && fromRegex.Coefficient > 1 {
		result.Coefficient = fromRegex.Coefficient
		usedRegex = true
	}
	if result.Price == 0 && fromRegex.Price > 0 {
		result.Price = fromRegex.Price
		usedRegex = true
	}
	if result.Price > 0 && result.Coefficient > 0 {
		result.PricePerUnit = result.Price / result.Coefficient
	}
	if usedRegex {
		result.ParseMethod = MethodHybrid
		if fromRegex.Confidence > result.Confidence {
			result.Confidence = fromRegex.Confidence
		}
	}
	return &result
}
