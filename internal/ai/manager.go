package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type ManagerConfig struct {
	Timeout       int
	MaxInputChars int
}

type Manager struct {
	parser   IGenerator
	embedder IEmbedder
	cfg      ManagerConfig
}

func NewManager(parser IGenerator, embedder IEmbedder, cfg ManagerConfig) *Manager {
	return &Manager{
		parser:   parser,
		embedder: embedder,
		cfg:      cfg,
	}
}

// MaterialFields is the structured output of the parsing prompt.
type MaterialFields struct {
	Name        string  `json:"name"`
	Unit        string  `json:"unit"`
	Coefficient float64 `json:"coefficient"`
	Brand       string  `json:"brand"`
	Confidence  float64 `json:"confidence"`
}

func (m *Manager) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if m.embedder == nil {
		return nil, fmt.Errorf("embedder not configured")
	}
	return m.embedder.Embed(ctx, text, taskType)
}

// ParseMaterial asks the model to decompose a raw construction material
// name into structured fields.
func (m *Manager) ParseMaterial(ctx context.Context, name, unit string, price float64) (*MaterialFields, error) {
	if m.parser == nil {
		return nil, fmt.Errorf("parser not configured")
	}
	prompt := fmt.Sprintf(`You are a construction materials catalog assistant.
Decompose the raw material entry below into structured fields.
- "name": the clean material name without packaging/marketing noise.
- "unit": the base selling unit, one of: шт, м, м2, м3, кг, т, л, упак, рул, лист, пог.м, компл. Keep the original unit if none fits.
- "coefficient": items per package when the name states one (e.g. "(50 шт/упак)" -> 50). Use 1 when absent.
- "brand": manufacturer or brand if present, otherwise "".
- "confidence": your confidence in this decomposition, 0.0 to 1.0.
- Return a single JSON object with exactly these keys. No extra text.

ENTRY:
name: %s
unit: %s
price: %.2f`, name, unit, price)
	raw, err := m.generateText(ctx, m.parser, prompt)
	if err != nil {
		return nil, err
	}
	return parseMaterialFields(raw)
}

func (m *Manager) generateText(ctx context.Context, gen IGenerator, prompt string) (string, error) {
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(m.cfg.Timeout)*time.Second)
		defer cancel()
	}
	resp, err := gen.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp)
	if text == "" {
		return "", fmt.Errorf("empty ai response")
	}
	return text, nil
}

func (m *Manager) MaxInputChars() int {
	return m.cfg.MaxInputChars
}

// ModelName reports the embedding model, for cache keys and the
// stored embedding_model column.
func (m *Manager) ModelName() string {
	if m.embedder == nil {
		return ""
	}
	return m.embedder.ModelName()
}

func parseMaterialFields(output string) (*MaterialFields, error) {
	clean := extractJSONObject(output)
	var fields MaterialFields
	if err := json.Unmarshal([]byte(clean), &fields); err != nil {
		repaired := repairJSON(clean)
		if err2 := json.Unmarshal([]byte(repaired), &fields); err2 != nil {
			return nil, fmt.Errorf("parse material fields: %w", err)
		}
	}
	fields.Name = strings.TrimSpace(fields.Name)
	if fields.Name == "" {
		return nil, fmt.Errorf("material fields missing name")
	}
	fields.Unit = strings.TrimSpace(fields.Unit)
	fields.Brand = strings.TrimSpace(fields.Brand)
	if fields.Coefficient <= 0 {
		fields.Coefficient = 1
	}
	if fields.Confidence < 0 {
		fields.Confidence = 0
	}
	if fields.Confidence > 1 {
		fields.Confidence = 1
	}
	return &fields, nil
}
