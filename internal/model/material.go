package model

type Material struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	ParsedName     string    `json:"parsed_name"`
	Unit           string    `json:"unit"`
	Price          float64   `json:"price"`
	PricePerUnit   float64   `json:"price_per_unit"`
	Brand          string    `json:"brand,omitempty"`
	Coefficient    float64   `json:"coefficient"`
	Confidence     float64   `json:"confidence"`
	ParseMethod    string    `json:"parse_method"`
	Embedding      []float32 `json:"-"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	Ctime          int64     `json:"ctime"`
	Mtime          int64     `json:"mtime"`
}

// ParsedMaterial is the parse result before persistence. Coefficient is
// the package-to-base-unit multiplier ("(50 шт/упак)" -> 50).
type ParsedMaterial struct {
	Name         string  `json:"name"`
	OriginalName string  `json:"original_name"`
	Unit         string  `json:"unit"`
	Coefficient  float64 `json:"unit_coefficient"`
	Price        float64 `json:"price"`
	PricePerUnit float64 `json:"price_per_unit"`
	Brand        string  `json:"brand,omitempty"`
	Confidence   float64 `json:"confidence"`
	ParseMethod  string  `json:"parse_method"`
}

type ScoredMaterial struct {
	Material *Material `json:"material"`
	Score    float32   `json:"score"`
}
