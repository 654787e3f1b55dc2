package parser

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/stroymat/matrag/internal/model"
)

const (
	MethodRegex  = "regex"
	MethodAI     = "ai"
	MethodHybrid = "hybrid"
)

var (
	// "(50 шт/упак)", "50 шт в упаковке", "шт/упак 50"
	coeffPackRegex = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*шт\.?\s*(?:/|в\s+)упак`)
	// multiplier suffix: "x50", "х50", "×50"; the sign must not follow a
	// digit or letter, or dimensions like "50х100" read as multipliers
	coeffMultRegex = regexp.MustCompile(`(?i)(?:^|[^\d\pL])[xх×]\s*(\d+(?:[.,]\d+)?)(?:\s|$|\))`)
	// trailing unit token inside the name: "..., шт", "... /м2"
	unitTokenRegex = regexp.MustCompile(`(?i)(?:^|[\s,/(])(шт\.?|штук[аи]?|кв\.?\s?м\.?|куб\.?\s?м\.?|пог\.?\s?м\.?|п\.м\.?|м[23²³]|упак\.?|уп\.?|рул(?:он)?\.?|лист|компл(?:ект)?\.?|к-т|кг\.?|тн?|л\.?|м\.?)(?:$|[\s,)])`)
	// embedded price: "250 руб", "250р."
	priceTokenRegex = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(?:руб\.?|р\.)(?:$|[\s,/)])`)

	// \b is ascii-only in go regexp, so spell out the boundaries
	noiseRegex      = regexp.MustCompile(`(?i)(^|[^\pL])(акция|скидка|новинка|хит продаж|распродажа|опт|розница)($|[^\pL])`)
	whitespaceRegex = regexp.MustCompile(`\s{2,}`)
)

var knownBrands = []string{
	"knauf", "кнауф", "ceresit", "церезит", "weber", "ветонит", "vetonit",
	"волма", "старатели", "юнис", "unis", "bergauf", "основит", "litokol",
	"kiilto", "rehau", "tikkurila", "тиккурила", "технониколь", "пеноплэкс",
	"penoplex", "rockwool", "роквул", "изовер", "isover", "ursa",
	"grand line", "металл профиль",
}

// RegexParser extracts structured fields from raw price-list names
// without any model call.
type RegexParser struct{}

func NewRegexParser() *RegexParser {
	return &RegexParser{}
}

func (p *RegexParser) Parse(name, unit string, price float64) *model.ParsedMaterial {
	result := &model.ParsedMaterial{
		OriginalName: name,
		Price:        price,
		Coefficient:  1,
		ParseMethod:  MethodRegex,
		Confidence:   0.3,
	}

	normalized, known := NormalizeUnit(unit)
	if normalized != "" {
		result.Unit = normalized
	}
	if !known {
		if fromName, ok := p.unitFromName(name); ok {
			result.Unit = fromName
			known = true
		}
	}
	if known {
		result.Confidence += 0.3
	}

	if coeff, ok := p.coefficientFromName(name); ok {
		result.Coefficient = coeff
		result.Confidence += 0.2
	}

	if result.Price == 0 {
		if extracted, ok := p.priceFromName(name); ok {
			result.Price = extracted
		}
	}

	if brand := p.brandFromName(name); brand != "" {
		result.Brand = brand
		result.Confidence += 0.2
	}

	if result.Confidence > 1 {
		result.Confidence = 1
	}
	result.Name = p.cleanName(name)
	if result.Coefficient > 0 && result.Price > 0 {
		result.PricePerUnit = result.Price / result.Coefficient
	}
	return result
}

func (p *RegexParser) unitFromName(name string) (string, bool) {
	match := unitTokenRegex.FindStringSubmatch(name)
	if len(match) < 2 {
		return "", false
	}
	return NormalizeUnit(match[1])
}

func (p *RegexParser) coefficientFromName(name string) (float64, bool) {
	if match := coeffPackRegex.FindStringSubmatch(name); len(match) > 1 {
		if value, err := parseDecimal(match[1]); err == nil && value > 0 {
			return value, true
		}
	}
	if match := coeffMultRegex.FindStringSubmatch(name); len(match) > 1 {
		if value, err := parseDecimal(match[1]); err == nil && value > 1 {
			return value, true
		}
	}
	return 0, false
}

func (p *RegexParser) priceFromName(name string) (float64, bool) {
	match := priceTokenRegex.FindStringSubmatch(name)
	if len(match) < 2 {
		return 0, false
	}
	value, err := parseDecimal(match[1])
	if err != nil || value <= 0 {
		return 0, false
	}
	return value, true
}

func (p *RegexParser) brandFromName(name string) string {
	// lowercasing can change byte lengths, so byte offsets found in the
	// lowered copy are translated to rune offsets before slicing name
	lower := strings.ToLower(name)
	for _, brand := range knownBrands {
		idx := strings.Index(lower, brand)
		if idx < 0 {
			continue
		}
		start := utf8.RuneCountInString(lower[:idx])
		count := utf8.RuneCountInString(brand)
		runes := []rune(name)
		if start+count > len(runes) {
			continue
		}
		return strings.TrimSpace(string(runes[start : start+count]))
	}
	return ""
}

func (p *RegexParser) cleanName(name string) string {
	clean := noiseRegex.ReplaceAllString(name, "$1$3")
	clean = coeffPackRegex.ReplaceAllString(clean, "")
	clean = priceTokenRegex.ReplaceAllString(clean, " ")
	clean = strings.Trim(clean, " ,;-()!")
	clean = whitespaceRegex.ReplaceAllString(clean, " ")
	if clean == "" {
		return strings.TrimSpace(name)
	}
	return clean
}

func parseDecimal(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
}
