package parser

import "strings"

// Base selling units used across construction price lists.
const (
	UnitPiece   = "шт"
	UnitMeter   = "м"
	UnitM2      = "м2"
	UnitM3      = "м3"
	UnitKg      = "кг"
	UnitTon     = "т"
	UnitLiter   = "л"
	UnitPack    = "упак"
	UnitRoll    = "рул"
	UnitSheet   = "лист"
	UnitRunningM = "пог.м"
	UnitSet     = "компл"
)

var unitAliases = map[string]string{
	"шт":             UnitPiece,
	"шт.":            UnitPiece,
	"штука":          UnitPiece,
	"штук":           UnitPiece,
	"штуки":          UnitPiece,
	"pcs":            UnitPiece,
	"м":              UnitMeter,
	"м.":             UnitMeter,
	"метр":           UnitMeter,
	"м2":             UnitM2,
	"м²":             UnitM2,
	"кв.м":           UnitM2,
	"кв.м.":          UnitM2,
	"кв м":           UnitM2,
	"м3":             UnitM3,
	"м³":             UnitM3,
	"куб.м":          UnitM3,
	"куб.м.":         UnitM3,
	"куб м":          UnitM3,
	"кг":             UnitKg,
	"кг.":            UnitKg,
	"килограмм":      UnitKg,
	"т":              UnitTon,
	"тн":             UnitTon,
	"тонна":          UnitTon,
	"л":              UnitLiter,
	"л.":             UnitLiter,
	"литр":           UnitLiter,
	"упак":           UnitPack,
	"упак.":          UnitPack,
	"уп":             UnitPack,
	"уп.":            UnitPack,
	"упаковка":       UnitPack,
	"рул":            UnitRoll,
	"рул.":           UnitRoll,
	"рулон":          UnitRoll,
	"лист":           UnitSheet,
	"л-т":            UnitSheet,
	"пог.м":          UnitRunningM,
	"пог.м.":         UnitRunningM,
	"п.м":            UnitRunningM,
	"п.м.":           UnitRunningM,
	"пм":             UnitRunningM,
	"погонный метр":  UnitRunningM,
	"компл":          UnitSet,
	"компл.":         UnitSet,
	"комплект":       UnitSet,
	"к-т":            UnitSet,
}

// NormalizeUnit maps a raw unit spelling onto the base vocabulary. The
// second result reports whether the spelling was recognized; unknown
// units come back lowercased and trimmed.
func NormalizeUnit(raw string) (string, bool) {
	unit := strings.ToLower(strings.TrimSpace(raw))
	if unit == "" {
		return "", false
	}
	if normalized, ok := unitAliases[unit]; ok {
		return normalized, true
	}
	return unit, false
}
