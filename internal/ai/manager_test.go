package ai

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMaterialFields_PlainJSON(t *testing.T) {
	got, err := parseMaterialFields(`{"name":"Гипсокартон Кнауф","unit":"шт","coefficient":50,"brand":"Кнауф","confidence":0.92}`)
	require.NoError(t, err)
	require.Equal(t, "Гипсокартон Кнауф", got.Name)
	require.Equal(t, "шт", got.Unit)
	require.InDelta(t, 50.0, got.Coefficient, 1e-9)
	require.Equal(t, "Кнауф", got.Brand)
	require.InDelta(t, 0.92, got.Confidence, 1e-9)
}

func TestParseMaterialFields_FencedWithChatter(t *testing.T) {
	output := "Вот результат разбора:\n```json\n{\"name\": \"Пена монтажная\", \"unit\": \"шт\", \"confidence\": 0.8}\n```"
	got, err := parseMaterialFields(output)
	require.NoError(t, err)
	require.Equal(t, "Пена монтажная", got.Name)
	require.InDelta(t, 1.0, got.Coefficient, 1e-9)
}

func TestParseMaterialFields_RepairsBrokenKeyQuote(t *testing.T) {
	got, err := parseMaterialFields(`{"name": "Профиль", unit": "м", "confidence": 0.7}`)
	require.NoError(t, err)
	require.Equal(t, "Профиль", got.Name)
	require.Equal(t, "м", got.Unit)
}

func TestParseMaterialFields_ClampsConfidence(t *testing.T) {
	got, err := parseMaterialFields(`{"name":"Смесь","confidence":1.7}`)
	require.NoError(t, err)
	require.InDelta(t, 1.0, got.Confidence, 1e-9)

	got, err = parseMaterialFields(`{"name":"Смесь","confidence":-0.2}`)
	require.NoError(t, err)
	require.Zero(t, got.Confidence)
}

func TestParseMaterialFields_MissingName(t *testing.T) {
	_, err := parseMaterialFields(`{"unit":"шт","confidence":0.9}`)
	require.Error(t, err)
}

func TestParseMaterialFields_Garbage(t *testing.T) {
	_, err := parseMaterialFields("извините, не могу разобрать эту позицию")
	require.Error(t, err)
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		output string
	}{
		{
			name:   "bare object",
			input:  `{"a":1}`,
			output: `{"a":1}`,
		},
		{
			name:   "fenced",
			input:  "```json\n{\"a\":1}\n```",
			output: `{"a":1}`,
		},
		{
			name:   "chatter around object",
			input:  "sure, here you go: {\"a\":1}. anything else?",
			output: `{"a":1}`,
		},
		{
			name:   "no object at all",
			input:  "no json here",
			output: "no json here",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.output, extractJSONObject(tt.input))
		})
	}
}

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		output string
	}{
		{
			name:   "missing quote after comma",
			input:  `{"a": 1, b": 2}`,
			output: `{"a": 1, "b": 2}`,
		},
		{
			name:   "missing quote after brace",
			input:  `{a": 1}`,
			output: `{"a": 1}`,
		},
		{
			name:   "valid json untouched",
			input:  `{"a": 1, "b": "x"}`,
			output: `{"a": 1, "b": "x"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.output, repairJSON(tt.input))
		})
	}
}
