package ai

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	out   string
	err   error
	calls int
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	return f.out, f.err
}

type fakeEmbedder struct {
	out   []float32
	err   error
	model string
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	return f.out, f.err
}

func (f *fakeEmbedder) ModelName() string {
	return f.model
}

func TestGroupGenerator_FailsOver(t *testing.T) {
	primary := &fakeGenerator{err: fmt.Errorf("quota exceeded")}
	secondary := &fakeGenerator{out: "answer"}
	g := NewGroupGenerator([]GeneratorEntry{
		{Name: "primary", Generator: primary},
		{Name: "secondary", Generator: secondary},
	})

	out, err := g.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	require.Equal(t, "answer", out)
	require.Equal(t, 1, primary.calls)
	require.Equal(t, 1, secondary.calls)
}

func TestGroupGenerator_PrimaryWins(t *testing.T) {
	primary := &fakeGenerator{out: "first"}
	secondary := &fakeGenerator{out: "second"}
	g := NewGroupGenerator([]GeneratorEntry{
		{Name: "primary", Generator: primary},
		{Name: "secondary", Generator: secondary},
	})

	out, err := g.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	require.Equal(t, "first", out)
	require.Zero(t, secondary.calls)
}

func TestGroupGenerator_AllFail(t *testing.T) {
	g := NewGroupGenerator([]GeneratorEntry{
		{Name: "a", Generator: &fakeGenerator{err: fmt.Errorf("down")}},
		{Name: "b", Generator: &fakeGenerator{err: fmt.Errorf("also down")}},
	})

	_, err := g.Generate(context.Background(), "prompt")
	require.ErrorContains(t, err, "also down")
}

func TestGroupEmbedder_ModelNameFromFirst(t *testing.T) {
	g := NewGroupEmbedder([]EmbedderEntry{
		{Name: "a", Embedder: &fakeEmbedder{model: "model-a", err: fmt.Errorf("down")}},
		{Name: "b", Embedder: &fakeEmbedder{model: "model-b", out: []float32{1}}},
	})

	require.Equal(t, "model-a", g.ModelName())
	out, err := g.Embed(context.Background(), "text", "doc")
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestNewGroupGenerator_Empty(t *testing.T) {
	require.Nil(t, NewGroupGenerator(nil))
	require.Nil(t, NewGroupEmbedder(nil))
}
