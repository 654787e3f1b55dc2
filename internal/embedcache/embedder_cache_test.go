package embedcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	c.calls++
	return []float32{float32(len(text)), float32(c.calls)}, nil
}

func (c *countingEmbedder) ModelName() string {
	return "counting-model"
}

func TestLruEmbedder_CachesByTextAndTaskType(t *testing.T) {
	inner := &countingEmbedder{}
	e := WrapLruCacheToEmbedder(inner, 16, time.Minute)
	ctx := context.Background()

	first, err := e.Embed(ctx, "цемент", "RETRIEVAL_QUERY")
	require.NoError(t, err)
	require.Equal(t, 1, inner.calls)

	second, err := e.Embed(ctx, "цемент", "RETRIEVAL_QUERY")
	require.NoError(t, err)
	require.Equal(t, 1, inner.calls)
	require.Equal(t, first, second)

	_, err = e.Embed(ctx, "цемент", "RETRIEVAL_DOCUMENT")
	require.NoError(t, err)
	require.Equal(t, 2, inner.calls)

	_, err = e.Embed(ctx, "песок", "RETRIEVAL_QUERY")
	require.NoError(t, err)
	require.Equal(t, 3, inner.calls)
}

func TestLruEmbedder_ReturnsCopy(t *testing.T) {
	inner := &countingEmbedder{}
	e := WrapLruCacheToEmbedder(inner, 16, time.Minute)
	ctx := context.Background()

	first, err := e.Embed(ctx, "цемент", "RETRIEVAL_QUERY")
	require.NoError(t, err)
	first[0] = -1

	second, err := e.Embed(ctx, "цемент", "RETRIEVAL_QUERY")
	require.NoError(t, err)
	require.NotEqual(t, float32(-1), second[0])
}

func TestWrapLruCacheToEmbedder_DisabledPassthrough(t *testing.T) {
	inner := &countingEmbedder{}
	require.Equal(t, (interface{})(inner), (interface{})(WrapLruCacheToEmbedder(inner, 0, time.Minute)))
	require.Equal(t, (interface{})(inner), (interface{})(WrapLruCacheToEmbedder(inner, 16, 0)))
	require.Nil(t, WrapLruCacheToEmbedder(nil, 16, time.Minute))
}

func TestBuildCacheKey(t *testing.T) {
	key1, hash1, modelName := buildCacheKey("m", "doc", "цемент")
	key2, hash2, _ := buildCacheKey("m", "doc", "цемент")
	require.Equal(t, key1, key2)
	require.Equal(t, hash1, hash2)
	require.Equal(t, "m", modelName)

	_, hash3, _ := buildCacheKey("m", "doc", "песок")
	require.NotEqual(t, hash1, hash3)

	key4, _, fallbackModel := buildCacheKey("  ", "doc", "цемент")
	require.Equal(t, "unknown", fallbackModel)
	require.NotEqual(t, key1, key4)
}
