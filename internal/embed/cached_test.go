package embed

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder wraps StaticEmbedder and counts upstream calls.
type countingEmbedder struct {
	*StaticEmbedder
	embedCalls int64
	batchCalls int64
	batchTexts int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	atomic.AddInt64(&c.embedCalls, 1)
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt64(&c.batchCalls, 1)
	atomic.AddInt64(&c.batchTexts, int64(len(texts)))
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_RepeatedQueryHitsCache(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	cached := NewCachedEmbedder(inner, 10)

	v1, err := cached.Embed(ctx, "where is the lease agreement")
	require.NoError(t, err)
	v2, err := cached.Embed(ctx, "where is the lease agreement")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int64(1), atomic.LoadInt64(&inner.embedCalls))
}

func TestCachedEmbedder_BatchPartialHit(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	cached := NewCachedEmbedder(inner, 10)

	_, err := cached.Embed(ctx, "alpha")
	require.NoError(t, err)

	vecs, err := cached.EmbedBatch(ctx, []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	// Only the two uncached texts go upstream.
	assert.Equal(t, int64(1), atomic.LoadInt64(&inner.batchCalls))
	assert.Equal(t, int64(2), atomic.LoadInt64(&inner.batchTexts))

	direct, err := NewStaticEmbedder().Embed(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, direct, vecs[1])
}

func TestCachedEmbedder_EmptyBatch(t *testing.T) {
	ctx := context.Background()
	cached := NewCachedEmbedder(NewStaticEmbedder(), 10)

	vecs, err := cached.EmbedBatch(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestCachedEmbedder_Passthrough(t *testing.T) {
	inner := NewStaticEmbedder()
	cached := NewCachedEmbedder(inner, 10)

	assert.Equal(t, StaticDimensions, cached.Dimensions())
	assert.Equal(t, inner.ModelName(), cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.NoError(t, cached.Close())
}
