package telemetry

import (
	"context"
	"time"

	"github.com/openecm/ragsearch/internal/embed"
)

// InstrumentedEmbedder counts embedding service calls around an inner
// embedder.
type InstrumentedEmbedder struct {
	inner   embed.Embedder
	metrics *Metrics
}

var _ embed.Embedder = (*InstrumentedEmbedder)(nil)

// InstrumentEmbedder wraps an embedder with call metrics.
func InstrumentEmbedder(inner embed.Embedder, m *Metrics) *InstrumentedEmbedder {
	return &InstrumentedEmbedder{inner: inner, metrics: m}
}

func (e *InstrumentedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	v, err := e.inner.Embed(ctx, text)
	e.metrics.ObserveEmbedding(1, time.Since(start), err)
	return v, err
}

func (e *InstrumentedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vs, err := e.inner.EmbedBatch(ctx, texts)
	e.metrics.ObserveEmbedding(len(texts), time.Since(start), err)
	return vs, err
}

func (e *InstrumentedEmbedder) Dimensions() int { return e.inner.Dimensions() }

func (e *InstrumentedEmbedder) ModelName() string { return e.inner.ModelName() }

func (e *InstrumentedEmbedder) Available(ctx context.Context) bool { return e.inner.Available(ctx) }

func (e *InstrumentedEmbedder) Close() error { return e.inner.Close() }
