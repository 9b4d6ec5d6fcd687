package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/openecm/ragsearch/internal/ragerr"
)

// HTTPConfig configures the HTTP embedding service client.
type HTTPConfig struct {
	// Endpoint is the base URL of the embedding service.
	Endpoint string

	// Model is the model identifier sent with each request.
	Model string

	// Dimensions is the expected embedding dimension. Zero means
	// auto-detect from the first response.
	Dimensions int

	// Timeout bounds a single embedding request.
	Timeout time.Duration

	// RateLimit caps requests per second. Zero disables limiting.
	RateLimit float64

	// Retry overrides the retry policy for transient failures. The zero
	// value uses the default policy.
	Retry ragerr.RetryConfig
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// HTTPEmbedder generates embeddings by calling an embedding service over
// HTTP. Transient failures (connection errors, 5xx responses) surface as
// retryable embedding errors.
type HTTPEmbedder struct {
	client  *http.Client
	config  HTTPConfig
	limiter *rate.Limiter
	retry   ragerr.RetryConfig

	mu     sync.RWMutex
	closed bool
	dims   int
}

var _ Embedder = (*HTTPEmbedder)(nil)

// NewHTTPEmbedder creates an embedding service client.
func NewHTTPEmbedder(cfg HTTPConfig) *HTTPEmbedder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = ragerr.DefaultRetryConfig()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &HTTPEmbedder{
		client:  &http.Client{},
		config:  cfg,
		limiter: limiter,
		retry:   cfg.Retry,
		dims:    cfg.Dimensions,
	}
}

// Embed generates an embedding for a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.Dimensions()), nil
	}

	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, ragerr.EmbeddingFailed(fmt.Sprintf("expected 1 embedding, got %d", len(vectors)), nil)
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var vectors [][]float32
	err := ragerr.Retry(ctx, e.retry, func() error {
		var err error
		vectors, err = e.doEmbed(ctx, texts)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.dims == 0 && len(vectors) > 0 {
		e.dims = len(vectors[0])
	}
	e.mu.Unlock()

	return vectors, nil
}

func (e *HTTPEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	body, err := json.Marshal(embedRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, ragerr.EmbeddingFailed("failed to marshal request", err)
	}

	url := strings.TrimRight(e.config.Endpoint, "/") + "/embed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, ragerr.EmbeddingFailed("failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, ragerr.EmbeddingFailed("embedding service unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, ragerr.EmbeddingFailed(
			fmt.Sprintf("embedding failed with status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, ragerr.EmbeddingFailed("failed to decode response", err)
	}

	if len(result.Embeddings) != len(texts) {
		return nil, ragerr.EmbeddingFailed(
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(result.Embeddings)), nil)
	}
	return result.Embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *HTTPEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.dims > 0 {
		return e.dims
	}
	return DefaultDimensions
}

// ModelName returns the model identifier.
func (e *HTTPEmbedder) ModelName() string {
	return e.config.Model
}

// Available checks if the embedding service responds to a health probe.
func (e *HTTPEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := strings.TrimRight(e.config.Endpoint, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close marks the embedder as closed and releases idle connections.
func (e *HTTPEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}
