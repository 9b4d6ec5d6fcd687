package ragerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors_RetryableFlag(t *testing.T) {
	tests := []struct {
		name      string
		err       *IndexingError
		kind      Kind
		retryable bool
	}{
		{"service disabled", ServiceDisabled("off"), KindServiceDisabled, false},
		{"unsupported mime", UnsupportedMimeType("image/png"), KindUnsupportedMimeType, false},
		{"extraction failed", TextExtractionFailed("bad stream", nil), KindTextExtractionFailed, false},
		{"no content", NoContent("doc-1"), KindNoContent, false},
		{"embedding failed", EmbeddingFailed("timeout", nil), KindEmbeddingFailed, true},
		{"vector store error", VectorStoreError("503", nil), KindVectorStoreError, true},
		{"acl error", ACLError("lookup failed", nil), KindACLError, false},
		{"unknown", Unknown("boom", nil), KindUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.err.Kind)
			assert.Equal(t, tt.retryable, tt.err.Retryable)
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestIndexingError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := EmbeddingFailed("embed query", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "EMBEDDING_FAILED")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestKindOf_WrappedError(t *testing.T) {
	inner := VectorStoreError("knn query failed", nil)
	wrapped := fmt.Errorf("search: %w", inner)

	assert.Equal(t, KindVectorStoreError, KindOf(wrapped))
	assert.True(t, IsRetryable(wrapped))
}

func TestKindOf_ForeignError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestIsSkip(t *testing.T) {
	assert.True(t, IsSkip(UnsupportedMimeType("image/png")))
	assert.True(t, IsSkip(NoContent("d1")))
	assert.False(t, IsSkip(EmbeddingFailed("x", nil)))
	assert.False(t, IsSkip(Unknown("x", nil)))
	assert.False(t, IsSkip(errors.New("plain")))
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, Multiplier: 2.0}

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return EmbeddingFailed("transient", nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_PermanentErrorNotRetried(t *testing.T) {
	cfg := DefaultRetryConfig()

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return UnsupportedMimeType("video/mp4")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, KindUnsupportedMimeType, KindOf(err))
}

func TestRetry_ExhaustsRetries(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2.0}

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return VectorStoreError("down", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts) // initial + 2 retries
	assert.Equal(t, KindVectorStoreError, KindOf(err))
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, DefaultRetryConfig(), func() error {
		return EmbeddingFailed("never runs twice", nil)
	})

	assert.ErrorIs(t, err, context.Canceled)
}
