// Package ragerr provides the typed error taxonomy for the indexing and
// search subsystems. Every indexing failure is classified into a fixed set
// of kinds, each carrying a retryable flag so callers can build retry
// policies without string matching.
package ragerr

import (
	"errors"
	"fmt"
)

// Kind identifies the failure class of an IndexingError.
type Kind string

const (
	// KindServiceDisabled indicates the indexing/search subsystem is turned off.
	KindServiceDisabled Kind = "SERVICE_DISABLED"
	// KindUnsupportedMimeType indicates the document's MIME type is not on the allow-list.
	KindUnsupportedMimeType Kind = "UNSUPPORTED_MIME_TYPE"
	// KindTextExtractionFailed indicates text could not be extracted from the content stream.
	KindTextExtractionFailed Kind = "TEXT_EXTRACTION_FAILED"
	// KindNoContent indicates the document has no extractable text.
	KindNoContent Kind = "NO_CONTENT"
	// KindEmbeddingFailed indicates the embedding service call failed.
	KindEmbeddingFailed Kind = "EMBEDDING_FAILED"
	// KindVectorStoreError indicates a vector store (Solr) call failed.
	KindVectorStoreError Kind = "VECTOR_STORE_ERROR"
	// KindACLError indicates permission resolution failed.
	KindACLError Kind = "ACL_ERROR"
	// KindUnknown is the fallback classification.
	KindUnknown Kind = "UNKNOWN"
)

// IndexingError is the structured error type for indexing failures.
// The Retryable flag is fixed by the constructor for each kind: only
// embedding and vector store failures are transient infrastructure
// conditions; everything else is a permanent property of the content
// or configuration.
type IndexingError struct {
	Kind      Kind
	Message   string
	Cause     error
	Retryable bool
}

// Error implements the error interface.
func (e *IndexingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *IndexingError) Unwrap() error {
	return e.Cause
}

// Is matches errors by kind, enabling errors.Is with sentinel construction.
func (e *IndexingError) Is(target error) bool {
	if t, ok := target.(*IndexingError); ok {
		return e.Kind == t.Kind
	}
	return false
}

func newError(kind Kind, retryable bool, message string, cause error) *IndexingError {
	return &IndexingError{
		Kind:      kind,
		Message:   message,
		Cause:     cause,
		Retryable: retryable,
	}
}

// ServiceDisabled reports that indexing or search is disabled by configuration.
func ServiceDisabled(message string) *IndexingError {
	return newError(KindServiceDisabled, false, message, nil)
}

// UnsupportedMimeType reports a document whose MIME type is not indexable.
func UnsupportedMimeType(mimeType string) *IndexingError {
	return newError(KindUnsupportedMimeType, false, "MIME type not supported: "+mimeType, nil)
}

// TextExtractionFailed reports a failure extracting text from a content stream.
func TextExtractionFailed(message string, cause error) *IndexingError {
	return newError(KindTextExtractionFailed, false, message, cause)
}

// NoContent reports a document with no extractable text.
func NoContent(objectID string) *IndexingError {
	return newError(KindNoContent, false, "no text content for document "+objectID, nil)
}

// EmbeddingFailed reports a failed embedding service call. Retryable.
func EmbeddingFailed(message string, cause error) *IndexingError {
	return newError(KindEmbeddingFailed, true, message, cause)
}

// VectorStoreError reports a failed vector store call. Retryable.
func VectorStoreError(message string, cause error) *IndexingError {
	return newError(KindVectorStoreError, true, message, cause)
}

// ACLError reports a permission resolution failure.
func ACLError(message string, cause error) *IndexingError {
	return newError(KindACLError, false, message, cause)
}

// Unknown wraps an unclassified failure.
func Unknown(message string, cause error) *IndexingError {
	return newError(KindUnknown, false, message, cause)
}

// IsRetryable reports whether err is an IndexingError marked retryable.
func IsRetryable(err error) bool {
	var ie *IndexingError
	if errors.As(err, &ie) {
		return ie.Retryable
	}
	return false
}

// KindOf returns the kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var ie *IndexingError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindUnknown
}

// IsSkip reports whether err represents a document that should be counted
// as skipped rather than errored during a reindex run: unsupported MIME
// types and documents without text are expected conditions, not failures.
func IsSkip(err error) bool {
	switch KindOf(err) {
	case KindUnsupportedMimeType, KindNoContent:
		return true
	default:
		return false
	}
}
