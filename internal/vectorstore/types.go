// Package vectorstore provides the KNN index backing semantic search,
// with a Solr-backed remote implementation and an embedded HNSW
// implementation for single-node deployments.
package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/openecm/ragsearch/internal/acl"
)

// Document type discriminator values.
const (
	DocTypeChunk    = "chunk"
	DocTypeDocument = "document"
)

// Vector field names.
const (
	FieldContentVector  = "content_vector"
	FieldPropertyVector = "property_vector"
)

// Record is one indexed entry. Chunk records carry a content vector and
// the chunk text; document records carry a property-text vector and the
// display metadata used for enrichment.
type Record struct {
	ID           string
	DocType      string
	RepositoryID string
	ObjectID     string
	Name         string
	Path         string
	FolderPath   string
	ObjectType   string
	Readers      []string
	Text         string
	Vector       []float32
	VectorField  string
}

// Query is a filtered KNN request against one vector field.
type Query struct {
	RepositoryID string
	DocType      string
	Field        string
	Vector       []float32
	TopK         int
	Reader       acl.Filter
	FolderPath   string
}

// Hit is one scored KNN result. Score is the raw retrieval similarity
// in [0,1]. RecordID and Text identify the matching record (the chunk
// for content hits, the property text for document hits).
type Hit struct {
	RecordID string
	ObjectID string
	Score    float32
	Text     string
}

// DocMeta is the display metadata attached to results during enrichment.
type DocMeta struct {
	ObjectID   string
	Name       string
	Path       string
	ObjectType string
}

// Store is the KNN index consumed by the search engine and the indexer.
type Store interface {
	// Add upserts records into the index.
	Add(ctx context.Context, records []Record) error

	// Search runs a filtered KNN query and returns hits ordered by
	// descending similarity.
	Search(ctx context.Context, q Query) ([]Hit, error)

	// FetchMeta resolves display metadata for multiple object IDs in a
	// single lookup.
	FetchMeta(ctx context.Context, repositoryID string, objectIDs []string) (map[string]DocMeta, error)

	// DeleteObject removes all records (document and chunks) for one
	// object.
	DeleteObject(ctx context.Context, repositoryID, objectID string) error

	// Clear removes all records for a repository.
	Clear(ctx context.Context, repositoryID string) error

	// Count returns the number of records for a repository.
	Count(ctx context.Context, repositoryID string) (int, error)

	// CountByType returns the number of records of one doc type for a
	// repository.
	CountByType(ctx context.Context, repositoryID, docType string) (int, error)

	// Commit makes pending writes visible to searches.
	Commit(ctx context.Context) error

	// Healthy reports whether the backing index is reachable.
	Healthy(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// ErrDimensionMismatch indicates a vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// ChunkID builds the record ID for one chunk of an object.
func ChunkID(objectID string, n int) string {
	return fmt.Sprintf("%s_chunk_%d", objectID, n)
}

// ChunkIndex extracts the chunk number from a chunk record ID. Returns
// -1 for non-chunk IDs.
func ChunkIndex(recordID string) int {
	i := strings.LastIndex(recordID, "_chunk_")
	if i < 0 {
		return -1
	}
	n, err := strconv.Atoi(recordID[i+len("_chunk_"):])
	if err != nil {
		return -1
	}
	return n
}
