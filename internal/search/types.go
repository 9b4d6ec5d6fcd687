// Package search implements weighted dual-channel semantic search:
// parallel KNN retrieval over chunk content vectors and document
// property-text vectors, fused into one ranked result list.
package search

import (
	"context"

	"github.com/openecm/ragsearch/internal/acl"
)

// VectorSearchResult is one enriched search hit. A result represents one
// document, carrying its best matching chunk as context.
type VectorSearchResult struct {
	ObjectID      string  `json:"objectId"`
	Name          string  `json:"name"`
	Path          string  `json:"path"`
	ObjectType    string  `json:"objectType"`
	Score         float32 `json:"score"`
	ContentScore  float32 `json:"contentScore"`
	PropertyScore float32 `json:"propertyScore"`
	ChunkID       string  `json:"chunkId,omitempty"`
	ChunkIndex    int     `json:"chunkIndex"`
	ChunkText     string  `json:"chunkText,omitempty"`
}

// AclPredicateBuilder yields the reader filter applied to every retrieval
// channel.
type AclPredicateBuilder interface {
	BuildReaderFilter(ctx context.Context, repositoryID, userID string) (acl.Filter, error)
}

// FolderResolver maps a folder ID to its path for scoped searches.
type FolderResolver interface {
	FolderPath(ctx context.Context, repositoryID, folderID string) (string, error)
}
