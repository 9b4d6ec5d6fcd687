// Package indexer turns repository documents into vector-store records:
// MIME gating, text extraction, chunking, property-text construction,
// embedding, and the index write.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/openecm/ragsearch/internal/config"
	"github.com/openecm/ragsearch/internal/embed"
	"github.com/openecm/ragsearch/internal/ragerr"
	"github.com/openecm/ragsearch/internal/repo"
	"github.com/openecm/ragsearch/internal/vectorstore"
)

// Indexer implements per-document indexing against a vector store.
type Indexer struct {
	walker   repo.TreeWalker
	embedder embed.Embedder
	store    vectorstore.Store
	config   *config.Config
	chunker  *Chunker
	logger   *slog.Logger
}

// New creates an indexer.
func New(walker repo.TreeWalker, embedder embed.Embedder, store vectorstore.Store, cfg *config.Config, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		walker:   walker,
		embedder: embedder,
		store:    store,
		config:   cfg,
		chunker:  NewChunker(cfg.Indexing.ChunkSize, cfg.Indexing.ChunkOverlap),
		logger:   logger,
	}
}

// IndexDocument resolves objectID, extracts and chunks its text, embeds
// the chunks and the property text, and replaces the object's records in
// the index. Skip conditions (unsupported MIME type, no extractable text)
// and failures are distinguished by the error kind.
func (x *Indexer) IndexDocument(ctx context.Context, repositoryID, objectID string) error {
	if !x.config.Enabled {
		return ragerr.ServiceDisabled("semantic indexing is disabled")
	}

	doc, err := x.walker.GetDocument(ctx, repositoryID, objectID)
	if err != nil {
		return ragerr.Unknown(fmt.Sprintf("failed to load document %s", objectID), err)
	}
	if doc == nil {
		return ragerr.NoContent(objectID)
	}

	mime := baseMimeType(doc.MimeType)
	if !x.config.AllowsMimeType(mime) {
		return ragerr.UnsupportedMimeType(mime)
	}

	text, err := extractText(doc)
	if err != nil {
		return err
	}
	chunks := x.chunker.Chunk(text)
	if len(chunks) == 0 {
		return ragerr.NoContent(objectID)
	}

	propertyText := BuildPropertyText(doc)

	// One batch for all chunks plus the property text.
	texts := append(append(make([]string, 0, len(chunks)+1), chunks...), propertyText)
	vectors, err := x.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return asEmbeddingError(err)
	}

	folderPath := path.Dir(doc.Path)
	records := make([]vectorstore.Record, 0, len(chunks)+1)
	for i, chunk := range chunks {
		records = append(records, vectorstore.Record{
			ID:           vectorstore.ChunkID(doc.ID, i),
			DocType:      vectorstore.DocTypeChunk,
			RepositoryID: repositoryID,
			ObjectID:     doc.ID,
			FolderPath:   folderPath,
			Readers:      doc.Readers,
			Text:         chunk,
			Vector:       vectors[i],
			VectorField:  vectorstore.FieldContentVector,
		})
	}
	records = append(records, vectorstore.Record{
		ID:           doc.ID,
		DocType:      vectorstore.DocTypeDocument,
		RepositoryID: repositoryID,
		ObjectID:     doc.ID,
		Name:         doc.Name,
		Path:         doc.Path,
		FolderPath:   folderPath,
		ObjectType:   doc.ObjectType,
		Readers:      doc.Readers,
		Text:         propertyText,
		Vector:       vectors[len(chunks)],
		VectorField:  vectorstore.FieldPropertyVector,
	})

	// Replace instead of accumulate: a re-chunked document may have
	// fewer chunks than before.
	if err := x.store.DeleteObject(ctx, repositoryID, doc.ID); err != nil {
		return asStoreError(err)
	}
	if err := x.store.Add(ctx, records); err != nil {
		return asStoreError(err)
	}

	x.logger.Debug("document indexed",
		slog.String("repository", repositoryID),
		slog.String("object", doc.ID),
		slog.Int("chunks", len(chunks)))
	return nil
}

// DeleteDocument removes all records for objectID from the index.
func (x *Indexer) DeleteDocument(ctx context.Context, repositoryID, objectID string) error {
	if err := x.store.DeleteObject(ctx, repositoryID, objectID); err != nil {
		return asStoreError(err)
	}
	return nil
}

// Commit flushes pending index writes.
func (x *Indexer) Commit(ctx context.Context) error {
	if err := x.store.Commit(ctx); err != nil {
		return asStoreError(err)
	}
	return nil
}

// BuildPropertyText renders a document's descriptive properties into one
// embeddable text: name, object type, description, then custom properties
// in key order.
func BuildPropertyText(doc *repo.Document) string {
	var parts []string
	if doc.Name != "" {
		parts = append(parts, doc.Name)
	}
	if doc.ObjectType != "" {
		parts = append(parts, doc.ObjectType)
	}
	if doc.Description != "" {
		parts = append(parts, doc.Description)
	}

	keys := make([]string, 0, len(doc.Properties))
	for k := range doc.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := doc.Properties[k]; v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "\n")
}

// extractText pulls indexable text out of the document content.
func extractText(doc *repo.Document) (string, error) {
	if len(doc.Content) == 0 {
		return "", ragerr.NoContent(doc.ID)
	}
	if !utf8.Valid(doc.Content) {
		return "", ragerr.TextExtractionFailed(
			fmt.Sprintf("content of %s is not valid text", doc.ID), nil)
	}
	return string(doc.Content), nil
}

// baseMimeType strips parameters such as charset.
func baseMimeType(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.TrimSpace(strings.ToLower(mime))
}

func asEmbeddingError(err error) error {
	var ie *ragerr.IndexingError
	if errors.As(err, &ie) {
		return err
	}
	return ragerr.EmbeddingFailed("embedding failed", err)
}

func asStoreError(err error) error {
	var ie *ragerr.IndexingError
	if errors.As(err, &ie) {
		return err
	}
	return ragerr.VectorStoreError("vector store write failed", err)
}
