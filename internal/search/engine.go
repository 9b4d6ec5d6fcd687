package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openecm/ragsearch/internal/acl"
	"github.com/openecm/ragsearch/internal/config"
	"github.com/openecm/ragsearch/internal/embed"
	"github.com/openecm/ragsearch/internal/ragerr"
	"github.com/openecm/ragsearch/internal/vectorstore"
)

// overFetchFactor widens each channel's KNN request beyond topK to absorb
// score-threshold and fusion losses.
const overFetchFactor = 2

// Engine answers "which documents, readable by this user, are most
// semantically similar to this query" with one ranked, bounded list.
type Engine struct {
	embedder embed.Embedder
	store    vectorstore.Store
	aclb     AclPredicateBuilder
	folders  FolderResolver
	config   config.SearchConfig
	enabled  bool
	logger   *slog.Logger
}

// NewEngine creates a search engine. folders may be nil when folder-scoped
// search is not used.
func NewEngine(
	embedder embed.Embedder,
	store vectorstore.Store,
	aclb AclPredicateBuilder,
	folders FolderResolver,
	cfg *config.Config,
	logger *slog.Logger,
) (*Engine, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if aclb == nil {
		return nil, fmt.Errorf("acl predicate builder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		embedder: embedder,
		store:    store,
		aclb:     aclb,
		folders:  folders,
		config:   cfg.Search,
		enabled:  cfg.Enabled,
		logger:   logger,
	}, nil
}

// Search returns the topK documents most similar to queryText that userID
// may read. minScore gates on the raw retrieval similarity; a negative
// value uses the configured threshold. topK <= 0 uses the configured
// default.
func (e *Engine) Search(ctx context.Context, repositoryID, userID, queryText string, topK int, minScore float64) ([]VectorSearchResult, error) {
	return e.search(ctx, repositoryID, userID, queryText, topK, minScore, "")
}

// SearchInFolder is Search constrained to the subtree rooted at folderID.
func (e *Engine) SearchInFolder(ctx context.Context, repositoryID, userID, queryText, folderID string, topK int) ([]VectorSearchResult, error) {
	if e.folders == nil {
		return nil, fmt.Errorf("folder-scoped search is not configured")
	}
	folderPath, err := e.folders.FolderPath(ctx, repositoryID, folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve folder %s: %w", folderID, err)
	}
	return e.search(ctx, repositoryID, userID, queryText, topK, -1, folderPath)
}

func (e *Engine) search(ctx context.Context, repositoryID, userID, queryText string, topK int, minScore float64, folderPath string) ([]VectorSearchResult, error) {
	start := time.Now()

	if !e.enabled {
		return nil, ragerr.ServiceDisabled("semantic search is disabled")
	}

	queryText = strings.TrimSpace(queryText)
	if queryText == "" {
		return []VectorSearchResult{}, nil
	}
	if topK <= 0 {
		topK = e.config.TopK
	}
	if minScore < 0 {
		minScore = float64(e.config.SimilarityThreshold)
	}

	queryVector, err := e.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, ragerr.EmbeddingFailed("failed to embed query", err)
	}

	reader, err := e.aclb.BuildReaderFilter(ctx, repositoryID, userID)
	if err != nil {
		return nil, err
	}

	contentHits, propertyHits, err := e.retrieve(ctx, repositoryID, queryVector, topK, reader, folderPath)
	if err != nil {
		return nil, err
	}

	ranked := e.fuse(contentHits, propertyHits, float32(minScore))
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	results, err := e.enrich(ctx, repositoryID, ranked)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("semantic search completed",
		slog.String("repository", repositoryID),
		slog.String("user", userID),
		slog.Int("content_hits", len(contentHits)),
		slog.Int("property_hits", len(propertyHits)),
		slog.Int("results", len(results)),
		slog.Duration("elapsed", time.Since(start)))

	return results, nil
}

// retrieve runs the two KNN channels concurrently. Both apply the same
// reader and folder filters; the property channel is skipped when
// disabled by configuration.
func (e *Engine) retrieve(ctx context.Context, repositoryID string, queryVector []float32, topK int, reader acl.Filter, folderPath string) (contentHits, propertyHits []vectorstore.Hit, err error) {
	fetch := topK * overFetchFactor

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hits, searchErr := e.store.Search(gctx, vectorstore.Query{
			RepositoryID: repositoryID,
			DocType:      vectorstore.DocTypeChunk,
			Field:        vectorstore.FieldContentVector,
			Vector:       queryVector,
			TopK:         fetch,
			Reader:       reader,
			FolderPath:   folderPath,
		})
		if searchErr != nil {
			return fmt.Errorf("content channel failed: %w", searchErr)
		}
		contentHits = hits
		return nil
	})

	if e.config.PropertySearchEnabled {
		g.Go(func() error {
			hits, searchErr := e.store.Search(gctx, vectorstore.Query{
				RepositoryID: repositoryID,
				DocType:      vectorstore.DocTypeDocument,
				Field:        vectorstore.FieldPropertyVector,
				Vector:       queryVector,
				TopK:         fetch,
				Reader:       reader,
				FolderPath:   folderPath,
			})
			if searchErr != nil {
				return fmt.Errorf("property channel failed: %w", searchErr)
			}
			propertyHits = hits
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return contentHits, propertyHits, nil
}

// fuse merges both channels into per-document accumulators after the
// channels have joined, gates on the pre-boost maximum raw score, and
// sorts by combined score with deterministic tie-breaking.
func (e *Engine) fuse(contentHits, propertyHits []vectorstore.Hit, minScore float32) []*ScoredDocument {
	merged := make(map[string]*ScoredDocument, len(contentHits)+len(propertyHits))

	upsert := func(objectID string) *ScoredDocument {
		d, ok := merged[objectID]
		if !ok {
			d = newScoredDocument(objectID)
			merged[objectID] = d
		}
		return d
	}

	for rank, h := range contentHits {
		upsert(h.ObjectID).setContent(h.Score, e.config.ContentBoost, rank,
			h.RecordID, vectorstore.ChunkIndex(h.RecordID), h.Text)
	}
	for rank, h := range propertyHits {
		upsert(h.ObjectID).setProperty(h.Score, e.config.PropertyBoost, rank, h.Text)
	}

	ranked := make([]*ScoredDocument, 0, len(merged))
	for _, d := range merged {
		if d.MaxRawScore() < minScore {
			continue
		}
		ranked = append(ranked, d)
	}

	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].less(ranked[j])
	})
	return ranked
}

// enrich attaches display metadata with a single multi-ID lookup.
func (e *Engine) enrich(ctx context.Context, repositoryID string, ranked []*ScoredDocument) ([]VectorSearchResult, error) {
	results := make([]VectorSearchResult, 0, len(ranked))
	if len(ranked) == 0 {
		return results, nil
	}

	ids := make([]string, len(ranked))
	for i, d := range ranked {
		ids[i] = d.ObjectID
	}

	meta, err := e.store.FetchMeta(ctx, repositoryID, ids)
	if err != nil {
		return nil, err
	}

	for _, d := range ranked {
		m := meta[d.ObjectID]
		results = append(results, VectorSearchResult{
			ObjectID:      d.ObjectID,
			Name:          m.Name,
			Path:          m.Path,
			ObjectType:    m.ObjectType,
			Score:         d.CombinedScore(),
			ContentScore:  d.ContentScore,
			PropertyScore: d.PropertyScore,
			ChunkID:       d.ChunkID,
			ChunkIndex:    d.ChunkIndex,
			ChunkText:     d.ChunkText,
		})
	}
	return results, nil
}
