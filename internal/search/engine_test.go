package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openecm/ragsearch/internal/acl"
	"github.com/openecm/ragsearch/internal/config"
	"github.com/openecm/ragsearch/internal/embed"
	"github.com/openecm/ragsearch/internal/ragerr"
	"github.com/openecm/ragsearch/internal/vectorstore"
)

// fakeStore returns canned hits per doc type and records queries. The
// two channels call Search concurrently, so recording is locked.
type fakeStore struct {
	chunkHits    []vectorstore.Hit
	propertyHits []vectorstore.Hit
	meta         map[string]vectorstore.DocMeta
	searchErr    error

	mu         sync.Mutex
	queries    []vectorstore.Query
	fetchCalls int
	fetchIDs   []string
}

func (f *fakeStore) Add(context.Context, []vectorstore.Record) error { return nil }

func (f *fakeStore) Search(_ context.Context, q vectorstore.Query) ([]vectorstore.Hit, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if q.DocType == vectorstore.DocTypeChunk {
		return f.chunkHits, nil
	}
	return f.propertyHits, nil
}

func (f *fakeStore) FetchMeta(_ context.Context, _ string, ids []string) (map[string]vectorstore.DocMeta, error) {
	f.fetchCalls++
	f.fetchIDs = append(f.fetchIDs, ids...)
	out := make(map[string]vectorstore.DocMeta, len(ids))
	for _, id := range ids {
		if m, ok := f.meta[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteObject(context.Context, string, string) error       { return nil }
func (f *fakeStore) Clear(context.Context, string) error                      { return nil }
func (f *fakeStore) Count(context.Context, string) (int, error)               { return 0, nil }
func (f *fakeStore) CountByType(context.Context, string, string) (int, error) { return 0, nil }
func (f *fakeStore) Commit(context.Context) error                       { return nil }
func (f *fakeStore) Healthy(context.Context) bool                       { return true }
func (f *fakeStore) Close() error                                       { return nil }

type staticACL struct{}

func (staticACL) BuildReaderFilter(_ context.Context, _, userID string) (acl.Filter, error) {
	return acl.Filter{
		Query:      fmt.Sprintf("readers:(%q)", userID),
		Principals: []string{userID},
	}, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Search.SimilarityThreshold = 0.5
	return cfg
}

func newTestEngine(t *testing.T, store vectorstore.Store, cfg *config.Config) *Engine {
	t.Helper()
	e, err := NewEngine(embed.NewStaticEmbedder(), store, staticACL{}, nil, cfg, slog.Default())
	require.NoError(t, err)
	return e
}

func TestSearch_FusionCombinesChannels(t *testing.T) {
	store := &fakeStore{
		chunkHits:    []vectorstore.Hit{{RecordID: "d1_chunk_1", ObjectID: "d1", Score: 0.8, Text: "renewal clause"}},
		propertyHits: []vectorstore.Hit{{RecordID: "d1", ObjectID: "d1", Score: 0.9, Text: "lease.txt\ndocument"}},
		meta: map[string]vectorstore.DocMeta{
			"d1": {ObjectID: "d1", Name: "lease.txt", Path: "/lease.txt", ObjectType: "document"},
		},
	}
	e := newTestEngine(t, store, testConfig())

	results, err := e.Search(context.Background(), "r", "alice", "lease terms", 10, -1)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// content 0.7*0.8 + property 0.3*0.9
	assert.InDelta(t, 0.83, float64(results[0].Score), 1e-6)
	assert.InDelta(t, 0.56, float64(results[0].ContentScore), 1e-6)
	assert.InDelta(t, 0.27, float64(results[0].PropertyScore), 1e-6)
	assert.Equal(t, "lease.txt", results[0].Name)
	assert.Equal(t, "d1_chunk_1", results[0].ChunkID)
	assert.Equal(t, 1, results[0].ChunkIndex)
	assert.Equal(t, "renewal clause", results[0].ChunkText)
}

func TestSearch_GateUsesRawScoreNotBoosted(t *testing.T) {
	store := &fakeStore{
		chunkHits: []vectorstore.Hit{{ObjectID: "d1", Score: 0.6}},
		meta:      map[string]vectorstore.DocMeta{"d1": {ObjectID: "d1"}},
	}
	cfg := testConfig()
	// Tiny boosts push the combined score far below the threshold; the
	// document must still pass because its raw score clears the gate.
	cfg.Search.ContentBoost = 0.01
	cfg.Search.PropertyBoost = 0.01
	e := newTestEngine(t, store, cfg)

	results, err := e.Search(context.Background(), "r", "alice", "query", 10, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.006, float64(results[0].Score), 1e-6)
}

func TestSearch_GateFiltersBelowThreshold(t *testing.T) {
	store := &fakeStore{
		chunkHits: []vectorstore.Hit{
			{ObjectID: "d1", Score: 0.9},
			{ObjectID: "d2", Score: 0.3},
		},
		meta: map[string]vectorstore.DocMeta{"d1": {ObjectID: "d1"}},
	}
	e := newTestEngine(t, store, testConfig())

	results, err := e.Search(context.Background(), "r", "alice", "query", 10, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d1", results[0].ObjectID)
}

func TestSearch_NegativeMinScoreUsesConfiguredThreshold(t *testing.T) {
	store := &fakeStore{
		chunkHits: []vectorstore.Hit{
			{ObjectID: "d1", Score: 0.9},
			{ObjectID: "d2", Score: 0.3},
		},
		meta: map[string]vectorstore.DocMeta{"d1": {ObjectID: "d1"}},
	}
	cfg := testConfig()
	cfg.Search.SimilarityThreshold = 0.5
	e := newTestEngine(t, store, cfg)

	results, err := e.Search(context.Background(), "r", "alice", "query", 10, -1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d1", results[0].ObjectID)
}

func TestSearch_SingleChannelDocuments(t *testing.T) {
	store := &fakeStore{
		chunkHits:    []vectorstore.Hit{{ObjectID: "content-only", Score: 0.8}},
		propertyHits: []vectorstore.Hit{{ObjectID: "property-only", Score: 0.9}},
		meta: map[string]vectorstore.DocMeta{
			"content-only":  {ObjectID: "content-only"},
			"property-only": {ObjectID: "property-only"},
		},
	}
	e := newTestEngine(t, store, testConfig())

	results, err := e.Search(context.Background(), "r", "alice", "query", 10, -1)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// content-only: 0.7*0.8 = 0.56 beats property-only: 0.3*0.9 = 0.27.
	assert.Equal(t, "content-only", results[0].ObjectID)
	assert.Equal(t, "property-only", results[1].ObjectID)
}

func TestSearch_PropertyChannelDisabled(t *testing.T) {
	store := &fakeStore{
		chunkHits:    []vectorstore.Hit{{ObjectID: "d1", Score: 0.8}},
		propertyHits: []vectorstore.Hit{{ObjectID: "d2", Score: 0.9}},
		meta:         map[string]vectorstore.DocMeta{"d1": {ObjectID: "d1"}},
	}
	cfg := testConfig()
	cfg.Search.PropertySearchEnabled = false
	e := newTestEngine(t, store, cfg)

	results, err := e.Search(context.Background(), "r", "alice", "query", 10, -1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d1", results[0].ObjectID)

	require.Len(t, store.queries, 1)
	assert.Equal(t, vectorstore.DocTypeChunk, store.queries[0].DocType)
}

func TestSearch_TieBreakByContentRetrievalOrder(t *testing.T) {
	store := &fakeStore{
		chunkHits: []vectorstore.Hit{
			{ObjectID: "first", Score: 0.8},
			{ObjectID: "second", Score: 0.8},
		},
		meta: map[string]vectorstore.DocMeta{
			"first":  {ObjectID: "first"},
			"second": {ObjectID: "second"},
		},
	}
	e := newTestEngine(t, store, testConfig())

	results, err := e.Search(context.Background(), "r", "alice", "query", 10, -1)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].ObjectID)
	assert.Equal(t, "second", results[1].ObjectID)
}

func TestSearch_TruncatesToTopK(t *testing.T) {
	store := &fakeStore{
		chunkHits: []vectorstore.Hit{
			{ObjectID: "d1", Score: 0.9},
			{ObjectID: "d2", Score: 0.8},
			{ObjectID: "d3", Score: 0.7},
		},
		meta: map[string]vectorstore.DocMeta{
			"d1": {ObjectID: "d1"}, "d2": {ObjectID: "d2"}, "d3": {ObjectID: "d3"},
		},
	}
	e := newTestEngine(t, store, testConfig())

	results, err := e.Search(context.Background(), "r", "alice", "query", 2, -1)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "d1", results[0].ObjectID)
	assert.Equal(t, "d2", results[1].ObjectID)
}

func TestSearch_OverFetchAndFilters(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(t, store, testConfig())

	_, err := e.Search(context.Background(), "bedroom", "alice", "query", 5, -1)
	require.NoError(t, err)
	require.Len(t, store.queries, 2)

	for _, q := range store.queries {
		assert.Equal(t, 10, q.TopK)
		assert.Equal(t, "bedroom", q.RepositoryID)
		assert.Equal(t, []string{"alice"}, q.Reader.Principals)
	}
}

func TestSearch_BatchEnrichment(t *testing.T) {
	store := &fakeStore{
		chunkHits: []vectorstore.Hit{
			{ObjectID: "d1", Score: 0.9},
			{ObjectID: "d2", Score: 0.8},
		},
		meta: map[string]vectorstore.DocMeta{
			"d1": {ObjectID: "d1"}, "d2": {ObjectID: "d2"},
		},
	}
	e := newTestEngine(t, store, testConfig())

	_, err := e.Search(context.Background(), "r", "alice", "query", 10, -1)
	require.NoError(t, err)
	assert.Equal(t, 1, store.fetchCalls)
	assert.ElementsMatch(t, []string{"d1", "d2"}, store.fetchIDs)
}

func TestSearch_NoResultsSkipsEnrichment(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(t, store, testConfig())

	results, err := e.Search(context.Background(), "r", "alice", "query", 10, -1)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, store.fetchCalls)
}

func TestSearch_DisabledService(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	e := newTestEngine(t, &fakeStore{}, cfg)

	_, err := e.Search(context.Background(), "r", "alice", "query", 10, -1)
	require.Error(t, err)
	assert.Equal(t, ragerr.KindServiceDisabled, ragerr.KindOf(err))
}

type failingEmbedder struct {
	*embed.StaticEmbedder
}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("model unavailable")
}

func TestSearch_EmbedFailureAborts(t *testing.T) {
	store := &fakeStore{chunkHits: []vectorstore.Hit{{ObjectID: "d1", Score: 0.9}}}
	e, err := NewEngine(failingEmbedder{embed.NewStaticEmbedder()}, store, staticACL{}, nil, testConfig(), slog.Default())
	require.NoError(t, err)

	_, err = e.Search(context.Background(), "r", "alice", "query", 10, -1)
	require.Error(t, err)
	assert.Equal(t, ragerr.KindEmbeddingFailed, ragerr.KindOf(err))
	assert.Empty(t, store.queries)
}

func TestSearch_ChannelFailureFailsSearch(t *testing.T) {
	store := &fakeStore{searchErr: ragerr.VectorStoreError("solr down", nil)}
	e := newTestEngine(t, store, testConfig())

	_, err := e.Search(context.Background(), "r", "alice", "query", 10, -1)
	require.Error(t, err)
	assert.Equal(t, ragerr.KindVectorStoreError, ragerr.KindOf(err))
}

func TestSearch_EmptyQueryReturnsNothing(t *testing.T) {
	store := &fakeStore{chunkHits: []vectorstore.Hit{{ObjectID: "d1", Score: 0.9}}}
	e := newTestEngine(t, store, testConfig())

	results, err := e.Search(context.Background(), "r", "alice", "   ", 10, -1)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, store.queries)
}

type staticFolders struct{ path string }

func (f staticFolders) FolderPath(context.Context, string, string) (string, error) {
	return f.path, nil
}

func TestSearchInFolder_PassesFolderPath(t *testing.T) {
	store := &fakeStore{}
	e, err := NewEngine(embed.NewStaticEmbedder(), store, staticACL{}, staticFolders{path: "/contracts"}, testConfig(), slog.Default())
	require.NoError(t, err)

	_, err = e.SearchInFolder(context.Background(), "r", "alice", "query", "f1", 5)
	require.NoError(t, err)
	require.Len(t, store.queries, 2)
	for _, q := range store.queries {
		assert.Equal(t, "/contracts", q.FolderPath)
	}
}

func TestSearchInFolder_WithoutResolver(t *testing.T) {
	e := newTestEngine(t, &fakeStore{}, testConfig())

	_, err := e.SearchInFolder(context.Background(), "r", "alice", "query", "f1", 5)
	assert.Error(t, err)
}

// Runs the engine against a real embedded store and group resolver: a
// document the user cannot read must never surface, even when it is
// the closest match on both channels.
func TestSearch_UnreadableDocumentNeverSurfaces(t *testing.T) {
	ctx := context.Background()

	embedder := embed.NewStaticEmbedder()
	store, err := vectorstore.NewEmbeddedStore(vectorstore.EmbeddedConfig{
		DataDir:    t.TempDir(),
		Dimensions: embed.StaticDimensions,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	query := "quarterly revenue report"
	secretVec, err := embedder.Embed(ctx, query)
	require.NoError(t, err)
	openVec, err := embedder.Embed(ctx, "quarterly revenue report for the sales team")
	require.NoError(t, err)

	require.NoError(t, store.Add(ctx, []vectorstore.Record{
		{
			ID: "secret_chunk_0", DocType: vectorstore.DocTypeChunk,
			RepositoryID: "r", ObjectID: "secret",
			Readers: []string{"legal"}, Text: query,
			Vector: secretVec, VectorField: vectorstore.FieldContentVector,
		},
		{
			ID: "secret", DocType: vectorstore.DocTypeDocument,
			RepositoryID: "r", ObjectID: "secret",
			Name: "secret.txt", Path: "/legal/secret.txt", ObjectType: "document",
			Readers: []string{"legal"}, Text: query,
			Vector: secretVec, VectorField: vectorstore.FieldPropertyVector,
		},
		{
			ID: "open_chunk_0", DocType: vectorstore.DocTypeChunk,
			RepositoryID: "r", ObjectID: "open",
			Readers: []string{"sales"}, Text: "quarterly revenue report for the sales team",
			Vector: openVec, VectorField: vectorstore.FieldContentVector,
		},
		{
			ID: "open", DocType: vectorstore.DocTypeDocument,
			RepositoryID: "r", ObjectID: "open",
			Name: "report.txt", Path: "/sales/report.txt", ObjectType: "document",
			Readers: []string{"sales"}, Text: "report.txt\ndocument",
			Vector: openVec, VectorField: vectorstore.FieldPropertyVector,
		},
	}))

	aclb := acl.NewPredicateBuilder(acl.NewStaticResolver(map[string][]string{
		"alice": {"sales"},
	}))
	e, err := NewEngine(embedder, store, aclb, nil, testConfig(), slog.Default())
	require.NoError(t, err)

	results, err := e.Search(ctx, "r", "alice", query, 10, 0.1)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "open", results[0].ObjectID)
	assert.Equal(t, "report.txt", results[0].Name)
	for _, r := range results {
		assert.NotEqual(t, "secret", r.ObjectID)
	}
}
