package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openecm/ragsearch/internal/config"
	"github.com/openecm/ragsearch/internal/embed"
	"github.com/openecm/ragsearch/internal/ragerr"
	"github.com/openecm/ragsearch/internal/repo"
	"github.com/openecm/ragsearch/internal/vectorstore"
)

type fixture struct {
	repo    *repo.MemoryRepository
	store   *vectorstore.EmbeddedStore
	indexer *Indexer
	rootID  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	m := repo.NewMemoryRepository()
	rootID := m.AddRepository("bedroom", "root")

	store, err := vectorstore.NewEmbeddedStore(vectorstore.EmbeddedConfig{
		DataDir:    t.TempDir(),
		Dimensions: embed.StaticDimensions,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Default()
	cfg.Indexing.ChunkSize = 16
	cfg.Indexing.ChunkOverlap = 4

	return &fixture{
		repo:    m,
		store:   store,
		indexer: New(m, embed.NewStaticEmbedder(), store, cfg, slog.Default()),
		rootID:  rootID,
	}
}

func (f *fixture) addDoc(t *testing.T, id, name, mime string, content []byte) {
	t.Helper()
	require.NoError(t, f.repo.AddDocument("bedroom", &repo.Document{
		ID:       id,
		Name:     name,
		ParentID: f.rootID,
		MimeType: mime,
		Readers:  []string{"alice"},
		Content:  content,
	}))
}

func TestIndexDocument_WritesChunkAndDocumentRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addDoc(t, "d1", "lease.txt", "text/plain", []byte("annual lease agreement for the ground floor office"))

	require.NoError(t, f.indexer.IndexDocument(ctx, "bedroom", "d1"))

	n, err := f.store.Count(ctx, "bedroom")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	meta, err := f.store.FetchMeta(ctx, "bedroom", []string{"d1"})
	require.NoError(t, err)
	require.Contains(t, meta, "d1")
	assert.Equal(t, "lease.txt", meta["d1"].Name)
	assert.Equal(t, "/lease.txt", meta["d1"].Path)
}

func TestIndexDocument_LongContentProducesMultipleChunks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	words := make([]string, 50)
	for i := range words {
		words[i] = fmt.Sprintf("word%d", i)
	}
	f.addDoc(t, "d1", "big.txt", "text/plain", []byte(strings.Join(words, " ")))

	require.NoError(t, f.indexer.IndexDocument(ctx, "bedroom", "d1"))

	n, err := f.store.Count(ctx, "bedroom")
	require.NoError(t, err)
	assert.Greater(t, n, 2)
}

func TestIndexDocument_ReindexReplacesOldChunks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	words := make([]string, 50)
	for i := range words {
		words[i] = fmt.Sprintf("word%d", i)
	}
	f.addDoc(t, "d1", "doc.txt", "text/plain", []byte(strings.Join(words, " ")))
	require.NoError(t, f.indexer.IndexDocument(ctx, "bedroom", "d1"))

	before, err := f.store.Count(ctx, "bedroom")
	require.NoError(t, err)
	require.Greater(t, before, 2)

	f.repo.RemoveDocument("bedroom", "d1")
	f.addDoc(t, "d1", "doc.txt", "text/plain", []byte("now much shorter"))
	require.NoError(t, f.indexer.IndexDocument(ctx, "bedroom", "d1"))

	after, err := f.store.Count(ctx, "bedroom")
	require.NoError(t, err)
	assert.Equal(t, 2, after)
}

func TestIndexDocument_UnsupportedMimeTypeIsSkip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addDoc(t, "d1", "photo.png", "image/png", []byte{0x89, 0x50})

	err := f.indexer.IndexDocument(ctx, "bedroom", "d1")
	require.Error(t, err)
	assert.Equal(t, ragerr.KindUnsupportedMimeType, ragerr.KindOf(err))
	assert.True(t, ragerr.IsSkip(err))
	assert.False(t, ragerr.IsRetryable(err))
}

func TestIndexDocument_MimeParametersIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addDoc(t, "d1", "note.txt", "text/plain; charset=utf-8", []byte("some note text"))

	require.NoError(t, f.indexer.IndexDocument(ctx, "bedroom", "d1"))
}

func TestIndexDocument_EmptyContentIsSkip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addDoc(t, "d1", "empty.txt", "text/plain", nil)

	err := f.indexer.IndexDocument(ctx, "bedroom", "d1")
	require.Error(t, err)
	assert.Equal(t, ragerr.KindNoContent, ragerr.KindOf(err))
	assert.True(t, ragerr.IsSkip(err))
}

func TestIndexDocument_InvalidTextIsError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addDoc(t, "d1", "garbled.txt", "text/plain", []byte{0xff, 0xfe, 0xfd})

	err := f.indexer.IndexDocument(ctx, "bedroom", "d1")
	require.Error(t, err)
	assert.Equal(t, ragerr.KindTextExtractionFailed, ragerr.KindOf(err))
	assert.False(t, ragerr.IsSkip(err))
	assert.False(t, ragerr.IsRetryable(err))
}

func TestIndexDocument_MissingDocumentIsSkip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.indexer.IndexDocument(ctx, "bedroom", "ghost")
	require.Error(t, err)
	assert.Equal(t, ragerr.KindNoContent, ragerr.KindOf(err))
}

func TestIndexDocument_Disabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.indexer.config.Enabled = false
	f.addDoc(t, "d1", "a.txt", "text/plain", []byte("text"))

	err := f.indexer.IndexDocument(ctx, "bedroom", "d1")
	require.Error(t, err)
	assert.Equal(t, ragerr.KindServiceDisabled, ragerr.KindOf(err))
}

func TestDeleteDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addDoc(t, "d1", "a.txt", "text/plain", []byte("delete me later"))

	require.NoError(t, f.indexer.IndexDocument(ctx, "bedroom", "d1"))
	require.NoError(t, f.indexer.DeleteDocument(ctx, "bedroom", "d1"))

	n, err := f.store.Count(ctx, "bedroom")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBuildPropertyText(t *testing.T) {
	text := BuildPropertyText(&repo.Document{
		Name:        "lease.txt",
		ObjectType:  "contract",
		Description: "office lease",
		Properties: map[string]string{
			"zeta":  "last value",
			"alpha": "first value",
			"blank": "",
		},
	})

	assert.Equal(t, "lease.txt\ncontract\noffice lease\nfirst value\nlast value", text)
}
