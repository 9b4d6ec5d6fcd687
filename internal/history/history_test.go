package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openecm/ragsearch/internal/reindex"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func snapshot(repositoryID string, phase reindex.Phase, indexed int) reindex.Snapshot {
	now := time.Now().UnixMilli()
	return reindex.Snapshot{
		RepositoryID:   repositoryID,
		Phase:          phase,
		TotalDocuments: indexed,
		IndexedCount:   indexed,
		StartTime:      now - 1000,
		EndTime:        now,
	}
}

func TestRecordAndListRuns(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.RecordRun(ctx, "full", snapshot("bedroom", reindex.PhaseCompleted, 10)))
	require.NoError(t, s.RecordRun(ctx, "folder:f-contracts", snapshot("bedroom", reindex.PhaseError, 3)))
	require.NoError(t, s.RecordRun(ctx, "full", snapshot("attic", reindex.PhaseCompleted, 7)))

	runs, err := s.ListRuns(ctx, "bedroom", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	for _, r := range runs {
		assert.Equal(t, "bedroom", r.RepositoryID)
		assert.NotEmpty(t, r.ID)
		assert.NotZero(t, r.RecordedAt)
	}
	scopes := []string{runs[0].Scope, runs[1].Scope}
	assert.Contains(t, scopes, "full")
	assert.Contains(t, scopes, "folder:f-contracts")
}

func TestListRuns_RespectsLimit(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordRun(ctx, "full", snapshot("bedroom", reindex.PhaseCompleted, i)))
	}

	runs, err := s.ListRuns(ctx, "bedroom", 3)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestListRuns_EmptyRepository(t *testing.T) {
	s := openStore(t)

	runs, err := s.ListRuns(context.Background(), "nowhere", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestPrune_RemovesOldRuns(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.RecordRun(ctx, "full", snapshot("bedroom", reindex.PhaseCompleted, 1)))

	n, err := s.Prune(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	runs, err := s.ListRuns(ctx, "bedroom", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.RecordRun(context.Background(), "full", snapshot("bedroom", reindex.PhaseCompleted, 1)))
	runs, err := s.ListRuns(context.Background(), "bedroom", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
