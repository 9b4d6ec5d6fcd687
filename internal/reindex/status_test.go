package reindex

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobState_TryStartResetsCounters(t *testing.T) {
	s := newJobState("bedroom")
	require.True(t, s.tryStart())
	s.markIndexed()
	s.markSkipped()
	s.markError("boom")
	s.complete()
	s.release()

	require.True(t, s.tryStart())
	snap := s.Snapshot()
	assert.Equal(t, PhaseRunning, snap.Phase)
	assert.Equal(t, 0, snap.IndexedCount)
	assert.Equal(t, 0, snap.SkippedCount)
	assert.Equal(t, 0, snap.ErrorCount)
	assert.Empty(t, snap.Errors)
	assert.Equal(t, TotalUnknown, snap.TotalDocuments)
}

func TestJobState_TryStartFailsWhileRunning(t *testing.T) {
	s := newJobState("bedroom")
	require.True(t, s.tryStart())
	s.markIndexed()

	assert.False(t, s.tryStart())

	snap := s.Snapshot()
	assert.Equal(t, PhaseRunning, snap.Phase)
	assert.Equal(t, 1, snap.IndexedCount, "rejected start must not touch the running job")
}

func TestJobState_ErrorListCappedButCountExact(t *testing.T) {
	s := newJobState("bedroom")
	require.True(t, s.tryStart())

	for i := 0; i < MaxCapturedErrors+37; i++ {
		s.markError(fmt.Sprintf("doc-%d: broken", i))
	}

	snap := s.Snapshot()
	assert.Len(t, snap.Errors, MaxCapturedErrors)
	assert.Equal(t, MaxCapturedErrors+37, snap.ErrorCount)
	assert.Equal(t, "doc-0: broken", snap.Errors[0])
}

func TestJobState_CancelIsImmediateAndSticky(t *testing.T) {
	s := newJobState("bedroom")
	require.True(t, s.tryStart())

	require.True(t, s.requestCancel())
	snap := s.Snapshot()
	assert.Equal(t, PhaseCancelled, snap.Phase)
	assert.NotZero(t, snap.EndTime)

	// A late worker completion must not overwrite the cancelled state.
	s.complete()
	assert.Equal(t, PhaseCancelled, s.Snapshot().Phase)
	s.fail("late failure")
	assert.Equal(t, PhaseCancelled, s.Snapshot().Phase)
}

func TestJobState_CancelFailsWhenNotRunning(t *testing.T) {
	s := newJobState("bedroom")
	assert.False(t, s.requestCancel())
	assert.Equal(t, PhaseIdle, s.Snapshot().Phase)

	require.True(t, s.tryStart())
	s.complete()
	assert.False(t, s.requestCancel())
	assert.Equal(t, PhaseCompleted, s.Snapshot().Phase)
}

func TestJobState_RestartWaitsForRelease(t *testing.T) {
	s := newJobState("bedroom")
	require.True(t, s.tryStart())
	require.True(t, s.requestCancel())

	assert.False(t, s.tryStart(), "state is held until the worker drains")

	s.release()
	assert.True(t, s.tryStart())
}

func TestJobState_AbortRevertsToIdle(t *testing.T) {
	s := newJobState("bedroom")
	require.True(t, s.tryStart())
	s.abort()

	snap := s.Snapshot()
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.Zero(t, snap.StartTime)
	require.True(t, s.tryStart(), "abort must allow a fresh start")
}

func TestJobState_SnapshotCopiesErrors(t *testing.T) {
	s := newJobState("bedroom")
	require.True(t, s.tryStart())
	s.markError("first")

	snap := s.Snapshot()
	s.markError("second")

	assert.Len(t, snap.Errors, 1)
	assert.Len(t, s.Snapshot().Errors, 2)
}

func TestRegistry_GetIsLazyAndStable(t *testing.T) {
	r := NewRegistry()
	a := r.Get("bedroom")
	b := r.Get("bedroom")
	c := r.Get("attic")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, PhaseIdle, a.Snapshot().Phase)
	assert.Equal(t, "attic", c.Snapshot().RepositoryID)
}
