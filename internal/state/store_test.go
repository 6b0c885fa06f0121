package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrationsApplyOnOpen(t *testing.T) {
	s := openTestStore(t)
	version, err := s.MigrationVersion()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, version, int64(1))
}

func TestPipelineRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p, err := s.SavePipeline(ctx, "cpu-analysis", "slices by thread", "name: cpu-analysis\nnodes: []\n")
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)

	got, err := s.GetPipeline(ctx, "cpu-analysis")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, "slices by thread", got.Description)

	// Saving again updates in place, keeping the id.
	updated, err := s.SavePipeline(ctx, "cpu-analysis", "v2", "name: cpu-analysis\nnodes: []\n")
	require.NoError(t, err)
	assert.Equal(t, p.ID, updated.ID)
	assert.Equal(t, "v2", updated.Description)

	all, err := s.ListPipelines(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestGetPipelineNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetPipeline(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeletePipeline(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.SavePipeline(ctx, "p", "", "name: p\n")
	require.NoError(t, err)
	require.NoError(t, s.DeletePipeline(ctx, "p"))
	assert.ErrorIs(t, s.DeletePipeline(ctx, "p"), ErrNotFound)
}

func TestRunHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := &Run{
		PipelineName: "cpu-analysis",
		NodeID:       "n4",
		SQL:          "WITH sq_n4 AS (SELECT 1) SELECT * FROM sq_n4",
		Status:       RunSucceeded,
		RowsReturned: 42,
		StartedAt:    time.Now().Add(-time.Minute),
		Duration:     120 * time.Millisecond,
	}
	require.NoError(t, s.RecordRun(ctx, first))
	assert.NotEmpty(t, first.ID)

	second := &Run{
		PipelineName: "cpu-analysis",
		NodeID:       "n4",
		SQL:          "SELECT 1",
		Status:       RunFailed,
		Error:        "table not found",
		StartedAt:    time.Now(),
	}
	require.NoError(t, s.RecordRun(ctx, second))

	runs, err := s.ListRuns(ctx, "cpu-analysis", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, RunFailed, runs[0].Status, "newest first")
	assert.Equal(t, 120*time.Millisecond, runs[1].Duration)

	runs, err = s.ListRuns(ctx, "other", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
