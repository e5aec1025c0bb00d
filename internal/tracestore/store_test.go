package tracestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quartz/internal/trace"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTrace() *trace.File {
	return &trace.File{
		StartTime: 1000,
		Objects: []trace.Object{
			{Pointer: 1, Description: "reactor main"},
			{Pointer: 2, Description: "trigger main.tick"},
		},
		Records: []trace.Record{
			{EventType: trace.ReactionStarts, Pointer: 1, SrcID: 0, DstID: 0, LogicalTime: 1000},
			{EventType: trace.ScheduleCalled, Pointer: 1, SrcID: -1, DstID: -1, LogicalTime: 1000, Trigger: 2, ExtraDelay: 10},
			{EventType: trace.ReactionEnds, Pointer: 1, SrcID: 0, DstID: 0, LogicalTime: 1000},
			{EventType: trace.ReactionStarts, Pointer: 1, SrcID: 0, DstID: 0, LogicalTime: 1010},
			{EventType: trace.ReactionEnds, Pointer: 1, SrcID: 0, DstID: 0, LogicalTime: 1010},
		},
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestIndexTrace_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.IndexTrace(ctx, "run-1", "run1.lft", sampleTrace()))

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
	assert.EqualValues(t, 1000, runs[0].StartTime)
	assert.Equal(t, 5, runs[0].Records)

	objects, err := s.Objects(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "reactor main", objects[1])
	assert.Equal(t, "trigger main.tick", objects[2])

	recs, err := s.Records(ctx, "run-1", RecordQuery{})
	require.NoError(t, err)
	require.Len(t, recs, 5)
	assert.Equal(t, trace.ReactionStarts, recs[0].EventType)
	assert.EqualValues(t, 1010, recs[4].LogicalTime)
}

func TestIndexTrace_DuplicateRunRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.IndexTrace(ctx, "run-1", "a.lft", sampleTrace()))
	err := s.IndexTrace(ctx, "run-1", "b.lft", sampleTrace())
	require.Error(t, err, "runs are immutable once indexed")
}

func TestRecords_Filters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.IndexTrace(ctx, "run-1", "a.lft", sampleTrace()))

	et := trace.ScheduleCalled
	recs, err := s.Records(ctx, "run-1", RecordQuery{EventType: &et})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.EqualValues(t, 2, recs[0].Trigger)
	assert.EqualValues(t, 10, recs[0].ExtraDelay)

	from := int64(1005)
	recs, err = s.Records(ctx, "run-1", RecordQuery{FromTime: &from})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = s.Records(ctx, "run-1", RecordQuery{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestSummary(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.IndexTrace(ctx, "run-1", "a.lft", sampleTrace()))

	summary, err := s.Summary(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, summary[trace.ReactionStarts])
	assert.Equal(t, 2, summary[trace.ReactionEnds])
	assert.Equal(t, 1, summary[trace.ScheduleCalled])
}

func TestDeleteRun_Cascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.IndexTrace(ctx, "run-1", "a.lft", sampleTrace()))
	require.NoError(t, s.DeleteRun(ctx, "run-1"))

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)

	recs, err := s.Records(ctx, "run-1", RecordQuery{})
	require.NoError(t, err)
	assert.Empty(t, recs)

	require.Error(t, s.DeleteRun(ctx, "run-1"))
}
