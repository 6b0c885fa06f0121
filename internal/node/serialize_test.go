package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracekit-labs/querygraph/internal/column"
	"github.com/tracekit-labs/querygraph/internal/sq"
)

// roundTrip serializes n and deserializes it against byID, requiring both
// steps to succeed.
func roundTrip(t *testing.T, n Node, byID map[string]Node) Node {
	t.Helper()
	env, err := Serialize(n)
	require.NoError(t, err)
	back, err := Deserialize(env, byID)
	require.NoError(t, err)
	return back
}

// assertEquivalent checks the round-trip contract: identical finalCols and
// validation outcome given identical upstream nodes.
func assertEquivalent(t *testing.T, want, got Node) {
	t.Helper()
	assert.Equal(t, want.ID(), got.ID())
	assert.Equal(t, want.Kind(), got.Kind())
	assert.Equal(t, want.Validate(), got.Validate())
	assert.Equal(t, want.Issues().Error(), got.Issues().Error())
	assert.Equal(t, column.Names(want.FinalCols()), column.Names(got.FinalCols()))
}

func TestRoundTripEveryKind(t *testing.T) {
	gen := NewCounter("n")

	slice := intervalTable(gen, "slices", "slice_name")
	sched := intervalTable(gen, "sched", "cpu")
	thread := table(gen, "thread", cols("utid", column.TypeLong, "name", column.TypeString))
	raw := NewSql(gen, "SELECT 1 AS x", cols("x", column.TypeInt))
	ts, dur := int64(0), int64(1000)
	window := NewIntervals(gen, sq.TimeRangeStatic, &ts, &dur)

	modify := NewModify(gen, slice)
	modify.OrderBy = []*sq.OrderingSpec{{ColumnName: "ts", Direction: sq.DirDesc}}
	limit := int64(100)
	modify.Limit = &limit

	addCols := NewAddColumns(gen, slice)
	addCols.Secondary.Set(0, thread)
	addCols.LeftColumn, addCols.RightColumn = "id", "utid"
	addCols.SelectedColumns = []string{"name"}
	addCols.Aliases = map[string]string{"name": "thread_name"}
	addCols.Computed = []Computed{{Name: "dur_ms", Expression: "dur / 1e6"}}
	addCols.Comment = "join thread names"

	merge := NewMerge(gen, slice, sched)
	merge.LeftColumn, merge.RightColumn = "id", "id"

	union := NewUnion(gen)
	union.Members.Set(0, slice)
	union.Members.Set(1, sched)
	union.UseUnionAll = true

	ii := NewIntervalIntersect(gen, slice)
	ii.Intersect.Set(0, sched)
	ii.PartitionColumns = nil
	ii.TsDurSource = 0
	ii.IncludeUnfinished[1] = true

	fti := NewFilterToIntervals(gen, slice)
	fti.Intervals.Set(0, window)

	fin := NewFilterIn(gen, slice)
	fin.Source.Set(0, thread)
	fin.Column, fin.SourceColumn = "id", "utid"

	byID := map[string]Node{
		slice.ID():  slice,
		sched.ID():  sched,
		thread.ID(): thread,
		window.ID(): window,
	}

	for _, n := range []Node{slice, thread, raw, window, modify, addCols, merge, union, ii, fti, fin} {
		t.Run(string(n.Kind()), func(t *testing.T) {
			back := roundTrip(t, n, byID)
			assertEquivalent(t, n, back)
		})
	}
}

func TestRoundTripPreservesOperatorState(t *testing.T) {
	gen := NewCounter("n")
	slice := intervalTable(gen, "slices")
	sched := intervalTable(gen, "sched")
	byID := map[string]Node{slice.ID(): slice, sched.ID(): sched}

	ii := NewIntervalIntersect(gen, slice)
	ii.Intersect.Set(0, sched)
	ii.TsDurSource = 1
	ii.IncludeUnfinished[0] = true

	back := roundTrip(t, ii, byID).(*IntervalIntersectNode)
	assert.Equal(t, 1, back.TsDurSource)
	assert.True(t, back.IncludeUnfinished[0])
	assert.Same(t, slice, back.Base)
}

func TestDeserializeUnknownInputFails(t *testing.T) {
	gen := NewCounter("n")
	slice := intervalTable(gen, "slices")
	m := NewModify(gen, slice)

	env, err := Serialize(m)
	require.NoError(t, err)
	_, err = Deserialize(env, map[string]Node{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown input")
}

func TestDeserializeUnknownKindFails(t *testing.T) {
	_, err := Deserialize(&Envelope{Kind: "bogus", ID: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node kind")
}

func TestCloneIsIndependent(t *testing.T) {
	gen := NewCounter("n")
	slice := intervalTable(gen, "slices")
	thread := table(gen, "thread", cols("utid", column.TypeLong, "name", column.TypeString))

	n := NewAddColumns(gen, slice)
	n.Secondary.Set(0, thread)
	n.LeftColumn, n.RightColumn = "id", "utid"
	n.SelectedColumns = []string{"name"}

	c := n.Clone().(*AddColumnsNode)
	c.Aliases["name"] = "thread_name"
	c.SelectedColumns = append(c.SelectedColumns, "extra")

	// Draft edits on the clone never leak into the original.
	assert.Empty(t, n.Aliases)
	assert.Len(t, n.SelectedColumns, 1)
	assert.Equal(t, n.ID(), c.ID())
}
