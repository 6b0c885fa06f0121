package sqlgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracekit-labs/querygraph/internal/sq"
)

func generate(t *testing.T, root *sq.StructuredQuery, shared ...*sq.StructuredQuery) *Result {
	t.Helper()
	flat, err := sq.Flatten(root, shared)
	require.NoError(t, err)
	res, err := Generate(flat)
	require.NoError(t, err)
	return res
}

func TestTableScan(t *testing.T) {
	res := generate(t, sq.WithTable("t1", "slice", "slices.with_context", nil))
	assert.Contains(t, res.SQL, "sq_t1 AS (")
	assert.Contains(t, res.SQL, "FROM slice")
	assert.True(t, strings.HasSuffix(res.SQL, "FROM sq_t1"))
	assert.Equal(t, []string{"slices.with_context"}, res.Modules)
}

func TestFilters(t *testing.T) {
	q := sq.WithTable("t1", "process", "", nil)
	q.Filters = []*sq.Filter{
		{ColumnName: "name", Op: sq.OpGlob, StringRhs: []string{"com.*"}},
		{ColumnName: "pid", Op: sq.OpGreaterThan, Int64Rhs: []int64{100}},
	}
	res := generate(t, q)
	assert.Contains(t, res.SQL, "WHERE name GLOB 'com.*' AND pid > 100")
}

func TestFilterMultipleValuesExpandToOr(t *testing.T) {
	q := sq.WithTable("t1", "slice", "", nil)
	q.Filters = []*sq.Filter{{ColumnName: "depth", Op: sq.OpEqual, Int64Rhs: []int64{0, 1}}}
	res := generate(t, q)
	assert.Contains(t, res.SQL, "depth = 0 OR depth = 1")
}

func TestStringEscaping(t *testing.T) {
	q := sq.WithTable("t1", "slice", "", nil)
	q.Filters = []*sq.Filter{{ColumnName: "name", Op: sq.OpEqual, StringRhs: []string{"it's"}}}
	res := generate(t, q)
	assert.Contains(t, res.SQL, "name = 'it''s'")
}

func TestNullOperators(t *testing.T) {
	q := sq.WithTable("t1", "slice", "", nil)
	q.Filters = []*sq.Filter{
		{ColumnName: "parent_id", Op: sq.OpIsNull},
		{ColumnName: "name", Op: sq.OpIsNotNull},
	}
	res := generate(t, q)
	assert.Contains(t, res.SQL, "parent_id IS NULL AND name IS NOT NULL")
}

func TestGroupByWithAggregates(t *testing.T) {
	p := int32(95)
	q := sq.WithTable("t1", "slice", "", nil)
	q.GroupBy = &sq.GroupBy{
		ColumnNames: []string{"name"},
		Aggregates: []*sq.Aggregate{
			{Op: sq.AggCount, ResultColumnName: "n"},
			{ColumnName: "dur", Op: sq.AggSum, ResultColumnName: "total_dur"},
			{ColumnName: "dur", Op: sq.AggMean, ResultColumnName: "avg_dur"},
			{ColumnName: "dur", Op: sq.AggMedian, ResultColumnName: "p50"},
			{ColumnName: "dur", Op: sq.AggPercentile, ResultColumnName: "p95", Percentile: &p},
		},
	}
	res := generate(t, q)
	assert.Contains(t, res.SQL, "COUNT(*) AS n")
	assert.Contains(t, res.SQL, "SUM(dur) AS total_dur")
	assert.Contains(t, res.SQL, "AVG(dur) AS avg_dur")
	assert.Contains(t, res.SQL, "PERCENTILE(dur, 50) AS p50")
	assert.Contains(t, res.SQL, "PERCENTILE(dur, 95) AS p95")
	assert.Contains(t, res.SQL, "GROUP BY name")
}

func TestSelectColumnsRestrictGroupedOutput(t *testing.T) {
	q := sq.WithTable("t1", "slice", "", nil)
	q.GroupBy = &sq.GroupBy{
		ColumnNames: []string{"name"},
		Aggregates: []*sq.Aggregate{
			{Op: sq.AggCount, ResultColumnName: "n"},
			{ColumnName: "dur", Op: sq.AggMax, ResultColumnName: "max_dur"},
		},
	}
	q.SelectColumns = []*sq.SelectColumn{{Expression: "name"}, {Expression: "max_dur", Alias: "worst"}}
	res := generate(t, q)
	assert.Contains(t, res.SQL, "MAX(dur) AS worst")
	assert.NotContains(t, res.SQL, "COUNT", "unselected aggregate must be dropped")
}

func TestOrderLimitOffset(t *testing.T) {
	limit, offset := int64(10), int64(20)
	q := sq.WithTable("t1", "slice", "", nil)
	q.OrderBy = &sq.OrderBy{OrderingSpecs: []*sq.OrderingSpec{
		{ColumnName: "dur", Direction: sq.DirDesc},
		{ColumnName: "ts", Direction: sq.DirAsc},
	}}
	q.Limit = &limit
	q.Offset = &offset
	res := generate(t, q)
	assert.Contains(t, res.SQL, "ORDER BY dur DESC, ts ASC")
	assert.Contains(t, res.SQL, "LIMIT 10\nOFFSET 20")
}

func TestOffsetWithoutLimitFails(t *testing.T) {
	offset := int64(5)
	q := sq.WithTable("t1", "slice", "", nil)
	q.Offset = &offset
	flat, err := sq.Flatten(q, nil)
	require.NoError(t, err)
	_, err = Generate(flat)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OFFSET requires LIMIT")
}

func TestSharedReference(t *testing.T) {
	base := sq.WithTable("base", "slice", "", nil)
	root := &sq.StructuredQuery{
		Id:           "root",
		InnerQueryId: "base",
		Filters:      []*sq.Filter{{ColumnName: "dur", Op: sq.OpGreaterThan, Int64Rhs: []int64{0}}},
	}
	res := generate(t, root, base)
	assert.Contains(t, res.SQL, "shared_sq_base AS (")
	assert.Contains(t, res.SQL, "FROM shared_sq_base")
	// Dependency CTE precedes the referencing one.
	assert.Less(t, strings.Index(res.SQL, "shared_sq_base AS"), strings.Index(res.SQL, "sq_root AS"))
}

func TestRootWrapperFoldsIntoFinalSelect(t *testing.T) {
	limit := int64(50)
	root := &sq.StructuredQuery{
		Id:         "root",
		InnerQuery: sq.WithTable("inner", "slice", "", nil),
		OrderBy:    &sq.OrderBy{OrderingSpecs: []*sq.OrderingSpec{{ColumnName: "ts"}}},
		Limit:      &limit,
	}
	res := generate(t, root)
	// The wrapper root does not become a CTE of its own.
	assert.NotContains(t, res.SQL, "sq_root AS (")
	assert.True(t, strings.HasSuffix(res.SQL, "LIMIT 50"))
	assert.Contains(t, res.SQL, "ORDER BY ts")
}

func TestUnresolvedReferenceFails(t *testing.T) {
	root := &sq.StructuredQuery{Id: "root", InnerQueryId: "ghost"}
	_, err := sq.Flatten(root, nil)
	assert.ErrorIs(t, err, sq.ErrUnresolvedReference)
}

func TestSqlSourcePreamble(t *testing.T) {
	q := sq.WithSql("s1", "CREATE TEMP VIEW v AS SELECT 1 AS x; SELECT * FROM v", "", []string{"x"})
	res := generate(t, q)
	require.Len(t, res.Preambles, 1)
	assert.Contains(t, res.Preambles[0], "CREATE TEMP VIEW")
	assert.NotContains(t, res.SQL, "CREATE TEMP VIEW")
	assert.Contains(t, res.SQL, "SELECT x")
}

func TestJoin(t *testing.T) {
	left := fakeSource("l", "slice")
	right := fakeSource("r", "thread")
	q := sq.WithJoin("j1", left, right, sq.JoinLeft,
		&sq.EqualityColumns{LeftColumn: "utid", RightColumn: "utid"}, nil)
	require.NotNil(t, q)
	res := generate(t, q)
	assert.Contains(t, res.SQL, "LEFT JOIN")
	assert.Regexp(t, `sq_\w+\.utid = sq_\w+\.utid`, res.SQL)
}

func TestUnion(t *testing.T) {
	a := fakeSource("a", "slice")
	b := fakeSource("b", "slice")
	q := sq.WithUnion("u1", []sq.Source{a, b}, true)
	require.NotNil(t, q)
	res := generate(t, q)
	assert.Contains(t, res.SQL, "union_query_0")
	assert.Contains(t, res.SQL, "union_query_1")
	assert.Contains(t, res.SQL, "UNION ALL")
}

func TestUnionColumnMismatchFails(t *testing.T) {
	a := sq.WithTable("a", "slice", "", nil)
	a.SelectColumns = []*sq.SelectColumn{{Expression: "id"}, {Expression: "ts"}}
	b := sq.WithTable("b", "slice", "", nil)
	b.SelectColumns = []*sq.SelectColumn{{Expression: "id"}, {Expression: "name"}}
	root := &sq.StructuredQuery{Id: "u1", Union: &sq.Union{Queries: []*sq.StructuredQuery{a, b}}}

	flat, err := sq.Flatten(root, nil)
	require.NoError(t, err)
	_, err = Generate(flat)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "different column sets")
}

func TestAddColumns(t *testing.T) {
	core := sq.WithTable("core", "slice", "", nil)
	input := sq.WithTable("input", "thread", "", nil)
	root := &sq.StructuredQuery{
		Id: "ac1",
		AddColumns: &sq.AddColumns{
			CoreQuery:       &sq.StructuredQuery{InnerQueryId: "core"},
			InputQuery:      &sq.StructuredQuery{InnerQueryId: "input"},
			InputColumns:    []*sq.SelectColumn{{Expression: "name", Alias: "thread_name"}},
			EqualityColumns: &sq.EqualityColumns{LeftColumn: "utid", RightColumn: "utid"},
		},
	}
	res := generate(t, root, core, input)
	assert.Contains(t, res.SQL, "core.*, input.name AS thread_name")
	assert.Contains(t, res.SQL, "LEFT JOIN")
	assert.Contains(t, res.SQL, "core.utid = input.utid")
}

func TestIntervalIntersect(t *testing.T) {
	base := sq.WithTable("base", "slice", "", nil)
	other := sq.WithTable("other", "sched", "", nil)
	root := &sq.StructuredQuery{
		Id: "ii1",
		IntervalIntersect: &sq.IntervalIntersect{
			Base:             &sq.StructuredQuery{InnerQueryId: "base"},
			Intersect:        []*sq.StructuredQuery{{InnerQueryId: "other"}},
			PartitionColumns: []string{"ucpu"},
		},
	}
	res := generate(t, root, base, other)
	assert.Contains(t, res.SQL, "GREATEST(base_0.ts, source_1.ts) AS ts")
	assert.Contains(t, res.SQL, "id_0")
	assert.Contains(t, res.SQL, "id_1")
	assert.Contains(t, res.SQL, "base_0.ucpu = source_1.ucpu")
}

func TestIntervalIntersectReservedPartitionColumn(t *testing.T) {
	root := &sq.StructuredQuery{
		Id: "ii1",
		IntervalIntersect: &sq.IntervalIntersect{
			Base:             sq.WithTable("base", "slice", "", nil),
			Intersect:        []*sq.StructuredQuery{sq.WithTable("other", "sched", "", nil)},
			PartitionColumns: []string{"ts"},
		},
	}
	flat, err := sq.Flatten(root, nil)
	require.NoError(t, err)
	_, err = Generate(flat)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
}

func TestFilterToIntervals(t *testing.T) {
	base := sq.WithTable("base", "counter", "", nil)
	iv := sq.WithTable("iv", "slice", "", nil)
	root := &sq.StructuredQuery{
		Id: "f1",
		FilterToIntervals: &sq.FilterToIntervals{
			Base:      &sq.StructuredQuery{InnerQueryId: "base"},
			Intervals: &sq.StructuredQuery{InnerQueryId: "iv"},
		},
	}
	res := generate(t, root, base, iv)
	assert.Contains(t, res.SQL, "WHERE EXISTS")
	assert.Contains(t, res.SQL, "base.ts < iv.ts + iv.dur")
}

func TestFilterIn(t *testing.T) {
	base := sq.WithTable("base", "slice", "", nil)
	src := sq.WithTable("src", "thread", "", nil)
	root := &sq.StructuredQuery{
		Id: "fi1",
		FilterIn: &sq.FilterIn{
			Base:         &sq.StructuredQuery{InnerQueryId: "base"},
			Source:       &sq.StructuredQuery{InnerQueryId: "src"},
			Column:       "utid",
			SourceColumn: "utid",
		},
	}
	res := generate(t, root, base, src)
	assert.Contains(t, res.SQL, "utid IN (SELECT utid FROM")
}

func TestTimeRange(t *testing.T) {
	ts, dur := int64(1000), int64(500)
	res := generate(t, sq.WithTimeRange("tr1", sq.TimeRangeStatic, &ts, &dur))
	assert.Contains(t, res.SQL, "SELECT 0 AS id, 1000 AS ts, 500 AS dur")

	res = generate(t, sq.WithTimeRange("tr2", sq.TimeRangeDynamic, nil, nil))
	assert.Contains(t, res.SQL, "trace_start()")
	assert.Contains(t, res.SQL, "trace_dur()")
}

// fakeSource satisfies sq.Source for builder-level inputs.
type fakeSrc struct {
	id string
	q  *sq.StructuredQuery
}

func (f fakeSrc) ID() string                           { return f.id }
func (f fakeSrc) StructuredQuery() *sq.StructuredQuery { return f.q }

func fakeSource(id, table string) fakeSrc {
	return fakeSrc{id: id, q: sq.WithTable(id, table, "", nil)}
}
