package sq

// builder.go - static constructors assembling IR fragments from upstream
// pipeline nodes.
//
// Two composition strategies exist, chosen by operator arity. Unary
// operators reference their upstream by id: the upstream fragment is
// expected to be shipped separately in the same emission under a matching
// id. N-ary operators embed full upstream sub-trees because the wire schema
// requires complete sub-messages for those operators.
//
// Every constructor returns nil instead of an error when a required input
// is missing or an upstream query cannot be produced; absence-of-result is
// the uniform failure signal consumed by callers.

// Source yields IR fragments for an upstream pipeline node.
type Source interface {
	// ID returns the node's globally unique id.
	ID() string
	// StructuredQuery returns the node's IR fragment, nil when the node is
	// invalid.
	StructuredQuery() *StructuredQuery
}

// RefByID returns a passthrough fragment referencing upstream by id. The
// fragment itself carries no id of its own; callers wrap or embed it.
func RefByID(upstream Source) *StructuredQuery {
	if upstream == nil || upstream.ID() == "" {
		return nil
	}
	return &StructuredQuery{InnerQueryId: upstream.ID()}
}

// DurFilteredRef returns a by-id reference to upstream with a dur >= 0
// filter applied, excluding unfinished intervals. Interval operators apply
// this to their inputs by default; includeUnfinished opts a single input
// out.
func DurFilteredRef(upstream Source, includeUnfinished bool) *StructuredQuery {
	ref := RefByID(upstream)
	if ref == nil {
		return nil
	}
	if !includeUnfinished {
		ApplyDurFilter(ref)
	}
	return ref
}

// ApplyDurFilter appends the dur >= 0 precondition onto q.
func ApplyDurFilter(q *StructuredQuery) {
	if q == nil {
		return
	}
	q.Filters = append(q.Filters, &Filter{
		ColumnName: "dur",
		Op:         OpGreaterThanEqual,
		Int64Rhs:   []int64{0},
	})
}

// WithTable returns a table-scan leaf fragment.
func WithTable(id, tableName, moduleName string, columnNames []string) *StructuredQuery {
	if tableName == "" {
		return nil
	}
	return &StructuredQuery{
		Id: id,
		Table: &Table{
			TableName:   tableName,
			ModuleName:  moduleName,
			ColumnNames: columnNames,
		},
	}
}

// WithSql returns a raw-SQL leaf fragment.
func WithSql(id, sqlText, preamble string, columnNames []string) *StructuredQuery {
	if sqlText == "" {
		return nil
	}
	return &StructuredQuery{
		Id: id,
		Sql: &Sql{
			Sql:         sqlText,
			ColumnNames: columnNames,
			Preamble:    preamble,
		},
	}
}

// WithTimeRange returns a time-range leaf fragment.
func WithTimeRange(id string, mode TimeRangeMode, ts, dur *int64) *StructuredQuery {
	if mode == TimeRangeStatic && (ts == nil || dur == nil) {
		return nil
	}
	return &StructuredQuery{
		Id:        id,
		TimeRange: &TimeRange{Mode: mode, Ts: ts, Dur: dur},
	}
}

// WithFilter wraps upstream by id and applies the given filters.
func WithFilter(id string, upstream Source, filters []*Filter) *StructuredQuery {
	ref := RefByID(upstream)
	if ref == nil || len(filters) == 0 {
		return nil
	}
	ref.Id = id
	ref.Filters = filters
	return ref
}

// WithSelectColumns wraps upstream by id and projects the given columns.
func WithSelectColumns(id string, upstream Source, cols []*SelectColumn) *StructuredQuery {
	ref := RefByID(upstream)
	if ref == nil || len(cols) == 0 {
		return nil
	}
	ref.Id = id
	ref.SelectColumns = cols
	return ref
}

// WithGroupBy wraps upstream by id and applies a group-by, optionally
// followed by a projection of the grouped output.
func WithGroupBy(id string, upstream Source, groupBy *GroupBy, cols []*SelectColumn) *StructuredQuery {
	ref := RefByID(upstream)
	if ref == nil || groupBy == nil || len(groupBy.ColumnNames) == 0 {
		return nil
	}
	ref.Id = id
	ref.GroupBy = groupBy
	ref.SelectColumns = cols
	return ref
}

// WithOrderBy wraps upstream by id and applies an ordering.
func WithOrderBy(id string, upstream Source, specs []*OrderingSpec) *StructuredQuery {
	ref := RefByID(upstream)
	if ref == nil || len(specs) == 0 {
		return nil
	}
	ref.Id = id
	ref.OrderBy = &OrderBy{OrderingSpecs: specs}
	return ref
}

// WithLimitOffset wraps upstream by id and applies limit/offset. Offset
// without limit is rejected at generation time, so both are carried as
// given.
func WithLimitOffset(id string, upstream Source, limit, offset *int64) *StructuredQuery {
	ref := RefByID(upstream)
	if ref == nil || (limit == nil && offset == nil) {
		return nil
	}
	ref.Id = id
	ref.Limit = limit
	ref.Offset = offset
	return ref
}

// WithJoin embeds both sides of a join. Returns nil when either side
// cannot produce a query or no condition is given.
func WithJoin(id string, left, right Source, typ JoinType, eq *EqualityColumns, freeform *FreeformCondition) *StructuredQuery {
	if left == nil || right == nil {
		return nil
	}
	lq, rq := left.StructuredQuery(), right.StructuredQuery()
	if lq == nil || rq == nil {
		return nil
	}
	if eq == nil && freeform == nil {
		return nil
	}
	return &StructuredQuery{
		Id: id,
		Join: &Join{
			LeftQuery:         lq,
			RightQuery:        rq,
			Type:              typ,
			EqualityColumns:   eq,
			FreeformCondition: freeform,
		},
	}
}

// WithUnion embeds every input query. At least two inputs are required.
func WithUnion(id string, inputs []Source, useUnionAll bool) *StructuredQuery {
	if len(inputs) < 2 {
		return nil
	}
	queries := make([]*StructuredQuery, 0, len(inputs))
	for _, in := range inputs {
		if in == nil {
			return nil
		}
		q := in.StructuredQuery()
		if q == nil {
			return nil
		}
		queries = append(queries, q)
	}
	return &StructuredQuery{
		Id:    id,
		Union: &Union{Queries: queries, UseUnionAll: useUnionAll},
	}
}

// IntervalInput pairs an interval source with its unfinished-interval
// opt-out flag.
type IntervalInput struct {
	Source            Source
	IncludeUnfinished bool
}

// WithIntervalIntersect embeds by-id references to the base and every
// interval input, injecting the dur >= 0 precondition on each input that
// has not opted out.
func WithIntervalIntersect(id string, base IntervalInput, inputs []IntervalInput, partitionCols []string) *StructuredQuery {
	baseRef := DurFilteredRef(base.Source, base.IncludeUnfinished)
	if baseRef == nil || len(inputs) == 0 {
		return nil
	}
	refs := make([]*StructuredQuery, 0, len(inputs))
	for _, in := range inputs {
		ref := DurFilteredRef(in.Source, in.IncludeUnfinished)
		if ref == nil {
			return nil
		}
		refs = append(refs, ref)
	}
	return &StructuredQuery{
		Id: id,
		IntervalIntersect: &IntervalIntersect{
			Base:             baseRef,
			Intersect:        refs,
			PartitionColumns: partitionCols,
		},
	}
}

// WithAddColumns embeds by-id references to the core and input queries and
// left-joins the selected input columns onto the core.
func WithAddColumns(id string, core, input Source, inputCols []*SelectColumn, eq *EqualityColumns, freeform *FreeformCondition) *StructuredQuery {
	coreRef, inputRef := RefByID(core), RefByID(input)
	if coreRef == nil || inputRef == nil || len(inputCols) == 0 {
		return nil
	}
	if eq == nil && freeform == nil {
		return nil
	}
	return &StructuredQuery{
		Id: id,
		AddColumns: &AddColumns{
			CoreQuery:         coreRef,
			InputQuery:        inputRef,
			InputColumns:      inputCols,
			EqualityColumns:   eq,
			FreeformCondition: freeform,
		},
	}
}

// WithAddColumnsAndExpressions sequences an add-columns join with a
// projection of computed expression columns. When expression columns are
// present the join sub-step receives a synthetic throwaway id and the real
// node id goes on the outermost fragment, preserving the id chain for
// downstream resolution.
func WithAddColumnsAndExpressions(id string, core, input Source, inputCols []*SelectColumn, eq *EqualityColumns, freeform *FreeformCondition, expressions []*SelectColumn) *StructuredQuery {
	if len(expressions) == 0 {
		return WithAddColumns(id, core, input, inputCols, eq, freeform)
	}

	var inner *StructuredQuery
	if input != nil || len(inputCols) > 0 {
		inner = WithAddColumns(id+"_join", core, input, inputCols, eq, freeform)
		if inner == nil {
			return nil
		}
	} else {
		// No join half: project expressions straight over the core query.
		inner = RefByID(core)
		if inner == nil {
			return nil
		}
	}

	cols := []*SelectColumn{{Expression: "*"}}
	cols = append(cols, expressions...)
	return &StructuredQuery{
		Id:            id,
		InnerQuery:    inner,
		SelectColumns: cols,
	}
}

// WithFilterToIntervals embeds by-id references keeping base rows that
// overlap the intervals query. The dur >= 0 precondition applies to the
// intervals side.
func WithFilterToIntervals(id string, base, intervals Source) *StructuredQuery {
	baseRef := RefByID(base)
	ivRef := DurFilteredRef(intervals, false)
	if baseRef == nil || ivRef == nil {
		return nil
	}
	return &StructuredQuery{
		Id: id,
		FilterToIntervals: &FilterToIntervals{
			Base:      baseRef,
			Intervals: ivRef,
		},
	}
}

// WithFilterIn embeds by-id references keeping base rows whose column
// value appears in the source query's column.
func WithFilterIn(id string, base, source Source, col, sourceCol string) *StructuredQuery {
	baseRef, srcRef := RefByID(base), RefByID(source)
	if baseRef == nil || srcRef == nil || col == "" || sourceCol == "" {
		return nil
	}
	return &StructuredQuery{
		Id: id,
		FilterIn: &FilterIn{
			Base:         baseRef,
			Source:       srcRef,
			Column:       col,
			SourceColumn: sourceCol,
		},
	}
}
