// Package sq defines the structured-query intermediate representation: the
// serializable message tree consumed by the analytical SQL engine. The wire
// schema is external and fixed; the types here mirror it field for field
// with protojson-compatible names.
//
// A StructuredQuery has exactly one source: a leaf operation (table, sql,
// time range), a reference to another fragment by id, or a fully embedded
// sub-query. Unary operations (filters, group by, select, order by,
// limit/offset) hang off the same message and apply on top of the source.
package sq

// Filter operators. Values match the wire schema's enum names.
type FilterOp string

const (
	OpUnknown          FilterOp = "UNKNOWN"
	OpEqual            FilterOp = "EQUAL"
	OpNotEqual         FilterOp = "NOT_EQUAL"
	OpLessThan         FilterOp = "LESS_THAN"
	OpLessThanEqual    FilterOp = "LESS_THAN_EQUAL"
	OpGreaterThan      FilterOp = "GREATER_THAN"
	OpGreaterThanEqual FilterOp = "GREATER_THAN_EQUAL"
	OpGlob             FilterOp = "GLOB"
	OpIsNull           FilterOp = "IS_NULL"
	OpIsNotNull        FilterOp = "IS_NOT_NULL"
)

// Sort directions.
type Direction string

const (
	DirUnspecified Direction = "UNSPECIFIED"
	DirAsc         Direction = "ASC"
	DirDesc        Direction = "DESC"
)

// Join types.
type JoinType string

const (
	JoinInner JoinType = "INNER"
	JoinLeft  JoinType = "LEFT"
)

// Aggregate operations for group-by result columns.
type AggregateOp string

const (
	AggCount                AggregateOp = "COUNT"
	AggCountDistinct        AggregateOp = "COUNT_DISTINCT"
	AggSum                  AggregateOp = "SUM"
	AggMin                  AggregateOp = "MIN"
	AggMax                  AggregateOp = "MAX"
	AggMean                 AggregateOp = "MEAN"
	AggMedian               AggregateOp = "MEDIAN"
	AggPercentile           AggregateOp = "PERCENTILE"
	AggDurationWeightedMean AggregateOp = "DURATION_WEIGHTED_MEAN"
	AggCustom               AggregateOp = "CUSTOM"
)

// Time range modes.
type TimeRangeMode string

const (
	TimeRangeStatic  TimeRangeMode = "STATIC"
	TimeRangeDynamic TimeRangeMode = "DYNAMIC"
)

// StructuredQuery is one fragment of the IR tree. Exactly one source field
// must be set; operation fields are optional.
type StructuredQuery struct {
	Id string `json:"id,omitempty"`

	// Sources (oneof).
	Table             *Table             `json:"table,omitempty"`
	Sql               *Sql               `json:"sql,omitempty"`
	TimeRange         *TimeRange         `json:"experimentalTimeRange,omitempty"`
	IntervalIntersect *IntervalIntersect `json:"intervalIntersect,omitempty"`
	Join              *Join              `json:"experimentalJoin,omitempty"`
	Union             *Union             `json:"experimentalUnion,omitempty"`
	AddColumns        *AddColumns        `json:"experimentalAddColumns,omitempty"`
	FilterToIntervals *FilterToIntervals `json:"experimentalFilterToIntervals,omitempty"`
	FilterIn          *FilterIn          `json:"experimentalFilterIn,omitempty"`
	InnerQuery        *StructuredQuery   `json:"innerQuery,omitempty"`
	InnerQueryId      string             `json:"innerQueryId,omitempty"`

	// Operations applied on top of the source.
	Filters       []*Filter       `json:"filters,omitempty"`
	GroupBy       *GroupBy        `json:"groupBy,omitempty"`
	SelectColumns []*SelectColumn `json:"selectColumns,omitempty"`
	OrderBy       *OrderBy        `json:"orderBy,omitempty"`
	Limit         *int64          `json:"limit,omitempty"`
	Offset        *int64          `json:"offset,omitempty"`
}

// Table is a catalog table scan.
type Table struct {
	TableName   string   `json:"tableName"`
	ModuleName  string   `json:"moduleName,omitempty"`
	ColumnNames []string `json:"columnNames,omitempty"`
}

// Sql is a raw SQL source. When Preamble is set, Sql must be a single
// statement; otherwise any leading statements are peeled off into the
// preamble at generation time.
type Sql struct {
	Sql         string   `json:"sql"`
	ColumnNames []string `json:"columnNames,omitempty"`
	Preamble    string   `json:"preamble,omitempty"`
}

// TimeRange is a synthetic single-interval source exposing id, ts and dur.
type TimeRange struct {
	Mode TimeRangeMode `json:"mode"`
	Ts   *int64        `json:"ts,omitempty"`
	Dur  *int64        `json:"dur,omitempty"`
}

// Filter is a single column predicate. Multiple right-hand-side values
// expand to an OR of per-value comparisons.
type Filter struct {
	ColumnName string    `json:"columnName"`
	Op         FilterOp  `json:"op"`
	StringRhs  []string  `json:"stringRhs,omitempty"`
	DoubleRhs  []float64 `json:"doubleRhs,omitempty"`
	Int64Rhs   []int64   `json:"int64Rhs,omitempty"`
}

// SelectColumn projects one column or expression, optionally renamed.
type SelectColumn struct {
	Expression string `json:"columnNameOrExpression"`
	Alias      string `json:"alias,omitempty"`
}

// OrderBy holds the ordering specs; the first spec is the primary key.
type OrderBy struct {
	OrderingSpecs []*OrderingSpec `json:"orderingSpecs"`
}

// OrderingSpec orders by one column.
type OrderingSpec struct {
	ColumnName string    `json:"columnName"`
	Direction  Direction `json:"direction,omitempty"`
}

// GroupBy groups by the named columns and computes the given aggregates.
type GroupBy struct {
	ColumnNames []string     `json:"columnNames"`
	Aggregates  []*Aggregate `json:"aggregates,omitempty"`
}

// Aggregate computes one result column of a group-by.
type Aggregate struct {
	ColumnName          string      `json:"columnName,omitempty"`
	Op                  AggregateOp `json:"op"`
	ResultColumnName    string      `json:"resultColumnName"`
	Percentile          *int32      `json:"percentile,omitempty"`
	CustomSqlExpression string      `json:"customSqlExpression,omitempty"`
}

// EqualityColumns is an equi-join condition.
type EqualityColumns struct {
	LeftColumn  string `json:"leftColumn"`
	RightColumn string `json:"rightColumn"`
}

// FreeformCondition is an arbitrary SQL join condition over aliased sides.
type FreeformCondition struct {
	LeftQueryAlias  string `json:"leftQueryAlias"`
	RightQueryAlias string `json:"rightQueryAlias"`
	SqlExpression   string `json:"sqlExpression"`
}

// Join combines two embedded queries. Exactly one of EqualityColumns or
// FreeformCondition must be set.
type Join struct {
	LeftQuery         *StructuredQuery   `json:"leftQuery"`
	RightQuery        *StructuredQuery   `json:"rightQuery"`
	Type              JoinType           `json:"type,omitempty"`
	EqualityColumns   *EqualityColumns   `json:"equalityColumns,omitempty"`
	FreeformCondition *FreeformCondition `json:"freeformCondition,omitempty"`
}

// AddColumns left-joins selected columns of an input query onto a core
// query, keeping every core row.
type AddColumns struct {
	CoreQuery         *StructuredQuery   `json:"coreQuery"`
	InputQuery        *StructuredQuery   `json:"inputQuery"`
	InputColumns      []*SelectColumn    `json:"inputColumns"`
	EqualityColumns   *EqualityColumns   `json:"equalityColumns,omitempty"`
	FreeformCondition *FreeformCondition `json:"freeformCondition,omitempty"`
}

// Union combines two or more embedded queries with matching column sets.
type Union struct {
	Queries     []*StructuredQuery `json:"queries"`
	UseUnionAll bool               `json:"useUnionAll,omitempty"`
}

// IntervalIntersect intersects the base intervals against one or more
// interval sources, optionally partitioned.
type IntervalIntersect struct {
	Base             *StructuredQuery   `json:"base"`
	Intersect        []*StructuredQuery `json:"intervalIntersect"`
	PartitionColumns []string           `json:"partitionColumns,omitempty"`
}

// FilterToIntervals keeps base rows that overlap at least one interval of
// the intervals query.
type FilterToIntervals struct {
	Base      *StructuredQuery `json:"base"`
	Intervals *StructuredQuery `json:"intervals"`
}

// FilterIn keeps base rows whose Column value appears in SourceColumn of
// the source query.
type FilterIn struct {
	Base         *StructuredQuery `json:"base"`
	Source       *StructuredQuery `json:"source"`
	Column       string           `json:"column"`
	SourceColumn string           `json:"sourceColumn"`
}

// HasSource reports whether exactly one source field is populated.
func (q *StructuredQuery) HasSource() bool {
	n := 0
	if q.Table != nil {
		n++
	}
	if q.Sql != nil {
		n++
	}
	if q.TimeRange != nil {
		n++
	}
	if q.IntervalIntersect != nil {
		n++
	}
	if q.Join != nil {
		n++
	}
	if q.Union != nil {
		n++
	}
	if q.AddColumns != nil {
		n++
	}
	if q.FilterToIntervals != nil {
		n++
	}
	if q.FilterIn != nil {
		n++
	}
	if q.InnerQuery != nil {
		n++
	}
	if q.InnerQueryId != "" {
		n++
	}
	return n == 1
}

// nestedQueries returns the directly embedded sub-queries of q, in a fixed
// traversal order.
func (q *StructuredQuery) nestedQueries() []*StructuredQuery {
	var out []*StructuredQuery
	add := func(sub *StructuredQuery) {
		if sub != nil {
			out = append(out, sub)
		}
	}
	add(q.InnerQuery)
	if q.Join != nil {
		add(q.Join.LeftQuery)
		add(q.Join.RightQuery)
	}
	if q.AddColumns != nil {
		add(q.AddColumns.CoreQuery)
		add(q.AddColumns.InputQuery)
	}
	if q.Union != nil {
		out = append(out, q.Union.Queries...)
	}
	if q.IntervalIntersect != nil {
		add(q.IntervalIntersect.Base)
		out = append(out, q.IntervalIntersect.Intersect...)
	}
	if q.FilterToIntervals != nil {
		add(q.FilterToIntervals.Base)
		add(q.FilterToIntervals.Intervals)
	}
	if q.FilterIn != nil {
		add(q.FilterIn.Base)
		add(q.FilterIn.Source)
	}
	return out
}

// ReferencedIds returns every innerQueryId reachable from q through
// embedded fragments, in traversal order with duplicates removed.
func (q *StructuredQuery) ReferencedIds() []string {
	seen := make(map[string]struct{})
	var out []string
	var walk func(sub *StructuredQuery)
	walk = func(sub *StructuredQuery) {
		if sub == nil {
			return
		}
		if sub.InnerQueryId != "" {
			if _, ok := seen[sub.InnerQueryId]; !ok {
				seen[sub.InnerQueryId] = struct{}{}
				out = append(out, sub.InnerQueryId)
			}
		}
		for _, n := range sub.nestedQueries() {
			walk(n)
		}
	}
	walk(q)
	return out
}
