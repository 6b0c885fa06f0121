// Package sqlgen renders a resolved structured query into executable SQL.
//
// Each fragment becomes either a CTE (root and shared fragments, named
// sq_<id> / shared_sq_<id>) or an inline nested source. Generation walks a
// worklist: rendering a fragment may append nested or referenced fragments
// to the list, and the final statement stitches every CTE together with
// dependencies first.
package sqlgen

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tracekit-labs/querygraph/internal/sq"
)

type queryKind int

const (
	kindRoot queryKind = iota
	kindShared
	kindNested
)

// Result is the output of a generation pass.
type Result struct {
	// SQL is the final statement.
	SQL string
	// Preambles are statements that must run before SQL, in order.
	Preambles []string
	// Modules are engine modules referenced by table sources, sorted.
	Modules []string
}

type queryState struct {
	kind      queryKind
	q         *sq.StructuredQuery
	tableName string
	sql       string
}

type generator struct {
	flat      *sq.Flattened
	states    []*queryState
	index     int
	usedNames map[string]struct{}
	sharedIdx map[string]*queryState
	preambles []string
	modules   map[string]struct{}
}

// Generate renders a flattened query emission into SQL.
func Generate(flat *sq.Flattened) (*Result, error) {
	if flat == nil || flat.Root == nil {
		return nil, errors.New("nothing to generate")
	}
	g := &generator{
		flat:      flat,
		usedNames: make(map[string]struct{}),
		sharedIdx: make(map[string]*queryState),
		modules:   make(map[string]struct{}),
	}
	return g.run()
}

func (g *generator) run() (*Result, error) {
	g.push(kindRoot, g.flat.Root)
	for g.index = 0; g.index < len(g.states); g.index++ {
		sqlText, err := g.generateOne(g.states[g.index].q)
		if err != nil {
			id := g.states[g.index].q.Id
			if id == "" {
				id = "unknown"
			}
			return nil, fmt.Errorf("query (id=%s, idx=%d): %w", id, g.index, err)
		}
		g.states[g.index].sql = sqlText
	}

	root := g.states[0]
	// A root that merely wraps an inner query with ordering/pagination is
	// folded into the final SELECT instead of becoming its own CTE.
	rootIsWrapper := root.q.InnerQuery != nil &&
		root.q.Table == nil && root.q.Sql == nil && root.q.TimeRange == nil &&
		root.q.IntervalIntersect == nil && root.q.Join == nil && root.q.Union == nil &&
		root.q.AddColumns == nil && root.q.FilterToIntervals == nil && root.q.FilterIn == nil &&
		root.q.InnerQueryId == "" && len(root.q.Filters) == 0 &&
		root.q.GroupBy == nil && len(root.q.SelectColumns) == 0

	var b strings.Builder
	b.WriteString("WITH ")
	cteCount := 0
	for i := len(g.states) - 1; i >= 0; i-- {
		state := g.states[i]
		if state == root && rootIsWrapper {
			continue
		}
		if cteCount > 0 {
			b.WriteString(",\n")
		}
		b.WriteString(state.tableName)
		b.WriteString(" AS (\n")
		b.WriteString(indentLines(state.sql, 2))
		b.WriteString("\n)")
		cteCount++
	}

	if rootIsWrapper {
		b.WriteString("\n")
		b.WriteString(root.sql)
	} else {
		b.WriteString("\nSELECT *\nFROM ")
		b.WriteString(root.tableName)
	}

	modules := make([]string, 0, len(g.modules))
	for m := range g.modules {
		modules = append(modules, m)
	}
	sort.Strings(modules)

	return &Result{SQL: b.String(), Preambles: g.preambles, Modules: modules}, nil
}

// push appends a new query state with a unique table name and returns it.
func (g *generator) push(kind queryKind, q *sq.StructuredQuery) *queryState {
	prefix := "sq_"
	if kind == kindShared {
		prefix = "shared_sq_"
	}
	base := prefix + sanitizeName(q.Id)
	if q.Id == "" {
		base = prefix + strconv.Itoa(len(g.states))
	}
	name := base
	for n := 1; ; n++ {
		if _, used := g.usedNames[name]; !used {
			break
		}
		name = base + "_" + strconv.Itoa(n)
	}
	g.usedNames[name] = struct{}{}

	state := &queryState{kind: kind, q: q, tableName: name}
	g.states = append(g.states, state)
	return state
}

// nestedSource enqueues an embedded sub-query and returns its table name.
func (g *generator) nestedSource(q *sq.StructuredQuery) string {
	return g.push(kindNested, q).tableName
}

// referencedSource resolves an innerQueryId against the shared fragment
// table, enqueueing the fragment on first use.
func (g *generator) referencedSource(id string) (string, error) {
	if state, ok := g.sharedIdx[id]; ok {
		return state.tableName, nil
	}
	target, ok := g.flat.SharedById(id)
	if !ok {
		return "", fmt.Errorf("%w: %q", sq.ErrUnresolvedReference, id)
	}
	state := g.push(kindShared, target)
	g.sharedIdx[id] = state
	return state.tableName, nil
}

func (g *generator) generateOne(q *sq.StructuredQuery) (string, error) {
	source, err := g.source(q)
	if err != nil {
		return "", err
	}

	where, err := g.filters(q.Filters)
	if err != nil {
		return "", err
	}

	var selectClause, groupClause string
	if q.GroupBy != nil {
		groupClause = groupByClause(q.GroupBy.ColumnNames)
		selectClause, err = selectWithAggregates(q.GroupBy, q.SelectColumns)
	} else {
		selectClause = selectWithoutAggregates(q.SelectColumns)
	}
	if err != nil {
		return "", err
	}

	// Standard clause order: SELECT, FROM, WHERE, GROUP BY, ORDER BY,
	// LIMIT, OFFSET.
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(selectClause)
	b.WriteString("\nFROM ")
	b.WriteString(source)
	if where != "" {
		b.WriteString("\nWHERE ")
		b.WriteString(where)
	}
	if groupClause != "" {
		b.WriteString("\n")
		b.WriteString(groupClause)
	}
	if q.OrderBy != nil {
		clause, err := orderByClause(q.OrderBy)
		if err != nil {
			return "", err
		}
		b.WriteString("\n")
		b.WriteString(clause)
	}
	if q.Offset != nil && q.Limit == nil {
		return "", errors.New("OFFSET requires LIMIT to be specified")
	}
	if q.Limit != nil {
		if *q.Limit < 0 {
			return "", fmt.Errorf("LIMIT must be non-negative, got %d", *q.Limit)
		}
		fmt.Fprintf(&b, "\nLIMIT %d", *q.Limit)
	}
	if q.Offset != nil {
		if *q.Offset < 0 {
			return "", fmt.Errorf("OFFSET must be non-negative, got %d", *q.Offset)
		}
		fmt.Fprintf(&b, "\nOFFSET %d", *q.Offset)
	}
	return b.String(), nil
}

func (g *generator) source(q *sq.StructuredQuery) (string, error) {
	switch {
	case q.Table != nil:
		return g.table(q.Table)
	case q.TimeRange != nil:
		return timeRange(q.TimeRange)
	case q.IntervalIntersect != nil:
		return g.intervalIntersect(q.IntervalIntersect)
	case q.Join != nil:
		return g.join(q.Join)
	case q.Union != nil:
		return g.union(q.Union)
	case q.AddColumns != nil:
		return g.addColumns(q.AddColumns)
	case q.FilterToIntervals != nil:
		return g.filterToIntervals(q.FilterToIntervals)
	case q.FilterIn != nil:
		return g.filterIn(q.FilterIn)
	case q.Sql != nil:
		return g.sqlSource(q.Sql)
	case q.InnerQuery != nil:
		return g.nestedSource(q.InnerQuery), nil
	case q.InnerQueryId != "":
		return g.referencedSource(q.InnerQueryId)
	default:
		return "", errors.New("query must specify a source")
	}
}

func (g *generator) table(t *sq.Table) (string, error) {
	if t.TableName == "" {
		return "", errors.New("table must specify a table name")
	}
	if t.ModuleName != "" {
		g.modules[t.ModuleName] = struct{}{}
	}
	return t.TableName, nil
}

func timeRange(tr *sq.TimeRange) (string, error) {
	switch tr.Mode {
	case sq.TimeRangeStatic:
		if tr.Ts == nil {
			return "", errors.New("time range: ts is required for STATIC mode")
		}
		if tr.Dur == nil {
			return "", errors.New("time range: dur is required for STATIC mode")
		}
		return fmt.Sprintf("(SELECT 0 AS id, %d AS ts, %d AS dur)", *tr.Ts, *tr.Dur), nil
	case sq.TimeRangeDynamic:
		ts := "trace_start()"
		if tr.Ts != nil {
			ts = strconv.FormatInt(*tr.Ts, 10)
		}
		dur := "trace_dur()"
		if tr.Dur != nil {
			dur = strconv.FormatInt(*tr.Dur, 10)
		}
		return fmt.Sprintf("(SELECT 0 AS id, %s AS ts, %s AS dur)", ts, dur), nil
	default:
		return "", fmt.Errorf("time range: unknown mode %q", tr.Mode)
	}
}

func (g *generator) sqlSource(s *sq.Sql) (string, error) {
	if s.Sql == "" {
		return "", errors.New("sql source must specify sql")
	}
	stmt := s.Sql
	if s.Preamble != "" {
		if preamble, _ := splitPreamble(stmt); preamble != "" {
			return "", errors.New("sql source specifies both preamble and multiple statements")
		}
		g.preambles = append(g.preambles, s.Preamble)
	} else if preamble, main := splitPreamble(stmt); preamble != "" {
		g.preambles = append(g.preambles, preamble)
		stmt = main
	}
	if strings.TrimSpace(stmt) == "" {
		return "", errors.New("sql source is empty after processing preamble")
	}

	cols := "*"
	if len(s.ColumnNames) != 0 {
		cols = strings.Join(s.ColumnNames, ", ")
	}
	inner := "SELECT " + cols + "\nFROM (\n" + indentLines(stmt, 2) + "\n)"
	return "(\n" + indentLines(inner, 2) + ")", nil
}

// splitPreamble separates leading statements from the final statement of a
// multi-statement SQL string. Semicolons inside string literals are
// respected.
func splitPreamble(sqlText string) (preamble, main string) {
	last := -1
	inString := false
	for i := 0; i < len(sqlText); i++ {
		switch sqlText[i] {
		case '\'':
			inString = !inString
		case ';':
			if !inString && strings.TrimSpace(sqlText[i+1:]) != "" {
				last = i
			}
		}
	}
	if last < 0 {
		return "", sqlText
	}
	return strings.TrimSpace(sqlText[:last+1]), strings.TrimSpace(sqlText[last+1:])
}

func (g *generator) intervalIntersect(ii *sq.IntervalIntersect) (string, error) {
	if ii.Base == nil {
		return "", errors.New("interval intersect must specify a base query")
	}
	if len(ii.Intersect) == 0 {
		return "", errors.New("interval intersect must specify at least one interval query")
	}

	seen := make(map[string]struct{})
	for _, col := range ii.PartitionColumns {
		if col == "" {
			return "", errors.New("partition column cannot be empty")
		}
		lower := strings.ToLower(col)
		if lower == "id" || lower == "ts" || lower == "dur" {
			return "", fmt.Errorf("partition column %q is reserved", col)
		}
		if _, dup := seen[col]; dup {
			return "", fmt.Errorf("partition column %q is duplicated", col)
		}
		seen[col] = struct{}{}
	}

	var b strings.Builder
	b.WriteString("(WITH iibase AS (SELECT * FROM ")
	b.WriteString(g.nestedSource(ii.Base))
	b.WriteString(")")
	for i, iv := range ii.Intersect {
		fmt.Fprintf(&b, ", iisource%d AS (SELECT * FROM %s)", i, g.nestedSource(iv))
	}

	// All participating aliases: base_0 plus source_1..source_N.
	aliases := []string{"base_0"}
	for i := range ii.Intersect {
		aliases = append(aliases, fmt.Sprintf("source_%d", i+1))
	}

	starts := make([]string, len(aliases))
	ends := make([]string, len(aliases))
	for i, a := range aliases {
		starts[i] = a + ".ts"
		ends[i] = a + ".ts + " + a + ".dur"
	}
	maxStart := "GREATEST(" + strings.Join(starts, ", ") + ")"
	minEnd := "LEAST(" + strings.Join(ends, ", ") + ")"

	b.WriteString("\nSELECT ")
	b.WriteString(maxStart + " AS ts")
	b.WriteString(", " + minEnd + " - " + maxStart + " AS dur")
	for _, col := range ii.PartitionColumns {
		b.WriteString(", base_0." + col)
	}
	// Suffixed id/ts/dur triples give unambiguous access to every input.
	for i, a := range aliases {
		fmt.Fprintf(&b, ", %s.id AS id_%d, %s.ts AS ts_%d, %s.dur AS dur_%d", a, i, a, i, a, i)
	}
	for _, a := range aliases {
		b.WriteString(", " + a + ".*")
	}

	b.WriteString("\nFROM iibase AS base_0")
	for i := range ii.Intersect {
		fmt.Fprintf(&b, "\nJOIN iisource%d AS source_%d ON base_0.ts < source_%d.ts + source_%d.dur AND source_%d.ts < base_0.ts + base_0.dur",
			i, i+1, i+1, i+1, i+1)
		for _, col := range ii.PartitionColumns {
			fmt.Fprintf(&b, " AND base_0.%s = source_%d.%s", col, i+1, col)
		}
	}
	// Pairwise overlap of every input reduces to max(start) < min(end).
	b.WriteString("\nWHERE " + maxStart + " < " + minEnd)
	b.WriteString(")")
	return b.String(), nil
}

func (g *generator) join(j *sq.Join) (string, error) {
	if j.LeftQuery == nil {
		return "", errors.New("join must specify a left query")
	}
	if j.RightQuery == nil {
		return "", errors.New("join must specify a right query")
	}
	if j.EqualityColumns == nil && j.FreeformCondition == nil {
		return "", errors.New("join must specify either equality columns or a freeform condition")
	}

	left := g.nestedSource(j.LeftQuery)
	right := g.nestedSource(j.RightQuery)

	joinType := "INNER"
	if j.Type == sq.JoinLeft {
		joinType = "LEFT"
	}

	if j.EqualityColumns != nil {
		eq := j.EqualityColumns
		if eq.LeftColumn == "" {
			return "", errors.New("equality columns must specify a left column")
		}
		if eq.RightColumn == "" {
			return "", errors.New("equality columns must specify a right column")
		}
		cond := left + "." + eq.LeftColumn + " = " + right + "." + eq.RightColumn
		return "(SELECT * FROM " + left + " " + joinType + " JOIN " + right + " ON " + cond + ")", nil
	}

	fc := j.FreeformCondition
	if fc.LeftQueryAlias == "" || fc.RightQueryAlias == "" {
		return "", errors.New("freeform condition must specify both query aliases")
	}
	if fc.SqlExpression == "" {
		return "", errors.New("freeform condition must specify a sql expression")
	}
	return "(SELECT * FROM " + left + " AS " + fc.LeftQueryAlias + " " + joinType +
		" JOIN " + right + " AS " + fc.RightQueryAlias + " ON " + fc.SqlExpression + ")", nil
}

func (g *generator) union(u *sq.Union) (string, error) {
	if len(u.Queries) < 2 {
		return "", errors.New("union must specify at least two queries")
	}
	if err := validateUnionColumns(u.Queries); err != nil {
		return "", err
	}

	// Local CTEs avoid name conflicts with the global scope.
	var b strings.Builder
	b.WriteString("(\n  WITH ")
	for i, q := range u.Queries {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "union_query_%d AS (\n  SELECT *\n  FROM %s)", i, g.nestedSource(q))
	}
	keyword := "UNION"
	if u.UseUnionAll {
		keyword = "UNION ALL"
	}
	b.WriteString("\n  SELECT *\n  FROM union_query_0")
	for i := 1; i < len(u.Queries); i++ {
		fmt.Fprintf(&b, "\n  %s\n  SELECT *\n  FROM union_query_%d", keyword, i)
	}
	b.WriteString(")")
	return b.String(), nil
}

// validateUnionColumns rejects unions whose declared column sets differ.
// Queries without declared select columns are not checked.
func validateUnionColumns(queries []*sq.StructuredQuery) error {
	var reference map[string]struct{}
	refIdx := -1
	for i, q := range queries {
		if len(q.SelectColumns) == 0 {
			continue
		}
		cols := make(map[string]struct{}, len(q.SelectColumns))
		for _, c := range q.SelectColumns {
			name := c.Alias
			if name == "" {
				name = c.Expression
			}
			if name != "" {
				cols[name] = struct{}{}
			}
		}
		if reference == nil {
			reference = cols
			refIdx = i
			continue
		}
		if len(cols) != len(reference) {
			return fmt.Errorf("union queries have different column counts (query %d vs query %d)", i, refIdx)
		}
		for name := range cols {
			if _, ok := reference[name]; !ok {
				return fmt.Errorf("union queries have different column sets (query %d vs query %d)", i, refIdx)
			}
		}
	}
	return nil
}

func (g *generator) addColumns(ac *sq.AddColumns) (string, error) {
	if ac.CoreQuery == nil {
		return "", errors.New("add columns must specify a core query")
	}
	if ac.InputQuery == nil {
		return "", errors.New("add columns must specify an input query")
	}
	if ac.EqualityColumns == nil && ac.FreeformCondition == nil {
		return "", errors.New("add columns must specify either equality columns or a freeform condition")
	}
	if len(ac.InputColumns) == 0 {
		return "", errors.New("add columns must specify at least one input column")
	}

	core := g.nestedSource(ac.CoreQuery)
	input := g.nestedSource(ac.InputQuery)

	selectClause := "core.*"
	for _, col := range ac.InputColumns {
		if col.Expression == "" {
			return "", errors.New("input column name cannot be empty")
		}
		selectClause += ", input." + col.Expression
		if col.Alias != "" {
			selectClause += " AS " + col.Alias
		}
	}

	var cond string
	if ac.EqualityColumns != nil {
		eq := ac.EqualityColumns
		if eq.LeftColumn == "" {
			return "", errors.New("equality columns must specify a left column")
		}
		if eq.RightColumn == "" {
			return "", errors.New("equality columns must specify a right column")
		}
		cond = "core." + eq.LeftColumn + " = input." + eq.RightColumn
	} else {
		fc := ac.FreeformCondition
		if fc.LeftQueryAlias != "core" {
			return "", fmt.Errorf("freeform condition left alias must be 'core', got %q", fc.LeftQueryAlias)
		}
		if fc.RightQueryAlias != "input" {
			return "", fmt.Errorf("freeform condition right alias must be 'input', got %q", fc.RightQueryAlias)
		}
		if fc.SqlExpression == "" {
			return "", errors.New("freeform condition must specify a sql expression")
		}
		cond = fc.SqlExpression
	}

	// LEFT JOIN keeps every core row.
	return "(SELECT " + selectClause + " FROM " + core + " AS core LEFT JOIN " +
		input + " AS input ON " + cond + ")", nil
}

func (g *generator) filterToIntervals(f *sq.FilterToIntervals) (string, error) {
	if f.Base == nil {
		return "", errors.New("filter to intervals must specify a base query")
	}
	if f.Intervals == nil {
		return "", errors.New("filter to intervals must specify an intervals query")
	}
	base := g.nestedSource(f.Base)
	intervals := g.nestedSource(f.Intervals)
	return "(SELECT base.* FROM " + base + " AS base WHERE EXISTS (" +
		"SELECT 1 FROM " + intervals + " AS iv " +
		"WHERE base.ts < iv.ts + iv.dur AND iv.ts < base.ts + base.dur))", nil
}

func (g *generator) filterIn(f *sq.FilterIn) (string, error) {
	if f.Base == nil {
		return "", errors.New("filter in must specify a base query")
	}
	if f.Source == nil {
		return "", errors.New("filter in must specify a source query")
	}
	if f.Column == "" || f.SourceColumn == "" {
		return "", errors.New("filter in must specify both column names")
	}
	base := g.nestedSource(f.Base)
	source := g.nestedSource(f.Source)
	return "(SELECT * FROM " + base + " WHERE " + f.Column +
		" IN (SELECT " + f.SourceColumn + " FROM " + source + "))", nil
}

func (g *generator) filters(filters []*sq.Filter) (string, error) {
	var parts []string
	for _, f := range filters {
		s, err := singleFilter(f)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " AND "), nil
}

func singleFilter(f *sq.Filter) (string, error) {
	op, err := operatorSQL(f.Op)
	if err != nil {
		return "", err
	}
	if f.Op == sq.OpIsNull || f.Op == sq.OpIsNotNull {
		return f.ColumnName + " " + op, nil
	}

	var rhs []string
	switch {
	case len(f.StringRhs) > 0:
		for _, v := range f.StringRhs {
			rhs = append(rhs, "'"+strings.ReplaceAll(v, "'", "''")+"'")
		}
	case len(f.DoubleRhs) > 0:
		for _, v := range f.DoubleRhs {
			rhs = append(rhs, strconv.FormatFloat(v, 'f', -1, 64))
		}
	case len(f.Int64Rhs) > 0:
		for _, v := range f.Int64Rhs {
			rhs = append(rhs, strconv.FormatInt(v, 10))
		}
	default:
		return "", errors.New("filter must specify a right-hand side")
	}

	// Multiple values expand to an OR of per-value comparisons.
	parts := make([]string, len(rhs))
	for i, v := range rhs {
		parts[i] = f.ColumnName + " " + op + " " + v
	}
	return strings.Join(parts, " OR "), nil
}

func operatorSQL(op sq.FilterOp) (string, error) {
	switch op {
	case sq.OpEqual:
		return "=", nil
	case sq.OpNotEqual:
		return "!=", nil
	case sq.OpLessThan:
		return "<", nil
	case sq.OpLessThanEqual:
		return "<=", nil
	case sq.OpGreaterThan:
		return ">", nil
	case sq.OpGreaterThanEqual:
		return ">=", nil
	case sq.OpGlob:
		return "GLOB", nil
	case sq.OpIsNull:
		return "IS NULL", nil
	case sq.OpIsNotNull:
		return "IS NOT NULL", nil
	default:
		return "", fmt.Errorf("invalid filter operator %q", op)
	}
}

func groupByClause(cols []string) string {
	if len(cols) == 0 {
		return ""
	}
	return "GROUP BY " + strings.Join(cols, ", ")
}

func orderByClause(ob *sq.OrderBy) (string, error) {
	if len(ob.OrderingSpecs) == 0 {
		return "", errors.New("ORDER BY must specify at least one ordering spec")
	}
	// Spec order is significant: the first spec is the primary sort key.
	parts := make([]string, 0, len(ob.OrderingSpecs))
	for _, spec := range ob.OrderingSpecs {
		if spec.ColumnName == "" {
			return "", errors.New("ORDER BY column name cannot be empty")
		}
		s := spec.ColumnName
		switch spec.Direction {
		case sq.DirAsc:
			s += " ASC"
		case sq.DirDesc:
			s += " DESC"
		}
		parts = append(parts, s)
	}
	return "ORDER BY " + strings.Join(parts, ", "), nil
}

// selectWithAggregates builds the projection for a grouped query: grouping
// columns followed by aggregate result columns, restricted and renamed by
// the select columns when present.
func selectWithAggregates(gb *sq.GroupBy, selectCols []*sq.SelectColumn) (string, error) {
	output := make(map[string]string)
	if len(selectCols) > 0 {
		for _, c := range selectCols {
			output[c.Expression] = c.Alias
		}
	} else {
		for _, c := range gb.ColumnNames {
			output[c] = ""
		}
		for _, a := range gb.Aggregates {
			output[a.ResultColumnName] = ""
		}
	}

	var parts []string
	for _, col := range gb.ColumnNames {
		alias, ok := output[col]
		if !ok {
			continue
		}
		if alias != "" {
			parts = append(parts, col+" AS "+alias)
		} else {
			parts = append(parts, col)
		}
	}
	for _, agg := range gb.Aggregates {
		alias, ok := output[agg.ResultColumnName]
		if !ok {
			continue
		}
		expr, err := aggregateSQL(agg)
		if err != nil {
			return "", err
		}
		if alias == "" {
			alias = agg.ResultColumnName
		}
		parts = append(parts, expr+" AS "+alias)
	}
	return strings.Join(parts, ", "), nil
}

func selectWithoutAggregates(selectCols []*sq.SelectColumn) string {
	if len(selectCols) == 0 {
		return "*"
	}
	parts := make([]string, 0, len(selectCols))
	for _, c := range selectCols {
		if c.Alias != "" {
			parts = append(parts, c.Expression+" AS "+c.Alias)
		} else {
			parts = append(parts, c.Expression)
		}
	}
	return strings.Join(parts, ", ")
}

func aggregateSQL(agg *sq.Aggregate) (string, error) {
	if agg.Op == sq.AggCount && agg.ColumnName == "" {
		return "COUNT(*)", nil
	}
	if agg.Op == sq.AggCustom {
		if agg.CustomSqlExpression == "" {
			return "", errors.New("custom aggregation requires a sql expression")
		}
		return agg.CustomSqlExpression, nil
	}
	if agg.ColumnName == "" {
		return "", errors.New("column name not specified for aggregation")
	}
	col := agg.ColumnName
	switch agg.Op {
	case sq.AggCount:
		return "COUNT(" + col + ")", nil
	case sq.AggCountDistinct:
		return "COUNT(DISTINCT " + col + ")", nil
	case sq.AggSum:
		return "SUM(" + col + ")", nil
	case sq.AggMin:
		return "MIN(" + col + ")", nil
	case sq.AggMax:
		return "MAX(" + col + ")", nil
	case sq.AggMean:
		return "AVG(" + col + ")", nil
	case sq.AggMedian:
		return "PERCENTILE(" + col + ", 50)", nil
	case sq.AggPercentile:
		if agg.Percentile == nil {
			return "", errors.New("percentile not specified for aggregation")
		}
		return fmt.Sprintf("PERCENTILE(%s, %d)", col, *agg.Percentile), nil
	case sq.AggDurationWeightedMean:
		return "SUM(CAST(" + col + " * dur AS DOUBLE)) / CAST(SUM(dur) AS DOUBLE)", nil
	default:
		return "", fmt.Errorf("invalid aggregate operator %q", agg.Op)
	}
}

// sanitizeName maps an arbitrary id to a valid SQL identifier chunk.
func sanitizeName(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func indentLines(input string, spaces int) string {
	if input == "" {
		return input
	}
	indent := strings.Repeat(" ", spaces)
	lines := strings.Split(input, "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}
