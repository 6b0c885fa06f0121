package node

import (
	"encoding/json"

	"github.com/tracekit-labs/querygraph/internal/column"
	"github.com/tracekit-labs/querygraph/internal/sq"
)

// TableNode scans a catalog table. Its schema comes from catalog metadata;
// unchecking a column removes it from the projection.
type TableNode struct {
	base

	TableName string
	Module    string
	Columns   []column.Info
}

type tableState struct {
	commonState
	TableName string        `json:"tableName"`
	Module    string        `json:"module,omitempty"`
	Columns   []column.Info `json:"columns,omitempty"`
}

func NewTable(gen IDGenerator, tableName, module string, cols []column.Info) *TableNode {
	return &TableNode{
		base:      newBase(gen.NextID(), KindTable),
		TableName: tableName,
		Module:    module,
		Columns:   cols,
	}
}

func (n *TableNode) Inputs() []Node { return nil }

func (n *TableNode) FinalCols() []column.Info {
	return column.Checked(n.Columns)
}

func (n *TableNode) Validate() bool {
	n.issues.Reset()
	if n.TableName == "" {
		n.issues.AddError("no table selected")
	}
	if len(column.Checked(n.Columns)) == 0 {
		n.issues.AddError("table %q has no selected columns", n.TableName)
	}
	if dups := column.Duplicates(n.Columns); len(dups) > 0 {
		n.issues.AddWarning("duplicate column names: %v", dups)
	}
	return n.issues.OK()
}

func (n *TableNode) StructuredQuery() *sq.StructuredQuery {
	if !n.Validate() {
		return nil
	}
	return n.applyCommon(sq.WithTable(n.id, n.TableName, n.Module, column.Names(n.FinalCols())))
}

func (n *TableNode) SerializeState() (json.RawMessage, error) {
	return json.Marshal(tableState{
		commonState: n.commonState(),
		TableName:   n.TableName,
		Module:      n.Module,
		Columns:     n.Columns,
	})
}

func (n *TableNode) Clone() Node {
	c := &TableNode{base: n.cloneBase(), TableName: n.TableName, Module: n.Module}
	c.Columns = append(c.Columns, n.Columns...)
	return c
}

// SqlNode wraps a raw SQL statement as a source. The column list must be
// declared so downstream schema propagation has something to work with.
type SqlNode struct {
	base

	Sql      string
	Preamble string
	Columns  []column.Info
}

type sqlState struct {
	commonState
	Sql      string        `json:"sql"`
	Preamble string        `json:"preamble,omitempty"`
	Columns  []column.Info `json:"columns,omitempty"`
}

func NewSql(gen IDGenerator, sqlText string, cols []column.Info) *SqlNode {
	return &SqlNode{base: newBase(gen.NextID(), KindSql), Sql: sqlText, Columns: cols}
}

func (n *SqlNode) Inputs() []Node { return nil }

func (n *SqlNode) FinalCols() []column.Info {
	return column.Checked(n.Columns)
}

func (n *SqlNode) Validate() bool {
	n.issues.Reset()
	if n.Sql == "" {
		n.issues.AddError("no SQL statement provided")
	}
	if len(n.Columns) == 0 {
		n.issues.AddError("SQL source must declare its output columns")
	}
	return n.issues.OK()
}

func (n *SqlNode) StructuredQuery() *sq.StructuredQuery {
	if !n.Validate() {
		return nil
	}
	return n.applyCommon(sq.WithSql(n.id, n.Sql, n.Preamble, column.Names(n.FinalCols())))
}

func (n *SqlNode) SerializeState() (json.RawMessage, error) {
	return json.Marshal(sqlState{
		commonState: n.commonState(),
		Sql:         n.Sql,
		Preamble:    n.Preamble,
		Columns:     n.Columns,
	})
}

func (n *SqlNode) Clone() Node {
	c := &SqlNode{base: n.cloneBase(), Sql: n.Sql, Preamble: n.Preamble}
	c.Columns = append(c.Columns, n.Columns...)
	return c
}

// IntervalsNode is a synthetic single-interval source exposing id, ts and
// dur, covering either a static window or the whole trace.
type IntervalsNode struct {
	base

	Mode sq.TimeRangeMode
	Ts   *int64
	Dur  *int64
}

type intervalsState struct {
	commonState
	Mode sq.TimeRangeMode `json:"mode"`
	Ts   *int64           `json:"ts,omitempty"`
	Dur  *int64           `json:"dur,omitempty"`
}

func NewIntervals(gen IDGenerator, mode sq.TimeRangeMode, ts, dur *int64) *IntervalsNode {
	return &IntervalsNode{base: newBase(gen.NextID(), KindIntervals), Mode: mode, Ts: ts, Dur: dur}
}

func (n *IntervalsNode) Inputs() []Node { return nil }

func (n *IntervalsNode) FinalCols() []column.Info {
	return []column.Info{
		column.New("id", column.TypeLong),
		column.New("ts", column.TypeTimestamp),
		column.New("dur", column.TypeDuration),
	}
}

func (n *IntervalsNode) Validate() bool {
	n.issues.Reset()
	switch n.Mode {
	case sq.TimeRangeStatic:
		if n.Ts == nil || n.Dur == nil {
			n.issues.AddError("static interval requires both ts and dur")
		} else if *n.Dur < 0 {
			n.issues.AddError("interval duration cannot be negative")
		}
	case sq.TimeRangeDynamic:
	default:
		n.issues.AddError("unknown interval mode %q", n.Mode)
	}
	return n.issues.OK()
}

func (n *IntervalsNode) StructuredQuery() *sq.StructuredQuery {
	if !n.Validate() {
		return nil
	}
	return n.applyCommon(sq.WithTimeRange(n.id, n.Mode, n.Ts, n.Dur))
}

func (n *IntervalsNode) SerializeState() (json.RawMessage, error) {
	return json.Marshal(intervalsState{commonState: n.commonState(), Mode: n.Mode, Ts: n.Ts, Dur: n.Dur})
}

func (n *IntervalsNode) Clone() Node {
	c := &IntervalsNode{base: n.cloneBase(), Mode: n.Mode}
	if n.Ts != nil {
		v := *n.Ts
		c.Ts = &v
	}
	if n.Dur != nil {
		v := *n.Dur
		c.Dur = &v
	}
	return c
}
