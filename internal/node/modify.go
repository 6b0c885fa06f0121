package node

import (
	"encoding/json"

	"github.com/tracekit-labs/querygraph/internal/column"
	"github.com/tracekit-labs/querygraph/internal/sq"
)

// ModifyNode applies the unary operations (projection, group-by, ordering,
// pagination) to its primary input. All of them land on a single fragment
// referencing the upstream node by id.
type ModifyNode struct {
	base
	Primary Node

	Selected   []*sq.SelectColumn
	GroupBy    []string
	Aggregates []*sq.Aggregate
	OrderBy    []*sq.OrderingSpec
	Limit      *int64
	Offset     *int64
}

type modifyState struct {
	commonState
	Selected   []*sq.SelectColumn `json:"selected,omitempty"`
	GroupBy    []string           `json:"groupBy,omitempty"`
	Aggregates []*sq.Aggregate    `json:"aggregates,omitempty"`
	OrderBy    []*sq.OrderingSpec `json:"orderBy,omitempty"`
	Limit      *int64             `json:"limit,omitempty"`
	Offset     *int64             `json:"offset,omitempty"`
}

func NewModify(gen IDGenerator, primary Node) *ModifyNode {
	return &ModifyNode{base: newBase(gen.NextID(), KindModify), Primary: primary}
}

func (n *ModifyNode) Inputs() []Node { return []Node{n.Primary} }

func (n *ModifyNode) FinalCols() []column.Info {
	if n.Primary == nil {
		return nil
	}
	upstream := n.Primary.FinalCols()

	if len(n.GroupBy) > 0 {
		out := make([]column.Info, 0, len(n.GroupBy)+len(n.Aggregates))
		for _, name := range n.GroupBy {
			if c, ok := column.Find(upstream, name); ok {
				out = append(out, c)
			} else {
				out = append(out, column.New(name, column.TypeUnknown))
			}
		}
		for _, agg := range n.Aggregates {
			out = append(out, column.New(agg.ResultColumnName, aggregateType(agg, upstream)))
		}
		return out
	}

	if len(n.Selected) > 0 {
		out := make([]column.Info, 0, len(n.Selected))
		for _, sel := range n.Selected {
			c := column.New(sel.Expression, column.InferExpressionType(sel.Expression, upstream))
			if src, ok := column.Find(upstream, sel.Expression); ok {
				c = src
			}
			if sel.Alias != "" {
				c.Alias = sel.Alias
				c.Name = sel.Alias
			}
			out = append(out, c)
		}
		return column.Dedupe(out)
	}

	return upstream
}

// aggregateType derives the output type of one aggregate result column.
func aggregateType(agg *sq.Aggregate, upstream []column.Info) string {
	switch agg.Op {
	case sq.AggCount, sq.AggCountDistinct:
		return column.TypeLong
	case sq.AggMean, sq.AggMedian, sq.AggPercentile, sq.AggDurationWeightedMean:
		return column.TypeDouble
	case sq.AggCustom:
		return column.TypeUnknown
	default:
		return column.TypeOf(upstream, agg.ColumnName)
	}
}

func (n *ModifyNode) Validate() bool {
	n.issues.Reset()
	if !requireInput(&n.issues, n.Primary, "input") {
		return false
	}
	upstream := n.Primary.FinalCols()

	if len(n.Aggregates) > 0 && len(n.GroupBy) == 0 {
		n.issues.AddError("aggregates require at least one group-by column")
	}
	requireColumns(&n.issues, upstream, n.GroupBy, "input")
	for _, agg := range n.Aggregates {
		if agg.ResultColumnName == "" {
			n.issues.AddError("aggregate is missing a result column name")
		}
		if agg.Op == sq.AggCount && agg.ColumnName == "" {
			continue
		}
		if agg.Op == sq.AggCustom {
			if agg.CustomSqlExpression == "" {
				n.issues.AddError("custom aggregate %q is missing its expression", agg.ResultColumnName)
			}
			continue
		}
		requireColumns(&n.issues, upstream, []string{agg.ColumnName}, "input")
	}

	if len(n.GroupBy) == 0 {
		for _, sel := range n.Selected {
			if sel.Expression == "" {
				n.issues.AddError("selected column has an empty expression")
			}
		}
	}
	for _, spec := range n.OrderBy {
		if !column.Has(n.FinalCols(), spec.ColumnName) {
			n.issues.AddError("order-by column %q is not in the output", spec.ColumnName)
		}
	}
	if n.Offset != nil && n.Limit == nil {
		n.issues.AddError("offset requires a limit")
	}
	return n.issues.OK()
}

func (n *ModifyNode) StructuredQuery() *sq.StructuredQuery {
	if !n.Validate() {
		return nil
	}
	q := sq.RefByID(n.Primary)
	if q == nil {
		return nil
	}
	q.Id = n.id
	q.SelectColumns = n.Selected
	if len(n.GroupBy) > 0 {
		q.GroupBy = &sq.GroupBy{ColumnNames: n.GroupBy, Aggregates: n.Aggregates}
	}
	if len(n.OrderBy) > 0 {
		q.OrderBy = &sq.OrderBy{OrderingSpecs: n.OrderBy}
	}
	q.Limit = n.Limit
	q.Offset = n.Offset
	return n.applyCommon(q)
}

func (n *ModifyNode) SerializeState() (json.RawMessage, error) {
	return json.Marshal(modifyState{
		commonState: n.commonState(),
		Selected:    n.Selected,
		GroupBy:     n.GroupBy,
		Aggregates:  n.Aggregates,
		OrderBy:     n.OrderBy,
		Limit:       n.Limit,
		Offset:      n.Offset,
	})
}

func (n *ModifyNode) Clone() Node {
	c := &ModifyNode{base: n.cloneBase(), Primary: n.Primary}
	c.Selected = append(c.Selected, n.Selected...)
	c.GroupBy = append(c.GroupBy, n.GroupBy...)
	c.Aggregates = append(c.Aggregates, n.Aggregates...)
	c.OrderBy = append(c.OrderBy, n.OrderBy...)
	if n.Limit != nil {
		v := *n.Limit
		c.Limit = &v
	}
	if n.Offset != nil {
		v := *n.Offset
		c.Offset = &v
	}
	return c
}
