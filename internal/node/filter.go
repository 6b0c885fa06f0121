package node

import (
	"encoding/json"

	"github.com/tracekit-labs/querygraph/internal/column"
	"github.com/tracekit-labs/querygraph/internal/sq"
)

// FilterToIntervalsNode keeps the primary input's rows that overlap at
// least one interval of the secondary input. The schema is the primary
// schema unchanged.
type FilterToIntervalsNode struct {
	base
	Primary   Node
	Intervals SecondaryInput
}

func NewFilterToIntervals(gen IDGenerator, primary Node) *FilterToIntervalsNode {
	return &FilterToIntervalsNode{
		base:      newBase(gen.NextID(), KindFilterToIntervals),
		Primary:   primary,
		Intervals: NewSecondaryInput(1, 1),
	}
}

func (n *FilterToIntervalsNode) intervals() Node {
	nodes := n.Intervals.Nodes()
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

func (n *FilterToIntervalsNode) Inputs() []Node {
	return append([]Node{n.Primary}, n.Intervals.Nodes()...)
}

func (n *FilterToIntervalsNode) FinalCols() []column.Info {
	if n.Primary == nil {
		return nil
	}
	return n.Primary.FinalCols()
}

func (n *FilterToIntervalsNode) Validate() bool {
	n.issues.Reset()
	ok := requireInput(&n.issues, n.Primary, "input")
	if !n.Intervals.validate(&n.issues, "intervals") {
		return false
	}
	iv := n.intervals()
	if !requireInput(&n.issues, iv, "intervals input") || !ok {
		return false
	}
	requireColumns(&n.issues, n.Primary.FinalCols(), []string{"ts", "dur"}, "input")
	requireColumns(&n.issues, iv.FinalCols(), []string{"ts", "dur"}, "intervals input")
	return n.issues.OK()
}

func (n *FilterToIntervalsNode) StructuredQuery() *sq.StructuredQuery {
	if !n.Validate() {
		return nil
	}
	return n.applyCommon(sq.WithFilterToIntervals(n.id, n.Primary, n.intervals()))
}

func (n *FilterToIntervalsNode) SerializeState() (json.RawMessage, error) {
	return json.Marshal(struct{ commonState }{n.commonState()})
}

func (n *FilterToIntervalsNode) Clone() Node {
	return &FilterToIntervalsNode{
		base:      n.cloneBase(),
		Primary:   n.Primary,
		Intervals: n.Intervals.clone(),
	}
}

// FilterInNode keeps the primary input's rows whose Column value appears in
// SourceColumn of the secondary input. The schema is the primary schema
// unchanged.
type FilterInNode struct {
	base
	Primary Node
	Source  SecondaryInput

	Column       string
	SourceColumn string
}

type filterInState struct {
	commonState
	Column       string `json:"column,omitempty"`
	SourceColumn string `json:"sourceColumn,omitempty"`
}

func NewFilterIn(gen IDGenerator, primary Node) *FilterInNode {
	return &FilterInNode{
		base:    newBase(gen.NextID(), KindFilterIn),
		Primary: primary,
		Source:  NewSecondaryInput(1, 1),
	}
}

func (n *FilterInNode) source() Node {
	nodes := n.Source.Nodes()
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

func (n *FilterInNode) Inputs() []Node {
	return append([]Node{n.Primary}, n.Source.Nodes()...)
}

func (n *FilterInNode) FinalCols() []column.Info {
	if n.Primary == nil {
		return nil
	}
	return n.Primary.FinalCols()
}

func (n *FilterInNode) Validate() bool {
	n.issues.Reset()
	ok := requireInput(&n.issues, n.Primary, "input")
	if !n.Source.validate(&n.issues, "source") {
		return false
	}
	src := n.source()
	if !requireInput(&n.issues, src, "source input") || !ok {
		return false
	}
	if n.Column == "" || n.SourceColumn == "" {
		n.issues.AddError("filter columns are not selected")
		return false
	}
	requireColumns(&n.issues, n.Primary.FinalCols(), []string{n.Column}, "input")
	requireColumns(&n.issues, src.FinalCols(), []string{n.SourceColumn}, "source input")
	return n.issues.OK()
}

func (n *FilterInNode) StructuredQuery() *sq.StructuredQuery {
	if !n.Validate() {
		return nil
	}
	return n.applyCommon(sq.WithFilterIn(n.id, n.Primary, n.source(), n.Column, n.SourceColumn))
}

func (n *FilterInNode) SerializeState() (json.RawMessage, error) {
	return json.Marshal(filterInState{
		commonState:  n.commonState(),
		Column:       n.Column,
		SourceColumn: n.SourceColumn,
	})
}

func (n *FilterInNode) Clone() Node {
	return &FilterInNode{
		base:         n.cloneBase(),
		Primary:      n.Primary,
		Source:       n.Source.clone(),
		Column:       n.Column,
		SourceColumn: n.SourceColumn,
	}
}
