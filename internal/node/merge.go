package node

import (
	"encoding/json"
	"strings"

	"github.com/tracekit-labs/querygraph/internal/column"
	"github.com/tracekit-labs/querygraph/internal/sq"
)

// MergeNode equality-joins exactly two inputs into one table. The schema is
// the deduplicated union of both sides: when the join columns share a name
// that column appears once, and any other name present on both sides is
// dropped from the output entirely.
type MergeNode struct {
	base
	Left  Node
	Right Node

	LeftColumn  string
	RightColumn string
	JoinType    sq.JoinType
}

type mergeState struct {
	commonState
	LeftColumn  string      `json:"leftColumn,omitempty"`
	RightColumn string      `json:"rightColumn,omitempty"`
	JoinType    sq.JoinType `json:"joinType,omitempty"`
}

func NewMerge(gen IDGenerator, left, right Node) *MergeNode {
	return &MergeNode{
		base:     newBase(gen.NextID(), KindMerge),
		Left:     left,
		Right:    right,
		JoinType: sq.JoinInner,
	}
}

func (n *MergeNode) Inputs() []Node { return []Node{n.Left, n.Right} }

// dropped returns the column names excluded from the output: names present
// on both sides, minus the collapsing equality pair.
func (n *MergeNode) dropped() []string {
	if n.Left == nil || n.Right == nil {
		return nil
	}
	leftNames := make(map[string]struct{})
	for _, c := range n.Left.FinalCols() {
		leftNames[c.OutputName()] = struct{}{}
	}
	var out []string
	seen := make(map[string]struct{})
	for _, c := range n.Right.FinalCols() {
		name := c.OutputName()
		if _, onLeft := leftNames[name]; !onLeft {
			continue
		}
		if name == n.LeftColumn && n.LeftColumn == n.RightColumn {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func (n *MergeNode) FinalCols() []column.Info {
	if n.Left == nil || n.Right == nil {
		return nil
	}
	droppedNames := make(map[string]struct{})
	for _, name := range n.dropped() {
		droppedNames[name] = struct{}{}
	}

	var out []column.Info
	for _, c := range n.Left.FinalCols() {
		if _, drop := droppedNames[c.OutputName()]; drop {
			continue
		}
		out = append(out, c)
	}
	for _, c := range n.Right.FinalCols() {
		name := c.OutputName()
		if _, drop := droppedNames[name]; drop {
			continue
		}
		// The collapsing equality pair keeps the left-hand entry only.
		if name == n.LeftColumn && n.LeftColumn == n.RightColumn {
			continue
		}
		out = append(out, c)
	}
	return column.Dedupe(out)
}

func (n *MergeNode) Validate() bool {
	n.issues.Reset()
	okLeft := requireInput(&n.issues, n.Left, "left input")
	okRight := requireInput(&n.issues, n.Right, "right input")
	if !okLeft || !okRight {
		return false
	}
	if n.LeftColumn == "" || n.RightColumn == "" {
		n.issues.AddError("join columns are not selected")
		return false
	}
	requireColumns(&n.issues, n.Left.FinalCols(), []string{n.LeftColumn}, "left input")
	requireColumns(&n.issues, n.Right.FinalCols(), []string{n.RightColumn}, "right input")

	if dropped := n.dropped(); len(dropped) > 0 {
		n.issues.AddWarning("columns present on both sides are dropped: %s", strings.Join(dropped, ", "))
	}
	return n.issues.OK()
}

func (n *MergeNode) StructuredQuery() *sq.StructuredQuery {
	if !n.Validate() {
		return nil
	}
	q := sq.WithJoin(n.id, n.Left, n.Right, n.JoinType,
		&sq.EqualityColumns{LeftColumn: n.LeftColumn, RightColumn: n.RightColumn}, nil)
	if q == nil {
		return nil
	}
	// Project the deduplicated schema so dropped duplicates never surface.
	for _, c := range n.FinalCols() {
		q.SelectColumns = append(q.SelectColumns, &sq.SelectColumn{Expression: c.OutputName()})
	}
	return n.applyCommon(q)
}

func (n *MergeNode) SerializeState() (json.RawMessage, error) {
	return json.Marshal(mergeState{
		commonState: n.commonState(),
		LeftColumn:  n.LeftColumn,
		RightColumn: n.RightColumn,
		JoinType:    n.JoinType,
	})
}

func (n *MergeNode) Clone() Node {
	c := *n
	c.base = n.cloneBase()
	return &c
}
