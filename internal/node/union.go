package node

import (
	"encoding/json"
	"strings"

	"github.com/tracekit-labs/querygraph/internal/column"
	"github.com/tracekit-labs/querygraph/internal/sq"
)

// UnionNode stacks two or more inputs. The output schema is the set of
// columns common to every input, in first-input order; columns missing from
// any input are dropped with a warning.
type UnionNode struct {
	base
	Members SecondaryInput

	UseUnionAll bool
}

type unionState struct {
	commonState
	UseUnionAll bool `json:"useUnionAll,omitempty"`
}

func NewUnion(gen IDGenerator) *UnionNode {
	return &UnionNode{base: newBase(gen.NextID(), KindUnion), Members: NewSecondaryInput(2, 0)}
}

func (n *UnionNode) Inputs() []Node { return n.Members.Nodes() }

func (n *UnionNode) FinalCols() []column.Info {
	members := n.Members.Nodes()
	if len(members) == 0 {
		return nil
	}
	common := append([]column.Info(nil), members[0].FinalCols()...)
	for _, m := range members[1:] {
		names := make(map[string]struct{})
		for _, c := range m.FinalCols() {
			names[c.OutputName()] = struct{}{}
		}
		kept := common[:0]
		for _, c := range common {
			if _, ok := names[c.OutputName()]; ok {
				kept = append(kept, c)
			}
		}
		common = kept
	}
	return column.Dedupe(common)
}

func (n *UnionNode) Validate() bool {
	n.issues.Reset()
	if !n.Members.validate(&n.issues, "union") {
		return false
	}
	for _, m := range n.Members.Nodes() {
		if !requireInput(&n.issues, m, "union input") {
			return false
		}
	}
	common := n.FinalCols()
	if len(common) == 0 {
		n.issues.AddError("union inputs share no columns")
		return false
	}
	var droppedAny []string
	commonNames := make(map[string]struct{}, len(common))
	for _, c := range common {
		commonNames[c.OutputName()] = struct{}{}
	}
	for _, m := range n.Members.Nodes() {
		for _, c := range m.FinalCols() {
			if _, ok := commonNames[c.OutputName()]; !ok {
				droppedAny = append(droppedAny, c.OutputName())
			}
		}
	}
	if len(droppedAny) > 0 {
		n.issues.AddWarning("columns not shared by every input are dropped: %s",
			strings.Join(droppedAny, ", "))
	}
	return n.issues.OK()
}

func (n *UnionNode) StructuredQuery() *sq.StructuredQuery {
	if !n.Validate() {
		return nil
	}
	common := n.FinalCols()
	selects := make([]*sq.SelectColumn, 0, len(common))
	for _, c := range common {
		selects = append(selects, &sq.SelectColumn{Expression: c.OutputName()})
	}

	// Each member is wrapped in a by-id reference restricted to the common
	// columns so every branch of the union lines up.
	sources := make([]sq.Source, 0, n.Members.Count())
	for _, m := range n.Members.Nodes() {
		ref := sq.RefByID(m)
		if ref == nil {
			return nil
		}
		ref.SelectColumns = selects
		sources = append(sources, wrapped{id: m.ID(), q: ref})
	}
	return n.applyCommon(sq.WithUnion(n.id, sources, n.UseUnionAll))
}

func (n *UnionNode) SerializeState() (json.RawMessage, error) {
	return json.Marshal(unionState{commonState: n.commonState(), UseUnionAll: n.UseUnionAll})
}

func (n *UnionNode) Clone() Node {
	c := &UnionNode{base: n.cloneBase(), Members: n.Members.clone(), UseUnionAll: n.UseUnionAll}
	return c
}
