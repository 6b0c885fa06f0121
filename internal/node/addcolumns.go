package node

import (
	"encoding/json"

	"github.com/tracekit-labs/querygraph/internal/column"
	"github.com/tracekit-labs/querygraph/internal/sq"
)

// AddColumnsNode left-joins selected columns from one secondary input onto
// its primary input and appends computed columns. Every primary row
// survives the join.
type AddColumnsNode struct {
	base
	Primary   Node
	Secondary SecondaryInput

	// LeftColumn/RightColumn form the equality join condition.
	LeftColumn  string
	RightColumn string
	// SelectedColumns are secondary-input column names pulled across the
	// join, renamed through Aliases.
	SelectedColumns []string
	Aliases         map[string]string
	Computed        []Computed
}

type addColumnsState struct {
	commonState
	LeftColumn      string            `json:"leftColumn,omitempty"`
	RightColumn     string            `json:"rightColumn,omitempty"`
	SelectedColumns []string          `json:"selectedColumns,omitempty"`
	Aliases         map[string]string `json:"aliases,omitempty"`
	Computed        []Computed        `json:"computedColumns,omitempty"`
}

func NewAddColumns(gen IDGenerator, primary Node) *AddColumnsNode {
	return &AddColumnsNode{
		base:      newBase(gen.NextID(), KindAddColumns),
		Primary:   primary,
		Secondary: NewSecondaryInput(0, 1),
		Aliases:   make(map[string]string),
	}
}

func (n *AddColumnsNode) Inputs() []Node {
	return append([]Node{n.Primary}, n.Secondary.Nodes()...)
}

func (n *AddColumnsNode) secondary() Node {
	nodes := n.Secondary.Nodes()
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

func (n *AddColumnsNode) outputName(name string) string {
	if alias, ok := n.Aliases[name]; ok && alias != "" {
		return alias
	}
	return name
}

func (n *AddColumnsNode) FinalCols() []column.Info {
	if n.Primary == nil {
		return nil
	}
	out := append([]column.Info(nil), n.Primary.FinalCols()...)

	if sec := n.secondary(); sec != nil {
		secCols := sec.FinalCols()
		for _, name := range n.SelectedColumns {
			c := column.New(n.outputName(name), column.TypeOf(secCols, name))
			c.Source = column.Ref{Table: sec.ID(), Column: name, Type: c.Type}
			out = append(out, c)
		}
	}

	for _, comp := range validComputed(n.Computed) {
		out = append(out, column.New(comp.Name, comp.Type(n.Primary.FinalCols())))
	}
	return out
}

func (n *AddColumnsNode) Validate() bool {
	n.issues.Reset()
	if !requireInput(&n.issues, n.Primary, "input") {
		return false
	}
	n.Secondary.validate(&n.issues, "join input")

	sec := n.secondary()
	if sec != nil {
		if !requireInput(&n.issues, sec, "join input") {
			return false
		}
		// The join condition only matters when columns are pulled across
		// the join; computed-only configurations skip the join entirely.
		if len(n.SelectedColumns) > 0 {
			if n.LeftColumn == "" || n.RightColumn == "" {
				n.issues.AddError("join columns are not selected")
			} else {
				requireColumns(&n.issues, n.Primary.FinalCols(), []string{n.LeftColumn}, "input")
				requireColumns(&n.issues, sec.FinalCols(), []string{n.RightColumn}, "join input")
			}
		}
		requireColumns(&n.issues, sec.FinalCols(), n.SelectedColumns, "join input")

		diag := column.DiagnoseAliases(n.SelectedColumns, n.Aliases, n.Primary.FinalCols())
		if !diag.OK() {
			n.issues.AddError("%s", diag.Message())
		}
	} else if len(n.SelectedColumns) > 0 {
		n.issues.AddError("columns are selected but no join input is connected")
	}

	if len(n.SelectedColumns) == 0 && len(validComputed(n.Computed)) == 0 {
		n.issues.AddError("nothing to add: select join columns or define a computed column")
	}
	for _, comp := range n.Computed {
		if !comp.Valid() {
			n.issues.AddWarning("computed column %q is incomplete and will be skipped", comp.Name)
		}
	}
	return n.issues.OK()
}

func (n *AddColumnsNode) StructuredQuery() *sq.StructuredQuery {
	if !n.Validate() {
		return nil
	}

	var inputCols []*sq.SelectColumn
	for _, name := range n.SelectedColumns {
		sel := &sq.SelectColumn{Expression: name}
		if alias := n.outputName(name); alias != name {
			sel.Alias = alias
		}
		inputCols = append(inputCols, sel)
	}

	var expressions []*sq.SelectColumn
	for _, comp := range validComputed(n.Computed) {
		expressions = append(expressions, &sq.SelectColumn{Expression: comp.SQL(), Alias: comp.Name})
	}

	// The join half only participates when columns are pulled across it.
	var eq *sq.EqualityColumns
	var joinInput sq.Source
	if sec := n.secondary(); sec != nil && len(inputCols) > 0 {
		eq = &sq.EqualityColumns{LeftColumn: n.LeftColumn, RightColumn: n.RightColumn}
		joinInput = sec
	}
	q := sq.WithAddColumnsAndExpressions(n.id, n.Primary, joinInput, inputCols, eq, nil, expressions)
	return n.applyCommon(q)
}

func (n *AddColumnsNode) SerializeState() (json.RawMessage, error) {
	return json.Marshal(addColumnsState{
		commonState:     n.commonState(),
		LeftColumn:      n.LeftColumn,
		RightColumn:     n.RightColumn,
		SelectedColumns: n.SelectedColumns,
		Aliases:         n.Aliases,
		Computed:        n.Computed,
	})
}

func (n *AddColumnsNode) Clone() Node {
	c := &AddColumnsNode{
		base:        n.cloneBase(),
		Primary:     n.Primary,
		Secondary:   n.Secondary.clone(),
		LeftColumn:  n.LeftColumn,
		RightColumn: n.RightColumn,
		Aliases:     make(map[string]string, len(n.Aliases)),
	}
	c.SelectedColumns = append(c.SelectedColumns, n.SelectedColumns...)
	for k, v := range n.Aliases {
		c.Aliases[k] = v
	}
	c.Computed = append(c.Computed, n.Computed...)
	return c
}
