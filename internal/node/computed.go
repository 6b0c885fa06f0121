package node

import (
	"strings"

	"github.com/tracekit-labs/querygraph/internal/column"
)

// ComputedKind selects how a computed column's expression is assembled.
type ComputedKind string

const (
	// ComputedExpression uses the Expression field verbatim.
	ComputedExpression ComputedKind = "expression"
	// ComputedSwitch matches SwitchOn against case values.
	ComputedSwitch ComputedKind = "switch"
	// ComputedIf evaluates condition clauses in order.
	ComputedIf ComputedKind = "if"
)

// SwitchCase maps one matched value to a result.
type SwitchCase struct {
	Value  string `json:"value"`
	Result string `json:"result"`
}

// IfClause pairs a boolean SQL condition with a result.
type IfClause struct {
	Condition string `json:"condition"`
	Result    string `json:"result"`
}

// Computed is a user-defined output column. Drafts of this value are edited
// in isolation and only merged into node state on commit.
type Computed struct {
	Name string       `json:"name"`
	Kind ComputedKind `json:"kind,omitempty"`

	// Expression kind.
	Expression string `json:"expression,omitempty"`

	// Switch kind.
	SwitchOn     string       `json:"switchOn,omitempty"`
	Cases        []SwitchCase `json:"cases,omitempty"`
	DefaultValue string       `json:"defaultValue,omitempty"`
	UseGlob      bool         `json:"useGlob,omitempty"`

	// If kind.
	Clauses   []IfClause `json:"clauses,omitempty"`
	ElseValue string     `json:"elseValue,omitempty"`

	// SqlType overrides the inferred output type when set.
	SqlType string `json:"sqlType,omitempty"`
}

// kind returns the effective kind, defaulting to expression.
func (c Computed) kind() ComputedKind {
	if c.Kind == "" {
		return ComputedExpression
	}
	return c.Kind
}

// Valid reports whether the computed column is complete enough to emit.
func (c Computed) Valid() bool {
	if c.Name == "" {
		return false
	}
	switch c.kind() {
	case ComputedExpression:
		return strings.TrimSpace(c.Expression) != ""
	case ComputedSwitch:
		return c.SwitchOn != "" && len(c.Cases) > 0
	case ComputedIf:
		return len(c.Clauses) > 0
	default:
		return false
	}
}

// SQL renders the computed column's expression.
func (c Computed) SQL() string {
	switch c.kind() {
	case ComputedSwitch:
		var b strings.Builder
		b.WriteString("CASE")
		for _, cs := range c.Cases {
			if c.UseGlob {
				b.WriteString(" WHEN " + c.SwitchOn + " GLOB " + sqlString(cs.Value))
			} else {
				b.WriteString(" WHEN " + c.SwitchOn + " = " + sqlString(cs.Value))
			}
			b.WriteString(" THEN " + cs.Result)
		}
		if c.DefaultValue != "" {
			b.WriteString(" ELSE " + c.DefaultValue)
		}
		b.WriteString(" END")
		return b.String()
	case ComputedIf:
		var b strings.Builder
		b.WriteString("CASE")
		for _, cl := range c.Clauses {
			b.WriteString(" WHEN " + cl.Condition + " THEN " + cl.Result)
		}
		if c.ElseValue != "" {
			b.WriteString(" ELSE " + c.ElseValue)
		}
		b.WriteString(" END")
		return b.String()
	default:
		return c.Expression
	}
}

// Type resolves the output type: explicit SqlType wins, a bare upstream
// column reference inherits that column's type, anything else falls back to
// column.DefaultComputedType.
func (c Computed) Type(upstream []column.Info) string {
	if c.SqlType != "" {
		return c.SqlType
	}
	if c.kind() == ComputedExpression {
		return column.InferExpressionType(c.Expression, upstream)
	}
	return column.DefaultComputedType
}

func sqlString(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// validComputed filters to columns complete enough to emit.
func validComputed(cols []Computed) []Computed {
	var out []Computed
	for _, c := range cols {
		if c.Valid() {
			out = append(out, c)
		}
	}
	return out
}
