// Package column provides the column schema model shared by all pipeline
// nodes. A node's output schema is an ordered list of Info values; helpers
// here cover deduplication, lookup and the duplicate-name diagnostics that
// drive node validation.
package column

import (
	"sort"
	"strings"
)

// Well-known SQL type tags used across the pipeline.
const (
	TypeInt       = "INT"
	TypeLong      = "LONG"
	TypeDouble    = "DOUBLE"
	TypeString    = "STRING"
	TypeBool      = "BOOL"
	TypeTimestamp = "TIMESTAMP"
	TypeDuration  = "DURATION"
	TypeUnknown   = "NA"
)

// DefaultComputedType is the fallback type assigned to a computed column
// whose expression is not a bare reference to an upstream column.
var DefaultComputedType = TypeInt

// Ref identifies the column a schema entry originated from.
type Ref struct {
	Table  string `json:"table,omitempty"`
	Column string `json:"column"`
	Type   string `json:"type,omitempty"`
}

// Info describes one output column of a pipeline node.
type Info struct {
	// Name is the externally visible column name after aliasing.
	Name string `json:"name"`
	// Type is the SQL type tag, TypeUnknown when it cannot be derived.
	Type string `json:"type"`
	// Checked marks inclusion in the node's exposed projection.
	Checked bool `json:"checked"`
	// Alias is the rename applied to the source column, if any.
	Alias string `json:"alias,omitempty"`
	// Source is the upstream column this entry derives from.
	Source Ref `json:"source"`
}

// New returns a checked column with the given name and type, sourced from
// itself.
func New(name, typ string) Info {
	return Info{
		Name:    name,
		Type:    typ,
		Checked: true,
		Source:  Ref{Column: name, Type: typ},
	}
}

// OutputName returns the alias when set, the name otherwise.
func (c Info) OutputName() string {
	if c.Alias != "" {
		return c.Alias
	}
	return c.Name
}

// Names returns the output names of cols in order.
func Names(cols []Info) []string {
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, c.OutputName())
	}
	return names
}

// Checked returns only the columns marked for inclusion, preserving order.
func Checked(cols []Info) []Info {
	var out []Info
	for _, c := range cols {
		if c.Checked {
			out = append(out, c)
		}
	}
	return out
}

// Find returns the first column whose output name equals name.
func Find(cols []Info, name string) (Info, bool) {
	for _, c := range cols {
		if c.OutputName() == name {
			return c, true
		}
	}
	return Info{}, false
}

// Has reports whether a column with the given output name exists.
func Has(cols []Info, name string) bool {
	_, ok := Find(cols, name)
	return ok
}

// TypeOf returns the type of the named column, TypeUnknown when absent.
func TypeOf(cols []Info, name string) string {
	if c, ok := Find(cols, name); ok && c.Type != "" {
		return c.Type
	}
	return TypeUnknown
}

// Dedupe drops columns whose output name has already been seen, keeping the
// first occurrence. Order is preserved.
func Dedupe(cols []Info) []Info {
	seen := make(map[string]struct{}, len(cols))
	out := make([]Info, 0, len(cols))
	for _, c := range cols {
		name := c.OutputName()
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Duplicates returns the sorted set of output names occurring more than once.
func Duplicates(cols []Info) []string {
	counts := make(map[string]int, len(cols))
	for _, c := range cols {
		counts[c.OutputName()]++
	}
	var dups []string
	for name, n := range counts {
		if n > 1 {
			dups = append(dups, name)
		}
	}
	sort.Strings(dups)
	return dups
}

// Diagnostics is the outcome of a duplicate-name pass over a candidate
// column selection.
type Diagnostics struct {
	// CollidingWithExisting lists selected output names that clash with a
	// column already present on the target side.
	CollidingWithExisting []string
	// CollidingSelected lists output names used by more than one selected
	// column after aliasing.
	CollidingSelected []string
}

// OK reports whether no collisions were found.
func (d Diagnostics) OK() bool {
	return len(d.CollidingWithExisting) == 0 && len(d.CollidingSelected) == 0
}

// Message renders the diagnostics as a single user-facing issue string.
func (d Diagnostics) Message() string {
	var parts []string
	if len(d.CollidingWithExisting) > 0 {
		parts = append(parts, "columns already exist: "+strings.Join(d.CollidingWithExisting, ", "))
	}
	if len(d.CollidingSelected) > 0 {
		parts = append(parts, "duplicate column names after aliasing: "+strings.Join(d.CollidingSelected, ", "))
	}
	return strings.Join(parts, "; ")
}

// DiagnoseAliases checks a candidate set of selected column names, with an
// alias map applied, against the columns already present on the joining
// side. Both blocking validation and advisory warnings are derived from the
// result.
func DiagnoseAliases(selected []string, aliases map[string]string, existing []Info) Diagnostics {
	var d Diagnostics

	existingNames := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		existingNames[c.OutputName()] = struct{}{}
	}

	seen := make(map[string]int, len(selected))
	for _, name := range selected {
		out := name
		if alias, ok := aliases[name]; ok && alias != "" {
			out = alias
		}
		if _, clash := existingNames[out]; clash {
			d.CollidingWithExisting = append(d.CollidingWithExisting, out)
		}
		seen[out]++
	}
	for out, n := range seen {
		if n > 1 {
			d.CollidingSelected = append(d.CollidingSelected, out)
		}
	}
	sort.Strings(d.CollidingWithExisting)
	sort.Strings(d.CollidingSelected)
	return d
}

// bareIdent reports whether expr is a single bare identifier, i.e. a direct
// reference to one upstream column rather than a computed expression.
func bareIdent(expr string) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false
	}
	for i, r := range expr {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// InferExpressionType resolves the type of a computed-column expression
// against the upstream schema: a bare column reference inherits that
// column's type, anything else falls back to DefaultComputedType.
func InferExpressionType(expr string, upstream []Info) string {
	if bareIdent(expr) {
		if c, ok := Find(upstream, strings.TrimSpace(expr)); ok && c.Type != "" {
			return c.Type
		}
	}
	return DefaultComputedType
}
