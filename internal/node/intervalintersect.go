package node

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tracekit-labs/querygraph/internal/column"
	"github.com/tracekit-labs/querygraph/internal/sq"
)

// TsDurIntersection selects the computed intersection window as the
// canonical ts/dur pair instead of one of the inputs.
const TsDurIntersection = -1

// requiredIntervalCols are the columns every interval input must expose.
var requiredIntervalCols = []string{"id", "ts", "dur"}

// IntervalIntersectNode intersects the intervals of its base input against
// one or more further interval inputs. Every input must expose id, ts and
// dur. The output carries a canonical ts/dur pair (selected by TsDurSource),
// suffixed per-input triples, the partition columns, and every non-reserved
// column unique across all inputs.
type IntervalIntersectNode struct {
	base
	Base      Node
	Intersect SecondaryInput

	PartitionColumns []string
	// TsDurSource picks the canonical ts/dur: TsDurIntersection for the
	// intersection window, otherwise the zero-based input index (0 = base).
	TsDurSource int
	// IncludeUnfinished opts an input (by index, 0 = base) out of the
	// implicit dur >= 0 precondition.
	IncludeUnfinished map[int]bool
}

type intervalIntersectState struct {
	commonState
	PartitionColumns  []string     `json:"partitionColumns,omitempty"`
	TsDurSource       int          `json:"tsDurSource"`
	IncludeUnfinished map[int]bool `json:"includeUnfinished,omitempty"`
}

func NewIntervalIntersect(gen IDGenerator, baseInput Node) *IntervalIntersectNode {
	return &IntervalIntersectNode{
		base:              newBase(gen.NextID(), KindIntervalIntersect),
		Base:              baseInput,
		Intersect:         NewSecondaryInput(1, 0),
		TsDurSource:       TsDurIntersection,
		IncludeUnfinished: make(map[int]bool),
	}
}

func (n *IntervalIntersectNode) Inputs() []Node {
	return append([]Node{n.Base}, n.Intersect.Nodes()...)
}

// allInputs returns base plus intersect inputs; index 0 is the base.
func (n *IntervalIntersectNode) allInputs() []Node {
	if n.Base == nil {
		return nil
	}
	return n.Inputs()
}

func isReserved(name string) bool {
	switch strings.ToLower(name) {
	case "id", "ts", "dur":
		return true
	}
	return false
}

// uniqueExtras returns, per input, the non-reserved columns that appear in
// exactly one input, plus the sorted list of cross-input duplicates.
func (n *IntervalIntersectNode) uniqueExtras() (extras [][]column.Info, duplicated []string) {
	inputs := n.allInputs()
	counts := make(map[string]int)
	for _, in := range inputs {
		if in == nil {
			continue
		}
		for _, c := range in.FinalCols() {
			name := c.OutputName()
			if isReserved(name) || contains(n.PartitionColumns, name) {
				continue
			}
			counts[name]++
		}
	}
	extras = make([][]column.Info, len(inputs))
	dupSet := make(map[string]struct{})
	for i, in := range inputs {
		if in == nil {
			continue
		}
		for _, c := range in.FinalCols() {
			name := c.OutputName()
			if isReserved(name) || contains(n.PartitionColumns, name) {
				continue
			}
			if counts[name] > 1 {
				dupSet[name] = struct{}{}
				continue
			}
			extras[i] = append(extras[i], c)
		}
	}
	for name := range dupSet {
		duplicated = append(duplicated, name)
	}
	sort.Strings(duplicated)
	return extras, duplicated
}

func (n *IntervalIntersectNode) FinalCols() []column.Info {
	inputs := n.allInputs()
	if len(inputs) < 2 {
		return nil
	}

	var out []column.Info
	if n.TsDurSource == TsDurIntersection {
		out = append(out,
			column.New("ts", column.TypeTimestamp),
			column.New("dur", column.TypeDuration))
	} else {
		out = append(out,
			column.New("id", column.TypeLong),
			column.New("ts", column.TypeTimestamp),
			column.New("dur", column.TypeDuration))
	}

	for _, p := range n.PartitionColumns {
		typ := column.TypeUnknown
		if n.Base != nil {
			typ = column.TypeOf(n.Base.FinalCols(), p)
		}
		out = append(out, column.New(p, typ))
	}

	for i := range inputs {
		out = append(out,
			column.New(fmt.Sprintf("id_%d", i), column.TypeLong),
			column.New(fmt.Sprintf("ts_%d", i), column.TypeTimestamp),
			column.New(fmt.Sprintf("dur_%d", i), column.TypeDuration))
	}

	extras, _ := n.uniqueExtras()
	for _, cols := range extras {
		out = append(out, cols...)
	}
	return column.Dedupe(out)
}

func (n *IntervalIntersectNode) Validate() bool {
	n.issues.Reset()
	if !requireInput(&n.issues, n.Base, "base input") {
		return false
	}
	if !n.Intersect.validate(&n.issues, "intersect") {
		return false
	}
	inputs := n.allInputs()
	for i, in := range inputs {
		label := "base input"
		if i > 0 {
			label = fmt.Sprintf("intersect input %d", i)
		}
		if !requireInput(&n.issues, in, label) {
			return false
		}
		requireColumns(&n.issues, in.FinalCols(), requiredIntervalCols, label)
	}

	if n.TsDurSource != TsDurIntersection && (n.TsDurSource < 0 || n.TsDurSource >= len(inputs)) {
		n.issues.AddError("ts/dur source input %d does not exist", n.TsDurSource)
	}

	// Partition columns must be present on every input; type divergence is
	// advisory only.
	for _, p := range n.PartitionColumns {
		types := make(map[string]struct{})
		for i, in := range inputs {
			label := "base input"
			if i > 0 {
				label = fmt.Sprintf("intersect input %d", i)
			}
			if !requireColumns(&n.issues, in.FinalCols(), []string{p}, label) {
				continue
			}
			types[column.TypeOf(in.FinalCols(), p)] = struct{}{}
		}
		if len(types) > 1 {
			n.issues.AddWarning("partition column %q has inconsistent types across inputs", p)
		}
	}

	if _, duplicated := n.uniqueExtras(); len(duplicated) > 0 {
		n.issues.AddWarning("columns duplicated across inputs are dropped: %s",
			strings.Join(duplicated, ", "))
	}
	return n.issues.OK()
}

func (n *IntervalIntersectNode) StructuredQuery() *sq.StructuredQuery {
	if !n.Validate() {
		return nil
	}
	baseIn := sq.IntervalInput{Source: n.Base, IncludeUnfinished: n.IncludeUnfinished[0]}
	var rest []sq.IntervalInput
	for i, in := range n.Intersect.Nodes() {
		rest = append(rest, sq.IntervalInput{Source: in, IncludeUnfinished: n.IncludeUnfinished[i+1]})
	}
	q := sq.WithIntervalIntersect(n.id, baseIn, rest, n.PartitionColumns)
	if q == nil {
		return nil
	}
	// A designated ts/dur source is realized by aliasing that input's
	// suffixed triple over the canonical names.
	if src := n.TsDurSource; src != TsDurIntersection {
		q.SelectColumns = []*sq.SelectColumn{
			{Expression: "*"},
			{Expression: fmt.Sprintf("id_%d", src), Alias: "id"},
			{Expression: fmt.Sprintf("ts_%d", src), Alias: "ts"},
			{Expression: fmt.Sprintf("dur_%d", src), Alias: "dur"},
		}
	}
	return n.applyCommon(q)
}

func (n *IntervalIntersectNode) SerializeState() (json.RawMessage, error) {
	return json.Marshal(intervalIntersectState{
		commonState:       n.commonState(),
		PartitionColumns:  n.PartitionColumns,
		TsDurSource:       n.TsDurSource,
		IncludeUnfinished: n.IncludeUnfinished,
	})
}

func (n *IntervalIntersectNode) Clone() Node {
	c := &IntervalIntersectNode{
		base:              n.cloneBase(),
		Base:              n.Base,
		Intersect:         n.Intersect.clone(),
		TsDurSource:       n.TsDurSource,
		IncludeUnfinished: make(map[int]bool, len(n.IncludeUnfinished)),
	}
	c.PartitionColumns = append(c.PartitionColumns, n.PartitionColumns...)
	for k, v := range n.IncludeUnfinished {
		c.IncludeUnfinished[k] = v
	}
	return c
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
