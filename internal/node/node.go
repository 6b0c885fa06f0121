// Package node implements the pipeline node graph: one operator per node,
// each computing its output schema from upstream schemas, validating its
// configuration, and emitting a structured-query IR fragment.
//
// Nodes hold non-owning references to their upstream inputs only. Downstream
// adjacency lives in the graph package, keeping the object graph acyclic.
package node

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tracekit-labs/querygraph/internal/column"
	"github.com/tracekit-labs/querygraph/internal/sq"
)

// Kind tags the operator implemented by a node.
type Kind string

const (
	KindTable             Kind = "table"
	KindSql               Kind = "sql"
	KindIntervals         Kind = "intervals"
	KindModify            Kind = "modify"
	KindAddColumns        Kind = "add_columns"
	KindMerge             Kind = "merge"
	KindUnion             Kind = "union"
	KindIntervalIntersect Kind = "interval_intersect"
	KindFilterToIntervals Kind = "filter_to_intervals"
	KindFilterIn          Kind = "filter_in"
)

// Node is the uniform operator contract. FinalCols and Validate are
// recomputed on every call from upstream state; nothing is cached.
// StructuredQuery returns nil whenever the node does not validate.
type Node interface {
	sq.Source

	Kind() Kind
	// FinalCols returns the ordered output schema given current upstream
	// schemas and node state.
	FinalCols() []column.Info
	// Validate recomputes the node's validity, resetting and repopulating
	// the issue holder.
	Validate() bool
	Issues() *Issues
	// Inputs returns upstream nodes in port order: primary first, then
	// secondary ports ascending. Nil entries mark unconnected ports.
	Inputs() []Node
	// SerializeState returns the node's operator-specific state as JSON.
	SerializeState() (json.RawMessage, error)
	// Clone returns a deep copy of the node's state sharing the same id and
	// upstream references.
	Clone() Node
}

// Issues accumulates validation outcomes for one node. Errors block query
// generation; warnings are advisory and do not.
type Issues struct {
	errors   []string
	warnings []string
}

// Reset clears all recorded issues.
func (i *Issues) Reset() {
	i.errors = i.errors[:0]
	i.warnings = i.warnings[:0]
}

func (i *Issues) AddError(format string, args ...any) {
	i.errors = append(i.errors, fmt.Sprintf(format, args...))
}

func (i *Issues) AddWarning(format string, args ...any) {
	i.warnings = append(i.warnings, fmt.Sprintf(format, args...))
}

// OK reports whether no blocking errors are recorded.
func (i *Issues) OK() bool { return len(i.errors) == 0 }

// Error returns the first blocking error, empty when valid.
func (i *Issues) Error() string {
	if len(i.errors) == 0 {
		return ""
	}
	return i.errors[0]
}

func (i *Issues) Errors() []string   { return append([]string(nil), i.errors...) }
func (i *Issues) Warnings() []string { return append([]string(nil), i.warnings...) }

// IDGenerator produces node ids. Injected rather than global so tests can
// pin deterministic ids.
type IDGenerator interface {
	NextID() string
}

// Counter is a monotonic IDGenerator emitting prefix_1, prefix_2, ...
type Counter struct {
	prefix string
	n      atomic.Int64
}

func NewCounter(prefix string) *Counter {
	return &Counter{prefix: prefix}
}

func (c *Counter) NextID() string {
	return c.prefix + "_" + strconv.FormatInt(c.n.Add(1), 10)
}

// UUIDs is an IDGenerator backed by random UUIDs.
type UUIDs struct{}

func (UUIDs) NextID() string { return uuid.NewString() }

// SecondaryInput models a node's auxiliary input ports with multiplicity
// constraints.
type SecondaryInput struct {
	Connections map[int]Node
	Min, Max    int
}

func NewSecondaryInput(min, max int) SecondaryInput {
	return SecondaryInput{Connections: make(map[int]Node), Min: min, Max: max}
}

// Set connects n on the given port; a nil n disconnects it.
func (s *SecondaryInput) Set(port int, n Node) {
	if s.Connections == nil {
		s.Connections = make(map[int]Node)
	}
	if n == nil {
		delete(s.Connections, port)
		return
	}
	s.Connections[port] = n
}

// Nodes returns connected inputs ordered by port index.
func (s *SecondaryInput) Nodes() []Node {
	ports := make([]int, 0, len(s.Connections))
	for p := range s.Connections {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	out := make([]Node, 0, len(ports))
	for _, p := range ports {
		out = append(out, s.Connections[p])
	}
	return out
}

func (s *SecondaryInput) Count() int { return len(s.Connections) }

// validate checks multiplicity constraints, recording errors on iss.
func (s *SecondaryInput) validate(iss *Issues, label string) bool {
	n := s.Count()
	if n < s.Min {
		iss.AddError("%s requires at least %d input(s), %d connected", label, s.Min, n)
		return false
	}
	if s.Max > 0 && n > s.Max {
		iss.AddError("%s accepts at most %d input(s), %d connected", label, s.Max, n)
		return false
	}
	return true
}

func (s *SecondaryInput) clone() SecondaryInput {
	c := SecondaryInput{Connections: make(map[int]Node, len(s.Connections)), Min: s.Min, Max: s.Max}
	for p, n := range s.Connections {
		c.Connections[p] = n
	}
	return c
}

// base carries the cross-cutting state every node shares.
type base struct {
	id     string
	kind   Kind
	issues Issues

	// Comment is a free-form user annotation.
	Comment string
	// AutoExecute marks the node for execution on every upstream change.
	AutoExecute bool
	// Filters apply on top of the node's emitted fragment.
	Filters []*sq.Filter
}

func newBase(id string, kind Kind) base {
	return base{id: id, kind: kind}
}

func (b *base) ID() string      { return b.id }
func (b *base) Kind() Kind      { return b.kind }
func (b *base) Issues() *Issues { return &b.issues }

// applyCommon attaches the cross-cutting filters to a freshly built
// fragment.
func (b *base) applyCommon(q *sq.StructuredQuery) *sq.StructuredQuery {
	if q == nil {
		return nil
	}
	if len(b.Filters) > 0 {
		q.Filters = append(q.Filters, b.Filters...)
	}
	return q
}

func (b *base) cloneBase() base {
	c := base{id: b.id, kind: b.kind, Comment: b.Comment, AutoExecute: b.AutoExecute}
	c.Filters = append(c.Filters, b.Filters...)
	return c
}

// commonState is embedded into every node's serialized state.
type commonState struct {
	Comment     string       `json:"comment,omitempty"`
	AutoExecute bool         `json:"autoExecute,omitempty"`
	Filters     []*sq.Filter `json:"filters,omitempty"`
}

func (b *base) commonState() commonState {
	return commonState{Comment: b.Comment, AutoExecute: b.AutoExecute, Filters: b.Filters}
}

func (b *base) applyCommonState(s commonState) {
	b.Comment = s.Comment
	b.AutoExecute = s.AutoExecute
	b.Filters = s.Filters
}

// requireInput records an error when a required input port is empty or the
// upstream node fails its own validation, propagating the upstream message.
func requireInput(iss *Issues, in Node, label string) bool {
	if in == nil {
		iss.AddError("%s is not connected", label)
		return false
	}
	if !in.Validate() {
		msg := in.Issues().Error()
		if msg == "" {
			msg = "invalid upstream node"
		}
		iss.AddError("%s: %s", label, msg)
		return false
	}
	return true
}

// requireColumns records an error when the upstream schema lacks any of the
// named columns.
func requireColumns(iss *Issues, cols []column.Info, names []string, label string) bool {
	var missing []string
	for _, name := range names {
		if !column.Has(cols, name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		iss.AddError("%s is missing required columns: %s", label, strings.Join(missing, ", "))
		return false
	}
	return true
}

// wrapped adapts a prebuilt fragment to the sq.Source interface, used when
// a node needs to hand the builder something other than a raw upstream
// reference.
type wrapped struct {
	id string
	q  *sq.StructuredQuery
}

func (w wrapped) ID() string                           { return w.id }
func (w wrapped) StructuredQuery() *sq.StructuredQuery { return w.q }
