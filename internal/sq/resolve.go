package sq

// resolve.go - a single resolution pass over the reference-vs-embedding
// duality. Embedded fragments are walked in place; by-id references are
// stitched against a table of shared fragments keyed by id.

import (
	"errors"
	"fmt"
)

// ErrUnresolvedReference is wrapped by Flatten when an innerQueryId points
// at no known fragment.
var ErrUnresolvedReference = errors.New("unresolved query reference")

// ErrDuplicateId is wrapped by Flatten when two shared fragments carry the
// same id.
var ErrDuplicateId = errors.New("duplicate query id")

// ErrReferenceCycle is wrapped by Flatten when shared fragments reference
// each other cyclically.
var ErrReferenceCycle = errors.New("query reference cycle")

// Flattened is the resolved form of a query emission: the root fragment
// plus every shared fragment it transitively references, in dependency
// order (referenced fragments before referencing ones).
type Flattened struct {
	Root   *StructuredQuery
	Shared []*StructuredQuery
	byId   map[string]*StructuredQuery
}

// SharedById returns the shared fragment with the given id.
func (f *Flattened) SharedById(id string) (*StructuredQuery, bool) {
	q, ok := f.byId[id]
	return q, ok
}

// Flatten validates and resolves a root fragment against a set of shared
// fragments. Every reference reachable from the root must resolve to a
// shared fragment, shared ids must be unique, and the reference graph must
// be acyclic. Shared fragments not reachable from the root are dropped.
func Flatten(root *StructuredQuery, shared []*StructuredQuery) (*Flattened, error) {
	if root == nil {
		return nil, errors.New("root query is nil")
	}

	byId := make(map[string]*StructuredQuery, len(shared))
	for _, q := range shared {
		if q.Id == "" {
			return nil, errors.New("shared query without an id")
		}
		if _, ok := byId[q.Id]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateId, q.Id)
		}
		byId[q.Id] = q
	}

	f := &Flattened{Root: root, byId: make(map[string]*StructuredQuery)}

	const (
		visiting = 1
		done     = 2
	)
	stateById := make(map[string]int)

	var resolve func(q *StructuredQuery) error
	resolve = func(q *StructuredQuery) error {
		for _, id := range q.ReferencedIds() {
			switch stateById[id] {
			case done:
				continue
			case visiting:
				return fmt.Errorf("%w: involving query %q", ErrReferenceCycle, id)
			}
			target, ok := byId[id]
			if !ok {
				return fmt.Errorf("%w: %q", ErrUnresolvedReference, id)
			}
			stateById[id] = visiting
			if err := resolve(target); err != nil {
				return err
			}
			stateById[id] = done
			f.byId[id] = target
			f.Shared = append(f.Shared, target)
		}
		return nil
	}

	if err := resolve(root); err != nil {
		return nil, err
	}
	return f, nil
}
