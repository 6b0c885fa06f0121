// Package pipeline persists node graphs as YAML documents and rebuilds
// them. Node state blobs stay operator-specific: the document only fixes
// kind, id and input wiring, and hands the rest to the node package.
package pipeline

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	goyaml "gopkg.in/yaml.v3"

	"github.com/tracekit-labs/querygraph/internal/graph"
	"github.com/tracekit-labs/querygraph/internal/node"
)

// Document is one persisted pipeline.
type Document struct {
	Name        string    `koanf:"name" yaml:"name" json:"name"`
	Description string    `koanf:"description" yaml:"description,omitempty" json:"description,omitempty"`
	Nodes       []NodeDoc `koanf:"nodes" yaml:"nodes" json:"nodes"`
}

// NodeDoc is one node entry of a pipeline document.
type NodeDoc struct {
	Kind   string         `koanf:"kind" yaml:"kind" json:"kind"`
	ID     string         `koanf:"id" yaml:"id" json:"id"`
	Inputs []string       `koanf:"inputs" yaml:"inputs,omitempty" json:"inputs,omitempty"`
	State  map[string]any `koanf:"state" yaml:"state,omitempty" json:"state,omitempty"`
}

// Load reads a pipeline document from a YAML file.
func Load(path string) (*Document, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load pipeline %s: %w", path, err)
	}
	var doc Document
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, fmt.Errorf("parse pipeline %s: %w", path, err)
	}
	if doc.Name == "" {
		return nil, fmt.Errorf("pipeline %s has no name", path)
	}
	return &doc, nil
}

// Build reconstructs the node graph from a document. Nodes may appear in
// any order; they are deserialized once their inputs are available.
func Build(doc *Document) (*graph.Graph, error) {
	g := graph.New()
	byID := make(map[string]node.Node, len(doc.Nodes))

	pending := make([]NodeDoc, len(doc.Nodes))
	copy(pending, doc.Nodes)

	for len(pending) > 0 {
		progressed := false
		var next []NodeDoc
		for _, nd := range pending {
			if !inputsReady(nd, byID) {
				next = append(next, nd)
				continue
			}
			n, err := deserialize(nd, byID)
			if err != nil {
				return nil, err
			}
			if err := g.Add(n); err != nil {
				return nil, fmt.Errorf("pipeline %q: %w", doc.Name, err)
			}
			byID[n.ID()] = n
			progressed = true
		}
		if !progressed {
			var stuck []string
			for _, nd := range next {
				stuck = append(stuck, nd.ID)
			}
			return nil, fmt.Errorf("pipeline %q has unresolvable or cyclic inputs among nodes %v", doc.Name, stuck)
		}
		pending = next
	}
	return g, nil
}

func inputsReady(nd NodeDoc, byID map[string]node.Node) bool {
	for _, id := range nd.Inputs {
		if id == "" {
			continue
		}
		if _, ok := byID[id]; !ok {
			return false
		}
	}
	return true
}

func deserialize(nd NodeDoc, byID map[string]node.Node) (node.Node, error) {
	if nd.ID == "" {
		return nil, fmt.Errorf("pipeline node without an id")
	}
	state, err := json.Marshal(nd.State)
	if err != nil {
		return nil, fmt.Errorf("node %s: encode state: %w", nd.ID, err)
	}
	env := &node.Envelope{
		Kind:   node.Kind(nd.Kind),
		ID:     nd.ID,
		Inputs: nd.Inputs,
		State:  state,
	}
	n, err := node.Deserialize(env, byID)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Snapshot captures a graph into a document, nodes in topological order so
// Build never needs more than one pass.
func Snapshot(name, description string, g *graph.Graph) (*Document, error) {
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}
	doc := &Document{Name: name, Description: description}
	for _, n := range order {
		env, err := node.Serialize(n)
		if err != nil {
			return nil, err
		}
		var state map[string]any
		if len(env.State) > 0 {
			if err := json.Unmarshal(env.State, &state); err != nil {
				return nil, fmt.Errorf("node %s: decode state: %w", env.ID, err)
			}
		}
		doc.Nodes = append(doc.Nodes, NodeDoc{
			Kind:   string(env.Kind),
			ID:     env.ID,
			Inputs: env.Inputs,
			State:  state,
		})
	}
	return doc, nil
}

// Save writes a document as YAML.
func Save(path string, doc *Document) error {
	raw, err := goyaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode pipeline %q: %w", doc.Name, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write pipeline %s: %w", path, err)
	}
	return nil
}
