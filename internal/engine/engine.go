// Package engine orchestrates query compilation and execution: it owns the
// node graph, the catalog, the database adapter, and the state store, and
// turns validated nodes into executed SQL.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tracekit-labs/querygraph/internal/adapter"
	"github.com/tracekit-labs/querygraph/internal/catalog"
	"github.com/tracekit-labs/querygraph/internal/graph"
	"github.com/tracekit-labs/querygraph/internal/node"
	"github.com/tracekit-labs/querygraph/internal/sq"
	"github.com/tracekit-labs/querygraph/internal/sqlgen"
	"github.com/tracekit-labs/querygraph/internal/state"
)

// ErrNodeInvalid is wrapped by Compile when the target node or one of its
// upstream nodes fails validation.
var ErrNodeInvalid = errors.New("node does not validate")

// Engine ties the pieces together for one session.
type Engine struct {
	// Database adapter, connected lazily on first execution.
	db          adapter.Adapter
	dbCfg       adapter.Config
	dbConnected bool
	dbMu        sync.Mutex

	logger  *slog.Logger
	graph   *graph.Graph
	catalog *catalog.Catalog
	store   *state.Store

	maxRows int
}

// Config holds engine construction parameters.
type Config struct {
	// Target configures the database adapter.
	Target adapter.Config
	// StatePath is the SQLite state database; empty disables run history.
	StatePath string
	// Catalog is the table catalog (optional).
	Catalog *catalog.Catalog
	// MaxRows caps rows fetched per execution; 0 means the default of 10000.
	MaxRows int
	// Logger is the structured logger (optional, discards if nil).
	Logger *slog.Logger
}

// New creates an engine with a lazy database connection. The state store is
// opened immediately when a path is configured.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	e := &Engine{
		dbCfg:   cfg.Target,
		logger:  logger,
		graph:   graph.New(),
		catalog: cfg.Catalog,
		maxRows: cfg.MaxRows,
	}
	if e.maxRows <= 0 {
		e.maxRows = 10000
	}

	if cfg.StatePath != "" {
		store, err := state.Open(cfg.StatePath)
		if err != nil {
			return nil, fmt.Errorf("open state store: %w", err)
		}
		e.store = store
	}

	logger.Debug("engine initialized", "adapter", cfg.Target.Type, "state_path", cfg.StatePath)
	return e, nil
}

// Close releases the database connection and the state store.
func (e *Engine) Close() error {
	var errs []error
	e.dbMu.Lock()
	if e.dbConnected {
		if err := e.db.Close(); err != nil {
			errs = append(errs, err)
		}
		e.dbConnected = false
	}
	e.dbMu.Unlock()

	if e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Graph returns the engine's node graph.
func (e *Engine) Graph() *graph.Graph { return e.graph }

// SetGraph replaces the engine's node graph, usually after loading a
// pipeline document.
func (e *Engine) SetGraph(g *graph.Graph) { e.graph = g }

// Catalog returns the table catalog, which may be nil.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// Store returns the state store, which may be nil.
func (e *Engine) Store() *state.Store { return e.store }

// ensureConnected connects the database adapter on first use.
func (e *Engine) ensureConnected(ctx context.Context) error {
	e.dbMu.Lock()
	defer e.dbMu.Unlock()
	if e.dbConnected {
		return nil
	}

	db, err := adapter.New(e.dbCfg, e.logger)
	if err != nil {
		return err
	}
	if err := db.Connect(ctx, e.dbCfg); err != nil {
		return fmt.Errorf("connect %s adapter: %w", e.dbCfg.Type, err)
	}

	e.logger.Debug("database connected", "adapter", db.DialectName())
	e.db = db
	e.dbConnected = true
	return nil
}

// Compiled is the output of compiling one node.
type Compiled struct {
	NodeID string
	// SQL is the final statement.
	SQL string
	// Preambles must be executed before SQL, in order.
	Preambles []string
	// Modules are engine modules the query depends on.
	Modules []string
	// Flat is the resolved fragment set the SQL was generated from.
	Flat *sq.Flattened
	// Warnings are advisory validation messages from the node.
	Warnings []string
}

// Compile validates a node and renders its query emission into SQL.
func (e *Engine) Compile(n node.Node) (*Compiled, error) {
	if n == nil {
		return nil, errors.New("no node to compile")
	}
	if !n.Validate() {
		return nil, fmt.Errorf("%w: %s: %s", ErrNodeInvalid, n.ID(), n.Issues().Error())
	}

	root := n.StructuredQuery()
	if root == nil {
		return nil, fmt.Errorf("%w: %s emitted no query", ErrNodeInvalid, n.ID())
	}

	flat, err := sq.Flatten(root, collectShared(n))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", n.ID(), err)
	}

	res, err := sqlgen.Generate(flat)
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", n.ID(), err)
	}

	e.logger.Debug("node compiled", "node", n.ID(), "kind", n.Kind(), "preambles", len(res.Preambles))
	return &Compiled{
		NodeID:    n.ID(),
		SQL:       res.SQL,
		Preambles: res.Preambles,
		Modules:   res.Modules,
		Flat:      flat,
		Warnings:  n.Issues().Warnings(),
	}, nil
}

// CompileByID compiles a node from the engine's graph.
func (e *Engine) CompileByID(id string) (*Compiled, error) {
	n, ok := e.graph.Get(id)
	if !ok {
		return nil, fmt.Errorf("node %q not in graph", id)
	}
	return e.Compile(n)
}

// collectShared walks the transitive upstream closure of n and gathers every
// input's fragment as a candidate shared fragment. Resolution drops the ones
// the root never references by id.
func collectShared(n node.Node) []*sq.StructuredQuery {
	seen := map[string]bool{n.ID(): true}
	var out []*sq.StructuredQuery

	var walk func(cur node.Node)
	walk = func(cur node.Node) {
		for _, in := range cur.Inputs() {
			if in == nil || seen[in.ID()] {
				continue
			}
			seen[in.ID()] = true
			if q := in.StructuredQuery(); q != nil {
				out = append(out, q)
			}
			walk(in)
		}
	}
	walk(n)
	return out
}

// Revalidate sweeps the nodes downstream of the changed ids in dependency
// order and returns the ids that now fail validation.
func (e *Engine) Revalidate(changed ...string) ([]string, error) {
	invalid, err := e.graph.Revalidate(changed...)
	if err != nil {
		return nil, err
	}
	if len(invalid) > 0 {
		e.logger.Debug("revalidation found invalid nodes", "changed", changed, "invalid", invalid)
	}
	return invalid, nil
}

// ValidateAll validates every node in the graph and returns the blocking
// issue per invalid node id.
func (e *Engine) ValidateAll() map[string]string {
	out := make(map[string]string)
	for _, n := range e.graph.Nodes() {
		if !n.Validate() {
			out[n.ID()] = n.Issues().Error()
		}
	}
	return out
}
