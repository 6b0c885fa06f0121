package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tracekit-labs/querygraph/internal/column"
	"github.com/tracekit-labs/querygraph/internal/node"
)

// distinctLimit caps the values fetched per column.
const distinctLimit = 1000

// DistinctValues fetches the distinct values of the given columns from a
// node's output, fanned out one query per column. A column whose fetch fails
// degrades to an empty list; the call itself only fails when the node cannot
// be compiled or the database is unreachable.
func (e *Engine) DistinctValues(ctx context.Context, n node.Node, cols []string) (map[string][]string, error) {
	compiled, err := e.Compile(n)
	if err != nil {
		return nil, err
	}
	if err := e.ensureConnected(ctx); err != nil {
		return nil, err
	}

	for _, pre := range compiled.Preambles {
		if err := e.db.Exec(ctx, pre); err != nil {
			return nil, fmt.Errorf("preamble failed: %w", err)
		}
	}

	schema := n.FinalCols()
	results := make([][]string, len(cols))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, col := range cols {
		if !column.Has(schema, col) {
			e.logger.Warn("distinct values for unknown column", "node", n.ID(), "column", col)
			continue
		}
		g.Go(func() error {
			values, err := e.fetchDistinct(ctx, compiled.SQL, col)
			if err != nil {
				e.logger.Debug("distinct fetch failed", "node", n.ID(), "column", col, "error", err)
				return nil
			}
			results[i] = values
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string][]string, len(cols))
	for i, col := range cols {
		if results[i] == nil {
			out[col] = []string{}
			continue
		}
		out[col] = results[i]
	}
	return out, nil
}

func (e *Engine) fetchDistinct(ctx context.Context, innerSQL, col string) ([]string, error) {
	stmt := fmt.Sprintf(
		"SELECT DISTINCT %s FROM (\n%s\n) AS distinct_src WHERE %s IS NOT NULL ORDER BY 1 LIMIT %d",
		col, innerSQL, col, distinctLimit)

	rows, err := e.db.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	values := []string{}
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, formatValue(v))
	}
	return values, rows.Err()
}
