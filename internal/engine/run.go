package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/tracekit-labs/querygraph/internal/node"
	"github.com/tracekit-labs/querygraph/internal/state"
)

// RunResult holds the fetched output of one executed node.
type RunResult struct {
	NodeID  string
	SQL     string
	Columns []string
	Rows    [][]string
	// Truncated reports whether the row cap cut the result short.
	Truncated bool
	Duration  time.Duration
}

// Run compiles and executes a node, fetching its rows. The outcome is
// recorded in the state store under pipelineName when a store is configured.
func (e *Engine) Run(ctx context.Context, pipelineName string, n node.Node) (*RunResult, error) {
	compiled, err := e.Compile(n)
	if err != nil {
		return nil, err
	}

	if err := e.ensureConnected(ctx); err != nil {
		return nil, err
	}

	e.logger.Info("executing node", "node", n.ID(), "kind", n.Kind())

	start := time.Now()
	result, execErr := e.execute(ctx, compiled)
	elapsed := time.Since(start)

	if e.store != nil {
		run := &state.Run{
			PipelineName: pipelineName,
			NodeID:       n.ID(),
			SQL:          compiled.SQL,
			Status:       state.RunSucceeded,
			StartedAt:    start,
			Duration:     elapsed,
		}
		if execErr != nil {
			run.Status = state.RunFailed
			run.Error = execErr.Error()
		} else {
			run.RowsReturned = int64(len(result.Rows))
		}
		if err := e.store.RecordRun(ctx, run); err != nil {
			e.logger.Warn("failed to record run", "node", n.ID(), "error", err)
		}
	}

	if execErr != nil {
		e.logger.Info("node execution failed", "node", n.ID(), "error", execErr)
		return nil, execErr
	}

	result.Duration = elapsed
	e.logger.Info("node executed", "node", n.ID(), "rows", len(result.Rows), "elapsed", elapsed)
	return result, nil
}

// execute runs the preambles then the statement, fetching up to maxRows rows.
func (e *Engine) execute(ctx context.Context, compiled *Compiled) (*RunResult, error) {
	for _, pre := range compiled.Preambles {
		if err := e.db.Exec(ctx, pre); err != nil {
			return nil, fmt.Errorf("preamble failed: %w", err)
		}
	}

	rows, err := e.db.Query(ctx, compiled.SQL)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	result := &RunResult{NodeID: compiled.NodeID, SQL: compiled.SQL, Columns: cols}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if len(result.Rows) >= e.maxRows {
			result.Truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make([]string, len(cols))
		for i, v := range values {
			row[i] = formatValue(v)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", x)
	}
}
