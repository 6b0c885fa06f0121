package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/tracekit-labs/querygraph/internal/cli/output"
	"github.com/tracekit-labs/querygraph/internal/column"
	"github.com/tracekit-labs/querygraph/internal/graph"
)

// NewDAGCommand creates the dag command.
func NewDAGCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dag <pipeline.yaml>",
		Short: "Show a pipeline's node graph",
		Long: `Display the node graph of a pipeline in dependency order, with each
node's inputs, dependents, and output columns.`,
		Example: `  # Show the graph
  querygraph dag pipelines/cpu.yaml

  # Output as JSON
  querygraph dag pipelines/cpu.yaml --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx := NewCommandContextWithoutEngine(cmd)

			_, g, err := loadPipeline(args[0])
			if err != nil {
				return err
			}
			sorted, err := g.TopologicalSort()
			if err != nil {
				return err
			}

			if cmdCtx.Renderer.EffectiveMode() == output.ModeJSON {
				return dagJSON(cmdCtx.Renderer, g)
			}

			header := []string{"Node", "Kind", "Inputs", "Used By", "Columns"}
			rows := make([][]string, 0, len(sorted))
			for _, n := range sorted {
				n.Validate()
				rows = append(rows, []string{
					n.ID(),
					string(n.Kind()),
					strings.Join(g.Parents(n.ID()), ", "),
					strings.Join(g.Children(n.ID()), ", "),
					strings.Join(column.Names(n.FinalCols()), ", "),
				})
			}
			return cmdCtx.Renderer.Table(header, rows)
		},
	}
	return cmd
}

func dagJSON(r *output.Renderer, g *graph.Graph) error {
	type dagNode struct {
		ID      string   `json:"id"`
		Kind    string   `json:"kind"`
		Inputs  []string `json:"inputs,omitempty"`
		UsedBy  []string `json:"usedBy,omitempty"`
		Columns []string `json:"columns,omitempty"`
		Valid   bool     `json:"valid"`
	}

	sorted, err := g.TopologicalSort()
	if err != nil {
		return err
	}
	out := make([]dagNode, 0, len(sorted))
	for _, n := range sorted {
		valid := n.Validate()
		out = append(out, dagNode{
			ID:      n.ID(),
			Kind:    string(n.Kind()),
			Inputs:  g.Parents(n.ID()),
			UsedBy:  g.Children(n.ID()),
			Columns: column.Names(n.FinalCols()),
			Valid:   valid,
		})
	}
	return r.JSON(out)
}
