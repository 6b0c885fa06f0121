package commands

import (
	"time"

	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	var nodeID string

	cmd := &cobra.Command{
		Use:   "run <pipeline.yaml>",
		Short: "Execute a pipeline node against the configured engine",
		Long: `Compile a pipeline node and execute the generated SQL against the
configured database target, printing the fetched rows. Each execution is
recorded in the state database.`,
		Example: `  # Run the leaf node
  querygraph run pipelines/cpu.yaml

  # Run a specific node
  querygraph run pipelines/cpu.yaml --node n4`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			doc, g, err := loadPipeline(args[0])
			if err != nil {
				return err
			}
			target, err := selectNode(g, nodeID)
			if err != nil {
				return err
			}

			result, err := cmdCtx.Engine.Run(cmd.Context(), doc.Name, target)
			if err != nil {
				return err
			}

			if err := cmdCtx.Renderer.Table(result.Columns, result.Rows); err != nil {
				return err
			}
			cmdCtx.Renderer.Errorf("%d row(s) in %s", len(result.Rows), result.Duration.Round(time.Millisecond))
			if result.Truncated {
				cmdCtx.Renderer.Errorf(" (truncated)")
			}
			cmdCtx.Renderer.Errorf("\n")
			return nil
		},
	}

	cmd.Flags().StringVar(&nodeID, "node", "", "node id to run (default: the leaf node)")
	return cmd
}
