package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <pipeline.yaml>",
		Short: "Validate every node in a pipeline",
		Long: `Load a pipeline document, rebuild its node graph, and validate every
node in dependency order. Exits non-zero when any node has a blocking
error; warnings are reported but do not fail the command.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx := NewCommandContextWithoutEngine(cmd)

			doc, g, err := loadPipeline(args[0])
			if err != nil {
				return err
			}

			sorted, err := g.TopologicalSort()
			if err != nil {
				return err
			}

			header := []string{"Node", "Kind", "Status", "Issues"}
			rows := make([][]string, 0, len(sorted))
			invalid := 0
			for _, n := range sorted {
				status := "ok"
				var issues []string
				if !n.Validate() {
					status = "error"
					invalid++
					issues = n.Issues().Errors()
				} else if warnings := n.Issues().Warnings(); len(warnings) > 0 {
					status = "warning"
					issues = warnings
				}
				rows = append(rows, []string{
					n.ID(), string(n.Kind()), status, strings.Join(issues, "; "),
				})
			}

			if err := cmdCtx.Renderer.Table(header, rows); err != nil {
				return err
			}
			if invalid > 0 {
				return fmt.Errorf("pipeline %s: %d of %d node(s) invalid", doc.Name, invalid, len(sorted))
			}
			cmdCtx.Renderer.Printf("pipeline %s: %d node(s) valid\n", doc.Name, len(sorted))
			return nil
		},
	}
	return cmd
}
