package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tracekit-labs/querygraph/internal/adapter"
	"github.com/tracekit-labs/querygraph/internal/catalog"
)

// NewCatalogCommand creates the catalog command.
func NewCatalogCommand() *cobra.Command {
	var introspect bool

	cmd := &cobra.Command{
		Use:   "catalog [table]",
		Short: "List catalog tables and columns",
		Long: `List the tables known to the catalog, or the columns of one table.

The catalog is loaded from the YAML packs in the catalog directory; with
--introspect the configured database target's schema is merged in as well
(pack entries win on conflict).`,
		Example: `  # List all tables
  querygraph catalog

  # Show one table's columns
  querygraph catalog slices.with_context

  # Merge in the live database schema
  querygraph catalog --introspect`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx := NewCommandContextWithoutEngine(cmd)

			cat := catalog.New(cmdCtx.Logger)
			if cmdCtx.Cfg.CatalogDir != "" {
				if err := cat.LoadDir(cmdCtx.Cfg.CatalogDir); err != nil {
					cmdCtx.Logger.Debug("no catalog packs loaded", "dir", cmdCtx.Cfg.CatalogDir, "error", err)
				}
			}

			if introspect {
				db, err := adapter.New(cmdCtx.Cfg.Target.AdapterConfig(), cmdCtx.Logger)
				if err != nil {
					return err
				}
				if err := db.Connect(cmd.Context(), cmdCtx.Cfg.Target.AdapterConfig()); err != nil {
					return fmt.Errorf("connect for introspection: %w", err)
				}
				defer func() { _ = db.Close() }()
				if err := cat.Introspect(cmd.Context(), db); err != nil {
					return fmt.Errorf("introspect schema: %w", err)
				}
			}

			if len(args) == 1 {
				return showTable(cmdCtx, cat, args[0])
			}
			return listTables(cmdCtx, cat)
		},
	}

	cmd.Flags().BoolVar(&introspect, "introspect", false, "merge in the live database schema")
	return cmd
}

func listTables(cmdCtx *CommandContext, cat *catalog.Catalog) error {
	header := []string{"Table", "Module", "Columns", "Description"}
	rows := make([][]string, 0, cat.Len())
	for _, t := range cat.Tables() {
		rows = append(rows, []string{t.Name, t.Module, strconv.Itoa(len(t.Columns)), t.Description})
	}
	return cmdCtx.Renderer.Table(header, rows)
}

func showTable(cmdCtx *CommandContext, cat *catalog.Catalog, name string) error {
	t, ok := cat.Lookup(name)
	if !ok {
		return fmt.Errorf("table %q not in catalog", name)
	}
	header := []string{"Column", "Type", "Description"}
	rows := make([][]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		rows = append(rows, []string{c.Name, c.Type, c.Description})
	}
	return cmdCtx.Renderer.Table(header, rows)
}
