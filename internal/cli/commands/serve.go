package commands

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tracekit-labs/querygraph/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the compile and catalog API over HTTP",
		Long: `Start the HTTP API. The server compiles and validates pipeline
documents posted as JSON and exposes the table catalog; it shuts down
gracefully on SIGINT/SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			addr := listen
			if addr == "" {
				addr = cmdCtx.Cfg.ListenAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := server.New(server.Config{
				Addr:    addr,
				Engine:  cmdCtx.Engine,
				Catalog: cmdCtx.Engine.Catalog(),
				Logger:  cmdCtx.Logger,
			})
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config, "+`":8090")`)
	return cmd
}
