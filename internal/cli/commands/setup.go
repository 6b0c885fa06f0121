// Package commands implements the querygraph subcommands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tracekit-labs/querygraph/internal/catalog"
	"github.com/tracekit-labs/querygraph/internal/cli/output"
	"github.com/tracekit-labs/querygraph/internal/config"
	"github.com/tracekit-labs/querygraph/internal/engine"
	"github.com/tracekit-labs/querygraph/internal/graph"
	"github.com/tracekit-labs/querygraph/internal/node"
	"github.com/tracekit-labs/querygraph/internal/pipeline"
)

type configKey struct{}
type loggerKey struct{}
type rendererKey struct{}

// WithConfig stores the loaded config on the command context.
func WithConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// WithLogger stores the logger on the command context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// WithRenderer stores the renderer on the command context.
func WithRenderer(ctx context.Context, r *output.Renderer) context.Context {
	return context.WithValue(ctx, rendererKey{}, r)
}

// GetConfig retrieves the config from the command context, falling back to
// defaults so help paths never crash.
func GetConfig(ctx context.Context) *config.Config {
	if c, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return c
	}
	return &config.Config{
		PipelinesDir: config.DefaultPipelinesDir,
		CatalogDir:   config.DefaultCatalogDir,
		StatePath:    config.DefaultStateFile,
		OutputFormat: config.DefaultOutput,
		Target:       &config.TargetConfig{Type: "duckdb"},
	}
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// GetRenderer retrieves the renderer from the command context.
func GetRenderer(ctx context.Context) *output.Renderer {
	if r, ok := ctx.Value(rendererKey{}).(*output.Renderer); ok {
		return r
	}
	return output.NewRenderer(os.Stdout, os.Stderr, output.ModeAuto)
}

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Engine   *engine.Engine
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext with an engine. The returned
// cleanup must be called, typically via defer.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cfg := GetConfig(cmd.Context())
	logger := GetLogger(cmd.Context())

	eng, err := createEngine(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() { _ = eng.Close() }
	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Engine:   eng,
		Renderer: GetRenderer(cmd.Context()),
	}, cleanup, nil
}

// NewCommandContextWithoutEngine creates a CommandContext for commands that
// need no database or state access.
func NewCommandContextWithoutEngine(cmd *cobra.Command) *CommandContext {
	return &CommandContext{
		Cfg:      GetConfig(cmd.Context()),
		Logger:   GetLogger(cmd.Context()),
		Renderer: GetRenderer(cmd.Context()),
	}
}

func createEngine(cfg *config.Config, logger *slog.Logger) (*engine.Engine, error) {
	if dir := filepath.Dir(cfg.StatePath); dir != "." && dir != "" && cfg.StatePath != ":memory:" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	cat := catalog.New(logger)
	if cfg.CatalogDir != "" {
		if err := cat.LoadDir(cfg.CatalogDir); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load catalog: %w", err)
			}
			logger.Debug("catalog directory missing, continuing without packs", "dir", cfg.CatalogDir)
		}
	}

	return engine.New(engine.Config{
		Target:    cfg.Target.AdapterConfig(),
		StatePath: cfg.StatePath,
		Catalog:   cat,
		Logger:    logger,
	})
}

// loadPipeline reads a pipeline document and builds its node graph.
func loadPipeline(path string) (*pipeline.Document, *graph.Graph, error) {
	doc, err := pipeline.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load pipeline %s: %w", path, err)
	}
	g, err := pipeline.Build(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("build pipeline %s: %w", doc.Name, err)
	}
	return doc, g, nil
}

// selectNode picks the target node: the one named by id, or the single leaf
// when no id is given.
func selectNode(g *graph.Graph, id string) (node.Node, error) {
	if id != "" {
		n, ok := g.Get(id)
		if !ok {
			return nil, fmt.Errorf("node %q not found in pipeline", id)
		}
		return n, nil
	}
	leaves := g.Leaves()
	switch len(leaves) {
	case 0:
		return nil, fmt.Errorf("pipeline has no nodes")
	case 1:
		n, _ := g.Get(leaves[0])
		return n, nil
	default:
		return nil, fmt.Errorf("pipeline has %d leaf nodes, pick one with --node (%v)", len(leaves), leaves)
	}
}
