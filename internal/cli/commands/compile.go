package commands

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/tracekit-labs/querygraph/internal/sq"
)

// NewCompileCommand creates the compile command.
func NewCompileCommand() *cobra.Command {
	var (
		nodeID string
		format string
		watch  bool
	)

	cmd := &cobra.Command{
		Use:   "compile <pipeline.yaml>",
		Short: "Compile a pipeline node to SQL",
		Long: `Compile a pipeline document into SQL without executing it.

By default the pipeline's single leaf node is compiled; use --node to pick
another. With --format ir the resolved query fragments are printed as JSON
instead of SQL.`,
		Example: `  # Compile the leaf node
  querygraph compile pipelines/cpu.yaml

  # Compile one node and watch the file for changes
  querygraph compile pipelines/cpu.yaml --node n4 --watch

  # Dump the intermediate representation
  querygraph compile pipelines/cpu.yaml --format ir`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx := NewCommandContextWithoutEngine(cmd)
			if err := compileOnce(cmdCtx, args[0], nodeID, format); err != nil {
				if !watch {
					return err
				}
				cmdCtx.Renderer.Errorf("compile failed: %v\n", err)
			}
			if watch {
				return watchAndCompile(cmd, cmdCtx, args[0], nodeID, format)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&nodeID, "node", "", "node id to compile (default: the leaf node)")
	cmd.Flags().StringVar(&format, "format", "sql", "output format (sql|ir)")
	cmd.Flags().BoolVar(&watch, "watch", false, "recompile when the pipeline file changes")
	return cmd
}

func compileOnce(cmdCtx *CommandContext, path, nodeID, format string) error {
	eng, err := createEngine(cmdCtx.Cfg, cmdCtx.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	_, g, err := loadPipeline(path)
	if err != nil {
		return err
	}
	target, err := selectNode(g, nodeID)
	if err != nil {
		return err
	}

	compiled, err := eng.Compile(target)
	if err != nil {
		return err
	}
	for _, w := range compiled.Warnings {
		cmdCtx.Renderer.Errorf("warning: %s: %s\n", target.ID(), w)
	}

	switch format {
	case "ir":
		type irOutput struct {
			Root   *sq.StructuredQuery   `json:"root"`
			Shared []*sq.StructuredQuery `json:"shared,omitempty"`
		}
		enc := json.NewEncoder(cmdCtx.Renderer.Writer())
		enc.SetIndent("", "  ")
		return enc.Encode(irOutput{Root: compiled.Flat.Root, Shared: compiled.Flat.Shared})
	case "sql":
		for _, pre := range compiled.Preambles {
			cmdCtx.Renderer.Printf("%s;\n\n", pre)
		}
		cmdCtx.Renderer.Println(compiled.SQL)
		return nil
	default:
		return fmt.Errorf("unknown format %q (sql|ir)", format)
	}
}

// watchAndCompile recompiles on every write to the pipeline file until the
// command context is cancelled.
func watchAndCompile(cmd *cobra.Command, cmdCtx *CommandContext, path, nodeID, format string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory: editors replace files on save, which drops
	// watches registered on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target, err := filepath.Abs(path)
	if err != nil {
		target = path
	}
	cmdCtx.Logger.Info("watching pipeline", "path", path)

	var debounce *time.Timer
	recompile := func() {
		cmdCtx.Renderer.Errorf("--- %s recompiling %s\n", time.Now().Format(time.TimeOnly), path)
		if err := compileOnce(cmdCtx, path, nodeID, format); err != nil {
			cmdCtx.Renderer.Errorf("compile failed: %v\n", err)
		}
	}

	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || abs != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, recompile)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			cmdCtx.Logger.Warn("watcher error", "error", err)
		}
	}
}
