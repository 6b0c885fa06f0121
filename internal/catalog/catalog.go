// Package catalog maintains the table catalog consulted by table-scan
// nodes and join-target discovery. Tables come from YAML catalog packs,
// from a live adapter's information schema, or both.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tracekit-labs/querygraph/internal/adapter"
	"github.com/tracekit-labs/querygraph/internal/column"
	"github.com/tracekit-labs/querygraph/internal/node"
)

// Table is one catalog entry.
type Table struct {
	Name        string       `koanf:"name" json:"name"`
	Module      string       `koanf:"module" json:"module,omitempty"`
	Description string       `koanf:"description" json:"description,omitempty"`
	Columns     []ColumnSpec `koanf:"columns" json:"columns"`
}

// ColumnSpec is one declared column of a catalog table.
type ColumnSpec struct {
	Name        string `koanf:"name" json:"name"`
	Type        string `koanf:"type" json:"type"`
	Description string `koanf:"description" json:"description,omitempty"`
}

// pack is the YAML document shape of a catalog pack file.
type pack struct {
	Tables []Table `koanf:"tables"`
}

// Catalog indexes tables by name.
type Catalog struct {
	tables map[string]Table
	logger *slog.Logger
}

func New(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{tables: make(map[string]Table), logger: logger}
}

// LoadPack reads one YAML catalog pack. Later packs override earlier
// entries with the same table name.
func (c *Catalog) LoadPack(path string) error {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("load catalog pack %s: %w", path, err)
	}
	var p pack
	if err := k.Unmarshal("", &p); err != nil {
		return fmt.Errorf("parse catalog pack %s: %w", path, err)
	}
	for _, t := range p.Tables {
		if t.Name == "" {
			return fmt.Errorf("catalog pack %s: table without a name", path)
		}
		c.tables[t.Name] = t
	}
	c.logger.Debug("catalog pack loaded", "path", path, "tables", len(p.Tables))
	return nil
}

// LoadDir loads every .yaml/.yml pack in a directory, sorted by name.
func (c *Catalog) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read catalog dir %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := c.LoadPack(p); err != nil {
			return err
		}
	}
	return nil
}

// Introspect pulls every table visible through the adapter into the
// catalog, mapping engine types onto the catalog's type tags. Existing
// pack entries win over introspected ones.
func (c *Catalog) Introspect(ctx context.Context, a adapter.Adapter) error {
	names, err := a.Tables(ctx)
	if err != nil {
		return fmt.Errorf("introspect: %w", err)
	}
	for _, name := range names {
		if _, declared := c.tables[name]; declared {
			continue
		}
		meta, err := a.TableMetadata(ctx, name)
		if err != nil {
			c.logger.Warn("skipping table during introspection", "table", name, "error", err)
			continue
		}
		t := Table{Name: name}
		for _, col := range meta.Columns {
			t.Columns = append(t.Columns, ColumnSpec{Name: col.Name, Type: mapEngineType(col.Type)})
		}
		c.tables[name] = t
	}
	c.logger.Debug("catalog introspected", "dialect", a.DialectName(), "tables", len(names))
	return nil
}

// mapEngineType folds engine type names onto the pipeline's type tags.
func mapEngineType(engineType string) string {
	switch strings.ToLower(engineType) {
	case "tinyint", "smallint", "integer", "int", "int4":
		return column.TypeInt
	case "bigint", "int8", "hugeint", "ubigint":
		return column.TypeLong
	case "double", "real", "float", "float4", "float8", "decimal", "numeric", "double precision":
		return column.TypeDouble
	case "varchar", "text", "char", "string", "character varying":
		return column.TypeString
	case "boolean", "bool":
		return column.TypeBool
	case "timestamp", "timestamptz", "timestamp with time zone", "date":
		return column.TypeTimestamp
	case "interval":
		return column.TypeDuration
	default:
		return column.TypeUnknown
	}
}

// Lookup returns the named table.
func (c *Catalog) Lookup(name string) (Table, bool) {
	t, ok := c.tables[name]
	return t, ok
}

// Tables returns every catalog entry sorted by name.
func (c *Catalog) Tables() []Table {
	out := make([]Table, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Catalog) Len() int { return len(c.tables) }

// ColumnInfos returns the table's schema as node column infos, all checked.
func (t Table) ColumnInfos() []column.Info {
	out := make([]column.Info, 0, len(t.Columns))
	for _, spec := range t.Columns {
		typ := spec.Type
		if typ == "" {
			typ = column.TypeUnknown
		}
		c := column.New(spec.Name, typ)
		c.Source.Table = t.Name
		out = append(out, c)
	}
	return out
}

// NewTableNode builds a table-scan node for a catalog table.
func (c *Catalog) NewTableNode(gen node.IDGenerator, tableName string) (*node.TableNode, error) {
	t, ok := c.Lookup(tableName)
	if !ok {
		return nil, fmt.Errorf("table %q not in catalog", tableName)
	}
	return node.NewTable(gen, t.Name, t.Module, t.ColumnInfos()), nil
}
