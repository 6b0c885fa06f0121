// Package adapter provides database adapter interfaces and implementations
// for executing generated queries against an analytical engine.
package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Config holds the configuration for connecting to a query engine.
type Config struct {
	// Type selects the adapter ("duckdb", "postgres").
	Type string

	// Path is the database file for file-based engines; ":memory:" for an
	// in-memory database.
	Path string

	// Host/Port/Database/Username/Password configure network engines.
	Host     string
	Port     int
	Database string
	Username string
	Password string

	// Schema is the default schema to introspect.
	Schema string

	// Options carries driver-specific settings.
	Options map[string]string
}

// Column describes one column of an engine table.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Position int
}

// Metadata describes an engine table.
type Metadata struct {
	Schema   string
	Name     string
	Columns  []Column
	RowCount int64
}

// Rows wraps sql.Rows so callers stay adapter-agnostic.
type Rows struct {
	*sql.Rows
}

// Adapter is the engine contract: connection lifecycle, statement
// execution, and schema introspection for the catalog.
type Adapter interface {
	Connect(ctx context.Context, cfg Config) error
	Close() error

	// Exec runs a statement that returns no rows (preambles, DDL).
	Exec(ctx context.Context, sql string) error

	// Query runs a statement that returns rows. Callers own the returned
	// rows and must check rows.Err() after iterating.
	Query(ctx context.Context, sql string) (*Rows, error)

	// Tables lists the table names visible in the configured schema.
	Tables(ctx context.Context) ([]string, error)

	// TableMetadata introspects one table's columns.
	TableMetadata(ctx context.Context, table string) (*Metadata, error)

	// DialectName identifies the SQL dialect ("duckdb", "postgres").
	DialectName() string
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]func(*slog.Logger) Adapter)
)

// Register adds an adapter factory to the registry. Called by adapter
// implementations in their init() functions.
func Register(name string, factory func(*slog.Logger) Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New creates an adapter instance for the configured type. A nil logger
// falls back to slog.Default.
func New(cfg Config, logger *slog.Logger) (Adapter, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("adapter type not specified")
	}
	registryMu.RLock()
	factory, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, &UnknownAdapterError{Type: cfg.Type, Available: List()}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return factory(logger), nil
}

// List returns all registered adapter names, sorted.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownAdapterError is returned when an unregistered adapter type is
// requested.
type UnknownAdapterError struct {
	Type      string
	Available []string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("unknown adapter type %q (available: %v)", e.Type, e.Available)
}
