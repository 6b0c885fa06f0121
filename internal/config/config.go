// Package config loads tool configuration from file, environment, and
// flags. It is decoupled from CLI concerns so the HTTP server and tests can
// load configuration the same way.
package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/tracekit-labs/querygraph/internal/adapter"
)

// Default configuration values.
const (
	DefaultPipelinesDir = "pipelines"
	DefaultCatalogDir   = "catalog"
	DefaultStateFile    = ".querygraph/state.db"
	DefaultOutput       = "auto" // auto-detect: TTY=table, non-TTY=markdown
	DefaultListenAddr   = ":8090"
)

// TargetConfig holds database target configuration.
type TargetConfig struct {
	Type string `koanf:"type"` // duckdb, postgres

	// Database is the file path for file-based engines or the database name
	// for network engines.
	Database string `koanf:"database"`

	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Schema   string `koanf:"schema"`

	// Options carries driver-specific settings.
	Options map[string]string `koanf:"options"`
}

// ApplyDefaults fills type-specific defaults.
func (t *TargetConfig) ApplyDefaults() {
	if t == nil {
		return
	}
	if t.Type == "" {
		t.Type = "duckdb"
	}
	if t.Type == "postgres" && t.Port == 0 {
		t.Port = 5432
	}
}

// Validate checks the target against the adapter registry.
func (t *TargetConfig) Validate() error {
	if t.Type == "" {
		return fmt.Errorf("target type is required")
	}
	for _, name := range adapter.List() {
		if name == t.Type {
			return nil
		}
	}
	return &adapter.UnknownAdapterError{Type: t.Type, Available: adapter.List()}
}

// AdapterConfig converts the target to an adapter connection config.
func (t *TargetConfig) AdapterConfig() adapter.Config {
	return adapter.Config{
		Type:     t.Type,
		Path:     t.Database,
		Host:     t.Host,
		Port:     t.Port,
		Database: t.Database,
		Username: t.User,
		Password: t.Password,
		Schema:   t.Schema,
		Options:  t.Options,
	}
}

// Config holds all tool configuration options.
type Config struct {
	PipelinesDir string        `koanf:"pipelines_dir"`
	CatalogDir   string        `koanf:"catalog_dir"`
	StatePath    string        `koanf:"state_path"`
	Verbose      bool          `koanf:"verbose"`
	OutputFormat string        `koanf:"output"`
	ListenAddr   string        `koanf:"listen"`
	Target       *TargetConfig `koanf:"target"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns with environment variable values,
// leaving unknown variables untouched.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val := os.Getenv(match[2 : len(match)-1]); val != "" {
			return val
		}
		return match
	})
}

// expandTargetEnvVars expands environment variables in sensitive target
// fields, letting credentials stay out of the config file.
func expandTargetEnvVars(t *TargetConfig) {
	if t == nil {
		return
	}
	t.User = expandEnvVars(t.User)
	t.Password = expandEnvVars(t.Password)
	t.Host = expandEnvVars(t.Host)
	t.Database = expandEnvVars(t.Database)
}
