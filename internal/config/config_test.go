package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultPipelinesDir, cfg.PipelinesDir)
	assert.Equal(t, DefaultStateFile, cfg.StatePath)
	assert.Equal(t, DefaultOutput, cfg.OutputFormat)
	assert.Equal(t, "duckdb", cfg.Target.Type)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "querygraph.yaml")
	content := `
pipelines_dir: my-pipelines
target:
  type: postgres
  host: db.example.com
  database: traces
  user: analyst
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "my-pipelines", cfg.PipelinesDir)
	assert.Equal(t, "postgres", cfg.Target.Type)
	assert.Equal(t, 5432, cfg.Target.Port, "postgres port default applied")
	assert.Equal(t, DefaultCatalogDir, cfg.CatalogDir, "unset keys keep defaults")
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "querygraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte("verbose: false\n"), 0o644))
	t.Setenv("QUERYGRAPH_VERBOSE", "true")
	t.Setenv("QUERYGRAPH_STATE_PATH", "/tmp/qg.db")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, "/tmp/qg.db", cfg.StatePath)
}

func TestFlagsOverrideEverything(t *testing.T) {
	t.Setenv("QUERYGRAPH_OUTPUT", "json")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("output", DefaultOutput, "")
	flags.String("state", DefaultStateFile, "")
	require.NoError(t, flags.Parse([]string{"--output=table", "--state=/var/qg.db"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "table", cfg.OutputFormat)
	assert.Equal(t, "/var/qg.db", cfg.StatePath, "--state maps to state_path")
}

func TestUnchangedFlagsIgnored(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("output", "table", "")
	require.NoError(t, flags.Parse(nil))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, DefaultOutput, cfg.OutputFormat)
}

func TestTargetEnvVarExpansion(t *testing.T) {
	t.Setenv("QG_TEST_PASSWORD", "s3cret")

	path := filepath.Join(t.TempDir(), "querygraph.yaml")
	content := `
target:
  type: postgres
  host: localhost
  database: traces
  password: ${QG_TEST_PASSWORD}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Target.Password)
}

func TestUnknownTargetTypeFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "querygraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte("target:\n  type: oracle\n"), 0o644))

	_, err := Load(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown adapter")
}
