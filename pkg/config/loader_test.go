package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_DefaultsOnlyWhenNoFileFound(t *testing.T) {
	cfg, err := NewLoader(WithConfigPaths(filepath.Join(t.TempDir(), "missing.yaml"))).Load()
	require.NoError(t, err)

	assert.Equal(t, "ionbridge", cfg.App.Name)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "async", cfg.Engine.ExecutionMode)
}

func TestLoader_YAMLFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
app:
  name: custom-ionbridge
store:
  driver: postgres
  host: db.internal
items:
  - name: inbound
    class_name: engine.hosts.service
    pool_size: 2
    enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := NewLoader(WithConfigPaths(path)).Load()
	require.NoError(t, err)

	assert.Equal(t, "custom-ionbridge", cfg.App.Name)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "db.internal", cfg.Store.Host)
	require.Len(t, cfg.Items, 1)
	assert.Equal(t, "inbound", cfg.Items[0].Name)
}

func TestLoader_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"app": {"name": "from-json"}, "store": {"driver": "memory"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := NewLoader(WithConfigPaths(path)).Load()
	require.NoError(t, err)
	assert.Equal(t, "from-json", cfg.App.Name)
}

func TestLoader_XMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.xml")
	content := `<ionbridge>
  <app><name>from-xml</name></app>
  <store><driver>postgres</driver></store>
</ionbridge>`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := NewLoader(WithConfigPaths(path)).Load()
	require.NoError(t, err)
	assert.Equal(t, "from-xml", cfg.App.Name)
	assert.Equal(t, "postgres", cfg.Store.Driver)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: memory\n"), 0o644))

	t.Setenv("IONBRIDGE_STORE_DRIVER", "postgres")

	cfg, err := NewLoader(WithConfigPaths(path)).Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
}

func TestLoader_ValidateRejectsDuplicateItemNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
items:
  - name: dup
    class_name: engine.hosts.service
    pool_size: 1
  - name: dup
    class_name: engine.hosts.service
    pool_size: 1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := NewLoader(WithConfigPaths(path)).Load()
	require.Error(t, err)
}

func TestLoader_ValidateRejectsMissingClassName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
items:
  - name: a
    pool_size: 1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := NewLoader(WithConfigPaths(path)).Load()
	require.Error(t, err)
}

func TestLoader_ValidateRejectsZeroPoolSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
items:
  - name: a
    class_name: engine.hosts.service
    pool_size: 0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := NewLoader(WithConfigPaths(path)).Load()
	require.Error(t, err)
}
