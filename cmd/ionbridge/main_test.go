package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCommand_DefaultsOnlySucceeds(t *testing.T) {
	err := validateCommand([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	require.NoError(t, err)
}

func TestValidateCommand_ValidFileSucceeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  name: test-app
items:
  - name: router
    class_name: engine.hosts.process
    pool_size: 1
    enabled: true
`), 0o644))

	err := validateCommand([]string{"--config", path})
	require.NoError(t, err)
}

func TestValidateCommand_DuplicateItemNamesFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
items:
  - name: router
    class_name: engine.hosts.process
    pool_size: 1
  - name: router
    class_name: engine.hosts.process
    pool_size: 1
`), 0o644))

	err := validateCommand([]string{"--config", path})
	require.Error(t, err)
	ce, ok := err.(*cliError)
	require.True(t, ok)
	assert.Equal(t, exitInvalidConfig, ce.code)
}

func TestValidateCommand_BadFlagFails(t *testing.T) {
	err := validateCommand([]string{"--not-a-flag"})
	require.Error(t, err)
	ce, ok := err.(*cliError)
	require.True(t, ok)
	assert.Equal(t, exitInvalidConfig, ce.code)
}

func TestInitCommand_WritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.yaml")
	require.NoError(t, initCommand([]string{"--output", path}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sampleConfig, string(data))
}

func TestInitCommand_WrittenSampleConfigIsValid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.yaml")
	require.NoError(t, initCommand([]string{"--output", path}))

	err := validateCommand([]string{"--config", path})
	require.NoError(t, err)
}

func TestCliError_ErrorReturnsUnderlyingMessage(t *testing.T) {
	ce := configError(assert.AnError)
	assert.Equal(t, assert.AnError.Error(), ce.Error())
}
