package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const haltingPatrol = `name: patrol
root:
  type: sequencer
  children:
    - type: condition
      params: {expr: "!globals.halt"}
    - type: pass
`

func TestValidateDefinitionsWithConfig(t *testing.T) {
	dir := t.TempDir()
	defs := filepath.Join(dir, "defs")
	require.NoError(t, os.Mkdir(defs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(defs, "patrol.yaml"), []byte(haltingPatrol), 0o644))

	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := "agent_id: r1\ndefinitions_dir: " + defs + "\nglobals:\n  - {name: halt, type: bool, value: false}\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	names, err := validateDefinitions(cfgPath, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"patrol"}, names)
}

func TestValidateDefinitionsReportsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "patrol.yaml"), []byte(haltingPatrol), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: broken\nroot: {type: teleport}\n"), 0o644))

	names, err := validateDefinitions(filepath.Join(dir, "missing.yaml"), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teleport")
	assert.Equal(t, []string{"patrol"}, names)
}

func TestValidateDefinitionsNeedsDirectory(t *testing.T) {
	_, err := validateDefinitions(filepath.Join(t.TempDir(), "missing.yaml"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
