package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordhub/internal/config"
)

func lint(t *testing.T, dir string) (string, error) {
	t.Helper()
	cmd := newSchemasCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"lint", dir})
	err := cmd.Execute()
	return out.String(), err
}

func TestSchemasLintBundled(t *testing.T) {
	out, err := lint(t, filepath.Join("..", "..", "schemas"))
	require.NoError(t, err)
	assert.Contains(t, out, "3 schemas OK")
}

func TestSchemasLintReportsProblems(t *testing.T) {
	dir := t.TempDir()
	bad := "entity_type: widget\nfields:\n  - name: title\n    field_type: colour\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "widget.yaml"), []byte(bad), 0o600))

	out, err := lint(t, dir)
	require.Error(t, err)
	assert.Contains(t, out, "widget:")
	assert.Contains(t, err.Error(), "1 of 1")
}

func TestApplyFlagsOnlyExplicit(t *testing.T) {
	cmd := newServeCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--port", "9999", "--storage", "SQLite"}))

	cfg := config.Default()
	cfg.LogLevel = "debug" // пришло из файла
	flags := config.Default()
	flags.Port = "9999"
	flags.Storage = "SQLite"
	applyFlags(cmd, &cfg, flags)

	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, config.StorageSQLite, cfg.Storage)
	assert.Equal(t, "debug", cfg.LogLevel)
}
