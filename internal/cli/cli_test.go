package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProject(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "scripts")
	files := map[string]string{
		"staging/users.sql": "SELECT 1 AS id",
		"core/users.sql":    "SELECT id FROM staging.users",
	}
	for name, sql := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(sql), 0o644))
	}
	return root
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestDagCommand(t *testing.T) {
	t.Setenv("LEA_SCRIPTS", writeProject(t))

	out, err := execute(t, "dag")
	require.NoError(t, err)
	assert.Contains(t, out, "staging.users")
	assert.Contains(t, out, "core.users")
	assert.Contains(t, out, "  <- staging.users")
}

func TestDagCommandSelect(t *testing.T) {
	t.Setenv("LEA_SCRIPTS", writeProject(t))

	out, err := execute(t, "dag", "--select", "staging/")
	require.NoError(t, err)
	assert.Contains(t, out, "staging.users")
	assert.NotContains(t, out, "core.users")
}

func TestDagCommandUnknownSelector(t *testing.T) {
	t.Setenv("LEA_SCRIPTS", writeProject(t))

	_, err := execute(t, "dag", "--select", "nope.nothing")
	require.Error(t, err)
}

func TestRunDryRun(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LEA_SCRIPTS", writeProject(t))
	t.Setenv("LEA_STATE", filepath.Join(dir, "state.db"))
	t.Setenv("LEA_WAREHOUSE_PATH", filepath.Join(dir, "wh.duckdb"))
	t.Setenv("LEA_USERNAME", "max")

	_, err := execute(t, "run", "--dry-run")
	require.NoError(t, err)
	// Nothing was created.
	_, statErr := os.Stat(filepath.Join(dir, "wh.duckdb"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "lea dev")
}
