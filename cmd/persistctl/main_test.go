package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeUnit(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	doc := `
name: scratch
dialect: sqlite
data-source: "file:` + filepath.Join(dir, "scratch.db") + `"
named-queries:
  - name: constants
    query: "SELECT 1 AS one, 'owls' AS name"
  - name: echo
    query: "SELECT ? AS value"
`
	path := filepath.Join(dir, "unit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidate(t *testing.T) {
	path := writeUnit(t)
	out, err := run(t, "validate", "-u", path)
	require.NoError(t, err)
	assert.Contains(t, out, "unit scratch: sqlite")
	assert.Contains(t, out, "2 named queries")

	_, err = run(t, "validate", "-u", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestQueries(t *testing.T) {
	out, err := run(t, "queries", "-u", writeUnit(t))
	require.NoError(t, err)
	assert.Contains(t, out, "constants\tSELECT 1 AS one")
	assert.Contains(t, out, "echo\tSELECT ? AS value")
}

func TestPing(t *testing.T) {
	out, err := run(t, "ping", "-u", writeUnit(t))
	require.NoError(t, err)
	assert.Contains(t, out, "ok (")
}

func TestQuery(t *testing.T) {
	path := writeUnit(t)
	out, err := run(t, "query", "constants", "-u", path, "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "one")
	assert.Contains(t, out, "owls")
	assert.Contains(t, out, "(1 rows)")

	out, err = run(t, "query", "echo", "hello", "-u", path, "--format", "json")
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "hello", rows[0]["value"])

	_, err = run(t, "query", "missing", "-u", path, "--format", "text")
	assert.Error(t, err)
	_, err = run(t, "query", "constants", "-u", path, "--format", "xml")
	assert.ErrorContains(t, err, "invalid format")
}
