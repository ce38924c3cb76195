package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"mcpindex/internal/catalog"
	"mcpindex/internal/server"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	instructions string
	data         string
	configPath   string
}

func newEnv(t *testing.T) env {
	t.Helper()
	root := t.TempDir()
	e := env{
		instructions: filepath.Join(root, "instructions"),
		data:         filepath.Join(root, "data"),
		configPath:   filepath.Join(root, "config", "config.yaml"),
	}
	require.NoError(t, os.MkdirAll(e.instructions, 0o755))
	t.Setenv("MCPINDEX_CONFIG", e.configPath)
	t.Setenv("MCPINDEX_INSTRUCTIONS_DIR", e.instructions)
	t.Setenv("MCPINDEX_DATA_DIR", e.data)
	t.Setenv("MCPINDEX_LOG_FILE", filepath.Join(root, "mcpindex.log"))

	e.write(t, "alpha.json", map[string]any{
		"id": "alpha", "title": "Alpha rule", "body": "Prefer small interfaces.",
		"categories": []string{"go"}, "priority": 10,
	})
	e.write(t, "beta.json", map[string]any{
		"id": "beta", "title": "Beta rule", "body": "Beta-specific style guidance.",
		"categories": []string{"style"}, "priority": 40,
	})
	return e
}

func (e env) write(t *testing.T, name string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(e.instructions, name), data, 0o644))
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(bytes.NewReader(nil))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestList(t *testing.T) {
	newEnv(t)

	out, err := run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "Beta rule")

	out, err = run(t, "list", "--category", "style", "--json")
	require.NoError(t, err)
	var items []catalog.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "beta", items[0].ID)
}

func TestShowAndSearch(t *testing.T) {
	newEnv(t)

	out, err := run(t, "show", "alpha", "--raw")
	require.NoError(t, err)
	var in catalog.Instruction
	require.NoError(t, json.Unmarshal([]byte(out), &in))
	assert.Equal(t, "Alpha rule", in.Title)

	_, err = run(t, "show", "missing")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	out, err = run(t, "search", "beta-specific")
	require.NoError(t, err)
	assert.Contains(t, out, "beta")
	assert.NotContains(t, out, "alpha")

	out, err = run(t, "search", "nothing-matches-this")
	require.NoError(t, err)
	assert.Contains(t, out, "No matches.")

	_, err = run(t, "search", "--regex", "(")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	e := newEnv(t)

	out, err := run(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "2 instructions")

	require.NoError(t, os.WriteFile(filepath.Join(e.instructions, "broken.json"), []byte("{"), 0o644))
	out, err = run(t, "validate")
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(err))
	assert.Contains(t, out, "broken.json")
}

func TestImportAndExport(t *testing.T) {
	e := newEnv(t)

	src := filepath.Join(t.TempDir(), "batch.json")
	batch := []map[string]any{
		{"id": "gamma", "title": "Gamma", "body": "Imported body."},
		{"id": "alpha", "title": "Alpha replaced", "body": "Different."},
	}
	data, err := json.Marshal(batch)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(src, data, 0o644))

	out, err := run(t, "import", src)
	require.NoError(t, err)
	assert.Contains(t, out, "added 1")
	assert.Contains(t, out, "skipped 1")
	assert.FileExists(t, filepath.Join(e.instructions, catalog.FileName("gamma")))

	exportDir := filepath.Join(t.TempDir(), "export")
	out, err = run(t, "export", exportDir)
	require.NoError(t, err)
	assert.Contains(t, out, "exported 3")
	assert.FileExists(t, filepath.Join(exportDir, "gamma.md"))

	// markdown export imports back unchanged
	out, err = run(t, "import", exportDir)
	require.NoError(t, err)
	assert.Contains(t, out, "added 0")

	jsonDir := filepath.Join(t.TempDir(), "json")
	out, err = run(t, "export", jsonDir, "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, "exported 3")
	stored, err := os.ReadFile(filepath.Join(e.instructions, catalog.FileName("gamma")))
	require.NoError(t, err)
	exported, err := os.ReadFile(filepath.Join(jsonDir, catalog.FileName("gamma")))
	require.NoError(t, err)
	assert.Equal(t, stored, exported, "json export copies the stored document")

	_, err = run(t, "export", exportDir, "--format", "yaml")
	assert.ErrorContains(t, err, "unknown format")
}

func TestHash(t *testing.T) {
	newEnv(t)

	out, err := run(t, "hash", "--json")
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.EqualValues(t, 2, got["count"])
	assert.NotEmpty(t, got["hash"])
	assert.NotEmpty(t, got["governanceHash"])
}

func TestSyncWithoutSources(t *testing.T) {
	newEnv(t)

	out, err := run(t, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "No sources configured.")
}

func TestConfig(t *testing.T) {
	e := newEnv(t)

	out, err := run(t, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, e.configPath)

	out, err = run(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")
	assert.FileExists(t, e.configPath)

	_, err = run(t, "config", "init")
	assert.ErrorContains(t, err, "already exists")

	out, err = run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "instructions_dir: "+e.instructions)
}

func TestDirFlagOverridesConfig(t *testing.T) {
	newEnv(t)
	other := t.TempDir()

	out, err := run(t, "list", "--dir", other)
	require.NoError(t, err)
	assert.Contains(t, out, "No instructions.")
}

func TestAuthSetRejectsBadToken(t *testing.T) {
	newEnv(t)

	_, err := run(t, "auth", "set", "not-a-token")
	assert.ErrorContains(t, err, "too short")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, server.Name+" "+server.Version)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 3, exitCode(&exitError{code: 3, msg: "x"}))
	assert.Equal(t, 1, exitCode(assert.AnError))
}
