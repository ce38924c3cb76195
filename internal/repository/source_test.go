package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"mcpindex/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceEntry_Validate(t *testing.T) {
	tests := []struct {
		name    string
		entry   SourceEntry
		wantErr bool
	}{
		{"local ok", SourceEntry{Name: "team", Type: SourceTypeLocal, Path: "/tmp/team"}, false},
		{"github ok", SourceEntry{Name: "org", Type: SourceTypeGitHub, RemoteURL: "https://github.com/org/rules"}, false},
		{"ssh ok", SourceEntry{Name: "org", Type: SourceTypeGitHub, RemoteURL: "git@github.com:org/rules.git"}, false},
		{"missing name", SourceEntry{Type: SourceTypeLocal, Path: "/tmp"}, true},
		{"local no path", SourceEntry{Name: "x", Type: SourceTypeLocal}, true},
		{"bad url", SourceEntry{Name: "x", Type: SourceTypeGitHub, RemoteURL: "not a url"}, true},
		{"unknown type", SourceEntry{Name: "x", Type: "s3", Path: "/tmp"}, true},
		{"subdir traversal", SourceEntry{Name: "x", Type: SourceTypeLocal, Path: "/tmp", Subdir: "../etc"}, true},
		{"subdir abs", SourceEntry{Name: "x", Type: SourceTypeLocal, Path: "/tmp", Subdir: "/abs"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLocalSource_Prepare(t *testing.T) {
	logger, _ := logging.NewTestLogger()
	ctx := context.Background()
	dir := t.TempDir()

	got, err := NewLocalSource(dir).Prepare(ctx, logger)
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	_, err = NewLocalSource(filepath.Join(dir, "missing")).Prepare(ctx, logger)
	assert.ErrorContains(t, err, "does not exist")

	file := filepath.Join(dir, "file.json")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o644))
	_, err = NewLocalSource(file).Prepare(ctx, logger)
	assert.ErrorContains(t, err, "not a directory")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NewLocalSource(dir).Prepare(cancelled, logger)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewSource(t *testing.T) {
	clones := t.TempDir()

	src, err := NewSource(SourceEntry{Name: "org", Type: SourceTypeGitHub, RemoteURL: "https://github.com/Org/Rules.git"}, clones)
	require.NoError(t, err)
	gs, ok := src.(GitSource)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(clones, "org-rules"), gs.Path)

	src, err = NewSource(SourceEntry{Name: "local", Type: SourceTypeLocal, Path: clones}, clones)
	require.NoError(t, err)
	assert.IsType(t, LocalSource{}, src)

	_, err = NewSource(SourceEntry{Name: "", Type: SourceTypeLocal}, clones)
	assert.Error(t, err)
}

func TestPrepareAll_SkipsFailures(t *testing.T) {
	logger, buf := logging.NewTestLogger()
	good := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(good, "instructions"), 0o755))

	results := PrepareAll(context.Background(), []SourceEntry{
		{Name: "good", Type: SourceTypeLocal, Path: good, Subdir: "instructions"},
		{Name: "missing", Type: SourceTypeLocal, Path: filepath.Join(good, "nope")},
	}, t.TempDir(), logger)

	require.Len(t, results, 2)
	assert.True(t, results[0].OK())
	assert.Equal(t, filepath.Join(good, "instructions"), results[0].Path)
	assert.False(t, results[1].OK())
	assert.Contains(t, buf.String(), "Skipping instruction source")
}

func TestResolveOffline(t *testing.T) {
	clones := t.TempDir()
	local := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(local, "rules"), 0o755))

	cloned, err := DeriveClonePath(clones, "https://github.com/org/cloned")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(cloned, 0o755))

	res := ResolveOffline([]SourceEntry{
		{Name: "local", Type: SourceTypeLocal, Path: local, Subdir: "rules"},
		{Name: "cloned", Type: SourceTypeGitHub, RemoteURL: "https://github.com/org/cloned"},
		{Name: "fresh", Type: SourceTypeGitHub, RemoteURL: "https://github.com/org/fresh"},
	}, clones)
	require.Len(t, res, 3)

	assert.True(t, res[0].OK())
	assert.Equal(t, filepath.Join(local, "rules"), res[0].Path)
	assert.True(t, res[1].OK())
	assert.Equal(t, cloned, res[1].Path)
	assert.ErrorContains(t, res[2].Err, "not synced")
}
