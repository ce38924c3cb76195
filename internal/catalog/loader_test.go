package catalog

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_LoadsAndCollectsErrors(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, dir, "b.json", doc("b", "Bee", "second"))
	writeJSON(t, dir, "a.json", doc("a", "Ay", "first", "go"))
	writeJSON(t, dir, "_index.json", doc("skipped", "x", "x"))
	writeJSON(t, dir, ".hidden.json", doc("hidden", "x", "x"))
	writeJSON(t, dir, "bad.json", map[string]any{"id": "BAD ID!", "title": strings.Repeat("t", 300), "body": "b"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("# nope"), 0o644))

	l := &Loader{Dirs: []Dir{{Path: dir, Source: "main"}}, Now: func() time.Time { return fixedNow }}
	snap, err := l.Load(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, snap.Count())
	assert.Equal(t, "a", snap.Entries[0].ID)
	assert.Equal(t, "b", snap.Entries[1].ID)
	assert.Equal(t, "main", snap.Get("a").Source)
	assert.Equal(t, filepath.Join(dir, "a.json"), snap.Files["a"])

	require.Len(t, snap.Errors, 2)
	files := []string{filepath.Base(snap.Errors[0].File), filepath.Base(snap.Errors[1].File)}
	assert.ElementsMatch(t, []string{"bad.json", "broken.json"}, files)

	assert.Equal(t, CatalogHash(snap.Entries), snap.Hash)
	assert.Equal(t, GovernanceHash(snap.Entries), snap.GovernanceHash)
	assert.NotEmpty(t, snap.Signature)
}

func TestLoader_FirstDirectoryWins(t *testing.T) {
	primary, extra := t.TempDir(), t.TempDir()
	writeJSON(t, primary, "shared.json", doc("shared", "Primary", "p"))
	writeJSON(t, extra, "shared.json", doc("shared", "Extra", "e"))
	writeJSON(t, extra, "only.json", doc("only", "Only", "o"))

	l := &Loader{Dirs: []Dir{{Path: primary, Source: "primary"}, {Path: extra, Source: "extra", ReadOnly: true}}}
	snap, err := l.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Primary", snap.Get("shared").Title)
	assert.True(t, snap.Dirs["only"].ReadOnly)
	require.Len(t, snap.Errors, 1)
	assert.Contains(t, snap.Errors[0].Reason, "duplicate id")
}

func TestLoader_UnreadableSecondaryIsReported(t *testing.T) {
	primary := t.TempDir()
	writeJSON(t, primary, "a.json", doc("a", "A", "alpha"))
	notDir := filepath.Join(t.TempDir(), "source")
	require.NoError(t, os.WriteFile(notDir, []byte("x"), 0o644))

	sig, err := Signature([]Dir{{Path: primary}, {Path: notDir}})
	require.NoError(t, err)
	assert.NotEmpty(t, sig)

	l := &Loader{Dirs: []Dir{{Path: primary, Source: "primary"}, {Path: notDir, Source: "team", ReadOnly: true}}}
	snap, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Count())
	require.Len(t, snap.Errors, 1)
	assert.Equal(t, notDir, snap.Errors[0].File)
}

func TestLoader_SymlinksStayInsideDirectory(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	primary := t.TempDir()
	outside := t.TempDir()
	writeJSON(t, outside, "c.json", doc("c", "C", "gamma"))
	writeJSON(t, primary, ".d-target.json", doc("d", "D", "delta"))

	require.NoError(t, os.Symlink(filepath.Join(outside, "c.json"), filepath.Join(primary, "c.json")))
	before, err := Signature([]Dir{{Path: primary}})
	require.NoError(t, err)
	require.NoError(t, os.Symlink(".d-target.json", filepath.Join(primary, "d.json")))
	after, err := Signature([]Dir{{Path: primary}})
	require.NoError(t, err)
	assert.NotEqual(t, before, after, "a new link changes the signature")

	l := &Loader{Dirs: []Dir{{Path: primary}}}
	snap, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Errors)
	assert.NotNil(t, snap.Get("d"), "link to a file inside the directory is loaded")
	assert.Nil(t, snap.Get("c"), "link escaping the directory is skipped")
	assert.Equal(t, 1, snap.Count())
}

func TestLoader_MissingPrimaryIsEmpty(t *testing.T) {
	l := &Loader{Dirs: []Dir{{Path: filepath.Join(t.TempDir(), "nope")}}}
	snap, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.Count())
	assert.Empty(t, snap.Errors)
}

func TestLoader_SizeLimit(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, dir, "big.json", doc("big", "Big", strings.Repeat("x", 4096)))

	l := &Loader{Dirs: []Dir{{Path: dir}}, MaxFileSize: 1024}
	snap, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.Count())
	require.Len(t, snap.Errors, 1)
	assert.Contains(t, snap.Errors[0].Reason, "exceeds limit")
}

func TestLoader_RecordsHashMismatch(t *testing.T) {
	dir := t.TempDir()
	d := doc("h", "H", "body")
	d["sourceHash"] = strings.Repeat("0", 64)
	writeJSON(t, dir, "h.json", d)

	snap, err := (&Loader{Dirs: []Dir{{Path: dir}}}).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"h"}, snap.HashMismatches)
	assert.Equal(t, SourceHash("body"), snap.Get("h").SourceHash)
}

func TestSignature_ChangesWithFiles(t *testing.T) {
	dir := t.TempDir()
	dirs := []Dir{{Path: dir}}
	empty, err := Signature(dirs)
	require.NoError(t, err)

	writeJSON(t, dir, "a.json", doc("a", "A", "a"))
	one, err := Signature(dirs)
	require.NoError(t, err)
	assert.NotEqual(t, empty, one)

	again, err := Signature(dirs)
	require.NoError(t, err)
	assert.Equal(t, one, again)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	ignored, err := Signature(dirs)
	require.NoError(t, err)
	assert.Equal(t, one, ignored)

	require.NoError(t, os.WriteFile(filepath.Join(dir, VersionMarker), []byte(`{"seq":1}`), 0o644))
	marked, err := Signature(dirs)
	require.NoError(t, err)
	assert.NotEqual(t, one, marked)
}
