package fileops

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

var fastPolicy = RetryPolicy{Attempts: 4, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func TestAtomicWriteFile_CreatesAndReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "entry.json")
	ctx := context.Background()

	if err := AtomicWriteFile(ctx, path, []byte("first"), 0o644); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := AtomicWriteFile(ctx, path, []byte("second"), 0o644); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("expected content %q, got %q", "second", data)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the target file to remain, got %d entries", len(entries))
	}
}

func TestAtomicWriteFile_RetriesTransientRename(t *testing.T) {
	var calls atomic.Int32
	orig := renameFile
	renameFile = func(oldpath, newpath string) error {
		if calls.Add(1) < 3 {
			return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EBUSY}
		}
		return orig(oldpath, newpath)
	}
	t.Cleanup(func() { renameFile = orig })

	path := filepath.Join(t.TempDir(), "busy.json")
	if err := AtomicWriteFileWithPolicy(context.Background(), path, []byte("ok"), 0o644, fastPolicy); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 rename attempts, got %d", got)
	}
}

func TestAtomicWriteFile_GivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	orig := renameFile
	renameFile = func(oldpath, newpath string) error {
		calls.Add(1)
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EPERM}
	}
	t.Cleanup(func() { renameFile = orig })

	dir := t.TempDir()
	path := filepath.Join(dir, "locked.json")
	err := AtomicWriteFileWithPolicy(context.Background(), path, []byte("x"), 0o644, fastPolicy)
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if !errors.Is(err, syscall.EPERM) {
		t.Errorf("expected EPERM to be wrapped, got %v", err)
	}
	if got := calls.Load(); got != int32(fastPolicy.Attempts) {
		t.Errorf("expected %d attempts, got %d", fastPolicy.Attempts, got)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected temp files to be cleaned up, found %d entries", len(entries))
	}
}

func TestAtomicWriteFile_PermanentErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	orig := renameFile
	renameFile = func(oldpath, newpath string) error {
		calls.Add(1)
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.ENOSPC}
	}
	t.Cleanup(func() { renameFile = orig })

	path := filepath.Join(t.TempDir(), "full.json")
	if err := AtomicWriteFileWithPolicy(context.Background(), path, []byte("x"), 0o644, fastPolicy); err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected a single attempt for a permanent error, got %d", got)
	}
}

func TestAtomicWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	if err := AtomicWriteJSON(context.Background(), path, map[string]int{"a": 1}, 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	if !strings.HasSuffix(string(data), "}\n") {
		t.Errorf("expected trailing newline, got %q", data)
	}
	if !strings.Contains(string(data), "  \"a\": 1") {
		t.Errorf("expected two-space indentation, got %q", data)
	}
}

func TestAtomicCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	if err := os.WriteFile(src, []byte("payload"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := AtomicCopy(context.Background(), src, dst); err != nil {
		t.Fatalf("copy failed: %v", err)
	}
	data, _ := os.ReadFile(dst)
	if string(data) != "payload" {
		t.Errorf("expected copied content, got %q", data)
	}

	if err := AtomicCopy(context.Background(), filepath.Join(dir, "missing"), dst); err == nil {
		t.Error("expected error for missing source")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"busy", syscall.EBUSY, true},
		{"perm", &os.PathError{Op: "open", Path: "x", Err: syscall.EPERM}, true},
		{"access", syscall.EACCES, true},
		{"not exist", os.ErrNotExist, false},
		{"no space", syscall.ENOSPC, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
