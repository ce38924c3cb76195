package fileops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how long an atomic write keeps retrying transient
// filesystem errors.
type RetryPolicy struct {
	Attempts        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is used by AtomicWriteFile and AtomicWriteJSON.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:        5,
	InitialInterval: 20 * time.Millisecond,
	MaxInterval:     500 * time.Millisecond,
}

// renameFile is swapped in tests to simulate a locked destination.
var renameFile = os.Rename

// IsTransient reports whether err is a filesystem error worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.EPERM) ||
		errors.Is(err, syscall.EACCES) ||
		errors.Is(err, syscall.ETXTBSY) ||
		platformTransient(err)
}

// AtomicWriteFile replaces path with data using DefaultRetryPolicy.
func AtomicWriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	return AtomicWriteFileWithPolicy(ctx, path, data, perm, DefaultRetryPolicy)
}

// AtomicWriteFileWithPolicy writes data to a temporary file next to path and
// renames it into place. Transient failures are retried according to policy;
// anything else fails on the first attempt. The temporary file never
// survives a failed call.
func AtomicWriteFileWithPolicy(ctx context.Context, path string, data []byte, perm os.FileMode, policy RetryPolicy) error {
	dir := filepath.Dir(path)
	if err := EnsureDirectoryExists(dir); err != nil {
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval

	attempts := policy.Attempts
	if attempts == 0 {
		attempts = 1
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := writeOnce(path, data, perm)
		if err == nil {
			return struct{}{}, nil
		}
		if IsTransient(err) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(attempts))
	if err != nil {
		return fmt.Errorf("atomic write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeOnce(path string, data []byte, perm os.FileMode) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Chmod(perm); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return renameFile(tmpPath, path)
}

// AtomicWriteJSON marshals v with two-space indentation and a trailing
// newline, then writes it atomically.
func AtomicWriteJSON(ctx context.Context, path string, v any, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	return AtomicWriteFile(ctx, path, data, perm)
}

// AtomicCopy copies srcPath over destPath atomically.
func AtomicCopy(ctx context.Context, srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source file: %w", err)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("failed to read source file: %w", err)
	}
	return AtomicWriteFile(ctx, destPath, data, info.Mode().Perm())
}

// EnsureDirectoryExists is mkdir -p with 0755.
func EnsureDirectoryExists(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}
