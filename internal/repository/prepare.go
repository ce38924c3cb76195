package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"mcpindex/internal/logging"
	"mcpindex/pkg/fileops"
)

// Prepared is the outcome of preparing one source.
type Prepared struct {
	Entry SourceEntry
	Path  string // catalog directory, Subdir already applied
	Err   error
}

// OK reports whether the source is usable.
func (p Prepared) OK() bool {
	return p.Err == nil && p.Path != ""
}

// PrepareAll prepares every entry in order. A failing source is logged and
// reported but never stops the others.
func PrepareAll(ctx context.Context, entries []SourceEntry, clonesDir string, logger *logging.AppLogger) []Prepared {
	results := make([]Prepared, 0, len(entries))
	for _, e := range entries {
		res := Prepared{Entry: e}

		src, err := NewSource(e, clonesDir)
		if err != nil {
			res.Err = err
		} else if path, err := src.Prepare(ctx, logger); err != nil {
			res.Err = err
		} else {
			if e.Subdir != "" {
				path = filepath.Join(path, e.Subdir)
			}
			res.Path = path
		}

		if res.Err != nil && logger != nil {
			logger.Warn("Skipping instruction source", "name", e.Name, "error", res.Err)
		}
		results = append(results, res)
	}
	return results
}

// ResolveOffline maps entries to catalog directories without touching the
// network: local sources as configured, git sources only when a clone
// already exists. Used by commands that must not block on a fetch.
func ResolveOffline(entries []SourceEntry, clonesDir string) []Prepared {
	results := make([]Prepared, 0, len(entries))
	for _, e := range entries {
		res := Prepared{Entry: e}
		path, err := offlinePath(e, clonesDir)
		if err != nil {
			res.Err = err
		} else {
			if e.Subdir != "" {
				path = filepath.Join(path, e.Subdir)
			}
			res.Path = path
		}
		results = append(results, res)
	}
	return results
}

func offlinePath(e SourceEntry, clonesDir string) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	path := fileops.ExpandPath(e.Path)
	if e.Type == SourceTypeGitHub && e.Path == "" {
		derived, err := DeriveClonePath(clonesDir, e.RemoteURL)
		if err != nil {
			return "", err
		}
		path = derived
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) && e.Type == SourceTypeGitHub {
			return "", fmt.Errorf("source %q not synced yet", e.Name)
		}
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("source %q: %s is not a directory", e.Name, path)
	}
	return path, nil
}
