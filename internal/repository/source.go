package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mcpindex/internal/logging"
	"mcpindex/pkg/fileops"
)

// SourceType identifies how a source is materialised on disk.
type SourceType string

const (
	SourceTypeLocal  SourceType = "local"
	SourceTypeGitHub SourceType = "github"
)

// SourceEntry is one configured source as it appears in config.yaml.
type SourceEntry struct {
	Name      string     `yaml:"name" json:"name"`
	Type      SourceType `yaml:"type" json:"type"`
	Path      string     `yaml:"path,omitempty" json:"path,omitempty"`
	RemoteURL string     `yaml:"remote_url,omitempty" json:"remoteUrl,omitempty"`
	Branch    string     `yaml:"branch,omitempty" json:"branch,omitempty"`
	// Subdir restricts the catalog to a directory inside the source.
	Subdir string `yaml:"subdir,omitempty" json:"subdir,omitempty"`
}

// Validate checks the entry without touching the filesystem or network.
func (e SourceEntry) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("source name cannot be empty")
	}
	if _, err := fileops.SanitizeIdentifier(e.Name, 64); err != nil {
		return fmt.Errorf("invalid source name %q: %w", e.Name, err)
	}
	if e.Subdir != "" {
		if err := fileops.ValidatePathSecurity(e.Subdir); err != nil {
			return fmt.Errorf("invalid subdir: %w", err)
		}
		if filepath.IsAbs(e.Subdir) {
			return fmt.Errorf("subdir must be relative")
		}
	}

	switch e.Type {
	case SourceTypeLocal:
		if strings.TrimSpace(e.Path) == "" {
			return fmt.Errorf("local source %q requires a path", e.Name)
		}
	case SourceTypeGitHub:
		if _, err := ParseGitURL(e.RemoteURL); err != nil {
			return fmt.Errorf("github source %q: %w", e.Name, err)
		}
	default:
		return fmt.Errorf("unknown source type %q", e.Type)
	}
	return nil
}

// Source resolves to a local directory containing instruction files.
type Source interface {
	Prepare(ctx context.Context, logger *logging.AppLogger) (localPath string, err error)
}

// NewSource builds the Source for an entry. Git sources without an explicit
// path are cloned under clonesDir.
func NewSource(e SourceEntry, clonesDir string) (Source, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	switch e.Type {
	case SourceTypeGitHub:
		path := e.Path
		if path == "" {
			derived, err := DeriveClonePath(clonesDir, e.RemoteURL)
			if err != nil {
				return nil, err
			}
			path = derived
		}
		return NewGitSource(e.RemoteURL, e.Branch, path), nil
	default:
		return NewLocalSource(e.Path), nil
	}
}

// LocalSource is an existing directory used as-is.
type LocalSource struct {
	Path string
}

func NewLocalSource(path string) LocalSource {
	return LocalSource{Path: path}
}

// Prepare validates the directory and returns its absolute path.
func (ls LocalSource) Prepare(ctx context.Context, logger *logging.AppLogger) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if logger != nil {
		logger.Debug("Preparing local source", "path", ls.Path)
	}

	expanded := fileops.ExpandPath(strings.TrimSpace(ls.Path))
	if err := fileops.ValidatePathSecurity(expanded); err != nil {
		return "", fmt.Errorf("invalid local path: %w", err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("cannot resolve absolute path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("local source does not exist: %s", abs)
		}
		return "", fmt.Errorf("cannot access local source: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("local source is not a directory: %s", abs)
	}
	return abs, nil
}
