package fileops

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// DirectoryScanOptions configures a scan.
type DirectoryScanOptions struct {
	// SkipUnreadableDirs skips directories that cannot be opened instead of
	// failing the whole scan.
	SkipUnreadableDirs bool

	// MaxDepth limits recursion. 1 means the scan root only.
	MaxDepth int

	IncludeHidden bool

	// FollowSymlinks includes links whose final target is a regular file
	// inside the scan root. Other links are skipped.
	FollowSymlinks bool

	// SkipPatterns are directory base names never descended into.
	SkipPatterns []string

	// FileFilter selects files by base name. nil keeps everything.
	FileFilter func(name string) bool
}

// FileInfo describes one file found by a scan. Path is relative to the scan
// root and uses the host separator.
type FileInfo struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
	Mode    os.FileMode
}

// DefaultScanOptions skips VCS and dependency directories and stops at a
// depth of 10.
func DefaultScanOptions() *DirectoryScanOptions {
	return &DirectoryScanOptions{
		SkipUnreadableDirs: true,
		MaxDepth:           10,
		SkipPatterns:       []string{".git", "node_modules", "vendor", ".svn", ".hg"},
	}
}

// SecureDirectoryScanner walks a directory through an os.Root, so nothing
// outside the root is ever opened.
type SecureDirectoryScanner struct {
	root     *os.Root
	opts     *DirectoryScanOptions
	scanRoot string
}

func NewDirectoryScanner(scanPath string, opts *DirectoryScanOptions) (*SecureDirectoryScanner, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 1
	}

	abs, err := filepath.Abs(ExpandPath(scanPath))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve scan path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("cannot access scan path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan path is not a directory: %s", abs)
	}

	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("cannot open scan root: %w", err)
	}

	return &SecureDirectoryScanner{root: root, opts: opts, scanRoot: abs}, nil
}

// Close releases the underlying root.
func (s *SecureDirectoryScanner) Close() error {
	if s.root == nil {
		return nil
	}
	err := s.root.Close()
	s.root = nil
	return err
}

// ScanDirectory returns matching regular files sorted by relative path.
func (s *SecureDirectoryScanner) ScanDirectory() ([]FileInfo, error) {
	if s.root == nil {
		return nil, fmt.Errorf("scanner has been closed")
	}

	var results []FileInfo
	err := fs.WalkDir(s.root.FS(), ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && s.opts.SkipUnreadableDirs {
				return fs.SkipDir
			}
			if s.opts.SkipUnreadableDirs {
				return nil
			}
			return err
		}

		depth := 0
		if path != "." {
			depth = strings.Count(path, "/") + 1
		}

		if d.IsDir() {
			if path == "." {
				return nil
			}
			if depth >= s.opts.MaxDepth || s.skipDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}

		if !s.includeFile(d.Name()) {
			return nil
		}
		var info fs.FileInfo
		switch {
		case d.Type().IsRegular():
			info, err = d.Info()
		case s.opts.FollowSymlinks:
			info, err = s.linkTarget(path)
		default:
			return nil
		}
		if err != nil {
			if s.opts.SkipUnreadableDirs {
				return nil
			}
			return err
		}
		if info == nil {
			return nil
		}
		results = append(results, FileInfo{
			Name:    d.Name(),
			Path:    filepath.FromSlash(path),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Mode:    info.Mode(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("directory scan failed: %w", err)
	}

	slices.SortFunc(results, func(a, b FileInfo) int { return strings.Compare(a.Path, b.Path) })
	return results, nil
}

// linkTarget stats the final target of a symlink that resolves to a regular
// file inside the scan root. It returns nil info for anything else.
func (s *SecureDirectoryScanner) linkTarget(rel string) (fs.FileInfo, error) {
	abs := filepath.Join(s.scanRoot, filepath.FromSlash(rel))
	link, err := IsSymlink(abs)
	if err != nil || !link {
		return nil, err
	}
	if err := ValidateSymlinkSecurity(abs, []string{s.scanRoot}); err != nil {
		return nil, nil
	}
	target, err := ResolveSymlink(abs)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(target)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, nil
	}
	return info, nil
}

// Root returns the absolute scan root.
func (s *SecureDirectoryScanner) Root() string {
	return s.scanRoot
}

func (s *SecureDirectoryScanner) skipDir(name string) bool {
	if !s.opts.IncludeHidden && strings.HasPrefix(name, ".") {
		return true
	}
	return slices.Contains(s.opts.SkipPatterns, name)
}

func (s *SecureDirectoryScanner) includeFile(name string) bool {
	if !s.opts.IncludeHidden && strings.HasPrefix(name, ".") {
		return false
	}
	if s.opts.FileFilter != nil {
		return s.opts.FileFilter(name)
	}
	return true
}

// ScanWithFilter is a one-shot scan with default skip rules.
func ScanWithFilter(scanPath string, fileFilter func(string) bool, maxDepth int) ([]FileInfo, error) {
	opts := DefaultScanOptions()
	opts.FileFilter = fileFilter
	if maxDepth > 0 {
		opts.MaxDepth = maxDepth
	}

	scanner, err := NewDirectoryScanner(scanPath, opts)
	if err != nil {
		return nil, err
	}
	defer scanner.Close()

	return scanner.ScanDirectory()
}
