package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"mcpindex/internal/logging"
	"mcpindex/pkg/fileops"
)

// Dir is one directory of instruction files. The first Dir handed to a
// Loader is the primary one and the only one writes go to.
type Dir struct {
	Path     string `json:"path"`
	Source   string `json:"source"`
	ReadOnly bool   `json:"readOnly"`
}

// LoadError describes a file that could not be loaded.
type LoadError struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

func (e LoadError) Error() string {
	return e.File + ": " + e.Reason
}

// Snapshot is an immutable view of the catalog at one point in time.
// Callers must not modify the entries; use Clone first.
type Snapshot struct {
	Entries        []*Instruction          `json:"-"`
	ByID           map[string]*Instruction `json:"-"`
	Files          map[string]string       `json:"-"`
	Dirs           map[string]Dir          `json:"-"`
	Errors         []LoadError             `json:"errors"`
	Salvage        SalvageReport           `json:"salvage"`
	HashMismatches []string                `json:"hashMismatches,omitempty"`
	Hash           string                  `json:"hash"`
	GovernanceHash string                  `json:"governanceHash"`
	Signature      string                  `json:"signature"`
	LoadedAt       time.Time               `json:"loadedAt"`
}

// Count is the number of loaded entries.
func (s *Snapshot) Count() int {
	if s == nil {
		return 0
	}
	return len(s.Entries)
}

// Get returns the entry with id, or nil.
func (s *Snapshot) Get(id string) *Instruction {
	if s == nil {
		return nil
	}
	return s.ByID[id]
}

// Loader reads instruction directories into a Snapshot.
type Loader struct {
	Dirs        []Dir
	MaxFileSize int64
	Logger      *logging.AppLogger
	Now         func() time.Time
}

// Load reads every directory. Per-file problems end up in Snapshot.Errors;
// only context cancellation or an unreadable primary directory fail the
// whole load.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	logger := l.Logger
	if logger == nil {
		logger = logging.GetDefault()
	}

	sig, err := Signature(l.Dirs)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		ByID:      map[string]*Instruction{},
		Files:     map[string]string{},
		Dirs:      map[string]Dir{},
		Salvage:   SalvageReport{},
		Signature: sig,
		LoadedAt:  now().UTC(),
	}

	for i, d := range l.Dirs {
		files, err := listCandidates(d.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				logger.Debug("Instruction directory missing", "dir", d.Path)
				continue
			}
			if i == 0 {
				return nil, fmt.Errorf("load %s: %w", d.Path, err)
			}
			snap.Errors = append(snap.Errors, LoadError{File: d.Path, Reason: err.Error()})
			continue
		}

		for _, fi := range files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			path := filepath.Join(d.Path, fi.Path)
			in, rep, err := l.loadFile(path, fi.Size, now())
			if err != nil {
				snap.Errors = append(snap.Errors, LoadError{File: path, Reason: err.Error()})
				continue
			}
			if prev, dup := snap.Files[in.ID]; dup {
				snap.Errors = append(snap.Errors, LoadError{
					File:   path,
					Reason: fmt.Sprintf("duplicate id %q (already loaded from %s)", in.ID, prev),
				})
				continue
			}
			if rep["sourceHash"] > 0 {
				snap.HashMismatches = append(snap.HashMismatches, in.ID)
			}
			snap.Salvage.Merge(rep)
			in.Source = d.Source
			snap.Entries = append(snap.Entries, in)
			snap.ByID[in.ID] = in
			snap.Files[in.ID] = path
			snap.Dirs[in.ID] = d
		}
	}

	slices.SortFunc(snap.Entries, func(a, b *Instruction) int { return strings.Compare(a.ID, b.ID) })
	slices.Sort(snap.HashMismatches)
	snap.Hash = CatalogHash(snap.Entries)
	snap.GovernanceHash = GovernanceHash(snap.Entries)

	logger.Debug("Catalog loaded",
		"entries", len(snap.Entries),
		"errors", len(snap.Errors),
		"salvaged", snap.Salvage.Total())
	return snap, nil
}

func (l *Loader) loadFile(path string, size int64, now time.Time) (*Instruction, SalvageReport, error) {
	if l.MaxFileSize > 0 && size > l.MaxFileSize {
		return nil, nil, fmt.Errorf("file size %d exceeds limit %d", size, l.MaxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return Decode(data, filepath.Base(path), now)
}

// Decode parses, normalizes and validates one instruction document.
func Decode(data []byte, name string, now time.Time) (*Instruction, SalvageReport, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if raw == nil {
		return nil, nil, fmt.Errorf("document is not an object")
	}
	in, rep, err := Normalize(raw, name, now)
	if err != nil {
		return nil, rep, err
	}
	if err := Validate(in); err != nil {
		return nil, rep, err
	}
	return in, rep, nil
}

func listCandidates(dir string) ([]fileops.FileInfo, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	opts := &fileops.DirectoryScanOptions{
		SkipUnreadableDirs: true,
		MaxDepth:           1,
		FollowSymlinks:     true,
		FileFilter:         candidate,
	}
	scanner, err := fileops.NewDirectoryScanner(dir, opts)
	if err != nil {
		return nil, err
	}
	defer scanner.Close()
	return scanner.ScanDirectory()
}
