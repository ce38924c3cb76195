package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// Superseded names a deprecated-by-replacement pair found while grooming.
type Superseded struct {
	ID           string `json:"id"`
	SupersededBy string `json:"supersededBy"`
}

// GroomReport summarizes a groom pass. In a dry run the lists describe what
// would be rewritten.
type GroomReport struct {
	DryRun     bool         `json:"dryRun"`
	Scanned    int          `json:"scanned"`
	Repaired   []string     `json:"repaired"`
	Normalized []string     `json:"normalized"`
	Unchanged  int          `json:"unchanged"`
	Deprecated []Superseded `json:"deprecated"`
	Errors     []LoadError  `json:"errors,omitempty"`
}

// Changed reports whether the pass rewrote (or would rewrite) anything.
func (r *GroomReport) Changed() bool {
	return len(r.Repaired)+len(r.Normalized)+len(r.Deprecated) > 0
}

// Groom rewrites every primary-directory file whose canonical form differs
// from what is on disk. Files with a stale sourceHash count as repaired,
// other rewrites as normalized. Entries superseded by another entry are
// marked deprecated.
func (c *Catalog) Groom(ctx context.Context, dryRun bool) (*GroomReport, error) {
	if !dryRun {
		if err := c.checkMutation(); err != nil {
			return nil, err
		}
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	snap, err := c.Reload(ctx)
	if err != nil {
		return nil, err
	}

	rep := &GroomReport{
		DryRun:     dryRun,
		Repaired:   []string{},
		Normalized: []string{},
		Deprecated: []Superseded{},
		Errors:     slices.Clone(snap.Errors),
	}

	supersededBy := map[string]string{}
	for _, in := range snap.Entries {
		if in.Supersedes != "" && snap.Get(in.Supersedes) != nil {
			if _, taken := supersededBy[in.Supersedes]; !taken {
				supersededBy[in.Supersedes] = in.ID
			}
		}
	}

	var touched []string
	for _, in := range snap.Entries {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if snap.Dirs[in.ID].ReadOnly {
			continue
		}
		rep.Scanned++

		next := in.persistable()
		if by, ok := supersededBy[in.ID]; ok && next.Status != StatusDeprecated {
			next.Status = StatusDeprecated
			next.UpdatedAt = c.now()
			next.ChangeLog = append(next.ChangeLog, ChangeLogEntry{
				Version:   next.Version,
				ChangedAt: next.UpdatedAt,
				Summary:   "superseded by " + by,
			})
			rep.Deprecated = append(rep.Deprecated, Superseded{ID: in.ID, SupersededBy: by})
		}

		path := snap.Files[in.ID]
		canonical := filepath.Join(c.PrimaryDir(), FileName(in.ID))
		want, err := json.MarshalIndent(next, "", "  ")
		if err != nil {
			return rep, fmt.Errorf("encode %s: %w", in.ID, err)
		}
		want = append(want, '\n')
		have, err := os.ReadFile(path)
		if err != nil {
			rep.Errors = append(rep.Errors, LoadError{File: path, Reason: err.Error()})
			continue
		}
		if bytes.Equal(have, want) && path == canonical {
			rep.Unchanged++
			continue
		}

		if slices.Contains(snap.HashMismatches, in.ID) {
			rep.Repaired = append(rep.Repaired, in.ID)
		} else {
			rep.Normalized = append(rep.Normalized, in.ID)
		}
		if dryRun {
			continue
		}
		written, err := c.write(ctx, next)
		if err != nil {
			return rep, err
		}
		if path != written {
			c.removeLegacy(path)
		}
		touched = append(touched, in.ID)
	}

	if len(touched) > 0 {
		if err := c.committed(ctx, EventGroomed, touched); err != nil {
			return rep, err
		}
		c.logger.Info("Catalog groomed",
			"repaired", len(rep.Repaired),
			"normalized", len(rep.Normalized),
			"deprecated", len(rep.Deprecated))
	}
	return rep, nil
}
