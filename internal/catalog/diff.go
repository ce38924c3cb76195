package catalog

import (
	"context"
	"encoding/json"
	"os"
)

// KnownEntry is what a client already holds.
type KnownEntry struct {
	ID         string `json:"id"`
	SourceHash string `json:"sourceHash"`
}

// DiffResult tells a client how to bring its copy up to date.
type DiffResult struct {
	UpToDate bool           `json:"upToDate"`
	Hash     string         `json:"hash"`
	Added    []*Instruction `json:"added,omitempty"`
	Updated  []*Instruction `json:"updated,omitempty"`
	Removed  []string       `json:"removed,omitempty"`
}

// Diff compares a client's view with snap. A matching clientHash short
// circuits to UpToDate.
func Diff(snap *Snapshot, clientHash string, known []KnownEntry) *DiffResult {
	res := &DiffResult{Hash: snap.Hash}
	if clientHash != "" && clientHash == snap.Hash {
		res.UpToDate = true
		return res
	}

	seen := make(map[string]string, len(known))
	for _, k := range known {
		seen[k.ID] = k.SourceHash
	}
	for _, in := range snap.Entries {
		h, ok := seen[in.ID]
		switch {
		case !ok:
			res.Added = append(res.Added, in)
		case h != in.SourceHash:
			res.Updated = append(res.Updated, in)
		}
	}
	for _, k := range known {
		if snap.Get(k.ID) == nil {
			res.Removed = append(res.Removed, k.ID)
		}
	}
	res.UpToDate = len(res.Added)+len(res.Updated)+len(res.Removed) == 0
	return res
}

// IntegrityIssue is one entry whose stored hash does not match its body.
type IntegrityIssue struct {
	ID       string `json:"id"`
	File     string `json:"file"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// IntegrityReport is the result of Verify.
type IntegrityReport struct {
	Checked    int              `json:"checked"`
	OK         bool             `json:"ok"`
	Mismatches []IntegrityIssue `json:"mismatches"`
	LoadErrors []LoadError      `json:"loadErrors"`
	Hash       string           `json:"hash"`
}

// Verify recomputes every body hash and compares it with the sourceHash
// stored on disk. stored maps id to the hash read from the file; entries
// missing from stored are checked against the in-memory value.
func Verify(snap *Snapshot, stored map[string]string) *IntegrityReport {
	rep := &IntegrityReport{
		Mismatches: []IntegrityIssue{},
		LoadErrors: append([]LoadError{}, snap.Errors...),
		Hash:       snap.Hash,
	}
	for _, in := range snap.Entries {
		rep.Checked++
		actual := SourceHash(in.Body)
		expected, ok := stored[in.ID]
		if !ok {
			expected = in.SourceHash
		}
		if expected != actual {
			rep.Mismatches = append(rep.Mismatches, IntegrityIssue{
				ID:       in.ID,
				File:     snap.Files[in.ID],
				Expected: expected,
				Actual:   actual,
			})
		}
	}
	rep.OK = len(rep.Mismatches) == 0 && len(rep.LoadErrors) == 0
	return rep
}

// Verify checks every loaded entry against the sourceHash in its file.
func (c *Catalog) Verify(ctx context.Context) (*IntegrityReport, error) {
	snap, err := c.EnsureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	stored := make(map[string]string, len(snap.Files))
	for id, path := range snap.Files {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var doc struct {
			SourceHash string `json:"sourceHash"`
		}
		if json.Unmarshal(data, &doc) == nil && doc.SourceHash != "" {
			stored[id] = doc.SourceHash
		}
	}
	return Verify(snap, stored), nil
}
