package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// SourceHash is the sha256 hex digest of an instruction body.
func SourceHash(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// GovernanceProjection is the subset of an entry that the governance hash
// covers. Usage counters never participate.
type GovernanceProjection struct {
	ID                    string `json:"id"`
	Title                 string `json:"title"`
	Version               string `json:"version"`
	Owner                 string `json:"owner"`
	PriorityTier          string `json:"priorityTier"`
	NextReviewDue         string `json:"nextReviewDue"`
	SemanticSummarySha256 string `json:"semanticSummarySha256"`
	ChangeLogLength       int    `json:"changeLogLength"`
}

// Project returns the governance projection of in.
func Project(in *Instruction) GovernanceProjection {
	p := GovernanceProjection{
		ID:                    in.ID,
		Title:                 in.Title,
		Version:               in.Version,
		Owner:                 in.Owner,
		PriorityTier:          string(in.PriorityTier),
		SemanticSummarySha256: SourceHash(in.SemanticSummary),
		ChangeLogLength:       len(in.ChangeLog),
	}
	if in.NextReviewDue != nil {
		p.NextReviewDue = in.NextReviewDue.UTC().Format(time.RFC3339)
	}
	return p
}

// GovernanceHash digests the governance projection of every entry, sorted by
// id, one JSON line per entry.
func GovernanceHash(entries []*Instruction) string {
	sorted := sortedByID(entries)
	lines := make([]string, 0, len(sorted))
	for _, in := range sorted {
		b, err := json.Marshal(Project(in))
		if err != nil {
			// struct of strings and ints
			panic(err)
		}
		lines = append(lines, string(b))
	}
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// CatalogHash digests id:sourceHash for every entry, sorted by id. Clients
// compare it to decide whether they need a diff.
func CatalogHash(entries []*Instruction) string {
	sorted := sortedByID(entries)
	h := sha256.New()
	for _, in := range sorted {
		h.Write([]byte(in.ID))
		h.Write([]byte{':'})
		h.Write([]byte(in.SourceHash))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sortedByID(entries []*Instruction) []*Instruction {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b *Instruction) int { return strings.Compare(a.ID, b.ID) })
	return sorted
}
