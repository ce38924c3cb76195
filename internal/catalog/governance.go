package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

type BumpKind string

const (
	BumpNone  BumpKind = "none"
	BumpPatch BumpKind = "patch"
	BumpMinor BumpKind = "minor"
	BumpMajor BumpKind = "major"
)

// ParseBump accepts "", none, patch, minor and major. Empty means patch.
func ParseBump(s string) (BumpKind, error) {
	switch b := BumpKind(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BumpPatch, nil
	case BumpNone, BumpPatch, BumpMinor, BumpMajor:
		return b, nil
	}
	return "", fmt.Errorf("unknown version bump %q", s)
}

// CompareVersions compares two MAJOR.MINOR.PATCH strings like semver.Compare.
func CompareVersions(a, b string) int {
	return semver.Compare("v"+a, "v"+b)
}

// BumpVersion increments v. Pre-release and build suffixes are dropped.
// An invalid v restarts at 1.0.0.
func BumpVersion(v string, kind BumpKind) string {
	if !ValidSemver(v) {
		return "1.0.0"
	}
	core := strings.TrimPrefix(semver.Canonical("v"+v), "v")
	core, _, _ = strings.Cut(core, "-")
	core, _, _ = strings.Cut(core, "+")
	parts := strings.Split(core, ".")
	n := make([]int, 3)
	for i := range n {
		n[i], _ = strconv.Atoi(parts[i])
	}
	switch kind {
	case BumpMajor:
		n[0], n[1], n[2] = n[0]+1, 0, 0
	case BumpMinor:
		n[1], n[2] = n[1]+1, 0
	case BumpPatch:
		n[2]++
	default:
		return v
	}
	return fmt.Sprintf("%d.%d.%d", n[0], n[1], n[2])
}

// GovernancePatch lists the governance fields to change. Nil fields are
// left alone.
type GovernancePatch struct {
	Owner          *string
	Status         *Status
	Classification *Classification
	PriorityTier   *PriorityTier
	LastReviewedAt *time.Time
	NextReviewDue  *time.Time
	Bump           BumpKind
	Summary        string
}

func (p GovernancePatch) empty() bool {
	return p.Owner == nil && p.Status == nil && p.Classification == nil &&
		p.PriorityTier == nil && p.LastReviewedAt == nil && p.NextReviewDue == nil
}

// UpdateGovernance applies patch to one entry, bumps its version and records
// the change in the change log.
func (c *Catalog) UpdateGovernance(ctx context.Context, id string, patch GovernancePatch) (*Instruction, error) {
	if err := c.checkMutation(); err != nil {
		return nil, err
	}
	if patch.empty() {
		return nil, fmt.Errorf("no governance fields to update")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	snap, err := c.EnsureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	existing := snap.Get(id)
	if existing == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if snap.Dirs[id].ReadOnly {
		return nil, fmt.Errorf("%w: %s (%s)", ErrReadOnly, id, existing.Source)
	}

	now := c.now()
	in := existing.Clone()
	var changed []string
	if patch.Owner != nil {
		in.Owner = strings.TrimSpace(*patch.Owner)
		changed = append(changed, "owner")
	}
	if patch.Status != nil {
		in.Status = *patch.Status
		changed = append(changed, "status")
	}
	if patch.Classification != nil {
		in.Classification = *patch.Classification
		changed = append(changed, "classification")
	}
	if patch.PriorityTier != nil {
		in.PriorityTier = *patch.PriorityTier
		in.ReviewIntervalDays = ReviewIntervalForTier(in.PriorityTier)
		changed = append(changed, "priorityTier")
	}
	if patch.LastReviewedAt != nil {
		in.LastReviewedAt = timePtr(patch.LastReviewedAt.UTC())
		changed = append(changed, "lastReviewedAt")
		if patch.NextReviewDue == nil {
			in.NextReviewDue = timePtr(in.LastReviewedAt.AddDate(0, 0, in.ReviewIntervalDays))
		}
	}
	if patch.NextReviewDue != nil {
		in.NextReviewDue = timePtr(patch.NextReviewDue.UTC())
		changed = append(changed, "nextReviewDue")
	}

	in.UpdatedAt = now
	if patch.Bump != BumpNone {
		bump := patch.Bump
		if bump == "" {
			bump = BumpPatch
		}
		in.Version = BumpVersion(existing.Version, bump)
	}
	summary := patch.Summary
	if summary == "" {
		summary = "governance: " + strings.Join(changed, ", ")
	}
	in.ChangeLog = append(in.ChangeLog, ChangeLogEntry{Version: in.Version, ChangedAt: now, Summary: truncateRunes(summary, 500)})

	if err := Validate(in); err != nil {
		return nil, err
	}
	path, err := c.write(ctx, in)
	if err != nil {
		return nil, err
	}
	if old := snap.Files[id]; old != path {
		c.removeLegacy(old)
	}
	if err := c.committed(ctx, EventUpdated, []string{id}); err != nil {
		return nil, err
	}
	return in, nil
}
