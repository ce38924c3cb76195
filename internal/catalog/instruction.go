package catalog

import (
	"errors"
	"slices"
	"time"
)

// SchemaVersion is stamped on every entry the catalog writes.
const SchemaVersion = "3"

// MaxBodyBytes caps an instruction body.
const MaxBodyBytes = 200_000

var (
	ErrNotFound         = errors.New("instruction not found")
	ErrExists           = errors.New("instruction already exists")
	ErrReadOnly         = errors.New("instruction belongs to a read-only source")
	ErrMutationDisabled = errors.New("mutation disabled")
)

type Audience string

const (
	AudienceIndividual Audience = "individual"
	AudienceGroup      Audience = "group"
	AudienceAll        Audience = "all"
)

type Requirement string

const (
	RequirementMandatory   Requirement = "mandatory"
	RequirementCritical    Requirement = "critical"
	RequirementRecommended Requirement = "recommended"
	RequirementOptional    Requirement = "optional"
	RequirementDeprecated  Requirement = "deprecated"
)

type Status string

const (
	StatusDraft      Status = "draft"
	StatusReview     Status = "review"
	StatusApproved   Status = "approved"
	StatusDeprecated Status = "deprecated"
)

type PriorityTier string

const (
	TierP1 PriorityTier = "P1"
	TierP2 PriorityTier = "P2"
	TierP3 PriorityTier = "P3"
	TierP4 PriorityTier = "P4"
)

type Classification string

const (
	ClassificationPublic     Classification = "public"
	ClassificationInternal   Classification = "internal"
	ClassificationRestricted Classification = "restricted"
)

// ChangeLogEntry records one version of an instruction.
type ChangeLogEntry struct {
	Version   string    `json:"version" validate:"semver"`
	ChangedAt time.Time `json:"changedAt"`
	Summary   string    `json:"summary" validate:"max=500"`
}

// Instruction is one catalog document. Fields tagged as runtime are filled
// in from the usage tracker and the loader and are never written to disk.
type Instruction struct {
	ID                 string           `json:"id" validate:"required,instructionid"`
	Title              string           `json:"title" validate:"required,max=200"`
	Body               string           `json:"body" validate:"required"`
	Rationale          string           `json:"rationale,omitempty" validate:"max=4000"`
	Priority           int              `json:"priority" validate:"min=1,max=100"`
	Audience           Audience         `json:"audience" validate:"oneof=individual group all"`
	Requirement        Requirement      `json:"requirement" validate:"oneof=mandatory critical recommended optional deprecated"`
	Categories         []string         `json:"categories" validate:"dive,category"`
	ContentType        string           `json:"contentType,omitempty" validate:"omitempty,oneof=instruction template chat-session reference example"`
	SourceHash         string           `json:"sourceHash" validate:"len=64,hexadecimal"`
	SchemaVersion      string           `json:"schemaVersion"`
	CreatedAt          time.Time        `json:"createdAt" validate:"required"`
	UpdatedAt          time.Time        `json:"updatedAt" validate:"required"`
	Version            string           `json:"version" validate:"semver"`
	Status             Status           `json:"status" validate:"oneof=draft review approved deprecated"`
	Owner              string           `json:"owner" validate:"required,max=120"`
	PriorityTier       PriorityTier     `json:"priorityTier" validate:"oneof=P1 P2 P3 P4"`
	Classification     Classification   `json:"classification" validate:"oneof=public internal restricted"`
	LastReviewedAt     *time.Time       `json:"lastReviewedAt,omitempty"`
	NextReviewDue      *time.Time       `json:"nextReviewDue,omitempty"`
	ReviewIntervalDays int              `json:"reviewIntervalDays,omitempty" validate:"min=0,max=3650"`
	ChangeLog          []ChangeLogEntry `json:"changeLog,omitempty" validate:"dive"`
	Supersedes         string           `json:"supersedes,omitempty" validate:"omitempty,instructionid"`
	ArchivedAt         *time.Time       `json:"archivedAt,omitempty"`
	SemanticSummary    string           `json:"semanticSummary,omitempty" validate:"max=400"`

	// runtime
	UsageCount  int64      `json:"usageCount,omitempty"`
	FirstSeenTs *time.Time `json:"firstSeenTs,omitempty"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
	Source      string     `json:"source,omitempty"`
}

// Clone returns a deep copy.
func (in *Instruction) Clone() *Instruction {
	if in == nil {
		return nil
	}
	out := *in
	out.Categories = slices.Clone(in.Categories)
	out.ChangeLog = slices.Clone(in.ChangeLog)
	out.LastReviewedAt = cloneTime(in.LastReviewedAt)
	out.NextReviewDue = cloneTime(in.NextReviewDue)
	out.ArchivedAt = cloneTime(in.ArchivedAt)
	out.FirstSeenTs = cloneTime(in.FirstSeenTs)
	out.LastUsedAt = cloneTime(in.LastUsedAt)
	return &out
}

// persistable strips runtime fields before the entry goes to disk.
func (in *Instruction) persistable() *Instruction {
	out := in.Clone()
	out.UsageCount = 0
	out.FirstSeenTs = nil
	out.LastUsedAt = nil
	out.Source = ""
	return out
}

// PrimaryCategory is the first category, or "uncategorized".
func (in *Instruction) PrimaryCategory() string {
	if len(in.Categories) == 0 {
		return "uncategorized"
	}
	return in.Categories[0]
}

// HasCategory reports whether in is tagged with category.
func (in *Instruction) HasCategory(category string) bool {
	return slices.Contains(in.Categories, category)
}

// Archived reports whether the entry has been archived.
func (in *Instruction) Archived() bool {
	return in.ArchivedAt != nil
}

// Summary is the listing view of an entry, without body or history.
type Summary struct {
	ID              string       `json:"id"`
	Title           string       `json:"title"`
	Priority        int          `json:"priority"`
	Requirement     Requirement  `json:"requirement"`
	Status          Status       `json:"status"`
	PriorityTier    PriorityTier `json:"priorityTier"`
	Categories      []string     `json:"categories"`
	Version         string       `json:"version"`
	SemanticSummary string       `json:"semanticSummary,omitempty"`
	Source          string       `json:"source,omitempty"`
	UsageCount      int64        `json:"usageCount,omitempty"`
}

func (in *Instruction) Summarize() Summary {
	return Summary{
		ID:              in.ID,
		Title:           in.Title,
		Priority:        in.Priority,
		Requirement:     in.Requirement,
		Status:          in.Status,
		PriorityTier:    in.PriorityTier,
		Categories:      slices.Clone(in.Categories),
		Version:         in.Version,
		SemanticSummary: in.SemanticSummary,
		Source:          in.Source,
		UsageCount:      in.UsageCount,
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// TierForPriority maps a 1..100 priority to a tier.
func TierForPriority(priority int) PriorityTier {
	switch {
	case priority <= 20:
		return TierP1
	case priority <= 40:
		return TierP2
	case priority <= 70:
		return TierP3
	default:
		return TierP4
	}
}

// ReviewIntervalForTier is the default number of days between reviews.
func ReviewIntervalForTier(tier PriorityTier) int {
	switch tier {
	case TierP1:
		return 30
	case TierP2:
		return 60
	case TierP3:
		return 90
	default:
		return 120
	}
}
