package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func normalized(t *testing.T, raw map[string]any) *Instruction {
	t.Helper()
	in, _, err := Normalize(raw, "", fixedNow)
	require.NoError(t, err)
	return in
}

func TestSourceHash(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", SourceHash(""))
	assert.Len(t, SourceHash("x"), 64)
}

func TestGovernanceHash_OrderIndependent(t *testing.T) {
	a := normalized(t, doc("a", "A", "alpha"))
	b := normalized(t, doc("b", "B", "beta"))

	assert.Equal(t, GovernanceHash([]*Instruction{a, b}), GovernanceHash([]*Instruction{b, a}))
}

func TestGovernanceHash_IgnoresUsageAndBody(t *testing.T) {
	a := normalized(t, doc("a", "A", "alpha"))
	before := GovernanceHash([]*Instruction{a})

	used := a.Clone()
	used.UsageCount = 99
	used.LastUsedAt = timePtr(fixedNow)
	used.Body = "changed body, same summary"
	assert.Equal(t, before, GovernanceHash([]*Instruction{used}))
}

func TestGovernanceHash_TracksGovernanceFields(t *testing.T) {
	a := normalized(t, doc("a", "A", "alpha"))
	before := GovernanceHash([]*Instruction{a})

	mutations := map[string]func(*Instruction){
		"owner":   func(in *Instruction) { in.Owner = "team-x" },
		"version": func(in *Instruction) { in.Version = "1.0.1" },
		"tier":    func(in *Instruction) { in.PriorityTier = TierP1 },
		"review":  func(in *Instruction) { in.NextReviewDue = timePtr(fixedNow.Add(time.Hour)) },
		"summary": func(in *Instruction) { in.SemanticSummary = "other" },
		"log":     func(in *Instruction) { in.ChangeLog = append(in.ChangeLog, ChangeLogEntry{Version: "1.0.1"}) },
		"title":   func(in *Instruction) { in.Title = "A2" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			c := a.Clone()
			mutate(c)
			assert.NotEqual(t, before, GovernanceHash([]*Instruction{c}))
		})
	}
}

func TestCatalogHash(t *testing.T) {
	a := normalized(t, doc("a", "A", "alpha"))
	b := normalized(t, doc("b", "B", "beta"))
	h := CatalogHash([]*Instruction{a, b})

	assert.Equal(t, h, CatalogHash([]*Instruction{b, a}))

	changed := b.Clone()
	changed.Body = "beta2"
	changed.SourceHash = SourceHash(changed.Body)
	assert.NotEqual(t, h, CatalogHash([]*Instruction{a, changed}))
	assert.NotEqual(t, h, CatalogHash([]*Instruction{a}))
}
