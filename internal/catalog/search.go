package catalog

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

const (
	DefaultSearchLimit = 50
	MaxSearchLimit     = 500
)

// Filter narrows a listing. Zero fields match everything; Categories
// matches entries carrying any of them.
type Filter struct {
	Categories      []string     `json:"categories,omitempty"`
	Requirement     Requirement  `json:"requirement,omitempty"`
	Audience        Audience     `json:"audience,omitempty"`
	Status          Status       `json:"status,omitempty"`
	PriorityTier    PriorityTier `json:"priorityTier,omitempty"`
	ContentType     string       `json:"contentType,omitempty"`
	MinPriority     int          `json:"minPriority,omitempty"`
	MaxPriority     int          `json:"maxPriority,omitempty"`
	IncludeArchived bool         `json:"includeArchived,omitempty"`
}

// Match reports whether in passes every set criterion.
func (f Filter) Match(in *Instruction) bool {
	if !f.IncludeArchived && in.Archived() {
		return false
	}
	if len(f.Categories) > 0 && !slices.ContainsFunc(f.Categories, in.HasCategory) {
		return false
	}
	if f.Requirement != "" && in.Requirement != f.Requirement {
		return false
	}
	if f.Audience != "" && in.Audience != f.Audience {
		return false
	}
	if f.Status != "" && in.Status != f.Status {
		return false
	}
	if f.PriorityTier != "" && in.PriorityTier != f.PriorityTier {
		return false
	}
	if f.ContentType != "" && cmp.Or(in.ContentType, "instruction") != f.ContentType {
		return false
	}
	if f.MinPriority > 0 && in.Priority < f.MinPriority {
		return false
	}
	if f.MaxPriority > 0 && in.Priority > f.MaxPriority {
		return false
	}
	return true
}

type SearchMode string

const (
	ModeSubstring SearchMode = "substring"
	ModeRegex     SearchMode = "regex"
)

// Query is a keyword search. Text is split on whitespace and appended to
// Keywords.
type Query struct {
	Keywords      []string
	Text          string
	Mode          SearchMode
	Fields        []string
	Filter        Filter
	Limit         int
	CaseSensitive bool
}

// SearchHit is one scored result.
type SearchHit struct {
	Entry   *Instruction `json:"entry"`
	Score   int          `json:"score"`
	Matched []string     `json:"matched"`
}

// SearchResult is the outcome of Search.
type SearchResult struct {
	Hits      []SearchHit `json:"hits"`
	Total     int         `json:"total"`
	Truncated bool        `json:"truncated"`
	Keywords  []string    `json:"keywords"`
	Mode      SearchMode  `json:"mode"`
}

var fieldWeights = map[string]int{
	"title":      3,
	"id":         2,
	"categories": 2,
	"body":       1,
}

type matcher func(s string) bool

// Search scores entries of snap against q: each keyword adds 3 for a title
// match, 2 for id, 2 for a category and 1 for the body, plus 1 when every
// keyword matched somewhere. Results are ordered by score, then priority,
// then id.
func Search(snap *Snapshot, q Query) (*SearchResult, error) {
	keywords := slices.Clone(q.Keywords)
	keywords = append(keywords, strings.Fields(q.Text)...)
	keywords = slices.DeleteFunc(keywords, func(k string) bool { return strings.TrimSpace(k) == "" })
	if len(keywords) == 0 {
		return nil, fmt.Errorf("at least one keyword is required")
	}

	mode := q.Mode
	if mode == "" {
		mode = ModeSubstring
	}
	matchers, err := compileMatchers(keywords, mode, q.CaseSensitive)
	if err != nil {
		return nil, err
	}

	fields := q.Fields
	if len(fields) == 0 {
		fields = []string{"title", "id", "categories", "body"}
	}
	for _, f := range fields {
		if _, ok := fieldWeights[f]; !ok {
			return nil, fmt.Errorf("unknown search field %q", f)
		}
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	limit = min(limit, MaxSearchLimit)

	var hits []SearchHit
	for _, in := range snap.Entries {
		if !q.Filter.Match(in) {
			continue
		}
		score, matched := scoreEntry(in, keywords, matchers, fields)
		if score == 0 {
			continue
		}
		hits = append(hits, SearchHit{Entry: in, Score: score, Matched: matched})
	}

	slices.SortFunc(hits, func(a, b SearchHit) int {
		return cmp.Or(
			cmp.Compare(b.Score, a.Score),
			cmp.Compare(a.Entry.Priority, b.Entry.Priority),
			strings.Compare(a.Entry.ID, b.Entry.ID),
		)
	})

	res := &SearchResult{Total: len(hits), Keywords: keywords, Mode: mode}
	if len(hits) > limit {
		hits = hits[:limit]
		res.Truncated = true
	}
	res.Hits = hits
	if res.Hits == nil {
		res.Hits = []SearchHit{}
	}
	return res, nil
}

func compileMatchers(keywords []string, mode SearchMode, caseSensitive bool) ([]matcher, error) {
	out := make([]matcher, len(keywords))
	for i, kw := range keywords {
		switch mode {
		case ModeSubstring:
			needle := kw
			if !caseSensitive {
				needle = strings.ToLower(kw)
			}
			out[i] = func(s string) bool {
				if !caseSensitive {
					s = strings.ToLower(s)
				}
				return strings.Contains(s, needle)
			}
		case ModeRegex:
			expr := kw
			if !caseSensitive {
				expr = "(?i)" + expr
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("invalid regex %q: %w", kw, err)
			}
			out[i] = re.MatchString
		default:
			return nil, fmt.Errorf("unknown search mode %q", mode)
		}
	}
	return out, nil
}

func scoreEntry(in *Instruction, keywords []string, matchers []matcher, fields []string) (int, []string) {
	score := 0
	var matched []string
	for i, m := range matchers {
		hit := false
		for _, f := range fields {
			if fieldMatches(in, f, m) {
				score += fieldWeights[f]
				hit = true
			}
		}
		if hit {
			matched = append(matched, keywords[i])
		}
	}
	if len(matched) == len(keywords) && score > 0 {
		score++
	}
	return score, matched
}

func fieldMatches(in *Instruction, field string, m matcher) bool {
	switch field {
	case "title":
		return m(in.Title)
	case "id":
		return m(in.ID)
	case "categories":
		return slices.ContainsFunc(in.Categories, func(c string) bool { return m(c) })
	case "body":
		return m(in.Body)
	}
	return false
}
