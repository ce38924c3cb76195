// Package review checks prompts against a set of regex rules and scores
// them. The default rule set is embedded from rules.yaml.
package review

import (
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// MaxPromptRunes is the longest prompt reviewed; the rest is cut off.
const MaxPromptRunes = 10_000

var ErrEmptyPrompt = errors.New("prompt is empty")

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityPenalty = map[Severity]int{
	SeverityInfo:     2,
	SeverityLow:      5,
	SeverityMedium:   10,
	SeverityHigh:     25,
	SeverityCritical: 40,
}

// Rule is one entry of the rules file.
type Rule struct {
	ID         string   `yaml:"id" validate:"required"`
	Category   string   `yaml:"category" validate:"required"`
	Severity   Severity `yaml:"severity" validate:"required,oneof=info low medium high critical"`
	Mode       string   `yaml:"mode" validate:"omitempty,oneof=mustMatch mustNotMatch"`
	Patterns   []string `yaml:"patterns" validate:"required,min=1"`
	Message    string   `yaml:"message" validate:"required"`
	Suggestion string   `yaml:"suggestion"`
}

type ruleFile struct {
	Version int    `yaml:"version"`
	Rules   []Rule `yaml:"rules" validate:"required,dive"`
}

// Issue is one rule hit.
type Issue struct {
	Rule       string   `json:"rule"`
	Category   string   `json:"category"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
	Line       int      `json:"line,omitempty"`
	Excerpt    string   `json:"excerpt,omitempty"`
}

// Result is the outcome of a review.
type Result struct {
	Score        int              `json:"score"`
	Issues       []Issue          `json:"issues"`
	Counts       map[Severity]int `json:"counts"`
	Truncated    bool             `json:"truncated"`
	Length       int              `json:"length"`
	RulesChecked int              `json:"rulesChecked"`
}

type compiledRule struct {
	Rule
	res []*regexp.Regexp
}

// Engine holds compiled rules. It is immutable and safe to share.
type Engine struct {
	rules []compiledRule
}

var (
	defaultEngine    *Engine
	defaultEngineErr error
	defaultOnce      sync.Once
)

// Default returns the engine built from the embedded rules.
func Default() (*Engine, error) {
	defaultOnce.Do(func() {
		defaultEngine, defaultEngineErr = NewEngine(defaultRulesYAML)
	})
	return defaultEngine, defaultEngineErr
}

// NewEngine parses and compiles a rules document.
func NewEngine(data []byte) (*Engine, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(f); err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}

	e := &Engine{}
	seen := map[string]bool{}
	for _, r := range f.Rules {
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		cr := compiledRule{Rule: r}
		for _, p := range r.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", r.ID, err)
			}
			cr.res = append(cr.res, re)
		}
		e.rules = append(e.rules, cr)
	}
	return e, nil
}

// Rules returns the loaded rules.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Rule
	}
	return out
}

// Review checks prompt. The score starts at 100 and loses a fixed penalty
// per issue according to its severity, never going below 0.
func (e *Engine) Review(prompt string) (*Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	res := &Result{
		Counts:       map[Severity]int{},
		Issues:       []Issue{},
		Length:       utf8.RuneCountInString(prompt),
		RulesChecked: len(e.rules),
	}
	if res.Length > MaxPromptRunes {
		prompt = string([]rune(prompt)[:MaxPromptRunes])
		res.Truncated = true
		res.add(Issue{
			Rule:     "prompt-truncated",
			Category: "size",
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("Prompt exceeds %d characters; only the beginning was reviewed", MaxPromptRunes),
		})
	}

	for _, r := range e.rules {
		if r.Mode == "mustMatch" {
			if !r.anyMatch(prompt) {
				res.add(Issue{Rule: r.ID, Category: r.Category, Severity: r.Severity, Message: r.Message, Suggestion: r.Suggestion})
			}
			continue
		}
		for _, re := range r.res {
			loc := re.FindStringIndex(prompt)
			if loc == nil {
				continue
			}
			res.add(Issue{
				Rule:       r.ID,
				Category:   r.Category,
				Severity:   r.Severity,
				Message:    r.Message,
				Suggestion: r.Suggestion,
				Line:       strings.Count(prompt[:loc[0]], "\n") + 1,
				Excerpt:    excerpt(prompt, loc[0], loc[1]),
			})
			// one issue per rule
			break
		}
	}

	res.Score = 100
	for _, is := range res.Issues {
		res.Score -= severityPenalty[is.Severity]
	}
	res.Score = max(res.Score, 0)
	return res, nil
}

func (r compiledRule) anyMatch(s string) bool {
	for _, re := range r.res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func (r *Result) add(is Issue) {
	r.Issues = append(r.Issues, is)
	r.Counts[is.Severity]++
}

// excerpt returns the matched line, clipped to 80 runes around the match.
func excerpt(s string, start, end int) string {
	lineStart := strings.LastIndexByte(s[:start], '\n') + 1
	lineEnd := len(s)
	if i := strings.IndexByte(s[end:], '\n'); i >= 0 {
		lineEnd = end + i
	}
	line := []rune(strings.TrimSpace(s[lineStart:lineEnd]))
	if len(line) <= 80 {
		return string(line)
	}
	offset := utf8.RuneCountInString(strings.TrimLeft(s[lineStart:start], " \t"))
	from := max(0, offset-20)
	to := min(len(line), from+80)
	return string(line[from:to]) + "…"
}
