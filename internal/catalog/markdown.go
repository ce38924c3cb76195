package catalog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mcpindex/pkg/fileops"

	"github.com/adrg/frontmatter"
	"gopkg.in/yaml.v3"
)

// MarkdownMeta is the YAML frontmatter of an instruction written as
// markdown.
type MarkdownMeta struct {
	ID          string   `yaml:"id,omitempty"`
	Title       string   `yaml:"title,omitempty"`
	Name        string   `yaml:"name,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Priority    int      `yaml:"priority,omitempty"`
	Audience    string   `yaml:"audience,omitempty"`
	Requirement string   `yaml:"requirement,omitempty"`
	Categories  []string `yaml:"categories,omitempty"`
	Owner       string   `yaml:"owner,omitempty"`
	Status      string   `yaml:"status,omitempty"`
	Version     string   `yaml:"version,omitempty"`
	ApplyTo     string   `yaml:"applyTo,omitempty"`
}

func (m MarkdownMeta) validate() error {
	for field, v := range map[string]string{
		"title":       m.Title,
		"name":        m.Name,
		"description": m.Description,
		"applyTo":     m.ApplyTo,
	} {
		if err := fileops.ValidateContentSecurity(v); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	if len(m.Description) > 500 {
		return fmt.Errorf("description too long (max 500 characters)")
	}
	if len(m.ApplyTo) > 200 {
		return fmt.Errorf("applyTo too long (max 200 characters)")
	}
	return nil
}

// ParseMarkdown turns a markdown document with optional YAML frontmatter
// into the raw form Normalize accepts. name is the file name; it supplies
// the id when the frontmatter has none.
func ParseMarkdown(name string, content []byte) (map[string]any, error) {
	var meta MarkdownMeta
	body, err := frontmatter.Parse(bytes.NewReader(content), &meta)
	if err != nil {
		return nil, fmt.Errorf("invalid frontmatter: %w", err)
	}
	if err := meta.validate(); err != nil {
		return nil, fmt.Errorf("invalid frontmatter: %w", err)
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return nil, fmt.Errorf("empty body")
	}

	id := meta.ID
	if id == "" {
		id = normalizeID(strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)))
	}
	raw := map[string]any{
		"id":   id,
		"body": text,
	}
	if t := strings.TrimSpace(meta.Title); t != "" {
		raw["title"] = t
	} else if meta.Name != "" {
		raw["title"] = strings.TrimSpace(meta.Name)
	}
	if meta.Description != "" {
		raw["semanticSummary"] = strings.TrimSpace(meta.Description)
	}
	if meta.Priority != 0 {
		raw["priority"] = float64(meta.Priority)
	}
	setIf(raw, "audience", meta.Audience)
	setIf(raw, "requirement", meta.Requirement)
	setIf(raw, "owner", meta.Owner)
	setIf(raw, "status", meta.Status)
	setIf(raw, "version", meta.Version)

	cats := make([]any, 0, len(meta.Categories)+1)
	for _, c := range meta.Categories {
		cats = append(cats, c)
	}
	if meta.ApplyTo != "" {
		if c := applyToCategory(meta.ApplyTo); c != "" {
			cats = append(cats, c)
		}
	}
	raw["categories"] = cats
	return raw, nil
}

func setIf(raw map[string]any, key, v string) {
	if v = strings.TrimSpace(v); v != "" {
		raw[key] = v
	}
}

// applyToCategory turns a glob such as "**/*.go" into "apply-to-go".
func applyToCategory(glob string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(glob) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
			continue
		}
		dash = true
	}
	if b.Len() == 0 {
		return ""
	}
	return normalizeCategory("apply-to-" + b.String())
}

// RenderMarkdown writes in as frontmatter plus body. ParseMarkdown reads
// the result back into an equivalent entry, minus applyTo which is folded
// into categories.
func RenderMarkdown(in *Instruction) ([]byte, error) {
	meta := MarkdownMeta{
		ID:          in.ID,
		Title:       in.Title,
		Description: in.SemanticSummary,
		Priority:    in.Priority,
		Audience:    string(in.Audience),
		Requirement: string(in.Requirement),
		Categories:  in.Categories,
		Owner:       in.Owner,
		Status:      string(in.Status),
		Version:     in.Version,
	}
	head, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode frontmatter: %w", err)
	}

	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(head)
	b.WriteString("---\n\n")
	b.WriteString(strings.TrimSpace(in.Body))
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// ReadMarkdownDir parses every *.md file under dir. Files that fail are
// reported and skipped.
func ReadMarkdownDir(dir string, maxFileSize int64) ([]map[string]any, []LoadError, error) {
	files, err := fileops.ScanWithFilter(dir, func(name string) bool {
		return strings.EqualFold(filepath.Ext(name), ".md")
	}, 0)
	if err != nil {
		return nil, nil, err
	}

	var raws []map[string]any
	var errs []LoadError
	for _, fi := range files {
		path := filepath.Join(dir, fi.Path)
		if maxFileSize > 0 {
			if err := fileops.ValidateFileSizeLimit(path, maxFileSize); err != nil {
				errs = append(errs, LoadError{File: path, Reason: err.Error()})
				continue
			}
		}
		content, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, LoadError{File: path, Reason: err.Error()})
			continue
		}
		raw, err := ParseMarkdown(fi.Name, content)
		if err != nil {
			errs = append(errs, LoadError{File: path, Reason: err.Error()})
			continue
		}
		raws = append(raws, raw)
	}
	return raws, errs, nil
}
