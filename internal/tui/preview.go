package tui

import (
	clist "container/list"
	"fmt"
	"os"
	"strings"
	"time"

	"mcpindex/internal/catalog"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/termenv"
)

// GlamourStyle returns GLAMOUR_STYLE when it names a concrete style, and
// otherwise asks the terminal for its background. Terminals that never
// answer get "dark" after timeout.
func GlamourStyle(timeout time.Duration) string {
	style := os.Getenv("GLAMOUR_STYLE")
	if style != "" && style != "auto" {
		return style
	}

	ch := make(chan string, 1)
	go func() {
		out := termenv.NewOutput(os.Stdout)
		if out.HasDarkBackground() {
			ch <- "dark"
			return
		}
		ch <- "light"
	}()

	select {
	case s := <-ch:
		return s
	case <-time.After(timeout):
		return "dark"
	}
}

// RenderMarkdown renders md for a terminal of the given width.
func RenderMarkdown(md string, width int, style string) (string, error) {
	if width <= 0 {
		width = 80
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("creating markdown renderer: %w", err)
	}
	return renderer.Render(md)
}

// PreviewMarkdown lays an instruction out as a markdown document: title,
// summary, a metadata table and the body.
func PreviewMarkdown(in *catalog.Instruction, width int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", in.Title)
	if in.SemanticSummary != "" {
		summary := in.SemanticSummary
		if width > 4 {
			summary = wordwrap.String(summary, width-4)
		}
		for line := range strings.SplitSeq(summary, "\n") {
			fmt.Fprintf(&b, "> %s\n", line)
		}
		b.WriteString("\n")
	}

	b.WriteString("| field | value |\n|---|---|\n")
	row := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, "| %s | %s |\n", k, strings.ReplaceAll(v, "|", `\|`))
		}
	}
	row("id", "`"+in.ID+"`")
	row("requirement", string(in.Requirement))
	row("priority", fmt.Sprintf("%d (%s)", in.Priority, in.PriorityTier))
	row("status", string(in.Status))
	row("version", in.Version)
	row("owner", in.Owner)
	row("categories", strings.Join(in.Categories, ", "))
	row("source", in.Source)
	if in.UsageCount > 0 {
		row("used", fmt.Sprintf("%d times", in.UsageCount))
	}
	if in.NextReviewDue != nil {
		row("next review", in.NextReviewDue.Format(time.DateOnly))
	}
	b.WriteString("\n")

	b.WriteString(in.Body)
	b.WriteString("\n")
	if in.Rationale != "" {
		fmt.Fprintf(&b, "\n## Rationale\n\n%s\n", in.Rationale)
	}
	return b.String()
}

type lruEntry struct {
	key     string
	content string
	size    int
}

// lruCache holds rendered previews, evicting least recently used entries
// once the byte cap is exceeded.
type lruCache struct {
	capacityBytes int
	currentBytes  int
	ll            *clist.List
	items         map[string]*clist.Element
}

func newLRU(capacity int) *lruCache {
	return &lruCache{
		capacityBytes: capacity,
		ll:            clist.New(),
		items:         make(map[string]*clist.Element),
	}
}

func (c *lruCache) Get(key string) (string, bool) {
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		return el.Value.(*lruEntry).content, true
	}
	return "", false
}

func (c *lruCache) Add(key, content string) {
	size := len(content)
	if size > c.capacityBytes {
		return
	}
	if el, ok := c.items[key]; ok {
		ent := el.Value.(*lruEntry)
		c.currentBytes += size - ent.size
		ent.content = content
		ent.size = size
		c.ll.MoveToFront(el)
	} else {
		c.items[key] = c.ll.PushFront(&lruEntry{key: key, content: content, size: size})
		c.currentBytes += size
	}
	for c.currentBytes > c.capacityBytes && c.ll.Len() > 0 {
		tail := c.ll.Back()
		ent := tail.Value.(*lruEntry)
		delete(c.items, ent.key)
		c.ll.Remove(tail)
		c.currentBytes -= ent.size
	}
}

func (c *lruCache) Clear() {
	c.ll.Init()
	c.items = make(map[string]*clist.Element)
	c.currentBytes = 0
}

func (c *lruCache) Len() int {
	return c.ll.Len()
}
