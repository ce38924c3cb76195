package tools

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"mcpindex/internal/catalog"

	"github.com/mark3labs/mcp-go/mcp"
)

var dispatchActions = []string{"list", "get", "search", "categories", "diff", "export", "capabilities"}

// DispatchTool handles instructions_dispatch, the single read entry point
// to the catalog.
type DispatchTool struct {
	catalog  *catalog.Catalog
	usage    *catalog.UsageTracker
	mutation bool
}

// NewDispatchTool creates a DispatchTool. usage may be nil.
func NewDispatchTool(cat *catalog.Catalog, usage *catalog.UsageTracker) *DispatchTool {
	return &DispatchTool{catalog: cat, usage: usage, mutation: cat.MutationEnabled()}
}

func (t *DispatchTool) Definition() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription(
			"Read the instruction catalog. Actions: list (filters), get (id), search (q or keywords), " +
				"categories, diff (clientHash, known), export (ids, format) and capabilities.",
		),
		mcp.WithString("action", mcp.Required(), mcp.Enum(dispatchActions...)),
		mcp.WithString("id", mcp.Description("Entry id for get")),
		mcp.WithString("q", mcp.Description("Search text, split on whitespace")),
		mcp.WithArray("keywords", mcp.Description("Search keywords"), mcp.WithStringItems()),
		mcp.WithString("mode", mcp.Enum("substring", "regex"), mcp.Description("Search mode (default substring)")),
		mcp.WithArray("fields", mcp.Description("Fields to search: title, id, categories, body"), mcp.WithStringItems()),
		mcp.WithBoolean("caseSensitive", mcp.Description("Case sensitive search (default false)")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 50, max 500)")),
		mcp.WithBoolean("includeBody", mcp.Description("list: return full entries instead of summaries")),
		mcp.WithBoolean("track", mcp.Description("get/search: record usage for returned entries")),
		mcp.WithString("clientHash", mcp.Description("diff: catalog hash the client holds")),
		mcp.WithArray("known", mcp.Description("diff: entries the client holds as {id, sourceHash}"),
			mcp.Items(map[string]any{"type": "object"})),
		mcp.WithArray("ids", mcp.Description("export: ids to export (default all)"), mcp.WithStringItems()),
		mcp.WithString("format", mcp.Enum("json", "markdown"), mcp.Description("export format (default json)")),
	}
	return mcp.NewTool("instructions_dispatch", append(opts, filterOptions()...)...)
}

func (t *DispatchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action := strings.ToLower(req.GetString("action", ""))
	switch action {
	case "list":
		return t.list(ctx, req)
	case "get":
		return t.get(ctx, req)
	case "search":
		return t.search(ctx, req)
	case "categories":
		return t.categories(ctx)
	case "diff":
		return t.diff(ctx, req)
	case "export":
		return t.export(ctx, req)
	case "capabilities":
		return jsonResult(map[string]any{
			"actions":  dispatchActions,
			"mutation": t.mutation,
			"schema":   catalog.SchemaVersion,
		})
	case "":
		return mcp.NewToolResultError("'action' is required"), nil
	}
	return mcp.NewToolResultError(fmt.Sprintf("unknown action %q (want one of %s)", action, strings.Join(dispatchActions, ", "))), nil
}

func (t *DispatchTool) limit(req mcp.CallToolRequest) int {
	n := intArg(req, "limit", catalog.DefaultSearchLimit)
	if n < 1 {
		n = catalog.DefaultSearchLimit
	}
	return min(n, catalog.MaxSearchLimit)
}

func (t *DispatchTool) list(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := t.catalog.EnsureLoaded(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	filter := filterArg(req)
	limit := t.limit(req)
	full := boolArg(req, "includeBody", false)

	var (
		summaries []catalog.Summary
		entries   []*catalog.Instruction
		total     int
	)
	for _, in := range snap.Entries {
		if !filter.Match(in) {
			continue
		}
		total++
		if total > limit {
			continue
		}
		c := t.annotate(in.Clone())
		if full {
			entries = append(entries, c)
		} else {
			summaries = append(summaries, c.Summarize())
		}
	}

	out := map[string]any{
		"count":     min(total, limit),
		"total":     total,
		"truncated": total > limit,
		"hash":      snap.Hash,
	}
	if full {
		out["items"] = nonNilSlice(entries)
	} else {
		out["items"] = nonNilSlice(summaries)
	}
	return jsonResult(out)
}

func (t *DispatchTool) get(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required for get"), nil
	}
	in, err := t.catalog.Get(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	if t.usage != nil && boolArg(req, "track", false) {
		t.usage.Track(in.ID, "get")
	}
	return jsonResult(t.annotate(in))
}

func (t *DispatchTool) search(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := t.catalog.EnsureLoaded(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	q := catalog.Query{
		Keywords:      stringsArg(req, "keywords"),
		Text:          req.GetString("q", ""),
		Mode:          catalog.SearchMode(strings.ToLower(req.GetString("mode", ""))),
		Fields:        stringsArg(req, "fields"),
		Filter:        filterArg(req),
		Limit:         t.limit(req),
		CaseSensitive: boolArg(req, "caseSensitive", false),
	}
	res, err := catalog.Search(snap, q)
	if err != nil {
		return errorResult(err), nil
	}

	track := t.usage != nil && boolArg(req, "track", false)
	for i := range res.Hits {
		res.Hits[i].Entry = t.annotate(res.Hits[i].Entry.Clone())
		if track {
			t.usage.Track(res.Hits[i].Entry.ID, "search")
		}
	}
	return jsonResult(res)
}

type categoryCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func (t *DispatchTool) categories(ctx context.Context) (*mcp.CallToolResult, error) {
	counts, err := t.catalog.Categories(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	out := make([]categoryCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, categoryCount{Name: name, Count: n})
	}
	slices.SortFunc(out, func(a, b categoryCount) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(a.Name, b.Name)
	})
	return jsonResult(map[string]any{"categories": out, "count": len(out)})
}

func (t *DispatchTool) diff(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := t.catalog.EnsureLoaded(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	var known []catalog.KnownEntry
	if _, err := objectArg(req, "known", &known); err != nil {
		return errorResult(err), nil
	}
	return jsonResult(catalog.Diff(snap, req.GetString("clientHash", ""), known))
}

func (t *DispatchTool) export(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := t.catalog.EnsureLoaded(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	format := strings.ToLower(req.GetString("format", "json"))
	if format != "json" && format != "markdown" {
		return mcp.NewToolResultError(fmt.Sprintf("unknown export format %q", format)), nil
	}

	ids := stringsArg(req, "ids")
	var entries []*catalog.Instruction
	var missing []string
	if len(ids) == 0 {
		entries = snap.Entries
	} else {
		for _, id := range ids {
			if in := snap.Get(id); in != nil {
				entries = append(entries, in)
			} else {
				missing = append(missing, id)
			}
		}
	}

	out := map[string]any{"format": format, "count": len(entries), "hash": snap.Hash}
	if len(missing) > 0 {
		out["missing"] = missing
	}
	if format == "json" {
		out["entries"] = nonNilSlice(entries)
		return jsonResult(out)
	}

	docs := make(map[string]string, len(entries))
	for _, in := range entries {
		md, err := catalog.RenderMarkdown(in)
		if err != nil {
			return errorResult(fmt.Errorf("render %s: %w", in.ID, err)), nil
		}
		docs[in.ID+".md"] = string(md)
	}
	out["files"] = docs
	return jsonResult(out)
}

func (t *DispatchTool) annotate(in *catalog.Instruction) *catalog.Instruction {
	if t.usage == nil {
		return in
	}
	return t.usage.Annotate(in)
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
