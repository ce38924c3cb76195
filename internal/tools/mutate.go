package tools

import (
	"context"
	"fmt"
	"strings"

	"mcpindex/internal/catalog"
	"mcpindex/pkg/fileops"

	"github.com/mark3labs/mcp-go/mcp"
)

// AddTool handles instructions_add.
type AddTool struct {
	catalog *catalog.Catalog
}

func NewAddTool(cat *catalog.Catalog) *AddTool {
	return &AddTool{catalog: cat}
}

func (t *AddTool) Definition() mcp.Tool {
	return mcp.NewTool("instructions_add",
		mcp.WithDescription("Add an instruction, or replace one with overwrite=true. Loose input is normalized: "+
			"missing ids are derived from the title, priorities clamped, categories lower-cased. "+
			"Editing the body of an existing entry bumps its patch version."),
		mcp.WithObject("entry", mcp.Required(), mcp.Description("Instruction document (id, title, body, priority, categories, ...)")),
		mcp.WithBoolean("overwrite", mcp.Description("Replace an existing entry with the same id")),
	)
}

func (t *AddTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var raw map[string]any
	ok, err := objectArg(req, "entry", &raw)
	if err != nil {
		return errorResult(err), nil
	}
	if !ok || len(raw) == 0 {
		return mcp.NewToolResultError("'entry' is required"), nil
	}
	res, err := t.catalog.Add(ctx, raw, boolArg(req, "overwrite", false))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

// ImportTool handles instructions_import.
type ImportTool struct {
	catalog     *catalog.Catalog
	maxFileSize int64
}

func NewImportTool(cat *catalog.Catalog, maxFileSize int64) *ImportTool {
	return &ImportTool{catalog: cat, maxFileSize: maxFileSize}
}

func (t *ImportTool) Definition() mcp.Tool {
	return mcp.NewTool("instructions_import",
		mcp.WithDescription("Import many instructions, either from an 'entries' array or from a directory of "+
			"markdown files with YAML frontmatter ('source'). Existing ids are skipped unless mode=overwrite."),
		mcp.WithArray("entries", mcp.Items(map[string]any{"type": "object"})),
		mcp.WithString("source", mcp.Description("Directory of .md files to import")),
		mcp.WithString("mode", mcp.Enum("skip", "overwrite"), mcp.Description("Default skip")),
	)
}

type importReport struct {
	*catalog.ImportResult
	ParseErrors []catalog.LoadError `json:"parseErrors,omitempty"`
}

func (t *ImportTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mode := catalog.ImportMode(strings.ToLower(req.GetString("mode", string(catalog.ImportSkip))))
	if mode != catalog.ImportSkip && mode != catalog.ImportOverwrite {
		return mcp.NewToolResultError(fmt.Sprintf("unknown import mode %q", mode)), nil
	}

	var raws []map[string]any
	if _, err := objectArg(req, "entries", &raws); err != nil {
		return errorResult(err), nil
	}
	var parseErrs []catalog.LoadError
	if src := req.GetString("source", ""); src != "" {
		if err := fileops.ValidateStoragePath(src); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid source directory: %v", err)), nil
		}
		docs, errs, err := catalog.ReadMarkdownDir(fileops.ExpandPath(src), t.maxFileSize)
		if err != nil {
			return errorResult(err), nil
		}
		raws = append(raws, docs...)
		parseErrs = errs
	}
	if len(raws) == 0 && len(parseErrs) == 0 {
		return mcp.NewToolResultError("nothing to import: pass 'entries' or 'source'"), nil
	}

	res, err := t.catalog.Import(ctx, raws, mode)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(importReport{ImportResult: res, ParseErrors: parseErrs})
}

// RemoveTool handles instructions_remove.
type RemoveTool struct {
	catalog *catalog.Catalog
	usage   *catalog.UsageTracker
}

// NewRemoveTool creates a RemoveTool. usage may be nil; when set, usage of
// removed entries is dropped.
func NewRemoveTool(cat *catalog.Catalog, usage *catalog.UsageTracker) *RemoveTool {
	return &RemoveTool{catalog: cat, usage: usage}
}

func (t *RemoveTool) Definition() mcp.Tool {
	return mcp.NewTool("instructions_remove",
		mcp.WithDescription("Delete instructions by id. Entries from read-only sources are reported, not deleted."),
		mcp.WithArray("ids", mcp.Required(), mcp.WithStringItems()),
	)
}

func (t *RemoveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids := stringsArg(req, "ids")
	if len(ids) == 0 {
		return mcp.NewToolResultError("'ids' is required"), nil
	}
	res, err := t.catalog.Remove(ctx, ids)
	if err != nil {
		return errorResult(err), nil
	}
	if t.usage != nil && len(res.Removed) > 0 {
		snap := t.catalog.Snapshot()
		t.usage.Prune(func(id string) bool { return snap != nil && snap.Get(id) != nil })
	}
	return jsonResult(res)
}

// ReloadTool handles instructions_reload.
type ReloadTool struct {
	catalog *catalog.Catalog
}

func NewReloadTool(cat *catalog.Catalog) *ReloadTool {
	return &ReloadTool{catalog: cat}
}

func (t *ReloadTool) Definition() mcp.Tool {
	return mcp.NewTool("instructions_reload",
		mcp.WithDescription("Drop the cache and read every instruction directory again."),
	)
}

func (t *ReloadTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := t.catalog.Reload(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{
		"count":          snap.Count(),
		"hash":           snap.Hash,
		"governanceHash": snap.GovernanceHash,
		"errors":         nonNilSlice(snap.Errors),
		"reloads":        t.catalog.Reloads(),
	})
}

// GroomTool handles instructions_groom.
type GroomTool struct {
	catalog *catalog.Catalog
}

func NewGroomTool(cat *catalog.Catalog) *GroomTool {
	return &GroomTool{catalog: cat}
}

func (t *GroomTool) Definition() mcp.Tool {
	return mcp.NewTool("instructions_groom",
		mcp.WithDescription("Rewrite entries into canonical form, repair stale body hashes and deprecate "+
			"superseded entries. Use dryRun to see what would change."),
		mcp.WithBoolean("dryRun", mcp.Description("Report without writing (default false)")),
	)
}

func (t *GroomTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rep, err := t.catalog.Groom(ctx, boolArg(req, "dryRun", false))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(rep)
}
