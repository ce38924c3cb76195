package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mcpindex/internal/catalog"

	"github.com/mark3labs/mcp-go/mcp"
)

// GovernanceHashTool handles instructions_governance_hash.
type GovernanceHashTool struct {
	catalog *catalog.Catalog
}

func NewGovernanceHashTool(cat *catalog.Catalog) *GovernanceHashTool {
	return &GovernanceHashTool{catalog: cat}
}

func (t *GovernanceHashTool) Definition() mcp.Tool {
	return mcp.NewTool("instructions_governance_hash",
		mcp.WithDescription("Hash of the governance fields (owner, version, tier, review dates) of every entry. "+
			"Changes only when governance changes, not when bodies are edited."),
		mcp.WithBoolean("includeItems", mcp.Description("Include the per-entry projection the hash is computed from")),
	)
}

func (t *GovernanceHashTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := t.catalog.EnsureLoaded(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	out := map[string]any{
		"governanceHash": snap.GovernanceHash,
		"count":          snap.Count(),
	}
	if boolArg(req, "includeItems", false) {
		items := make([]catalog.GovernanceProjection, 0, snap.Count())
		for _, in := range snap.Entries {
			items = append(items, catalog.Project(in))
		}
		out["items"] = items
	}
	return jsonResult(out)
}

// GovernanceUpdateTool handles instructions_governance_update.
type GovernanceUpdateTool struct {
	catalog *catalog.Catalog
}

func NewGovernanceUpdateTool(cat *catalog.Catalog) *GovernanceUpdateTool {
	return &GovernanceUpdateTool{catalog: cat}
}

func (t *GovernanceUpdateTool) Definition() mcp.Tool {
	return mcp.NewTool("instructions_governance_update",
		mcp.WithDescription("Update governance fields of one entry. The version is bumped (patch by default) "+
			"and the change is recorded in the entry's change log."),
		mcp.WithString("id", mcp.Required()),
		mcp.WithString("owner"),
		mcp.WithString("status", mcp.Enum("draft", "review", "approved", "deprecated")),
		mcp.WithString("classification", mcp.Enum("public", "internal", "restricted")),
		mcp.WithString("priorityTier", mcp.Enum("P1", "P2", "P3", "P4")),
		mcp.WithString("lastReviewedAt", mcp.Description("RFC 3339 time or YYYY-MM-DD")),
		mcp.WithString("nextReviewDue", mcp.Description("RFC 3339 time or YYYY-MM-DD")),
		mcp.WithString("bump", mcp.Enum("none", "patch", "minor", "major")),
		mcp.WithString("summary", mcp.Description("Change log summary")),
	)
}

func (t *GovernanceUpdateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}
	bump, err := catalog.ParseBump(req.GetString("bump", ""))
	if err != nil {
		return errorResult(err), nil
	}

	patch := catalog.GovernancePatch{Bump: bump, Summary: req.GetString("summary", "")}
	args := req.GetArguments()
	if v, ok := args["owner"].(string); ok {
		patch.Owner = &v
	}
	if v, ok := args["status"].(string); ok {
		s := catalog.Status(strings.ToLower(v))
		patch.Status = &s
	}
	if v, ok := args["classification"].(string); ok {
		c := catalog.Classification(strings.ToLower(v))
		patch.Classification = &c
	}
	if v, ok := args["priorityTier"].(string); ok {
		p := catalog.PriorityTier(strings.ToUpper(v))
		patch.PriorityTier = &p
	}
	for key, dst := range map[string]**time.Time{
		"lastReviewedAt": &patch.LastReviewedAt,
		"nextReviewDue":  &patch.NextReviewDue,
	} {
		v, ok := args[key].(string)
		if !ok || v == "" {
			continue
		}
		ts, err := parseDate(v)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("'%s': %v", key, err)), nil
		}
		*dst = &ts
	}

	in, err := t.catalog.UpdateGovernance(ctx, id, patch)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{
		"id":             in.ID,
		"version":        in.Version,
		"owner":          in.Owner,
		"status":         in.Status,
		"classification": in.Classification,
		"priorityTier":   in.PriorityTier,
		"lastReviewedAt": in.LastReviewedAt,
		"nextReviewDue":  in.NextReviewDue,
	})
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

// IntegrityVerifyTool handles integrity_verify.
type IntegrityVerifyTool struct {
	catalog *catalog.Catalog
}

func NewIntegrityVerifyTool(cat *catalog.Catalog) *IntegrityVerifyTool {
	return &IntegrityVerifyTool{catalog: cat}
}

func (t *IntegrityVerifyTool) Definition() mcp.Tool {
	return mcp.NewTool("integrity_verify",
		mcp.WithDescription("Recompute each entry's body hash and compare it with the hash stored on disk. "+
			"Also reports files that failed to load."),
	)
}

func (t *IntegrityVerifyTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rep, err := t.catalog.Verify(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(rep)
}

// GraphExportTool handles graph_export.
type GraphExportTool struct {
	catalog *catalog.Catalog
}

func NewGraphExportTool(cat *catalog.Catalog) *GraphExportTool {
	return &GraphExportTool{catalog: cat}
}

func (t *GraphExportTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_export",
		mcp.WithDescription("Export the catalog as a graph: entries sharing a category are linked, "+
			"and supersedes links point from the newer entry to the one it replaces."),
		mcp.WithString("format", mcp.Enum("json", "dot", "mermaid"), mcp.Description("Output format (default json)")),
		mcp.WithArray("edgeTypes", mcp.Description("Edge types to include: category, supersedes"), mcp.WithStringItems()),
		mcp.WithNumber("maxEdges", mcp.Description("Edge cap (default 1000)")),
		mcp.WithArray("categories", mcp.Description("Only entries with any of these categories"), mcp.WithStringItems()),
	)
}

func (t *GraphExportTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := t.catalog.EnsureLoaded(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	g, err := catalog.BuildGraph(snap, catalog.GraphOptions{
		IncludeEdgeTypes: stringsArg(req, "edgeTypes"),
		MaxEdges:         intArg(req, "maxEdges", 0),
		Categories:       stringsArg(req, "categories"),
	})
	if err != nil {
		return errorResult(err), nil
	}

	switch format := strings.ToLower(req.GetString("format", "json")); format {
	case "json":
		return jsonResult(g)
	case "dot":
		return mcp.NewToolResultText(g.DOT()), nil
	case "mermaid":
		return mcp.NewToolResultText(g.Mermaid()), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown graph format %q", format)), nil
	}
}
