package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"mcpindex/internal/catalog"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	CatalogResourceURI    = "instructions://catalog"
	entryResourcePrefix   = "instructions://entry/"
	EntryResourceTemplate = entryResourcePrefix + "{id}"
)

// Resources serves the catalog as MCP resources.
type Resources struct {
	catalog *catalog.Catalog
}

func NewResources(cat *catalog.Catalog) *Resources {
	return &Resources{catalog: cat}
}

func (r *Resources) CatalogResource() mcp.Resource {
	return mcp.NewResource(
		CatalogResourceURI,
		"Instruction catalog",
		mcp.WithResourceDescription("Summary of every instruction with the catalog hash"),
		mcp.WithMIMEType("application/json"),
	)
}

func (r *Resources) EntryTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		EntryResourceTemplate,
		"Instruction",
		mcp.WithTemplateDescription("One instruction document by id"),
		mcp.WithTemplateMIMEType("application/json"),
	)
}

func (r *Resources) HandleCatalog(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	snap, err := r.catalog.EnsureLoaded(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	items := make([]catalog.Summary, len(snap.Entries))
	for i, in := range snap.Entries {
		items[i] = in.Summarize()
	}
	return jsonContents(req.Params.URI, map[string]any{
		"count":          snap.Count(),
		"hash":           snap.Hash,
		"governanceHash": snap.GovernanceHash,
		"categories":     catalog.CountCategories(snap.Entries),
		"items":          items,
	})
}

func (r *Resources) HandleEntry(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id, ok := strings.CutPrefix(req.Params.URI, entryResourcePrefix)
	if !ok || id == "" {
		return nil, fmt.Errorf("unexpected resource uri %q", req.Params.URI)
	}
	in, err := r.catalog.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, in)
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(data)},
	}, nil
}
