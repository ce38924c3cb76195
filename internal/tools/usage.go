package tools

import (
	"context"
	"fmt"

	"mcpindex/internal/catalog"

	"github.com/mark3labs/mcp-go/mcp"
)

// UsageTrackTool handles usage_track.
type UsageTrackTool struct {
	catalog *catalog.Catalog
	usage   *catalog.UsageTracker
}

func NewUsageTrackTool(cat *catalog.Catalog, usage *catalog.UsageTracker) *UsageTrackTool {
	return &UsageTrackTool{catalog: cat, usage: usage}
}

func (t *UsageTrackTool) Definition() mcp.Tool {
	return mcp.NewTool("usage_track",
		mcp.WithDescription("Record that an instruction was used. Counts are flushed to disk in the background."),
		mcp.WithString("id", mcp.Required()),
		mcp.WithString("action", mcp.Description("What the entry was used for (default 'used')")),
	)
}

func (t *UsageTrackTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}
	if _, err := t.catalog.Get(ctx, id); err != nil {
		return errorResult(err), nil
	}
	rec := t.usage.Track(id, req.GetString("action", "used"))
	return jsonResult(catalog.HotEntry{ID: id, UsageRecord: rec})
}

// UsageHotsetTool handles usage_hotset.
type UsageHotsetTool struct {
	catalog *catalog.Catalog
	usage   *catalog.UsageTracker
}

func NewUsageHotsetTool(cat *catalog.Catalog, usage *catalog.UsageTracker) *UsageHotsetTool {
	return &UsageHotsetTool{catalog: cat, usage: usage}
}

func (t *UsageHotsetTool) Definition() mcp.Tool {
	return mcp.NewTool("usage_hotset",
		mcp.WithDescription("Most used instructions, by count then recency."),
		mcp.WithNumber("limit", mcp.Description("Number of entries (default 10)")),
	)
}

type hotItem struct {
	catalog.HotEntry
	Title   string `json:"title,omitempty"`
	Missing bool   `json:"missing,omitempty"`
}

func (t *UsageHotsetTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := t.catalog.EnsureLoaded(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	hot := t.usage.Hotset(intArg(req, "limit", 10))
	items := make([]hotItem, len(hot))
	for i, h := range hot {
		items[i] = hotItem{HotEntry: h}
		if in := snap.Get(h.ID); in != nil {
			items[i].Title = in.Title
		} else {
			items[i].Missing = true
		}
	}
	return jsonResult(map[string]any{"items": items, "count": len(items)})
}

// UsageFlushTool handles usage_flush.
type UsageFlushTool struct {
	usage *catalog.UsageTracker
}

func NewUsageFlushTool(usage *catalog.UsageTracker) *UsageFlushTool {
	return &UsageFlushTool{usage: usage}
}

func (t *UsageFlushTool) Definition() mcp.Tool {
	return mcp.NewTool("usage_flush",
		mcp.WithDescription("Write pending usage counts to disk now."),
	)
}

func (t *UsageFlushTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := t.usage.Flush(ctx); err != nil {
		return errorResult(fmt.Errorf("flush usage: %w", err)), nil
	}
	return jsonResult(map[string]any{"flushed": true, "flushes": t.usage.Flushes()})
}
