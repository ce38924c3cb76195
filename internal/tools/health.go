package tools

import (
	"context"
	"runtime"
	"time"

	"mcpindex/internal/catalog"
	"mcpindex/internal/metrics"

	"github.com/mark3labs/mcp-go/mcp"
)

// MetricsSnapshotTool handles metrics_snapshot.
type MetricsSnapshotTool struct {
	metrics *metrics.Recorder
}

func NewMetricsSnapshotTool(rec *metrics.Recorder) *MetricsSnapshotTool {
	return &MetricsSnapshotTool{metrics: rec}
}

func (t *MetricsSnapshotTool) Definition() mcp.Tool {
	return mcp.NewTool("metrics_snapshot",
		mcp.WithDescription("Per-tool call counts, error counts and latencies since the server started."),
	)
}

func (t *MetricsSnapshotTool) Handle(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(t.metrics.Snapshot())
}

// HealthCheckTool handles health_check.
type HealthCheckTool struct {
	catalog *catalog.Catalog
	started time.Time
	version string
}

func NewHealthCheckTool(cat *catalog.Catalog, version string) *HealthCheckTool {
	return &HealthCheckTool{catalog: cat, started: time.Now(), version: version}
}

func (t *HealthCheckTool) Definition() mcp.Tool {
	return mcp.NewTool("health_check",
		mcp.WithDescription("Server status: ok, or degraded when the catalog failed to load or has files with errors."),
	)
}

func (t *HealthCheckTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	out := map[string]any{
		"status":     "ok",
		"version":    t.version,
		"uptimeSec":  time.Since(t.started).Seconds(),
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]uint64{
			"heapAllocBytes": mem.HeapAlloc,
			"sysBytes":       mem.Sys,
		},
		"mutation": t.catalog.MutationEnabled(),
	}

	snap, err := t.catalog.EnsureLoaded(ctx)
	if err != nil {
		out["status"] = "degraded"
		out["error"] = err.Error()
		return jsonResult(out)
	}
	if len(snap.Errors) > 0 {
		out["status"] = "degraded"
	}
	out["catalog"] = map[string]any{
		"count":      snap.Count(),
		"hash":       snap.Hash,
		"loadErrors": nonNilSlice(snap.Errors),
		"loadedAt":   snap.LoadedAt,
		"reloads":    t.catalog.Reloads(),
	}
	return jsonResult(out)
}

// MetaTool handles meta_tools.
type MetaTool struct {
	registry *Registry
}

func NewMetaTool(r *Registry) *MetaTool {
	return &MetaTool{registry: r}
}

func (t *MetaTool) Definition() mcp.Tool {
	return mcp.NewTool("meta_tools",
		mcp.WithDescription("List every tool with its mutation flag and whether it is enabled."),
	)
}

func (t *MetaTool) Handle(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	infos := t.registry.Infos()
	return jsonResult(map[string]any{
		"tools":    infos,
		"count":    len(infos),
		"mutation": t.registry.MutationEnabled(),
	})
}
