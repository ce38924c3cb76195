package tools

import (
	"context"

	"mcpindex/internal/feedback"

	"github.com/mark3labs/mcp-go/mcp"
)

// FeedbackSubmitTool handles feedback_submit.
type FeedbackSubmitTool struct {
	store *feedback.Store
}

func NewFeedbackSubmitTool(s *feedback.Store) *FeedbackSubmitTool {
	return &FeedbackSubmitTool{store: s}
}

func (t *FeedbackSubmitTool) Definition() mcp.Tool {
	return mcp.NewTool("feedback_submit",
		mcp.WithDescription("Report a problem or suggestion about the instruction catalog or this server."),
		mcp.WithString("type", mcp.Required(), mcp.Enum(feedback.Types...)),
		mcp.WithString("severity", mcp.Enum(feedback.Severities...), mcp.Description("Default medium")),
		mcp.WithString("title", mcp.Required()),
		mcp.WithString("description", mcp.Required()),
		mcp.WithArray("tags", mcp.WithStringItems()),
		mcp.WithObject("context", mcp.Description("Free-form string key/value pairs, e.g. the tool or entry involved")),
	)
}

func (t *FeedbackSubmitTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	e := feedback.Entry{
		Type:        req.GetString("type", ""),
		Severity:    req.GetString("severity", ""),
		Title:       req.GetString("title", ""),
		Description: req.GetString("description", ""),
		Tags:        stringsArg(req, "tags"),
	}
	if _, err := objectArg(req, "context", &e.Context); err != nil {
		return errorResult(err), nil
	}
	saved, err := t.store.Submit(ctx, e)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(saved)
}

// FeedbackListTool handles feedback_list.
type FeedbackListTool struct {
	store *feedback.Store
}

func NewFeedbackListTool(s *feedback.Store) *FeedbackListTool {
	return &FeedbackListTool{store: s}
}

func (t *FeedbackListTool) Definition() mcp.Tool {
	return mcp.NewTool("feedback_list",
		mcp.WithDescription("List feedback, newest first, with optional filters and totals."),
		mcp.WithString("type", mcp.Enum(feedback.Types...)),
		mcp.WithString("status", mcp.Enum(feedback.Statuses...)),
		mcp.WithString("severity", mcp.Enum(feedback.Severities...)),
		mcp.WithNumber("limit", mcp.Description("Default 50, max 500")),
	)
}

func (t *FeedbackListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := t.store.List(ctx, feedback.Filter{
		Type:     req.GetString("type", ""),
		Status:   req.GetString("status", ""),
		Severity: req.GetString("severity", ""),
		Limit:    intArg(req, "limit", 0),
	})
	if err != nil {
		return errorResult(err), nil
	}
	stats, err := t.store.Stats(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{"items": items, "count": len(items), "stats": stats})
}

// FeedbackUpdateTool handles feedback_update.
type FeedbackUpdateTool struct {
	store *feedback.Store
}

func NewFeedbackUpdateTool(s *feedback.Store) *FeedbackUpdateTool {
	return &FeedbackUpdateTool{store: s}
}

func (t *FeedbackUpdateTool) Definition() mcp.Tool {
	return mcp.NewTool("feedback_update",
		mcp.WithDescription("Move a feedback entry to a new status."),
		mcp.WithString("id", mcp.Required()),
		mcp.WithString("status", mcp.Required(), mcp.Enum(feedback.Statuses...)),
	)
}

func (t *FeedbackUpdateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}
	e, err := t.store.UpdateStatus(ctx, id, req.GetString("status", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(e)
}
