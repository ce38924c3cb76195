package tools

import (
	"context"

	"mcpindex/internal/review"

	"github.com/mark3labs/mcp-go/mcp"
)

// PromptReviewTool handles prompt_review.
type PromptReviewTool struct {
	engine *review.Engine
}

func NewPromptReviewTool(e *review.Engine) *PromptReviewTool {
	return &PromptReviewTool{engine: e}
}

func (t *PromptReviewTool) Definition() mcp.Tool {
	return mcp.NewTool("prompt_review",
		mcp.WithDescription("Check a prompt for leaked secrets, injection phrases, destructive commands, "+
			"personal data and vague wording. Returns issues and a 0-100 score."),
		mcp.WithString("prompt", mcp.Required()),
	)
}

func (t *PromptReviewTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.engine.Review(req.GetString("prompt", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}
