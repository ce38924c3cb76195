package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"mcpindex/internal/catalog"

	"github.com/mark3labs/mcp-go/mcp"
)

// jsonResult renders v as indented JSON text.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorResult turns a domain error into an isError result.
func errorResult(err error) *mcp.CallToolResult {
	var verr *catalog.ValidationError
	if errors.As(err, &verr) {
		data, _ := json.Marshal(verr)
		return mcp.NewToolResultError(fmt.Sprintf("%s\n%s", verr.Error(), data))
	}
	return mcp.NewToolResultError(err.Error())
}

// intArg extracts an integer argument, returning def when the key is
// missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, def int) int {
	switch v := req.GetArguments()[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func boolArg(req mcp.CallToolRequest, key string, def bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return def
	}
	return v
}

// stringsArg accepts an array of strings or a comma separated string.
func stringsArg(req mcp.CallToolRequest, key string) []string {
	var out []string
	switch v := req.GetArguments()[key].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case []string:
		for _, s := range v {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		for part := range strings.SplitSeq(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// objectArg decodes an object argument into v.
func objectArg(req mcp.CallToolRequest, key string, v any) (bool, error) {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return false, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return true, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("'%s' is malformed: %w", key, err)
	}
	return true, nil
}

// filterArg reads the shared listing filters.
func filterArg(req mcp.CallToolRequest) catalog.Filter {
	cats := stringsArg(req, "categories")
	if c := req.GetString("category", ""); c != "" {
		cats = append(cats, c)
	}
	for i, c := range cats {
		cats[i] = strings.ToLower(c)
	}
	return catalog.Filter{
		Categories:      cats,
		Requirement:     catalog.Requirement(strings.ToLower(req.GetString("requirement", ""))),
		Audience:        catalog.Audience(strings.ToLower(req.GetString("audience", ""))),
		Status:          catalog.Status(strings.ToLower(req.GetString("status", ""))),
		PriorityTier:    catalog.PriorityTier(strings.ToUpper(req.GetString("priorityTier", ""))),
		ContentType:     strings.ToLower(req.GetString("contentType", "")),
		MinPriority:     intArg(req, "minPriority", 0),
		MaxPriority:     intArg(req, "maxPriority", 0),
		IncludeArchived: boolArg(req, "includeArchived", false),
	}
}

// filterOptions are the schema entries matching filterArg.
func filterOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("category", mcp.Description("Only entries with this category")),
		mcp.WithArray("categories", mcp.Description("Only entries with any of these categories"), mcp.WithStringItems()),
		mcp.WithString("requirement", mcp.Enum("mandatory", "critical", "recommended", "optional", "deprecated")),
		mcp.WithString("audience", mcp.Enum("individual", "group", "all")),
		mcp.WithString("status", mcp.Enum("draft", "review", "approved", "deprecated")),
		mcp.WithString("priorityTier", mcp.Enum("P1", "P2", "P3", "P4")),
		mcp.WithString("contentType", mcp.Description("instruction (default), template, chat-session, reference or example")),
		mcp.WithNumber("minPriority", mcp.Description("Lowest priority number to include (1 is most important)")),
		mcp.WithNumber("maxPriority", mcp.Description("Highest priority number to include")),
		mcp.WithBoolean("includeArchived", mcp.Description("Include archived entries (default false)")),
	}
}
