// Package tools implements the MCP tool handlers.
//
// Each tool follows the same shape:
//   - a struct holding its dependencies, built by a constructor
//   - Definition() returns the mcp.Tool schema
//   - Handle() processes the request
//
// Domain failures are returned as isError results, never as Go errors.
// The Registry wraps every handler with metrics, logging, panic recovery
// and mutation gating before it reaches the MCP server.
package tools

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"mcpindex/internal/logging"
	"mcpindex/internal/metrics"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Tool is one MCP tool handler.
type Tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Kind classifies what a tool may change.
type Kind int

const (
	// KindRead tools never change state.
	KindRead Kind = iota
	// KindWrite tools change runtime state (usage, feedback) but not the
	// catalog, and are always available.
	KindWrite
	// KindMutation tools change the catalog or persisted state and only run
	// when mutation is enabled.
	KindMutation
)

// Info describes a registered tool.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Mutation    bool   `json:"mutation"`
	ReadOnly    bool   `json:"readOnly"`
	Enabled     bool   `json:"enabled"`
}

type registered struct {
	tool    Tool
	info    Info
	handler server.ToolHandlerFunc
}

// Registry holds the tool set and the policy applied to every call.
type Registry struct {
	mutation bool
	metrics  *metrics.Recorder
	logger   *logging.AppLogger
	tools    []registered
}

func NewRegistry(mutation bool, rec *metrics.Recorder, logger *logging.AppLogger) *Registry {
	if logger == nil {
		logger = logging.GetDefault()
	}
	return &Registry{mutation: mutation, metrics: rec, logger: logger}
}

// Add registers t. Adding a name twice panics.
func (r *Registry) Add(t Tool, kind Kind) {
	def := t.Definition()
	for _, existing := range r.tools {
		if existing.info.Name == def.Name {
			panic(fmt.Sprintf("tool %s registered twice", def.Name))
		}
	}
	info := Info{
		Name:        def.Name,
		Description: def.Description,
		Mutation:    kind == KindMutation,
		ReadOnly:    kind == KindRead,
	}
	info.Enabled = !info.Mutation || r.mutation
	r.tools = append(r.tools, registered{tool: t, info: info, handler: r.wrap(info, t.Handle)})
}

// Infos lists the tools sorted by name.
func (r *Registry) Infos() []Info {
	out := make([]Info, len(r.tools))
	for i, t := range r.tools {
		out[i] = t.info
	}
	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// MutationEnabled reports whether mutation tools run.
func (r *Registry) MutationEnabled() bool {
	return r.mutation
}

// Register adds every tool to s.
func (r *Registry) Register(s *server.MCPServer) {
	for _, t := range r.tools {
		def := t.tool.Definition()
		def.Annotations.ReadOnlyHint = mcp.ToBoolPtr(t.info.ReadOnly)
		def.Annotations.DestructiveHint = mcp.ToBoolPtr(t.info.Mutation)
		s.AddTool(def, t.handler)
	}
}

// Call runs the named tool through the same wrapper the server uses.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	for _, t := range r.tools {
		if t.info.Name == name {
			req := mcp.CallToolRequest{}
			req.Params.Name = name
			req.Params.Arguments = args
			return t.handler(ctx, req)
		}
	}
	return mcp.NewToolResultError(fmt.Sprintf("unknown tool %q", name)), nil
}

func (r *Registry) wrap(info Info, h server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (res *mcp.CallToolResult, err error) {
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("Tool panicked", "tool", info.Name, "panic", p, "stack", string(debug.Stack()))
				res, err = mcp.NewToolResultError(fmt.Sprintf("internal error in %s", info.Name)), nil
			}
			failed := err != nil || res == nil || res.IsError
			if r.metrics != nil {
				r.metrics.ObserveTool(info.Name, time.Since(start), failed)
			}
			r.logger.LogPerformance("tool "+info.Name, start)
			if failed {
				r.logger.Debug("Tool call failed", "tool", info.Name)
			}
		}()

		if info.Mutation && !r.mutation {
			return mcp.NewToolResultError("mutation disabled: start the server with mutation enabled to use " + info.Name), nil
		}
		return h(ctx, req)
	}
}
