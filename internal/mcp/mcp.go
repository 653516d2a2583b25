// Package mcp provides the actionrunner MCP server, registering the action
// tools and publishing model instructions.
package mcp

import (
	"context"
	_ "embed"
	"net/url"
	"time"

	"github.com/deixis/actionrunner"
	"github.com/deixis/actionrunner/internal/action"
	"github.com/deixis/actionrunner/internal/config"
	"github.com/deixis/actionrunner/internal/engine"
	"github.com/deixis/actionrunner/internal/pack"
	"github.com/deixis/actionrunner/internal/report"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

//go:embed instructions.md
var Instructions string

// OutputQuerier reads persisted output records.
type OutputQuerier interface {
	Query(ctx context.Context, executionID string, stream action.Stream) ([]action.OutputRecord, error)
}

// Deps are the collaborators of the MCP tools. Outputs may be nil when
// output persistence is not configured.
type Deps struct {
	Engine  *engine.Engine
	Packs   *pack.Loader
	Reports report.Store
	Outputs OutputQuerier
	Logger  *zap.Logger
}

// handler holds shared dependencies for all tool handlers.
type handler struct {
	Deps
}

// NewServer creates an MCP server with all actionrunner tools registered.
func NewServer(deps Deps) *mcp.Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	h := &handler{Deps: deps}

	opts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updatePacksFromRoots(ctx, req.Session)
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "actionrunner", Version: actionrunner.Version}, opts)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "list_actions",
		Description: "List the actions of a pack as <pack>.<action> references.",
	}, h.listHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "run_action",
		Description: `Run an action and wait for it to finish.

Returns the execution id, status (succeeded, failed or timed_out), exit code,
result and captured output. The outcome is stored for inspect_execution.`,
	}, h.runHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "inspect_execution",
		Description: "Show the stored result of an earlier execution by its execution id.",
	}, h.inspectHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "execution_output",
		Description: `Show the output lines persisted for an execution, in order per stream.

Requires stream_output to be enabled in .actionrunner.yaml.`,
	}, h.outputHandler)

	return s
}

// updatePacksFromRoots queries the client for MCP roots and points the
// pack loader at the packs directory configured under the first root.
// This is called during session initialization, before any tool calls.
func (h *handler) updatePacksFromRoots(ctx context.Context, session *mcp.ServerSession) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil || len(roots.Roots) == 0 {
		return
	}

	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}

	loaded, err := config.Load(u.Path)
	if err != nil {
		h.Logger.Warn("loading config from client root", zap.String("root", u.Path), zap.Error(err))
		return
	}
	h.Packs.Base = loaded.PacksDir()
	if h.Engine != nil && h.Engine.Runner != nil {
		h.Engine.Runner.Workspace = loaded.PacksDir()
	}
	h.Logger.Info("packs directory updated from client root", zap.String("packs", h.Packs.Base))
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
