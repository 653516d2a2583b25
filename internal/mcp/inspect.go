package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/deixis/actionrunner/internal/action"
	"github.com/deixis/actionrunner/internal/report"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type inspectParams struct {
	ExecutionID string `json:"execution_id" jsonschema:"the execution id from a run_action result"`
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	if params.ExecutionID == "" {
		return errorResult("execution_id is required")
	}
	if h.Reports == nil {
		return errorResult("Execution history is not configured.")
	}

	res, err := h.Reports.Load(params.ExecutionID)
	if errors.Is(err, report.ErrNotFound) {
		return errorResult(fmt.Sprintf("No execution %s.", params.ExecutionID))
	}
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load execution %s: %v", params.ExecutionID, err))
	}
	return textResult(formatResult(res))
}

type outputParams struct {
	ExecutionID string `json:"execution_id" jsonschema:"the execution id from a run_action result"`
	Stream      string `json:"stream,omitempty" jsonschema:"stdout or stderr; both when empty"`
}

func (h *handler) outputHandler(ctx context.Context, req *mcp.CallToolRequest, params outputParams) (*mcp.CallToolResult, any, error) {
	if params.ExecutionID == "" {
		return errorResult("execution_id is required")
	}
	stream := action.Stream(params.Stream)
	switch stream {
	case "", action.Stdout, action.Stderr:
	default:
		return errorResult(fmt.Sprintf("unknown stream %q: want stdout or stderr", params.Stream))
	}
	if h.Outputs == nil {
		return errorResult("Output persistence is not configured. Set stream_output in .actionrunner.yaml.")
	}

	recs, err := h.Outputs.Query(ctx, params.ExecutionID, stream)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to query output of %s: %v", params.ExecutionID, err))
	}
	if len(recs) == 0 {
		return textResult(fmt.Sprintf("No output persisted for execution %s.", params.ExecutionID))
	}
	return textResult(formatOutput(recs))
}
