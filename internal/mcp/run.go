package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deixis/actionrunner/internal/action"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type listParams struct {
	Pack string `json:"pack" jsonschema:"the pack whose actions to list"`
}

func (h *handler) listHandler(ctx context.Context, req *mcp.CallToolRequest, params listParams) (*mcp.CallToolResult, any, error) {
	if params.Pack == "" {
		return errorResult("pack is required")
	}
	refs, err := h.Packs.Actions(params.Pack)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to list pack %s: %v", params.Pack, err))
	}
	if len(refs) == 0 {
		return textResult(fmt.Sprintf("Pack %s has no actions.", params.Pack))
	}
	return textResult(strings.Join(refs, "\n"))
}

type runParams struct {
	Action     string            `json:"action" jsonschema:"the action reference as pack.action (e.g. core.echo)"`
	Parameters map[string]any    `json:"parameters,omitempty" jsonschema:"action parameters by name"`
	Timeout    *int              `json:"timeout,omitempty" jsonschema:"timeout in seconds; 0 kills the action immediately"`
	Env        map[string]string `json:"env,omitempty" jsonschema:"extra environment variables for the action"`
	RawResult  bool              `json:"raw_result,omitempty" jsonschema:"return trimmed stdout as the result instead of decoding the result line"`
	LogLevel   string            `json:"log_level,omitempty" jsonschema:"action log level: debug, info, warn or error"`
	User       string            `json:"user,omitempty" jsonschema:"user the action runs as; selects user scoped config overrides"`
}

func (h *handler) runHandler(ctx context.Context, req *mcp.CallToolRequest, params runParams) (*mcp.CallToolResult, any, error) {
	if params.Action == "" {
		return errorResult("action is required")
	}
	desc, err := h.Packs.Action(params.Action)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load action %s: %v", params.Action, err))
	}

	res, err := h.Engine.Run(ctx, &action.Request{
		Action:     desc,
		Parameters: params.Parameters,
		User:       params.User,
		Runner: action.RunnerParams{
			Timeout:   params.Timeout,
			Env:       params.Env,
			LogLevel:  params.LogLevel,
			RawResult: params.RawResult,
		},
	})
	if err != nil {
		return errorResult(runErrorText(params.Action, err))
	}
	return textResult(formatResult(res))
}

func runErrorText(ref string, err error) string {
	var pre *action.PreflightError
	var cfg *action.ConfigResolutionError
	var spawn *action.SpawnError
	switch {
	case errors.As(err, &pre):
		return fmt.Sprintf("Action %s failed preflight: %v", ref, pre.Err)
	case errors.As(err, &cfg):
		return fmt.Sprintf("Config for pack %s could not be resolved: %v", cfg.Pack, cfg.Err)
	case errors.As(err, &spawn):
		return fmt.Sprintf("Action %s could not be started: %v", ref, spawn.Err)
	}
	return fmt.Sprintf("Action %s failed to run: %v", ref, err)
}
