package mcp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/deixis/actionrunner/internal/engine"
	"github.com/deixis/actionrunner/internal/outputstore"
	"github.com/deixis/actionrunner/internal/pack"
	"github.com/deixis/actionrunner/internal/protocol"
	"github.com/deixis/actionrunner/internal/report"
	"github.com/deixis/actionrunner/internal/runner"
	"github.com/deixis/actionrunner/internal/runtime"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap/zaptest"
)

// writePack creates packs/core with shell actions under a temp dir and
// returns the packs base.
func writePack(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	dir := filepath.Join(base, "core")
	files := map[string]string{
		"actions/echo.yaml": "entry_point: actions/echo.sh\nrunner_type: local-shell-script\n" +
			"parameters:\n  message:\n    type: string\n    required: true\n",
		"actions/echo.sh": "echo working\necho warn >&2\n" +
			"printf '%s' '" + protocol.Delimiter + "True" + protocol.Delimiter + "\"done\"" + protocol.Delimiter + "'\n",
		"actions/fail.yaml": "entry_point: actions/fail.sh\n",
		"actions/fail.sh":   "echo broken >&2\nexit 4\n",
		"actions/hang.yaml": "entry_point: actions/hang.sh\n",
		"actions/hang.sh":   "sleep 30\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return base
}

// setup creates an actionrunner MCP server and client over in-memory
// transports. A nil outputs store disables output persistence.
func setup(t *testing.T, base string, outputs *outputstore.Store) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	eng := &engine.Engine{
		Runner:  &runner.Runner{Workspace: base, DrainTimeout: 2 * time.Second, Logger: logger},
		Runtime: runtime.StaticProvider{Fixed: runtime.Interpreter{Path: "/bin/sh"}},
		Reports: report.NewLRUStore(5, report.NewDiskStore(t.TempDir())),
		Logger:  logger,
	}
	deps := Deps{
		Engine:  eng,
		Packs:   &pack.Loader{Base: base},
		Reports: eng.Reports,
		Logger:  logger,
	}
	if outputs != nil {
		eng.Outputs = outputs
		eng.StreamOutput = true
		deps.Outputs = outputs
	}
	server := NewServer(deps)

	ct, st := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}

	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})

	return cs
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

func resultText(r *mcp.CallToolResult) string {
	var parts []string
	for _, c := range r.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// executionID pulls the execution id out of a run_action result.
func executionID(t *testing.T, text string) string {
	t.Helper()
	for _, line := range strings.Split(text, "\n") {
		if id, ok := strings.CutPrefix(line, "Execution: "); ok {
			return id
		}
	}
	t.Fatalf("no execution id in:\n%s", text)
	return ""
}

func TestInstructions(t *testing.T) {
	for _, tool := range []string{"list_actions", "run_action", "inspect_execution", "execution_output"} {
		if !strings.Contains(Instructions, tool) {
			t.Errorf("instructions do not mention %s", tool)
		}
	}
}

func TestListTools(t *testing.T) {
	cs := setup(t, writePack(t), nil)
	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"list_actions", "run_action", "inspect_execution", "execution_output"} {
		if !names[want] {
			t.Errorf("tool %s not registered", want)
		}
	}
}

// --- list_actions ---

func TestListActions(t *testing.T) {
	cs := setup(t, writePack(t), nil)
	res := callTool(t, cs, "list_actions", map[string]any{"pack": "core"})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if text != "core.echo\ncore.fail\ncore.hang" {
		t.Errorf("list_actions = %q", text)
	}
}

func TestListActions_UnknownPack(t *testing.T) {
	cs := setup(t, writePack(t), nil)
	res := callTool(t, cs, "list_actions", map[string]any{"pack": "missing"})
	if !res.IsError {
		t.Fatalf("expected error, got: %s", resultText(res))
	}
}

// --- run_action ---

func TestRunAction_Succeeded(t *testing.T) {
	cs := setup(t, writePack(t), nil)
	res := callTool(t, cs, "run_action", map[string]any{
		"action":     "core.echo",
		"parameters": map[string]any{"message": "hi"},
	})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	for _, want := range []string{"Action: core.echo", "Status: succeeded", "Result: done", "working", "warn"} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in:\n%s", want, text)
		}
	}
	if strings.Contains(text, protocol.Delimiter) {
		t.Errorf("result line leaked into output:\n%s", text)
	}
}

func TestRunAction_FailedIsNotToolError(t *testing.T) {
	cs := setup(t, writePack(t), nil)
	res := callTool(t, cs, "run_action", map[string]any{"action": "core.fail"})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "Status: failed (exit code 4") {
		t.Errorf("expected failed status with exit code 4, got:\n%s", text)
	}
	if !strings.Contains(text, "Result: None") {
		t.Errorf("expected None result, got:\n%s", text)
	}
}

func TestRunAction_Timeout(t *testing.T) {
	cs := setup(t, writePack(t), nil)
	res := callTool(t, cs, "run_action", map[string]any{"action": "core.hang", "timeout": 1})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	for _, want := range []string{"Status: timed_out (exit code -9", "Action failed to complete in 1 seconds"} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in:\n%s", want, text)
		}
	}
}

func TestRunAction_MissingParameter(t *testing.T) {
	cs := setup(t, writePack(t), nil)
	res := callTool(t, cs, "run_action", map[string]any{"action": "core.echo"})
	text := resultText(res)
	if !res.IsError {
		t.Fatalf("expected error, got: %s", text)
	}
	if !strings.Contains(text, "preflight") || !strings.Contains(text, "message") {
		t.Errorf("expected preflight error naming the parameter, got: %s", text)
	}
}

func TestRunAction_UnknownAction(t *testing.T) {
	cs := setup(t, writePack(t), nil)
	res := callTool(t, cs, "run_action", map[string]any{"action": "core.nope"})
	if !res.IsError {
		t.Fatalf("expected error, got: %s", resultText(res))
	}
}

func TestRunAction_MissingRequiredArg(t *testing.T) {
	cs := setup(t, writePack(t), nil)
	_, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "run_action",
		Arguments: map[string]any{},
	})
	if err == nil {
		t.Fatal("expected schema validation error for missing action")
	}
}

// --- inspect_execution ---

func TestInspectExecution(t *testing.T) {
	cs := setup(t, writePack(t), nil)
	run := callTool(t, cs, "run_action", map[string]any{"action": "core.fail"})
	id := executionID(t, resultText(run))

	res := callTool(t, cs, "inspect_execution", map[string]any{"execution_id": id})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "Execution: "+id) || !strings.Contains(text, "Status: failed") {
		t.Errorf("unexpected inspect output:\n%s", text)
	}
}

func TestInspectExecution_Unknown(t *testing.T) {
	cs := setup(t, writePack(t), nil)
	res := callTool(t, cs, "inspect_execution", map[string]any{"execution_id": "does-not-exist"})
	if !res.IsError {
		t.Fatalf("expected error, got: %s", resultText(res))
	}
}

// --- execution_output ---

func TestExecutionOutput(t *testing.T) {
	store, err := outputstore.Open("sqlite", filepath.Join(t.TempDir(), "output.db"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("outputstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cs := setup(t, writePack(t), store)
	run := callTool(t, cs, "run_action", map[string]any{
		"action":     "core.echo",
		"parameters": map[string]any{"message": "hi"},
	})
	id := executionID(t, resultText(run))

	res := callTool(t, cs, "execution_output", map[string]any{"execution_id": id, "stream": "stdout"})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "working") {
		t.Errorf("expected stdout line, got:\n%s", text)
	}
	if strings.Contains(text, "warn") {
		t.Errorf("stderr line in stdout query:\n%s", text)
	}
	if strings.Contains(text, protocol.Delimiter) {
		t.Errorf("result line persisted:\n%s", text)
	}
}

func TestExecutionOutput_NotConfigured(t *testing.T) {
	cs := setup(t, writePack(t), nil)
	res := callTool(t, cs, "execution_output", map[string]any{"execution_id": "x"})
	if !res.IsError {
		t.Fatalf("expected error, got: %s", resultText(res))
	}
	if !strings.Contains(resultText(res), "stream_output") {
		t.Errorf("expected hint about stream_output, got: %s", resultText(res))
	}
}

func TestExecutionOutput_BadStream(t *testing.T) {
	cs := setup(t, writePack(t), nil)
	res := callTool(t, cs, "execution_output", map[string]any{"execution_id": "x", "stream": "stdin"})
	if !res.IsError {
		t.Fatalf("expected error, got: %s", resultText(res))
	}
}
