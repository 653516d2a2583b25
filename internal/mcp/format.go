package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/deixis/actionrunner/internal/action"
)

func formatResult(res *action.Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Execution: %s\n", res.ExecutionID)
	fmt.Fprintf(&b, "Action: %s\n", res.Action)
	fmt.Fprintf(&b, "Status: %s (exit code %d, %s)\n", res.Status, res.ExitCode, res.Duration.Round(time.Millisecond))
	if res.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", res.Error)
	}
	fmt.Fprintf(&b, "Result: %s\n", formatValue(res.Result))

	writeSection(&b, "stdout", res.Stdout)
	writeSection(&b, "stderr", res.Stderr)
	return b.String()
}

func writeSection(b *strings.Builder, name, text string) {
	if text == "" {
		return
	}
	fmt.Fprintf(b, "\n--- %s ---\n", name)
	b.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		b.WriteByte('\n')
	}
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := sonic.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func formatOutput(recs []action.OutputRecord) string {
	var b strings.Builder
	for _, r := range recs {
		fmt.Fprintf(&b, "%s %4d  %s", r.Stream, r.Sequence, r.Data)
		if !strings.HasSuffix(r.Data, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
