package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/deixis/actionrunner/pkg/actionkit"
)

const helperEnv = "GO_WANT_HELPER_PROCESS"

// helperActions are the actions the re-executed test binary can run,
// selected by the base name of the entry point.
var helperActions = map[string]any{
	"pascal_row":        actionkit.RunnerFunc(pascalRow),
	"pascal_row_status": actionkit.StatusRunnerFunc(pascalRowStatus),
	"print_lines": actionkit.RunnerFunc(func(_ context.Context, c *actionkit.Context, _ actionkit.Params) (any, error) {
		for i := 0; i < 3; i++ {
			fmt.Fprintf(c.Stdout, "out %d\n", i)
		}
		for i := 0; i < 2; i++ {
			fmt.Fprintf(c.Stderr, "err %d\n", i)
		}
		return "ok", nil
	}),
	"env_dump": actionkit.RunnerFunc(func(context.Context, *actionkit.Context, actionkit.Params) (any, error) {
		out := map[string]any{}
		for _, k := range []string{"PYTHONPATH", "FOO", "ACTIONRUNNER_EXECUTION_ID", "ACTIONRUNNER_USER", "ACTIONRUNNER_AUTH_TOKEN", "ACTIONRUNNER_PACK"} {
			if v, ok := os.LookupEnv(k); ok {
				out[k] = v
			}
		}
		return out, nil
	}),
	"config_dump": actionkit.RunnerFunc(func(_ context.Context, c *actionkit.Context, p actionkit.Params) (any, error) {
		return map[string]any{"config": c.Config, "params": p}, nil
	}),
	"sleeper": actionkit.RunnerFunc(func(ctx context.Context, _ *actionkit.Context, _ actionkit.Params) (any, error) {
		select {
		case <-time.After(30 * time.Second):
			return "woke up", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}),
}

func pascalRow(_ context.Context, c *actionkit.Context, p actionkit.Params) (any, error) {
	n, ok := p["row_index"].(float64)
	if !ok {
		return nil, errors.New("This is suppose to fail don't worry!!")
	}
	fmt.Fprintln(c.Stdout, "computing")
	row := []int{1}
	for i := 1; i <= int(n); i++ {
		row = append(row, row[i-1]*(int(n)-i+1)/i)
	}
	return row, nil
}

func pascalRowStatus(ctx context.Context, c *actionkit.Context, p actionkit.Params) (bool, any, error) {
	switch p["row_index"] {
	case "c":
		return false, nil, nil
	case "complex_type":
		return false, map[string]any{"ch": make(chan int)}, nil
	}
	row, err := pascalRow(ctx, c, p)
	return err == nil, row, err
}

// TestHelperProcess is not a real test. It is the action child started by
// the engine tests.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 {
		if args[0] == "--" {
			args = args[1:]
			break
		}
		args = args[1:]
	}
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "no entry point")
		os.Exit(2)
	}
	impl := helperActions[filepath.Base(args[0])]
	if impl == nil {
		impl = struct{}{}
	}
	os.Exit(actionkit.Run(context.Background(), impl, args, os.Stdin, os.Stdout, os.Stderr))
}
