package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/deixis/actionrunner/internal/action"
	"github.com/spf13/cobra"
)

type runFlags struct {
	params    []string
	env       []string
	timeout   int
	rawResult bool
	logLevel  string
	user      string
	json      bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <pack.action>",
		Short: "Run an action and print its result",
		Long: `Run an action and wait for it to finish.

Parameter values are decoded as JSON when they parse, and passed as strings
otherwise.

Examples:
  actionrunner run core.echo -p message=hello
  actionrunner run core.http -p url=https://example.com -p retries=3 --timeout 30
  actionrunner run core.report --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			req, err := f.request(cmd, a, args[0])
			if err != nil {
				return err
			}
			res, err := a.engine.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			if err := printResult(cmd.OutOrStdout(), res, f.json); err != nil {
				return err
			}
			return resultError(res)
		},
	}
	cmd.Flags().StringArrayVarP(&f.params, "param", "p", nil, "action parameter as key=value (repeatable)")
	cmd.Flags().StringArrayVarP(&f.env, "env", "e", nil, "extra environment variable as KEY=VALUE (repeatable)")
	cmd.Flags().IntVar(&f.timeout, "timeout", -1, "timeout in seconds (default: configured timeout)")
	cmd.Flags().BoolVar(&f.rawResult, "raw-result", false, "use trimmed stdout as the result")
	cmd.Flags().StringVar(&f.logLevel, "action-log-level", "", "log level passed to the action")
	cmd.Flags().StringVar(&f.user, "user", "", "user the action runs as")
	cmd.Flags().BoolVar(&f.json, "json", false, "print the result as JSON")
	return cmd
}

func (f *runFlags) request(cmd *cobra.Command, a *app, ref string) (*action.Request, error) {
	desc, err := a.packs.Action(ref)
	if err != nil {
		return nil, err
	}
	params, err := parseParams(f.params)
	if err != nil {
		return nil, err
	}
	env, err := parseKV(f.env)
	if err != nil {
		return nil, err
	}
	req := &action.Request{
		Action:     desc,
		Parameters: params,
		User:       f.user,
		Runner: action.RunnerParams{
			Env:       env,
			LogLevel:  f.logLevel,
			RawResult: f.rawResult,
		},
	}
	if cmd.Flags().Changed("timeout") {
		t := f.timeout
		req.Runner.Timeout = &t
	}
	return req, nil
}

// parseKV splits KEY=VALUE pairs.
func parseKV(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid pair %q: want KEY=VALUE", p)
		}
		out[k] = v
	}
	return out, nil
}

// parseParams decodes each value as JSON, keeping it as a string when it
// does not parse.
func parseParams(pairs []string) (map[string]any, error) {
	kv, err := parseKV(pairs)
	if err != nil {
		return nil, err
	}
	params := make(map[string]any, len(kv))
	for k, raw := range kv {
		var v any
		if err := sonic.UnmarshalString(raw, &v); err != nil {
			v = raw
		}
		params[k] = v
	}
	return params, nil
}

func printResult(w io.Writer, res *action.Result, asJSON bool) error {
	if asJSON {
		data, err := sonic.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	fmt.Fprintf(w, "id: %s\n", res.ExecutionID)
	fmt.Fprintf(w, "action: %s\n", res.Action)
	fmt.Fprintf(w, "status: %s\n", res.Status)
	fmt.Fprintf(w, "exit_code: %d\n", res.ExitCode)
	fmt.Fprintf(w, "duration: %s\n", res.Duration.Round(time.Millisecond))
	if res.Error != "" {
		fmt.Fprintf(w, "error: %s\n", res.Error)
	}
	fmt.Fprintf(w, "result: %s\n", formatValue(res.Result))
	if res.Stdout != "" {
		fmt.Fprintf(w, "stdout:\n%s\n", indent(res.Stdout))
	}
	if res.Stderr != "" {
		fmt.Fprintf(w, "stderr:\n%s\n", indent(res.Stderr))
	}
	return nil
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}

// resultError turns a non successful status into an error carrying the
// process exit code.
func resultError(res *action.Result) error {
	switch res.Status {
	case action.StatusSucceeded:
		return nil
	case action.StatusFailed:
		code := res.ExitCode
		if code <= 0 {
			code = 1
		}
		return &statusError{status: string(res.Status), code: code}
	}
	return &statusError{status: string(res.Status), code: 1}
}

func newValidateCmd(g *globalFlags) *cobra.Command {
	var params []string
	cmd := &cobra.Command{
		Use:   "validate <pack.action>",
		Short: "Check that an action can be run without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			desc, err := a.packs.Action(args[0])
			if err != nil {
				return err
			}
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			if err := a.engine.Validate(&action.Request{Action: desc, Parameters: p}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", desc.Ref())
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "action parameter as key=value (repeatable)")
	return cmd
}

func newListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list <pack>",
		Short: "List the actions of a pack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			refs, err := a.packs.Actions(args[0])
			if err != nil {
				return err
			}
			for _, ref := range refs {
				fmt.Fprintln(cmd.OutOrStdout(), ref)
			}
			return nil
		},
	}
}

func newInspectCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect <execution-id>",
		Short: "Show the stored result of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.reports.Load(args[0])
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func newOutputCmd(g *globalFlags) *cobra.Command {
	var stream string
	cmd := &cobra.Command{
		Use:   "output <execution-id>",
		Short: "Print the output lines persisted for an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := action.Stream(stream)
			if s != "" && s != action.Stdout && s != action.Stderr {
				return fmt.Errorf("unknown stream %q: want stdout or stderr", stream)
			}
			a, err := newApp(g, appOptions{outputs: true})
			if err != nil {
				return err
			}
			defer a.Close()

			recs, err := a.outputs.Query(cmd.Context(), args[0], s)
			if err != nil {
				return err
			}
			for _, r := range recs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", r.Stream, r.Sequence, strings.TrimRight(r.Data, "\n"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&stream, "stream", "", "stdout or stderr (default: both)")
	return cmd
}
