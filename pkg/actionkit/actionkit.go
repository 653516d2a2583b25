// Package actionkit is the child side of the action runner. An action
// binary implements Runner or StatusRunner and hands it to Main, which
// reads parameters and pack config from stdin, runs the action and reports
// the outcome as the final write on stdout.
package actionkit

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/deixis/actionrunner/internal/environ"
	"github.com/deixis/actionrunner/internal/logging"
	"github.com/deixis/actionrunner/internal/protocol"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// Params are the action's input parameters.
type Params map[string]any

// Context carries what an action knows about its execution.
type Context struct {
	ExecutionID string
	Pack        string
	User        string
	// File is the entry point the action was started as.
	File   string
	Config map[string]any
	Logger *zap.Logger
	Stdout io.Writer
	Stderr io.Writer
}

// Runner is an action that returns a result. The status is derived from
// whether it returns an error.
type Runner interface {
	Run(ctx context.Context, c *Context, p Params) (any, error)
}

// StatusRunner is an action that reports its own status.
type StatusRunner interface {
	RunWithStatus(ctx context.Context, c *Context, p Params) (bool, any, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, c *Context, p Params) (any, error)

func (f RunnerFunc) Run(ctx context.Context, c *Context, p Params) (any, error) {
	return f(ctx, c, p)
}

// StatusRunnerFunc adapts a function to StatusRunner.
type StatusRunnerFunc func(ctx context.Context, c *Context, p Params) (bool, any, error)

func (f StatusRunnerFunc) RunWithStatus(ctx context.Context, c *Context, p Params) (bool, any, error) {
	return f(ctx, c, p)
}

// Action is a loaded action with its shape resolved.
type Action struct {
	impl       any
	withStatus bool
}

// Load resolves the shape of impl. StatusRunner takes precedence when impl
// implements both.
func Load(impl any) (*Action, error) {
	switch impl.(type) {
	case StatusRunner:
		return &Action{impl: impl, withStatus: true}, nil
	case Runner:
		return &Action{impl: impl}, nil
	}
	return nil, fmt.Errorf("%T implements neither Runner nor StatusRunner", impl)
}

// ReportsStatus reports whether the action returns its own status.
func (a *Action) ReportsStatus() bool {
	return a.withStatus
}

// Invoke runs the action. The returned status is nil when the action does
// not report one. Errors are converted to a false status with the error
// text as result; panics are recovered the same way.
func (a *Action) Invoke(ctx context.Context, c *Context, p Params) (status *bool, result any, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			f := false
			status, result, failed = &f, fmt.Sprintf("panic: %v", r), true
		}
	}()

	if a.withStatus {
		ok, res, err := a.impl.(StatusRunner).RunWithStatus(ctx, c, p)
		if err != nil {
			f := false
			return &f, err.Error(), true
		}
		return &ok, res, false
	}
	res, err := a.impl.(Runner).Run(ctx, c, p)
	if err != nil {
		f := false
		return &f, err.Error(), true
	}
	return nil, res, false
}

type payload struct {
	Parameters map[string]any `json:"parameters"`
	Config     map[string]any `json:"config"`
}

// Run executes impl with the given command line and streams and returns the
// process exit code. args may start with the entry point file, followed by
// --pack, --user and --log-level.
func Run(ctx context.Context, impl any, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fail := func(err error) int {
		fmt.Fprintln(stderr, err)
		f := false
		fmt.Fprint(stdout, protocol.Encode(&f, err.Error()))
		return 1
	}

	a, err := Load(impl)
	if err != nil {
		return fail(err)
	}

	c := &Context{
		ExecutionID: os.Getenv(environ.ExecutionIDVar),
		Stdout:      stdout,
		Stderr:      stderr,
	}
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		c.File, args = args[0], args[1:]
	}

	fs := pflag.NewFlagSet("action", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&c.Pack, "pack", os.Getenv(environ.PackVar), "pack the action belongs to")
	fs.StringVar(&c.User, "user", os.Getenv(environ.UserVar), "user the action runs for")
	levelName := fs.String("log-level", os.Getenv(environ.LogLevelVar), "action log level")
	if err := fs.Parse(args); err != nil {
		return fail(err)
	}
	level, err := logging.ParseLevel(*levelName)
	if err != nil {
		return fail(err)
	}
	c.Logger = logging.NewAction(stderr, level)
	defer c.Logger.Sync() //nolint:errcheck

	var in payload
	data, err := io.ReadAll(stdin)
	if err != nil {
		return fail(fmt.Errorf("reading parameters: %w", err))
	}
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := sonic.Unmarshal(data, &in); err != nil {
			return fail(fmt.Errorf("decoding parameters: %w", err))
		}
	}
	c.Config = in.Config
	if c.Config == nil {
		c.Config = map[string]any{}
	}
	params := Params(in.Parameters)
	if params == nil {
		params = Params{}
	}

	status, result, failed := a.Invoke(ctx, c, params)
	if failed {
		c.Logger.Error("action failed", zap.Any("error", result))
	}
	fmt.Fprint(stdout, protocol.Encode(status, result))
	if failed {
		return 1
	}
	return 0
}

// Main runs impl as the current process and exits with its exit code.
func Main(impl any) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := Run(ctx, impl, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
