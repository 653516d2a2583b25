// Package engine runs one action execution end to end: preflight checks,
// pack config resolution, environment construction, supervision of the
// child and classification of its outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/deixis/actionrunner/internal/action"
	"github.com/deixis/actionrunner/internal/capture"
	"github.com/deixis/actionrunner/internal/environ"
	"github.com/deixis/actionrunner/internal/metrics"
	"github.com/deixis/actionrunner/internal/outputstore"
	"github.com/deixis/actionrunner/internal/packconfig"
	"github.com/deixis/actionrunner/internal/report"
	"github.com/deixis/actionrunner/internal/runner"
	"github.com/deixis/actionrunner/internal/runtime"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/deixis/actionrunner/internal/engine"

// Engine executes actions. Only Runner and Runtime are required.
type Engine struct {
	Runner  *runner.Runner
	Runtime runtime.Provider
	// Config resolves pack configuration. Nil passes the static config
	// through.
	Config *packconfig.Resolver
	// Blacklist overrides environ.DefaultBlacklist.
	Blacklist []string
	APIURL    string
	// DefaultTimeout applies to requests without a timeout.
	DefaultTimeout time.Duration

	// Outputs receives output records when StreamOutput is set.
	Outputs      outputstore.Appender
	StreamOutput bool

	Reports report.Store
	Metrics *metrics.Collector
	Tracer  trace.Tracer
	Logger  *zap.Logger

	// ParentEnv returns the environment children inherit from. Defaults to
	// os.Environ.
	ParentEnv func() []string
}

// Validate checks a request without running it.
func (e *Engine) Validate(req *action.Request) error {
	_, err := e.preflight(req)
	return err
}

// preflight checks the action and returns the parameters with defaults
// applied.
func (e *Engine) preflight(req *action.Request) (map[string]any, error) {
	d := req.Action
	if d == nil {
		return nil, &action.PreflightError{Action: "<nil>", Err: errors.New("no action descriptor")}
	}
	ref := d.Ref()
	if d.EntryPoint == "" {
		return nil, &action.PreflightError{Action: ref, Err: action.ErrEntryPointMissing}
	}
	if d.PackDir == "" {
		return nil, &action.PreflightError{Action: ref, Err: fmt.Errorf("pack %q: %w", d.Pack, action.ErrPackUnresolvable)}
	}
	if info, err := os.Stat(d.PackDir); err != nil || !info.IsDir() {
		return nil, &action.PreflightError{Action: ref, Err: fmt.Errorf("pack %q: %w", d.Pack, action.ErrPackUnresolvable)}
	}

	path := d.EntryPath()
	f, err := os.Open(path)
	if err != nil {
		return nil, &action.PreflightError{Action: ref, Err: fmt.Errorf("entry point %s: %w", path, err)}
	}
	info, err := f.Stat()
	f.Close()
	if err != nil {
		return nil, &action.PreflightError{Action: ref, Err: fmt.Errorf("entry point %s: %w", path, err)}
	}
	if info.IsDir() {
		return nil, &action.PreflightError{Action: ref, Err: fmt.Errorf("entry point %s is a directory", path)}
	}

	params := make(map[string]any, len(d.Parameters)+len(req.Parameters))
	for k, v := range req.Parameters {
		params[k] = v
	}
	var missing []string
	for name, p := range d.Parameters {
		if _, ok := params[name]; ok {
			continue
		}
		switch {
		case p.Default != nil:
			params[name] = p.Default
		case p.Required:
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &action.PreflightError{Action: ref, Err: fmt.Errorf("missing required parameters: %v", missing)}
	}
	return params, nil
}

// Run executes req and blocks until the child has exited or been killed.
// Preflight, config resolution and spawn failures are returned as errors;
// everything that happens once the child runs is reported in the result.
func (e *Engine) Run(ctx context.Context, req *action.Request) (*action.Result, error) {
	r := *req
	if r.ExecutionID == "" {
		r.ExecutionID = uuid.New().String()
	}
	logger := e.logger().With(zap.String("execution_id", r.ExecutionID))

	ctx, span := e.tracer().Start(ctx, "actionrunner.run",
		trace.WithAttributes(attribute.String("execution.id", r.ExecutionID)))
	defer span.End()

	res, err := e.run(ctx, &r, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("action.status", string(res.Status)),
		attribute.Int("action.exit_code", res.ExitCode))
	return res, nil
}

func (e *Engine) run(ctx context.Context, req *action.Request, logger *zap.Logger) (*action.Result, error) {
	params, err := e.preflight(req)
	if err != nil {
		e.recordPreflight(err)
		return nil, err
	}
	d := req.Action
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("action.ref", d.Ref()),
		attribute.String("action.pack", d.Pack),
		attribute.String("action.runner", d.RunnerType))

	cfg := d.PackConfig
	if e.Config != nil {
		cfg, err = e.Config.Resolve(ctx, d.Pack, req.User, d.PackConfig)
		if err != nil {
			return nil, err
		}
	}
	if cfg == nil {
		cfg = map[string]any{}
	}

	interp, err := e.Runtime.Interpreter(d.Pack, d.PackDir)
	if err != nil {
		e.recordPreflight(err)
		return nil, &action.PreflightError{Action: d.Ref(), Err: fmt.Errorf("provisioning runtime: %w", err)}
	}

	builder := environ.Builder{Blacklist: e.Blacklist, SearchPath: interp.SearchPath}
	env := builder.Build(e.parentEnv(), req.Runner.Env, environ.Context{
		ExecutionID: req.ExecutionID,
		AuthToken:   req.AuthToken,
		User:        req.User,
		Pack:        d.Pack,
		LogLevel:    req.Runner.LogLevel,
		APIURL:      e.APIURL,
	})

	stdin, err := sonic.Marshal(map[string]any{"parameters": params, "config": cfg})
	if err != nil {
		return nil, &action.PreflightError{Action: d.Ref(), Err: fmt.Errorf("encoding parameters: %w", err)}
	}

	flags := []string{"--pack=" + d.Pack, "--user=" + req.User}
	if req.Runner.LogLevel != "" {
		flags = append(flags, "--log-level="+req.Runner.LogLevel)
	}
	path, args := interp.Command(d.EntryPath(), flags)

	timeout := req.Runner.TimeoutOr(e.defaultTimeout())

	opts := capture.Options{
		ExecutionID: req.ExecutionID,
		RunnerRef:   d.RunnerType,
		Logger:      logger,
	}
	var writer *outputstore.Writer
	if e.StreamOutput && e.Outputs != nil {
		writer = outputstore.NewWriter(e.Outputs, outputstore.WriterOptions{Logger: logger})
		opts.Sink = writer
	}

	logger.Info("running action",
		zap.String("action", d.Ref()),
		zap.String("path", path),
		zap.Duration("timeout", timeout))

	out, err := e.Runner.Run(ctx, runner.Command{
		ExecutionID: req.ExecutionID,
		Path:        path,
		Args:        args,
		Dir:         d.PackDir,
		Env:         environ.Environ(env),
		Stdin:       stdin,
		Timeout:     timeout,
		Capture:     opts,
	})
	if writer != nil {
		written, failed := writer.Close()
		logger.Debug("output persisted", zap.Int("records", written), zap.Int("failed", failed))
	}
	if err != nil {
		var spawnErr *action.SpawnError
		if errors.As(err, &spawnErr) {
			e.recordPreflight(err)
		}
		return nil, err
	}

	c := Classify(Outcome{
		ExitCode:  out.ExitCode,
		TimedOut:  out.TimedOut,
		Timeout:   timeout,
		Stdout:    out.Stdout,
		Stderr:    out.Stderr,
		RawResult: req.Runner.RawResult,
	})
	res := &action.Result{
		ExecutionID: req.ExecutionID,
		Action:      d.Ref(),
		Status:      c.Status,
		Result:      c.Result,
		ExitCode:    c.ExitCode,
		Stdout:      c.Stdout,
		Stderr:      c.Stderr,
		Error:       c.Error,
		StartedAt:   out.StartedAt,
		Duration:    out.Duration,
	}

	if e.Metrics != nil {
		e.Metrics.RecordExecution(d.RunnerType, string(res.Status), res.Duration)
		e.Metrics.RecordOutputLines(string(action.Stdout), out.Lines[action.Stdout])
		e.Metrics.RecordOutputLines(string(action.Stderr), out.Lines[action.Stderr])
	}
	if e.Reports != nil {
		if err := e.Reports.Save(res); err != nil {
			logger.Warn("saving execution result", zap.Error(err))
		}
	}

	logger.Info("action finished",
		zap.String("status", string(res.Status)),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (e *Engine) recordPreflight(err error) {
	if e.Metrics == nil {
		return
	}
	e.Metrics.RecordPreflightFailure(preflightReason(err))
}

func preflightReason(err error) string {
	var spawnErr *action.SpawnError
	switch {
	case errors.Is(err, action.ErrEntryPointMissing):
		return "entry_point_missing"
	case errors.Is(err, action.ErrPackUnresolvable):
		return "pack_unresolvable"
	case errors.As(err, &spawnErr):
		return "spawn"
	case errors.Is(err, os.ErrNotExist), errors.Is(err, os.ErrPermission):
		return "entry_point_unreadable"
	}
	return "other"
}

func (e *Engine) defaultTimeout() time.Duration {
	if e.DefaultTimeout > 0 {
		return e.DefaultTimeout
	}
	return action.DefaultTimeout
}

func (e *Engine) parentEnv() []string {
	if e.ParentEnv != nil {
		return e.ParentEnv()
	}
	return os.Environ()
}

func (e *Engine) tracer() trace.Tracer {
	if e.Tracer != nil {
		return e.Tracer
	}
	return otel.Tracer(instrumentationName)
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}
