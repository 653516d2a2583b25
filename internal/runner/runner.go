// Package runner supervises one action child process: it spawns the child
// in its own process group, feeds its stdin, captures both output streams
// and enforces the execution timeout.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/deixis/actionrunner/internal/action"
	"github.com/deixis/actionrunner/internal/capture"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultDrainTimeout bounds how long output is drained after the child
// exits. Grandchildren holding the pipes open are cut off after it.
const DefaultDrainTimeout = 5 * time.Second

// Runner executes action children within a workspace boundary.
type Runner struct {
	// Workspace bounds the working directory of every child. Empty means
	// no bound.
	Workspace    string
	DrainTimeout time.Duration
	Logger       *zap.Logger
}

// Command describes one child process.
type Command struct {
	ExecutionID string
	Path        string // executable
	Args        []string
	Dir         string
	Env         []string
	Stdin       []byte
	// Timeout is the wall-clock budget. Zero or negative times out
	// immediately after start.
	Timeout time.Duration
	Capture capture.Options
}

type handle struct {
	cmd     *exec.Cmd
	state   State
	started time.Time
}

func (h *handle) kill(logger *zap.Logger) {
	if h.cmd.Process == nil {
		return
	}
	if err := killGroup(h.cmd.Process); err != nil {
		logger.Warn("killing process group", zap.Int("pid", h.cmd.Process.Pid), zap.Error(err))
	}
}

// Run starts the child and blocks until it exits or is killed, and until
// its output has been drained. A non-zero exit is not an error. Errors are
// returned for an invalid command, a spawn failure, or a cancelled ctx.
func (r *Runner) Run(ctx context.Context, c Command) (*Result, error) {
	if c.Path == "" {
		return nil, fmt.Errorf("empty command path")
	}
	logger := r.logger()

	dir, err := r.resolveDir(c.Dir)
	if err != nil {
		return nil, err
	}

	runID := c.ExecutionID
	if runID == "" {
		runID = uuid.New().String()
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = dir
	cmd.Env = c.Env
	cmd.Stdin = bytes.NewReader(c.Stdin)
	cmd.Stdout = outW
	cmd.Stderr = errW
	cmd.WaitDelay = r.drainTimeout()
	setProcessGroup(cmd)

	h := &handle{cmd: cmd, state: NotStarted}
	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		return nil, &action.SpawnError{Path: c.Path, Err: err}
	}
	h.state = Running
	h.started = time.Now()
	// The child holds its own copies now.
	outW.Close()
	errW.Close()

	logger.Debug("child started",
		zap.String("execution_id", runID),
		zap.Int("pid", cmd.Process.Pid),
		zap.Duration("timeout", c.Timeout))

	opts := c.Capture
	if opts.ExecutionID == "" {
		opts.ExecutionID = runID
	}
	if opts.Logger == nil {
		opts.Logger = logger
	}
	capt := capture.Start(outR, errR, opts)

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var waitErr error
	if c.Timeout <= 0 {
		h.state = TimedOut
		h.kill(logger)
		waitErr = <-waitCh
	} else {
		timer := time.NewTimer(c.Timeout)
		defer timer.Stop()
		select {
		case waitErr = <-waitCh:
			h.state = Exited
		case <-timer.C:
			logger.Warn("execution timed out, killing process group",
				zap.String("execution_id", runID),
				zap.Duration("timeout", c.Timeout))
			h.state = TimedOut
			h.kill(logger)
			waitErr = <-waitCh
		case <-ctx.Done():
			h.kill(logger)
			<-waitCh
			r.drain(capt)
			return nil, ctx.Err()
		}
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		logger.Warn("waiting for child", zap.String("execution_id", runID), zap.Error(waitErr))
	}

	out := r.drain(capt)

	res := &Result{
		RunID:     runID,
		ExitCode:  exitStatus(cmd.ProcessState),
		TimedOut:  h.state == TimedOut,
		Stdout:    out.Stdout,
		Stderr:    out.Stderr,
		Lines:     out.Lines,
		Persisted: out.Persisted,
		StartedAt: h.started,
		Duration:  time.Since(h.started),
	}
	logger.Debug("child finished",
		zap.String("execution_id", runID),
		zap.Stringer("state", h.state),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// drain waits for both streams to reach EOF, closing the read ends when
// the grace period runs out first.
func (r *Runner) drain(c *capture.Capture) capture.Output {
	timer := time.NewTimer(r.drainTimeout())
	defer timer.Stop()
	select {
	case <-c.Done():
	case <-timer.C:
		r.logger().Warn("output still open after exit, closing streams")
	}
	c.Stop()
	out, err := c.Wait()
	if err != nil {
		r.logger().Warn("capturing output", zap.Error(err))
	}
	return out
}

// resolveDir resolves dir relative to the workspace and validates it
// is within the workspace boundary.
func (r *Runner) resolveDir(dir string) (string, error) {
	if r.Workspace == "" {
		return dir, nil
	}
	if dir == "" {
		return r.Workspace, nil
	}

	var abs string
	if filepath.IsAbs(dir) {
		abs = filepath.Clean(dir)
	} else {
		abs = filepath.Clean(filepath.Join(r.Workspace, dir))
	}

	rel, err := filepath.Rel(r.Workspace, abs)
	if err != nil {
		return "", fmt.Errorf("resolving dir: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("dir %q is outside workspace %q", dir, r.Workspace)
	}
	return abs, nil
}

func (r *Runner) drainTimeout() time.Duration {
	if r.DrainTimeout > 0 {
		return r.DrainTimeout
	}
	return DefaultDrainTimeout
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}
