// Package capture drains a child's stdout and stderr concurrently,
// buffering each stream and optionally emitting every line as an output
// record.
package capture

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/deixis/actionrunner/internal/action"
	"github.com/deixis/actionrunner/internal/protocol"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sink receives output records as lines are read. It is called from both
// reader goroutines and must be safe for concurrent use.
type Sink interface {
	Append(rec action.OutputRecord)
}

// Options configures a Capture.
type Options struct {
	ExecutionID string
	RunnerRef   string
	// Sink receives live records. Nil disables persistence.
	Sink   Sink
	Logger *zap.Logger
}

// Output is the result of a finished capture.
type Output struct {
	Stdout string
	Stderr string
	// Lines counts the lines read per stream, including partial lines.
	Lines map[action.Stream]int
	// Persisted counts the records emitted per stream.
	Persisted map[action.Stream]int
}

// Capture owns the two reader goroutines of one execution.
type Capture struct {
	opts    Options
	stdout  io.ReadCloser
	stderr  io.ReadCloser
	streams [2]streamState

	done     chan struct{}
	err      error
	stopOnce sync.Once
}

type streamState struct {
	kind      action.Stream
	buf       strings.Builder
	lines     int
	persisted int
}

// Start begins draining stdout and stderr.
func Start(stdout, stderr io.ReadCloser, opts Options) *Capture {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	c := &Capture{
		opts:   opts,
		stdout: stdout,
		stderr: stderr,
		done:   make(chan struct{}),
	}
	c.streams[0].kind = action.Stdout
	c.streams[1].kind = action.Stderr

	var g errgroup.Group
	g.Go(func() error { return c.drain(stdout, &c.streams[0]) })
	g.Go(func() error { return c.drain(stderr, &c.streams[1]) })
	go func() {
		c.err = g.Wait()
		close(c.done)
	}()
	return c
}

// Done is closed once both streams have been drained.
func (c *Capture) Done() <-chan struct{} {
	return c.done
}

// Stop force-closes both streams. Readers flush what they hold and return.
func (c *Capture) Stop() {
	c.stopOnce.Do(func() {
		_ = c.stdout.Close()
		_ = c.stderr.Close()
	})
}

// Wait blocks until both readers have returned and reports the captured
// output.
func (c *Capture) Wait() (Output, error) {
	<-c.done
	out := Output{
		Stdout:    c.streams[0].buf.String(),
		Stderr:    c.streams[1].buf.String(),
		Lines:     make(map[action.Stream]int, 2),
		Persisted: make(map[action.Stream]int, 2),
	}
	for i := range c.streams {
		s := &c.streams[i]
		out.Lines[s.kind] = s.lines
		out.Persisted[s.kind] = s.persisted
	}
	return out, c.err
}

// drain reads r line by line until EOF or Stop. The first result line on
// stdout is buffered but never emitted to the sink.
func (c *Capture) drain(r io.Reader, s *streamState) error {
	br := bufio.NewReader(r)
	envelopeSeen := s.kind != action.Stdout
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			s.buf.WriteString(line)
			s.lines++
			emit := c.opts.Sink != nil
			if !envelopeSeen && protocol.IsEnvelope(line) {
				envelopeSeen = true
				emit = false
			}
			if emit {
				c.opts.Sink.Append(action.OutputRecord{
					ExecutionID: c.opts.ExecutionID,
					Stream:      s.kind,
					Sequence:    s.persisted,
					Timestamp:   time.Now().UTC(),
					Data:        line,
					RunnerRef:   c.opts.RunnerRef,
				})
				s.persisted++
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			c.opts.Logger.Warn("reading child output",
				zap.String("execution_id", c.opts.ExecutionID),
				zap.String("stream", string(s.kind)),
				zap.Error(err))
			return err
		}
	}
}
