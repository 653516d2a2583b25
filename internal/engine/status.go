package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/deixis/actionrunner/internal/action"
	"github.com/deixis/actionrunner/internal/protocol"
)

// Outcome is what the supervisor observed of a finished child.
type Outcome struct {
	ExitCode  int
	TimedOut  bool
	Timeout   time.Duration
	Stdout    string
	Stderr    string
	RawResult bool
}

// Classification is the final status, result and output of an execution.
type Classification struct {
	Status   action.Status
	Result   any
	ExitCode int
	Stdout   string
	Stderr   string
	Error    string
}

// Classify derives the final status of an execution. A timeout wins over
// everything else; an explicit status in the result line wins over the
// exit code. Without a result line the result is "None" unless raw result
// mode hands back the whole of stdout.
func Classify(o Outcome) Classification {
	c := Classification{
		ExitCode: o.ExitCode,
		Stdout:   o.Stdout,
		Stderr:   o.Stderr,
		Result:   action.NoneResult,
	}

	var env *protocol.Envelope
	if !o.RawResult {
		env, c.Stdout = protocol.Extract(o.Stdout)
	}

	switch {
	case o.TimedOut:
		c.Status = action.StatusTimedOut
		c.ExitCode = action.TimeoutExitCode
		c.Error = action.TimeoutMessage(o.Timeout)
		return c
	case o.RawResult:
		c.Result = strings.TrimSpace(o.Stdout)
		c.Status = exitStatus(o.ExitCode)
	case env != nil:
		c.Result = representable(env.Result)
		if env.Status != nil {
			c.Status = action.StatusFailed
			if *env.Status {
				c.Status = action.StatusSucceeded
			}
		} else {
			c.Status = exitStatus(o.ExitCode)
		}
	default:
		c.Status = exitStatus(o.ExitCode)
	}
	return c
}

func exitStatus(code int) action.Status {
	if code == 0 {
		return action.StatusSucceeded
	}
	return action.StatusFailed
}

// representable returns v if it serializes, else its %v text.
func representable(v any) any {
	if _, err := sonic.Marshal(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return v
}
