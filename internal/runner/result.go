package runner

import (
	"time"

	"github.com/deixis/actionrunner/internal/action"
)

// Result holds the outcome of one supervised child process.
type Result struct {
	RunID     string                // execution identifier
	ExitCode  int                   // exit code, or -signal when killed by a signal
	TimedOut  bool                  // true if the timeout watcher killed the process group
	Stdout    string                // captured stdout, result line included
	Stderr    string                // captured stderr
	Lines     map[action.Stream]int // lines read per stream
	Persisted map[action.Stream]int // records emitted per stream
	StartedAt time.Time
	Duration  time.Duration
}
