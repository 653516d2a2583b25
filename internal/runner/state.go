package runner

// State is the lifecycle state of a supervised child.
type State int

const (
	NotStarted State = iota
	Running
	Exited
	TimedOut
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Exited:
		return "exited"
	case TimedOut:
		return "timed_out"
	}
	return "unknown"
}
