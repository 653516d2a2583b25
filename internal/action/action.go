// Package action defines the data model shared by the execution core:
// action descriptors, execution requests and results, and output records.
package action

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Status is the terminal status of an execution.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// NoneResult is the literal result reported when an execution produced no
// decodable result.
const NoneResult = "None"

// TimeoutExitCode is the exit code reported for an execution that was
// killed after exceeding its timeout.
const TimeoutExitCode = -9

// DefaultTimeout is used when neither the request nor the runner
// configuration sets one.
const DefaultTimeout = 600 * time.Second

// Stream identifies one of the child's output streams.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Param declares one input parameter of an action.
type Param struct {
	Type     string `yaml:"type" json:"type,omitempty"`
	Required bool   `yaml:"required" json:"required,omitempty"`
	Default  any    `yaml:"default" json:"default,omitempty"`
	Secret   bool   `yaml:"secret" json:"secret,omitempty"`
}

// Descriptor describes a registered action. It is read-only to the core.
type Descriptor struct {
	Name       string           `yaml:"name" json:"name"`
	Pack       string           `yaml:"pack" json:"pack"`
	EntryPoint string           `yaml:"entry_point" json:"entry_point"` // relative to the pack directory
	RunnerType string           `yaml:"runner_type" json:"runner_type"`
	Parameters map[string]Param `yaml:"parameters" json:"parameters,omitempty"`

	// PackDir is the absolute directory of the owning pack.
	PackDir string `yaml:"-" json:"pack_dir"`
	// PackConfig is the pack's static configuration.
	PackConfig map[string]any `yaml:"-" json:"-"`
}

// Ref returns the "pack.name" reference of the action.
func (d *Descriptor) Ref() string {
	return d.Pack + "." + d.Name
}

// EntryPath returns the entry point resolved against the pack directory.
// An absolute entry point is returned unchanged.
func (d *Descriptor) EntryPath() string {
	if d.EntryPoint == "" || filepath.IsAbs(d.EntryPoint) {
		return d.EntryPoint
	}
	return filepath.Join(d.PackDir, d.EntryPoint)
}

// RunnerParams are the per-execution runner tunables.
type RunnerParams struct {
	// Timeout in seconds. Nil means the configured default; zero times out
	// immediately.
	Timeout   *int              `json:"timeout,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	LogLevel  string            `json:"log_level,omitempty"`
	RawResult bool              `json:"raw_result,omitempty"`
}

// TimeoutOr returns the requested timeout or def when none is set.
func (p RunnerParams) TimeoutOr(def time.Duration) time.Duration {
	if p.Timeout == nil {
		return def
	}
	if *p.Timeout <= 0 {
		return 0
	}
	return time.Duration(*p.Timeout) * time.Second
}

// Request is a single invocation of an action. It is immutable once
// handed to the engine.
type Request struct {
	ExecutionID string
	Action      *Descriptor
	Parameters  map[string]any
	Runner      RunnerParams
	AuthToken   string
	User        string
}

// Result is the final outcome of an execution.
type Result struct {
	ExecutionID string        `json:"execution_id"`
	Action      string        `json:"action"`
	Status      Status        `json:"status"`
	Result      any           `json:"result"`
	ExitCode    int           `json:"exit_code"`
	Stdout      string        `json:"stdout"`
	Stderr      string        `json:"stderr"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// OutputRecord is one persisted line of child output.
type OutputRecord struct {
	ExecutionID string    `json:"execution_id"`
	Stream      Stream    `json:"stream"`
	Sequence    int       `json:"sequence"`
	Timestamp   time.Time `json:"timestamp"`
	Data        string    `json:"data"`
	RunnerRef   string    `json:"runner_ref"`
}

// TimeoutMessage is the error reported for a timed out execution.
func TimeoutMessage(timeout time.Duration) string {
	return fmt.Sprintf("Action failed to complete in %d seconds", int(timeout/time.Second))
}

// SplitRef splits "pack.action" into its two parts.
func SplitRef(ref string) (pack, name string, err error) {
	pack, name, ok := strings.Cut(ref, ".")
	if !ok || pack == "" || name == "" {
		return "", "", fmt.Errorf("invalid action reference %q, want <pack>.<action>", ref)
	}
	return pack, name, nil
}
