package action

import (
	"errors"
	"fmt"
)

var (
	// ErrEntryPointMissing is returned when an action has no entry point
	// attribute.
	ErrEntryPointMissing = errors.New("missing entry_point attribute")
	// ErrPackUnresolvable is returned when an action's pack cannot be found.
	ErrPackUnresolvable = errors.New("pack cannot be resolved")
	// ErrDatastoreUnavailable is returned when the config datastore cannot
	// be reached.
	ErrDatastoreUnavailable = errors.New("datastore unavailable")
)

// PreflightError is returned before any process exists: the entry point is
// blank, missing or unreadable, the pack is unknown, or a required
// parameter is absent.
type PreflightError struct {
	Action string
	Err    error
}

func (e *PreflightError) Error() string {
	return fmt.Sprintf("action %s: %v", e.Action, e.Err)
}

func (e *PreflightError) Unwrap() error { return e.Err }

// ConfigResolutionError aborts an execution whose pack configuration could
// not be resolved.
type ConfigResolutionError struct {
	Pack string
	Key  string
	Err  error
}

func (e *ConfigResolutionError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("resolving config %s.%s: %v", e.Pack, e.Key, e.Err)
	}
	return fmt.Sprintf("resolving config for pack %s: %v", e.Pack, e.Err)
}

func (e *ConfigResolutionError) Unwrap() error { return e.Err }

// SpawnError reports that the OS failed to create the child process.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("starting %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
