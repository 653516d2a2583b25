// Package report keeps the history of finished executions so they can be
// inspected after the run that produced them has returned.
package report

import (
	"errors"
	"fmt"
	"strings"

	"github.com/deixis/actionrunner/internal/action"
)

// ErrNotFound is returned when no result is stored under an id.
var ErrNotFound = errors.New("execution result not found")

// Store persists and retrieves execution results.
type Store interface {
	Save(result *action.Result) error
	Load(executionID string) (*action.Result, error)
}

func checkID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid execution id %q", id)
	}
	return nil
}
