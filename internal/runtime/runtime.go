// Package runtime provides the interpreter an action child is launched
// with.
package runtime

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DefaultPython is the system interpreter used when a pack has no
// virtualenv.
const DefaultPython = "python3"

// Interpreter is a ready-made runtime for one pack.
type Interpreter struct {
	// Path is the interpreter executable. Empty means the entry point is
	// executed directly.
	Path string
	// Args are passed to the interpreter before the entry point, e.g. a
	// wrapper script.
	Args []string
	// SearchPath lists module directories exposed to the child.
	SearchPath []string
}

// Command returns the executable and its arguments for entry with the
// trailing flags appended.
func (i Interpreter) Command(entry string, flags []string) (string, []string) {
	if i.Path == "" {
		return entry, append([]string(nil), flags...)
	}
	args := make([]string, 0, len(i.Args)+1+len(flags))
	args = append(args, i.Args...)
	args = append(args, entry)
	args = append(args, flags...)
	return i.Path, args
}

// Provider resolves the interpreter for a pack.
type Provider interface {
	Interpreter(pack, packDir string) (Interpreter, error)
}

// StaticProvider returns the same interpreter for every pack.
type StaticProvider struct {
	Fixed Interpreter
}

func (p StaticProvider) Interpreter(string, string) (Interpreter, error) {
	return p.Fixed, nil
}

// VirtualenvProvider uses a per-pack virtualenv under Base when one exists
// and falls back to the system interpreter otherwise.
type VirtualenvProvider struct {
	Base    string
	Python  string
	Wrapper string
}

func (p VirtualenvProvider) Interpreter(pack, packDir string) (Interpreter, error) {
	if pack == "" {
		return Interpreter{}, fmt.Errorf("empty pack name")
	}
	in := Interpreter{Path: p.Python}
	if in.Path == "" {
		in.Path = DefaultPython
	}
	if p.Wrapper != "" {
		in.Args = []string{p.Wrapper}
	}
	if packDir != "" {
		in.SearchPath = append(in.SearchPath, filepath.Join(packDir, "actions", "lib"))
	}

	if p.Base == "" {
		return in, nil
	}
	venv := filepath.Join(p.Base, pack)
	python := filepath.Join(venv, "bin", "python")
	if _, err := os.Stat(python); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return in, nil
		}
		return Interpreter{}, fmt.Errorf("checking virtualenv for pack %s: %w", pack, err)
	}
	in.Path = python
	sites, err := filepath.Glob(filepath.Join(venv, "lib", "python*", "site-packages"))
	if err != nil {
		return Interpreter{}, fmt.Errorf("locating site-packages: %w", err)
	}
	sort.Strings(sites)
	in.SearchPath = append(in.SearchPath, sites...)
	return in, nil
}
