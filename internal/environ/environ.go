// Package environ builds the environment of an action's child process.
package environ

import (
	"os"
	"sort"
	"strings"
)

// Prefix is the name prefix of the variables the runner injects into every
// child. User overrides cannot set variables with this prefix.
const Prefix = "ACTIONRUNNER_"

// Injected variable names.
const (
	ExecutionIDVar = Prefix + "EXECUTION_ID"
	AuthTokenVar   = Prefix + "AUTH_TOKEN"
	UserVar        = Prefix + "USER"
	PackVar        = Prefix + "PACK"
	LogLevelVar    = Prefix + "LOG_LEVEL"
	APIURLVar      = Prefix + "API_URL"
)

// SearchPathVar is the interpreter module search path variable.
const SearchPathVar = "PYTHONPATH"

// DefaultBlacklist holds the variables users may never override.
var DefaultBlacklist = []string{SearchPathVar}

// Context is the execution context injected into the child.
type Context struct {
	ExecutionID string
	AuthToken   string
	User        string
	Pack        string
	LogLevel    string
	APIURL      string
}

// Builder constructs child environments. The zero value uses
// DefaultBlacklist.
type Builder struct {
	// Blacklist lists variables dropped from the parent environment and
	// from user overrides.
	Blacklist []string
	// SearchPath is the sandbox module search path. When set it is
	// assigned to SearchPathVar.
	SearchPath []string
}

// Build returns the child environment as a map. It starts from a filtered
// copy of parent, applies overrides except blacklisted or prefixed keys,
// fixes the sandbox search path and finally injects ctx.
func (b *Builder) Build(parent []string, overrides map[string]string, ctx Context) map[string]string {
	blocked := b.blocked()
	env := make(map[string]string, len(parent)+len(overrides)+6)

	for _, kv := range parent {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" || blocked[k] || strings.HasPrefix(k, Prefix) {
			continue
		}
		env[k] = v
	}

	for k, v := range overrides {
		if blocked[k] || strings.HasPrefix(k, Prefix) {
			continue
		}
		env[k] = v
	}

	if len(b.SearchPath) > 0 {
		env[SearchPathVar] = strings.Join(b.SearchPath, string(os.PathListSeparator))
	}

	set := func(k, v string) {
		if v != "" {
			env[k] = v
		}
	}
	set(ExecutionIDVar, ctx.ExecutionID)
	set(AuthTokenVar, ctx.AuthToken)
	set(UserVar, ctx.User)
	set(PackVar, ctx.Pack)
	set(LogLevelVar, ctx.LogLevel)
	set(APIURLVar, ctx.APIURL)

	return env
}

func (b *Builder) blocked() map[string]bool {
	list := b.Blacklist
	if list == nil {
		list = DefaultBlacklist
	}
	m := make(map[string]bool, len(list))
	for _, k := range list {
		m[k] = true
	}
	return m
}

// Environ flattens env into the KEY=VALUE form used by os/exec, sorted by
// key.
func Environ(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
