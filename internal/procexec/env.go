// SPDX-License-Identifier: MPL-2.0

package procexec

import (
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
)

const (
	// DefaultAuthorName is the git identity used for every scripted commit.
	DefaultAuthorName = "tagprobe"
	// DefaultAuthorEmail is the git email used for every scripted commit.
	DefaultAuthorEmail = "tagprobe@example.invalid"
)

// Env is the complete environment of a child process.
type Env map[string]string

// hostPassthrough lists the only host variables a hermetic environment keeps.
var hostPassthrough = []string{"PATH", "SYSTEMROOT", "TMPDIR"}

// Hermetic returns an environment isolated from the host's git and user
// configuration. home becomes HOME; every git configuration file path points
// at a location under home that does not exist.
func Hermetic(home string) Env {
	env := Env{}
	for _, key := range hostPassthrough {
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}

	missing := filepath.Join(home, "doesn", "exist")
	env["HOME"] = home
	env["XDG_CONFIG_HOME"] = filepath.Join(home, ".config")
	env["GIT_CONFIG"] = missing
	env["GIT_CONFIG_GLOBAL"] = missing
	env["GIT_CONFIG_NOSYSTEM"] = "1"
	env["GIT_TERMINAL_PROMPT"] = "0"
	env["GIT_AUTHOR_NAME"] = DefaultAuthorName
	env["GIT_AUTHOR_EMAIL"] = DefaultAuthorEmail
	env["GIT_COMMITTER_NAME"] = DefaultAuthorName
	env["GIT_COMMITTER_EMAIL"] = DefaultAuthorEmail
	env["LC_ALL"] = "C"
	return env
}

// Clone returns an independent copy of the environment.
func (e Env) Clone() Env {
	out := make(Env, len(e))
	maps.Copy(out, e)
	return out
}

// With returns a copy of the environment with key set to value.
func (e Env) With(key, value string) Env {
	out := e.Clone()
	out[key] = value
	return out
}

// WithGitConfig returns a copy that injects a git configuration entry through
// GIT_CONFIG_COUNT, so it applies without touching any config file.
func (e Env) WithGitConfig(key, value string) Env {
	out := e.Clone()
	n := 0
	if v, ok := out["GIT_CONFIG_COUNT"]; ok {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	idx := strconv.Itoa(n)
	out["GIT_CONFIG_KEY_"+idx] = key
	out["GIT_CONFIG_VALUE_"+idx] = value
	out["GIT_CONFIG_COUNT"] = strconv.Itoa(n + 1)
	return out
}

// Environ renders the environment as sorted KEY=VALUE pairs.
func (e Env) Environ() []string {
	keys := slices.Sorted(maps.Keys(e))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+e[k])
	}
	return out
}
