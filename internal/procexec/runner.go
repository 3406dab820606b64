// SPDX-License-Identifier: MPL-2.0

package procexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/invowk/tagprobe/pkg/types"

	"github.com/charmbracelet/log"
	"mvdan.cc/sh/v3/syntax"
)

type (
	// Command describes one subprocess invocation.
	Command struct {
		Program string
		Args    []string
		// Dir is the working directory. Empty means the caller's.
		Dir string
		// Env is the child's entire environment.
		Env Env
	}

	// Result is the outcome of a process that was spawned.
	Result struct {
		ExitCode types.ExitCode
		Stdout   string
		Stderr   string
	}

	// Runner runs commands to completion. Run returns an error only when the
	// process could not be started; a non-zero exit is reported through
	// Result.ExitCode.
	Runner interface {
		Run(ctx context.Context, cmd Command) (*Result, error)
	}

	// ExecRunner runs commands with os/exec.
	ExecRunner struct {
		logger *log.Logger
	}
)

// NewExecRunner creates an ExecRunner. A nil logger discards output.
func NewExecRunner(logger *log.Logger) *ExecRunner {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &ExecRunner{logger: logger}
}

// Run starts the command, waits for it and captures its output.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	c := exec.CommandContext(ctx, cmd.Program, cmd.Args...)
	c.Dir = cmd.Dir
	// A non-nil empty slice keeps os/exec from falling back to os.Environ.
	c.Env = append([]string{}, cmd.Env.Environ()...)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	r.logger.Debug("exec", "cmd", FormatCommand(cmd), "dir", cmd.Dir)
	err := c.Run()
	result := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		result.ExitCode = types.ExitCode(exitErr.ExitCode())
		r.logger.Debug("exit", "cmd", cmd.Program, "code", result.ExitCode)
		return result, nil
	}

	result.ExitCode = types.ExitCodeUnknown
	return result, fmt.Errorf("run %s: %w", cmd.Program, err)
}

// Output returns stdout and stderr joined for diagnostics.
func (r *Result) Output() string {
	if r == nil {
		return ""
	}
	switch {
	case r.Stderr == "":
		return r.Stdout
	case r.Stdout == "":
		return r.Stderr
	default:
		return strings.TrimRight(r.Stdout, "\n") + "\n" + r.Stderr
	}
}

// FormatCommand renders cmd as a shell-quoted command line.
func FormatCommand(cmd Command) string {
	words := append([]string{cmd.Program}, cmd.Args...)
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		q, err := syntax.Quote(w, syntax.LangBash)
		if err != nil {
			q = fmt.Sprintf("%q", w)
		}
		quoted = append(quoted, q)
	}
	return strings.Join(quoted, " ")
}
