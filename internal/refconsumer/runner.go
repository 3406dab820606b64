// SPDX-License-Identifier: MPL-2.0

package refconsumer

import (
	"bytes"
	"context"
	"io"

	"github.com/invowk/tagprobe/internal/procexec"
	"github.com/invowk/tagprobe/pkg/types"

	"github.com/charmbracelet/log"
)

// DefaultProgram is the program name the Runner serves by default.
const DefaultProgram = "tagprobe-refconsumer"

// Runner serves Program in-process with a Consumer and hands every other
// command to Next.
type Runner struct {
	Next    procexec.Runner
	Program string
	Mode    Mode
	Logger  *log.Logger
}

var _ procexec.Runner = (*Runner)(nil)

// Run implements procexec.Runner. Consumer failures become exit status 1
// with the error on stderr.
func (r *Runner) Run(ctx context.Context, cmd procexec.Command) (*procexec.Result, error) {
	program := r.Program
	if program == "" {
		program = DefaultProgram
	}
	if cmd.Program != program {
		return r.Next.Run(ctx, cmd)
	}

	logger := r.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	var stdout, stderr bytes.Buffer
	c := NewCommand(r.Mode, cmd.Dir, logger.WithPrefix("refconsumer"))
	c.SetArgs(cmd.Args)
	c.SetOut(&stdout)
	c.SetErr(&stderr)
	c.SetIn(bytes.NewReader(nil))

	res := &procexec.Result{}
	if err := c.ExecuteContext(ctx); err != nil {
		stderr.WriteString("error " + err.Error() + "\n")
		res.ExitCode = types.ExitCode(1)
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	return res, nil
}
