// SPDX-License-Identifier: MPL-2.0

package failure

import (
	"errors"
	"fmt"
	"strings"

	"github.com/invowk/tagprobe/pkg/types"
)

const (
	// Allocation covers directory and port setup.
	Allocation Kind = iota + 1
	// ServerStart covers bind and listen errors of the git server.
	ServerStart
	// Clone covers cloning the scenario repository.
	Clone
	// Mutation covers the write/commit/tag/push chain of a round.
	Mutation
	// Install covers consumer subprocess failures.
	Install
	// Cleanup covers best-effort teardown.
	Cleanup
)

var (
	// ErrAllocation is the sentinel for Allocation failures.
	ErrAllocation = errors.New("allocation failure")
	// ErrServerStart is the sentinel for ServerStart failures.
	ErrServerStart = errors.New("server start failure")
	// ErrClone is the sentinel for Clone failures.
	ErrClone = errors.New("clone failure")
	// ErrMutation is the sentinel for Mutation failures.
	ErrMutation = errors.New("mutation failure")
	// ErrInstall is the sentinel for Install failures.
	ErrInstall = errors.New("install failure")
	// ErrCleanup is the sentinel for Cleanup failures.
	ErrCleanup = errors.New("cleanup failure")
)

type (
	// Kind classifies a step failure.
	Kind int

	// StepError is a failure of one scenario step.
	StepError struct {
		Kind Kind
		// Step names the step, e.g. "push tag" or "add v2.0.0".
		Step string
		// Command is the rendered command line, when a subprocess was involved.
		Command string
		// ExitCode is the subprocess exit status, or types.ExitCodeUnknown.
		ExitCode types.ExitCode
		// Output is the captured stdout and stderr of the subprocess.
		Output string
		Cause  error
	}

	// ScenarioError pairs the failure that aborted a scenario with the
	// failures hit while cleaning up after it.
	ScenarioError struct {
		Primary error
		Cleanup []error
	}
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case Allocation:
		return "AllocationFailure"
	case ServerStart:
		return "ServerStartFailure"
	case Clone:
		return "CloneFailure"
	case Mutation:
		return "MutationFailure"
	case Install:
		return "InstallFailure"
	case Cleanup:
		return "CleanupFailure"
	default:
		return "UnknownFailure"
	}
}

// Sentinel returns the sentinel error for the kind, or nil for unknown kinds.
func (k Kind) Sentinel() error {
	switch k {
	case Allocation:
		return ErrAllocation
	case ServerStart:
		return ErrServerStart
	case Clone:
		return ErrClone
	case Mutation:
		return ErrMutation
	case Install:
		return ErrInstall
	case Cleanup:
		return ErrCleanup
	default:
		return nil
	}
}

// New returns a StepError without subprocess details.
func New(kind Kind, step string, cause error) *StepError {
	return &StepError{Kind: kind, Step: step, ExitCode: types.ExitCodeUnknown, Cause: cause}
}

// Error implements the error interface.
func (e *StepError) Error() string {
	var msg strings.Builder
	fmt.Fprintf(&msg, "%s: %s", e.Kind, e.Step)
	if e.Command != "" {
		fmt.Fprintf(&msg, " (%s)", e.Command)
	}
	if e.ExitCode != types.ExitCodeUnknown {
		fmt.Fprintf(&msg, ": exit status %d", e.ExitCode)
	}
	if e.Cause != nil {
		msg.WriteString(": ")
		msg.WriteString(e.Cause.Error())
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg.WriteString("\n")
		msg.WriteString(out)
	}
	return msg.String()
}

// Unwrap exposes the kind sentinel and the cause.
func (e *StepError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.Sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// KindOf returns the kind of the first StepError in err's chain, or 0.
func KindOf(err error) Kind {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

// Combine merges a primary failure with cleanup failures. It returns nil when
// nothing failed, the bare primary when cleanup was clean, a cleanup failure
// when only cleanup failed, and a *ScenarioError otherwise.
func Combine(primary error, cleanup []error) error {
	cleanup = compact(cleanup)
	switch {
	case primary == nil && len(cleanup) == 0:
		return nil
	case len(cleanup) == 0:
		return primary
	case primary == nil && len(cleanup) == 1:
		return cleanup[0]
	default:
		return &ScenarioError{Primary: primary, Cleanup: cleanup}
	}
}

func compact(errs []error) []error {
	out := errs[:0:0]
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

// Error implements the error interface. The primary failure comes first.
func (e *ScenarioError) Error() string {
	var msg strings.Builder
	if e.Primary != nil {
		msg.WriteString(e.Primary.Error())
	} else {
		msg.WriteString("cleanup failed")
	}
	for _, err := range e.Cleanup {
		msg.WriteString("\nalso during cleanup: ")
		msg.WriteString(err.Error())
	}
	return msg.String()
}

// Unwrap exposes the primary failure followed by every cleanup failure.
func (e *ScenarioError) Unwrap() []error {
	errs := make([]error, 0, len(e.Cleanup)+1)
	if e.Primary != nil {
		errs = append(errs, e.Primary)
	}
	return append(errs, e.Cleanup...)
}
