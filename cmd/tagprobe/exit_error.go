// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/invowk/tagprobe/pkg/types"
)

const (
	// ExitScenarioFailed is returned when a scenario run fails.
	ExitScenarioFailed types.ExitCode = 1
	// ExitCleanupFailed is returned when every step passed but cleanup did not.
	ExitCleanupFailed types.ExitCode = 3
)

// ExitError signals a non-zero exit code without calling os.Exit in RunE.
type ExitError struct {
	Code types.ExitCode
	Err  error
}

// Error returns the wrapped message, or the exit status.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error.
func (e *ExitError) Unwrap() error { return e.Err }
